package dynamic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grant0417/protodynamic/desc"
)

// JSONError describes a failure to produce or interpret the canonical
// JSON form of a message. Path names the member where the failure
// occurred, when known.
type JSONError struct {
	Path string
	Err  error
}

func (e *JSONError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("dynamic: json: %v", e.Err)
	}
	return fmt.Sprintf("dynamic: json: %s: %v", e.Path, e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

func jsonErrf(path, format string, args ...interface{}) error {
	return &JSONError{Path: path, Err: fmt.Errorf(format, args...)}
}

// MarshalJSONOptions controls MarshalJSONWithOptions.
type MarshalJSONOptions struct {
	// EmitDefaults emits fields without explicit presence even when
	// they hold their default value. Fields with explicit presence are
	// still emitted only when set.
	EmitDefaults bool
	// Indent, when non-empty, pretty-prints with one copy of the string
	// per nesting level.
	Indent string
}

// MarshalJSON renders the message in the canonical JSON mapping,
// compact, omitting defaulted fields.
func (m *Message) MarshalJSON() ([]byte, error) {
	return m.MarshalJSONWithOptions(MarshalJSONOptions{})
}

// MarshalJSONIndent is MarshalJSON with two-space indentation.
func (m *Message) MarshalJSONIndent() ([]byte, error) {
	return m.MarshalJSONWithOptions(MarshalJSONOptions{Indent: "  "})
}

// MarshalJSONWithOptions renders the message in the canonical JSON
// mapping. Unknown fields are not representable in JSON and are
// silently dropped.
func (m *Message) MarshalJSONWithOptions(opts MarshalJSONOptions) ([]byte, error) {
	b := &indentBuffer{indent: opts.Indent}
	if err := m.writeJSON(b, opts, m.md.FullName()); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (m *Message) writeJSON(b *indentBuffer, opts MarshalJSONOptions, path string) error {
	if wkt := m.md.WellKnownType(); wkt != desc.WellKnownNone {
		return m.writeJSONWellKnown(b, wkt, opts, path)
	}
	return m.writeJSONObject(b, opts, path)
}

// jsonMember is one object member scheduled for output: a regular field
// under its JSON name, or an extension under its bracketed
// fully-qualified name.
type jsonMember struct {
	name string
	fd   *desc.FieldDescriptor
}

func (m *Message) jsonMembers(opts MarshalJSONOptions) []jsonMember {
	var members []jsonMember
	for _, fd := range m.md.Fields() {
		if m.HasField(fd) || (opts.EmitDefaults && !fd.SupportsPresence()) {
			members = append(members, jsonMember{name: fd.JSONName(), fd: fd})
		}
	}
	for _, fd := range m.ext {
		if m.HasField(fd) {
			members = append(members, jsonMember{name: "[" + fd.FullName() + "]", fd: fd})
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].fd.Number() < members[j].fd.Number()
	})
	return members
}

func (m *Message) writeJSONObject(b *indentBuffer, opts MarshalJSONOptions, path string) error {
	return writeJSONMembers(b, "", m.jsonMembers(opts), m, opts, path)
}

// writeJSONMembers writes an object with an optional leading @type
// member (the Any case) followed by the message's fields.
func writeJSONMembers(b *indentBuffer, typeURL string, members []jsonMember, m *Message, opts MarshalJSONOptions, path string) error {
	if typeURL == "" && len(members) == 0 {
		_, err := b.WriteString("{}")
		return err
	}
	if err := b.WriteByte('{'); err != nil {
		return err
	}
	if err := b.start(); err != nil {
		return err
	}
	first := true
	if typeURL != "" {
		first = false
		if err := writeJSONString(b, "@type"); err != nil {
			return err
		}
		if err := b.sep(); err != nil {
			return err
		}
		if err := writeJSONString(b, typeURL); err != nil {
			return err
		}
	}
	for _, member := range members {
		if err := b.maybeNext(&first); err != nil {
			return err
		}
		if err := writeJSONString(b, member.name); err != nil {
			return err
		}
		if err := b.sep(); err != nil {
			return err
		}
		v, err := m.TryGetField(member.fd)
		if err != nil {
			return err
		}
		if err := writeJSONField(b, member.fd, v, opts, merge(path, member.fd.Name())); err != nil {
			return err
		}
	}
	if err := b.end(); err != nil {
		return err
	}
	return b.WriteByte('}')
}

func writeJSONField(b *indentBuffer, fd *desc.FieldDescriptor, v Value, opts MarshalJSONOptions, path string) error {
	switch {
	case fd.IsMap():
		entries := v.Map().sortedEntries()
		if len(entries) == 0 {
			_, err := b.WriteString("{}")
			return err
		}
		if err := b.WriteByte('{'); err != nil {
			return err
		}
		if err := b.start(); err != nil {
			return err
		}
		first := true
		for _, e := range entries {
			if err := b.maybeNext(&first); err != nil {
				return err
			}
			if err := writeJSONString(b, mapKeyString(e.Key)); err != nil {
				return err
			}
			if err := b.sep(); err != nil {
				return err
			}
			if err := writeJSONScalar(b, fd.MapValueField(), e.Value, opts, path); err != nil {
				return err
			}
		}
		if err := b.end(); err != nil {
			return err
		}
		return b.WriteByte('}')
	case fd.IsRepeated():
		elems := v.List()
		if len(elems) == 0 {
			_, err := b.WriteString("[]")
			return err
		}
		if err := b.WriteByte('['); err != nil {
			return err
		}
		if err := b.start(); err != nil {
			return err
		}
		first := true
		for _, e := range elems {
			if err := b.maybeNext(&first); err != nil {
				return err
			}
			if err := writeJSONScalar(b, fd, e, opts, path); err != nil {
				return err
			}
		}
		if err := b.end(); err != nil {
			return err
		}
		return b.WriteByte(']')
	default:
		return writeJSONScalar(b, fd, v, opts, path)
	}
}

func writeJSONScalar(b *indentBuffer, fd *desc.FieldDescriptor, v Value, opts MarshalJSONOptions, path string) error {
	switch v.Kind() {
	case BoolKind:
		_, err := b.WriteString(strconv.FormatBool(v.Bool()))
		return err
	case Int32Kind:
		_, err := b.WriteString(strconv.FormatInt(int64(v.Int32()), 10))
		return err
	case Uint32Kind:
		_, err := b.WriteString(strconv.FormatUint(uint64(v.Uint32()), 10))
		return err
	case Int64Kind:
		// 64-bit values exceed JSON's interoperable number range
		return writeJSONString(b, strconv.FormatInt(v.Int64(), 10))
	case Uint64Kind:
		return writeJSONString(b, strconv.FormatUint(v.Uint64(), 10))
	case Float32Kind:
		return writeJSONFloat(b, float64(v.Float32()), 32)
	case Float64Kind:
		return writeJSONFloat(b, v.Float64(), 64)
	case StringKind:
		return writeJSONString(b, v.Str())
	case BytesKind:
		return writeJSONString(b, base64.StdEncoding.EncodeToString(v.Bytes()))
	case EnumKind:
		if isNullValueEnum(fd) {
			_, err := b.WriteString("null")
			return err
		}
		if vd := fd.EnumType().FindValueByNumber(v.Enum()); vd != nil {
			return writeJSONString(b, vd.Name())
		}
		_, err := b.WriteString(strconv.FormatInt(int64(v.Enum()), 10))
		return err
	case MessageKind:
		return v.Message().writeJSON(b, opts, path)
	default:
		return jsonErrf(path, "cannot render %v value", v.Kind())
	}
}

func writeJSONFloat(b *indentBuffer, f float64, bits int) error {
	switch {
	case math.IsNaN(f):
		return writeJSONString(b, "NaN")
	case math.IsInf(f, 1):
		return writeJSONString(b, "Infinity")
	case math.IsInf(f, -1):
		return writeJSONString(b, "-Infinity")
	}
	_, err := b.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
	return err
}

func writeJSONString(b *indentBuffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = b.Write(data)
	return err
}

// mapKeyString renders a map key in its JSON object-member form.
func mapKeyString(key Value) string {
	switch key.Kind() {
	case BoolKind:
		return strconv.FormatBool(key.Bool())
	case Int32Kind:
		return strconv.FormatInt(int64(key.Int32()), 10)
	case Int64Kind:
		return strconv.FormatInt(key.Int64(), 10)
	case Uint32Kind:
		return strconv.FormatUint(uint64(key.Uint32()), 10)
	case Uint64Kind:
		return strconv.FormatUint(key.Uint64(), 10)
	default:
		return key.Str()
	}
}

func isNullValueEnum(fd *desc.FieldDescriptor) bool {
	return fd.EnumType() != nil && fd.EnumType().FullName() == "google.protobuf.NullValue"
}

func (m *Message) writeJSONWellKnown(b *indentBuffer, wkt desc.WellKnownType, opts MarshalJSONOptions, path string) error {
	field := func(n int32) *desc.FieldDescriptor { return m.md.FindFieldByNumber(n) }
	switch wkt {
	case desc.WellKnownWrapper:
		fd := field(1)
		v, err := m.TryGetField(fd)
		if err != nil {
			return err
		}
		return writeJSONScalar(b, fd, v, opts, path)

	case desc.WellKnownDuration:
		secs := m.GetField(field(1)).Int64()
		nanos := m.GetField(field(2)).Int32()
		text, err := formatDuration(secs, nanos, path)
		if err != nil {
			return err
		}
		return writeJSONString(b, text)

	case desc.WellKnownTimestamp:
		secs := m.GetField(field(1)).Int64()
		nanos := m.GetField(field(2)).Int32()
		text, err := formatTimestamp(secs, nanos, path)
		if err != nil {
			return err
		}
		return writeJSONString(b, text)

	case desc.WellKnownStruct:
		return writeJSONField(b, field(1), m.GetField(field(1)), opts, path)

	case desc.WellKnownListValue:
		return writeJSONField(b, field(1), m.GetField(field(1)), opts, path)

	case desc.WellKnownValue:
		var set *desc.FieldDescriptor
		for _, od := range m.md.Oneofs() {
			if fd := m.WhichOneof(od); fd != nil {
				set = fd
				break
			}
		}
		if set == nil || set.Number() == 1 {
			// null_value, or nothing set
			_, err := b.WriteString("null")
			return err
		}
		v := m.GetField(set)
		if set.Number() == 2 {
			f := v.Float64()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return jsonErrf(path, "google.protobuf.Value cannot hold a non-finite number")
			}
		}
		return writeJSONScalar(b, set, v, opts, path)

	case desc.WellKnownEmpty:
		_, err := b.WriteString("{}")
		return err

	case desc.WellKnownFieldMask:
		paths := m.GetField(field(1)).List()
		parts := make([]string, len(paths))
		for i, p := range paths {
			camel, err := fieldMaskPathToCamel(p.Str(), path)
			if err != nil {
				return err
			}
			parts[i] = camel
		}
		return writeJSONString(b, strings.Join(parts, ","))

	case desc.WellKnownAny:
		return m.writeJSONAny(b, opts, path)

	default:
		return m.writeJSONObject(b, opts, path)
	}
}

func (m *Message) writeJSONAny(b *indentBuffer, opts MarshalJSONOptions, path string) error {
	typeURL := m.GetField(m.md.FindFieldByNumber(1)).Str()
	payload := m.GetField(m.md.FindFieldByNumber(2)).Bytes()
	if typeURL == "" {
		_, err := b.WriteString("{}")
		return err
	}
	name := typeURL
	if i := strings.LastIndexByte(typeURL, '/'); i >= 0 {
		name = typeURL[i+1:]
	}
	target := m.md.Pool().FindMessage(name)
	if target == nil {
		return jsonErrf(path, "cannot resolve type %q", typeURL)
	}
	inner := NewMessage(target)
	if err := inner.Unmarshal(payload); err != nil {
		return &JSONError{Path: path, Err: err}
	}
	if target.WellKnownType() != desc.WellKnownNone {
		// types with special JSON forms nest under a "value" member
		if err := b.WriteByte('{'); err != nil {
			return err
		}
		if err := b.start(); err != nil {
			return err
		}
		if err := writeJSONString(b, "@type"); err != nil {
			return err
		}
		if err := b.sep(); err != nil {
			return err
		}
		if err := writeJSONString(b, typeURL); err != nil {
			return err
		}
		if err := b.next(); err != nil {
			return err
		}
		if err := writeJSONString(b, "value"); err != nil {
			return err
		}
		if err := b.sep(); err != nil {
			return err
		}
		if err := inner.writeJSON(b, opts, path); err != nil {
			return err
		}
		if err := b.end(); err != nil {
			return err
		}
		return b.WriteByte('}')
	}
	return writeJSONMembers(b, typeURL, inner.jsonMembers(opts), inner, opts, path)
}

// formatDuration renders seconds and nanos as the canonical "<n>s"
// literal: fractional digits in groups of three, trailing groups of
// zeros trimmed.
func formatDuration(secs int64, nanos int32, path string) (string, error) {
	const maxDurationSeconds = 315576000000
	if secs < -maxDurationSeconds || secs > maxDurationSeconds {
		return "", jsonErrf(path, "duration seconds %d out of range", secs)
	}
	if nanos <= -1e9 || nanos >= 1e9 {
		return "", jsonErrf(path, "duration nanos %d out of range", nanos)
	}
	if (secs > 0 && nanos < 0) || (secs < 0 && nanos > 0) {
		return "", jsonErrf(path, "duration seconds and nanos have mixed signs")
	}
	sign := ""
	if secs < 0 || nanos < 0 {
		sign = "-"
		secs = -secs
		nanos = -nanos
	}
	return sign + strconv.FormatInt(secs, 10) + fractionDigits(nanos) + "s", nil
}

// formatTimestamp renders a timestamp as RFC 3339 in UTC with the same
// fraction trimming as durations.
func formatTimestamp(secs int64, nanos int32, path string) (string, error) {
	const minTimestampSeconds = -62135596800  // 0001-01-01T00:00:00Z
	const maxTimestampSeconds = 253402300799  // 9999-12-31T23:59:59Z
	if secs < minTimestampSeconds || secs > maxTimestampSeconds {
		return "", jsonErrf(path, "timestamp seconds %d out of range", secs)
	}
	if nanos < 0 || nanos >= 1e9 {
		return "", jsonErrf(path, "timestamp nanos %d out of range", nanos)
	}
	t := time.Unix(secs, 0).UTC()
	return t.Format("2006-01-02T15:04:05") + fractionDigits(nanos) + "Z", nil
}

// fractionDigits renders nanos (0 <= nanos < 1e9) as ".<digits>" using
// 3, 6, or 9 digits, or "" for zero.
func fractionDigits(nanos int32) string {
	switch {
	case nanos == 0:
		return ""
	case nanos%1e6 == 0:
		return fmt.Sprintf(".%03d", nanos/1e6)
	case nanos%1e3 == 0:
		return fmt.Sprintf(".%06d", nanos/1e3)
	default:
		return fmt.Sprintf(".%09d", nanos)
	}
}

// fieldMaskPathToCamel converts one snake_case mask path to lowerCamel,
// rejecting paths that cannot round-trip.
func fieldMaskPathToCamel(p, path string) (string, error) {
	var out []byte
	upper := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c >= 'A' && c <= 'Z' {
			return "", jsonErrf(path, "field mask path %q is not snake_case", p)
		}
		if c == '_' {
			upper = true
			continue
		}
		if upper {
			if c < 'a' || c > 'z' {
				return "", jsonErrf(path, "field mask path %q is not snake_case", p)
			}
			c -= 'a' - 'A'
			upper = false
		}
		out = append(out, c)
	}
	if upper {
		return "", jsonErrf(path, "field mask path %q is not snake_case", p)
	}
	return string(out), nil
}

func merge(a, b string) string {
	if a == "" {
		return b
	}
	return a + "." + b
}
