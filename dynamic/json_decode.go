package dynamic

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/grant0417/protodynamic/desc"
)

// UnmarshalJSONOptions controls UnmarshalJSONWithOptions.
type UnmarshalJSONOptions struct {
	// IgnoreUnknownFields skips object members that name no field
	// instead of failing. Decoding is strict by default: an object
	// member that names no field fails the whole decode.
	IgnoreUnknownFields bool
}

// UnmarshalJSON replaces the message's contents with the decoding of
// the canonical JSON form. Unknown object members are an error; see
// UnmarshalJSONOptions to ignore them. On error the message is left
// untouched.
func (m *Message) UnmarshalJSON(data []byte) error {
	return m.UnmarshalJSONWithOptions(data, UnmarshalJSONOptions{})
}

// UnmarshalJSONWithOptions is UnmarshalJSON with explicit options.
func (m *Message) UnmarshalJSONWithOptions(data []byte, opts UnmarshalJSONOptions) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return &JSONError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return jsonErrf("", "unexpected data after top-level value")
	}
	scratch := NewMessage(m.md)
	if err := scratch.fromJSON(tree, opts, m.md.FullName()); err != nil {
		return err
	}
	m.values = scratch.values
	m.ext = scratch.ext
	m.unknown = scratch.unknown
	return nil
}

func (m *Message) fromJSON(node interface{}, opts UnmarshalJSONOptions, path string) error {
	if wkt := m.md.WellKnownType(); wkt != desc.WellKnownNone {
		return m.fromJSONWellKnown(node, wkt, opts, path)
	}
	obj, ok := node.(map[string]interface{})
	if !ok {
		return jsonErrf(path, "expected object for message %s", m.md.FullName())
	}
	return m.fromJSONMembers(obj, opts, path)
}

func (m *Message) fromJSONMembers(obj map[string]interface{}, opts UnmarshalJSONOptions, path string) error {
	for name, member := range obj {
		fd := m.memberField(name)
		if fd == nil {
			if opts.IgnoreUnknownFields {
				continue
			}
			return jsonErrf(path, "message %s has no field %q", m.md.FullName(), name)
		}
		if err := m.fromJSONMember(fd, member, opts, merge(path, fd.Name())); err != nil {
			return err
		}
	}
	return nil
}

// memberField resolves an object member name: the field's JSON name,
// its declared name, or a pool-registered extension in brackets.
func (m *Message) memberField(name string) *desc.FieldDescriptor {
	if fd := m.md.FindFieldByJSONName(name); fd != nil {
		return fd
	}
	if fd := m.md.FindFieldByName(name); fd != nil {
		return fd
	}
	if strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") {
		if fd, ok := m.md.Pool().FindSymbol(name[1 : len(name)-1]).(*desc.FieldDescriptor); ok && fd.Owner() == m.md {
			return fd
		}
	}
	return nil
}

func (m *Message) fromJSONMember(fd *desc.FieldDescriptor, node interface{}, opts UnmarshalJSONOptions, path string) error {
	if node == nil {
		// null means absent, except for types whose domain includes null
		if isNullValueEnum(fd) && !fd.IsRepeated() {
			return m.TrySetField(fd, EnumValue(0))
		}
		if fd.MessageType() != nil && fd.MessageType().WellKnownType() == desc.WellKnownValue && !fd.IsRepeated() {
			null := NewMessage(fd.MessageType())
			if err := null.fromJSON(nil, opts, path); err != nil {
				return err
			}
			return m.TrySetField(fd, MessageValue(null))
		}
		return nil
	}
	switch {
	case fd.IsMap():
		obj, ok := node.(map[string]interface{})
		if !ok {
			return jsonErrf(path, "expected object for map field")
		}
		mp := NewMap()
		for k, vn := range obj {
			key, err := parseMapKey(fd.MapKeyField(), k, path)
			if err != nil {
				return err
			}
			value, err := scalarFromJSON(fd.MapValueField(), vn, opts, path)
			if err != nil {
				return err
			}
			mp.Set(key, value)
		}
		return m.TrySetField(fd, MapValue(mp))
	case fd.IsRepeated():
		arr, ok := node.([]interface{})
		if !ok {
			return jsonErrf(path, "expected array for repeated field")
		}
		elems := make([]Value, 0, len(arr))
		for _, en := range arr {
			if en == nil && !isNullValueEnum(fd) &&
				(fd.MessageType() == nil || fd.MessageType().WellKnownType() != desc.WellKnownValue) {
				return jsonErrf(path, "null is not a valid array element")
			}
			v, err := scalarFromJSON(fd, en, opts, path)
			if err != nil {
				return err
			}
			elems = append(elems, v)
		}
		return m.TrySetField(fd, ListValue(elems))
	default:
		v, err := scalarFromJSON(fd, node, opts, path)
		if err != nil {
			return err
		}
		return m.TrySetField(fd, v)
	}
}

func scalarFromJSON(fd *desc.FieldDescriptor, node interface{}, opts UnmarshalJSONOptions, path string) (Value, error) {
	switch scalarKind(fd) {
	case BoolKind:
		b, ok := node.(bool)
		if !ok {
			return Value{}, jsonErrf(path, "expected bool")
		}
		return BoolValue(b), nil
	case Int32Kind:
		n, err := parseJSONInt(node, 32, path)
		if err != nil {
			return Value{}, err
		}
		return Int32Value(int32(n)), nil
	case Int64Kind:
		n, err := parseJSONInt(node, 64, path)
		if err != nil {
			return Value{}, err
		}
		return Int64Value(n), nil
	case Uint32Kind:
		n, err := parseJSONUint(node, 32, path)
		if err != nil {
			return Value{}, err
		}
		return Uint32Value(uint32(n)), nil
	case Uint64Kind:
		n, err := parseJSONUint(node, 64, path)
		if err != nil {
			return Value{}, err
		}
		return Uint64Value(n), nil
	case Float32Kind:
		f, err := parseJSONFloat(node, 32, path)
		if err != nil {
			return Value{}, err
		}
		return Float32Value(float32(f)), nil
	case Float64Kind:
		f, err := parseJSONFloat(node, 64, path)
		if err != nil {
			return Value{}, err
		}
		return Float64Value(f), nil
	case StringKind:
		s, ok := node.(string)
		if !ok {
			return Value{}, jsonErrf(path, "expected string")
		}
		return StringValue(s), nil
	case BytesKind:
		s, ok := node.(string)
		if !ok {
			return Value{}, jsonErrf(path, "expected base64 string")
		}
		raw, err := decodeBase64(s)
		if err != nil {
			return Value{}, jsonErrf(path, "bad base64: %v", err)
		}
		return BytesValue(raw), nil
	case EnumKind:
		return enumFromJSON(fd, node, path)
	case MessageKind:
		inner := NewMessage(fd.MessageType())
		if err := inner.fromJSON(node, opts, path); err != nil {
			return Value{}, err
		}
		return MessageValue(inner), nil
	default:
		return Value{}, jsonErrf(path, "field has no JSON mapping")
	}
}

func enumFromJSON(fd *desc.FieldDescriptor, node interface{}, path string) (Value, error) {
	if node == nil && isNullValueEnum(fd) {
		return EnumValue(0), nil
	}
	switch n := node.(type) {
	case string:
		if vd := fd.EnumType().FindValueByName(n); vd != nil {
			return EnumValue(vd.Number()), nil
		}
		// numeric fallback mirrors the numeric output fallback for
		// numbers with no declared name
		if num, err := strconv.ParseInt(n, 10, 32); err == nil {
			return EnumValue(int32(num)), nil
		}
		return Value{}, jsonErrf(path, "enum %s has no value named %q", fd.EnumType().FullName(), n)
	case json.Number:
		num, err := strconv.ParseInt(n.String(), 10, 32)
		if err != nil {
			return Value{}, jsonErrf(path, "bad enum number %q", n.String())
		}
		return EnumValue(int32(num)), nil
	default:
		return Value{}, jsonErrf(path, "expected enum name or number")
	}
}

func parseJSONInt(node interface{}, bits int, path string) (int64, error) {
	s, err := numericText(node, path)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseInt(s, 10, bits); err == nil {
		return n, nil
	}
	// accept float spellings of integral values, e.g. 1e3
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < -math.Pow(2, float64(bits-1)) || f >= math.Pow(2, float64(bits-1)) {
		return 0, jsonErrf(path, "invalid integer %q", s)
	}
	return int64(f), nil
}

func parseJSONUint(node interface{}, bits int, path string) (uint64, error) {
	s, err := numericText(node, path)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseUint(s, 10, bits); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f >= math.Pow(2, float64(bits)) {
		return 0, jsonErrf(path, "invalid unsigned integer %q", s)
	}
	return uint64(f), nil
}

func parseJSONFloat(node interface{}, bits int, path string) (float64, error) {
	if s, ok := node.(string); ok {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	s, err := numericText(node, path)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return 0, jsonErrf(path, "invalid number %q", s)
	}
	return f, nil
}

// numericText returns the text of a JSON number, or of a string holding
// one; all numeric field types accept both spellings.
func numericText(node interface{}, path string) (string, error) {
	switch n := node.(type) {
	case json.Number:
		return n.String(), nil
	case string:
		return n, nil
	default:
		return "", jsonErrf(path, "expected number")
	}
}

func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	if raw, err := base64.URLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func parseMapKey(fd *desc.FieldDescriptor, key, path string) (Value, error) {
	switch scalarKind(fd) {
	case BoolKind:
		switch key {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
		return Value{}, jsonErrf(path, "bad bool map key %q", key)
	case StringKind:
		return StringValue(key), nil
	default:
		return scalarFromJSON(fd, json.Number(key), UnmarshalJSONOptions{}, path)
	}
}

func (m *Message) fromJSONWellKnown(node interface{}, wkt desc.WellKnownType, opts UnmarshalJSONOptions, path string) error {
	field := func(n int32) *desc.FieldDescriptor { return m.md.FindFieldByNumber(n) }
	switch wkt {
	case desc.WellKnownWrapper:
		v, err := scalarFromJSON(field(1), node, opts, path)
		if err != nil {
			return err
		}
		return m.TrySetField(field(1), v)

	case desc.WellKnownDuration:
		s, ok := node.(string)
		if !ok {
			return jsonErrf(path, "expected duration string")
		}
		secs, nanos, err := parseDuration(s, path)
		if err != nil {
			return err
		}
		if err := m.TrySetField(field(1), Int64Value(secs)); err != nil {
			return err
		}
		return m.TrySetField(field(2), Int32Value(nanos))

	case desc.WellKnownTimestamp:
		s, ok := node.(string)
		if !ok {
			return jsonErrf(path, "expected timestamp string")
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return jsonErrf(path, "bad timestamp %q: %v", s, err)
		}
		secs := t.Unix()
		if secs < -62135596800 || secs > 253402300799 {
			return jsonErrf(path, "timestamp %q out of range", s)
		}
		if err := m.TrySetField(field(1), Int64Value(secs)); err != nil {
			return err
		}
		return m.TrySetField(field(2), Int32Value(int32(t.Nanosecond())))

	case desc.WellKnownStruct:
		obj, ok := node.(map[string]interface{})
		if !ok {
			return jsonErrf(path, "expected object for google.protobuf.Struct")
		}
		fieldsFd := field(1)
		mp := NewMap()
		for k, vn := range obj {
			inner := NewMessage(fieldsFd.MapValueField().MessageType())
			if err := inner.fromJSON(vn, opts, merge(path, k)); err != nil {
				return err
			}
			mp.Set(StringValue(k), MessageValue(inner))
		}
		return m.TrySetField(fieldsFd, MapValue(mp))

	case desc.WellKnownListValue:
		arr, ok := node.([]interface{})
		if !ok {
			return jsonErrf(path, "expected array for google.protobuf.ListValue")
		}
		valuesFd := field(1)
		elems := make([]Value, 0, len(arr))
		for _, en := range arr {
			inner := NewMessage(valuesFd.MessageType())
			if err := inner.fromJSON(en, opts, path); err != nil {
				return err
			}
			elems = append(elems, MessageValue(inner))
		}
		return m.TrySetField(valuesFd, ListValue(elems))

	case desc.WellKnownValue:
		return m.valueFromJSON(node, opts, path)

	case desc.WellKnownEmpty:
		obj, ok := node.(map[string]interface{})
		if !ok || len(obj) != 0 {
			return jsonErrf(path, "expected empty object for google.protobuf.Empty")
		}
		return nil

	case desc.WellKnownFieldMask:
		s, ok := node.(string)
		if !ok {
			return jsonErrf(path, "expected field mask string")
		}
		var paths []Value
		if s != "" {
			for _, part := range strings.Split(s, ",") {
				snake, err := fieldMaskPathToSnake(part, path)
				if err != nil {
					return err
				}
				paths = append(paths, StringValue(snake))
			}
		}
		return m.TrySetField(field(1), ListValue(paths))

	case desc.WellKnownAny:
		return m.anyFromJSON(node, opts, path)

	default:
		obj, ok := node.(map[string]interface{})
		if !ok {
			return jsonErrf(path, "expected object for message %s", m.md.FullName())
		}
		return m.fromJSONMembers(obj, opts, path)
	}
}

// valueFromJSON fills a google.protobuf.Value message from any JSON
// node.
func (m *Message) valueFromJSON(node interface{}, opts UnmarshalJSONOptions, path string) error {
	field := func(n int32) *desc.FieldDescriptor { return m.md.FindFieldByNumber(n) }
	switch n := node.(type) {
	case nil:
		return m.TrySetField(field(1), EnumValue(0))
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return jsonErrf(path, "invalid number %q", n.String())
		}
		return m.TrySetField(field(2), Float64Value(f))
	case string:
		return m.TrySetField(field(3), StringValue(n))
	case bool:
		return m.TrySetField(field(4), BoolValue(n))
	case map[string]interface{}:
		inner := NewMessage(field(5).MessageType())
		if err := inner.fromJSON(n, opts, path); err != nil {
			return err
		}
		return m.TrySetField(field(5), MessageValue(inner))
	case []interface{}:
		inner := NewMessage(field(6).MessageType())
		if err := inner.fromJSON(n, opts, path); err != nil {
			return err
		}
		return m.TrySetField(field(6), MessageValue(inner))
	default:
		return jsonErrf(path, "unsupported JSON node for google.protobuf.Value")
	}
}

func (m *Message) anyFromJSON(node interface{}, opts UnmarshalJSONOptions, path string) error {
	obj, ok := node.(map[string]interface{})
	if !ok {
		return jsonErrf(path, "expected object for google.protobuf.Any")
	}
	if len(obj) == 0 {
		return nil
	}
	turl, ok := obj["@type"].(string)
	if !ok {
		return jsonErrf(path, "google.protobuf.Any object lacks @type")
	}
	name := turl
	if i := strings.LastIndexByte(turl, '/'); i >= 0 {
		name = turl[i+1:]
	}
	target := m.md.Pool().FindMessage(name)
	if target == nil {
		return jsonErrf(path, "cannot resolve type %q", turl)
	}
	inner := NewMessage(target)
	if target.WellKnownType() != desc.WellKnownNone {
		payload, ok := obj["value"]
		if !ok {
			return jsonErrf(path, "google.protobuf.Any for %q lacks value member", turl)
		}
		if len(obj) != 2 {
			return jsonErrf(path, "google.protobuf.Any for %q has extra members", turl)
		}
		if err := inner.fromJSON(payload, opts, path); err != nil {
			return err
		}
	} else {
		members := make(map[string]interface{}, len(obj)-1)
		for k, v := range obj {
			if k != "@type" {
				members[k] = v
			}
		}
		if err := inner.fromJSONMembers(members, opts, path); err != nil {
			return err
		}
	}
	data, err := inner.Marshal()
	if err != nil {
		return err
	}
	if err := m.TrySetField(m.md.FindFieldByNumber(1), StringValue(turl)); err != nil {
		return err
	}
	return m.TrySetField(m.md.FindFieldByNumber(2), BytesValue(data))
}

// parseDuration interprets the canonical "<n>s" literal, fraction
// optional, up to nanosecond precision.
func parseDuration(s, path string) (int64, int32, error) {
	body := strings.TrimSuffix(s, "s")
	if body == s || body == "" {
		return 0, 0, jsonErrf(path, "bad duration %q", s)
	}
	neg := strings.HasPrefix(body, "-")
	if neg {
		body = body[1:]
	}
	secText, fracText := body, ""
	if i := strings.IndexByte(body, '.'); i >= 0 {
		secText, fracText = body[:i], body[i+1:]
	}
	secs, err := strconv.ParseInt(secText, 10, 64)
	if err != nil || secs < 0 {
		return 0, 0, jsonErrf(path, "bad duration %q", s)
	}
	var nanos int64
	if fracText != "" {
		if len(fracText) > 9 {
			return 0, 0, jsonErrf(path, "duration %q has sub-nanosecond precision", s)
		}
		nanos, err = strconv.ParseInt(fracText, 10, 64)
		if err != nil || nanos < 0 {
			return 0, 0, jsonErrf(path, "bad duration %q", s)
		}
		for i := len(fracText); i < 9; i++ {
			nanos *= 10
		}
	}
	if secs > 315576000000 {
		return 0, 0, jsonErrf(path, "duration %q out of range", s)
	}
	if neg {
		return -secs, int32(-nanos), nil
	}
	return secs, int32(nanos), nil
}

// fieldMaskPathToSnake converts one lowerCamel mask path back to
// snake_case.
func fieldMaskPathToSnake(p, path string) (string, error) {
	var out []byte
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '_' {
			return "", jsonErrf(path, "field mask path %q is not lowerCamel", p)
		}
		if c >= 'A' && c <= 'Z' {
			out = append(out, '_', c+'a'-'A')
			continue
		}
		out = append(out, c)
	}
	return string(out), nil
}
