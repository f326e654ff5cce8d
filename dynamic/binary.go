package dynamic

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	dpb "google.golang.org/protobuf/types/descriptorpb"

	"github.com/grant0417/protodynamic/codec"
	"github.com/grant0417/protodynamic/desc"
)

// ErrWireTypeMismatch is returned when a record for a known field
// carries a wire type its declared type cannot be encoded with.
var ErrWireTypeMismatch = errors.New("dynamic: wire type does not match field type")

// ErrInvalidUTF8 is returned when a proto3 string field carries bytes
// that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("dynamic: invalid UTF-8 in string field")

// ErrRecursionDepth is returned when decoding nests messages or groups
// deeper than the recursion limit.
var ErrRecursionDepth = errors.New("dynamic: maximum recursion depth exceeded")

// maxRecursionDepth bounds message and group nesting during decode so
// adversarial input cannot exhaust the stack.
const maxRecursionDepth = 100

// Marshal encodes the message in the binary wire format: known fields
// in ascending tag order, then unknown records in ascending tag order.
func (m *Message) Marshal() ([]byte, error) {
	return m.MarshalAppend(nil)
}

// MarshalAppend encodes the message, appending to dest.
func (m *Message) MarshalAppend(dest []byte) ([]byte, error) {
	b := codec.NewBuffer(dest)
	if err := m.marshal(b, false); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// MarshalDeterministic encodes the message with map entries ordered by
// key, so equal messages produce identical bytes.
func (m *Message) MarshalDeterministic() ([]byte, error) {
	b := codec.NewBuffer(nil)
	if err := m.marshal(b, true); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (m *Message) marshal(b *codec.Buffer, deterministic bool) error {
	tags := make([]int32, 0, len(m.values))
	for tag := range m.values {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	for _, tag := range tags {
		fd := m.fieldForNumber(tag)
		if !m.HasField(fd) {
			continue
		}
		if err := m.marshalField(b, fd, m.values[tag], deterministic); err != nil {
			return fmt.Errorf("field %s: %w", fd.FullName(), err)
		}
	}
	for _, tag := range m.UnknownFieldTags() {
		for _, rec := range m.unknown[tag] {
			if err := marshalUnknown(b, tag, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Message) marshalField(b *codec.Buffer, fd *desc.FieldDescriptor, v Value, deterministic bool) error {
	switch {
	case fd.IsMap():
		entries := v.Map().Entries()
		if deterministic {
			entries = v.Map().sortedEntries()
		}
		for _, e := range entries {
			if err := marshalMapEntry(b, fd, e, deterministic); err != nil {
				return err
			}
		}
		return nil
	case fd.IsRepeated() && fd.IsPacked():
		return marshalPacked(b, fd, v.List())
	case fd.IsRepeated():
		for _, e := range v.List() {
			if err := marshalSingular(b, fd, e, deterministic); err != nil {
				return err
			}
		}
		return nil
	default:
		return marshalSingular(b, fd, v, deterministic)
	}
}

func marshalMapEntry(b *codec.Buffer, fd *desc.FieldDescriptor, e MapEntry, deterministic bool) error {
	entry := codec.NewBuffer(nil)
	if err := marshalSingular(entry, fd.MapKeyField(), e.Key, deterministic); err != nil {
		return err
	}
	if err := marshalSingular(entry, fd.MapValueField(), e.Value, deterministic); err != nil {
		return err
	}
	if err := b.EncodeTagAndWireType(fd.Number(), codec.WireBytes); err != nil {
		return err
	}
	return b.EncodeRawBytes(entry.Bytes())
}

func marshalPacked(b *codec.Buffer, fd *desc.FieldDescriptor, elems []Value) error {
	if len(elems) == 0 {
		return nil
	}
	payload := codec.NewBuffer(nil)
	for _, e := range elems {
		if err := encodeScalar(payload, fd, e); err != nil {
			return err
		}
	}
	if err := b.EncodeTagAndWireType(fd.Number(), codec.WireBytes); err != nil {
		return err
	}
	return b.EncodeRawBytes(payload.Bytes())
}

func marshalSingular(b *codec.Buffer, fd *desc.FieldDescriptor, v Value, deterministic bool) error {
	switch fd.Type() {
	case dpb.FieldDescriptorProto_TYPE_GROUP:
		if err := b.EncodeTagAndWireType(fd.Number(), codec.WireStartGroup); err != nil {
			return err
		}
		if err := v.Message().marshal(b, deterministic); err != nil {
			return err
		}
		return b.EncodeTagAndWireType(fd.Number(), codec.WireEndGroup)
	case dpb.FieldDescriptorProto_TYPE_MESSAGE:
		nested := codec.NewBuffer(nil)
		if err := v.Message().marshal(nested, deterministic); err != nil {
			return err
		}
		if err := b.EncodeTagAndWireType(fd.Number(), codec.WireBytes); err != nil {
			return err
		}
		return b.EncodeRawBytes(nested.Bytes())
	default:
		if err := b.EncodeTagAndWireType(fd.Number(), nativeWireType(fd.Type())); err != nil {
			return err
		}
		return encodeScalar(b, fd, v)
	}
}

// encodeScalar writes a scalar value's payload, without its tag. Not
// used for message or group types.
func encodeScalar(b *codec.Buffer, fd *desc.FieldDescriptor, v Value) error {
	switch fd.Type() {
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		var n uint64
		if v.Bool() {
			n = 1
		}
		return b.EncodeVarint(n)
	case dpb.FieldDescriptorProto_TYPE_INT32:
		// negative int32 sign-extends to ten wire bytes
		return b.EncodeVarint(uint64(int64(v.Int32())))
	case dpb.FieldDescriptorProto_TYPE_INT64:
		return b.EncodeVarint(uint64(v.Int64()))
	case dpb.FieldDescriptorProto_TYPE_UINT32:
		return b.EncodeVarint(uint64(v.Uint32()))
	case dpb.FieldDescriptorProto_TYPE_UINT64:
		return b.EncodeVarint(v.Uint64())
	case dpb.FieldDescriptorProto_TYPE_SINT32:
		return b.EncodeVarint(codec.EncodeZigZag32(v.Int32()))
	case dpb.FieldDescriptorProto_TYPE_SINT64:
		return b.EncodeVarint(codec.EncodeZigZag64(v.Int64()))
	case dpb.FieldDescriptorProto_TYPE_ENUM:
		return b.EncodeVarint(uint64(int64(v.Enum())))
	case dpb.FieldDescriptorProto_TYPE_FIXED32:
		return b.EncodeFixed32(uint64(v.Uint32()))
	case dpb.FieldDescriptorProto_TYPE_SFIXED32:
		return b.EncodeFixed32(uint64(uint32(v.Int32())))
	case dpb.FieldDescriptorProto_TYPE_FLOAT:
		return b.EncodeFixed32(uint64(math.Float32bits(v.Float32())))
	case dpb.FieldDescriptorProto_TYPE_FIXED64:
		return b.EncodeFixed64(v.Uint64())
	case dpb.FieldDescriptorProto_TYPE_SFIXED64:
		return b.EncodeFixed64(uint64(v.Int64()))
	case dpb.FieldDescriptorProto_TYPE_DOUBLE:
		return b.EncodeFixed64(math.Float64bits(v.Float64()))
	case dpb.FieldDescriptorProto_TYPE_STRING:
		s := v.Str()
		if fd.File().IsProto3() && !utf8.ValidString(s) {
			return ErrInvalidUTF8
		}
		return b.EncodeRawBytes([]byte(s))
	case dpb.FieldDescriptorProto_TYPE_BYTES:
		return b.EncodeRawBytes(v.Bytes())
	default:
		panic(fmt.Sprintf("dynamic: type %v is not a scalar", fd.Type()))
	}
}

func marshalUnknown(b *codec.Buffer, tag int32, rec UnknownField) error {
	if err := b.EncodeTagAndWireType(tag, rec.Encoding); err != nil {
		return err
	}
	switch rec.Encoding {
	case codec.WireVarint:
		if rec.Contents != nil {
			_, err := b.Write(rec.Contents)
			return err
		}
		return b.EncodeVarint(rec.Value)
	case codec.WireFixed64:
		return b.EncodeFixed64(rec.Value)
	case codec.WireFixed32:
		return b.EncodeFixed32(rec.Value)
	case codec.WireBytes:
		return b.EncodeRawBytes(rec.Contents)
	case codec.WireStartGroup:
		if _, err := b.Write(rec.Contents); err != nil {
			return err
		}
		return b.EncodeTagAndWireType(tag, codec.WireEndGroup)
	default:
		return codec.ErrBadWireType
	}
}

// nativeWireType returns the wire type a scalar of the given declared
// type encodes with when not packed.
func nativeWireType(t dpb.FieldDescriptorProto_Type) int8 {
	switch t {
	case dpb.FieldDescriptorProto_TYPE_FIXED32,
		dpb.FieldDescriptorProto_TYPE_SFIXED32,
		dpb.FieldDescriptorProto_TYPE_FLOAT:
		return codec.WireFixed32
	case dpb.FieldDescriptorProto_TYPE_FIXED64,
		dpb.FieldDescriptorProto_TYPE_SFIXED64,
		dpb.FieldDescriptorProto_TYPE_DOUBLE:
		return codec.WireFixed64
	case dpb.FieldDescriptorProto_TYPE_STRING,
		dpb.FieldDescriptorProto_TYPE_BYTES,
		dpb.FieldDescriptorProto_TYPE_MESSAGE:
		return codec.WireBytes
	case dpb.FieldDescriptorProto_TYPE_GROUP:
		return codec.WireStartGroup
	default:
		return codec.WireVarint
	}
}

// Unmarshal replaces the message's contents with the decoding of data.
// On error the message is left untouched.
func (m *Message) Unmarshal(data []byte) error {
	scratch := NewMessage(m.md)
	if err := scratch.unmarshal(codec.NewBuffer(data), 0); err != nil {
		return err
	}
	m.values = scratch.values
	m.ext = scratch.ext
	m.unknown = scratch.unknown
	return nil
}

// UnmarshalMerge decodes data and folds it into the message's existing
// contents, the way the wire format concatenates serialized messages.
// On error the message is left untouched.
func (m *Message) UnmarshalMerge(data []byte) error {
	scratch := NewMessage(m.md)
	if err := scratch.unmarshal(codec.NewBuffer(data), 0); err != nil {
		return err
	}
	return m.Merge(scratch)
}

func (m *Message) unmarshal(b *codec.Buffer, depth int) error {
	if depth > maxRecursionDepth {
		return ErrRecursionDepth
	}
	for !b.EOF() {
		tag, wireType, err := b.DecodeTagAndWireType()
		if err != nil {
			return err
		}
		if wireType == codec.WireEndGroup {
			return fmt.Errorf("dynamic: unexpected end-group tag %d in %s", tag, m.md.FullName())
		}
		if err := m.decodeField(b, tag, wireType, depth); err != nil {
			return err
		}
	}
	return nil
}

func (m *Message) decodeField(b *codec.Buffer, tag int32, wireType int8, depth int) error {
	fd := m.fieldForNumber(tag)
	if fd == nil {
		return m.decodeUnknown(b, tag, wireType)
	}
	err := m.decodeKnown(b, fd, wireType, depth)
	if err != nil {
		return fmt.Errorf("field %s: %w", fd.FullName(), err)
	}
	return nil
}

func (m *Message) decodeKnown(b *codec.Buffer, fd *desc.FieldDescriptor, wireType int8, depth int) error {
	switch {
	case fd.IsMap():
		if wireType != codec.WireBytes {
			return ErrWireTypeMismatch
		}
		return m.decodeMapEntry(b, fd, depth)
	case fd.IsRepeated():
		return m.decodeRepeated(b, fd, wireType, depth)
	default:
		v, err := decodeScalar(b, fd, wireType, depth)
		if err != nil {
			return err
		}
		return m.storeDecoded(fd, v)
	}
}

// storeDecoded stores a decoded singular value. A repeated occurrence
// of an embedded-message field merges into the existing value, matching
// how the wire format treats concatenated messages; everything else
// overwrites. Oneof siblings clear as with TrySetField.
func (m *Message) storeDecoded(fd *desc.FieldDescriptor, v Value) error {
	if v.Kind() == MessageKind {
		if prev, ok := m.values[fd.Number()]; ok && prev.Kind() == MessageKind {
			if od := fd.Oneof(); od == nil || m.WhichOneof(od) == fd {
				return prev.Message().Merge(v.Message())
			}
		}
	}
	return m.TrySetField(fd, v)
}

func (m *Message) decodeRepeated(b *codec.Buffer, fd *desc.FieldDescriptor, wireType int8, depth int) error {
	native := nativeWireType(fd.Type())
	existing, err := m.TryGetField(fd)
	if err != nil {
		return err
	}
	elems := existing.List()
	switch {
	case wireType == native:
		v, err := decodeScalar(b, fd, wireType, depth)
		if err != nil {
			return err
		}
		elems = append(elems, v)
	case wireType == codec.WireBytes && native != codec.WireBytes && native != codec.WireStartGroup:
		// packed encoding is accepted for packable elements regardless
		// of the declaration; groups are never packable
		payload, err := b.DecodeRawBytes(false)
		if err != nil {
			return err
		}
		pb := codec.NewBuffer(payload)
		for !pb.EOF() {
			v, err := decodeScalar(pb, fd, native, depth)
			if err != nil {
				return err
			}
			elems = append(elems, v)
		}
	default:
		return ErrWireTypeMismatch
	}
	return m.TrySetField(fd, ListValue(elems))
}

func (m *Message) decodeMapEntry(b *codec.Buffer, fd *desc.FieldDescriptor, depth int) error {
	raw, err := b.DecodeRawBytes(false)
	if err != nil {
		return err
	}
	entry := NewMessage(fd.MessageType())
	if err := entry.unmarshal(codec.NewBuffer(raw), depth+1); err != nil {
		return err
	}
	// a missing key or value decodes as its default
	key, err := entry.TryGetField(fd.MapKeyField())
	if err != nil {
		return err
	}
	value, err := entry.TryGetField(fd.MapValueField())
	if err != nil {
		return err
	}
	existing, err := m.TryGetField(fd)
	if err != nil {
		return err
	}
	mp := existing.Map()
	if mp.Len() == 0 {
		mp = NewMap()
	}
	mp.Set(key, value)
	return m.TrySetField(fd, MapValue(mp))
}

func decodeScalar(b *codec.Buffer, fd *desc.FieldDescriptor, wireType int8, depth int) (Value, error) {
	t := fd.Type()
	if wireType != nativeWireType(t) {
		return Value{}, ErrWireTypeMismatch
	}
	switch t {
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(n != 0), nil
	case dpb.FieldDescriptorProto_TYPE_INT32:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Int32Value(int32(n)), nil
	case dpb.FieldDescriptorProto_TYPE_INT64:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Int64Value(int64(n)), nil
	case dpb.FieldDescriptorProto_TYPE_UINT32:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Uint32Value(uint32(n)), nil
	case dpb.FieldDescriptorProto_TYPE_UINT64:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Uint64Value(n), nil
	case dpb.FieldDescriptorProto_TYPE_SINT32:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Int32Value(codec.DecodeZigZag32(n)), nil
	case dpb.FieldDescriptorProto_TYPE_SINT64:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return Int64Value(codec.DecodeZigZag64(n)), nil
	case dpb.FieldDescriptorProto_TYPE_ENUM:
		n, err := b.DecodeVarint()
		if err != nil {
			return Value{}, err
		}
		return EnumValue(int32(n)), nil
	case dpb.FieldDescriptorProto_TYPE_FIXED32:
		n, err := b.DecodeFixed32()
		if err != nil {
			return Value{}, err
		}
		return Uint32Value(uint32(n)), nil
	case dpb.FieldDescriptorProto_TYPE_SFIXED32:
		n, err := b.DecodeFixed32()
		if err != nil {
			return Value{}, err
		}
		return Int32Value(int32(uint32(n))), nil
	case dpb.FieldDescriptorProto_TYPE_FLOAT:
		n, err := b.DecodeFixed32()
		if err != nil {
			return Value{}, err
		}
		return Float32Value(math.Float32frombits(uint32(n))), nil
	case dpb.FieldDescriptorProto_TYPE_FIXED64:
		n, err := b.DecodeFixed64()
		if err != nil {
			return Value{}, err
		}
		return Uint64Value(n), nil
	case dpb.FieldDescriptorProto_TYPE_SFIXED64:
		n, err := b.DecodeFixed64()
		if err != nil {
			return Value{}, err
		}
		return Int64Value(int64(n)), nil
	case dpb.FieldDescriptorProto_TYPE_DOUBLE:
		n, err := b.DecodeFixed64()
		if err != nil {
			return Value{}, err
		}
		return Float64Value(math.Float64frombits(n)), nil
	case dpb.FieldDescriptorProto_TYPE_STRING:
		raw, err := b.DecodeRawBytes(true)
		if err != nil {
			return Value{}, err
		}
		if fd.File().IsProto3() && !utf8.Valid(raw) {
			return Value{}, ErrInvalidUTF8
		}
		return StringValue(string(raw)), nil
	case dpb.FieldDescriptorProto_TYPE_BYTES:
		raw, err := b.DecodeRawBytes(true)
		if err != nil {
			return Value{}, err
		}
		return BytesValue(raw), nil
	case dpb.FieldDescriptorProto_TYPE_MESSAGE:
		raw, err := b.DecodeRawBytes(false)
		if err != nil {
			return Value{}, err
		}
		nested := NewMessage(fd.MessageType())
		if err := nested.unmarshal(codec.NewBuffer(raw), depth+1); err != nil {
			return Value{}, err
		}
		return MessageValue(nested), nil
	case dpb.FieldDescriptorProto_TYPE_GROUP:
		contents, err := b.ReadGroup(false)
		if err != nil {
			return Value{}, err
		}
		nested := NewMessage(fd.MessageType())
		if err := nested.unmarshal(codec.NewBuffer(contents), depth+1); err != nil {
			return Value{}, err
		}
		return MessageValue(nested), nil
	default:
		return Value{}, ErrWireTypeMismatch
	}
}

func (m *Message) decodeUnknown(b *codec.Buffer, tag int32, wireType int8) error {
	rec := UnknownField{Encoding: wireType}
	var err error
	switch wireType {
	case codec.WireVarint:
		// keep the original byte span so a non-minimal encoding
		// re-emits verbatim
		rest := b.Bytes()
		rec.Value, err = b.DecodeVarint()
		if err == nil {
			rec.Contents = append([]byte(nil), rest[:len(rest)-b.Len()]...)
		}
	case codec.WireFixed64:
		rec.Value, err = b.DecodeFixed64()
	case codec.WireFixed32:
		rec.Value, err = b.DecodeFixed32()
	case codec.WireBytes:
		rec.Contents, err = b.DecodeRawBytes(true)
	case codec.WireStartGroup:
		rec.Contents, err = b.ReadGroup(true)
	default:
		return codec.ErrBadWireType
	}
	if err != nil {
		return err
	}
	if m.unknown == nil {
		m.unknown = map[int32][]UnknownField{}
	}
	m.unknown[tag] = append(m.unknown[tag], rec)
	return nil
}
