package dynamic

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/proto"

	"github.com/grant0417/protodynamic/desc"
)

// ErrUnknownField is returned when a field descriptor does not belong
// to the message it is used against: a different message type, or an
// extension that does not extend it.
var ErrUnknownField = errors.New("dynamic: field does not belong to message")

// ErrTypeMismatch is returned when a value's kind does not match the
// field it is being stored in.
var ErrTypeMismatch = errors.New("dynamic: value kind does not match field type")

// Message is a protobuf message interpreted at runtime against a
// descriptor. Fields, extensions included, live in a table keyed by tag
// number; records decoded for tags the descriptor does not define are
// preserved verbatim and re-emitted on encode.
//
// Messages are not safe for concurrent mutation.
type Message struct {
	md      *desc.MessageDescriptor
	values  map[int32]Value
	ext     map[int32]*desc.FieldDescriptor
	unknown map[int32][]UnknownField
}

// UnknownField represents one wire-format record whose tag the
// descriptor does not define. Varint and fixed-width records keep
// their numeric value; length-delimited records and groups keep their
// raw contents. Varint records decoded from the wire also keep their
// original byte span, so non-minimal encodings re-emit verbatim.
type UnknownField struct {
	// Encoding is the record's wire type.
	Encoding int8
	Value    uint64
	Contents []byte
}

// NewMessage returns an empty message of the given type.
func NewMessage(md *desc.MessageDescriptor) *Message {
	return &Message{
		md:     md,
		values: map[int32]Value{},
	}
}

// Descriptor returns the message's type.
func (m *Message) Descriptor() *desc.MessageDescriptor { return m.md }

// checkField verifies that fd is a field of this message: declared in
// the message itself, or an extension whose extendee it is.
func (m *Message) checkField(fd *desc.FieldDescriptor) error {
	if fd == nil {
		return fmt.Errorf("%w: nil descriptor", ErrUnknownField)
	}
	if fd.Owner() != m.md {
		return fmt.Errorf("%w: field %s belongs to %s, not %s",
			ErrUnknownField, fd.FullName(), fd.Owner().FullName(), m.md.FullName())
	}
	return nil
}

// checkValue verifies that v's shape matches fd: the right scalar
// kind, a list of the right element kind for repeated fields, a map
// with the right key and value kinds for map fields. Message-kind
// values must also carry the field's exact message type.
func checkValue(fd *desc.FieldDescriptor, v Value) error {
	want := expectedKind(fd)
	if v.Kind() != want {
		return fmt.Errorf("%w: field %s holds %v, got %v",
			ErrTypeMismatch, fd.FullName(), want, v.Kind())
	}
	switch want {
	case ListKind:
		elem := scalarKind(fd)
		for i, e := range v.List() {
			if e.Kind() != elem {
				return fmt.Errorf("%w: field %s element %d holds %v, got %v",
					ErrTypeMismatch, fd.FullName(), i, elem, e.Kind())
			}
			if err := checkMessageType(fd, e); err != nil {
				return err
			}
		}
	case MapKind:
		keyKind := scalarKind(fd.MapKeyField())
		valKind := scalarKind(fd.MapValueField())
		for _, e := range v.Map().Entries() {
			if e.Key.Kind() != keyKind {
				return fmt.Errorf("%w: field %s key holds %v, got %v",
					ErrTypeMismatch, fd.FullName(), keyKind, e.Key.Kind())
			}
			if e.Value.Kind() != valKind {
				return fmt.Errorf("%w: field %s value holds %v, got %v",
					ErrTypeMismatch, fd.FullName(), valKind, e.Value.Kind())
			}
			if err := checkMessageType(fd.MapValueField(), e.Value); err != nil {
				return err
			}
		}
	case MessageKind:
		return checkMessageType(fd, v)
	}
	return nil
}

func checkMessageType(fd *desc.FieldDescriptor, v Value) error {
	if v.Kind() != MessageKind {
		return nil
	}
	if v.Message() == nil {
		return fmt.Errorf("%w: field %s cannot hold a nil message",
			ErrTypeMismatch, fd.FullName())
	}
	if got := v.Message().Descriptor(); got != fd.MessageType() {
		return fmt.Errorf("%w: field %s holds %s, got %s",
			ErrTypeMismatch, fd.FullName(), fd.MessageType().FullName(), got.FullName())
	}
	return nil
}

// TryGetField returns the field's value, or the field's default when it
// is absent: the scalar default for singular fields, an empty list or
// map for repeated and map fields, an empty message for message fields.
func (m *Message) TryGetField(fd *desc.FieldDescriptor) (Value, error) {
	if err := m.checkField(fd); err != nil {
		return Value{}, err
	}
	if v, ok := m.values[fd.Number()]; ok {
		return v, nil
	}
	return defaultValue(fd), nil
}

// GetField is like TryGetField but panics on a foreign descriptor.
func (m *Message) GetField(fd *desc.FieldDescriptor) Value {
	v, err := m.TryGetField(fd)
	if err != nil {
		panic(err.Error())
	}
	return v
}

// TrySetField stores a value for the field. Setting a member of a
// oneof clears the other members. Setting an extension requires a
// descriptor whose Owner is this message type.
func (m *Message) TrySetField(fd *desc.FieldDescriptor, v Value) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	if err := checkValue(fd, v); err != nil {
		return err
	}
	if od := fd.Oneof(); od != nil {
		for _, member := range od.Fields() {
			if member != fd {
				delete(m.values, member.Number())
			}
		}
	}
	m.values[fd.Number()] = v
	if fd.IsExtension() {
		if m.ext == nil {
			m.ext = map[int32]*desc.FieldDescriptor{}
		}
		m.ext[fd.Number()] = fd
	}
	return nil
}

// SetField is like TrySetField but panics on error.
func (m *Message) SetField(fd *desc.FieldDescriptor, v Value) {
	if err := m.TrySetField(fd, v); err != nil {
		panic(err.Error())
	}
}

// TryClearField removes any value stored for the field.
func (m *Message) TryClearField(fd *desc.FieldDescriptor) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	delete(m.values, fd.Number())
	delete(m.ext, fd.Number())
	return nil
}

// ClearField is like TryClearField but panics on a foreign descriptor.
func (m *Message) ClearField(fd *desc.FieldDescriptor) {
	if err := m.TryClearField(fd); err != nil {
		panic(err.Error())
	}
}

// HasField reports whether the field is present. Fields with explicit
// presence (message fields, oneof members, proto3 optional, proto2
// singular, extensions) are present when a value is stored; fields with
// implicit presence are present when the stored value differs from the
// default. Foreign descriptors report false.
func (m *Message) HasField(fd *desc.FieldDescriptor) bool {
	if fd == nil || fd.Owner() != m.md {
		return false
	}
	v, ok := m.values[fd.Number()]
	if !ok {
		return false
	}
	if fd.SupportsPresence() {
		return true
	}
	return !isDefault(fd, v)
}

// WhichOneof returns the member of the oneof that is currently set, or
// nil if none is (or the oneof belongs to another message type).
func (m *Message) WhichOneof(od *desc.OneofDescriptor) *desc.FieldDescriptor {
	if od == nil || od.Owner() != m.md {
		return nil
	}
	for _, fd := range od.Fields() {
		if _, ok := m.values[fd.Number()]; ok {
			return fd
		}
	}
	return nil
}

// Reset removes all fields, extensions, and unknown records.
func (m *Message) Reset() {
	m.values = map[int32]Value{}
	m.ext = nil
	m.unknown = nil
}

// UnknownFieldTags returns the tag numbers that carry unknown records,
// in ascending order.
func (m *Message) UnknownFieldTags() []int32 {
	if len(m.unknown) == 0 {
		return nil
	}
	tags := make([]int32, 0, len(m.unknown))
	for tag := range m.unknown {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// UnknownFields returns the unknown records stored for a tag, in the
// order they were decoded.
func (m *Message) UnknownFields(tag int32) []UnknownField {
	return m.unknown[tag]
}

// fieldForNumber returns the descriptor governing a tag number: the
// message's own field, a stored extension descriptor, or an extension
// registered in the pool.
func (m *Message) fieldForNumber(tag int32) *desc.FieldDescriptor {
	if fd := m.md.FindFieldByNumber(tag); fd != nil {
		return fd
	}
	if fd := m.ext[tag]; fd != nil {
		return fd
	}
	return m.md.Pool().FindExtension(m.md.FullName(), tag)
}

// Equal reports whether two messages of the same type have equal
// contents. Implicit-presence fields stored at their default compare
// equal to absent ones. Unknown records compare by tag, order, and
// content.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.md != o.md {
		return false
	}
	for tag := range m.values {
		fd := m.fieldForNumber(tag)
		if m.HasField(fd) {
			ov, err := o.TryGetField(fd)
			if err != nil || !m.values[tag].Equal(ov) {
				return false
			}
		}
	}
	for tag := range o.values {
		fd := o.fieldForNumber(tag)
		if o.HasField(fd) && !m.HasField(fd) {
			return false
		}
	}
	if len(m.unknown) != len(o.unknown) {
		return false
	}
	for tag, records := range m.unknown {
		other := o.unknown[tag]
		if len(records) != len(other) {
			return false
		}
		for i := range records {
			if !records[i].equal(other[i]) {
				return false
			}
		}
	}
	return true
}

func (u UnknownField) equal(o UnknownField) bool {
	return u.Encoding == o.Encoding &&
		u.Value == o.Value &&
		string(u.Contents) == string(o.Contents)
}

// Merge folds another message of the same type into this one: singular
// scalars overwrite, nested messages merge recursively, repeated fields
// append, map entries overwrite per key, unknown records append.
func (m *Message) Merge(o *Message) error {
	if o == nil {
		return nil
	}
	if m.md != o.md {
		return fmt.Errorf("%w: cannot merge %s into %s",
			ErrTypeMismatch, o.md.FullName(), m.md.FullName())
	}
	for tag, ov := range o.values {
		fd := o.fieldForNumber(tag)
		if err := m.mergeField(fd, ov); err != nil {
			return err
		}
	}
	for tag, records := range o.unknown {
		if m.unknown == nil {
			m.unknown = map[int32][]UnknownField{}
		}
		m.unknown[tag] = append(m.unknown[tag], records...)
	}
	return nil
}

func (m *Message) mergeField(fd *desc.FieldDescriptor, v Value) error {
	switch {
	case fd.IsMap():
		existing, err := m.TryGetField(fd)
		if err != nil {
			return err
		}
		merged := NewMap()
		existing.Map().Range(func(k, mv Value) bool {
			merged.Set(k, mv)
			return true
		})
		v.Map().Range(func(k, mv Value) bool {
			merged.Set(k, mv)
			return true
		})
		return m.TrySetField(fd, MapValue(merged))
	case fd.IsRepeated():
		existing, err := m.TryGetField(fd)
		if err != nil {
			return err
		}
		combined := append(append([]Value(nil), existing.List()...), v.List()...)
		return m.TrySetField(fd, ListValue(combined))
	case v.Kind() == MessageKind:
		if prev, ok := m.values[fd.Number()]; ok && prev.Kind() == MessageKind {
			return prev.Message().Merge(v.Message())
		}
		return m.TrySetField(fd, v)
	default:
		return m.TrySetField(fd, v)
	}
}

// ConvertTo transcodes this message into a generated-code message of
// the same type, bridging through the wire format.
func (m *Message) ConvertTo(pm proto.Message) error {
	name := string(pm.ProtoReflect().Descriptor().FullName())
	if name != m.md.FullName() {
		return fmt.Errorf("%w: cannot convert %s to %s",
			ErrTypeMismatch, m.md.FullName(), name)
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, pm)
}

// ConvertFrom replaces this message's contents with those of a
// generated-code message of the same type.
func (m *Message) ConvertFrom(pm proto.Message) error {
	name := string(pm.ProtoReflect().Descriptor().FullName())
	if name != m.md.FullName() {
		return fmt.Errorf("%w: cannot convert %s from %s",
			ErrTypeMismatch, m.md.FullName(), name)
	}
	data, err := proto.Marshal(pm)
	if err != nil {
		return err
	}
	return m.Unmarshal(data)
}
