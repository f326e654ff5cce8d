// Package dynamic implements a runtime value model for protobuf
// messages whose types are known only through descriptors, plus binary
// wire and canonical JSON codecs for it. No generated code is involved:
// a Message is a field table interpreted against a
// desc.MessageDescriptor.
package dynamic

import (
	"bytes"
	"fmt"
	"math"

	"github.com/grant0417/protodynamic/desc"
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	InvalidKind Kind = iota
	BoolKind
	Int32Kind
	Int64Kind
	Uint32Kind
	Uint64Kind
	Float32Kind
	Float64Kind
	StringKind
	BytesKind
	// EnumKind holds an enum number. Values outside the declared range
	// are allowed; open enums keep unrecognized numbers.
	EnumKind
	MessageKind
	ListKind
	MapKind
)

func (k Kind) String() string {
	switch k {
	case BoolKind:
		return "bool"
	case Int32Kind:
		return "int32"
	case Int64Kind:
		return "int64"
	case Uint32Kind:
		return "uint32"
	case Uint64Kind:
		return "uint64"
	case Float32Kind:
		return "float32"
	case Float64Kind:
		return "float64"
	case StringKind:
		return "string"
	case BytesKind:
		return "bytes"
	case EnumKind:
		return "enum"
	case MessageKind:
		return "message"
	case ListKind:
		return "list"
	case MapKind:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the types a field can hold. The zero
// Value is invalid. Values are cheap to copy; list and map variants
// share their backing storage.
//
// Accessors panic when the kind does not match: type checking happens
// once, in Message.TrySetField, so reads stay unconditional.
type Value struct {
	kind Kind
	// num holds bool (0/1), all integer kinds, enum numbers, and the
	// IEEE-754 bits of both float kinds.
	num  uint64
	str  string
	bin  []byte
	msg  *Message
	list []Value
	mp   *Map
}

func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: BoolKind, num: n}
}

func Int32Value(v int32) Value   { return Value{kind: Int32Kind, num: uint64(v)} }
func Int64Value(v int64) Value   { return Value{kind: Int64Kind, num: uint64(v)} }
func Uint32Value(v uint32) Value { return Value{kind: Uint32Kind, num: uint64(v)} }
func Uint64Value(v uint64) Value { return Value{kind: Uint64Kind, num: v} }

func Float32Value(v float32) Value {
	return Value{kind: Float32Kind, num: uint64(math.Float32bits(v))}
}

func Float64Value(v float64) Value {
	return Value{kind: Float64Kind, num: math.Float64bits(v)}
}

func StringValue(v string) Value  { return Value{kind: StringKind, str: v} }
func BytesValue(v []byte) Value   { return Value{kind: BytesKind, bin: v} }
func EnumValue(number int32) Value {
	return Value{kind: EnumKind, num: uint64(number)}
}
func MessageValue(m *Message) Value { return Value{kind: MessageKind, msg: m} }
func ListValue(elems []Value) Value { return Value{kind: ListKind, list: elems} }
func MapValue(m *Map) Value         { return Value{kind: MapKind, mp: m} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value holds any variant.
func (v Value) IsValid() bool { return v.kind != InvalidKind }

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("dynamic: value is %v, not %v", v.kind, k))
	}
}

func (v Value) Bool() bool {
	v.mustBe(BoolKind)
	return v.num != 0
}

func (v Value) Int32() int32 {
	v.mustBe(Int32Kind)
	return int32(v.num)
}

func (v Value) Int64() int64 {
	v.mustBe(Int64Kind)
	return int64(v.num)
}

func (v Value) Uint32() uint32 {
	v.mustBe(Uint32Kind)
	return uint32(v.num)
}

func (v Value) Uint64() uint64 {
	v.mustBe(Uint64Kind)
	return v.num
}

func (v Value) Float32() float32 {
	v.mustBe(Float32Kind)
	return math.Float32frombits(uint32(v.num))
}

func (v Value) Float64() float64 {
	v.mustBe(Float64Kind)
	return math.Float64frombits(v.num)
}

// Str returns the string variant. (Named to leave String free for
// fmt.Stringer.)
func (v Value) Str() string {
	v.mustBe(StringKind)
	return v.str
}

func (v Value) Bytes() []byte {
	v.mustBe(BytesKind)
	return v.bin
}

func (v Value) Enum() int32 {
	v.mustBe(EnumKind)
	return int32(v.num)
}

func (v Value) Message() *Message {
	v.mustBe(MessageKind)
	return v.msg
}

func (v Value) List() []Value {
	v.mustBe(ListKind)
	return v.list
}

func (v Value) Map() *Map {
	v.mustBe(MapKind)
	return v.mp
}

// Equal reports deep equality. Floats compare by bit pattern, so NaN
// equals NaN and negative zero differs from zero. Lists compare
// element-wise in order; maps compare by key set regardless of
// insertion order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case InvalidKind:
		return true
	case StringKind:
		return v.str == o.str
	case BytesKind:
		return bytes.Equal(v.bin, o.bin)
	case MessageKind:
		if v.msg == nil || o.msg == nil {
			return v.msg == o.msg
		}
		return v.msg.Equal(o.msg)
	case ListKind:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case MapKind:
		return v.mp.equal(o.mp)
	default:
		return v.num == o.num
	}
}

// String implements fmt.Stringer for debugging output. It is not a
// serialization format.
func (v Value) String() string {
	switch v.kind {
	case InvalidKind:
		return "<invalid>"
	case BoolKind:
		return fmt.Sprintf("%v", v.Bool())
	case Int32Kind:
		return fmt.Sprintf("%d", v.Int32())
	case Int64Kind:
		return fmt.Sprintf("%d", v.Int64())
	case Uint32Kind:
		return fmt.Sprintf("%d", v.Uint32())
	case Uint64Kind:
		return fmt.Sprintf("%d", v.Uint64())
	case Float32Kind:
		return fmt.Sprintf("%g", v.Float32())
	case Float64Kind:
		return fmt.Sprintf("%g", v.Float64())
	case StringKind:
		return fmt.Sprintf("%q", v.str)
	case BytesKind:
		return fmt.Sprintf("%x", v.bin)
	case EnumKind:
		return fmt.Sprintf("%d", v.Enum())
	case MessageKind:
		return fmt.Sprintf("%v", v.msg)
	case ListKind:
		return fmt.Sprintf("%v", v.list)
	case MapKind:
		return fmt.Sprintf("%v", v.mp)
	default:
		return "<invalid>"
	}
}

// scalarKind maps a field's declared type to the Value kind its
// singular (or element) values take.
func scalarKind(fd *desc.FieldDescriptor) Kind {
	switch fd.Type() {
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		return BoolKind
	case dpb.FieldDescriptorProto_TYPE_INT32,
		dpb.FieldDescriptorProto_TYPE_SINT32,
		dpb.FieldDescriptorProto_TYPE_SFIXED32:
		return Int32Kind
	case dpb.FieldDescriptorProto_TYPE_INT64,
		dpb.FieldDescriptorProto_TYPE_SINT64,
		dpb.FieldDescriptorProto_TYPE_SFIXED64:
		return Int64Kind
	case dpb.FieldDescriptorProto_TYPE_UINT32,
		dpb.FieldDescriptorProto_TYPE_FIXED32:
		return Uint32Kind
	case dpb.FieldDescriptorProto_TYPE_UINT64,
		dpb.FieldDescriptorProto_TYPE_FIXED64:
		return Uint64Kind
	case dpb.FieldDescriptorProto_TYPE_FLOAT:
		return Float32Kind
	case dpb.FieldDescriptorProto_TYPE_DOUBLE:
		return Float64Kind
	case dpb.FieldDescriptorProto_TYPE_STRING:
		return StringKind
	case dpb.FieldDescriptorProto_TYPE_BYTES:
		return BytesKind
	case dpb.FieldDescriptorProto_TYPE_ENUM:
		return EnumKind
	case dpb.FieldDescriptorProto_TYPE_MESSAGE,
		dpb.FieldDescriptorProto_TYPE_GROUP:
		return MessageKind
	default:
		return InvalidKind
	}
}

// expectedKind maps a field to the Value kind Message.SetField accepts
// for it: a list for repeated fields, a map for map fields, the scalar
// kind otherwise.
func expectedKind(fd *desc.FieldDescriptor) Kind {
	switch {
	case fd.IsMap():
		return MapKind
	case fd.IsRepeated():
		return ListKind
	default:
		return scalarKind(fd)
	}
}

// defaultValue returns the value GetField yields when the field is
// absent: an empty list or map for repeated and map fields, an empty
// message for message fields, and the field's scalar default otherwise.
func defaultValue(fd *desc.FieldDescriptor) Value {
	switch {
	case fd.IsMap():
		return MapValue(NewMap())
	case fd.IsRepeated():
		return ListValue(nil)
	case scalarKind(fd) == MessageKind:
		return MessageValue(NewMessage(fd.MessageType()))
	case fd.Type() == dpb.FieldDescriptorProto_TYPE_ENUM:
		return EnumValue(fd.DefaultValue().(int32))
	default:
		switch d := fd.DefaultValue().(type) {
		case bool:
			return BoolValue(d)
		case int32:
			return Int32Value(d)
		case int64:
			return Int64Value(d)
		case uint32:
			return Uint32Value(d)
		case uint64:
			return Uint64Value(d)
		case float32:
			return Float32Value(d)
		case float64:
			return Float64Value(d)
		case string:
			return StringValue(d)
		case []byte:
			return BytesValue(d)
		default:
			panic(fmt.Sprintf("dynamic: field %s has no scalar default", fd.FullName()))
		}
	}
}

// isDefault reports whether a stored value is indistinguishable from
// the field's default, the test implicit-presence fields use for
// HasField and for omission when encoding.
func isDefault(fd *desc.FieldDescriptor, v Value) bool {
	switch v.kind {
	case ListKind:
		return len(v.list) == 0
	case MapKind:
		return v.mp == nil || v.mp.Len() == 0
	case MessageKind:
		// message fields always track presence
		return false
	default:
		return v.Equal(defaultValue(fd))
	}
}
