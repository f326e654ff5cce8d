package dynamic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/grant0417/protodynamic/codec"
	"github.com/grant0417/protodynamic/desc"
)

func TestPointRoundTrip(t *testing.T) {
	p := buildPool(t, map[string]string{
		"point.proto": `
			syntax = "proto3";
			message Point {
				int32 x = 1;
				int32 y = 2;
			}
		`,
	}, "point.proto")

	m := mustMessage(t, p, "Point")
	md := m.Descriptor()
	m.SetField(md.FindFieldByName("x"), Int32Value(3))
	m.SetField(md.FindFieldByName("y"), Int32Value(4))

	data, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x03, 0x10, 0x04}, data)

	decoded := NewMessage(md)
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, int32(3), decoded.GetField(md.FindFieldByName("x")).Int32())
	assert.Equal(t, int32(4), decoded.GetField(md.FindFieldByName("y")).Int32())
	assert.True(t, m.Equal(decoded))
}

const wireTestSchema = `
	syntax = "proto3";
	package wire;
	message Scalars {
		sint32 zig = 1;
		sint64 zag = 2;
		fixed32 f32 = 3;
		fixed64 f64 = 4;
		sfixed32 sf32 = 5;
		sfixed64 sf64 = 6;
		float fl = 7;
		double db = 8;
		string s = 9;
		bytes b = 10;
		bool ok = 11;
		uint32 u32 = 12;
		uint64 u64 = 13;
		int64 i64 = 14;
	}
	message Composite {
		repeated int32 packed_nums = 1;
		repeated string names = 2;
		map<int32, string> labels = 3;
		Composite child = 4;
		oneof pick {
			string first = 5;
			int32 second = 6;
		}
	}
`

func wirePool(t *testing.T) *desc.Pool {
	t.Helper()
	return buildPool(t, map[string]string{"wire.proto": wireTestSchema}, "wire.proto")
}

func TestScalarRoundTrip(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Scalars")
	md := m.Descriptor()

	m.SetField(md.FindFieldByName("zig"), Int32Value(-7))
	m.SetField(md.FindFieldByName("zag"), Int64Value(-1<<40))
	m.SetField(md.FindFieldByName("f32"), Uint32Value(12345))
	m.SetField(md.FindFieldByName("f64"), Uint64Value(1<<50))
	m.SetField(md.FindFieldByName("sf32"), Int32Value(-12345))
	m.SetField(md.FindFieldByName("sf64"), Int64Value(-(1 << 50)))
	m.SetField(md.FindFieldByName("fl"), Float32Value(1.5))
	m.SetField(md.FindFieldByName("db"), Float64Value(-2.25))
	m.SetField(md.FindFieldByName("s"), StringValue("héllo"))
	m.SetField(md.FindFieldByName("b"), BytesValue([]byte{0, 1, 2}))
	m.SetField(md.FindFieldByName("ok"), BoolValue(true))
	m.SetField(md.FindFieldByName("u32"), Uint32Value(4294967295))
	m.SetField(md.FindFieldByName("u64"), Uint64Value(1<<63))
	m.SetField(md.FindFieldByName("i64"), Int64Value(-1))

	data, err := m.Marshal()
	require.NoError(t, err)

	decoded := NewMessage(md)
	require.NoError(t, decoded.Unmarshal(data))
	assert.True(t, m.Equal(decoded))
}

func TestCompositeRoundTrip(t *testing.T) {
	p := wirePool(t)
	m := mustMessage(t, p, "wire.Composite")
	md := m.Descriptor()

	m.SetField(md.FindFieldByName("packed_nums"),
		ListValue([]Value{Int32Value(1), Int32Value(-1), Int32Value(300)}))
	m.SetField(md.FindFieldByName("names"),
		ListValue([]Value{StringValue("a"), StringValue("b")}))
	labels := NewMap()
	labels.Set(Int32Value(1), StringValue("one"))
	labels.Set(Int32Value(2), StringValue("two"))
	m.SetField(md.FindFieldByName("labels"), MapValue(labels))
	child := NewMessage(md)
	child.SetField(md.FindFieldByName("first"), StringValue("inner"))
	m.SetField(md.FindFieldByName("child"), MessageValue(child))

	data, err := m.Marshal()
	require.NoError(t, err)

	decoded := NewMessage(md)
	require.NoError(t, decoded.Unmarshal(data))
	assert.True(t, m.Equal(decoded))

	got, ok := decoded.GetField(md.FindFieldByName("labels")).Map().Get(Int32Value(2))
	require.True(t, ok)
	assert.Equal(t, "two", got.Str())
	assert.Same(t, md.FindFieldByName("first"),
		decoded.GetField(md.FindFieldByName("child")).Message().WhichOneof(md.Oneofs()[0]))
}

func TestUnknownFieldsPreserved(t *testing.T) {
	p := wirePool(t)
	full := mustMessage(t, p, "wire.Scalars")
	md := full.Descriptor()
	full.SetField(md.FindFieldByName("s"), StringValue("keep"))
	full.SetField(md.FindFieldByName("u64"), Uint64Value(99))
	data, err := full.Marshal()
	require.NoError(t, err)

	// decode with a descriptor that only knows field 9
	narrow := buildPool(t, map[string]string{
		"narrow.proto": `
			syntax = "proto3";
			package wire;
			message Scalars { string s = 9; }
		`,
	}, "narrow.proto")
	m := mustMessage(t, narrow, "wire.Scalars")
	require.NoError(t, m.Unmarshal(data))

	assert.Equal(t, "keep", m.GetField(m.Descriptor().FindFieldByName("s")).Str())
	require.Equal(t, []int32{13}, m.UnknownFieldTags())
	recs := m.UnknownFields(13)
	require.Len(t, recs, 1)
	assert.Equal(t, codec.WireVarint, recs[0].Encoding)
	assert.Equal(t, uint64(99), recs[0].Value)

	// re-encoding reproduces the original byte span
	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestPackedAndUnpackedAccepted(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Composite")
	md := m.Descriptor()

	// unpacked records for a packed-declared field
	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(1, codec.WireVarint))
	require.NoError(t, b.EncodeVarint(5))
	require.NoError(t, b.EncodeTagAndWireType(1, codec.WireVarint))
	require.NoError(t, b.EncodeVarint(6))
	require.NoError(t, m.Unmarshal(b.Bytes()))
	nums := m.GetField(md.FindFieldByName("packed_nums")).List()
	require.Len(t, nums, 2)
	assert.Equal(t, int32(5), nums[0].Int32())
	assert.Equal(t, int32(6), nums[1].Int32())

	// packed payload decodes element-wise too, and elements accumulate
	// across records
	var b2 codec.Buffer
	require.NoError(t, b2.EncodeTagAndWireType(1, codec.WireBytes))
	require.NoError(t, b2.EncodeRawBytes([]byte{0x07, 0x08}))
	require.NoError(t, m.UnmarshalMerge(b2.Bytes()))
	nums = m.GetField(md.FindFieldByName("packed_nums")).List()
	require.Len(t, nums, 4)
	assert.Equal(t, int32(8), nums[3].Int32())
}

func TestWireTypeMismatchRejected(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Scalars")
	md := m.Descriptor()
	m.SetField(md.FindFieldByName("ok"), BoolValue(true))

	// field 9 is a string; send it a varint
	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(9, codec.WireVarint))
	require.NoError(t, b.EncodeVarint(1))

	err := m.Unmarshal(b.Bytes())
	assert.ErrorIs(t, err, ErrWireTypeMismatch)
	assert.Contains(t, err.Error(), "wire.Scalars.s")
	// the failed decode must not disturb existing contents
	assert.True(t, m.GetField(md.FindFieldByName("ok")).Bool())
}

func TestInvalidUTF8Rejected(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Scalars")

	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(9, codec.WireBytes))
	require.NoError(t, b.EncodeRawBytes([]byte{0xff, 0xfe}))

	err := m.Unmarshal(b.Bytes())
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestRecursionLimit(t *testing.T) {
	p := wirePool(t)
	md := p.FindMessage("wire.Composite")

	// nest child messages past the limit
	var payload []byte
	for i := 0; i < maxRecursionDepth+1; i++ {
		var b codec.Buffer
		require.NoError(t, b.EncodeTagAndWireType(4, codec.WireBytes))
		require.NoError(t, b.EncodeRawBytes(payload))
		payload = b.Bytes()
	}

	m := NewMessage(md)
	err := m.Unmarshal(payload)
	assert.ErrorIs(t, err, ErrRecursionDepth)
}

func TestMapEntryDefaults(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Composite")
	md := m.Descriptor()

	// an entry record with no key and no value decodes as defaults
	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(3, codec.WireBytes))
	require.NoError(t, b.EncodeRawBytes(nil))
	require.NoError(t, m.Unmarshal(b.Bytes()))

	mp := m.GetField(md.FindFieldByName("labels")).Map()
	require.Equal(t, 1, mp.Len())
	v, ok := mp.Get(Int32Value(0))
	require.True(t, ok)
	assert.Equal(t, "", v.Str())
}

func TestMapLastEntryWins(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Composite")
	md := m.Descriptor()

	entry := func(key int32, val string) []byte {
		var e codec.Buffer
		require.NoError(t, e.EncodeTagAndWireType(1, codec.WireVarint))
		require.NoError(t, e.EncodeVarint(uint64(key)))
		require.NoError(t, e.EncodeTagAndWireType(2, codec.WireBytes))
		require.NoError(t, e.EncodeRawBytes([]byte(val)))
		var b codec.Buffer
		require.NoError(t, b.EncodeTagAndWireType(3, codec.WireBytes))
		require.NoError(t, b.EncodeRawBytes(e.Bytes()))
		return b.Bytes()
	}
	data := append(entry(1, "first"), entry(1, "second")...)
	require.NoError(t, m.Unmarshal(data))

	mp := m.GetField(md.FindFieldByName("labels")).Map()
	require.Equal(t, 1, mp.Len())
	v, _ := mp.Get(Int32Value(1))
	assert.Equal(t, "second", v.Str())
}

func TestEmbeddedMessageOccurrencesMerge(t *testing.T) {
	p := wirePool(t)
	md := p.FindMessage("wire.Composite")

	childA := NewMessage(md)
	childA.SetField(md.FindFieldByName("first"), StringValue("x"))
	childB := NewMessage(md)
	childB.SetField(md.FindFieldByName("names"), ListValue([]Value{StringValue("n")}))

	bytesA, err := childA.Marshal()
	require.NoError(t, err)
	bytesB, err := childB.Marshal()
	require.NoError(t, err)

	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(4, codec.WireBytes))
	require.NoError(t, b.EncodeRawBytes(bytesA))
	require.NoError(t, b.EncodeTagAndWireType(4, codec.WireBytes))
	require.NoError(t, b.EncodeRawBytes(bytesB))

	m := NewMessage(md)
	require.NoError(t, m.Unmarshal(b.Bytes()))
	child := m.GetField(md.FindFieldByName("child")).Message()
	assert.Equal(t, "x", child.GetField(md.FindFieldByName("first")).Str())
	assert.Len(t, child.GetField(md.FindFieldByName("names")).List(), 1)
}

func TestGroupsRoundTrip(t *testing.T) {
	p := buildPool(t, map[string]string{
		"groups.proto": `
			syntax = "proto2";
			package groups;
			message Outer {
				optional group Item = 1 {
					optional int32 n = 2;
				}
				repeated group Entry = 3 {
					optional string s = 4;
				}
			}
		`,
	}, "groups.proto")

	m := mustMessage(t, p, "groups.Outer")
	md := m.Descriptor()
	itemField := md.FindFieldByName("item")
	require.NotNil(t, itemField)
	item := NewMessage(itemField.MessageType())
	item.SetField(itemField.MessageType().FindFieldByName("n"), Int32Value(41))
	m.SetField(itemField, MessageValue(item))

	entryField := md.FindFieldByName("entry")
	require.NotNil(t, entryField)
	entry := NewMessage(entryField.MessageType())
	entry.SetField(entryField.MessageType().FindFieldByName("s"), StringValue("g"))
	m.SetField(entryField, ListValue([]Value{MessageValue(entry)}))

	data, err := m.Marshal()
	require.NoError(t, err)

	decoded := NewMessage(md)
	require.NoError(t, decoded.Unmarshal(data))
	assert.True(t, m.Equal(decoded))

	// an unknown group round-trips through a descriptor without it
	narrow := buildPool(t, map[string]string{
		"narrow.proto": `syntax = "proto2"; package groups; message Outer { optional int32 other = 15; }`,
	}, "narrow.proto")
	n := mustMessage(t, narrow, "groups.Outer")
	require.NoError(t, n.Unmarshal(data))
	assert.Equal(t, []int32{1, 3}, n.UnknownFieldTags())
	out, err := n.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestRepeatedGroupRejectsPackedRecord(t *testing.T) {
	p := buildPool(t, map[string]string{
		"groups.proto": `
			syntax = "proto2";
			package groups;
			message Outer {
				repeated group Entry = 3 {
					optional string s = 4;
				}
			}
		`,
	}, "groups.proto")
	m := mustMessage(t, p, "groups.Outer")

	// groups are not packable; a length-delimited record for field 3
	// must not be interpreted as packed group contents, even when the
	// payload parses as a group body followed by an end tag
	var body codec.Buffer
	require.NoError(t, body.EncodeTagAndWireType(4, codec.WireBytes))
	require.NoError(t, body.EncodeRawBytes([]byte("g")))
	require.NoError(t, body.EncodeTagAndWireType(3, codec.WireEndGroup))

	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(3, codec.WireBytes))
	require.NoError(t, b.EncodeRawBytes(body.Bytes()))

	err := m.Unmarshal(b.Bytes())
	assert.ErrorIs(t, err, ErrWireTypeMismatch)
}

func TestNonMinimalVarintUnknownPreserved(t *testing.T) {
	p := buildPool(t, map[string]string{
		"holder.proto": `syntax = "proto3"; package hold; message Holder { string s = 9; }`,
	}, "holder.proto")
	m := mustMessage(t, p, "hold.Holder")

	// field 13 is unknown; 99 encoded with a redundant continuation
	data := []byte{0x68, 0xe3, 0x80, 0x00}
	require.NoError(t, m.Unmarshal(data))

	recs := m.UnknownFields(13)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(99), recs[0].Value)

	// the original byte span re-emits verbatim
	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestExtensionsRoundTrip(t *testing.T) {
	p := buildPool(t, map[string]string{
		"ext.proto": `
			syntax = "proto2";
			package ext;
			message Extendable {
				optional int32 base = 1;
				extensions 100 to 199;
			}
			extend Extendable {
				optional string label = 100;
			}
		`,
	}, "ext.proto")

	m := mustMessage(t, p, "ext.Extendable")
	md := m.Descriptor()
	label := p.FindExtension("ext.Extendable", 100)
	require.NotNil(t, label)

	m.SetField(md.FindFieldByName("base"), Int32Value(1))
	require.NoError(t, m.TrySetField(label, StringValue("tagged")))
	assert.True(t, m.HasField(label))
	assert.Equal(t, "tagged", m.GetField(label).Str())

	data, err := m.Marshal()
	require.NoError(t, err)

	// the pool knows the extension, so decode resolves it
	decoded := NewMessage(md)
	require.NoError(t, decoded.Unmarshal(data))
	assert.Equal(t, "tagged", decoded.GetField(label).Str())
	assert.Empty(t, decoded.UnknownFieldTags())
}

func TestDeterministicMarshal(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Composite")
	md := m.Descriptor()

	mp := NewMap()
	mp.Set(Int32Value(3), StringValue("c"))
	mp.Set(Int32Value(1), StringValue("a"))
	mp.Set(Int32Value(2), StringValue("b"))
	m.SetField(md.FindFieldByName("labels"), MapValue(mp))

	first, err := m.MarshalDeterministic()
	require.NoError(t, err)

	// same contents inserted in a different order
	m2 := NewMessage(md)
	mp2 := NewMap()
	mp2.Set(Int32Value(2), StringValue("b"))
	mp2.Set(Int32Value(1), StringValue("a"))
	mp2.Set(Int32Value(3), StringValue("c"))
	m2.SetField(md.FindFieldByName("labels"), MapValue(mp2))

	second, err := m2.MarshalDeterministic()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTruncatedInputRejected(t *testing.T) {
	m := mustMessage(t, wirePool(t), "wire.Scalars")
	var b codec.Buffer
	require.NoError(t, b.EncodeTagAndWireType(9, codec.WireBytes))
	require.NoError(t, b.EncodeVarint(100))
	data := append(b.Bytes(), []byte(strings.Repeat("x", 5))...)
	assert.Error(t, m.Unmarshal(data))
}

func TestConvertToAndFrom(t *testing.T) {
	p := buildPool(t, map[string]string{
		"uses_duration.proto": `
			syntax = "proto3";
			import "google/protobuf/duration.proto";
			message Unused { google.protobuf.Duration d = 1; }
		`,
	}, "uses_duration.proto")

	m := mustMessage(t, p, "google.protobuf.Duration")
	md := m.Descriptor()
	m.SetField(md.FindFieldByName("seconds"), Int64Value(3))
	m.SetField(md.FindFieldByName("nanos"), Int32Value(500000000))

	var gen durationpb.Duration
	require.NoError(t, m.ConvertTo(&gen))
	assert.Equal(t, int64(3), gen.GetSeconds())
	assert.Equal(t, int32(500000000), gen.GetNanos())

	back := NewMessage(md)
	require.NoError(t, back.ConvertFrom(&gen))
	assert.True(t, m.Equal(back))

	// type names must match
	other := mustMessage(t, p, "Unused")
	assert.ErrorIs(t, other.ConvertTo(&gen), ErrTypeMismatch)
}
