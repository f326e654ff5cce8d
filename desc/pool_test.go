package desc

import (
	"context"
	"math"
	"testing"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/protoutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// compileFiles compiles .proto sources in memory and returns the
// descriptors of the named roots plus their import closure, imports
// first.
func compileFiles(t *testing.T, sources map[string]string, roots ...string) []*dpb.FileDescriptorProto {
	t.Helper()
	compiler := &protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(sources),
		}),
	}
	fds, err := compiler.Compile(context.Background(), roots...)
	require.NoError(t, err)

	var out []*dpb.FileDescriptorProto
	seen := map[string]bool{}
	var add func(fd protoreflect.FileDescriptor)
	add = func(fd protoreflect.FileDescriptor) {
		if seen[fd.Path()] {
			return
		}
		seen[fd.Path()] = true
		imports := fd.Imports()
		for i := 0; i < imports.Len(); i++ {
			add(imports.Get(i).FileDescriptor)
		}
		out = append(out, protoutil.ProtoFromFileDescriptor(fd))
	}
	for _, fd := range fds {
		add(fd)
	}
	return out
}

func buildPool(t *testing.T, sources map[string]string, roots ...string) *Pool {
	t.Helper()
	p, err := NewPool(compileFiles(t, sources, roots...)...)
	require.NoError(t, err)
	return p
}

func TestPoolResolvesGraph(t *testing.T) {
	p := buildPool(t, map[string]string{
		"test.proto": `
			syntax = "proto3";
			package testing.pool;
			message Outer {
				int32 plain_field = 1;
				Inner inner = 2;
				repeated Color colors = 3;
				map<string, Inner> by_name = 4;
				oneof choice {
					string text = 5;
					int64 number = 6;
				}
				optional bool maybe = 7 [json_name = "MAYBE"];
				message Inner {
					bytes payload = 1;
				}
			}
			enum Color {
				COLOR_UNSPECIFIED = 0;
				COLOR_RED = 1;
			}
			service Painter {
				rpc Paint(Outer) returns (Outer);
			}
		`,
	}, "test.proto")

	md := p.FindMessage("testing.pool.Outer")
	require.NotNil(t, md)
	assert.Equal(t, "Outer", md.Name())
	assert.Equal(t, "test.proto", md.File().Name())
	assert.True(t, md.File().IsProto3())

	inner := p.FindMessage("testing.pool.Outer.Inner")
	require.NotNil(t, inner)
	assert.Same(t, md, inner.Parent())

	fd := md.FindFieldByName("plain_field")
	require.NotNil(t, fd)
	assert.Equal(t, int32(1), fd.Number())
	assert.Equal(t, "plainField", fd.JSONName())
	assert.Same(t, fd, md.FindFieldByJSONName("plainField"))
	assert.False(t, fd.SupportsPresence())

	assert.Same(t, inner, md.FindFieldByName("inner").MessageType())
	assert.True(t, md.FindFieldByName("inner").SupportsPresence())

	colors := md.FindFieldByName("colors")
	require.NotNil(t, colors)
	assert.True(t, colors.IsRepeated())
	assert.True(t, colors.IsPacked())
	assert.Same(t, p.FindEnum("testing.pool.Color"), colors.EnumType())

	byName := md.FindFieldByName("by_name")
	require.NotNil(t, byName)
	assert.True(t, byName.IsMap())
	assert.Equal(t, dpb.FieldDescriptorProto_TYPE_STRING, byName.MapKeyField().Type())
	assert.Same(t, inner, byName.MapValueField().MessageType())
	assert.True(t, byName.MessageType().IsMapEntry())

	text := md.FindFieldByName("text")
	require.NotNil(t, text)
	require.NotNil(t, text.Oneof())
	assert.Equal(t, "choice", text.Oneof().Name())
	assert.True(t, text.SupportsPresence())
	assert.False(t, text.Oneof().IsSynthetic())

	maybe := md.FindFieldByName("maybe")
	require.NotNil(t, maybe)
	assert.Equal(t, "MAYBE", maybe.JSONName())
	assert.True(t, maybe.SupportsPresence())
	require.NotNil(t, maybe.Oneof())
	assert.True(t, maybe.Oneof().IsSynthetic())

	sd := p.FindService("testing.pool.Painter")
	require.NotNil(t, sd)
	paint := sd.FindMethodByName("Paint")
	require.NotNil(t, paint)
	assert.Same(t, md, paint.InputType())
	assert.Same(t, md, paint.OutputType())

	ed := p.FindEnum("testing.pool.Color")
	require.NotNil(t, ed)
	assert.Equal(t, int32(1), ed.FindValueByName("COLOR_RED").Number())
	assert.Equal(t, "COLOR_RED", ed.FindValueByNumber(1).Name())
}

func TestScopeResolution(t *testing.T) {
	// Inner.Target must win over the package-level Target for the
	// relative reference inside Inner
	p := buildPool(t, map[string]string{
		"scope.proto": `
			syntax = "proto3";
			package scopes;
			message Target { int32 outer_marker = 1; }
			message Inner {
				message Target { int32 inner_marker = 1; }
				Target t = 1;
			}
		`,
	}, "scope.proto")

	inner := p.FindMessage("scopes.Inner")
	require.NotNil(t, inner)
	got := inner.FindFieldByName("t").MessageType()
	assert.Equal(t, "scopes.Inner.Target", got.FullName())
}

func TestDuplicateSymbol(t *testing.T) {
	files := compileFiles(t, map[string]string{
		"a.proto": `syntax = "proto3"; package dup; message Thing { int32 n = 1; }`,
	}, "a.proto")
	clone := proto.Clone(files[0]).(*dpb.FileDescriptorProto)
	clone.Name = proto.String("b.proto")

	p, err := NewPool(files...)
	require.NoError(t, err)

	err = p.AddFile(clone)
	var dup *DuplicateSymbolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dup.Thing", dup.Symbol)
	assert.Equal(t, "b.proto", dup.File)
	assert.Equal(t, "a.proto", dup.ExistingFile)

	// the failed add must not leave anything behind
	assert.Nil(t, p.FindFile("b.proto"))
	assert.Len(t, p.Files(), 1)
}

func TestReAddIdenticalFileIsNoOp(t *testing.T) {
	files := compileFiles(t, map[string]string{
		"a.proto": `syntax = "proto3"; package dup; message Thing { int32 n = 1; }`,
	}, "a.proto")
	p, err := NewPool(files...)
	require.NoError(t, err)
	require.NoError(t, p.AddFile(proto.Clone(files[0]).(*dpb.FileDescriptorProto)))
	assert.Len(t, p.Files(), 1)
}

func TestUnresolvedReference(t *testing.T) {
	fdp := &dpb.FileDescriptorProto{
		Name:    proto.String("bad.proto"),
		Package: proto.String("bad"),
		Syntax:  proto.String("proto3"),
		MessageType: []*dpb.DescriptorProto{{
			Name: proto.String("Holder"),
			Field: []*dpb.FieldDescriptorProto{{
				Name:     proto.String("f"),
				Number:   proto.Int32(1),
				Label:    dpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				Type:     dpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
				TypeName: proto.String(".bad.Missing"),
				JsonName: proto.String("f"),
			}},
		}},
	}
	_, err := NewPool(fdp)
	var unres *UnresolvedReferenceError
	require.ErrorAs(t, err, &unres)
	assert.Equal(t, "bad.Missing", unres.Symbol)
	assert.Equal(t, "bad.proto", unres.ReferencingFile)
}

func TestTypeWithoutTypeName(t *testing.T) {
	build := func(typ *dpb.FieldDescriptorProto_Type) error {
		fdp := &dpb.FileDescriptorProto{
			Name:    proto.String("bad.proto"),
			Package: proto.String("bad"),
			Syntax:  proto.String("proto3"),
			MessageType: []*dpb.DescriptorProto{{
				Name: proto.String("Holder"),
				Field: []*dpb.FieldDescriptorProto{{
					Name:     proto.String("f"),
					Number:   proto.Int32(1),
					Label:    dpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					Type:     typ,
					JsonName: proto.String("f"),
				}},
			}},
		}
		_, err := NewPool(fdp)
		return err
	}

	// message-, group- and enum-typed fields must name their type;
	// a field with no type at all is just as malformed
	for _, typ := range []*dpb.FieldDescriptorProto_Type{
		dpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		dpb.FieldDescriptorProto_TYPE_GROUP.Enum(),
		dpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
		nil,
	} {
		err := build(typ)
		var malformed *MalformedDescriptorError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, "bad.proto", malformed.File)
	}

	// a scalar field carries no type name and is fine
	assert.NoError(t, build(dpb.FieldDescriptorProto_TYPE_INT32.Enum()))
}

func TestMissingImport(t *testing.T) {
	fdp := &dpb.FileDescriptorProto{
		Name:       proto.String("needy.proto"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"nowhere.proto"},
	}
	_, err := NewPool(fdp)
	var malformed *MalformedDescriptorError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "needy.proto", malformed.File)
}

func TestEditionsRejected(t *testing.T) {
	fdp := &dpb.FileDescriptorProto{
		Name:   proto.String("future.proto"),
		Syntax: proto.String("editions"),
	}
	_, err := NewPool(fdp)
	var malformed *MalformedDescriptorError
	require.ErrorAs(t, err, &malformed)
}

func TestIncrementalAdd(t *testing.T) {
	sources := map[string]string{
		"base.proto": `syntax = "proto3"; package inc; message Base { int32 n = 1; }`,
		"user.proto": `
			syntax = "proto3";
			package inc;
			import "base.proto";
			message User { Base base = 1; }
		`,
	}
	files := compileFiles(t, sources, "user.proto")
	require.Len(t, files, 2)

	p, err := NewPool()
	require.NoError(t, err)

	// user.proto cannot land before its import
	err = p.AddFile(files[1])
	var malformed *MalformedDescriptorError
	require.ErrorAs(t, err, &malformed)
	assert.Len(t, p.Files(), 0)

	require.NoError(t, p.AddFile(files[0]))
	require.NoError(t, p.AddFile(files[1]))

	user := p.FindMessage("inc.User")
	require.NotNil(t, user)
	assert.Same(t, p.FindMessage("inc.Base"), user.FindFieldByName("base").MessageType())
}

func TestWellKnownTypeTags(t *testing.T) {
	p := buildPool(t, map[string]string{
		"wkt.proto": `
			syntax = "proto3";
			package wkt;
			import "google/protobuf/any.proto";
			import "google/protobuf/duration.proto";
			import "google/protobuf/timestamp.proto";
			import "google/protobuf/struct.proto";
			import "google/protobuf/empty.proto";
			import "google/protobuf/field_mask.proto";
			import "google/protobuf/wrappers.proto";
			message Holder {
				google.protobuf.Any any = 1;
				google.protobuf.Duration dur = 2;
				google.protobuf.Timestamp ts = 3;
				google.protobuf.Struct st = 4;
				google.protobuf.Value val = 5;
				google.protobuf.ListValue lv = 6;
				google.protobuf.Empty empty = 7;
				google.protobuf.FieldMask mask = 8;
				google.protobuf.Int64Value wrapped = 9;
			}
		`,
	}, "wkt.proto")

	md := p.FindMessage("wkt.Holder")
	require.NotNil(t, md)
	expect := map[string]WellKnownType{
		"any":     WellKnownAny,
		"dur":     WellKnownDuration,
		"ts":      WellKnownTimestamp,
		"st":      WellKnownStruct,
		"val":     WellKnownValue,
		"lv":      WellKnownListValue,
		"empty":   WellKnownEmpty,
		"mask":    WellKnownFieldMask,
		"wrapped": WellKnownWrapper,
	}
	for name, wkt := range expect {
		fd := md.FindFieldByName(name)
		require.NotNil(t, fd, name)
		assert.Equal(t, wkt, fd.MessageType().WellKnownType(), name)
	}
	assert.Equal(t, WellKnownNone, md.WellKnownType())
}

func TestExtensions(t *testing.T) {
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
			message Other {
				extend Extendable {
					optional int32 count = 101;
				}
			}
		`,
	}, "ext.proto")

	extendable := p.FindMessage("ext.Extendable")
	require.NotNil(t, extendable)
	assert.True(t, extendable.IsExtendable())
	assert.True(t, extendable.IsExtensionNumber(100))
	assert.True(t, extendable.IsExtensionNumber(199))
	assert.False(t, extendable.IsExtensionNumber(200))

	label := p.FindExtension("ext.Extendable", 100)
	require.NotNil(t, label)
	assert.True(t, label.IsExtension())
	assert.Equal(t, "ext.label", label.FullName())
	assert.Same(t, extendable, label.Owner())

	all := p.FindExtensionsFor("ext.Extendable")
	require.Len(t, all, 2)
	assert.Equal(t, int32(100), all[0].Number())
	assert.Equal(t, int32(101), all[1].Number())
	assert.Equal(t, "ext.Other.count", all[1].FullName())
}

func TestExtensionOutOfRange(t *testing.T) {
	fdp := &dpb.FileDescriptorProto{
		Name:    proto.String("extrange.proto"),
		Package: proto.String("extrange"),
		MessageType: []*dpb.DescriptorProto{{
			Name: proto.String("Extendable"),
			ExtensionRange: []*dpb.DescriptorProto_ExtensionRange{{
				Start: proto.Int32(100), End: proto.Int32(200),
			}},
		}},
		Extension: []*dpb.FieldDescriptorProto{{
			Name:     proto.String("stray"),
			Number:   proto.Int32(5),
			Label:    dpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     dpb.FieldDescriptorProto_TYPE_INT32.Enum(),
			Extendee: proto.String(".extrange.Extendable"),
		}},
	}
	_, err := NewPool(fdp)
	var malformed *MalformedDescriptorError
	require.ErrorAs(t, err, &malformed)
}

func TestPoolFromBytes(t *testing.T) {
	files := compileFiles(t, map[string]string{
		"a.proto": `syntax = "proto3"; package bytes; message Blob { bytes data = 1; }`,
	}, "a.proto")
	set := &dpb.FileDescriptorSet{File: files}
	data, err := proto.Marshal(set)
	require.NoError(t, err)

	p, err := NewPoolFromBytes(data)
	require.NoError(t, err)
	assert.NotNil(t, p.FindMessage("bytes.Blob"))

	_, err = NewPoolFromBytes([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestDefaultValues(t *testing.T) {
	p := buildPool(t, map[string]string{
		"defaults.proto": `
			syntax = "proto2";
			package defaults;
			enum Mode {
				MODE_A = 5;
				MODE_B = 6;
			}
			message Holder {
				optional int32 i = 1 [default = -42];
				optional uint64 u = 2 [default = 10000000000];
				optional string s = 3 [default = "hi there"];
				optional bytes b = 4 [default = "a\n\x01\377"];
				optional double d = 5 [default = inf];
				optional float f = 6 [default = -0.5];
				optional bool ok = 7 [default = true];
				optional Mode mode = 8 [default = MODE_B];
				optional Mode mode_zero = 9;
				optional int64 plain = 10;
			}
		`,
	}, "defaults.proto")

	md := p.FindMessage("defaults.Holder")
	require.NotNil(t, md)

	assert.Equal(t, int32(-42), md.FindFieldByName("i").DefaultValue())
	assert.Equal(t, uint64(10000000000), md.FindFieldByName("u").DefaultValue())
	assert.Equal(t, "hi there", md.FindFieldByName("s").DefaultValue())
	assert.Equal(t, []byte{'a', '\n', 0x01, 0xff}, md.FindFieldByName("b").DefaultValue())
	assert.Equal(t, math.Inf(1), md.FindFieldByName("d").DefaultValue())
	assert.Equal(t, float32(-0.5), md.FindFieldByName("f").DefaultValue())
	assert.Equal(t, true, md.FindFieldByName("ok").DefaultValue())
	assert.Equal(t, int32(6), md.FindFieldByName("mode").DefaultValue())
	// no explicit default: the first declared enum value
	assert.Equal(t, int32(5), md.FindFieldByName("mode_zero").DefaultValue())
	assert.Equal(t, int64(0), md.FindFieldByName("plain").DefaultValue())

	// proto2 singular fields support presence, packed defaults off
	assert.True(t, md.FindFieldByName("i").SupportsPresence())
}

func TestProto2PackedOption(t *testing.T) {
	p := buildPool(t, map[string]string{
		"packed.proto": `
			syntax = "proto2";
			package packing;
			message Holder {
				repeated int32 loose = 1;
				repeated int32 tight = 2 [packed = true];
				repeated string text = 3;
			}
		`,
	}, "packed.proto")

	md := p.FindMessage("packing.Holder")
	require.NotNil(t, md)
	assert.False(t, md.FindFieldByName("loose").IsPacked())
	assert.True(t, md.FindFieldByName("tight").IsPacked())
	// strings are never packable
	assert.False(t, md.FindFieldByName("text").IsPacked())
}

func TestFindSymbolKinds(t *testing.T) {
	p := buildPool(t, map[string]string{
		"sym.proto": `
			syntax = "proto3";
			package sym;
			message M { int32 f = 1; }
			enum E { E_ZERO = 0; }
		`,
	}, "sym.proto")

	_, isMsg := p.FindSymbol("sym.M").(*MessageDescriptor)
	assert.True(t, isMsg)
	_, isField := p.FindSymbol("sym.M.f").(*FieldDescriptor)
	assert.True(t, isField)
	_, isEnum := p.FindSymbol("sym.E").(*EnumDescriptor)
	assert.True(t, isEnum)
	_, isValue := p.FindSymbol("sym.E.E_ZERO").(*EnumValueDescriptor)
	assert.True(t, isValue)
	assert.Nil(t, p.FindSymbol("sym.Nope"))
	assert.Nil(t, p.FindMessage("sym.E"))
}
