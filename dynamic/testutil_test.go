package dynamic

import (
	"context"
	"testing"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/protoutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	dpb "google.golang.org/protobuf/types/descriptorpb"

	"github.com/grant0417/protodynamic/desc"
)

// buildPool compiles .proto sources in memory and loads them, import
// closure included, into a fresh pool.
func buildPool(t *testing.T, sources map[string]string, roots ...string) *desc.Pool {
	t.Helper()
	compiler := &protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(sources),
		}),
	}
	fds, err := compiler.Compile(context.Background(), roots...)
	require.NoError(t, err)

	var files []*dpb.FileDescriptorProto
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
		files = append(files, protoutil.ProtoFromFileDescriptor(fd))
	}
	for _, fd := range fds {
		add(fd)
	}

	p, err := desc.NewPool(files...)
	require.NoError(t, err)
	return p
}

func mustMessage(t *testing.T, p *desc.Pool, name string) *Message {
	t.Helper()
	md := p.FindMessage(name)
	require.NotNil(t, md, "message %s not in pool", name)
	return NewMessage(md)
}
