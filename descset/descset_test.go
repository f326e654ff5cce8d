package descset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

func writeSet(t *testing.T, dir, name string, files ...string) string {
	t.Helper()
	set := &dpb.FileDescriptorSet{}
	for _, f := range files {
		set.File = append(set.File, &dpb.FileDescriptorProto{
			Name:   proto.String(f),
			Syntax: proto.String("proto3"),
		})
	}
	data, err := proto.Marshal(set)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestParse(t *testing.T) {
	set := &dpb.FileDescriptorSet{File: []*dpb.FileDescriptorProto{{
		Name: proto.String("a.proto"),
	}}}
	data, err := proto.Marshal(set)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, got.GetFile(), 1)
	assert.Equal(t, "a.proto", got.GetFile()[0].GetName())

	_, err = Parse([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSet(t, dir, "one.bin", "x.proto")

	set, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, set.GetFile(), 1)

	_, err = ReadFile(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestReadFilesMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeSet(t, dir, "a.bin", "a1.proto", "a2.proto")
	b := writeSet(t, dir, "b.bin", "b1.proto")

	set, err := ReadFiles(context.Background(), a, b)
	require.NoError(t, err)
	require.Len(t, set.GetFile(), 3)
	assert.Equal(t, "a1.proto", set.GetFile()[0].GetName())
	assert.Equal(t, "a2.proto", set.GetFile()[1].GetName())
	assert.Equal(t, "b1.proto", set.GetFile()[2].GetName())
}

func TestReadFilesPropagatesErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeSet(t, dir, "a.bin", "a.proto")

	_, err := ReadFiles(context.Background(), a, filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}
