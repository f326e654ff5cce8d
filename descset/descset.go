// Package descset loads serialized FileDescriptorSet blobs, the
// self-describing bootstrap format schema compilers emit (protoc
// --descriptor_set_out, buf build -o).
package descset

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
	dpb "google.golang.org/protobuf/types/descriptorpb"
)

// Parse decodes a serialized FileDescriptorSet.
func Parse(data []byte) (*dpb.FileDescriptorSet, error) {
	var set dpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("descset: parse: %w", err)
	}
	return &set, nil
}

// ReadFile loads and decodes one descriptor set file.
func ReadFile(path string) (*dpb.FileDescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("descset: %w", err)
	}
	return Parse(data)
}

// ReadFiles loads several descriptor set files concurrently and merges
// them into one set, preserving the order of paths. Duplicate file
// entries across sets are kept; Pool construction treats identical
// re-adds as no-ops.
func ReadFiles(ctx context.Context, paths ...string) (*dpb.FileDescriptorSet, error) {
	sets := make([]*dpb.FileDescriptorSet, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			set, err := ReadFile(path)
			if err != nil {
				return err
			}
			sets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := &dpb.FileDescriptorSet{}
	for _, set := range sets {
		merged.File = append(merged.File, set.GetFile()...)
	}
	return merged, nil
}
