// Package codec provides a reader/writer type for protobuf's binary
// wire format.
//
// A Buffer wraps a slice of bytes and exposes the primitive encodings
// the wire format is built from: varints, zig-zag varints, fixed-width
// integers, length-delimited byte runs, and group delimiters. Callers
// that need to interpret those primitives against a schema live in the
// dynamic package; nothing here consults a descriptor.
package codec

import (
	"errors"
	"fmt"
	"io"
)

// Wire types, as encoded in the low three bits of a record's tag varint.
const (
	WireVarint     int8 = 0
	WireFixed64    int8 = 1
	WireBytes      int8 = 2
	WireStartGroup int8 = 3
	WireEndGroup   int8 = 4
	WireFixed32    int8 = 5
)

// MaxTag is the largest allowed field tag number.
const MaxTag = 536870911 // 2^29 - 1

// ErrOverflow is returned when a varint is too large to be represented
// in 64 bits.
var ErrOverflow = errors.New("codec: varint overflows 64-bit integer")

// ErrBadWireType is returned when a record carries a wire type outside
// the range the protocol defines.
var ErrBadWireType = errors.New("codec: unrecognized wire type")

// Buffer is a reader and writer over a slice of bytes that understands
// the primitive encodings of the protobuf wire format. The zero value
// is an empty buffer ready for writing.
type Buffer struct {
	buf   []byte
	index int
}

// NewBuffer returns a buffer that reads from the given slice. The
// slice is not copied.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Reset discards the buffer's contents. Subsequent writes allocate a
// new backing slice.
func (b *Buffer) Reset() {
	b.buf = nil
	b.index = 0
}

// Bytes returns the unread portion of the buffer. The returned slice
// aliases the buffer's backing array.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.index:]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.index
}

// EOF reports whether all bytes have been consumed.
func (b *Buffer) EOF() bool {
	return b.index >= len(b.buf)
}

// Skip advances past the next count bytes. It returns
// io.ErrUnexpectedEOF if fewer than count bytes remain.
func (b *Buffer) Skip(count int) error {
	if count < 0 {
		return fmt.Errorf("codec: bad byte length %d", count)
	}
	next := b.index + count
	if next < b.index || next > len(b.buf) {
		return io.ErrUnexpectedEOF
	}
	b.index = next
	return nil
}

// Read implements io.Reader.
func (b *Buffer) Read(dest []byte) (int, error) {
	if b.EOF() {
		return 0, io.EOF
	}
	n := copy(dest, b.buf[b.index:])
	b.index += n
	return n, nil
}

var _ io.Reader = (*Buffer)(nil)

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(data []byte) (int, error) {
	b.buf = append(b.buf, data...)
	return len(data), nil
}

var _ io.Writer = (*Buffer)(nil)

// DecodeVarint reads one base-128 varint. This is the representation
// of bool, enum, and all non-fixed integer field types.
func (b *Buffer) DecodeVarint() (uint64, error) {
	var x uint64
	for n := 0; n < 10; n++ {
		i := b.index + n
		if i >= len(b.buf) {
			return 0, io.ErrUnexpectedEOF
		}
		c := b.buf[i]
		x |= uint64(c&0x7f) << uint(7*n)
		if c < 0x80 {
			// the tenth byte contributes only the top bit
			if n == 9 && c > 1 {
				return 0, ErrOverflow
			}
			b.index = i + 1
			return x, nil
		}
	}
	return 0, ErrOverflow
}

// DecodeTagAndWireType reads a record's key varint and splits it into
// the field tag number and wire type.
func (b *Buffer) DecodeTagAndWireType() (tag int32, wireType int8, err error) {
	v, err := b.DecodeVarint()
	if err != nil {
		return 0, 0, err
	}
	wireType = int8(v & 7)
	v >>= 3
	if v < 1 || v > MaxTag {
		return 0, 0, fmt.Errorf("codec: tag number out of range: %d", v)
	}
	return int32(v), wireType, nil
}

// DecodeFixed64 reads a little-endian 64-bit integer. This is the
// representation of the fixed64, sfixed64, and double field types.
func (b *Buffer) DecodeFixed64() (uint64, error) {
	i := b.index + 8
	if i < 0 || i > len(b.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b.index = i
	x := uint64(b.buf[i-8])
	x |= uint64(b.buf[i-7]) << 8
	x |= uint64(b.buf[i-6]) << 16
	x |= uint64(b.buf[i-5]) << 24
	x |= uint64(b.buf[i-4]) << 32
	x |= uint64(b.buf[i-3]) << 40
	x |= uint64(b.buf[i-2]) << 48
	x |= uint64(b.buf[i-1]) << 56
	return x, nil
}

// DecodeFixed32 reads a little-endian 32-bit integer. This is the
// representation of the fixed32, sfixed32, and float field types.
func (b *Buffer) DecodeFixed32() (uint64, error) {
	i := b.index + 4
	if i < 0 || i > len(b.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b.index = i
	x := uint64(b.buf[i-4])
	x |= uint64(b.buf[i-3]) << 8
	x |= uint64(b.buf[i-2]) << 16
	x |= uint64(b.buf[i-1]) << 24
	return x, nil
}

// DecodeRawBytes reads a length-delimited run of bytes, the
// representation of string, bytes, embedded message, and packed
// repeated field types. If alloc is true the result is copied out of
// the buffer; otherwise it aliases the buffer's backing array.
func (b *Buffer) DecodeRawBytes(alloc bool) ([]byte, error) {
	n, err := b.DecodeVarint()
	if err != nil {
		return nil, err
	}
	count := int(n)
	if count < 0 {
		return nil, fmt.Errorf("codec: bad byte length %d", count)
	}
	end := b.index + count
	if end < b.index || end > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	result := b.buf[b.index:end:end]
	b.index = end
	if alloc {
		result = append([]byte(nil), result...)
	}
	return result, nil
}

// ReadGroup reads records until the matching "end group" tag and
// returns the bytes in between, excluding the end tag itself. The
// buffer is left positioned after the end tag. Nested groups are
// handled: a nested "start group" consumes input through its own end
// tag. If alloc is true the result is copied.
func (b *Buffer) ReadGroup(alloc bool) ([]byte, error) {
	dataEnd, groupEnd, err := b.findGroupEnd()
	if err != nil {
		return nil, err
	}
	result := b.buf[b.index:dataEnd:dataEnd]
	b.index = groupEnd
	if alloc {
		result = append([]byte(nil), result...)
	}
	return result, nil
}

// SkipGroup advances the buffer past the matching "end group" tag,
// discarding the group's contents.
func (b *Buffer) SkipGroup() error {
	_, groupEnd, err := b.findGroupEnd()
	if err != nil {
		return err
	}
	b.index = groupEnd
	return nil
}

// SkipField advances past one record's payload, given the wire type
// already read from its key.
func (b *Buffer) SkipField(wireType int8) error {
	switch wireType {
	case WireVarint:
		_, err := b.DecodeVarint()
		return err
	case WireFixed32:
		return b.Skip(4)
	case WireFixed64:
		return b.Skip(8)
	case WireBytes:
		n, err := b.DecodeVarint()
		if err != nil {
			return err
		}
		return b.Skip(int(n))
	case WireStartGroup:
		return b.SkipGroup()
	default:
		return ErrBadWireType
	}
}

// findGroupEnd scans forward from the current position and returns the
// offset of the enclosing group's end tag (dataEnd) and the offset just
// past it (groupEnd). The read position is restored before returning.
func (b *Buffer) findGroupEnd() (dataEnd int, groupEnd int, err error) {
	start := b.index
	defer func() {
		b.index = start
	}()
	for {
		fieldStart := b.index
		_, wireType, err := b.DecodeTagAndWireType()
		if err != nil {
			return 0, 0, err
		}
		if wireType == WireEndGroup {
			return fieldStart, b.index, nil
		}
		if err := b.SkipField(wireType); err != nil {
			return 0, 0, err
		}
	}
}

// EncodeVarint writes a base-128 varint.
func (b *Buffer) EncodeVarint(x uint64) error {
	for x >= 1<<7 {
		b.buf = append(b.buf, uint8(x&0x7f|0x80))
		x >>= 7
	}
	b.buf = append(b.buf, uint8(x))
	return nil
}

// EncodeTagAndWireType writes a record key combining the given field
// tag and wire type.
func (b *Buffer) EncodeTagAndWireType(tag int32, wireType int8) error {
	return b.EncodeVarint(uint64(int64(tag)<<3 | int64(wireType)))
}

// EncodeFixed64 writes a little-endian 64-bit integer.
func (b *Buffer) EncodeFixed64(x uint64) error {
	b.buf = append(b.buf,
		uint8(x),
		uint8(x>>8),
		uint8(x>>16),
		uint8(x>>24),
		uint8(x>>32),
		uint8(x>>40),
		uint8(x>>48),
		uint8(x>>56))
	return nil
}

// EncodeFixed32 writes a little-endian 32-bit integer.
func (b *Buffer) EncodeFixed32(x uint64) error {
	b.buf = append(b.buf,
		uint8(x),
		uint8(x>>8),
		uint8(x>>16),
		uint8(x>>24))
	return nil
}

// EncodeRawBytes writes a length-delimited run of bytes.
func (b *Buffer) EncodeRawBytes(data []byte) error {
	if err := b.EncodeVarint(uint64(len(data))); err != nil {
		return err
	}
	b.buf = append(b.buf, data...)
	return nil
}

// EncodeZigZag64 maps a signed 64-bit integer onto an unsigned one so
// that values of small magnitude, negative included, encode compactly
// as varints.
func EncodeZigZag64(v int64) uint64 {
	return (uint64(v) << 1) ^ uint64(v>>63)
}

// DecodeZigZag64 inverts EncodeZigZag64.
func DecodeZigZag64(v uint64) int64 {
	return int64((v >> 1) ^ uint64((int64(v&1)<<63)>>63))
}

// EncodeZigZag32 is the 32-bit variant of EncodeZigZag64.
func EncodeZigZag32(v int32) uint64 {
	return uint64((uint32(v) << 1) ^ uint32(v>>31))
}

// DecodeZigZag32 inverts EncodeZigZag32.
func DecodeZigZag32(v uint64) int32 {
	return int32((uint32(v) >> 1) ^ uint32((int32(v&1)<<31)>>31))
}
