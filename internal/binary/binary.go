// Package binary reads and writes the fixed and variable width integers
// HDF5 metadata is built from.
//
// Addresses ("offsets") and lengths have a per-file width taken from the
// superblock. A value with every bit set is the undefined address.
package binary

import (
	"encoding/binary"
)

// Config fixes the integer widths and byte order of a file.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int
	LengthSize int
}

// DefaultConfig is little-endian with 8-byte offsets and lengths, which is
// what the writer produces and what superblock probing starts from.
func DefaultConfig() Config {
	return Config{ByteOrder: binary.LittleEndian, OffsetSize: 8, LengthSize: 8}
}

// sizes is shared by Reader and Writer.
type sizes struct {
	order      binary.ByteOrder
	offsetSize int
	lengthSize int
}

func newSizes(cfg Config) sizes {
	order := cfg.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	return sizes{order: order, offsetSize: cfg.OffsetSize, lengthSize: cfg.LengthSize}
}

// OffsetSize is the address width in bytes.
func (s sizes) OffsetSize() int { return s.offsetSize }

// LengthSize is the length width in bytes.
func (s sizes) LengthSize() int { return s.lengthSize }

// ByteOrder is the file byte order.
func (s sizes) ByteOrder() binary.ByteOrder { return s.order }

// UndefinedOffset is the all-ones address for the configured width.
func (s sizes) UndefinedOffset() uint64 {
	if s.offsetSize >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(s.offsetSize)) - 1
}

// IsUndefinedOffset reports whether addr is the undefined address.
func (s sizes) IsUndefinedOffset(addr uint64) bool {
	return addr == s.UndefinedOffset()
}

func (s sizes) decode(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(s.order.Uint16(buf))
	case 4:
		return uint64(s.order.Uint32(buf))
	case 8:
		return s.order.Uint64(buf)
	}
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func (s sizes) encode(buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		s.order.PutUint16(buf, uint16(v))
	case 4:
		s.order.PutUint32(buf, uint32(v))
	case 8:
		s.order.PutUint64(buf, v)
	default:
		for i := range buf {
			buf[i] = byte(v >> (8 * uint(i)))
		}
	}
}
