package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
)

var errTruncated = errors.New("truncated")

// decoder walks a message body. The first short read latches err; every
// read after that returns zero values.
type decoder struct {
	b   []byte
	pos int
	err error
	r   *binpkg.Reader
}

func newDecoder(b []byte, r *binpkg.Reader) *decoder {
	return &decoder{b: b, r: r}
}

func (d *decoder) failf(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.b) {
		d.err = fmt.Errorf("%w reading %d bytes at %d of %d", errTruncated, n, d.pos, len(d.b))
		return nil
	}
	p := d.b[d.pos : d.pos+n]
	d.pos += n
	return p
}

func (d *decoder) skip(n int)     { d.take(n) }
func (d *decoder) remaining() int { return len(d.b) - d.pos }
func (d *decoder) u8() uint8      { return uint8(d.uintN(1)) }
func (d *decoder) u16() uint16    { return uint16(d.uintN(2)) }
func (d *decoder) u32() uint32    { return uint32(d.uintN(4)) }
func (d *decoder) offset() uint64 { return d.uintN(d.r.OffsetSize()) }
func (d *decoder) length() uint64 { return d.uintN(d.r.LengthSize()) }
func (d *decoder) rest() []byte   { return d.take(d.remaining()) }

func (d *decoder) undefined(addr uint64) bool { return d.r.IsUndefinedOffset(addr) }

// uintN reads a little-endian integer of n bytes.
func (d *decoder) uintN(n int) uint64 {
	p := d.take(n)
	var v uint64
	for i := len(p) - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	return v
}

// name reads n bytes and cuts them at the first NUL.
func (d *decoder) name(n int) string {
	p := d.take(n)
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

// copyBytes reads n bytes into a fresh slice.
func (d *decoder) copyBytes(n int) []byte {
	p := d.take(n)
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

// Encoder builds a little-endian message body.
type Encoder struct {
	buf        []byte
	offsetSize int
	lengthSize int
}

func NewEncoder(offsetSize, lengthSize int) *Encoder {
	return &Encoder{offsetSize: offsetSize, lengthSize: lengthSize}
}

func (e *Encoder) Bytes(p []byte) { e.buf = append(e.buf, p...) }
func (e *Encoder) Zeros(n int)    { e.buf = append(e.buf, make([]byte, n)...) }
func (e *Encoder) U8(v uint8)     { e.buf = append(e.buf, v) }
func (e *Encoder) U16(v uint16)   { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *Encoder) U32(v uint32)   { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *Encoder) U64(v uint64)   { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

// UintN appends the low n bytes of v.
func (e *Encoder) UintN(v uint64, n int) {
	for i := range n {
		e.buf = append(e.buf, byte(v>>(8*uint(i))))
	}
}

func (e *Encoder) Offset(v uint64) { e.UintN(v, e.offsetSize) }
func (e *Encoder) Length(v uint64) { e.UintN(v, e.lengthSize) }

// Undefined appends the all-ones address.
func (e *Encoder) Undefined() { e.UintN(^uint64(0), e.offsetSize) }

func (e *Encoder) Len() int     { return len(e.buf) }
func (e *Encoder) Data() []byte { return e.buf }

// OffsetSize is the address width the encoder writes.
func (e *Encoder) OffsetSize() int { return e.offsetSize }

// Encodable messages have a write form.
type Encodable interface {
	Message
	Encode(e *Encoder)
}

// Encode returns the body of msg, or false when msg cannot be written.
func Encode(msg Message, offsetSize, lengthSize int) ([]byte, bool) {
	m, ok := msg.(Encodable)
	if !ok {
		return nil, false
	}
	e := NewEncoder(offsetSize, lengthSize)
	m.Encode(e)
	return e.Data(), true
}

// widthFor is the smallest of 1, 2, 4 or 8 bytes that holds v.
func widthFor(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	}
	return 8
}
