package binary

import (
	"io"
)

// Reader is a cursor over an io.ReaderAt. Copies made with At share the
// source but move independently.
type Reader struct {
	sizes
	src io.ReaderAt
	pos int64
}

func NewReader(r io.ReaderAt, cfg Config) *Reader {
	return &Reader{sizes: newSizes(cfg), src: r}
}

// At returns a reader positioned at offset.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{sizes: r.sizes, src: r.src, pos: offset}
}

func (r *Reader) Pos() int64 { return r.pos }

// Skip moves the cursor n bytes forward.
func (r *Reader) Skip(n int64) { r.pos += n }

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.src.ReadAt(buf, r.pos); err != nil {
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

// ReadUintN reads an n-byte unsigned integer in file byte order.
func (r *Reader) ReadUintN(n int) (uint64, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return r.decode(buf), nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	v, err := r.ReadUintN(1)
	return uint8(v), err
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.ReadUintN(2)
	return uint16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.ReadUintN(4)
	return uint32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadUintN(8)
}

// ReadOffset reads an address of the configured width.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.ReadUintN(r.offsetSize)
}

// ReadLength reads a length of the configured width.
func (r *Reader) ReadLength() (uint64, error) {
	return r.ReadUintN(r.lengthSize)
}
