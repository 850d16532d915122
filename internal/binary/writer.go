package binary

import (
	"io"
)

// Writer is the write-side counterpart of Reader.
type Writer struct {
	sizes
	dst io.WriterAt
	pos int64
}

func NewWriter(w io.WriterAt, cfg Config) *Writer {
	return &Writer{sizes: newSizes(cfg), dst: w}
}

// At returns a writer positioned at offset.
func (w *Writer) At(offset int64) *Writer {
	return &Writer{sizes: w.sizes, dst: w.dst, pos: offset}
}

func (w *Writer) Pos() int64 { return w.pos }

// Skip moves the cursor n bytes forward without writing.
func (w *Writer) Skip(n int64) { w.pos += n }

func (w *Writer) WriteBytes(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := w.dst.WriteAt(p, w.pos)
	w.pos += int64(n)
	return err
}

// WriteUintN writes v as an n-byte unsigned integer in file byte order.
func (w *Writer) WriteUintN(v uint64, n int) error {
	var buf [8]byte
	if n > len(buf) {
		return io.ErrShortBuffer
	}
	w.encode(buf[:n], v)
	return w.WriteBytes(buf[:n])
}

func (w *Writer) WriteUint8(v uint8) error   { return w.WriteUintN(uint64(v), 1) }
func (w *Writer) WriteUint16(v uint16) error { return w.WriteUintN(uint64(v), 2) }
func (w *Writer) WriteUint32(v uint32) error { return w.WriteUintN(uint64(v), 4) }
func (w *Writer) WriteUint64(v uint64) error { return w.WriteUintN(v, 8) }

// WriteOffset writes an address of the configured width.
func (w *Writer) WriteOffset(v uint64) error { return w.WriteUintN(v, w.offsetSize) }

// WriteLength writes a length of the configured width.
func (w *Writer) WriteLength(v uint64) error { return w.WriteUintN(v, w.lengthSize) }

// WriteZeros writes n zero bytes.
func (w *Writer) WriteZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return w.WriteBytes(make([]byte, n))
}
