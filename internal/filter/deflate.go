package filter

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Deflate stores chunks as zlib streams. Client data [0] is the level.
type Deflate struct {
	level int
}

func NewDeflate(cd []uint32) *Deflate {
	if len(cd) == 0 {
		return &Deflate{level: 6}
	}
	return &Deflate{level: int(cd[0])}
}

func (f *Deflate) ID() uint16 { return message.FilterDeflate }

func (f *Deflate) ClientData() []uint32 { return []uint32{uint32(f.level)} }

func (f *Deflate) Decode(stored []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (f *Deflate) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
