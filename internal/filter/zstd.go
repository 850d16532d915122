package filter

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("creating zstd decoder: %v", err))
		}
		return decoder
	},
}

// Zstd implements the registered Zstandard filter (ID 32015).
// Each chunk is stored as one complete zstd frame.
type Zstd struct {
	level int
}

// NewZstd creates a Zstandard filter.
// Client data: [0] = compression level (optional).
func NewZstd(clientData []uint32) *Zstd {
	level := 3
	if len(clientData) > 0 && clientData[0] > 0 {
		level = int(clientData[0])
	}
	return &Zstd{level: level}
}

func (f *Zstd) ID() uint16 {
	return message.FilterZstd
}

func (f *Zstd) ClientData() []uint32 {
	return []uint32{uint32(f.level)}
}

func (f *Zstd) Decode(input []byte) ([]byte, error) {
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	output, err := decoder.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return output, nil
}

func (f *Zstd) Encode(input []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(f.level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(input, make([]byte, 0, len(input)/2)), nil
}
