package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// defaultLZ4BlockSize matches the block size used by the reference plugin.
const defaultLZ4BlockSize = 1 << 30

// LZ4 implements the registered LZ4 filter (ID 32004).
//
// Stored layout:
//
//	uint64 BE  original size
//	uint32 BE  block size
//	per block: uint32 BE compressed size, payload
//
// A block whose compressed size equals its raw size is stored verbatim.
type LZ4 struct {
	blockSize int
}

// NewLZ4 creates an LZ4 filter.
// Client data: [0] = block size in bytes (optional).
func NewLZ4(clientData []uint32) *LZ4 {
	blockSize := defaultLZ4BlockSize
	if len(clientData) > 0 && clientData[0] > 0 {
		blockSize = int(clientData[0])
	}
	return &LZ4{blockSize: blockSize}
}

func (f *LZ4) ID() uint16 {
	return message.FilterLZ4
}

func (f *LZ4) ClientData() []uint32 {
	if f.blockSize == defaultLZ4BlockSize {
		return nil
	}
	return []uint32{uint32(f.blockSize)}
}

func (f *LZ4) Encode(input []byte) ([]byte, error) {
	blockSize := f.blockSize
	if blockSize > len(input) {
		blockSize = len(input)
	}

	out := make([]byte, 12, 12+lz4.CompressBlockBound(len(input))+4)
	binary.BigEndian.PutUint64(out[0:8], uint64(len(input)))
	binary.BigEndian.PutUint32(out[8:12], uint32(blockSize))

	var c lz4.Compressor
	for off := 0; off < len(input); off += blockSize {
		end := off + blockSize
		if end > len(input) {
			end = len(input)
		}
		src := input[off:end]

		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := c.CompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}

		var size [4]byte
		if n == 0 || n >= len(src) {
			binary.BigEndian.PutUint32(size[:], uint32(len(src)))
			out = append(out, size[:]...)
			out = append(out, src...)
			continue
		}
		binary.BigEndian.PutUint32(size[:], uint32(n))
		out = append(out, size[:]...)
		out = append(out, dst[:n]...)
	}

	return out, nil
}

func (f *LZ4) Decode(input []byte) ([]byte, error) {
	if len(input) < 12 {
		return nil, fmt.Errorf("lz4: input too short for header")
	}
	origSize := binary.BigEndian.Uint64(input[0:8])
	blockSize := uint64(binary.BigEndian.Uint32(input[8:12]))
	if blockSize == 0 {
		blockSize = origSize
	}

	output := make([]byte, origSize)
	pos := 12
	for written := uint64(0); written < origSize; {
		if pos+4 > len(input) {
			return nil, fmt.Errorf("lz4: truncated block header at %d", pos)
		}
		compSize := int(binary.BigEndian.Uint32(input[pos:]))
		pos += 4
		if pos+compSize > len(input) {
			return nil, fmt.Errorf("lz4: truncated block at %d", pos)
		}

		want := blockSize
		if origSize-written < want {
			want = origSize - written
		}
		dst := output[written : written+want]

		if uint64(compSize) == want {
			copy(dst, input[pos:pos+compSize])
		} else {
			n, err := lz4.UncompressBlock(input[pos:pos+compSize], dst)
			if err != nil {
				return nil, fmt.Errorf("lz4 decompress: %w", err)
			}
			if uint64(n) != want {
				return nil, fmt.Errorf("lz4: block decoded to %d bytes, want %d", n, want)
			}
		}
		pos += compSize
		written += want
	}

	return output, nil
}
