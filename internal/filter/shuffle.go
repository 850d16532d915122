package filter

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Shuffle transposes a chunk so that byte k of every element is stored
// contiguously. Client data 0 is the element size. Bytes past the last
// whole element are left in place.
type Shuffle struct {
	width int
}

func NewShuffle(clientData []uint32) *Shuffle {
	s := &Shuffle{width: 1}
	if len(clientData) > 0 && clientData[0] > 0 {
		s.width = int(clientData[0])
	}
	return s
}

func (s *Shuffle) ID() uint16           { return message.FilterShuffle }
func (s *Shuffle) ClientData() []uint32 { return []uint32{uint32(s.width)} }

func (s *Shuffle) Encode(in []byte) ([]byte, error) { return s.transpose(in, true), nil }
func (s *Shuffle) Decode(in []byte) ([]byte, error) { return s.transpose(in, false), nil }

func (s *Shuffle) transpose(in []byte, forward bool) []byte {
	n := len(in) / s.width
	if s.width <= 1 || n == 0 {
		return in
	}
	out := make([]byte, len(in))
	for e := range n {
		for k := range s.width {
			packed, plain := k*n+e, e*s.width+k
			if forward {
				out[packed] = in[plain]
			} else {
				out[plain] = in[packed]
			}
		}
	}
	copy(out[n*s.width:], in[n*s.width:])
	return out
}

// Fletcher32 appends a 4-byte little-endian checksum of the chunk and
// verifies it on decode.
type Fletcher32 struct{}

func NewFletcher32([]uint32) *Fletcher32 { return &Fletcher32{} }

func (Fletcher32) ID() uint16           { return message.FilterFletcher32 }
func (Fletcher32) ClientData() []uint32 { return nil }

func (Fletcher32) Encode(in []byte) ([]byte, error) {
	out := make([]byte, len(in)+4)
	copy(out, in)
	binary.LittleEndian.PutUint32(out[len(in):], binpkg.Fletcher32(in))
	return out, nil
}

func (Fletcher32) Decode(in []byte) ([]byte, error) {
	if len(in) < 4 {
		return nil, fmt.Errorf("fletcher32: %d byte chunk has no checksum", len(in))
	}
	body := in[:len(in)-4]
	stored := binary.LittleEndian.Uint32(in[len(in)-4:])
	if got := binpkg.Fletcher32(body); got != stored {
		return nil, fmt.Errorf("fletcher32: checksum %08x, stored %08x", got, stored)
	}
	return body, nil
}
