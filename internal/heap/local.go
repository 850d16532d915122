package heap

import (
	"bytes"
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

// LocalHeap is a parsed local heap:
//
//	"HEAP" | version 0 | 3 reserved | data size (L) | free list head (L) | data address (O)
type LocalHeap struct {
	DataAddress uint64
	data        []byte
}

// ReadLocalHeap parses the local heap at address and loads its data
// segment.
func ReadLocalHeap(r *binary.Reader, address uint64) (*LocalHeap, error) {
	hr := r.At(int64(address))
	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("reading local heap signature: %w", err)
	}
	if string(sig) != "HEAP" {
		return nil, fmt.Errorf("invalid local heap signature: %q", sig)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("unsupported local heap version: %d", version)
	}
	hr.Skip(3)
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}
	hr.Skip(int64(r.LengthSize())) // free list
	dataAddr, err := hr.ReadOffset()
	if err != nil {
		return nil, err
	}
	data, err := r.At(int64(dataAddr)).ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("reading local heap data: %w", err)
	}
	return &LocalHeap{DataAddress: dataAddr, data: data}, nil
}

// String returns the NUL-terminated string at offset.
func (h *LocalHeap) String(offset uint64) (string, error) {
	if offset >= uint64(len(h.data)) {
		return "", fmt.Errorf("local heap offset %d beyond %d bytes", offset, len(h.data))
	}
	rest := h.data[offset:]
	if end := bytes.IndexByte(rest, 0); end >= 0 {
		rest = rest[:end]
	}
	return string(rest), nil
}
