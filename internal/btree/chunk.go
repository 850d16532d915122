package btree

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

// ChunkEntry is one stored chunk.
type ChunkEntry struct {
	Offset     []uint64 // dataset coordinate of the first element
	Size       uint32
	FilterMask uint32
	Address    uint64
}

// ReadChunks returns every chunk of a tree indexing a dataset of the given
// rank, in key order.
func ReadChunks(r *binary.Reader, address uint64, rank int) ([]ChunkEntry, error) {
	var out []ChunkEntry
	err := walkChunks(r, address, rank, 0, func(e ChunkEntry) { out = append(out, e) })
	return out, err
}

func walkChunks(r *binary.Reader, address uint64, rank, depth int, yield func(ChunkEntry)) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: chunk tree deeper than %d", ErrInvalidNode, maxDepth)
	}
	n, err := readNode(r, address, nodeChunk)
	if err != nil {
		return err
	}
	for range n.entries {
		key, err := readChunkKey(n.r, rank)
		if err != nil {
			return err
		}
		child, err := n.r.ReadOffset()
		if err != nil {
			return fmt.Errorf("reading chunk address: %w", err)
		}
		if n.level > 0 {
			if err := walkChunks(r, child, rank, depth+1, yield); err != nil {
				return err
			}
			continue
		}
		if key.Size == 0 || r.IsUndefinedOffset(child) {
			continue
		}
		key.Address = child
		yield(key)
	}
	return nil
}

func readChunkKey(r *binary.Reader, rank int) (ChunkEntry, error) {
	var e ChunkEntry
	var err error
	if e.Size, err = r.ReadUint32(); err != nil {
		return e, fmt.Errorf("reading chunk size: %w", err)
	}
	if e.FilterMask, err = r.ReadUint32(); err != nil {
		return e, fmt.Errorf("reading filter mask: %w", err)
	}
	e.Offset = make([]uint64, rank)
	for d := range rank {
		if e.Offset[d], err = r.ReadUint64(); err != nil {
			return e, fmt.Errorf("reading chunk offset: %w", err)
		}
	}
	// The element size dimension is always zero.
	r.Skip(8)
	return e, nil
}
