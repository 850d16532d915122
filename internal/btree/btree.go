// Package btree reads the version 1 B-trees of older HDF5 files: group
// trees whose leaves point at symbol table nodes, and chunk trees that
// index the chunks of a dataset.
//
// Node layout, with O the size of offsets:
//
//	"TREE" | type(1) | level(1) | entries used(2) | left sibling (O) | right sibling (O)
//	key 0 | child 0 | key 1 | ... | child n-1 | key n
//
// Group keys are local heap offsets (L bytes). Chunk keys are the chunk
// size(4), filter mask(4) and rank+1 element offsets of 8 bytes.
package btree

import (
	"errors"
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

const (
	nodeGroup = 0
	nodeChunk = 1
)

var ErrInvalidNode = errors.New("invalid B-tree node")

// maxDepth bounds the recursion into corrupt files.
const maxDepth = 32

type node struct {
	level   uint8
	entries uint16
	r       *binary.Reader // positioned at key 0
}

func readNode(r *binary.Reader, address uint64, typ uint8) (*node, error) {
	nr := r.At(int64(address))
	sig, err := nr.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("reading B-tree node at %d: %w", address, err)
	}
	if string(sig) != "TREE" {
		return nil, fmt.Errorf("%w: signature %q at %d", ErrInvalidNode, sig, address)
	}
	got, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if got != typ {
		return nil, fmt.Errorf("%w: node type %d at %d, want %d", ErrInvalidNode, got, address, typ)
	}
	n := &node{r: nr}
	if n.level, err = nr.ReadUint8(); err != nil {
		return nil, err
	}
	if n.entries, err = nr.ReadUint16(); err != nil {
		return nil, err
	}
	nr.Skip(2 * int64(r.OffsetSize()))
	return n, nil
}
