package btree

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
)

// cacheSoftLink is the symbol table entry cache type of a soft link.
const cacheSoftLink = 2

// GroupEntry is one member of a group.
type GroupEntry struct {
	Name          string
	ObjectAddress uint64

	// SoftLink holds the target path of a soft link. Hard links leave it
	// empty.
	SoftLink string
}

// ReadGroup returns the members of the group whose B-tree is at address, in
// the order the tree stores them. Names are looked up in names.
func ReadGroup(r *binary.Reader, address uint64, names *heap.LocalHeap) ([]GroupEntry, error) {
	var out []GroupEntry
	err := walkGroup(r, address, names, 0, func(e GroupEntry) { out = append(out, e) })
	return out, err
}

func walkGroup(r *binary.Reader, address uint64, names *heap.LocalHeap, depth int, yield func(GroupEntry)) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: group tree deeper than %d", ErrInvalidNode, maxDepth)
	}
	n, err := readNode(r, address, nodeGroup)
	if err != nil {
		return err
	}
	for range n.entries {
		n.r.Skip(int64(r.LengthSize()))
		child, err := n.r.ReadOffset()
		if err != nil {
			return err
		}
		if n.level > 0 {
			err = walkGroup(r, child, names, depth+1, yield)
		} else {
			err = readSymbolNode(r, child, names, yield)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readSymbolNode reads a symbol table node:
//
//	"SNOD" | version 1 | reserved | symbols(2) | entries
//
// Each entry is name offset (O), header address (O), cache type(4),
// reserved(4) and a 16 byte scratch pad.
func readSymbolNode(r *binary.Reader, address uint64, names *heap.LocalHeap, yield func(GroupEntry)) error {
	sr := r.At(int64(address))
	sig, err := sr.ReadBytes(4)
	if err != nil {
		return fmt.Errorf("reading symbol table node at %d: %w", address, err)
	}
	if string(sig) != "SNOD" {
		return fmt.Errorf("%w: symbol table node signature %q at %d", ErrInvalidNode, sig, address)
	}
	version, err := sr.ReadUint8()
	if err != nil {
		return err
	}
	if version != 1 {
		return fmt.Errorf("%w: symbol table node version %d", ErrInvalidNode, version)
	}
	sr.Skip(1)
	count, err := sr.ReadUint16()
	if err != nil {
		return err
	}
	for i := range count {
		nameOffset, err := sr.ReadOffset()
		if err != nil {
			return err
		}
		addr, err := sr.ReadOffset()
		if err != nil {
			return err
		}
		cache, err := sr.ReadUint32()
		if err != nil {
			return err
		}
		sr.Skip(4)
		scratch, err := sr.ReadBytes(16)
		if err != nil {
			return err
		}
		e := GroupEntry{ObjectAddress: addr}
		if e.Name, err = names.String(nameOffset); err != nil {
			return fmt.Errorf("symbol %d: %w", i, err)
		}
		if cache == cacheSoftLink {
			off := uint64(scratch[0]) | uint64(scratch[1])<<8 | uint64(scratch[2])<<16 | uint64(scratch[3])<<24
			if e.SoftLink, err = names.String(off); err != nil {
				return fmt.Errorf("soft link %q: %w", e.Name, err)
			}
			e.ObjectAddress = 0
		}
		if e.Name != "" {
			yield(e)
		}
	}
	return nil
}
