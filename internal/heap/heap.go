// Package heap reads and writes HDF5 global heap collections, which hold
// the bytes of variable-length strings such as log lines.
//
// Collection layout, with L the size of lengths:
//
//	"GCOL" | version 1 | 3 reserved | collection size (L)
//	objects: index(2) refcount(2) reserved(4) size(L) data, padded to 8
//	object 0 holds the free space at the end
//
// Collections are at least 4 KiB.
//
// Local heaps, which hold the member names of groups in older files, are
// read only.
package heap

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

// GlobalHeap is one parsed collection.
type GlobalHeap struct {
	CollectionSize uint64
	objects        map[uint16][]byte
}

// GlobalHeapID addresses one object: the collection and the object index.
type GlobalHeapID struct {
	CollectionAddress uint64
	ObjectIndex       uint32
}

const minCollectionSize = 4096

func pad8(n uint64) uint64 {
	return (8 - n%8) % 8
}

// ReadGlobalHeap parses the collection at address.
func ReadGlobalHeap(r *binary.Reader, address uint64) (*GlobalHeap, error) {
	if address == 0 || r.IsUndefinedOffset(address) {
		return nil, fmt.Errorf("invalid global heap address")
	}
	hr := r.At(int64(address))
	sig, err := hr.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("reading global heap signature: %w", err)
	}
	if string(sig) != "GCOL" {
		return nil, fmt.Errorf("invalid global heap signature: %q", sig)
	}
	version, err := hr.ReadUint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("unsupported global heap version: %d", version)
	}
	hr.Skip(3)
	size, err := hr.ReadLength()
	if err != nil {
		return nil, err
	}

	gh := &GlobalHeap{CollectionSize: size, objects: make(map[uint16][]byte)}
	end := int64(address) + int64(size)
	objHeader := int64(8 + r.LengthSize())
	for hr.Pos()+2 <= end {
		index, err := hr.ReadUint16()
		if err != nil || index == 0 {
			break
		}
		hr.Skip(6) // reference count and reserved
		n, err := hr.ReadLength()
		if err != nil {
			return nil, err
		}
		if hr.Pos()+int64(n) > end || int64(n) < 0 {
			return nil, fmt.Errorf("global heap object %d overruns its collection", index)
		}
		data, err := hr.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		gh.objects[index] = data
		hr.Skip(int64(pad8(n)))
		if hr.Pos()+objHeader > end {
			break
		}
	}
	return gh, nil
}

// GetString returns object index as a string, cut at the first NUL.
func (h *GlobalHeap) GetString(index uint16) (string, error) {
	if h == nil {
		return "", fmt.Errorf("nil global heap")
	}
	data, ok := h.objects[index]
	if !ok {
		return "", fmt.Errorf("object index %d not found in global heap", index)
	}
	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// ParseGlobalHeapID decodes a little-endian collection address of
// offsetSize bytes followed by a 4-byte object index.
func ParseGlobalHeapID(data []byte, offsetSize int) (GlobalHeapID, error) {
	switch offsetSize {
	case 2, 4, 8:
	default:
		return GlobalHeapID{}, fmt.Errorf("unsupported offset size: %d", offsetSize)
	}
	if len(data) < offsetSize+4 {
		return GlobalHeapID{}, fmt.Errorf("global heap ID too short: need %d bytes, have %d", offsetSize+4, len(data))
	}
	var id GlobalHeapID
	for i := offsetSize - 1; i >= 0; i-- {
		id.CollectionAddress = id.CollectionAddress<<8 | uint64(data[i])
	}
	for i := 3; i >= 0; i-- {
		id.ObjectIndex = id.ObjectIndex<<8 | uint32(data[offsetSize+i])
	}
	return id, nil
}

// GlobalHeapWriter stores objects in global heap collections. A writer
// keeps its last collection open: later writes that fit the remaining
// space rewrite that collection in place with the new objects appended.
type GlobalHeapWriter struct {
	w         *binary.Writer
	allocator func(size int64) uint64
	queue     [][]byte

	// Open collection.
	addr   uint64
	size   uint64
	stored [][]byte
}

func NewGlobalHeapWriter(w *binary.Writer, allocator func(size int64) uint64) *GlobalHeapWriter {
	return &GlobalHeapWriter{w: w, allocator: allocator}
}

// AddObject queues data for the next Write and returns its 1-based
// position in the queue.
func (ghw *GlobalHeapWriter) AddObject(data []byte) uint16 {
	ghw.queue = append(ghw.queue, data)
	return uint16(len(ghw.queue))
}

// collectionSize is the space objects need, free space object included.
func (ghw *GlobalHeapWriter) collectionSize(objects [][]byte) uint64 {
	lsize := uint64(ghw.w.LengthSize())
	size := 8 + lsize
	for _, obj := range objects {
		n := uint64(len(obj))
		size += 8 + lsize + n + pad8(n)
	}
	return size + 8 + lsize
}

// Write stores the queued objects and returns the collection address and
// the heap ID of every object by queue position. Nothing is written when
// the queue is empty.
func (ghw *GlobalHeapWriter) Write() (uint64, map[uint16]GlobalHeapID, error) {
	queued := ghw.queue
	ghw.queue = nil
	if len(queued) == 0 {
		return 0, nil, nil
	}
	grown := append(ghw.stored[:len(ghw.stored):len(ghw.stored)], queued...)
	if ghw.addr != 0 && len(grown) < 0xFFFF && ghw.collectionSize(grown) <= ghw.size {
		ghw.stored = grown
	} else {
		// Never below the library's minimum collection size.
		size := max(ghw.collectionSize(queued), minCollectionSize)
		size += pad8(size)
		ghw.addr, ghw.size, ghw.stored = ghw.allocator(int64(size)), size, queued
	}
	if err := ghw.flush(); err != nil {
		return 0, nil, err
	}

	first := len(ghw.stored) - len(queued)
	ids := make(map[uint16]GlobalHeapID, len(queued))
	for i := range queued {
		ids[uint16(i+1)] = GlobalHeapID{CollectionAddress: ghw.addr, ObjectIndex: uint32(first + i + 1)}
	}
	return ghw.addr, ids, nil
}

// flush writes the open collection.
func (ghw *GlobalHeapWriter) flush() error {
	size := ghw.size
	buf := make([]byte, size)
	bw := binary.NewWriter(&bufferWriterAt{buf: buf}, binary.Config{
		ByteOrder:  ghw.w.ByteOrder(),
		OffsetSize: ghw.w.OffsetSize(),
		LengthSize: ghw.w.LengthSize(),
	})
	if err := bw.WriteBytes([]byte{'G', 'C', 'O', 'L', 1, 0, 0, 0}); err != nil {
		return err
	}
	if err := bw.WriteLength(size); err != nil {
		return err
	}

	for i, obj := range ghw.stored {
		if err := bw.WriteUint16(uint16(i + 1)); err != nil {
			return err
		}
		if err := bw.WriteUint16(1); err != nil {
			return err
		}
		bw.Skip(4)
		if err := bw.WriteLength(uint64(len(obj))); err != nil {
			return err
		}
		if err := bw.WriteBytes(obj); err != nil {
			return err
		}
		bw.Skip(int64(pad8(uint64(len(obj)))))
	}
	// Object 0 spans the unused rest of the collection.
	if err := bw.WriteUint16(0); err != nil {
		return err
	}
	bw.Skip(6)
	if err := bw.WriteLength(size - uint64(bw.Pos()) + 8); err != nil {
		return err
	}
	return ghw.w.At(int64(ghw.addr)).WriteBytes(buf)
}

// WriteGlobalHeapID encodes id as offset-sized address plus 4-byte index.
func WriteGlobalHeapID(w *binary.Writer, id GlobalHeapID) error {
	if err := w.WriteOffset(id.CollectionAddress); err != nil {
		return err
	}
	return w.WriteUint32(id.ObjectIndex)
}

type bufferWriterAt struct {
	buf []byte
}

func (b *bufferWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(b.buf) {
		return 0, fmt.Errorf("heap buffer overflow at %d", off)
	}
	return copy(b.buf[off:], p), nil
}
