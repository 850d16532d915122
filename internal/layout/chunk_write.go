package layout

import (
	"fmt"
	"math/bits"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/filter"
)

// StoredChunk locates one chunk written to the file.
type StoredChunk struct {
	Addr       uint64
	Size       uint64 // stored (possibly filtered) size in bytes
	FilterMask uint32
}

// ChunkWriter handles writing chunked dataset data and indices.
type ChunkWriter struct {
	w           *binary.Writer
	chunkDims   []uint32
	elementSize uint32
	pipeline    *filter.EncodePipeline
	allocator   func(size int64) uint64

	// slots maps the address of a chunk moved by RewriteChunk to the
	// space reserved for it.
	slots map[uint64]uint64
}

// NewChunkWriter creates a new chunk writer.
func NewChunkWriter(w *binary.Writer, chunkDims []uint32, elementSize uint32, allocator func(size int64) uint64) *ChunkWriter {
	return &ChunkWriter{
		w:           w,
		chunkDims:   chunkDims,
		elementSize: elementSize,
		allocator:   allocator,
	}
}

// WithPipeline sets the filters applied to every chunk before it is stored.
func (cw *ChunkWriter) WithPipeline(p *filter.EncodePipeline) *ChunkWriter {
	cw.pipeline = p
	return cw
}

// WithSlots makes RewriteChunk reserve room for growth when it moves a
// chunk, and record the reservation in slots. Share one map across the
// writers of a file.
func (cw *ChunkWriter) WithSlots(slots map[uint64]uint64) *ChunkWriter {
	cw.slots = slots
	return cw
}

// Filtered reports whether chunks pass through a filter pipeline.
func (cw *ChunkWriter) Filtered() bool {
	return !cw.pipeline.Empty()
}

// ChunkSize returns the size in bytes of one unfiltered chunk.
func (cw *ChunkWriter) ChunkSize() uint64 {
	size := uint64(cw.elementSize)
	for _, dim := range cw.chunkDims {
		size *= uint64(dim)
	}
	return size
}

func (cw *ChunkWriter) encode(raw []byte) ([]byte, error) {
	if !cw.Filtered() {
		return raw, nil
	}
	return cw.pipeline.Encode(raw)
}

// WriteChunk filters and stores one chunk.
func (cw *ChunkWriter) WriteChunk(raw []byte) (StoredChunk, error) {
	data, err := cw.encode(raw)
	if err != nil {
		return StoredChunk{}, err
	}
	return cw.store(data, uint64(len(data)))
}

func (cw *ChunkWriter) store(data []byte, slot uint64) (StoredChunk, error) {
	addr := cw.allocator(int64(slot))
	if err := cw.w.At(int64(addr)).WriteBytes(data); err != nil {
		return StoredChunk{}, err
	}
	return StoredChunk{Addr: addr, Size: uint64(len(data))}, nil
}

// RewriteChunk replaces the contents of a stored chunk. The encoded data
// overwrites the old chunk when it fits its slot and is stored at a new
// address otherwise. The second result is the number of bytes the rewrite
// left unreferenced.
//
// A chunk without a recorded slot occupies exactly its stored size. With
// [ChunkWriter.WithSlots], a moved chunk gets a slot of up to twice its
// size, bounded by the unfiltered chunk size, so a chunk that keeps
// growing moves a logarithmic number of times.
func (cw *ChunkWriter) RewriteChunk(old StoredChunk, raw []byte) (StoredChunk, uint64, error) {
	data, err := cw.encode(raw)
	if err != nil {
		return StoredChunk{}, 0, err
	}
	size := uint64(len(data))
	slot, tracked := cw.slots[old.Addr]
	if !tracked {
		slot = old.Size
	}
	if size <= slot {
		if err := cw.w.At(int64(old.Addr)).WriteBytes(data); err != nil {
			return StoredChunk{}, 0, err
		}
		var unused uint64
		if !tracked {
			unused = slot - size
		}
		return StoredChunk{Addr: old.Addr, Size: size}, unused, nil
	}

	reserve := size
	if cw.slots != nil {
		reserve = max(size, min(2*size, cw.ChunkSize()))
	}
	sc, err := cw.store(data, reserve)
	if err != nil {
		return StoredChunk{}, 0, err
	}
	if cw.slots != nil {
		delete(cw.slots, old.Addr)
		cw.slots[sc.Addr] = reserve
	}
	return sc, slot, nil
}

// WriteChunks writes multiple chunks in storage order.
func (cw *ChunkWriter) WriteChunks(chunks [][]byte) ([]StoredChunk, error) {
	stored := make([]StoredChunk, len(chunks))
	for i, chunk := range chunks {
		sc, err := cw.WriteChunk(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		stored[i] = sc
	}
	return stored, nil
}

// sizeFieldWidth is the number of bytes used to record a filtered chunk size.
func (cw *ChunkWriter) sizeFieldWidth() int {
	chunkBytes := cw.ChunkSize()
	if chunkBytes == 0 {
		return 1
	}
	width := 1 + (bits.Len64(chunkBytes)-1+8)/8
	if width > 8 {
		width = 8
	}
	return width
}

// entryLayout returns the client ID and the on-disk width of one index entry.
func (cw *ChunkWriter) entryLayout() (clientID uint8, width int) {
	if !cw.Filtered() {
		return 0, cw.w.OffsetSize()
	}
	return 1, cw.w.OffsetSize() + cw.sizeFieldWidth() + 4
}

func (cw *ChunkWriter) putEntry(buf []byte, sc StoredChunk) int {
	offsetSize := cw.w.OffsetSize()
	putUint64LE(buf, sc.Addr, offsetSize)
	if !cw.Filtered() {
		return offsetSize
	}
	width := cw.sizeFieldWidth()
	putUint64LE(buf[offsetSize:], sc.Size, width)
	putUint32LE(buf[offsetSize+width:], sc.FilterMask)
	return offsetSize + width + 4
}

// FixedArrayPageBits returns the page size exponent that keeps n entries in
// one unpaged data block.
func FixedArrayPageBits(n int) uint8 {
	return uint8(max(10, bits.Len(uint(max(n, 1)-1))))
}

// WriteFixedArrayIndex writes a fixed array chunk index in a single unpaged
// data block and returns its header address. The layout message must carry
// FixedArrayPageBits(len(chunks)).
func (cw *ChunkWriter) WriteFixedArrayIndex(chunks []StoredChunk) (uint64, error) {
	numChunks := len(chunks)
	if numChunks == 0 {
		return 0, nil
	}

	clientID, entrySize := cw.entryLayout()
	offsetSize := cw.w.OffsetSize()
	lengthSize := cw.w.LengthSize()

	pageBits := FixedArrayPageBits(numChunks)

	// signature, version, client ID, entry size, page bits, max entries,
	// data block address, checksum
	headerSize := 4 + 1 + 1 + 1 + 1 + lengthSize + offsetSize + 4
	headerAddr := cw.allocator(int64(headerSize))

	// signature, version, client ID, header address, entries, checksum
	dataBlockSize := 4 + 1 + 1 + offsetSize + numChunks*entrySize + 4
	dataBlockAddr := cw.allocator(int64(dataBlockSize))

	fadb := make([]byte, dataBlockSize)
	idx := copy(fadb, "FADB")
	fadb[idx] = 0
	fadb[idx+1] = clientID
	idx += 2
	putUint64LE(fadb[idx:], headerAddr, offsetSize)
	idx += offsetSize
	for _, sc := range chunks {
		idx += cw.putEntry(fadb[idx:], sc)
	}
	putUint32LE(fadb[idx:], binary.Lookup3Checksum(fadb[:idx]))

	if err := cw.w.At(int64(dataBlockAddr)).WriteBytes(fadb); err != nil {
		return 0, err
	}

	fahd := make([]byte, headerSize)
	idx = copy(fahd, "FAHD")
	fahd[idx] = 0
	fahd[idx+1] = clientID
	fahd[idx+2] = uint8(entrySize)
	fahd[idx+3] = pageBits
	idx += 4
	putUint64LE(fahd[idx:], uint64(numChunks), lengthSize)
	idx += lengthSize
	putUint64LE(fahd[idx:], dataBlockAddr, offsetSize)
	idx += offsetSize
	putUint32LE(fahd[idx:], binary.Lookup3Checksum(fahd[:idx]))

	if err := cw.w.At(int64(headerAddr)).WriteBytes(fahd); err != nil {
		return 0, err
	}

	return headerAddr, nil
}

// WriteExtensibleArrayIndex writes an extensible array index holding
// chunks as elements 0 to len(chunks)-1 and returns its header address.
// params are the index parameters of the layout message.
func (cw *ChunkWriter) WriteExtensibleArrayIndex(params []byte, chunks []StoredChunk) (uint64, error) {
	ea, err := cw.NewExtensibleArray(params)
	if err != nil {
		return 0, err
	}
	for i, sc := range chunks {
		if err := ea.Set(uint64(i), sc); err != nil {
			return 0, err
		}
	}
	if err := ea.Flush(); err != nil {
		return 0, err
	}
	return ea.Addr(), nil
}

func putUint64LE(b []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// SplitIntoChunks splits row-major data into full-size chunks in row-major
// chunk order. Edge chunks are zero padded.
func SplitIntoChunks(data []byte, dataDims []uint64, chunkDims []uint32, elementSize uint32) [][]byte {
	ndims := len(dataDims)
	if ndims == 0 {
		return [][]byte{data}
	}

	numChunks := make([]uint64, ndims)
	total := uint64(1)
	for d := range dataDims {
		numChunks[d] = (dataDims[d] + uint64(chunkDims[d]) - 1) / uint64(chunkDims[d])
		total *= numChunks[d]
	}

	chunkElems := uint64(1)
	for _, cd := range chunkDims[:ndims] {
		chunkElems *= uint64(cd)
	}
	esz := uint64(elementSize)

	// Row-major strides in elements.
	dataStride := make([]uint64, ndims)
	chunkStride := make([]uint64, ndims)
	dataStride[ndims-1], chunkStride[ndims-1] = 1, 1
	for d := ndims - 2; d >= 0; d-- {
		dataStride[d] = dataStride[d+1] * dataDims[d+1]
		chunkStride[d] = chunkStride[d+1] * uint64(chunkDims[d+1])
	}

	chunks := make([][]byte, 0, total)
	origin := make([]uint64, ndims)
	for ci := uint64(0); ci < total; ci++ {
		rem := ci
		for d := ndims - 1; d >= 0; d-- {
			origin[d] = (rem % numChunks[d]) * uint64(chunkDims[d])
			rem /= numChunks[d]
		}

		chunk := make([]byte, chunkElems*esz)
		copyIntoChunk(chunk, data, origin, dataDims, chunkDims, dataStride, chunkStride, esz, 0, 0, 0)
		chunks = append(chunks, chunk)
	}

	return chunks
}

func copyIntoChunk(
	chunk, data []byte,
	origin, dataDims []uint64,
	chunkDims []uint32,
	dataStride, chunkStride []uint64,
	esz uint64,
	dim int,
	dataOff, chunkOff uint64,
) {
	n := uint64(chunkDims[dim])
	if origin[dim]+n > dataDims[dim] {
		n = dataDims[dim] - origin[dim]
	}

	if dim == len(dataDims)-1 {
		src := (dataOff + origin[dim]) * esz
		dst := chunkOff * esz
		copy(chunk[dst:dst+n*esz], data[src:src+n*esz])
		return
	}

	for i := uint64(0); i < n; i++ {
		copyIntoChunk(chunk, data, origin, dataDims, chunkDims, dataStride, chunkStride, esz, dim+1,
			dataOff+(origin[dim]+i)*dataStride[dim],
			chunkOff+i*chunkStride[dim])
	}
}
