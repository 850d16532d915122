// Package layout reads and writes the raw bytes behind RT-DC feature
// datasets: contiguous blocks and chunked storage indexed by a fixed or
// extensible array.
package layout

import (
	"fmt"
	"slices"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/btree"
	"github.com/robert-malhotra/go-rtdc/internal/filter"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Layout reads the data of one dataset.
type Layout interface {
	// Read returns every element in row-major order.
	Read() ([]byte, error)

	// ReadSlice returns the box of count elements starting at start.
	ReadSlice(start, count []uint64) ([]byte, error)

	Class() message.LayoutClass
}

// New returns the reader for a data layout message.
func New(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	filterPipeline *message.FilterPipeline,
	reader *binary.Reader,
) (Layout, error) {
	if layout == nil {
		return nil, fmt.Errorf("nil layout message")
	}
	switch layout.Class {
	case message.LayoutContiguous:
		return NewContiguous(layout, dataspace, datatype, reader), nil
	case message.LayoutChunked:
		return NewChunked(layout, dataspace, datatype, filterPipeline, reader)
	}
	return nil, fmt.Errorf("unsupported layout class: %d", layout.Class)
}

func calculateDataSize(dataspace *message.Dataspace, datatype *message.Datatype) uint64 {
	if dataspace == nil || datatype == nil {
		return 0
	}
	return dataspace.NumElements() * uint64(datatype.Size)
}

func checkSelection(dims, start, count []uint64) error {
	if len(start) != len(dims) || len(count) != len(dims) {
		return fmt.Errorf("start and count must have %d dimensions, got %d and %d",
			len(dims), len(start), len(count))
	}
	for d := range dims {
		if start[d]+count[d] > dims[d] {
			return fmt.Errorf("slice out of bounds: dimension %d, start=%d, count=%d, size=%d",
				d, start[d], count[d], dims[d])
		}
	}
	return nil
}

// strides returns the row-major byte stride of every dimension of shape.
func strides(shape []uint64, elementSize uint64) []uint64 {
	s := make([]uint64, len(shape))
	if len(shape) == 0 {
		return s
	}
	s[len(shape)-1] = elementSize
	for d := len(shape) - 2; d >= 0; d-- {
		s[d] = s[d+1] * shape[d+1]
	}
	return s
}

// copyRegion copies the elements with dataset coordinates in [lo, hi) from
// src to dst. Each buffer holds a box whose first element sits at origin and
// is laid out with the given strides. lo must not exceed hi.
func copyRegion(dst []byte, dstOrigin, dstStrides []uint64, src []byte, srcOrigin, srcStrides []uint64, lo, hi []uint64) {
	last := len(lo) - 1
	if last < 0 {
		return
	}
	var walk func(d int, di, si uint64)
	walk = func(d int, di, si uint64) {
		if d == last {
			n := (hi[d] - lo[d]) * srcStrides[d]
			s := si + (lo[d]-srcOrigin[d])*srcStrides[d]
			t := di + (lo[d]-dstOrigin[d])*dstStrides[d]
			if s+n <= uint64(len(src)) && t+n <= uint64(len(dst)) {
				copy(dst[t:t+n], src[s:s+n])
			}
			return
		}
		for i := lo[d]; i < hi[d]; i++ {
			walk(d+1, di+(i-dstOrigin[d])*dstStrides[d], si+(i-srcOrigin[d])*srcStrides[d])
		}
	}
	walk(0, 0, 0)
}

// extractHyperslab cuts the box start+count out of a fully read dataset.
func extractHyperslab(data []byte, dims, start, count []uint64, elementSize uint64) ([]byte, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("cannot extract hyperslab from scalar dataset")
	}
	total := elementSize
	end := make([]uint64, len(dims))
	for d := range dims {
		total *= count[d]
		end[d] = start[d] + count[d]
	}
	out := make([]byte, total)
	copyRegion(out, start, strides(count, elementSize), data, make([]uint64, len(dims)), strides(dims, elementSize), start, end)
	return out, nil
}

// Chunked reads chunked storage.
type Chunked struct {
	layout    *message.DataLayout
	dataspace *message.Dataspace
	datatype  *message.Datatype
	pipeline  *filter.Pipeline
	filterMsg *message.FilterPipeline
	reader    *binary.Reader
}

// chunk is one stored chunk and the dataset coordinate of its first element.
type chunk struct {
	StoredChunk
	offset []uint64
}

// NewChunked creates a chunked layout reader.
func NewChunked(
	layout *message.DataLayout,
	dataspace *message.Dataspace,
	datatype *message.Datatype,
	filterPipeline *message.FilterPipeline,
	reader *binary.Reader,
) (*Chunked, error) {
	var pipeline *filter.Pipeline
	if filterPipeline != nil {
		var err error
		pipeline, err = filter.NewPipeline(filterPipeline)
		if err != nil {
			return nil, fmt.Errorf("creating filter pipeline: %w", err)
		}
	}
	return &Chunked{
		layout:    layout,
		dataspace: dataspace,
		datatype:  datatype,
		pipeline:  pipeline,
		filterMsg: filterPipeline,
		reader:    reader,
	}, nil
}

func (c *Chunked) Class() message.LayoutClass {
	return message.LayoutChunked
}

func (c *Chunked) dims() []uint64 {
	if len(c.dataspace.Dimensions) == 0 {
		return []uint64{1}
	}
	return c.dataspace.Dimensions
}

// ChunkDims returns the chunk shape without the trailing element size entry.
func (c *Chunked) ChunkDims() []uint32 {
	dims := c.layout.ChunkDims
	if n := len(c.dims()); len(dims) > n {
		dims = dims[:n]
	}
	return dims
}

// Pipeline returns the filter pipeline message, or nil for unfiltered data.
func (c *Chunked) Pipeline() *message.FilterPipeline {
	return c.filterMsg
}

func (c *Chunked) chunkBytes() uint64 {
	n := uint64(c.datatype.Size)
	for _, d := range c.ChunkDims() {
		n *= uint64(d)
	}
	return n
}

// Read reads the whole dataset.
func (c *Chunked) Read() ([]byte, error) {
	if calculateDataSize(c.dataspace, c.datatype) == 0 {
		return nil, nil
	}
	dims := c.dims()
	return c.ReadSlice(make([]uint64, len(dims)), dims)
}

// ReadSlice decodes only the chunks overlapping the selection.
func (c *Chunked) ReadSlice(start, count []uint64) ([]byte, error) {
	dims := c.dims()
	if err := checkSelection(dims, start, count); err != nil {
		return nil, err
	}
	cdims := c.ChunkDims()
	if len(cdims) != len(dims) {
		return nil, fmt.Errorf("chunk rank %d does not match dataset rank %d", len(cdims), len(dims))
	}
	chunkShape := make([]uint64, len(cdims))
	for d, v := range cdims {
		chunkShape[d] = uint64(v)
	}

	elementSize := uint64(c.datatype.Size)
	total := elementSize
	end := make([]uint64, len(dims))
	for d := range dims {
		total *= count[d]
		end[d] = start[d] + count[d]
	}
	out := make([]byte, total)
	if total == 0 {
		return out, nil
	}

	chunks, err := c.chunks()
	if err != nil {
		return nil, err
	}
	outStrides := strides(count, elementSize)
	chunkStrides := strides(chunkShape, elementSize)
	lo := make([]uint64, len(dims))
	hi := make([]uint64, len(dims))
	for _, ch := range chunks {
		overlap := true
		for d := range dims {
			lo[d] = max(start[d], ch.offset[d])
			hi[d] = min(end[d], ch.offset[d]+chunkShape[d], dims[d])
			if lo[d] >= hi[d] {
				overlap = false
				break
			}
		}
		if !overlap {
			continue
		}
		data, err := c.ReadChunk(ch.StoredChunk)
		if err != nil {
			return nil, fmt.Errorf("chunk at %v: %w", ch.offset, err)
		}
		copyRegion(out, start, outStrides, data, ch.offset, chunkStrides, lo, hi)
	}
	return out, nil
}

// Entries returns every allocated chunk in linear chunk order.
func (c *Chunked) Entries() ([]StoredChunk, error) {
	chunks, err := c.chunks()
	if err != nil {
		return nil, err
	}
	stored := make([]StoredChunk, len(chunks))
	for i, ch := range chunks {
		stored[i] = ch.StoredChunk
	}
	return stored, nil
}

// ReadChunk reads one stored chunk and runs it through the filter pipeline.
func (c *Chunked) ReadChunk(sc StoredChunk) ([]byte, error) {
	if c.reader.IsUndefinedOffset(sc.Addr) || sc.Addr == 0 {
		return nil, fmt.Errorf("invalid chunk address")
	}
	data, err := c.reader.At(int64(sc.Addr)).ReadBytes(int(sc.Size))
	if err != nil {
		return nil, err
	}
	if c.pipeline != nil && !c.pipeline.Empty() {
		return c.pipeline.Decode(data, sc.FilterMask)
	}
	return data, nil
}

// chunkOffset converts a linear chunk index into the dataset coordinate of
// the chunk's first element.
func (c *Chunked) chunkOffset(i uint64) []uint64 {
	return c.offsetIn(i, c.dims())
}

// maxGridOffset is chunkOffset for extensible array elements, which count
// chunks over the maximum extent of every dimension but the first.
func (c *Chunked) maxGridOffset(i uint64) []uint64 {
	dims := c.dims()
	maxDims := c.dataspace.MaxDims
	if len(maxDims) != len(dims) {
		return c.offsetIn(i, dims)
	}
	extent := slices.Clone(dims)
	for d := 1; d < len(dims); d++ {
		if maxDims[d] != message.Unlimited {
			extent[d] = maxDims[d]
		}
	}
	return c.offsetIn(i, extent)
}

func (c *Chunked) offsetIn(i uint64, dims []uint64) []uint64 {
	cdims := c.ChunkDims()
	offset := make([]uint64, len(dims))
	for d := len(dims) - 1; d >= 0; d-- {
		per := (dims[d] + uint64(cdims[d]) - 1) / uint64(cdims[d])
		if per == 0 {
			per = 1
		}
		offset[d] = (i % per) * uint64(cdims[d])
		i /= per
	}
	return offset
}

func (c *Chunked) numChunks() uint64 {
	dims := c.dims()
	cdims := c.ChunkDims()
	n := uint64(1)
	for d := range dims {
		n *= (dims[d] + uint64(cdims[d]) - 1) / uint64(cdims[d])
	}
	return n
}

func (c *Chunked) chunks() ([]chunk, error) {
	addr := c.layout.ChunkIndexAddr
	if c.reader.IsUndefinedOffset(addr) || addr == 0 {
		return nil, nil
	}
	switch c.layout.ChunkIndexType {
	case message.ChunkIndexSingleChunk:
		size := c.chunkBytes()
		if c.layout.FilteredChunkSize != 0 {
			size = uint64(c.layout.FilteredChunkSize)
		}
		return []chunk{{StoredChunk: StoredChunk{Addr: addr, Size: size}, offset: c.chunkOffset(0)}}, nil
	case message.ChunkIndexImplicit:
		size := c.chunkBytes()
		n := c.numChunks()
		out := make([]chunk, n)
		for i := uint64(0); i < n; i++ {
			out[i] = chunk{StoredChunk: StoredChunk{Addr: addr + i*size, Size: size}, offset: c.chunkOffset(i)}
		}
		return out, nil
	case message.ChunkIndexFixedArray:
		return c.readFixedArray(addr)
	case message.ChunkIndexExtensibleArray:
		return c.readExtensibleArray(addr)
	case message.ChunkIndexBTreeV1:
		return c.readBTree(addr)
	}
	return nil, fmt.Errorf("unsupported chunk index type: %d", c.layout.ChunkIndexType)
}

// expectBlock checks a block signature and its version byte, then skips the
// client ID.
func expectBlock(nr *binary.Reader, sig string) error {
	got, err := nr.ReadBytes(4)
	if err != nil {
		return fmt.Errorf("reading %s signature: %w", sig, err)
	}
	if string(got) != sig {
		return fmt.Errorf("invalid signature: got %q, expected %q", got, sig)
	}
	version, err := nr.ReadUint8()
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("unsupported %s version: %d", sig, version)
	}
	nr.Skip(1)
	return nil
}

// readEntries decodes n consecutive index entries, the first being chunk
// first. Entries of unfiltered chunks hold only the address.
func (c *Chunked) readEntries(nr *binary.Reader, first, n uint64, entrySize int) ([]chunk, error) {
	offsetSize := c.reader.OffsetSize()
	var out []chunk
	for i := first; i < first+n; i++ {
		addr, err := nr.ReadOffset()
		if err != nil {
			return nil, fmt.Errorf("reading chunk address: %w", err)
		}
		sc := StoredChunk{Addr: addr, Size: c.chunkBytes()}
		if entrySize > offsetSize {
			width := entrySize - offsetSize - 4
			if sc.Size, err = nr.ReadUintN(width); err != nil {
				return nil, fmt.Errorf("reading chunk size: %w", err)
			}
			if sc.FilterMask, err = nr.ReadUint32(); err != nil {
				return nil, fmt.Errorf("reading filter mask: %w", err)
			}
		}
		if addr == 0 || c.reader.IsUndefinedOffset(addr) {
			continue
		}
		out = append(out, chunk{StoredChunk: sc, offset: c.chunkOffset(i)})
	}
	return out, nil
}

// readFixedArray reads a fixed array index. The entries of a paged data
// block follow its header in pages, each with its own checksum, and pages
// never written are missing from its bitmap.
func (c *Chunked) readFixedArray(addr uint64) ([]chunk, error) {
	nr := c.reader.At(int64(addr))
	if err := expectBlock(nr, "FAHD"); err != nil {
		return nil, err
	}
	entrySize, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	pageBits, err := nr.ReadUint8()
	if err != nil {
		return nil, err
	}
	n, err := nr.ReadLength()
	if err != nil {
		return nil, err
	}
	blockAddr, err := nr.ReadOffset()
	if err != nil {
		return nil, err
	}

	db := c.reader.At(int64(blockAddr))
	if err := expectBlock(db, "FADB"); err != nil {
		return nil, err
	}
	db.Skip(int64(c.reader.OffsetSize()))
	if pageBits >= 64 || n <= 1<<pageBits {
		return c.readEntries(db, 0, n, int(entrySize))
	}

	perPage := uint64(1) << pageBits
	npages := (n + perPage - 1) / perPage
	bitmap, err := db.ReadBytes(int((npages + 7) / 8))
	if err != nil {
		return nil, fmt.Errorf("reading page bitmap: %w", err)
	}
	pageAddr := db.Pos() + 4
	var out []chunk
	for p := range npages {
		count := min(perPage, n-p*perPage)
		if getBit(bitmap, p) {
			entries, err := c.readEntries(c.reader.At(pageAddr), p*perPage, count, int(entrySize))
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", p, err)
			}
			out = append(out, entries...)
		}
		pageAddr += int64(count)*int64(entrySize) + 4
	}
	return out, nil
}

// readExtensibleArray walks every element set in an extensible array
// index.
func (c *Chunked) readExtensibleArray(addr uint64) ([]chunk, error) {
	ea, err := readExtensibleArrayHeader(c.reader, addr, c.chunkBytes())
	if err != nil {
		return nil, err
	}
	var out []chunk
	for i := range ea.Len() {
		sc, ok, err := ea.Get(i)
		if err != nil {
			return nil, fmt.Errorf("extensible array element %d: %w", i, err)
		}
		if ok && sc.Addr != 0 {
			out = append(out, chunk{StoredChunk: sc, offset: c.maxGridOffset(i)})
		}
	}
	return out, nil
}

// readBTree collects the chunks of a version 1 B-tree. Keys carry the
// chunk coordinates directly.
func (c *Chunked) readBTree(addr uint64) ([]chunk, error) {
	entries, err := btree.ReadChunks(c.reader, addr, len(c.dims()))
	if err != nil {
		return nil, err
	}
	out := make([]chunk, len(entries))
	for i, e := range entries {
		out[i] = chunk{
			StoredChunk: StoredChunk{Addr: e.Address, Size: uint64(e.Size), FilterMask: e.FilterMask},
			offset:      e.Offset,
		}
	}
	return out, nil
}
