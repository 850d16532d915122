// Package fixture assembles files in the layout written by older HDF5
// libraries and by early RT-DC acquisition software: a version 0
// superblock, version 1 object headers, groups held in symbol tables and
// chunks indexed by version 1 B-trees.
//
// The module itself never writes this layout, so the readers for it are
// tested against files built here. Offsets and lengths are 8 bytes wide.
//
//	b := fixture.New()
//	events := b.Group([]fixture.Member{{Name: "deform", Addr: b.Contiguous(f64, dims, raw)}})
//	data := b.Finish(b.Group([]fixture.Member{{Name: "events", Addr: events}}))
package fixture

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/dtype"
	"github.com/robert-malhotra/go-rtdc/internal/filter"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
	"github.com/robert-malhotra/go-rtdc/internal/layout"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

const (
	sizeOfOffsets = 8
	sizeOfLengths = 8
	undefined     = ^uint64(0)

	// superblockSize covers the version 0 superblock and its root entry.
	superblockSize = 24 + 4*sizeOfOffsets + 2*sizeOfOffsets + 8 + 16

	// MaxLeafEntries bounds the symbols of one symbol table node and the
	// chunks of one leaf. Larger sets get a second tree level.
	MaxLeafEntries = 4
)

// Builder accumulates a file in memory. Methods panic on encoding errors,
// which only arise from values no test should pass.
type Builder struct {
	f       *memFile
	w       *binary.Writer
	next    uint64
	strings *heap.GlobalHeapWriter
}

func New() *Builder {
	f := &memFile{}
	b := &Builder{f: f, w: binary.NewWriter(f, binary.DefaultConfig()), next: superblockSize}
	b.strings = heap.NewGlobalHeapWriter(b.w, b.alloc)
	return b
}

// Reader reads the bytes written so far.
func (b *Builder) Reader() *binary.Reader {
	return binary.NewReader(b.f, binary.DefaultConfig())
}

func (b *Builder) alloc(size int64) uint64 {
	addr := b.next
	b.next += uint64(size+7) &^ 7
	return addr
}

func (b *Builder) put(data []byte) uint64 {
	addr := b.alloc(int64(len(data)))
	b.must(b.w.At(int64(addr)).WriteBytes(data))
	return addr
}

func (b *Builder) must(err error) {
	if err != nil {
		panic(fmt.Sprintf("fixture: %v", err))
	}
}

// Finish writes the superblock for the given root group header and returns
// the file.
func (b *Builder) Finish(root uint64) []byte {
	sb := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
	sb.Bytes([]byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'})
	sb.Bytes([]byte{0, 0, 0, 0, 0, sizeOfOffsets, sizeOfLengths, 0})
	sb.U16(4)  // group leaf node K
	sb.U16(16) // group internal node K
	sb.U32(0)
	sb.Offset(0)
	sb.Undefined()
	sb.Offset(b.next)
	sb.Undefined()
	sb.Offset(0) // root entry: name offset
	sb.Offset(root)
	sb.Zeros(8 + 16)
	b.must(b.w.At(0).WriteBytes(sb.Data()))
	if uint64(len(b.f.buf)) < b.next {
		b.f.buf = append(b.f.buf, make([]byte, b.next-uint64(len(b.f.buf)))...)
	}
	return slices.Clone(b.f.buf)
}

// Header writes a version 1 object header holding messages and returns its
// address.
func (b *Builder) Header(messages ...message.Message) uint64 {
	return b.ContinuedHeader(messages, nil)
}

// ContinuedHeader writes a version 1 header whose later messages live in
// a continuation block.
func (b *Builder) ContinuedHeader(inline, continued []message.Message) uint64 {
	if len(continued) > 0 {
		block := b.messages(continued)
		addr := b.put(block)
		inline = append(slices.Clip(inline), &message.Continuation{Offset: addr, Length: uint64(len(block))})
	}
	body := b.messages(inline)
	e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
	e.U8(1)
	e.U8(0)
	e.U16(uint16(len(inline) + len(continued)))
	e.U32(1)
	e.U32(uint32(len(body)))
	e.Zeros(4)
	e.Bytes(body)
	return b.put(e.Data())
}

func (b *Builder) messages(list []message.Message) []byte {
	e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
	for _, msg := range list {
		data, ok := encodeMessage(msg)
		if !ok {
			panic(fmt.Sprintf("fixture: %s message cannot be written", msg.Type()))
		}
		e.U16(uint16(msg.Type()))
		e.U16(uint16((len(data) + 7) &^ 7))
		e.U8(0)
		e.Zeros(3)
		e.Bytes(data)
		e.Zeros((8 - len(data)%8) % 8)
	}
	return e.Data()
}

func encodeMessage(msg message.Message) ([]byte, bool) {
	if c, ok := msg.(*message.Continuation); ok {
		e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
		e.Offset(c.Offset)
		e.Length(c.Length)
		return e.Data(), true
	}
	return message.Encode(msg, sizeOfOffsets, sizeOfLengths)
}

// Attr builds an attribute. Strings are stored as variable-length strings
// in a global heap, the way h5py writes them; numbers take their Go width.
func (b *Builder) Attr(name string, value any) *message.Attribute {
	if s, ok := value.(string); ok {
		return message.NewAttribute(name, message.NewVarLenStringDatatype(message.CharsetUTF8, sizeOfOffsets),
			message.NewScalarDataspace(), b.vlen([]string{s}))
	}
	dt, err := dtype.For(reflect.TypeOf(value), sizeOfOffsets)
	b.must(err)
	data, err := dtype.Encode(dt, value)
	b.must(err)
	return message.NewAttribute(name, dt, message.NewScalarDataspace(), data)
}

// vlen stores values in the global heap and returns their references.
func (b *Builder) vlen(values []string) []byte {
	index := make([]uint16, len(values))
	for i, s := range values {
		if s != "" {
			index[i] = b.strings.AddObject([]byte(s))
		}
	}
	_, ids, err := b.strings.Write()
	b.must(err)
	e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
	for i, s := range values {
		e.U32(uint32(len(s)))
		id := ids[index[i]]
		e.Offset(id.CollectionAddress)
		e.U32(id.ObjectIndex)
	}
	return e.Data()
}

// Member is one entry of a symbol table.
type Member struct {
	Name string
	Addr uint64

	// SoftLink makes the entry a soft link to this path.
	SoftLink string
}

// Group writes a group header with a symbol table and the attributes, and
// returns the header address.
func (b *Builder) Group(members []Member, attrs ...*message.Attribute) uint64 {
	tree, names := b.SymbolTable(members)
	messages := []message.Message{&message.SymbolTable{BTreeAddress: tree, LocalHeapAddress: names}}
	for _, a := range attrs {
		messages = append(messages, a)
	}
	return b.Header(messages...)
}

// SymbolTable writes the local heap with the member names, the symbol
// table nodes and the group B-tree above them. Members are stored sorted
// by name. It returns the B-tree and heap addresses.
func (b *Builder) SymbolTable(members []Member) (tree, names uint64) {
	members = slices.SortedFunc(slices.Values(members), func(a, c Member) int {
		return strings.Compare(a.Name, c.Name)
	})

	// Offset 0 holds the empty name.
	data := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	intern := func(s string) uint64 {
		off := uint64(len(data))
		data = append(data, s...)
		data = append(data, make([]byte, 8-len(s)%8)...)
		return off
	}
	nameAt := make([]uint64, len(members))
	linkAt := make([]uint64, len(members))
	for i, m := range members {
		nameAt[i] = intern(m.Name)
		if m.SoftLink != "" {
			linkAt[i] = intern(m.SoftLink)
		}
	}
	dataAddr := b.put(data)
	h := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
	h.Bytes([]byte{'H', 'E', 'A', 'P', 0, 0, 0, 0})
	h.Length(uint64(len(data)))
	h.Length(undefined)
	h.Offset(dataAddr)
	names = b.put(h.Data())

	var keys []uint64
	var nodes []uint64
	for start := 0; start < len(members) || start == 0; start += MaxLeafEntries {
		end := min(start+MaxLeafEntries, len(members))
		s := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
		s.Bytes([]byte{'S', 'N', 'O', 'D', 1, 0})
		s.U16(uint16(end - start))
		for i := start; i < end; i++ {
			s.Offset(nameAt[i])
			if members[i].SoftLink != "" {
				s.Offset(undefined)
				s.U32(2)
				s.U32(0)
				s.U32(uint32(linkAt[i]))
				s.Zeros(12)
				continue
			}
			s.Offset(members[i].Addr)
			s.U32(0)
			s.U32(0)
			s.Zeros(16)
		}
		nodes = append(nodes, b.put(s.Data()))
		last := uint64(0)
		if end > start {
			last = nameAt[end-1]
		}
		keys = append(keys, last)
		if end >= len(members) {
			break
		}
	}
	leaves := b.groupNodes(0, nodes, keys)
	if len(leaves) == 1 {
		return leaves[0], names
	}
	return b.groupNodes(1, leaves, keys[len(keys)-1:])[0], names
}

// groupNodes writes the group tree nodes of one level. At level 0 each
// node points at one symbol table node; level 1 is a single node over all
// children.
func (b *Builder) groupNodes(level uint8, children, keys []uint64) []uint64 {
	node := func(children, keys []uint64) uint64 {
		e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
		e.Bytes([]byte{'T', 'R', 'E', 'E', 0, level})
		e.U16(uint16(len(children)))
		e.Undefined()
		e.Undefined()
		e.Length(0)
		for i, c := range children {
			e.Offset(c)
			e.Length(keys[min(i, len(keys)-1)])
		}
		return b.put(e.Data())
	}
	if level > 0 {
		return []uint64{node(children, keys)}
	}
	out := make([]uint64, len(children))
	for i, c := range children {
		out[i] = node([]uint64{c}, keys[i:i+1])
	}
	return out
}

// Contiguous writes a dataset stored in one block and returns its header
// address.
func (b *Builder) Contiguous(dt *message.Datatype, dims []uint64, data []byte, attrs ...*message.Attribute) uint64 {
	addr := b.put(data)
	messages := []message.Message{
		message.NewDataspace(dims, nil),
		dt,
		message.NewContiguousLayout(addr, uint64(len(data))),
	}
	for _, a := range attrs {
		messages = append(messages, a)
	}
	return b.Header(messages...)
}

// Chunked writes a dataset whose chunks are indexed by a version 1 B-tree,
// deflated when deflate is set, and returns its header address.
func (b *Builder) Chunked(dt *message.Datatype, dims, maxDims []uint64, chunk []uint32, data []byte, deflate bool, attrs ...*message.Attribute) uint64 {
	cw := layout.NewChunkWriter(b.w, chunk, dt.Size, b.alloc)
	var pipeline *message.FilterPipeline
	if deflate {
		p := filter.NewEncodePipeline(filter.NewDeflate([]uint32{4}))
		cw.WithPipeline(p)
		pipeline = p.Message()
	}
	stored, err := cw.WriteChunks(layout.SplitIntoChunks(data, dims, chunk, dt.Size))
	b.must(err)

	dl := &message.DataLayout{
		Version:        3,
		Class:          message.LayoutChunked,
		ChunkDims:      append(slices.Clone(chunk), dt.Size),
		ChunkIndexType: message.ChunkIndexBTreeV1,
		ChunkIndexAddr: b.chunkTree(dims, chunk, stored),
	}
	messages := []message.Message{message.NewDataspace(dims, maxDims), dt, dl}
	if pipeline != nil {
		messages = append(messages, pipeline)
	}
	for _, a := range attrs {
		messages = append(messages, a)
	}
	return b.Header(messages...)
}

// chunkTree writes the B-tree over stored, which holds the chunks in
// row-major order.
func (b *Builder) chunkTree(dims []uint64, chunk []uint32, stored []layout.StoredChunk) uint64 {
	offsets := make([][]uint64, len(stored))
	for i := range stored {
		offsets[i] = chunkOffset(uint64(i), dims, chunk)
	}
	key := func(e *message.Encoder, size uint64, mask uint32, offset []uint64) {
		e.U32(uint32(size))
		e.U32(mask)
		for _, v := range offset {
			e.U64(v)
		}
		e.U64(0)
	}
	node := func(level uint8, children []uint64, first int, sizes []uint64, keyAt func(int) []uint64, masks []uint32, end []uint64) uint64 {
		e := message.NewEncoder(sizeOfOffsets, sizeOfLengths)
		e.Bytes([]byte{'T', 'R', 'E', 'E', 1, level})
		e.U16(uint16(len(children)))
		e.Undefined()
		e.Undefined()
		for i, c := range children {
			key(e, sizes[i], masks[i], keyAt(first+i))
			e.Offset(c)
		}
		key(e, 0, 0, end)
		return b.put(e.Data())
	}

	var firsts []int
	var leafAddrs []uint64
	for start := 0; start < len(stored) || start == 0; start += MaxLeafEntries {
		end := min(start+MaxLeafEntries, len(stored))
		children := make([]uint64, end-start)
		sizes := make([]uint64, end-start)
		masks := make([]uint32, end-start)
		for i := start; i < end; i++ {
			children[i-start] = stored[i].Addr
			sizes[i-start] = stored[i].Size
			masks[i-start] = stored[i].FilterMask
		}
		leafAddrs = append(leafAddrs, node(0, children, start, sizes, func(i int) []uint64 { return offsets[i] }, masks, dims))
		firsts = append(firsts, start)
		if end >= len(stored) {
			break
		}
	}
	if len(leafAddrs) == 1 {
		return leafAddrs[0]
	}
	sizes := make([]uint64, len(leafAddrs))
	masks := make([]uint32, len(leafAddrs))
	return node(1, leafAddrs, 0, sizes, func(i int) []uint64 { return offsets[firsts[i]] }, masks, dims)
}

func chunkOffset(i uint64, dims []uint64, chunk []uint32) []uint64 {
	offset := make([]uint64, len(dims))
	for d := len(dims) - 1; d >= 0; d-- {
		per := max((dims[d]+uint64(chunk[d])-1)/uint64(chunk[d]), 1)
		offset[d] = (i % per) * uint64(chunk[d])
		i /= per
	}
	return offset
}

type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	return copy(m.buf[off:], p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, nil
	}
	return copy(p, m.buf[off:]), nil
}
