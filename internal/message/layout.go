package message

type LayoutClass uint8

const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// ChunkIndexType selects the structure that maps chunk positions to
// addresses.
type ChunkIndexType uint8

const (
	ChunkIndexBTreeV1         ChunkIndexType = 0
	ChunkIndexSingleChunk     ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

// Parameters written for new indices.
var (
	fixedArrayParams      = []byte{10}               // page bits
	extensibleArrayParams = []byte{32, 4, 4, 16, 10} // max bits, index elements, min pointers, min elements, page bits
)

// DataLayout says where the raw data of a dataset lives.
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	// Contiguous.
	Address uint64
	Size    uint64

	// Compact.
	Data []byte

	// Chunked. ChunkDims ends with the element size.
	ChunkDims      []uint32
	ChunkFlags     uint8
	ChunkIndexType ChunkIndexType
	ChunkIndexAddr uint64

	// Single chunk with filters.
	FilteredChunkSize uint64
	ChunkFilterMask   uint32

	// indexParams holds the index type parameters as read, so a
	// rewritten header keeps them.
	indexParams []byte
}

func (m *DataLayout) Type() Type { return TypeDataLayout }

func (d *decoder) layout() *DataLayout {
	dl := &DataLayout{Version: d.u8()}
	if dl.Version < 3 || dl.Version > 4 {
		d.failf("version %d", dl.Version)
		return dl
	}
	dl.Class = LayoutClass(d.u8())
	switch dl.Class {
	case LayoutCompact:
		dl.Data = d.copyBytes(int(d.u16()))
	case LayoutContiguous:
		dl.Address = d.offset()
		dl.Size = d.length()
	case LayoutChunked:
		if dl.Version == 3 {
			n := int(d.u8())
			dl.ChunkIndexType = ChunkIndexBTreeV1
			dl.ChunkIndexAddr = d.offset()
			dl.ChunkDims = make([]uint32, n)
			for i := range dl.ChunkDims {
				dl.ChunkDims[i] = d.u32()
			}
			break
		}
		dl.ChunkFlags = d.u8()
		n := int(d.u8())
		width := int(d.u8())
		dl.ChunkDims = make([]uint32, n)
		for i := range dl.ChunkDims {
			dl.ChunkDims[i] = uint32(d.uintN(width))
		}
		dl.ChunkIndexType = ChunkIndexType(d.u8())
		start := d.pos
		switch dl.ChunkIndexType {
		case ChunkIndexSingleChunk:
			if dl.ChunkFlags&0x02 != 0 {
				dl.FilteredChunkSize = d.length()
				dl.ChunkFilterMask = d.u32()
			}
		case ChunkIndexImplicit:
		case ChunkIndexFixedArray:
			d.skip(1)
		case ChunkIndexExtensibleArray:
			d.skip(5)
		case ChunkIndexBTreeV2:
			d.skip(6)
		default:
			d.failf("chunk index type %d", dl.ChunkIndexType)
			return dl
		}
		if d.err == nil {
			dl.indexParams = append([]byte(nil), d.b[start:d.pos]...)
		}
		dl.ChunkIndexAddr = d.offset()
	default:
		dl.Data = d.rest()
	}
	return dl
}

// Encode writes version 3 for contiguous, compact and B-tree indexed
// layouts and version 4 for every other chunked layout.
func (m *DataLayout) Encode(e *Encoder) {
	chunkedV4 := m.Class == LayoutChunked && m.ChunkIndexType != ChunkIndexBTreeV1
	switch {
	case chunkedV4:
		e.U8(4)
	case m.Class == LayoutVirtual:
		e.U8(m.Version)
	default:
		e.U8(3)
	}
	e.U8(uint8(m.Class))

	switch m.Class {
	case LayoutCompact:
		e.U16(uint16(len(m.Data)))
		e.Bytes(m.Data)
	case LayoutContiguous:
		e.Offset(m.Address)
		e.Length(m.Size)
	case LayoutChunked:
		if !chunkedV4 {
			e.U8(uint8(len(m.ChunkDims)))
			e.Offset(m.ChunkIndexAddr)
			for _, dim := range m.ChunkDims {
				e.U32(dim)
			}
			return
		}
		var largest uint64
		for _, dim := range m.ChunkDims {
			largest = max(largest, uint64(dim))
		}
		width := widthFor(largest)
		e.U8(m.ChunkFlags)
		e.U8(uint8(len(m.ChunkDims)))
		e.U8(uint8(width))
		for _, dim := range m.ChunkDims {
			e.UintN(uint64(dim), width)
		}
		e.U8(uint8(m.ChunkIndexType))
		e.Bytes(m.params(e))
		e.Offset(m.ChunkIndexAddr)
	default:
		e.Bytes(m.Data)
	}
}

// IndexParams returns the fixed or extensible array parameters of the
// layout: the ones read with it, or the ones written for new indices.
func (m *DataLayout) IndexParams() []byte {
	if m.indexParams != nil {
		return m.indexParams
	}
	switch m.ChunkIndexType {
	case ChunkIndexFixedArray:
		return fixedArrayParams
	case ChunkIndexExtensibleArray:
		return extensibleArrayParams
	}
	return nil
}

// SetIndexParams replaces the chunk index parameters.
func (m *DataLayout) SetIndexParams(p []byte) {
	m.indexParams = append([]byte(nil), p...)
}

func (m *DataLayout) params(e *Encoder) []byte {
	if p := m.IndexParams(); p != nil {
		return p
	}
	switch m.ChunkIndexType {
	case ChunkIndexSingleChunk:
		if m.ChunkFlags&0x02 != 0 {
			p := NewEncoder(e.offsetSize, e.lengthSize)
			p.Length(m.FilteredChunkSize)
			p.U32(m.ChunkFilterMask)
			return p.Data()
		}
	}
	return nil
}

// NewContiguousLayout places size bytes at addr.
func NewContiguousLayout(addr, size uint64) *DataLayout {
	return &DataLayout{Version: 3, Class: LayoutContiguous, Address: addr, Size: size}
}

// NewChunkedLayout returns a chunked layout with an undefined index
// address. elementSize is appended to chunkDims.
func NewChunkedLayout(chunkDims []uint32, elementSize uint32, index ChunkIndexType) *DataLayout {
	dims := append(append([]uint32(nil), chunkDims...), elementSize)
	return &DataLayout{
		Version:        4,
		Class:          LayoutChunked,
		ChunkDims:      dims,
		ChunkIndexType: index,
		ChunkIndexAddr: ^uint64(0),
	}
}
