package message

const (
	FilterDeflate     uint16 = 1
	FilterShuffle     uint16 = 2
	FilterFletcher32  uint16 = 3
	FilterSZIP        uint16 = 4
	FilterNBit        uint16 = 5
	FilterScaleOffset uint16 = 6
	FilterLZF         uint16 = 32000
	FilterLZ4         uint16 = 32004
	FilterZstd        uint16 = 32015
)

// FilterInfo is one stage of a filter pipeline.
type FilterInfo struct {
	ID         uint16
	Flags      uint16
	Name       string
	ClientData []uint32
}

// IsOptional reports whether a failure of this filter may leave a chunk
// unfiltered.
func (f FilterInfo) IsOptional() bool { return f.Flags&0x0001 != 0 }

// FilterPipeline lists filters in the order they are applied on write.
type FilterPipeline struct {
	Filters []FilterInfo
}

func (m *FilterPipeline) Type() Type { return TypeFilterPipeline }

func NewFilterPipeline(filters ...FilterInfo) *FilterPipeline {
	return &FilterPipeline{Filters: filters}
}

func (d *decoder) filterPipeline() *FilterPipeline {
	version := d.u8()
	n := int(d.u8())
	if version == 1 {
		d.skip(6)
	} else if version != 2 {
		d.failf("version %d", version)
		return nil
	}
	fp := &FilterPipeline{Filters: make([]FilterInfo, 0, n)}
	for range n {
		f := FilterInfo{ID: d.u16()}
		nameLen := 0
		if version == 1 || f.ID >= 256 {
			nameLen = int(d.u16())
		}
		f.Flags = d.u16()
		values := int(d.u16())
		if version == 1 {
			nameLen = (nameLen + 7) &^ 7
		}
		f.Name = d.name(nameLen)
		for range values {
			f.ClientData = append(f.ClientData, d.u32())
		}
		if version == 1 && values%2 == 1 {
			d.skip(4)
		}
		if d.err != nil {
			return fp
		}
		fp.Filters = append(fp.Filters, f)
	}
	return fp
}

// Encode writes a version 2 pipeline. Names are only stored for
// registered third-party filters.
func (m *FilterPipeline) Encode(e *Encoder) {
	e.U8(2)
	e.U8(uint8(len(m.Filters)))
	for _, f := range m.Filters {
		e.U16(f.ID)
		withName := f.ID >= 256 && f.Name != ""
		if f.ID >= 256 {
			if withName {
				e.U16(uint16(len(f.Name) + 1))
			} else {
				e.U16(0)
			}
		}
		e.U16(f.Flags)
		e.U16(uint16(len(f.ClientData)))
		if withName {
			e.Bytes([]byte(f.Name))
			e.U8(0)
		}
		for _, v := range f.ClientData {
			e.U32(v)
		}
	}
}
