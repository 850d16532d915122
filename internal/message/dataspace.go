package message

type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0
	DataspaceSimple DataspaceType = 1
	DataspaceNull   DataspaceType = 2
)

// Unlimited is the maximum size of an extendible dimension.
const Unlimited = ^uint64(0)

// Dataspace is the shape of a dataset or attribute.
type Dataspace struct {
	SpaceType  DataspaceType
	Dimensions []uint64
	MaxDims    []uint64 // nil when equal to Dimensions
}

func (m *Dataspace) Type() Type { return TypeDataspace }
func (m *Dataspace) Rank() int  { return len(m.Dimensions) }

// NumElements is 1 for a scalar and 0 for a null dataspace.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceNull:
		return 0
	case DataspaceScalar:
		return 1
	}
	n := uint64(1)
	for _, d := range m.Dimensions {
		n *= d
	}
	return n
}

func (m *Dataspace) IsScalar() bool { return m.SpaceType == DataspaceScalar }

func (d *decoder) dataspace() *Dataspace {
	version := d.u8()
	rank := int(d.u8())
	flags := d.u8()
	ds := &Dataspace{SpaceType: DataspaceSimple}
	switch version {
	case 1:
		d.skip(5)
		if rank == 0 {
			ds.SpaceType = DataspaceScalar
		}
	case 2:
		ds.SpaceType = DataspaceType(d.u8())
	default:
		d.failf("version %d", version)
		return ds
	}
	if rank == 0 {
		return ds
	}
	ds.Dimensions = make([]uint64, rank)
	for i := range ds.Dimensions {
		ds.Dimensions[i] = d.length()
	}
	if flags&0x01 != 0 {
		ds.MaxDims = make([]uint64, rank)
		for i := range ds.MaxDims {
			ds.MaxDims[i] = d.length()
		}
	}
	return ds
}

// Encode writes a version 2 dataspace message.
func (m *Dataspace) Encode(e *Encoder) {
	var flags uint8
	if m.MaxDims != nil {
		flags = 0x01
	}
	e.U8(2)
	e.U8(uint8(len(m.Dimensions)))
	e.U8(flags)
	e.U8(uint8(m.SpaceType))
	for _, dim := range m.Dimensions {
		e.Length(dim)
	}
	for _, dim := range m.MaxDims {
		e.Length(dim)
	}
}

// NewDataspace returns a simple dataspace. maxDims may be nil.
func NewDataspace(dims, maxDims []uint64) *Dataspace {
	return &Dataspace{SpaceType: DataspaceSimple, Dimensions: dims, MaxDims: maxDims}
}

func NewScalarDataspace() *Dataspace {
	return &Dataspace{SpaceType: DataspaceScalar}
}
