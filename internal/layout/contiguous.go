package layout

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Contiguous is a dataset stored as one block.
type Contiguous struct {
	addr     uint64
	size     uint64
	dims     []uint64
	elemSize uint64
	r        *binary.Reader
}

// NewContiguous reads the block described by dl. A zero size in the
// message is taken from the dataspace.
func NewContiguous(dl *message.DataLayout, ds *message.Dataspace, dt *message.Datatype, r *binary.Reader) *Contiguous {
	size := dl.Size
	if size == 0 {
		size = calculateDataSize(ds, dt)
	}
	return &Contiguous{addr: dl.Address, size: size, dims: ds.Dimensions, elemSize: uint64(dt.Size), r: r}
}

func (c *Contiguous) Class() message.LayoutClass { return message.LayoutContiguous }
func (c *Contiguous) Address() uint64            { return c.addr }
func (c *Contiguous) Size() uint64               { return c.size }

func (c *Contiguous) Read() ([]byte, error) {
	if c.size == 0 {
		return []byte{}, nil
	}
	if c.r.IsUndefinedOffset(c.addr) {
		return nil, fmt.Errorf("contiguous data not allocated")
	}
	data, err := c.r.At(int64(c.addr)).ReadBytes(int(c.size))
	if err != nil {
		return nil, fmt.Errorf("reading contiguous data: %w", err)
	}
	return data, nil
}

// ReadSlice reads whole rows as a single byte range and falls back to
// reading the block for anything narrower.
func (c *Contiguous) ReadSlice(start, count []uint64) ([]byte, error) {
	if len(c.dims) == 0 {
		return nil, fmt.Errorf("cannot slice scalar dataset")
	}
	if err := checkSelection(c.dims, start, count); err != nil {
		return nil, err
	}

	rowBytes := c.elemSize
	for d := 1; d < len(c.dims); d++ {
		rowBytes *= c.dims[d]
		if start[d] != 0 || count[d] != c.dims[d] {
			data, err := c.Read()
			if err != nil {
				return nil, err
			}
			return extractHyperslab(data, c.dims, start, count, c.elemSize)
		}
	}
	if count[0] == 0 {
		return []byte{}, nil
	}
	return c.r.At(int64(c.addr + start[0]*rowBytes)).ReadBytes(int(count[0] * rowBytes))
}
