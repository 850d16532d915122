package hdf5

import (
	"fmt"
	"path"

	"github.com/robert-malhotra/go-rtdc/internal/dtype"
	"github.com/robert-malhotra/go-rtdc/internal/layout"
	"github.com/robert-malhotra/go-rtdc/internal/message"
	"github.com/robert-malhotra/go-rtdc/internal/object"
)

// Dataset is an n-dimensional array of one datatype.
type Dataset struct {
	file      *File
	path      string
	header    *object.Header
	dataspace *message.Dataspace
	datatype  *message.Datatype
	layout    layout.Layout
	attrs     attrSet
}

func newDataset(f *File, p string, header *object.Header) (*Dataset, error) {
	d := &Dataset{file: f, path: p, header: header, dataspace: header.Dataspace(), datatype: header.Datatype()}
	if d.dataspace == nil || d.datatype == nil {
		return nil, fmt.Errorf("%s: dataset without dataspace or datatype", p)
	}
	var err error
	d.layout, err = layout.New(header.DataLayout(), d.dataspace, d.datatype, header.FilterPipeline(), f.reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	for _, msg := range header.GetMessages(message.TypeAttribute) {
		d.attrs = append(d.attrs, msg.(*message.Attribute))
	}
	return d, nil
}

func (d *Dataset) Name() string { return path.Base(d.path) }
func (d *Dataset) Path() string { return d.path }
func (d *Dataset) Rank() int    { return d.dataspace.Rank() }

// Shape is nil for a scalar dataset.
func (d *Dataset) Shape() []uint64 {
	if d.dataspace.IsScalar() {
		return nil
	}
	return d.dataspace.Dimensions
}

// MaxDims returns nil for a fixed-size dataset. Unlimited dimensions are
// reported as Unlimited.
func (d *Dataset) MaxDims() []uint64 { return d.dataspace.MaxDims }

func (d *Dataset) Datatype() *message.Datatype { return d.datatype }

// Filters returns the IDs of the filters applied to the dataset's chunks.
func (d *Dataset) Filters() []uint16 {
	fp := d.header.FilterPipeline()
	if fp == nil {
		return nil
	}
	ids := make([]uint16, len(fp.Filters))
	for i, f := range fp.Filters {
		ids[i] = f.ID
	}
	return ids
}

func (d *Dataset) Attrs() []string             { return d.attrs.names() }
func (d *Dataset) Attr(name string) *Attribute { return d.attrs.get(name, d.file.reader) }

// Read decodes every element into dest, a pointer to a slice.
func (d *Dataset) Read(dest any) error {
	raw, err := d.layout.Read()
	if err != nil {
		return fmt.Errorf("reading %s: %w", d.path, err)
	}
	return dtype.Decode(d.datatype, raw, d.dataspace.NumElements(), dest, d.file.reader)
}

func (d *Dataset) ReadFloat64() ([]float64, error) { return readAll[float64](d) }
func (d *Dataset) ReadInt32() ([]int32, error)     { return readAll[int32](d) }
func (d *Dataset) ReadString() ([]string, error)   { return readAll[string](d) }

func readAll[T any](d *Dataset) ([]T, error) {
	var out []T
	err := d.Read(&out)
	return out, err
}

// ReadRows decodes count rows along the first axis, starting at start.
// Only the chunks holding those rows are read.
func (d *Dataset) ReadRows(start, count uint64, dest any) error {
	dims := d.Shape()
	if len(dims) == 0 {
		return fmt.Errorf("row read on scalar dataset %s: %w", d.path, ErrUnsupported)
	}
	first := make([]uint64, len(dims))
	extent := append([]uint64(nil), dims...)
	first[0], extent[0] = start, count

	raw := []byte{}
	if count > 0 {
		var err error
		raw, err = d.layout.ReadSlice(first, extent)
		if err != nil {
			return fmt.Errorf("reading rows %d..%d of %s: %w", start, start+count, d.path, err)
		}
	}
	return dtype.Decode(d.datatype, raw, count*d.rowElements(), dest, d.file.reader)
}

// rowElements is the number of elements in one row along the first axis.
func (d *Dataset) rowElements() uint64 {
	dims := d.Shape()
	if len(dims) == 0 {
		return 1
	}
	return product(dims[1:])
}

// SetAttr creates or replaces an attribute on the dataset.
func (d *Dataset) SetAttr(name string, value any) error {
	if !d.file.writable {
		return ErrNotWritable
	}
	msg, err := newAttribute(name, value)
	if err != nil {
		return err
	}
	var messages []message.Message
	replaced := false
	for _, m := range d.header.Messages {
		if a, ok := m.(*message.Attribute); ok && a.Name == name {
			m, replaced = msg, true
		}
		messages = append(messages, m)
	}
	if !replaced {
		messages = append(messages, msg)
	}
	return d.update(messages)
}

// update stores messages as the dataset's header. A header that still
// fits its old size is overwritten in place; any other is rewritten.
func (d *Dataset) update(messages []message.Message) error {
	if d.header.Version != 2 || d.header.Continued {
		return d.rewrite(messages)
	}
	buf, fits, err := object.EncodeSize(messages, d.header.Size, d.file.writer.OffsetSize(), d.file.writer.LengthSize())
	if err != nil {
		return fmt.Errorf("rewriting %s: %w", d.path, err)
	}
	if !fits {
		return d.rewrite(messages)
	}
	if err := d.file.writer.At(int64(d.header.Address)).WriteBytes(buf); err != nil {
		return fmt.Errorf("rewriting %s: %w", d.path, err)
	}
	fresh, err := d.file.openDatasetAt(d.header.Address, d.path)
	if err != nil {
		return err
	}
	*d = *fresh
	return nil
}

// rewrite stores messages as the dataset's new header, relinks the parent
// group and reloads the handle.
func (d *Dataset) rewrite(messages []message.Message) error {
	addr, _, err := d.file.writeHeader(messages, 0)
	if err != nil {
		return fmt.Errorf("rewriting %s: %w", d.path, err)
	}
	d.file.alloc.Abandon(d.header.Size)

	parent := d.file.parentOf(d.path)
	if parent == nil {
		return fmt.Errorf("parent of %s is not open", d.path)
	}
	if err := parent.relink(d.Name(), addr); err != nil {
		return err
	}
	fresh, err := d.file.openDatasetAt(addr, d.path)
	if err != nil {
		return err
	}
	*d = *fresh
	return nil
}
