package hdf5

import (
	"fmt"
	"reflect"
	"slices"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/dtype"
	"github.com/robert-malhotra/go-rtdc/internal/filter"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
	"github.com/robert-malhotra/go-rtdc/internal/layout"
	"github.com/robert-malhotra/go-rtdc/internal/message"
	"github.com/robert-malhotra/go-rtdc/internal/object"
)

// Target sizes of an automatically chosen chunk. Resizable datasets are
// appended to in small steps and rewrite their last chunk each time.
const (
	targetChunkBytes    = 32 * 1024
	resizableChunkBytes = 8 * 1024
)

// Upper bound on strings per global heap collection.
const maxHeapObjects = 4096

// CreateDataset stores data under name. The datatype and shape come from
// the Go value: nested slices give the dimensions unless WithShape is set,
// and strings are stored as variable-length UTF-8.
func (g *Group) CreateDataset(name string, data any, opts ...DatasetOption) (*Dataset, error) {
	if err := g.checkNew(name); err != nil {
		return nil, err
	}
	o := &datasetOptions{}
	for _, opt := range opts {
		opt(o)
	}

	dims, flat, err := flatten(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.childPath(name), err)
	}
	if o.shape != nil {
		if product(o.shape) != uint64(flat.Len()) {
			return nil, fmt.Errorf("shape %v does not hold %d elements", o.shape, flat.Len())
		}
		dims = o.shape
	}
	if o.maxDims != nil && len(o.maxDims) != len(dims) {
		return nil, fmt.Errorf("max dims %v do not match rank %d", o.maxDims, len(dims))
	}
	if o.extensible() {
		if o.maxDims[0] != Unlimited || !slices.Equal(o.maxDims[1:], dims[1:]) {
			return nil, fmt.Errorf("%w: max dims %v: only the first dimension of %v may grow", ErrUnsupported, o.maxDims, dims)
		}
	}

	dt, err := dtype.For(flat.Type(), g.file.writer.OffsetSize())
	if err != nil {
		return nil, err
	}
	raw, err := g.file.encodeElements(dt, flat)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", g.childPath(name), err)
	}

	pipeline := o.pipeline(dt.Size)
	chunks := o.chunks
	if chunks == nil && (o.extensible() || pipeline != nil) {
		target := uint64(targetChunkBytes)
		if o.extensible() {
			target = resizableChunkBytes
		}
		chunks = guessChunks(dims, dt.Size, target)
	}

	var dl *message.DataLayout
	if chunks != nil {
		if len(chunks) != len(dims) {
			return nil, fmt.Errorf("chunk rank %d does not match dataset rank %d", len(chunks), len(dims))
		}
		if dl, err = g.file.writeChunked(raw, dims, chunks, dt.Size, pipeline, o.extensible()); err != nil {
			return nil, err
		}
	} else {
		addr := g.file.allocate(int64(len(raw)))
		if err := g.file.writer.At(int64(addr)).WriteBytes(raw); err != nil {
			return nil, fmt.Errorf("writing data: %w", err)
		}
		dl = message.NewContiguousLayout(addr, uint64(len(raw)))
	}

	messages := object.DatasetMessages(message.NewDataspace(dims, o.maxDims), dt, dl)
	if pipeline != nil {
		messages = append(messages, pipeline.Message())
	}
	for _, a := range o.attributes {
		msg, err := newAttribute(a.name, a.value)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	addr, _, err := g.file.writeHeader(messages, 0)
	if err != nil {
		return nil, fmt.Errorf("writing dataset header: %w", err)
	}
	if err := g.addLink(name, addr); err != nil {
		return nil, err
	}
	return g.file.openDatasetAt(addr, g.childPath(name))
}

// writeChunked stores raw as chunks and returns the layout message.
// Resizable datasets are indexed with an extensible array, a dataset that
// is a single unfiltered chunk implicitly, and anything else with a fixed
// array whose entries fit one unpaged data block.
func (f *File) writeChunked(raw []byte, dims, chunks []uint64, elemSize uint32, pipeline *filter.EncodePipeline, extensible bool) (*message.DataLayout, error) {
	chunkDims := make([]uint32, len(chunks))
	for i, c := range chunks {
		if c == 0 || c > 0xFFFFFFFF {
			return nil, fmt.Errorf("invalid chunk dimension %d", c)
		}
		chunkDims[i] = uint32(c)
	}
	cw := layout.NewChunkWriter(f.writer, chunkDims, elemSize, f.allocate).WithPipeline(pipeline)

	if !extensible && !cw.Filtered() && slices.Equal(dims, chunks) {
		sc, err := cw.WriteChunk(raw)
		if err != nil {
			return nil, fmt.Errorf("writing chunk: %w", err)
		}
		dl := message.NewChunkedLayout(chunkDims, elemSize, message.ChunkIndexImplicit)
		dl.ChunkIndexAddr = sc.Addr
		return dl, nil
	}

	var stored []layout.StoredChunk
	if product(dims) > 0 {
		var err error
		if stored, err = cw.WriteChunks(layout.SplitIntoChunks(raw, dims, chunkDims, elemSize)); err != nil {
			return nil, fmt.Errorf("writing chunks: %w", err)
		}
	}

	if extensible {
		dl := message.NewChunkedLayout(chunkDims, elemSize, message.ChunkIndexExtensibleArray)
		addr, err := cw.WriteExtensibleArrayIndex(dl.IndexParams(), stored)
		if err != nil {
			return nil, fmt.Errorf("writing chunk index: %w", err)
		}
		dl.ChunkIndexAddr = addr
		return dl, nil
	}
	dl := message.NewChunkedLayout(chunkDims, elemSize, message.ChunkIndexFixedArray)
	dl.SetIndexParams([]byte{layout.FixedArrayPageBits(len(stored))})
	if len(stored) > 0 {
		addr, err := cw.WriteFixedArrayIndex(stored)
		if err != nil {
			return nil, fmt.Errorf("writing chunk index: %w", err)
		}
		dl.ChunkIndexAddr = addr
	}
	return dl, nil
}

// Extend appends rows along the first axis of a resizable dataset. data
// must match the trailing dimensions; a flat slice is split into rows.
//
// The chunk index and every chunk already stored stay where they are. A
// partly filled last chunk is rewritten in place when its new encoding
// fits; otherwise it moves and its old bytes are counted as abandoned. A
// moved chunk is given room to grow, so appending one row at a time moves
// a compressed chunk only a few times before it fills.
func (d *Dataset) Extend(data any) error {
	if !d.file.writable {
		return ErrNotWritable
	}
	chunked, ok := d.layout.(*layout.Chunked)
	maxDims := d.MaxDims()
	dl := d.header.DataLayout()
	if !ok || len(maxDims) == 0 || maxDims[0] != Unlimited ||
		dl.ChunkIndexType != message.ChunkIndexExtensibleArray {
		return fmt.Errorf("%s: %w", d.path, ErrNotResizable)
	}
	dims := d.Shape()
	chunkDims := chunked.ChunkDims()
	for i := 1; i < len(dims); i++ {
		if uint64(chunkDims[i]) != dims[i] || maxDims[i] != dims[i] {
			return fmt.Errorf("%s: chunks do not span dimension %d: %w", d.path, i, ErrNotResizable)
		}
	}

	_, flat, err := flatten(data)
	if err != nil {
		return err
	}
	if flat.Len() == 0 {
		return nil
	}
	rowElems := d.rowElements()
	if uint64(flat.Len())%rowElems != 0 {
		return fmt.Errorf("%d elements do not form whole rows of %d", flat.Len(), rowElems)
	}
	newRows := uint64(flat.Len()) / rowElems
	raw, err := d.file.encodeElements(d.datatype, flat)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.path, err)
	}

	pipeline, err := filter.EncoderFor(chunked.Pipeline())
	if err != nil {
		return err
	}
	cw := layout.NewChunkWriter(d.file.writer, chunkDims, d.datatype.Size, d.file.allocate).
		WithPipeline(pipeline).
		WithSlots(d.file.slots)
	var index *layout.ExtensibleArray
	if d.file.reader.IsUndefinedOffset(dl.ChunkIndexAddr) {
		index, err = cw.NewExtensibleArray(dl.IndexParams())
	} else {
		index, err = cw.OpenExtensibleArray(d.file.reader, dl.ChunkIndexAddr)
	}
	if err != nil {
		return fmt.Errorf("opening chunk index: %w", err)
	}

	chunkRows := uint64(chunkDims[0])
	first, partial := dims[0]/chunkRows, dims[0]%chunkRows
	var last layout.StoredChunk
	var hasLast bool
	if partial != 0 {
		if last, hasLast, err = index.Get(first); err != nil {
			return fmt.Errorf("reading chunk index: %w", err)
		}
		head := make([]byte, partial*rowElems*uint64(d.datatype.Size))
		if hasLast {
			chunk, err := chunked.ReadChunk(last)
			if err != nil {
				return fmt.Errorf("reading last chunk: %w", err)
			}
			copy(head, chunk)
		}
		raw = append(head, raw...)
	}

	tail := append([]uint64{partial + newRows}, dims[1:]...)
	for i, chunk := range layout.SplitIntoChunks(raw, tail, chunkDims, d.datatype.Size) {
		var sc layout.StoredChunk
		if i == 0 && hasLast {
			var unused uint64
			sc, unused, err = cw.RewriteChunk(last, chunk)
			d.file.alloc.Abandon(unused)
		} else {
			sc, err = cw.WriteChunk(chunk)
		}
		if err != nil {
			return fmt.Errorf("writing chunk %d: %w", first+uint64(i), err)
		}
		if err := index.Set(first+uint64(i), sc); err != nil {
			return fmt.Errorf("indexing chunk %d: %w", first+uint64(i), err)
		}
	}
	if err := index.Flush(); err != nil {
		return fmt.Errorf("writing chunk index: %w", err)
	}

	next := *dl
	next.ChunkIndexAddr = index.Addr()
	space := message.NewDataspace(append([]uint64{dims[0] + newRows}, dims[1:]...), maxDims)
	messages := slices.Clone(d.header.Messages)
	for i, m := range messages {
		switch m.(type) {
		case *message.Dataspace:
			messages[i] = space
		case *message.DataLayout:
			messages[i] = &next
		}
	}
	return d.update(messages)
}

// encodeElements converts a flat slice to raw bytes. Variable-length
// strings go to global heap collections and are encoded as references.
func (f *File) encodeElements(dt *message.Datatype, flat reflect.Value) ([]byte, error) {
	if dt.Class != message.ClassVarLen {
		return dtype.Encode(dt, flat.Interface())
	}
	if flat.Type().Elem().Kind() != reflect.String {
		return nil, fmt.Errorf("cannot write %v as variable-length strings", flat.Type().Elem())
	}
	refSize := 4 + f.writer.OffsetSize() + 4
	if int(dt.Size) != refSize {
		return nil, fmt.Errorf("%w: variable-length reference of %d bytes", ErrUnsupported, dt.Size)
	}

	n := flat.Len()
	out := make([]byte, n*refSize)
	refs := binpkg.NewWriter(&sliceWriterAt{buf: out}, binpkg.Config{
		OffsetSize: f.writer.OffsetSize(),
		LengthSize: f.writer.LengthSize(),
		ByteOrder:  f.writer.ByteOrder(),
	})
	if f.strings == nil {
		f.strings = heap.NewGlobalHeapWriter(f.writer, f.allocate)
	}
	ghw := f.strings
	for base := 0; base < n; base += maxHeapObjects {
		end := min(base+maxHeapObjects, n)
		index := make([]uint16, end-base)
		for i := base; i < end; i++ {
			if s := flat.Index(i).String(); s != "" {
				index[i-base] = ghw.AddObject([]byte(s))
			}
		}
		_, ids, err := ghw.Write()
		if err != nil {
			return nil, fmt.Errorf("writing global heap: %w", err)
		}
		for i := base; i < end; i++ {
			w := refs.At(int64(i * refSize))
			if err := w.WriteUint32(uint32(len(flat.Index(i).String()))); err != nil {
				return nil, err
			}
			var id heap.GlobalHeapID
			if idx := index[i-base]; idx != 0 {
				id = ids[idx]
			}
			if err := heap.WriteGlobalHeapID(w, id); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

type sliceWriterAt struct{ buf []byte }

func (s *sliceWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(s.buf) {
		return 0, fmt.Errorf("write at %d beyond buffer of %d bytes", off, len(s.buf))
	}
	return copy(s.buf[off:], p), nil
}

// guessChunks keeps whole trailing dimensions and takes about target bytes
// along the first axis.
func guessChunks(dims []uint64, elemSize uint32, target uint64) []uint64 {
	if len(dims) == 0 {
		return []uint64{1}
	}
	chunks := make([]uint64, len(dims))
	rowBytes := uint64(elemSize)
	for i := 1; i < len(dims); i++ {
		chunks[i] = max(dims[i], 1)
		rowBytes *= chunks[i]
	}
	chunks[0] = max(target/rowBytes, 1)
	return chunks
}

// flatten returns the dimensions of nested slices and their leaves as one
// slice. A scalar has shape [1].
func flatten(data any) ([]uint64, reflect.Value, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, reflect.Value{}, fmt.Errorf("nil data")
	}

	var dims []uint64
	t := v.Type()
	for cur := v; t.Kind() == reflect.Slice || t.Kind() == reflect.Array; t = t.Elem() {
		n := 0
		if cur.IsValid() {
			n = cur.Len()
		}
		dims = append(dims, uint64(n))
		if n > 0 {
			cur = cur.Index(0)
		} else {
			cur = reflect.Value{}
		}
	}
	if len(dims) == 0 {
		out := reflect.MakeSlice(reflect.SliceOf(t), 1, 1)
		out.Index(0).Set(v)
		return []uint64{1}, out, nil
	}
	if len(dims) == 1 && v.Kind() == reflect.Slice {
		return dims, v, nil
	}

	out := reflect.MakeSlice(reflect.SliceOf(t), 0, int(product(dims)))
	var walk func(reflect.Value, int) error
	walk = func(cur reflect.Value, depth int) error {
		if uint64(cur.Len()) != dims[depth] {
			return fmt.Errorf("ragged data: dimension %d has lengths %d and %d", depth, dims[depth], cur.Len())
		}
		for i := 0; i < cur.Len(); i++ {
			if depth == len(dims)-1 {
				out = reflect.Append(out, cur.Index(i))
			} else if err := walk(cur.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return nil, reflect.Value{}, err
	}
	return dims, out, nil
}

func product(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
