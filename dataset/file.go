package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/hdf5"
)

// hashWindow is how much of each end of a container goes into its hash.
const hashWindow = 64 * 1024

// File is a dataset read from an .rtdc container. Scalar features and
// traces are loaded when the file is opened; contours and images are read
// per event through ContourReader and ImageReader.
type File struct {
	path    string
	h5      *hdf5.File
	cfg     *config.Config
	filter  *Filter
	hash    string
	n       int
	scalars map[string]Scalar
	traces  Traces
	contour *ContourReader
	image   *ImageReader
}

// Open reads the container at path.
func Open(path string) (*File, error) {
	h5, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	f := &File{path: path, h5: h5, scalars: make(map[string]Scalar), n: -1}
	if err := f.load(); err != nil {
		h5.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	hash, err := hashFile(f.path)
	if err != nil {
		return err
	}
	f.hash = hash

	meta, err := readMetadata(f.h5.Root())
	if err != nil {
		return err
	}

	if f.h5.Root().Contains("events") {
		events, err := f.h5.OpenGroup("events")
		if err != nil {
			return fmt.Errorf("opening events: %w", err)
		}
		if err := f.loadEvents(events); err != nil {
			return err
		}
	}
	if f.n < 0 {
		f.n = 0
	}

	cfg, err := config.New(config.WithMap(meta))
	if err != nil {
		return err
	}
	if err := cfg.CompleteFromDataset(f); err != nil {
		return err
	}
	f.cfg = cfg
	f.filter = NewFilter(f.n)
	return nil
}

// readMetadata collects the root section:key attributes that belong to the
// known metadata vocabulary, coerced to their declared types.
func readMetadata(root *hdf5.Group) (map[string]map[string]any, error) {
	meta := make(map[string]map[string]any)
	for _, name := range root.Attrs() {
		sec, key, ok := strings.Cut(name, ":")
		if !ok {
			continue
		}
		typ, known := dfn.MetadataType(sec, key)
		if !known {
			continue
		}
		raw, err := root.Attr(name).Value()
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		v, err := typ.Coerce(raw)
		if err != nil {
			return nil, errs.Contractf("attribute %s: %v", name, err)
		}
		if meta[sec] == nil {
			meta[sec] = make(map[string]any)
		}
		meta[sec][key] = v
	}
	return meta, nil
}

func (f *File) loadEvents(events *hdf5.Group) error {
	members, err := events.Members()
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	sort.Strings(members)

	for _, name := range members {
		switch {
		case dfn.IsFeature(name):
			ds, err := events.OpenDataset(name)
			if err != nil {
				return fmt.Errorf("feature %s: %w", name, err)
			}
			values, err := ds.ReadFloat64()
			if err != nil {
				return fmt.Errorf("reading feature %s: %w", name, err)
			}
			if err := f.setLen(name, len(values)); err != nil {
				return err
			}
			f.scalars[name] = values
		case name == dfn.Trace:
			grp, err := events.OpenGroup(name)
			if err != nil {
				return fmt.Errorf("opening traces: %w", err)
			}
			traces, err := readTraces(grp)
			if err != nil {
				return err
			}
			if err := f.setLen(name, traces.Len()); err != nil {
				return err
			}
			f.traces = traces
		case name == dfn.Contour:
			grp, err := events.OpenGroup(name)
			if err != nil {
				return fmt.Errorf("opening contours: %w", err)
			}
			cr, err := newContourReader(grp)
			if err != nil {
				return err
			}
			if err := f.setLen(name, cr.Len()); err != nil {
				return err
			}
			f.contour = cr
		case name == dfn.Image:
			ds, err := events.OpenDataset(name)
			if err != nil {
				return fmt.Errorf("opening images: %w", err)
			}
			ir, err := newImageReader(ds)
			if err != nil {
				return err
			}
			if err := f.setLen(name, ir.Len()); err != nil {
				return err
			}
			f.image = ir
		}
	}
	return nil
}

func (f *File) setLen(name string, n int) error {
	if f.n >= 0 && n != f.n {
		return errs.Contractf("%s: feature %s has %d events, expected %d", f.path, name, n, f.n)
	}
	f.n = n
	return nil
}

func readTraces(grp *hdf5.Group) (Traces, error) {
	channels, err := grp.Members()
	if err != nil {
		return nil, fmt.Errorf("listing traces: %w", err)
	}
	traces := make(Traces, len(channels))
	rows := -1
	for _, ch := range channels {
		ds, err := grp.OpenDataset(ch)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", ch, err)
		}
		shape := ds.Shape()
		if len(shape) != 2 {
			return nil, errs.Contractf("trace %s has rank %d, expected 2", ch, len(shape))
		}
		flat, err := ds.ReadFloat64()
		if err != nil {
			return nil, fmt.Errorf("reading trace %s: %w", ch, err)
		}
		n, samples := int(shape[0]), int(shape[1])
		if rows >= 0 && n != rows {
			return nil, errs.Contractf("trace %s has %d rows, expected %d", ch, n, rows)
		}
		rows = n
		tr := make(Trace, n)
		for i := range tr {
			tr[i] = flat[i*samples : (i+1)*samples]
		}
		traces[ch] = tr
	}
	return traces, nil
}

// hashFile digests the file size and the first and last hashWindow bytes.
func hashFile(path string) (string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fd.Close()
	info, err := fd.Stat()
	if err != nil {
		return "", err
	}

	h := xxhash.New()
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(info.Size()))
	h.Write(size[:])

	if _, err := io.CopyN(h, fd, hashWindow); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	tail := info.Size() - hashWindow
	if tail < 0 {
		tail = 0
	}
	if _, err := io.Copy(h, io.NewSectionReader(fd, tail, info.Size()-tail)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Close releases the underlying container.
func (f *File) Close() error {
	return f.h5.Close()
}

func (f *File) Path() string           { return f.path }
func (f *File) Title() string          { return strings.TrimSuffix(filepath.Base(f.path), ".rtdc") }
func (f *File) Identifier() string     { return "mm-hdf5_" + f.hash }
func (f *File) Hash() string           { return f.hash }
func (f *File) Config() *config.Config { return f.cfg }
func (f *File) Len() int               { return f.n }
func (f *File) Filter() *Filter        { return f.filter }

// Features returns the stored scalar features and the structured kinds
// present in the container, sorted.
func (f *File) Features() []string {
	out := make([]string, 0, len(f.scalars)+3)
	for name := range f.scalars {
		out = append(out, name)
	}
	if f.contour != nil {
		out = append(out, dfn.Contour)
	}
	if f.image != nil {
		out = append(out, dfn.Image)
	}
	if f.traces != nil {
		out = append(out, dfn.Trace)
	}
	sort.Strings(out)
	return out
}

func (f *File) Has(name string) bool {
	_, err := f.Feature(name)
	return err == nil
}

// Feature returns a Scalar, Traces, *ContourReader or *ImageReader.
func (f *File) Feature(name string) (any, error) {
	key := featureName(name)
	if s, ok := f.scalars[key]; ok {
		return s, nil
	}
	switch {
	case key == dfn.Trace && f.traces != nil:
		return f.traces, nil
	case key == dfn.Contour && f.contour != nil:
		return f.contour, nil
	case key == dfn.Image && f.image != nil:
		return f.image, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrFeatureNotFound)
}

func (f *File) Scalar(name string) ([]float64, error) {
	return scalarOf(f, name)
}

// ApplyFilter recomputes the box mask from the filtering configuration.
func (f *File) ApplyFilter() error {
	box, err := applyBox(f.cfg, f, f.n)
	if err != nil {
		return err
	}
	f.filter.setBox(box)
	return nil
}

// Logs returns every log of the container by name.
func (f *File) Logs() (map[string][]string, error) {
	logs := make(map[string][]string)
	if !f.h5.Root().Contains("logs") {
		return logs, nil
	}
	grp, err := f.h5.OpenGroup("logs")
	if err != nil {
		return nil, fmt.Errorf("opening logs: %w", err)
	}
	names, err := grp.Members()
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	for _, name := range names {
		ds, err := grp.OpenDataset(name)
		if err != nil {
			return nil, fmt.Errorf("log %s: %w", name, err)
		}
		lines, err := ds.ReadString()
		if err != nil {
			return nil, fmt.Errorf("reading log %s: %w", name, err)
		}
		logs[name] = lines
	}
	return logs, nil
}

// ContourReader reads the contour of one event at a time.
type ContourReader struct {
	grp *hdf5.Group
	n   int
}

func newContourReader(grp *hdf5.Group) (*ContourReader, error) {
	n, err := grp.NumObjects()
	if err != nil {
		return nil, fmt.Errorf("counting contours: %w", err)
	}
	return &ContourReader{grp: grp, n: n}, nil
}

// Len returns the number of stored contours.
func (r *ContourReader) Len() int { return r.n }

// At reads the contour of event i.
func (r *ContourReader) At(i int) (Contour, error) {
	if i < 0 || i >= r.n {
		return Contour{}, errs.Contractf("contour %d out of range [0, %d)", i, r.n)
	}
	ds, err := r.grp.OpenDataset(strconv.Itoa(i))
	if err != nil {
		return Contour{}, fmt.Errorf("contour %d: %w", i, err)
	}
	shape := ds.Shape()
	if len(shape) != 2 || shape[0] != 2 {
		return Contour{}, errs.Contractf("contour %d has shape %v, expected 2xC", i, shape)
	}
	xy, err := ds.ReadInt32()
	if err != nil {
		return Contour{}, fmt.Errorf("reading contour %d: %w", i, err)
	}
	c := int(shape[1])
	return Contour{X: xy[:c], Y: xy[c : 2*c]}, nil
}

// All reads every contour.
func (r *ContourReader) All() (Contours, error) {
	out := make(Contours, r.n)
	for i := range out {
		c, err := r.At(i)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// lazyColumn is a reader that can load its whole feature into a Column.
type lazyColumn interface {
	column() (Column, error)
}

func (r *ContourReader) column() (Column, error) { return r.All() }

func (r *ImageReader) column() (Column, error) { return r.All() }

// ImageReader reads single frames of the image stack.
type ImageReader struct {
	ds            *hdf5.Dataset
	n             int
	height, width int
}

func newImageReader(ds *hdf5.Dataset) (*ImageReader, error) {
	shape := ds.Shape()
	if len(shape) != 3 {
		return nil, errs.Contractf("image stack has rank %d, expected 3", len(shape))
	}
	return &ImageReader{ds: ds, n: int(shape[0]), height: int(shape[1]), width: int(shape[2])}, nil
}

// Len returns the number of frames.
func (r *ImageReader) Len() int { return r.n }

// Size returns the frame height and width.
func (r *ImageReader) Size() (height, width int) { return r.height, r.width }

// At reads frame i as rows of pixels.
func (r *ImageReader) At(i int) ([][]uint8, error) {
	if i < 0 || i >= r.n {
		return nil, errs.Contractf("image %d out of range [0, %d)", i, r.n)
	}
	var pix []uint8
	if err := r.ds.ReadRows(uint64(i), 1, &pix); err != nil {
		return nil, fmt.Errorf("reading image %d: %w", i, err)
	}
	frame := make([][]uint8, r.height)
	for y := range frame {
		frame[y] = pix[y*r.width : (y+1)*r.width]
	}
	return frame, nil
}

// All reads every frame into an ImageStack.
func (r *ImageReader) All() (ImageStack, error) {
	stack := ImageStack{Height: r.height, Width: r.width}
	if r.n == 0 {
		return stack, nil
	}
	if err := r.ds.ReadRows(0, uint64(r.n), &stack.Pix); err != nil {
		return ImageStack{}, fmt.Errorf("reading images: %w", err)
	}
	return stack, nil
}
