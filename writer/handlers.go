package writer

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/robert-malhotra/go-rtdc/dataset"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/hdf5"
)

// A handler stores one kind of feature under the events group. prepare
// validates and normalizes a value without touching the container, check
// verifies it against what is already stored and write stores it.
type handler interface {
	kind() string
	prepare(v any) (any, error)
	check(events *hdf5.Group, name string, payload any) error
	write(events *hdf5.Group, name string, payload any, o *options) (int, error)
}

func handlerFor(key string) (handler, bool) {
	switch {
	case dfn.IsFeature(key):
		return scalarHandler{}, true
	case key == dfn.Contour:
		return contourHandler{}, true
	case key == dfn.Image:
		return imageHandler{}, true
	case key == dfn.Trace:
		return traceHandler{}, true
	}
	return nil, false
}

// openResizable opens parent/name and checks that it grows along axis 0
// and has the given rank.
func openResizable(parent *hdf5.Group, name string, rank int) (*hdf5.Dataset, error) {
	ds, err := parent.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", parent.Path(), name, err)
	}
	md := ds.MaxDims()
	if ds.Rank() != rank || len(md) == 0 || md[0] != hdf5.Unlimited {
		return nil, errs.Contractf("%s is not a resizable rank-%d dataset", ds.Path(), rank)
	}
	return ds, nil
}

type scalarHandler struct{}

func (scalarHandler) kind() string { return "scalar" }

func (scalarHandler) prepare(v any) (any, error) {
	switch x := v.(type) {
	case dataset.Scalar:
		return []float64(x), nil
	case []float64:
		return x, nil
	case float64:
		return []float64{x}, nil
	case []float32:
		return floats(x), nil
	case []int64:
		return floats(x), nil
	case []int32:
		return floats(x), nil
	case []int:
		return floats(x), nil
	case []uint8:
		return floats(x), nil
	case []uint16:
		return floats(x), nil
	case []uint32:
		return floats(x), nil
	}
	return nil, errs.Contractf("scalar feature value of type %T", v)
}

func floats[T float32 | int64 | int32 | int | uint8 | uint16 | uint32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func (scalarHandler) check(events *hdf5.Group, name string, _ any) error {
	if !events.Contains(name) {
		return nil
	}
	_, err := openResizable(events, name, 1)
	return err
}

func (scalarHandler) write(events *hdf5.Group, name string, payload any, _ *options) (int, error) {
	values := payload.([]float64)
	if events.Contains(name) {
		ds, err := openResizable(events, name, 1)
		if err != nil {
			return 0, err
		}
		return len(values), ds.Extend(values)
	}
	_, err := events.CreateDataset(name, values, hdf5.WithMaxDims(hdf5.Unlimited), hdf5.WithFletcher32())
	return len(values), err
}

type contourHandler struct{}

func (contourHandler) kind() string { return dfn.Contour }

func (contourHandler) prepare(v any) (any, error) {
	var cs dataset.Contours
	switch x := v.(type) {
	case dataset.Contour:
		cs = dataset.Contours{x}
	case dataset.Contours:
		cs = x
	case []dataset.Contour:
		cs = x
	default:
		return nil, errs.Contractf("contour value of type %T", v)
	}
	for i, c := range cs {
		if len(c.X) != len(c.Y) {
			return nil, errs.Contractf("contour %d has %d x and %d y coordinates", i, len(c.X), len(c.Y))
		}
		if len(c.X) == 0 {
			return nil, errs.Contractf("contour %d has no points", i)
		}
	}
	return cs, nil
}

func (contourHandler) check(*hdf5.Group, string, any) error { return nil }

func (contourHandler) write(events *hdf5.Group, _ string, payload any, o *options) (int, error) {
	cs := payload.(dataset.Contours)
	grp, err := events.RequireGroup(dfn.Contour)
	if err != nil {
		return 0, err
	}
	curid, err := grp.NumObjects()
	if err != nil {
		return 0, err
	}
	opts := append([]hdf5.DatasetOption{hdf5.WithFletcher32()}, o.compressionOpts()...)
	for i, c := range cs {
		if _, err := grp.CreateDataset(strconv.Itoa(curid+i), [][]int32{c.X, c.Y}, opts...); err != nil {
			return i, fmt.Errorf("contour %d: %w", curid+i, err)
		}
	}
	return len(cs), nil
}

type imageHandler struct{}

func (imageHandler) kind() string { return dfn.Image }

func (imageHandler) prepare(v any) (any, error) {
	var frames [][][]uint8
	switch x := v.(type) {
	case dataset.ImageStack:
		if x.Height <= 0 || x.Width <= 0 || len(x.Pix)%(x.Height*x.Width) != 0 {
			return nil, errs.Contractf("image stack of %d pixels does not hold %dx%d frames", len(x.Pix), x.Height, x.Width)
		}
		return x, nil
	case [][]uint8:
		frames = [][][]uint8{x}
	case [][][]uint8:
		frames = x
	default:
		return nil, errs.Contractf("image value of type %T, expected 2-D or 3-D uint8", v)
	}

	if len(frames) == 0 || len(frames[0]) == 0 || len(frames[0][0]) == 0 {
		return nil, errs.Contractf("image needs at least one non-empty frame")
	}
	stack := dataset.ImageStack{Height: len(frames[0]), Width: len(frames[0][0])}
	for i, frame := range frames {
		if len(frame) != stack.Height {
			return nil, errs.Contractf("image frame %d has %d rows, expected %d", i, len(frame), stack.Height)
		}
		for _, row := range frame {
			if len(row) != stack.Width {
				return nil, errs.Contractf("image frame %d has a row of %d pixels, expected %d", i, len(row), stack.Width)
			}
			stack.Pix = append(stack.Pix, row...)
		}
	}
	return stack, nil
}

func (imageHandler) check(events *hdf5.Group, name string, payload any) error {
	if !events.Contains(name) {
		return nil
	}
	ds, err := openResizable(events, name, 3)
	if err != nil {
		return err
	}
	stack := payload.(dataset.ImageStack)
	shape := ds.Shape()
	if int(shape[1]) != stack.Height || int(shape[2]) != stack.Width {
		return errs.Contractf("image frames are %dx%d, container holds %dx%d", stack.Height, stack.Width, shape[1], shape[2])
	}
	return nil
}

func (imageHandler) write(events *hdf5.Group, name string, payload any, _ *options) (int, error) {
	stack := payload.(dataset.ImageStack)
	if events.Contains(name) {
		ds, err := openResizable(events, name, 3)
		if err != nil {
			return 0, err
		}
		return stack.Len(), ds.Extend(stack.Pix)
	}
	h, w := uint64(stack.Height), uint64(stack.Width)
	_, err := events.CreateDataset(name, stack.Pix,
		hdf5.WithShape(uint64(stack.Len()), h, w),
		hdf5.WithMaxDims(hdf5.Unlimited, h, w),
		hdf5.WithChunks(1, h, w),
		hdf5.WithFletcher32(),
		hdf5.WithAttribute("CLASS", "IMAGE"),
		hdf5.WithAttribute("IMAGE_VERSION", "1.2"),
		hdf5.WithAttribute("IMAGE_SUBCLASS", "IMAGE_GRAYSCALE"),
	)
	return stack.Len(), err
}

type traceHandler struct{}

func (traceHandler) kind() string { return dfn.Trace }

func (traceHandler) prepare(v any) (any, error) {
	traces := make(dataset.Traces)
	switch x := v.(type) {
	case dataset.Traces:
		for ch, tr := range x {
			traces[ch] = tr
		}
	case map[string]dataset.Trace:
		for ch, tr := range x {
			traces[ch] = tr
		}
	case map[string][][]float64:
		for ch, tr := range x {
			traces[ch] = tr
		}
	case map[string][]float64:
		for ch, row := range x {
			traces[ch] = dataset.Trace{row}
		}
	default:
		return nil, errs.Contractf("trace value of type %T", v)
	}

	rows := -1
	for _, ch := range traces.Channels() {
		if !dfn.IsTraceChannel(ch) {
			return nil, errs.Contractf("unknown trace key: %s", ch)
		}
		tr := traces[ch]
		if rows >= 0 && tr.Len() != rows {
			return nil, errs.Contractf("trace %s has %d events, other channels have %d", ch, tr.Len(), rows)
		}
		rows = tr.Len()
		for i, row := range tr {
			if len(row) == 0 || len(row) != tr.Samples() {
				return nil, errs.Contractf("trace %s event %d has %d samples, expected %d", ch, i, len(row), tr.Samples())
			}
		}
	}
	return traces, nil
}

func (traceHandler) check(events *hdf5.Group, name string, payload any) error {
	if !events.Contains(name) {
		return nil
	}
	grp, err := events.OpenGroup(name)
	if err != nil {
		return err
	}
	traces := payload.(dataset.Traces)
	for _, ch := range traces.Channels() {
		if !grp.Contains(ch) || traces[ch].Len() == 0 {
			continue
		}
		ds, err := openResizable(grp, ch, 2)
		if err != nil {
			return err
		}
		if got := int(ds.Shape()[1]); got != traces[ch].Samples() {
			return errs.Contractf("trace %s has %d samples, container holds %d", ch, traces[ch].Samples(), got)
		}
	}
	return nil
}

func (traceHandler) write(events *hdf5.Group, name string, payload any, _ *options) (int, error) {
	traces := payload.(dataset.Traces)
	grp, err := events.RequireGroup(name)
	if err != nil {
		return 0, err
	}
	for _, ch := range traces.Channels() {
		tr := traces[ch]
		if tr.Len() == 0 {
			continue
		}
		flat := make([]float64, 0, tr.Len()*tr.Samples())
		for _, row := range tr {
			flat = append(flat, row...)
		}
		if grp.Contains(ch) {
			ds, err := openResizable(grp, ch, 2)
			if err != nil {
				return 0, err
			}
			if err := ds.Extend(flat); err != nil {
				return 0, fmt.Errorf("trace %s: %w", ch, err)
			}
			continue
		}
		samples := uint64(tr.Samples())
		if _, err := grp.CreateDataset(ch, flat,
			hdf5.WithShape(uint64(tr.Len()), samples),
			hdf5.WithMaxDims(hdf5.Unlimited, samples),
			hdf5.WithFletcher32(),
		); err != nil {
			return 0, fmt.Errorf("trace %s: %w", ch, err)
		}
	}
	return traces.Len(), nil
}

// logsHandler stores log lines as variable-length strings under logs/.
type logsHandler struct{}

func (logsHandler) check(logs *hdf5.Group, name string) error {
	if logs == nil || !logs.Contains(name) {
		return nil
	}
	_, err := openResizable(logs, name, 1)
	return err
}

func (logsHandler) write(logs *hdf5.Group, name string, lines []string, o *options) (int, error) {
	if logs.Contains(name) {
		ds, err := openResizable(logs, name, 1)
		if err != nil {
			return 0, err
		}
		return len(lines), ds.Extend(lines)
	}
	opts := append([]hdf5.DatasetOption{hdf5.WithMaxDims(hdf5.Unlimited), hdf5.WithFletcher32()}, o.compressionOpts()...)
	_, err := logs.CreateDataset(name, lines, opts...)
	return len(lines), err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
