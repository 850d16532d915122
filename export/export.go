// Package export writes the events of a dataset to new .rtdc or .tsv
// files, optionally restricted to the events its filter includes.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-rtdc/dataset"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/writer"
)

// Option configures an export.
type Option func(*options)

type options struct {
	filtered    bool
	override    bool
	compression string
	logger      *slog.Logger
}

// WithFiltered selects whether only events included by the dataset filter
// are exported. It is on by default.
func WithFiltered(on bool) Option {
	return func(o *options) { o.filtered = on }
}

// WithOverride allows replacing an existing output file.
func WithOverride(on bool) Option {
	return func(o *options) { o.override = on }
}

// WithCompression sets the compression of contours and logs in .rtdc
// exports. See writer.WithCompression.
func WithCompression(name string) Option {
	return func(o *options) { o.compression = name }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		filtered: true,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// indices returns the exported event indices.
func (o *options) indices(ds dataset.Dataset) []int {
	if o.filtered {
		return ds.Filter().Indices()
	}
	idx := make([]int, ds.Len())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// claim makes sure path may be written, removing an existing file when
// overriding.
func claim(path string, override bool) error {
	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case !override:
		return errs.Contractf("file already exists: %s (export with override to replace it)", path)
	}
	return os.Remove(path)
}

// resolve canonicalizes feature names and checks that ds has them. Only
// scalar features are accepted when scalarOnly is set.
func resolve(ds dataset.Dataset, features []string, scalarOnly bool) ([]string, error) {
	out := make([]string, 0, len(features))
	for _, name := range features {
		id, ok := dfn.ResolveFeature(name)
		if !ok {
			id = strings.ToLower(strings.TrimSpace(name))
			if scalarOnly || !dfn.IsStructured(id) {
				return nil, errs.Contractf("unknown feature name %s", name)
			}
		}
		if !ds.Has(id) {
			return nil, fmt.Errorf("%s: %w", id, dataset.ErrFeatureNotFound)
		}
		out = append(out, id)
	}
	return out, nil
}

// metadata collects the metadata sections of the dataset configuration,
// keeping only keys of the metadata vocabulary.
func metadata(ds dataset.Dataset) map[string]map[string]any {
	cfg := ds.Config()
	meta := make(map[string]map[string]any)
	for _, sec := range dfn.MetadataSections() {
		s := cfg.Section(sec)
		for _, key := range s.Keys() {
			if !dfn.IsMetadata(sec, key) {
				continue
			}
			v, _ := s.Get(key)
			if meta[sec] == nil {
				meta[sec] = make(map[string]any)
			}
			meta[sec][key] = v
		}
	}
	return meta
}

// HDF5 exports features of ds to a new .rtdc container at path. The suffix
// is added when missing. Scalar features are written in one call, contours,
// images and traces one event at a time.
func HDF5(ds dataset.Dataset, path string, features []string, opts ...Option) error {
	o := newOptions(opts)
	if !strings.HasSuffix(path, ".rtdc") {
		path += ".rtdc"
	}
	features, err := resolve(ds, features, false)
	if err != nil {
		return err
	}
	if err := claim(path, o.override); err != nil {
		return err
	}
	idx := o.indices(ds)

	c, err := writer.Write(path, writer.Data{},
		writer.WithMode(writer.Append),
		writer.WithMeta(metadata(ds)),
		writer.WithCompression(o.compression),
		writer.WithLogger(o.logger))
	if err != nil {
		return err
	}

	for _, feat := range features {
		if err := exportFeature(c, ds, feat, idx, o); err != nil {
			c.Close()
			return fmt.Errorf("exporting %s: %w", feat, err)
		}
	}
	o.logger.Info("exported dataset",
		"dataset", ds.Identifier(),
		"path", path,
		"events", len(idx),
		"features", len(features))
	return c.Close()
}

func exportFeature(c *writer.Container, ds dataset.Dataset, feat string, idx []int, o *options) error {
	if dfn.IsFeature(feat) {
		values, err := ds.Scalar(feat)
		if err != nil {
			return err
		}
		sel := make([]float64, len(idx))
		for i, j := range idx {
			sel[i] = values[j]
		}
		_, err = c.Write(writer.Data{feat: sel}, writer.WithCompression(o.compression), writer.WithLogger(o.logger))
		return err
	}

	v, err := ds.Feature(feat)
	if err != nil {
		return err
	}
	event, err := eventReader(feat, v)
	if err != nil {
		return err
	}
	for _, i := range idx {
		ev, err := event(i)
		if err != nil {
			return err
		}
		if _, err := c.Write(writer.Data{feat: ev}, writer.WithCompression(o.compression), writer.WithLogger(o.logger)); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// eventReader returns a function reading event i of a structured feature
// in a form the writer accepts.
func eventReader(feat string, v any) (func(i int) (any, error), error) {
	switch x := v.(type) {
	case *dataset.ContourReader:
		return func(i int) (any, error) { return x.At(i) }, nil
	case dataset.Contours:
		return func(i int) (any, error) { return x[i], nil }, nil
	case *dataset.ImageReader:
		return func(i int) (any, error) { return x.At(i) }, nil
	case dataset.ImageStack:
		return func(i int) (any, error) {
			return dataset.ImageStack{Height: x.Height, Width: x.Width, Pix: x.Frame(i)}, nil
		}, nil
	case dataset.Traces:
		return func(i int) (any, error) { return x.Row(i), nil }, nil
	}
	return nil, errs.NotImplementedf("cannot export %s values of type %T", feat, v)
}

// TSV exports scalar features of ds as tab-separated text. The first two
// lines are comment headers carrying the feature ids and labels.
func TSV(ds dataset.Dataset, path string, features []string, opts ...Option) error {
	o := newOptions(opts)
	if !strings.HasSuffix(path, ".tsv") {
		path += ".tsv"
	}
	features, err := resolve(ds, features, true)
	if err != nil {
		return err
	}

	columns := make([][]float64, len(features))
	labels := make([]string, len(features))
	for j, feat := range features {
		if columns[j], err = ds.Scalar(feat); err != nil {
			return err
		}
		labels[j] = dfn.Label(feat)
	}
	if err := claim(path, o.override); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	idx := o.indices(ds)
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# %s\n", strings.Join(features, "\t"))
	fmt.Fprintf(w, "# %s\n", strings.Join(labels, "\t"))
	var buf []byte
	for _, i := range idx {
		buf = buf[:0]
		for j, col := range columns {
			if j > 0 {
				buf = append(buf, '\t')
			}
			buf = appendValue(buf, col[i])
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	o.logger.Info("exported dataset",
		"dataset", ds.Identifier(),
		"path", path,
		"events", len(idx),
		"features", len(features))
	return f.Close()
}

// appendValue formats v like printf's %.10e, spelling non-finite values
// nan, inf and -inf.
func appendValue(buf []byte, v float64) []byte {
	switch {
	case math.IsNaN(v):
		return append(buf, "nan"...)
	case math.IsInf(v, 1):
		return append(buf, "inf"...)
	case math.IsInf(v, -1):
		return append(buf, "-inf"...)
	}
	return strconv.AppendFloat(buf, v, 'e', 10, 64)
}
