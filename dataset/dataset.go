// Package dataset provides RT-DC event datasets: an in-memory variant
// (Dict), a filtered view over another dataset (Hierarchy) and a reader for
// .rtdc containers (File).
//
// All variants share the Filter type and the box filtering routine driven by
// the "filtering" section of their configuration.
package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
)

// ErrFeatureNotFound is returned when a dataset has no such feature.
var ErrFeatureNotFound = fmt.Errorf("feature not found: %w", errs.ErrContract)

// Dataset is the capability set shared by all dataset variants.
type Dataset interface {
	Path() string
	Title() string
	Identifier() string
	Hash() string
	Config() *config.Config
	Len() int
	Features() []string
	Has(name string) bool
	Feature(name string) (any, error)
	Scalar(name string) ([]float64, error)
	Filter() *Filter
	ApplyFilter() error
}

// Column is a per-event array that can be masked by a filter.
type Column interface {
	Len() int
	Select(mask *bitset.BitSet) Column
}

// featureName canonicalizes a feature id, label or structured kind.
func featureName(name string) string {
	if id, ok := dfn.ResolveFeature(name); ok {
		return id
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// Scalar is a 1-D per-event feature.
type Scalar []float64

func (s Scalar) Len() int { return len(s) }

func (s Scalar) Select(mask *bitset.BitSet) Column {
	out := make(Scalar, 0, mask.Count())
	for i, v := range s {
		if mask.Test(uint(i)) {
			out = append(out, v)
		}
	}
	return out
}

// Contour is the outline of one event in pixel coordinates.
type Contour struct {
	X, Y []int32
}

// Points returns the number of contour points.
func (c Contour) Points() int { return len(c.X) }

// Contours holds one contour per event.
type Contours []Contour

func (c Contours) Len() int { return len(c) }

func (c Contours) Select(mask *bitset.BitSet) Column {
	out := make(Contours, 0, mask.Count())
	for i, v := range c {
		if mask.Test(uint(i)) {
			out = append(out, v)
		}
	}
	return out
}

// ImageStack holds N grayscale frames of Height x Width pixels, frame-major.
type ImageStack struct {
	Height, Width int
	Pix           []uint8
}

func (s ImageStack) frameSize() int { return s.Height * s.Width }

func (s ImageStack) Len() int {
	if s.frameSize() == 0 {
		return 0
	}
	return len(s.Pix) / s.frameSize()
}

// Frame returns the pixels of frame i.
func (s ImageStack) Frame(i int) []uint8 {
	fs := s.frameSize()
	return s.Pix[i*fs : (i+1)*fs]
}

func (s ImageStack) Select(mask *bitset.BitSet) Column {
	out := ImageStack{Height: s.Height, Width: s.Width}
	for i := 0; i < s.Len(); i++ {
		if mask.Test(uint(i)) {
			out.Pix = append(out.Pix, s.Frame(i)...)
		}
	}
	return out
}

// Trace holds one fluorescence trace per event; every row has the same
// number of samples.
type Trace [][]float64

func (t Trace) Len() int { return len(t) }

// Samples returns the trace length, or 0 for an empty trace.
func (t Trace) Samples() int {
	if len(t) == 0 {
		return 0
	}
	return len(t[0])
}

func (t Trace) Select(mask *bitset.BitSet) Column {
	out := make(Trace, 0, mask.Count())
	for i, row := range t {
		if mask.Test(uint(i)) {
			out = append(out, row)
		}
	}
	return out
}

// Traces maps a trace channel name to its per-event traces.
type Traces map[string]Trace

// Channels returns the channel names in sorted order.
func (t Traces) Channels() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the row count of the first channel.
func (t Traces) Len() int {
	names := t.Channels()
	if len(names) == 0 {
		return 0
	}
	return t[names[0]].Len()
}

func (t Traces) Select(mask *bitset.BitSet) Column {
	out := make(Traces, len(t))
	for name, tr := range t {
		out[name] = tr.Select(mask).(Trace)
	}
	return out
}

// Row returns the traces of event i as one-row traces.
func (t Traces) Row(i int) Traces {
	out := make(Traces, len(t))
	for name, tr := range t {
		out[name] = Trace{tr[i]}
	}
	return out
}

// scalarOf returns the feature as []float64 or a contract error.
func scalarOf(ds Dataset, name string) ([]float64, error) {
	v, err := ds.Feature(name)
	if err != nil {
		return nil, err
	}
	s, ok := v.(Scalar)
	if !ok {
		return nil, errs.Contractf("feature %q is not a scalar feature", name)
	}
	return s, nil
}
