package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
)

// now is replaced in tests.
var now = time.Now

// Dict is a dataset built from in-memory arrays.
type Dict struct {
	events map[string]Scalar
	n      int
	hash   string
	title  string
	cfg    *config.Config
	filter *Filter
}

// NewDict builds a dataset from feature arrays keyed by feature id or label.
// All arrays must have the same length. Known features that are not supplied
// are filled with zeros.
func NewDict(data map[string][]float64) (*Dict, error) {
	if len(data) == 0 {
		return nil, errs.Contractf("dict dataset needs at least one feature")
	}

	d := &Dict{events: make(map[string]Scalar, len(dfn.Features())), n: -1}
	for name, values := range data {
		id, ok := dfn.ResolveFeature(name)
		if !ok {
			return nil, errs.Contractf("unknown feature %q", name)
		}
		if _, dup := d.events[id]; dup {
			return nil, errs.Contractf("feature %q supplied twice", id)
		}
		if d.n >= 0 && len(values) != d.n {
			return nil, errs.Contractf("feature %q has %d events, expected %d", id, len(values), d.n)
		}
		d.n = len(values)
		d.events[id] = append(Scalar(nil), values...)
	}

	ids := make([]string, 0, len(d.events))
	for id := range d.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	d.hash = digestFloats(d.events[ids[0]])
	d.title = fmt.Sprintf("%s/%s.dict", now().Format("2006_01_02"), d.hash)

	for _, feat := range dfn.Features() {
		if _, ok := d.events[feat]; !ok {
			d.events[feat] = make(Scalar, d.n)
		}
	}

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	if err := cfg.CompleteFromDataset(d); err != nil {
		return nil, err
	}
	d.cfg = cfg
	d.filter = NewFilter(d.n)
	return d, nil
}

func digestFloats(values []float64) string {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf))
}

func (d *Dict) Path() string           { return "none" }
func (d *Dict) Title() string          { return d.title }
func (d *Dict) Identifier() string     { return "mm-dict_" + d.hash }
func (d *Dict) Hash() string           { return d.hash }
func (d *Dict) Config() *config.Config { return d.cfg }
func (d *Dict) Len() int               { return d.n }
func (d *Dict) Filter() *Filter        { return d.filter }

// Features returns every known feature id; missing ones were zero-filled.
func (d *Dict) Features() []string {
	return dfn.Features()
}

func (d *Dict) Has(name string) bool {
	_, ok := d.events[featureName(name)]
	return ok
}

// Feature returns the stored Scalar. Callers must not modify it.
func (d *Dict) Feature(name string) (any, error) {
	s, ok := d.events[featureName(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrFeatureNotFound)
	}
	return s, nil
}

func (d *Dict) Scalar(name string) ([]float64, error) {
	return scalarOf(d, name)
}

// ApplyFilter recomputes the box mask from the filtering configuration.
func (d *Dict) ApplyFilter() error {
	box, err := applyBox(d.cfg, d, d.n)
	if err != nil {
		return err
	}
	d.filter.setBox(box)
	return nil
}
