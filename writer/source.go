package writer

import (
	"fmt"
	"sort"

	"github.com/robert-malhotra/go-rtdc/dataset"
)

// Source is the mapping-like input of a write: feature names to values.
type Source interface {
	Keys() []string
	Has(key string) bool
	Get(key string) (any, error)
}

// Data is a Source backed by a map.
type Data map[string]any

// Keys returns the keys in sorted order.
func (d Data) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d Data) Has(key string) bool {
	_, ok := d[key]
	return ok
}

func (d Data) Get(key string) (any, error) {
	v, ok := d[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, dataset.ErrFeatureNotFound)
	}
	return v, nil
}

type datasetSource struct {
	ds       dataset.Dataset
	features []string
}

// FromDataset exposes the given features of ds as a Source, or all of its
// features if none are given. Lazy contour and image readers are read in
// full by Get.
func FromDataset(ds dataset.Dataset, features ...string) Source {
	if len(features) == 0 {
		features = ds.Features()
	}
	return &datasetSource{ds: ds, features: features}
}

func (s *datasetSource) Keys() []string {
	return append([]string(nil), s.features...)
}

func (s *datasetSource) Has(key string) bool {
	for _, f := range s.features {
		if f == key {
			return true
		}
	}
	return false
}

func (s *datasetSource) Get(key string) (any, error) {
	v, err := s.ds.Feature(key)
	if err != nil {
		return nil, err
	}
	switch r := v.(type) {
	case *dataset.ContourReader:
		return r.All()
	case *dataset.ImageReader:
		return r.All()
	}
	return v, nil
}
