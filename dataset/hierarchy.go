package dataset

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/errs"
)

// Hierarchy is a dataset whose events are the filtered events of a parent.
//
// A hierarchy never watches its parent. After the parent's filter changes,
// ApplyFilter must be called again before features are read; Len and Hash
// re-resolve the parent on every call.
type Hierarchy struct {
	parent Dataset
	cfg    *config.Config
	filter *Filter
	events map[string]Column
}

// NewHierarchy wraps parent. The child's configuration is a copy of the
// parent's without min/max and polygon filter settings, and records the
// parent's identifier as filtering:hierarchy parent.
func NewHierarchy(parent Dataset) (*Hierarchy, error) {
	cfg := parent.Config().Copy()
	if filtering := cfg.Section("filtering"); filtering != nil {
		for _, key := range filtering.Keys() {
			if strings.HasSuffix(key, "min") || strings.HasSuffix(key, "max") || key == "polygon filters" {
				filtering.Delete(key)
			}
		}
	}
	cfg.Set("filtering", "hierarchy parent", parent.Identifier())

	full, err := config.New(config.WithConfig(cfg))
	if err != nil {
		return nil, err
	}
	// The defaults layer brings back an empty list.
	full.Delete("filtering", "polygon filters")

	h := &Hierarchy{
		parent: parent,
		cfg:    full,
		filter: NewFilter(0),
		events: make(map[string]Column),
	}
	if err := h.ApplyFilter(); err != nil {
		return nil, err
	}
	return h, nil
}

// Parent returns the dataset the hierarchy is a view of.
func (h *Hierarchy) Parent() Dataset { return h.parent }

func (h *Hierarchy) Path() string           { return h.parent.Path() }
func (h *Hierarchy) Title() string          { return h.parent.Title() + "_child" }
func (h *Hierarchy) Identifier() string     { return "mm-hierarchy_" + h.Hash() }
func (h *Hierarchy) Config() *config.Config { return h.cfg }
func (h *Hierarchy) Filter() *Filter        { return h.filter }

// ApplyFilter resolves the parent's filter, rebuilds the index feature for
// the new event count and recomputes the child's box mask. It fails without
// touching the cached events if the child has manual exclusions.
func (h *Hierarchy) ApplyFilter() error {
	if err := h.parent.ApplyFilter(); err != nil {
		return fmt.Errorf("resolving parent filter: %w", err)
	}
	if excluded := h.filter.ManualExclusions(); len(excluded) > 0 {
		return errs.NotImplementedf("manual filters are not supported in hierarchies (%d excluded)", len(excluded))
	}

	n := h.parent.Filter().Count()
	index := make(Scalar, n)
	for i := range index {
		index[i] = float64(i + 1)
	}
	h.events["index"] = index
	h.filter.Reset(n)

	box, err := applyBox(h.cfg, h, n)
	if err != nil {
		return err
	}
	h.filter.setBox(box)
	return nil
}

// Len re-resolves the parent and returns its included event count. If the
// parent cannot be resolved the failure is logged and its current filter is
// counted; Count reports the failure instead.
func (h *Hierarchy) Len() int {
	n, err := h.Count()
	if err != nil {
		slog.Warn("hierarchy parent filter failed", "parent", h.parent.Identifier(), "err", err)
	}
	return n
}

// Count re-resolves the parent and returns its included event count.
func (h *Hierarchy) Count() (int, error) {
	if err := h.parent.ApplyFilter(); err != nil {
		return h.parent.Filter().Count(), fmt.Errorf("resolving parent filter: %w", err)
	}
	return h.parent.Filter().Count(), nil
}

// Hash combines the parent's hash with the digest of its current filter.
func (h *Hierarchy) Hash() string {
	sum := xxhash.Sum64String(h.parent.Hash() + h.parent.Filter().Digest())
	return fmt.Sprintf("%016x", sum)
}

// Feature returns a locally cached feature or the parent's feature masked
// by the parent's filter. Parent features that are not per-event columns
// cannot be inherited and yield errs.ErrNotImplemented.
func (h *Hierarchy) Feature(name string) (any, error) {
	key := featureName(name)
	if col, ok := h.events[key]; ok {
		return col, nil
	}
	v, err := h.parent.Feature(key)
	if err != nil {
		return nil, err
	}
	if lazy, ok := v.(lazyColumn); ok {
		if v, err = lazy.column(); err != nil {
			return nil, err
		}
	}
	col, ok := v.(Column)
	if !ok {
		return nil, errs.NotImplementedf("hierarchy does not implement %q", key)
	}
	return col.Select(h.parent.Filter().Mask()), nil
}

func (h *Hierarchy) Scalar(name string) ([]float64, error) {
	return scalarOf(h, name)
}

// Has reports whether name is cached locally or is a column of the parent.
func (h *Hierarchy) Has(name string) bool {
	key := featureName(name)
	if _, ok := h.events[key]; ok {
		return true
	}
	if !h.parent.Has(key) {
		return false
	}
	v, err := h.parent.Feature(key)
	if err != nil {
		return false
	}
	switch v.(type) {
	case Column, lazyColumn:
		return true
	}
	return false
}

// Features returns the cached features and the parent's column features.
func (h *Hierarchy) Features() []string {
	seen := make(map[string]bool)
	for name := range h.events {
		seen[name] = true
	}
	for _, name := range h.parent.Features() {
		if !seen[name] && h.Has(name) {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
