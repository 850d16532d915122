package dataset

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"

	"github.com/robert-malhotra/go-rtdc/config"
	"github.com/robert-malhotra/go-rtdc/dfn"
	"github.com/robert-malhotra/go-rtdc/errs"
)

// Filter is the per-event inclusion state of a dataset. The combined mask
// is the box mask with the manual exclusions removed.
type Filter struct {
	n      uint
	box    *bitset.BitSet
	manual *roaring.Bitmap
	all    *bitset.BitSet
}

// NewFilter returns a filter over n events that includes every event.
func NewFilter(n int) *Filter {
	f := &Filter{manual: roaring.New()}
	f.Reset(n)
	return f
}

// Reset sizes the filter to n events, all included, with no manual
// exclusions.
func (f *Filter) Reset(n int) {
	f.n = uint(n)
	f.box = bitset.New(f.n)
	f.box.FlipRange(0, f.n)
	f.manual.Clear()
	f.combine()
}

func (f *Filter) combine() {
	f.all = f.box.Clone()
	it := f.manual.Iterator()
	for it.HasNext() {
		f.all.Clear(uint(it.Next()))
	}
}

// Len returns the number of events the filter covers.
func (f *Filter) Len() int { return int(f.n) }

// Included reports whether event i passes the filter.
func (f *Filter) Included(i int) bool {
	return i >= 0 && f.all.Test(uint(i))
}

// Count returns the number of included events.
func (f *Filter) Count() int { return int(f.all.Count()) }

// Indices returns the included event indices in increasing order.
func (f *Filter) Indices() []int {
	out := make([]int, 0, f.all.Count())
	for i, ok := f.all.NextSet(0); ok; i, ok = f.all.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Bools returns the combined mask as one bool per event.
func (f *Filter) Bools() []bool {
	out := make([]bool, f.n)
	for i := range out {
		out[i] = f.all.Test(uint(i))
	}
	return out
}

// Mask returns a copy of the combined mask.
func (f *Filter) Mask() *bitset.BitSet { return f.all.Clone() }

// Exclude manually excludes event i.
func (f *Filter) Exclude(i int) error {
	if err := f.check(i); err != nil {
		return err
	}
	f.manual.Add(uint32(i))
	f.combine()
	return nil
}

// Include removes a manual exclusion of event i.
func (f *Filter) Include(i int) error {
	if err := f.check(i); err != nil {
		return err
	}
	f.manual.Remove(uint32(i))
	f.combine()
	return nil
}

func (f *Filter) check(i int) error {
	if i < 0 || uint(i) >= f.n {
		return errs.Contractf("event %d out of range [0, %d)", i, f.n)
	}
	return nil
}

// ManualExclusions returns the manually excluded events.
func (f *Filter) ManualExclusions() []int {
	out := make([]int, 0, f.manual.GetCardinality())
	it := f.manual.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// SetBox replaces the box mask. len(mask) must equal Len().
func (f *Filter) SetBox(mask []bool) error {
	if uint(len(mask)) != f.n {
		return errs.Contractf("box mask has %d entries, filter has %d events", len(mask), f.n)
	}
	box := bitset.New(f.n)
	for i, ok := range mask {
		if ok {
			box.Set(uint(i))
		}
	}
	f.setBox(box)
	return nil
}

func (f *Filter) setBox(box *bitset.BitSet) {
	f.box = box
	f.combine()
}

// Digest returns the xxhash of the combined mask as one 0/1 byte per
// event, in hex.
func (f *Filter) Digest() string {
	buf := make([]byte, f.n)
	for i := range buf {
		if f.all.Test(uint(i)) {
			buf[i] = 1
		}
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(buf))
}

// scalarSource is what the box routine reads.
type scalarSource interface {
	Has(name string) bool
	Scalar(name string) ([]float64, error)
}

// applyBox computes the box mask for n events from the filtering section of
// cfg: min/max ranges of every known feature with min != max, removal of
// non-finite values and an event limit. Polygon filters are not evaluated.
func applyBox(cfg *config.Config, ds scalarSource, n int) (*bitset.BitSet, error) {
	box := bitset.New(uint(n))
	box.FlipRange(0, uint(n))

	if enabled, _ := cfg.Bool("filtering", "enable filters"); !enabled {
		return box, nil
	}
	removeInvalid, _ := cfg.Bool("filtering", "remove invalid events")

	for _, feat := range dfn.Features() {
		if !ds.Has(feat) {
			continue
		}
		lo, okLo := cfg.Float("filtering", feat+" min")
		hi, okHi := cfg.Float("filtering", feat+" max")
		ranged := okLo && okHi && lo != hi
		if !ranged && !removeInvalid {
			continue
		}

		values, err := ds.Scalar(feat)
		if err != nil {
			return nil, fmt.Errorf("filtering %s: %w", feat, err)
		}
		if len(values) != n {
			return nil, errs.Contractf("feature %s has %d events, expected %d", feat, len(values), n)
		}
		for i, v := range values {
			if ranged && !(lo <= v && v <= hi) {
				box.Clear(uint(i))
			}
			if removeInvalid && (math.IsNaN(v) || math.IsInf(v, 0)) {
				box.Clear(uint(i))
			}
		}
	}

	if limit, ok := cfg.Float("filtering", "limit events"); ok && limit > 0 {
		kept := 0
		for i, ok := box.NextSet(0); ok; i, ok = box.NextSet(i + 1) {
			if kept >= int(limit) {
				box.Clear(i)
				continue
			}
			kept++
		}
	}
	return box, nil
}
