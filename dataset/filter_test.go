package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rtdc/errs"
)

func TestFilterManualExclusions(t *testing.T) {
	f := NewFilter(6)
	assert.Equal(t, 6, f.Count())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, f.Indices())

	require.NoError(t, f.Exclude(1))
	require.NoError(t, f.Exclude(4))
	assert.Equal(t, []int{0, 2, 3, 5}, f.Indices())
	assert.Equal(t, []bool{true, false, true, true, false, true}, f.Bools())
	assert.Equal(t, []int{1, 4}, f.ManualExclusions())
	assert.False(t, f.Included(4))
	assert.False(t, f.Included(-1))

	require.NoError(t, f.Include(4))
	assert.Equal(t, []int{1}, f.ManualExclusions())
	assert.Equal(t, 5, f.Count())

	assert.ErrorIs(t, f.Exclude(6), errs.ErrContract)
	assert.ErrorIs(t, f.Include(-1), errs.ErrContract)
}

func TestFilterBoxAndManualCombine(t *testing.T) {
	f := NewFilter(4)
	require.NoError(t, f.Exclude(0))
	require.NoError(t, f.SetBox([]bool{true, true, false, true}))
	assert.Equal(t, []int{1, 3}, f.Indices())

	mask := f.Mask()
	mask.Set(2)
	assert.False(t, f.Included(2), "Mask must return a copy")

	assert.ErrorIs(t, f.SetBox([]bool{true}), errs.ErrContract)

	f.Reset(3)
	assert.Empty(t, f.ManualExclusions())
	assert.Equal(t, 3, f.Count())
}

func TestFilterDigest(t *testing.T) {
	a, b := NewFilter(5), NewFilter(5)
	assert.Equal(t, a.Digest(), b.Digest())
	assert.Len(t, a.Digest(), 16)

	require.NoError(t, b.Exclude(2))
	assert.NotEqual(t, a.Digest(), b.Digest())
	require.NoError(t, b.Include(2))
	assert.Equal(t, a.Digest(), b.Digest())
}

func TestApplyBox(t *testing.T) {
	nan := math.NaN()
	ds, err := NewDict(map[string][]float64{
		"deform":  {0.1, 0.2, 0.3, 0.4, 0.5},
		"area_um": {10, nan, 30, math.Inf(1), 50},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		set  map[string]any
		want []int
	}{
		{"no settings", nil, []int{0, 1, 2, 3, 4}},
		{"range", map[string]any{"deform min": 0.15, "deform max": 0.45}, []int{1, 2, 3}},
		{"range excludes nan", map[string]any{"area_um min": 0.0, "area_um max": 100.0}, []int{0, 2, 4}},
		{"equal bounds ignored", map[string]any{"deform min": 0.3, "deform max": 0.3}, []int{0, 1, 2, 3, 4}},
		{"remove invalid", map[string]any{"remove invalid events": true}, []int{0, 2, 4}},
		{"limit", map[string]any{"limit events": 2.0}, []int{0, 1}},
		{"limit after range", map[string]any{"deform min": 0.25, "deform max": 1.0, "limit events": 2.0}, []int{2, 3}},
		{"disabled", map[string]any{"enable filters": false, "deform min": 0.15, "deform max": 0.45}, []int{0, 1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ds.Config().Copy()
			for k, v := range tt.set {
				cfg.Set("filtering", k, v)
			}
			box, err := applyBox(cfg, ds, ds.Len())
			require.NoError(t, err)

			var got []int
			for i, ok := box.NextSet(0); ok; i, ok = box.NextSet(i + 1) {
				got = append(got, int(i))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
