package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rtdc/errs"
)

func tenEvents(t *testing.T) *Dict {
	t.Helper()
	deform := make([]float64, 10)
	for i := range deform {
		deform[i] = float64(i) / 10
	}
	ds, err := NewDict(map[string][]float64{"deform": deform})
	require.NoError(t, err)
	return ds
}

func excludeAll(t *testing.T, f *Filter, idx ...int) {
	t.Helper()
	for _, i := range idx {
		require.NoError(t, f.Exclude(i))
	}
}

func includeAll(t *testing.T, f *Filter, idx ...int) {
	t.Helper()
	for _, i := range idx {
		require.NoError(t, f.Include(i))
	}
}

func TestHierarchyFollowsParentFilter(t *testing.T) {
	parent := tenEvents(t)
	excludeAll(t, parent.Filter(), 1, 3, 5, 7, 9)

	child, err := NewHierarchy(parent)
	require.NoError(t, err)
	assert.Equal(t, 5, child.Len())
	index, err := child.Scalar("index")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, index)
	deform, err := child.Scalar("deform")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.2, 0.4, 0.6, 0.8}, deform)

	includeAll(t, parent.Filter(), 1, 3, 5, 7, 9)
	excludeAll(t, parent.Filter(), 0, 2, 4, 6, 8)
	require.NoError(t, child.ApplyFilter())

	assert.Equal(t, 5, child.Len())
	index, err = child.Scalar("index")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, index)
	deform, err = child.Scalar("deform")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.3, 0.5, 0.7, 0.9}, deform)
}

func TestHierarchyRejectsManualFilter(t *testing.T) {
	parent := tenEvents(t)
	excludeAll(t, parent.Filter(), 1, 3, 5, 7, 9)
	child, err := NewHierarchy(parent)
	require.NoError(t, err)

	require.NoError(t, child.Filter().Exclude(0))
	err = child.ApplyFilter()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotImplemented)

	index, err := child.Scalar("index")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, index)
	assert.Equal(t, []int{0}, child.Filter().ManualExclusions())
}

func TestHierarchyCountReportsParentFailure(t *testing.T) {
	mid, err := NewHierarchy(tenEvents(t))
	require.NoError(t, err)
	leaf, err := NewHierarchy(mid)
	require.NoError(t, err)

	n, err := leaf.Count()
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.NoError(t, mid.Filter().Exclude(0))
	n, err = leaf.Count()
	assert.ErrorIs(t, err, errs.ErrNotImplemented)
	assert.Equal(t, 9, n)
	assert.Equal(t, 9, leaf.Len())
}

func TestHierarchyConfig(t *testing.T) {
	parent := tenEvents(t)
	parent.Config().Set("filtering", "deform min", 0.15)
	parent.Config().Set("filtering", "deform max", 0.75)
	parent.Config().Set("filtering", "polygon filters", []float64{1})

	child, err := NewHierarchy(parent)
	require.NoError(t, err)
	assert.Equal(t, 6, child.Len())

	got, ok := child.Config().Str("filtering", "hierarchy parent")
	require.True(t, ok)
	assert.Equal(t, parent.Identifier(), got)

	lo, ok := child.Config().Float("filtering", "deform min")
	require.True(t, ok)
	assert.Equal(t, 0.0, lo)
	assert.False(t, child.Config().Section("filtering").Has("polygon filters"))

	// The child filters its own view independently of the parent.
	child.Config().Set("filtering", "deform min", 0.35)
	child.Config().Set("filtering", "deform max", 0.55)
	require.NoError(t, child.ApplyFilter())
	assert.Equal(t, 6, child.Len())
	assert.Equal(t, 2, child.Filter().Count())
}

func TestHierarchyIdentity(t *testing.T) {
	parent := tenEvents(t)
	child, err := NewHierarchy(parent)
	require.NoError(t, err)
	assert.Equal(t, parent.Title()+"_child", child.Title())
	assert.Equal(t, parent.Path(), child.Path())
	assert.Same(t, parent, child.Parent())

	before := child.Hash()
	assert.Equal(t, before, child.Hash())
	assert.Equal(t, "mm-hierarchy_"+before, child.Identifier())

	require.NoError(t, parent.Filter().Exclude(3))
	assert.NotEqual(t, before, child.Hash())
}

func TestHierarchyChain(t *testing.T) {
	root := tenEvents(t)
	excludeAll(t, root.Filter(), 0, 1)
	mid, err := NewHierarchy(root)
	require.NoError(t, err)
	mid.Config().Set("filtering", "deform min", 0.45)
	mid.Config().Set("filtering", "deform max", 1.0)

	leaf, err := NewHierarchy(mid)
	require.NoError(t, err)
	assert.Equal(t, 8, mid.Len())
	assert.Equal(t, 5, leaf.Len())
	deform, err := leaf.Scalar("deform")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.6, 0.7, 0.8, 0.9}, deform, 1e-12)
	index, err := leaf.Scalar("index")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, index)
}

func TestHierarchyInheritance(t *testing.T) {
	parent := tenEvents(t)
	child, err := NewHierarchy(parent)
	require.NoError(t, err)

	assert.True(t, child.Has("index"))
	assert.True(t, child.Has("deform"))
	assert.False(t, child.Has("contour"))
	assert.Contains(t, child.Features(), "deform")

	_, err = child.Feature("contour")
	assert.ErrorIs(t, err, ErrFeatureNotFound)
	assert.NotErrorIs(t, err, errs.ErrNotImplemented)

	notColumn := &fakeDataset{Dict: parent}
	grand, err := NewHierarchy(notColumn)
	require.NoError(t, err)
	_, err = grand.Feature("meta")
	assert.ErrorIs(t, err, errs.ErrNotImplemented)
	assert.False(t, grand.Has("meta"))
}

// fakeDataset exposes a feature that is not a per-event column.
type fakeDataset struct {
	*Dict
}

func (f *fakeDataset) Has(name string) bool {
	return name == "meta" || f.Dict.Has(name)
}

func (f *fakeDataset) Feature(name string) (any, error) {
	if name == "meta" {
		return "not an array", nil
	}
	return f.Dict.Feature(name)
}

func (f *fakeDataset) Scalar(name string) ([]float64, error) {
	return scalarOf(f, name)
}
