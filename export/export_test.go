package export_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rtdc/dataset"
	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/export"
	"github.com/robert-malhotra/go-rtdc/writer"
)

func newDict(t *testing.T) *dataset.Dict {
	t.Helper()
	ds, err := dataset.NewDict(map[string][]float64{
		"deform":  {0.01, 0.02, 0.03, 0.04, 0.05},
		"area_um": {10, 20, 30, 40, 50},
	})
	require.NoError(t, err)
	return ds
}

func TestTSV(t *testing.T) {
	ds := newDict(t)
	require.NoError(t, ds.Filter().Exclude(1))

	base := filepath.Join(t.TempDir(), "events")
	require.NoError(t, export.TSV(ds, base, []string{"Deform", "area_um"}))

	raw, err := os.ReadFile(base + ".tsv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 2+4)
	assert.Equal(t, "# deform\tarea_um", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "# Deformation\t"), lines[1])
	assert.Equal(t, "1.0000000000e-02\t1.0000000000e+01", lines[2])
	assert.Equal(t, "3.0000000000e-02\t3.0000000000e+01", lines[3])
}

func TestTSVUnfiltered(t *testing.T) {
	ds := newDict(t)
	require.NoError(t, ds.Filter().Exclude(1))

	path := filepath.Join(t.TempDir(), "all.tsv")
	require.NoError(t, export.TSV(ds, path, []string{"deform"}, export.WithFiltered(false)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2+5, strings.Count(string(raw), "\n"))
}

func TestTSVOverride(t *testing.T) {
	ds := newDict(t)
	path := filepath.Join(t.TempDir(), "out.tsv")
	require.NoError(t, export.TSV(ds, path, []string{"deform"}))

	err := export.TSV(ds, path, []string{"deform"})
	assert.ErrorIs(t, err, errs.ErrContract)
	assert.NoError(t, export.TSV(ds, path, []string{"area_um"}, export.WithOverride(true)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# area_um\n"))
}

func TestTSVRejectsUnknownAndStructured(t *testing.T) {
	ds := newDict(t)
	dir := t.TempDir()
	for _, feat := range []string{"pixel_count", "contour"} {
		err := export.TSV(ds, filepath.Join(dir, feat), []string{feat})
		assert.ErrorIs(t, err, errs.ErrContract, feat)
		_, statErr := os.Stat(filepath.Join(dir, feat+".tsv"))
		assert.True(t, os.IsNotExist(statErr))
	}
}

func TestHDF5AppliesFilter(t *testing.T) {
	ds := newDict(t)
	ds.Config().Set("filtering", "area_um min", 15.0)
	ds.Config().Set("filtering", "area_um max", 45.0)
	require.NoError(t, ds.ApplyFilter())
	require.Equal(t, 3, ds.Filter().Count())

	base := filepath.Join(t.TempDir(), "subset")
	require.NoError(t, export.HDF5(ds, base, []string{"deform", "area_um"}))

	out, err := dataset.Open(base + ".rtdc")
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, ds.Filter().Count(), out.Len())
	area, err := out.Scalar("area_um")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30, 40}, area)
	assert.False(t, out.Has("bright_avg"))

	software, ok := out.Config().Str("setup", "software version")
	require.True(t, ok)
	assert.Equal(t, "go-rtdc "+writer.Version, software)
}

func TestHDF5StructuredFeatures(t *testing.T) {
	src := filepath.Join(t.TempDir(), "source.rtdc")
	_, err := writer.Write(src, writer.Data{
		"deform": []float64{0.1, 0.2, 0.3},
		"contour": dataset.Contours{
			{X: []int32{1, 2}, Y: []int32{3, 4}},
			{X: []int32{5, 6}, Y: []int32{7, 8}},
			{X: []int32{9, 9}, Y: []int32{9, 9}},
		},
		"image": [][][]uint8{{{1, 1}}, {{2, 2}}, {{3, 3}}},
		"trace": map[string][][]float64{"fl1_raw": {{1, 1}, {2, 2}, {3, 3}}},
	}, writer.WithMeta(map[string]map[string]any{
		"experiment": {"sample": "beads"},
	}))
	require.NoError(t, err)

	ds, err := dataset.Open(src)
	require.NoError(t, err)
	defer ds.Close()
	require.NoError(t, ds.Filter().Exclude(1))

	dst := filepath.Join(t.TempDir(), "copy.rtdc")
	require.NoError(t, export.HDF5(ds, dst, []string{"deform", "contour", "image", "trace"},
		export.WithCompression("zstd")))

	out, err := dataset.Open(dst)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 2, out.Len())

	sample, ok := out.Config().Str("experiment", "sample")
	require.True(t, ok)
	assert.Equal(t, "beads", sample)

	v, err := out.Feature("contour")
	require.NoError(t, err)
	contours, err := v.(*dataset.ContourReader).All()
	require.NoError(t, err)
	assert.Equal(t, dataset.Contours{
		{X: []int32{1, 2}, Y: []int32{3, 4}},
		{X: []int32{9, 9}, Y: []int32{9, 9}},
	}, contours)

	v, err = out.Feature("image")
	require.NoError(t, err)
	frame, err := v.(*dataset.ImageReader).At(1)
	require.NoError(t, err)
	assert.Equal(t, [][]uint8{{3, 3}}, frame)

	v, err = out.Feature("trace")
	require.NoError(t, err)
	assert.Equal(t, dataset.Trace{{1, 1}, {3, 3}}, v.(dataset.Traces)["fl1_raw"])
}

func TestHDF5FromHierarchy(t *testing.T) {
	ds := newDict(t)
	require.NoError(t, ds.Filter().Exclude(0))
	child, err := dataset.NewHierarchy(ds)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "child.rtdc")
	require.NoError(t, export.HDF5(child, path, []string{"area_um"}))

	out, err := dataset.Open(path)
	require.NoError(t, err)
	defer out.Close()
	area, err := out.Scalar("area_um")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30, 40, 50}, area)
}

func TestHDF5Override(t *testing.T) {
	ds := newDict(t)
	path := filepath.Join(t.TempDir(), "twice.rtdc")
	require.NoError(t, export.HDF5(ds, path, []string{"deform"}))
	assert.ErrorIs(t, export.HDF5(ds, path, []string{"deform"}), errs.ErrContract)
	require.NoError(t, export.HDF5(ds, path, []string{"deform"}, export.WithOverride(true)))

	out, err := dataset.Open(path)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 5, out.Len())
}

func TestHDF5MissingFeature(t *testing.T) {
	ds := newDict(t)
	path := filepath.Join(t.TempDir(), "none.rtdc")
	err := export.HDF5(ds, path, []string{"contour"})
	assert.ErrorIs(t, err, dataset.ErrFeatureNotFound)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHDF5PerEventSize(t *testing.T) {
	const n, side, samples = 500, 8, 16
	images := make([][][]uint8, n)
	traces := make([][]float64, n)
	deform := make([]float64, n)
	for i := range n {
		images[i] = make([][]uint8, side)
		for y := range side {
			images[i][y] = make([]uint8, side)
			for x := range side {
				images[i][y][x] = uint8(i + x*y)
			}
		}
		traces[i] = make([]float64, samples)
		for s := range samples {
			traces[i][s] = float64(i*samples + s)
		}
		deform[i] = float64(i) / n
	}
	src := filepath.Join(t.TempDir(), "source.rtdc")
	_, err := writer.Write(src, writer.Data{
		"deform": deform,
		"image":  images,
		"trace":  map[string][][]float64{"fl1_raw": traces},
	})
	require.NoError(t, err)

	ds, err := dataset.Open(src)
	require.NoError(t, err)
	defer ds.Close()

	dst := filepath.Join(t.TempDir(), "copy.rtdc")
	require.NoError(t, export.HDF5(ds, dst, []string{"deform", "image", "trace"}))

	payload := int64(n * (side*side + samples*8 + 8))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Less(t, info.Size(), 2*payload, "export of %d events", n)

	out, err := dataset.Open(dst)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, n, out.Len())
	v, err := out.Feature("image")
	require.NoError(t, err)
	frame, err := v.(*dataset.ImageReader).At(n - 1)
	require.NoError(t, err)
	assert.Equal(t, images[n-1], frame)
	v, err = out.Feature("trace")
	require.NoError(t, err)
	assert.Equal(t, dataset.Trace(traces), v.(dataset.Traces)["fl1_raw"])
}
