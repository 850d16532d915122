package hdf5

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

func createTemp(t *testing.T, opts ...FileOption) (*File, string) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "test.h5")
	f, err := Create(p, opts...)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return f, p
}

func reopen(t *testing.T, p string) *File {
	t.Helper()
	f, err := Open(p)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCreateAndReopen(t *testing.T) {
	f, p := createTemp(t)
	if !f.IsWritable() {
		t.Error("File should be writable")
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f2 := reopen(t, p)
	if f2.sb.Version < 2 {
		t.Errorf("Expected superblock version >= 2, got %d", f2.sb.Version)
	}
	if f2.Root() == nil {
		t.Error("Root group should not be nil after reopen")
	}
}

func TestCreateWithOptions(t *testing.T) {
	f, p := createTemp(t, WithOffsetSize(4), WithLengthSize(4))
	if _, err := f.Root().CreateDataset("names", []string{"a", "bc", ""}); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	f.Close()

	f2 := reopen(t, p)
	if f2.sb.OffsetSize != 4 || f2.sb.LengthSize != 4 {
		t.Errorf("Expected 4-byte sizes, got %d/%d", f2.sb.OffsetSize, f2.sb.LengthSize)
	}
	ds, err := f2.OpenDataset("names")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	got, err := ds.ReadString()
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	want := []string{"a", "bc", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCreateDatasetTypes(t *testing.T) {
	f, p := createTemp(t)
	root := f.Root()

	if _, err := root.CreateDataset("integers", []int32{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("CreateDataset(int32) failed: %v", err)
	}
	if _, err := root.CreateDataset("floats", []float64{1.5, -2.25, 1e10}); err != nil {
		t.Fatalf("CreateDataset(float64) failed: %v", err)
	}
	if _, err := root.CreateDataset("bytes", []uint8{0, 128, 255}); err != nil {
		t.Fatalf("CreateDataset(uint8) failed: %v", err)
	}
	if _, err := root.CreateDataset("matrix", [][]int16{{1, 2}, {3, 4}, {5, 6}}); err != nil {
		t.Fatalf("CreateDataset(2-D) failed: %v", err)
	}
	if _, err := root.CreateDataset("flat", []float32{1, 2, 3, 4, 5, 6}, WithShape(2, 3)); err != nil {
		t.Fatalf("CreateDataset(WithShape) failed: %v", err)
	}
	if _, err := root.CreateDataset("bad", []float32{1, 2, 3}, WithShape(2, 2)); err == nil {
		t.Error("expected error for shape that does not match the data")
	}
	f.Close()

	f2 := reopen(t, p)

	ints, err := mustOpen(t, f2, "integers").ReadInt32()
	if err != nil || len(ints) != 5 || ints[4] != 5 {
		t.Errorf("integers: got %v, %v", ints, err)
	}
	floats, err := mustOpen(t, f2, "floats").ReadFloat64()
	if err != nil || floats[1] != -2.25 || floats[2] != 1e10 {
		t.Errorf("floats: got %v, %v", floats, err)
	}
	var bs []uint8
	if err := mustOpen(t, f2, "bytes").Read(&bs); err != nil || bs[2] != 255 {
		t.Errorf("bytes: got %v, %v", bs, err)
	}

	matrix := mustOpen(t, f2, "matrix")
	if shape := matrix.Shape(); len(shape) != 2 || shape[0] != 3 || shape[1] != 2 {
		t.Errorf("matrix shape: got %v", shape)
	}
	var vals []int16
	if err := matrix.Read(&vals); err != nil || vals[3] != 4 || vals[5] != 6 {
		t.Errorf("matrix: got %v, %v", vals, err)
	}
	if dt := matrix.Datatype(); !dt.Signed || dt.Size != 2 {
		t.Errorf("matrix datatype: %+v", dt)
	}

	flat := mustOpen(t, f2, "flat")
	if shape := flat.Shape(); len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("flat shape: got %v", shape)
	}
}

func mustOpen(t *testing.T, f *File, p string) *Dataset {
	t.Helper()
	ds, err := f.OpenDataset(p)
	if err != nil {
		t.Fatalf("OpenDataset(%s) failed: %v", p, err)
	}
	return ds
}

func TestCreateChunkedDatasets(t *testing.T) {
	tests := []struct {
		name string
		opts []DatasetOption
	}{
		{"single chunk", []DatasetOption{WithChunks(100)}},
		{"many chunks", []DatasetOption{WithChunks(7)}},
		{"deflate", []DatasetOption{WithChunks(16), WithShuffle(), WithCompression(6)}},
		{"zstd", []DatasetOption{WithChunks(16), WithZstd(3), WithFletcher32()}},
		{"lz4", []DatasetOption{WithChunks(16), WithLZ4()}},
		{"auto chunks", []DatasetOption{WithCompression(4)}},
		{"fletcher32 only", []DatasetOption{WithFletcher32()}},
	}

	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(i) * 0.5
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p := createTemp(t)
			if _, err := f.Root().CreateDataset("values", data, tt.opts...); err != nil {
				t.Fatalf("CreateDataset failed: %v", err)
			}
			f.Close()

			got, err := mustOpen(t, reopen(t, p), "values").ReadFloat64()
			if err != nil {
				t.Fatalf("ReadFloat64 failed: %v", err)
			}
			if len(got) != len(data) {
				t.Fatalf("expected %d values, got %d", len(data), len(got))
			}
			for i := range data {
				if got[i] != data[i] {
					t.Fatalf("values[%d]: got %v, want %v", i, got[i], data[i])
				}
			}
		})
	}
}

func TestCreateChunked2D(t *testing.T) {
	f, p := createTemp(t)
	images := make([][][]uint8, 5)
	for i := range images {
		images[i] = make([][]uint8, 4)
		for y := range images[i] {
			images[i][y] = make([]uint8, 3)
			for x := range images[i][y] {
				images[i][y][x] = uint8(i*12 + y*3 + x)
			}
		}
	}
	if _, err := f.Root().CreateDataset("image", images, WithChunks(1, 4, 3), WithCompression(4)); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	f.Close()

	ds := mustOpen(t, reopen(t, p), "image")
	if ds.Filters()[0] != message.FilterDeflate {
		t.Errorf("expected deflate filter, got %v", ds.Filters())
	}
	var frame []uint8
	if err := ds.ReadRows(3, 1, &frame); err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(frame) != 12 || frame[0] != 36 || frame[11] != 47 {
		t.Errorf("frame 3: got %v", frame)
	}
}

func TestGroupsAndAttributes(t *testing.T) {
	f, p := createTemp(t)
	root := f.Root()

	a, err := root.CreateGroup("a")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if a.Name() != "a" || a.Path() != "/a" {
		t.Errorf("unexpected name/path %q %q", a.Name(), a.Path())
	}
	b, err := a.CreateGroup("b")
	if err != nil {
		t.Fatalf("nested CreateGroup failed: %v", err)
	}
	if _, err := a.CreateGroup("b"); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
	again, err := a.RequireGroup("b")
	if err != nil || again.Path() != "/a/b" {
		t.Errorf("RequireGroup: got %v, %v", again, err)
	}

	// Writes two levels down must propagate to the root.
	if _, err := b.CreateDataset("x", []int32{1, 2}); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	if err := b.SetAttr("unit", "um"); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	if err := root.SetAttrs(map[string]any{
		"setup:channel width":       20.0,
		"setup:flow rate":           []float64{0.04, 0.08},
		"experiment:run index":      int64(1),
		"online_contour:no absdiff": true,
		"imaging:pixel size":        float32(0.34),
	}); err != nil {
		t.Fatalf("SetAttrs failed: %v", err)
	}
	if err := root.SetAttr("setup:channel width", 30.0); err != nil {
		t.Fatalf("SetAttr replace failed: %v", err)
	}
	if _, err := root.CreateDataset("tmp", []int32{1}); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	if err := root.Delete("tmp"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := root.Delete("tmp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := root.CreateDataset("a/c", []int32{1}); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
	stats := f.SpaceStats()
	if stats.Abandoned == 0 || stats.Abandoned >= stats.Allocated {
		t.Errorf("space stats %+v", stats)
	}
	f.Close()

	f2 := reopen(t, p)
	x, err := f2.OpenDataset("a/b/x")
	if err != nil {
		t.Fatalf("OpenDataset(a/b/x) failed: %v", err)
	}
	if vals, _ := x.ReadInt32(); len(vals) != 2 || vals[1] != 2 {
		t.Errorf("a/b/x: got %v", vals)
	}

	gb, err := f2.OpenGroup("a/b")
	if err != nil {
		t.Fatalf("OpenGroup failed: %v", err)
	}
	if unit, err := gb.Attr("unit").Value(); err != nil || unit != "um" {
		t.Errorf("unit: got %q, %v", unit, err)
	}

	width, err := f2.Root().Attr("setup:channel width").Value()
	if err != nil || width != 30.0 {
		t.Errorf("channel width: got %v, %v", width, err)
	}
	if v, _ := f2.Root().Attr("online_contour:no absdiff").Value(); v != uint64(1) {
		t.Errorf("bool attribute: got %v (%T)", v, v)
	}
	if v, _ := f2.Root().Attr("experiment:run index").Value(); v != int64(1) {
		t.Errorf("int attribute: got %v (%T)", v, v)
	}
	if v, _ := f2.Root().Attr("setup:flow rate").Value(); !slices.Equal(v.([]float64), []float64{0.04, 0.08}) {
		t.Errorf("list attribute: got %v", v)
	}
	if v, _ := f2.Root().Attr("imaging:pixel size").Value(); v != float64(float32(0.34)) {
		t.Errorf("float32 attribute: got %v", v)
	}
	if f2.Root().Contains("tmp") {
		t.Error("deleted dataset still present")
	}
}

func TestOpenReadWrite(t *testing.T) {
	f, p := createTemp(t)
	if _, err := f.Root().CreateDataset("first", []int32{1, 2, 3}); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	f.Close()

	f2, err := OpenReadWrite(p)
	if err != nil {
		t.Fatalf("OpenReadWrite failed: %v", err)
	}
	grp, err := f2.Root().CreateGroup("mygroup")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if _, err := grp.CreateDataset("data", []int32{10, 20, 30}); err != nil {
		t.Fatalf("CreateDataset in group failed: %v", err)
	}
	f2.Close()

	f3 := reopen(t, p)
	for _, name := range []string{"first", "mygroup/data"} {
		if _, err := f3.OpenDataset(name); err != nil {
			t.Errorf("OpenDataset(%s) failed: %v", name, err)
		}
	}
}

func TestWriteOnReadOnlyFile(t *testing.T) {
	f, p := createTemp(t)
	f.Close()

	f2 := reopen(t, p)
	if _, err := f2.Root().CreateGroup("g"); !errors.Is(err, ErrNotWritable) {
		t.Errorf("CreateGroup: expected ErrNotWritable, got %v", err)
	}
	if _, err := f2.Root().CreateDataset("d", []int32{1}); !errors.Is(err, ErrNotWritable) {
		t.Errorf("CreateDataset: expected ErrNotWritable, got %v", err)
	}
	if err := f2.Root().SetAttr("a", 1.0); !errors.Is(err, ErrNotWritable) {
		t.Errorf("SetAttr: expected ErrNotWritable, got %v", err)
	}
}
