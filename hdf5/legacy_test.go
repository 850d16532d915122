package hdf5

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/robert-malhotra/go-rtdc/internal/dtype"
	"github.com/robert-malhotra/go-rtdc/internal/fixture"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

func rawValues(t *testing.T, dt *message.Datatype, values any) []byte {
	t.Helper()
	raw, err := dtype.Encode(dt, values)
	if err != nil {
		t.Fatalf("encoding %T: %v", values, err)
	}
	return raw
}

// writeLegacy stores a file in the version 0 layout: five feature
// datasets in a two level symbol table, one of them deflated and one image
// stack in single frame chunks.
func writeLegacy(t *testing.T) string {
	t.Helper()
	f64 := message.NewFloatDatatype(8, message.OrderLE)
	u8 := message.NewFixedPointDatatype(1, false, message.OrderLE)
	b := fixture.New()

	deform := []float64{0.01, 0.02, 0.03, 0.04, 0.05}
	area := []float64{40, 50, 60, 70, 80}
	frames := make([]uint8, 5*2*2)
	for i := range frames {
		frames[i] = uint8(i)
	}
	events := b.Group([]fixture.Member{
		{Name: "deform", Addr: b.Contiguous(f64, []uint64{5}, rawValues(t, f64, deform))},
		{Name: "area_um", Addr: b.Chunked(f64, []uint64{5}, []uint64{message.Unlimited}, []uint32{2},
			rawValues(t, f64, area), true, b.Attr("unit", "um^2"))},
		{Name: "image", Addr: b.Chunked(u8, []uint64{5, 2, 2}, nil, []uint32{1, 2, 2}, frames, false)},
		{Name: "time", Addr: b.Contiguous(f64, []uint64{5}, rawValues(t, f64, []float64{0, 1, 2, 3, 4}))},
		{Name: "frame", Addr: b.Contiguous(f64, []uint64{5}, rawValues(t, f64, []float64{1, 2, 3, 4, 5}))},
	})

	tree, names := b.SymbolTable([]fixture.Member{
		{Name: "events", Addr: events},
		{Name: "alias", SoftLink: "/events"},
	})
	root := b.ContinuedHeader(
		[]message.Message{&message.SymbolTable{BTreeAddress: tree, LocalHeapAddress: names}},
		[]message.Message{
			b.Attr("experiment:event count", int64(5)),
			b.Attr("setup:chip region", "channel"),
		},
	)

	p := filepath.Join(t.TempDir(), "legacy.rtdc")
	if err := os.WriteFile(p, b.Finish(root), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpenLegacyFile(t *testing.T) {
	f, err := Open(writeLegacy(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	if f.Version() != 0 {
		t.Errorf("superblock version %d, want 0", f.Version())
	}
	members, _ := f.Root().Members()
	if !slices.Equal(members, []string{"alias", "events"}) {
		t.Errorf("root members = %v", members)
	}
	if v, err := f.ReadAttr("/@experiment:event count"); err != nil || v != int64(5) {
		t.Errorf("event count = %v, %v", v, err)
	}
	if v, err := f.ReadAttr("/@setup:chip region"); err != nil || v != "channel" {
		t.Errorf("chip region = %v, %v", v, err)
	}

	events, err := f.OpenGroup("events")
	if err != nil {
		t.Fatalf("OpenGroup failed: %v", err)
	}
	members, _ = events.Members()
	if !slices.Equal(members, []string{"area_um", "deform", "frame", "image", "time"}) {
		t.Errorf("event members = %v", members)
	}

	deform, err := f.OpenDataset("events/deform")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	if vals, err := deform.ReadFloat64(); err != nil || !slices.Equal(vals, []float64{0.01, 0.02, 0.03, 0.04, 0.05}) {
		t.Errorf("deform = %v, %v", vals, err)
	}

	area, err := f.OpenDataset("events/area_um")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	if !slices.Equal(area.Filters(), []uint16{message.FilterDeflate}) {
		t.Errorf("area filters = %v", area.Filters())
	}
	if vals, err := area.ReadFloat64(); err != nil || !slices.Equal(vals, []float64{40, 50, 60, 70, 80}) {
		t.Errorf("area = %v, %v", vals, err)
	}
	if v, err := area.Attr("unit").Value(); err != nil || v != "um^2" {
		t.Errorf("unit = %v, %v", v, err)
	}

	image, err := f.OpenDataset("events/image")
	if err != nil {
		t.Fatalf("OpenDataset failed: %v", err)
	}
	var frame []uint8
	if err := image.ReadRows(3, 1, &frame); err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if !slices.Equal(frame, []uint8{12, 13, 14, 15}) {
		t.Errorf("frame 3 = %v", frame)
	}

	if _, err := f.OpenGroup("alias"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("soft link: got %v, want ErrUnsupported", err)
	}
}

func TestLegacyFileIsReadOnly(t *testing.T) {
	if _, err := OpenReadWrite(writeLegacy(t)); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("OpenReadWrite: got %v, want ErrUnsupported", err)
	}
}

func TestWalkLegacyFile(t *testing.T) {
	f, err := Open(writeLegacy(t))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var datasets, failed []string
	err = Walk(f.Root(), func(p string, obj any, err error) error {
		if err != nil {
			failed = append(failed, p)
		}
		if _, ok := obj.(*Dataset); ok {
			datasets = append(datasets, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	want := []string{"/events/area_um", "/events/deform", "/events/frame", "/events/image", "/events/time"}
	if !slices.Equal(datasets, want) {
		t.Errorf("datasets = %v", datasets)
	}
	if !slices.Equal(failed, []string{"/alias"}) {
		t.Errorf("failed = %v", failed)
	}
}
