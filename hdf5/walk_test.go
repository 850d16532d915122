package hdf5

import (
	"errors"
	"testing"
)

func TestAttrPaths(t *testing.T) {
	tests := []struct {
		path, object, name string
	}{
		{"/@experiment:run index", "/", "experiment:run index"},
		{"/events/image@CLASS", "/events/image", "CLASS"},
		{"events/image/@CLASS", "/events/image", "CLASS"},
		{"/a@b@c", "/a@b", "c"},
	}
	for _, tt := range tests {
		obj, name, err := ParseAttrPath(tt.path)
		if err != nil || obj != tt.object || name != tt.name {
			t.Errorf("ParseAttrPath(%q) = %q, %q, %v", tt.path, obj, name, err)
		}
	}
	if got := JoinAttrPath("/", "CLASS"); got != "/@CLASS" {
		t.Errorf("JoinAttrPath on root = %q", got)
	}
	if got := JoinAttrPath("/events/image", "CLASS"); got != "/events/image@CLASS" {
		t.Errorf("JoinAttrPath = %q", got)
	}
	for _, bad := range []string{"", "/events", "/events@"} {
		if _, _, err := ParseAttrPath(bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ParseAttrPath(%q): expected ErrInvalidPath, got %v", bad, err)
		}
	}
}

func TestWalkAttrsAndReadAttr(t *testing.T) {
	f, p := createTemp(t)
	events, err := f.Root().CreateGroup("events")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if _, err := events.CreateDataset("image", []uint8{1, 2, 3, 4}, WithShape(1, 2, 2),
		WithAttribute("CLASS", "IMAGE"), WithAttribute("IMAGE_VERSION", "1.2")); err != nil {
		t.Fatalf("CreateDataset failed: %v", err)
	}
	if err := f.Root().SetAttrs(map[string]any{"experiment:sample": "beads", "imaging:frame rate": 2000.0}); err != nil {
		t.Fatalf("SetAttrs failed: %v", err)
	}
	f.Close()

	f2 := reopen(t, p)
	got := map[string]any{}
	if err := f2.WalkAttrs(func(info AttrInfo) error {
		if info.Err != nil {
			t.Errorf("%s: %v", info.Path, info.Err)
		}
		if info.Attr.Name() != info.Name || JoinAttrPath(info.ObjectPath, info.Name) != info.Path {
			t.Errorf("inconsistent info %+v", info)
		}
		got[info.Path] = info.Value
		return nil
	}); err != nil {
		t.Fatalf("WalkAttrs failed: %v", err)
	}
	want := map[string]any{
		"/@experiment:sample":         "beads",
		"/@imaging:frame rate":        2000.0,
		"/events/image@CLASS":         "IMAGE",
		"/events/image@IMAGE_VERSION": "1.2",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	v, err := f2.ReadAttr("/events/image@CLASS")
	if err != nil || v != "IMAGE" {
		t.Errorf("ReadAttr = %v, %v", v, err)
	}
	if _, err := f2.ReadAttr("/events@CLASS"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f2.ReadAttr("/missing@CLASS"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	stop := errors.New("stop")
	calls := 0
	err = f2.WalkAttrs(func(AttrInfo) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("walk did not stop: %v after %d calls", err, calls)
	}
}

func TestAttributeShapes(t *testing.T) {
	f, p := createTemp(t)
	if err := f.Root().SetAttrs(map[string]any{
		"names":  []string{"fl1", "fl2_long"},
		"counts": []uint32{3, 4},
		"flag":   false,
	}); err != nil {
		t.Fatalf("SetAttrs failed: %v", err)
	}
	if err := f.Root().SetAttr("empty", []int32{}); err == nil {
		t.Error("expected error for an empty list")
	}
	if err := f.Root().SetAttr("", 1); err == nil {
		t.Error("expected error for an empty name")
	}
	if err := f.Root().SetAttr("complex", 1i); err == nil {
		t.Error("expected error for an unsupported type")
	}
	f.Close()

	root := reopen(t, p).Root()
	names := root.Attr("names")
	if shape := names.Shape(); len(shape) != 1 || shape[0] != 2 {
		t.Errorf("names shape %v", shape)
	}
	if v, err := names.Value(); err != nil || v.([]string)[1] != "fl2_long" {
		t.Errorf("names = %v, %v", v, err)
	}
	if v, _ := root.Attr("counts").Value(); v.([]uint64)[1] != 4 {
		t.Errorf("counts = %v", v)
	}
	if flag := root.Attr("flag"); flag.Shape() != nil {
		t.Errorf("flag shape %v", flag.Shape())
	} else if v, _ := flag.Value(); v != uint64(0) {
		t.Errorf("flag = %v", v)
	}
	if root.Attr("missing") != nil {
		t.Error("unexpected attribute")
	}
}
