package heap

import (
	"fmt"
	"testing"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

type memFile struct {
	buf []byte
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, nil
	}
	return copy(p, m.buf[off:]), nil
}

func TestCollectionRoundtrip(t *testing.T) {
	f := &memFile{}
	next := uint64(64)
	alloc := func(size int64) uint64 {
		addr := next
		next += uint64(size)
		return addr
	}
	ghw := NewGlobalHeapWriter(binary.NewWriter(f, binary.DefaultConfig()), alloc)
	lines := []string{"[General]", "Date = 2017-03-09", "exactly8", ""}
	for _, l := range lines {
		ghw.AddObject([]byte(l))
	}
	addr, ids, err := ghw.Write()
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if addr != 64 || len(ids) != len(lines) {
		t.Fatalf("addr %d, %d ids", addr, len(ids))
	}
	if next%8 != 0 || next-64 < 4096 {
		t.Errorf("collection size %d is not 8-byte aligned or below 4 KiB", next-64)
	}

	gh, err := ReadGlobalHeap(binary.NewReader(f, binary.DefaultConfig()), addr)
	if err != nil {
		t.Fatalf("ReadGlobalHeap failed: %v", err)
	}
	if gh.CollectionSize != next-64 {
		t.Errorf("collection size %d, allocated %d", gh.CollectionSize, next-64)
	}
	for i, want := range lines {
		id := ids[uint16(i+1)]
		if id.CollectionAddress != addr {
			t.Errorf("object %d in collection %d", i, id.CollectionAddress)
		}
		got, err := gh.GetString(uint16(id.ObjectIndex))
		if err != nil {
			t.Fatalf("GetString(%d) failed: %v", id.ObjectIndex, err)
		}
		if got != want {
			t.Errorf("object %d = %q, want %q", i, got, want)
		}
	}
	if _, err := gh.GetString(99); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestCollectionReusedAcrossWrites(t *testing.T) {
	f := &memFile{}
	next, calls := uint64(64), 0
	alloc := func(size int64) uint64 {
		calls++
		addr := next
		next += uint64(size)
		return addr
	}
	ghw := NewGlobalHeapWriter(binary.NewWriter(f, binary.DefaultConfig()), alloc)

	var ids []GlobalHeapID
	for i := range 50 {
		ghw.AddObject([]byte(fmt.Sprintf("line %d", i)))
		addr, got, err := ghw.Write()
		if err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
		if addr != 64 {
			t.Fatalf("write %d went to collection %d", i, addr)
		}
		ids = append(ids, got[1])
	}
	if calls != 1 {
		t.Fatalf("allocator called %d times", calls)
	}

	// An object that does not fit starts a new collection.
	ghw.AddObject(make([]byte, 5000))
	addr, _, err := ghw.Write()
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if addr == 64 || calls != 2 {
		t.Fatalf("large object in collection %d after %d allocations", addr, calls)
	}

	gh, err := ReadGlobalHeap(binary.NewReader(f, binary.DefaultConfig()), 64)
	if err != nil {
		t.Fatalf("ReadGlobalHeap failed: %v", err)
	}
	for i, id := range ids {
		got, err := gh.GetString(uint16(id.ObjectIndex))
		if err != nil || got != fmt.Sprintf("line %d", i) {
			t.Fatalf("object %d = %q, %v", id.ObjectIndex, got, err)
		}
	}
}

func TestEmptyWriterWritesNothing(t *testing.T) {
	ghw := NewGlobalHeapWriter(binary.NewWriter(&memFile{}, binary.DefaultConfig()), func(int64) uint64 {
		t.Fatal("allocator called")
		return 0
	})
	addr, ids, err := ghw.Write()
	if err != nil || addr != 0 || ids != nil {
		t.Errorf("Write() = %d, %v, %v", addr, ids, err)
	}
}

func TestGlobalHeapID(t *testing.T) {
	f := &memFile{}
	w := binary.NewWriter(f, binary.DefaultConfig())
	want := GlobalHeapID{CollectionAddress: 0x0102030405, ObjectIndex: 7}
	if err := WriteGlobalHeapID(w, want); err != nil {
		t.Fatalf("WriteGlobalHeapID failed: %v", err)
	}
	got, err := ParseGlobalHeapID(f.buf, 8)
	if err != nil {
		t.Fatalf("ParseGlobalHeapID failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := ParseGlobalHeapID(f.buf[:6], 8); err == nil {
		t.Error("expected error for short ID")
	}
	if _, err := ParseGlobalHeapID(f.buf, 3); err == nil {
		t.Error("expected error for odd offset size")
	}
}

func TestReadGlobalHeapErrors(t *testing.T) {
	r := binary.NewReader(&memFile{buf: []byte("XXXX\x01\x00\x00\x00")}, binary.DefaultConfig())
	if _, err := ReadGlobalHeap(r, 0); err == nil {
		t.Error("expected error for address 0")
	}
	r = binary.NewReader(&memFile{buf: append(make([]byte, 8), "XXXX\x01\x00\x00\x00"...)}, binary.DefaultConfig())
	if _, err := ReadGlobalHeap(r, 8); err == nil {
		t.Error("expected error for bad signature")
	}
	r = binary.NewReader(&memFile{buf: append(make([]byte, 8), "GCOL\x02\x00\x00\x00"...)}, binary.DefaultConfig())
	if _, err := ReadGlobalHeap(r, 8); err == nil {
		t.Error("expected error for version 2")
	}
}

func TestLocalHeap(t *testing.T) {
	f := &memFile{}
	w := binary.NewWriter(f, binary.DefaultConfig())
	data := []byte("\x00\x00\x00\x00\x00\x00\x00\x00events\x00\x00logs\x00\x00\x00\x00")
	if err := w.At(128).WriteBytes(data); err != nil {
		t.Fatal(err)
	}
	hw := w.At(64)
	hw.WriteBytes([]byte{'H', 'E', 'A', 'P', 0, 0, 0, 0})
	hw.WriteLength(uint64(len(data)))
	hw.WriteLength(^uint64(0))
	hw.WriteOffset(128)

	r := binary.NewReader(f, binary.DefaultConfig())
	h, err := ReadLocalHeap(r, 64)
	if err != nil {
		t.Fatalf("ReadLocalHeap failed: %v", err)
	}
	for off, want := range map[uint64]string{0: "", 8: "events", 16: "logs", 18: "gs"} {
		if got, err := h.String(off); err != nil || got != want {
			t.Errorf("String(%d) = %q, %v; want %q", off, got, err, want)
		}
	}
	if _, err := h.String(uint64(len(data))); err == nil {
		t.Error("expected an error past the data segment")
	}

	if _, err := ReadLocalHeap(r, 128); err == nil {
		t.Error("expected an error for a missing signature")
	}
}
