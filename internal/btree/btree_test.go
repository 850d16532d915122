package btree_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/robert-malhotra/go-rtdc/internal/btree"
	"github.com/robert-malhotra/go-rtdc/internal/fixture"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

func TestReadGroup(t *testing.T) {
	b := fixture.New()
	var members []fixture.Member
	for i := range 10 {
		members = append(members, fixture.Member{Name: fmt.Sprintf("feature%02d", 9-i), Addr: uint64(1000 + i)})
	}
	members = append(members, fixture.Member{Name: "link", SoftLink: "/events/feature00"})
	tree, names := b.SymbolTable(members)

	r := b.Reader()
	h, err := heap.ReadLocalHeap(r, names)
	if err != nil {
		t.Fatalf("ReadLocalHeap failed: %v", err)
	}
	entries, err := btree.ReadGroup(r, tree, h)
	if err != nil {
		t.Fatalf("btree.ReadGroup failed: %v", err)
	}
	if len(entries) != 11 {
		t.Fatalf("got %d entries, want 11", len(entries))
	}
	for i, e := range entries[:10] {
		if want := fmt.Sprintf("feature%02d", i); e.Name != want {
			t.Errorf("entry %d is %q, want %q", i, e.Name, want)
		}
		if e.ObjectAddress != uint64(1009-i) || e.SoftLink != "" {
			t.Errorf("entry %q: address %d, soft link %q", e.Name, e.ObjectAddress, e.SoftLink)
		}
	}
	if e := entries[10]; e.Name != "link" || e.SoftLink != "/events/feature00" || e.ObjectAddress != 0 {
		t.Errorf("soft link entry = %+v", e)
	}
}

func TestReadEmptyGroup(t *testing.T) {
	b := fixture.New()
	tree, names := b.SymbolTable(nil)
	r := b.Reader()
	h, err := heap.ReadLocalHeap(r, names)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := btree.ReadGroup(r, tree, h)
	if err != nil || len(entries) != 0 {
		t.Fatalf("got %v, %v", entries, err)
	}
}

func TestReadChunks(t *testing.T) {
	b := fixture.New()
	u8 := message.NewFixedPointDatatype(1, false, message.OrderLE)
	data := make([]byte, 7*4)
	for i := range data {
		data[i] = byte(i)
	}
	header := b.Chunked(u8, []uint64{7, 4}, nil, []uint32{2, 3}, data, false)

	r := b.Reader()
	// The chunked layout is the third message of the header.
	h := r.At(int64(header) + 16)
	var addr uint64
	for range 3 {
		typ, _ := h.ReadUint16()
		size, _ := h.ReadUint16()
		h.Skip(4)
		body, _ := h.ReadBytes(int(size))
		if message.Type(typ) == message.TypeDataLayout {
			msg, err := message.Parse(message.TypeDataLayout, body, 0, r)
			if err != nil {
				t.Fatal(err)
			}
			addr = msg.(*message.DataLayout).ChunkIndexAddr
		}
	}

	entries, err := btree.ReadChunks(r, addr, 2)
	if err != nil {
		t.Fatalf("btree.ReadChunks failed: %v", err)
	}
	// 4 x 2 chunks over two leaves.
	var offsets [][]uint64
	for _, e := range entries {
		offsets = append(offsets, e.Offset)
		if e.Size != 6 || e.FilterMask != 0 {
			t.Errorf("chunk %v: size %d mask %d", e.Offset, e.Size, e.FilterMask)
		}
	}
	want := [][]uint64{{0, 0}, {0, 3}, {2, 0}, {2, 3}, {4, 0}, {4, 3}, {6, 0}, {6, 3}}
	if !slices.EqualFunc(offsets, want, slices.Equal[[]uint64]) {
		t.Errorf("offsets = %v", offsets)
	}
	first, err := r.At(int64(entries[1].Address)).ReadBytes(6)
	if err != nil {
		t.Fatal(err)
	}
	// Rows 0 and 1, columns 3 and the zero padding past the edge.
	if !slices.Equal(first, []byte{3, 0, 0, 7, 0, 0}) {
		t.Errorf("chunk (0, 3) = %v", first)
	}
}

func TestReadNodeRejects(t *testing.T) {
	b := fixture.New()
	tree, names := b.SymbolTable([]fixture.Member{{Name: "a", Addr: 8}})
	r := b.Reader()
	if _, err := btree.ReadChunks(r, tree, 1); !errors.Is(err, btree.ErrInvalidNode) {
		t.Errorf("group tree read as chunks: %v", err)
	}
	if _, err := btree.ReadChunks(r, names, 1); !errors.Is(err, btree.ErrInvalidNode) {
		t.Errorf("heap read as a tree: %v", err)
	}
}
