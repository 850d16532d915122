package alloc

import (
	"sync"
	"testing"
)

func TestAppendOnly(t *testing.T) {
	a := New(96)
	if got := a.Alloc(40); got != 96 {
		t.Fatalf("first block at %d", got)
	}
	if got := a.Alloc(0); got != 136 {
		t.Fatalf("empty block at %d", got)
	}
	if got := a.Alloc(8); got != 136 {
		t.Fatalf("second block at %d", got)
	}
	a.Abandon(40)

	want := Stats{Allocations: 2, Allocated: 48, Abandoned: 40}
	if s := a.Stats(); s != want {
		t.Fatalf("stats = %+v, want %+v", s, want)
	}
	if a.EOF() != 144 {
		t.Fatalf("eof = %d", a.EOF())
	}
}

func TestConcurrentAllocationsDoNotOverlap(t *testing.T) {
	a := New(0)
	var wg sync.WaitGroup
	addrs := make([]uint64, 64)
	for i := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addrs[i] = a.Alloc(16)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, addr := range addrs {
		if addr%16 != 0 || seen[addr] {
			t.Fatalf("address %d reused or misplaced", addr)
		}
		seen[addr] = true
	}
	if a.EOF() != 64*16 {
		t.Fatalf("eof = %d", a.EOF())
	}
}
