// Package alloc hands out file space for a container being written.
//
// Space is only ever appended at the end of file. Object headers replaced
// by a rewrite and chunks that outgrew their slot are reported with
// [Allocator.Abandon]; their bytes
// stay in the file and are counted so callers can see how much of a file
// is dead space.
package alloc

import "sync"

// Stats summarizes the space handed out since the allocator was created.
type Stats struct {
	Allocations int
	Allocated   uint64
	Abandoned   uint64
}

// Allocator is safe for concurrent use.
type Allocator struct {
	mu    sync.Mutex
	eof   uint64
	stats Stats
}

// New continues allocating at eof.
func New(eof uint64) *Allocator {
	return &Allocator{eof: eof}
}

// Alloc reserves size bytes and returns their address. A zero size
// returns the current end of file without reserving anything.
func (a *Allocator) Alloc(size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.eof
	if size > 0 {
		a.eof += size
		a.stats.Allocations++
		a.stats.Allocated += size
	}
	return addr
}

// Abandon records that size bytes are no longer referenced.
func (a *Allocator) Abandon(size uint64) {
	a.mu.Lock()
	a.stats.Abandoned += size
	a.mu.Unlock()
}

// EOF is the address the next allocation starts at.
func (a *Allocator) EOF() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
