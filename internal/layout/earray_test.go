package layout

import (
	"bytes"
	"encoding/binary"
	"testing"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/filter"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

var defaultEAParams = []byte{32, 4, 4, 16, 10}

func newArrayFixture(t *testing.T, pipeline *filter.EncodePipeline) (*memFile, *bumpAllocator, *ChunkWriter) {
	t.Helper()
	f := &memFile{}
	alloc := &bumpAllocator{next: 64}
	w := binpkg.NewWriter(f, binpkg.DefaultConfig())
	return f, alloc, NewChunkWriter(w, []uint32{8}, 8, alloc.allocate).WithPipeline(pipeline)
}

func TestExtensibleArrayHeaderFields(t *testing.T) {
	f, _, cw := newArrayFixture(t, nil)
	chunks := make([]StoredChunk, 1000)
	for i := range chunks {
		chunks[i] = StoredChunk{Addr: uint64(1 << 20 * (i + 1)), Size: 64}
	}
	addr, err := cw.WriteExtensibleArrayIndex(defaultEAParams, chunks)
	if err != nil {
		t.Fatalf("WriteExtensibleArrayIndex: %v", err)
	}

	hdr := f.buf[addr:]
	if string(hdr[:4]) != "EAHD" || hdr[4] != 0 || hdr[5] != 0 {
		t.Fatalf("header prefix % x", hdr[:6])
	}
	// element size, max bits, index elements, data block minimum, super
	// block minimum, page bits
	if want := []byte{8, 32, 4, 16, 4, 10}; !bytes.Equal(hdr[6:12], want) {
		t.Fatalf("header parameters = %v, want %v", hdr[6:12], want)
	}
	le := binary.LittleEndian
	stats := make([]uint64, 6)
	for i := range stats {
		stats[i] = le.Uint64(hdr[12+8*i:])
	}
	// 996 elements past the index block fill super blocks 0 to 5; the last
	// two are addressed through EASB blocks.
	if stats[0] != 2 || stats[2] != 14 || stats[4] != 1000 || stats[5] != 4+16+32+64+128+256+512 {
		t.Fatalf("header stats = %v", stats)
	}
	ib := le.Uint64(hdr[60:])
	if string(f.buf[ib:ib+4]) != "EAIB" {
		t.Fatalf("index block signature %q", f.buf[ib:ib+4])
	}
	// 4 elements, 6 data block and 25 super block addresses.
	first := le.Uint64(f.buf[ib+14+4*8:])
	if string(f.buf[first:first+4]) != "EADB" {
		t.Fatalf("first data block signature %q", f.buf[first:first+4])
	}
	if off := le.Uint32(f.buf[first+14:]); off != 0 {
		t.Fatalf("first data block offset = %d", off)
	}

	r := binpkg.NewReader(f, binpkg.DefaultConfig())
	ea, err := cw.OpenExtensibleArray(r, addr)
	if err != nil {
		t.Fatalf("OpenExtensibleArray: %v", err)
	}
	if ea.Len() != 1000 {
		t.Fatalf("Len = %d", ea.Len())
	}
	for _, i := range []uint64{0, 3, 4, 19, 20, 243, 244, 499, 500, 999} {
		sc, ok, err := ea.Get(i)
		if err != nil || !ok {
			t.Fatalf("Get(%d) = %v, %v", i, ok, err)
		}
		if sc.Addr != 1<<20*(i+1) || sc.Size != 64 {
			t.Fatalf("Get(%d) = %+v", i, sc)
		}
	}
	if _, ok, _ := ea.Get(1000); ok {
		t.Fatalf("element past the end reported as set")
	}
}

func TestExtensibleArrayGrowsInPlace(t *testing.T) {
	f, alloc, cw := newArrayFixture(t, filter.NewEncodePipeline(filter.NewFletcher32(nil)))
	addr, err := cw.WriteExtensibleArrayIndex(defaultEAParams, []StoredChunk{{Addr: 100, Size: 68, FilterMask: 0}})
	if err != nil {
		t.Fatalf("WriteExtensibleArrayIndex: %v", err)
	}

	r := binpkg.NewReader(f, binpkg.DefaultConfig())
	var grown uint64
	for i := uint64(1); i < 300; i++ {
		before := alloc.next
		ea, err := cw.OpenExtensibleArray(r, addr)
		if err != nil {
			t.Fatalf("open before element %d: %v", i, err)
		}
		if err := ea.Set(i-1, StoredChunk{Addr: 100 * i, Size: 60, FilterMask: 1}); err != nil {
			t.Fatalf("rewrite element %d: %v", i-1, err)
		}
		if err := ea.Set(i, StoredChunk{Addr: 100 * (i + 1), Size: 68}); err != nil {
			t.Fatalf("set element %d: %v", i, err)
		}
		if err := ea.Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		grown += alloc.next - before
	}
	// Only data and super blocks are added; the header and index block
	// stay where they are.
	ea, err := cw.OpenExtensibleArray(r, addr)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ea.stats.dataBlocks != 7 || ea.stats.superBlocks != 1 {
		t.Fatalf("stats = %+v", ea.stats)
	}
	if grown != ea.stats.dataBytes+ea.stats.superBytes {
		t.Fatalf("array grew by %d bytes, blocks hold %d", grown, ea.stats.dataBytes+ea.stats.superBytes)
	}
	for i := range uint64(299) {
		sc, ok, err := ea.Get(i)
		if err != nil || !ok {
			t.Fatalf("Get(%d) = %v, %v", i, ok, err)
		}
		if sc.Addr != 100*(i+1) || sc.Size != 60 || sc.FilterMask != 1 {
			t.Fatalf("Get(%d) = %+v", i, sc)
		}
	}
	if sc, _, _ := ea.Get(299); sc.Size != 68 || sc.FilterMask != 0 {
		t.Fatalf("last element = %+v", sc)
	}
}

func TestExtensibleArrayPagedDataBlocks(t *testing.T) {
	f, _, cw := newArrayFixture(t, nil)
	// Data blocks of more than 8 elements are paged.
	params := []byte{16, 2, 2, 2, 3}
	ea, err := cw.NewExtensibleArray(params)
	if err != nil {
		t.Fatalf("NewExtensibleArray: %v", err)
	}
	for i := uint64(0); i < 400; i += 3 {
		if err := ea.Set(i, StoredChunk{Addr: 1000 + i}); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if err := ea.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := binpkg.NewReader(f, binpkg.DefaultConfig())
	back, err := readExtensibleArrayHeader(r, ea.Addr(), 64)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	for i := range uint64(400) {
		sc, ok, err := back.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if ok != (i%3 == 0) {
			t.Fatalf("Get(%d) set = %v", i, ok)
		}
		if ok && (sc.Addr != 1000+i || sc.Size != 64) {
			t.Fatalf("Get(%d) = %+v", i, sc)
		}
	}
}

func TestExtensibleArrayChecksum(t *testing.T) {
	f, _, cw := newArrayFixture(t, nil)
	chunks := make([]StoredChunk, 30)
	for i := range chunks {
		chunks[i] = StoredChunk{Addr: uint64(4096 + i)}
	}
	addr, err := cw.WriteExtensibleArrayIndex(defaultEAParams, chunks)
	if err != nil {
		t.Fatalf("WriteExtensibleArrayIndex: %v", err)
	}
	r := binpkg.NewReader(f, binpkg.DefaultConfig())
	ea, err := readExtensibleArrayHeader(r, addr, 64)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	slot := ea.index + uint64(ea.geo.indexDblkOff())
	dblk := binary.LittleEndian.Uint64(f.buf[slot:])
	f.buf[dblk+uint64(ea.geo.blockHead())] ^= 0xFF

	fresh, err := readExtensibleArrayHeader(r, addr, 64)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if _, _, err := fresh.Get(4); err == nil {
		t.Fatalf("corrupt data block read without error")
	}
	if _, ok, err := fresh.Get(3); err != nil || !ok {
		t.Fatalf("index block element: %v, %v", ok, err)
	}
}

func TestExtensibleArrayChunkedRead(t *testing.T) {
	f, alloc, _ := newArrayFixture(t, nil)
	w := binpkg.NewWriter(f, binpkg.DefaultConfig())
	dims := []uint64{600}
	chunkDims := []uint32{2}
	data := int32Bytes(600)

	cw := NewChunkWriter(w, chunkDims, 4, alloc.allocate)
	stored, err := cw.WriteChunks(SplitIntoChunks(data, dims, chunkDims, 4))
	if err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}
	dl := message.NewChunkedLayout(chunkDims, 4, message.ChunkIndexExtensibleArray)
	if dl.ChunkIndexAddr, err = cw.WriteExtensibleArrayIndex(dl.IndexParams(), stored); err != nil {
		t.Fatalf("WriteExtensibleArrayIndex: %v", err)
	}

	space := &message.Dataspace{SpaceType: message.DataspaceSimple, Dimensions: dims, MaxDims: []uint64{message.Unlimited}}
	dt := &message.Datatype{Class: message.ClassFixedPoint, Size: 4}
	chunked, err := NewChunked(dl, space, dt, nil, binpkg.NewReader(f, binpkg.DefaultConfig()))
	if err != nil {
		t.Fatalf("NewChunked: %v", err)
	}
	got, err := chunked.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read mismatch")
	}
}

func TestFixedArrayPagedRead(t *testing.T) {
	le := binary.LittleEndian
	f := &memFile{}
	// Five 8 byte entries in pages of two; page 1 was never written.
	const hdrAddr, blkAddr = 64, 128
	hdr := []byte("FAHD\x00\x00\x08\x01")
	hdr = le.AppendUint64(hdr, 5)
	hdr = le.AppendUint64(hdr, blkAddr)
	hdr = le.AppendUint32(hdr, binpkg.Lookup3Checksum(hdr))
	f.WriteAt(hdr, hdrAddr)

	blk := []byte("FADB\x00\x00")
	blk = le.AppendUint64(blk, hdrAddr)
	blk = append(blk, 0b1010_0000)
	blk = le.AppendUint32(blk, binpkg.Lookup3Checksum(blk))
	for p, addrs := range [][]uint64{{1000, 1100}, {0, 0}, {1400}} {
		var page []byte
		for _, a := range addrs {
			if p == 1 {
				a = ^uint64(0)
			}
			page = le.AppendUint64(page, a)
		}
		blk = append(blk, page...)
		blk = le.AppendUint32(blk, binpkg.Lookup3Checksum(page))
	}
	f.WriteAt(blk, blkAddr)

	dl := message.NewChunkedLayout([]uint32{1}, 4, message.ChunkIndexFixedArray)
	dl.ChunkIndexAddr = hdrAddr
	space := &message.Dataspace{SpaceType: message.DataspaceSimple, Dimensions: []uint64{5}}
	dt := &message.Datatype{Class: message.ClassFixedPoint, Size: 4}
	chunked, err := NewChunked(dl, space, dt, nil, binpkg.NewReader(f, binpkg.DefaultConfig()))
	if err != nil {
		t.Fatalf("NewChunked: %v", err)
	}
	entries, err := chunked.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 || entries[0].Addr != 1000 || entries[1].Addr != 1100 || entries[2].Addr != 1400 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestFixedArrayPageBits(t *testing.T) {
	for n, want := range map[int]uint8{0: 10, 1: 10, 1024: 10, 1025: 11, 5000: 13} {
		if got := FixedArrayPageBits(n); got != want {
			t.Errorf("FixedArrayPageBits(%d) = %d, want %d", n, got, want)
		}
	}
}
