package layout

import (
	"fmt"
	"maps"
	"math/bits"
	"slices"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

// Extensible array blocks, for offset size O, array offset size A and
// element size E:
//
//	header       "EAHD" 0 client | E | params(5) | stats(6 lengths) | index block | checksum
//	index block  "EAIB" 0 client | header | elements | data block addrs | super block addrs | checksum
//	super block  "EASB" 0 client | header | offset(A) | [page bitmap] | data block addrs | checksum
//	data block   "EADB" 0 client | header | offset(A) | elements | checksum
//
// A paged data block holds only its prefix and checksum. Its pages follow
// it, each a run of elements with its own checksum.

const eaPrefix = 6 // signature, version, client id

// eaParams are the creation parameters, in header order.
type eaParams struct {
	maxBits    uint8 // log2 of the element limit
	indexElems uint8 // elements stored in the index block
	dataMin    uint8 // elements in the smallest data block
	superMin   uint8 // data block pointers in the smallest super block
	pageBits   uint8 // log2 of the elements per data block page
}

// layoutEAParams decodes the parameters of a version 4 layout message,
// which stores them as max bits, index elements, min pointers, min
// elements and page bits.
func layoutEAParams(b []byte) (eaParams, error) {
	if len(b) != 5 {
		return eaParams{}, fmt.Errorf("extensible array parameters have %d bytes, want 5", len(b))
	}
	return eaParams{maxBits: b[0], indexElems: b[1], superMin: b[2], dataMin: b[3], pageBits: b[4]}, nil
}

// superInfo describes the data blocks of one super block.
type superInfo struct {
	ndblks    uint64
	dblkElems uint64
	start     uint64 // first element, counted after the index block
	startDblk uint64 // first data block, counted over all super blocks
}

type eaGeometry struct {
	eaParams
	offsetSize int
	lengthSize int
	arrOffSize int
	elemSize   int
	ibSupers   int // super blocks whose data blocks the index block addresses
	ibDblks    int
	pageElems  uint64
	supers     []superInfo
}

func newGeometry(p eaParams, elemSize, offsetSize, lengthSize int) (*eaGeometry, error) {
	isPow2 := func(v uint8) bool { return v != 0 && v&(v-1) == 0 }
	switch {
	case p.maxBits == 0 || p.maxBits > 64:
		return nil, fmt.Errorf("extensible array max bits %d", p.maxBits)
	case p.indexElems == 0:
		return nil, fmt.Errorf("extensible array without index block elements")
	case !isPow2(p.dataMin):
		return nil, fmt.Errorf("extensible array data block minimum %d is not a power of two", p.dataMin)
	case p.superMin < 2 || !isPow2(p.superMin):
		return nil, fmt.Errorf("extensible array super block minimum %d", p.superMin)
	case p.pageBits == 0:
		return nil, fmt.Errorf("extensible array page bits 0")
	case elemSize <= 0:
		return nil, fmt.Errorf("extensible array element size %d", elemSize)
	}

	g := &eaGeometry{
		eaParams:   p,
		offsetSize: offsetSize,
		lengthSize: lengthSize,
		arrOffSize: (int(p.maxBits) + 7) / 8,
		elemSize:   elemSize,
		ibSupers:   2 * bits.TrailingZeros8(p.superMin),
		ibDblks:    2 * (int(p.superMin) - 1),
		pageElems:  ^uint64(0),
	}
	if p.pageBits < 64 {
		g.pageElems = 1 << p.pageBits
	}
	nsupers := 1 + int(p.maxBits) - bits.TrailingZeros8(p.dataMin)
	if nsupers < g.ibSupers {
		return nil, fmt.Errorf("extensible array with %d super blocks", nsupers)
	}
	var start, dblk uint64
	for u := range nsupers {
		s := superInfo{
			ndblks:    1 << (u / 2),
			dblkElems: (1 << ((u + 1) / 2)) * uint64(p.dataMin),
			start:     start,
			startDblk: dblk,
		}
		g.supers = append(g.supers, s)
		start += s.ndblks * s.dblkElems
		dblk += s.ndblks
	}
	return g, nil
}

func (g *eaGeometry) headerSize() int {
	return eaPrefix + 6 + 6*g.lengthSize + g.offsetSize + 4
}

func (g *eaGeometry) indexElemsOff() int { return eaPrefix + g.offsetSize }
func (g *eaGeometry) indexDblkOff() int  { return g.indexElemsOff() + int(g.indexElems)*g.elemSize }
func (g *eaGeometry) indexSuperOff() int { return g.indexDblkOff() + g.ibDblks*g.offsetSize }

func (g *eaGeometry) indexSize() int {
	return g.indexSuperOff() + (len(g.supers)-g.ibSupers)*g.offsetSize + 4
}

// npages is zero for a data block that is not paged.
func (g *eaGeometry) npages(u int) uint64 {
	if n := g.supers[u].dblkElems; n > g.pageElems {
		return n / g.pageElems
	}
	return 0
}

func (g *eaGeometry) pageInitSize(u int) int {
	return (int(g.npages(u)) + 7) / 8
}

// blockHead is the part of a super or data block before its bitmap,
// addresses or elements.
func (g *eaGeometry) blockHead() int { return eaPrefix + g.offsetSize + g.arrOffSize }

func (g *eaGeometry) superDblkOff(u int) int {
	return g.blockHead() + int(g.supers[u].ndblks)*g.pageInitSize(u)
}

func (g *eaGeometry) superSize(u int) int {
	return g.superDblkOff(u) + int(g.supers[u].ndblks)*g.offsetSize + 4
}

func (g *eaGeometry) pageSize() int { return int(g.pageElems)*g.elemSize + 4 }

// dataSize is the space of a data block including its pages.
func (g *eaGeometry) dataSize(u int) int {
	if n := g.npages(u); n > 0 {
		return g.blockHead() + 4 + int(n)*g.pageSize()
	}
	return g.blockHead() + int(g.supers[u].dblkElems)*g.elemSize + 4
}

// eaStats are the counters stored in the header.
type eaStats struct {
	superBlocks uint64
	superBytes  uint64
	dataBlocks  uint64
	dataBytes   uint64
	maxIndex    uint64 // highest element set, plus one
	elements    uint64 // element slots allocated in index and data blocks
}

type eaBlock struct {
	buf   []byte
	dirty bool
}

// ExtensibleArray is an extensible array chunk index. Elements are read and
// updated through cached copies of the blocks holding them; Flush writes
// the changed blocks back in place.
type ExtensibleArray struct {
	geo        *eaGeometry
	r          *binary.Reader
	w          *binary.Writer
	alloc      func(size int64) uint64
	clientID   uint8
	chunkBytes uint64 // size of an unfiltered chunk
	addr       uint64
	index      uint64
	stats      eaStats
	blocks     map[uint64]*eaBlock
}

// NewExtensibleArray allocates an empty array with its index block. params
// are the index parameters of the layout message.
func (cw *ChunkWriter) NewExtensibleArray(params []byte) (*ExtensibleArray, error) {
	p, err := layoutEAParams(params)
	if err != nil {
		return nil, err
	}
	clientID, elemSize := cw.entryLayout()
	geo, err := newGeometry(p, elemSize, cw.w.OffsetSize(), cw.w.LengthSize())
	if err != nil {
		return nil, err
	}
	ea := &ExtensibleArray{
		geo:        geo,
		w:          cw.w,
		alloc:      cw.allocator,
		clientID:   clientID,
		chunkBytes: cw.ChunkSize(),
		blocks:     make(map[uint64]*eaBlock),
	}
	ea.addr = ea.alloc(int64(geo.headerSize()))
	ea.newIndexBlock()
	return ea, nil
}

// OpenExtensibleArray loads the array at addr for update. Its element
// layout must match the writer's pipeline.
func (cw *ChunkWriter) OpenExtensibleArray(r *binary.Reader, addr uint64) (*ExtensibleArray, error) {
	ea, err := readExtensibleArrayHeader(r, addr, cw.ChunkSize())
	if err != nil {
		return nil, err
	}
	if clientID, _ := cw.entryLayout(); clientID != ea.clientID {
		return nil, fmt.Errorf("extensible array client %d does not match writer client %d", ea.clientID, clientID)
	}
	ea.w, ea.alloc = cw.w, cw.allocator
	return ea, nil
}

func readExtensibleArrayHeader(r *binary.Reader, addr, chunkBytes uint64) (*ExtensibleArray, error) {
	buf, err := r.At(int64(addr)).ReadBytes(eaPrefix + 6)
	if err != nil {
		return nil, fmt.Errorf("reading extensible array header: %w", err)
	}
	if err := checkPrefix(buf, "EAHD"); err != nil {
		return nil, err
	}
	p := eaParams{maxBits: buf[7], indexElems: buf[8], dataMin: buf[9], superMin: buf[10], pageBits: buf[11]}
	geo, err := newGeometry(p, int(buf[6]), r.OffsetSize(), r.LengthSize())
	if err != nil {
		return nil, err
	}
	if buf, err = r.At(int64(addr)).ReadBytes(geo.headerSize()); err != nil {
		return nil, fmt.Errorf("reading extensible array header: %w", err)
	}
	if err := verifyBlock(buf, addr); err != nil {
		return nil, err
	}

	ea := &ExtensibleArray{
		geo:        geo,
		r:          r,
		clientID:   buf[5],
		chunkBytes: chunkBytes,
		addr:       addr,
		blocks:     make(map[uint64]*eaBlock),
	}
	switch {
	case ea.clientID == 0 && geo.elemSize != geo.offsetSize,
		ea.clientID == 1 && geo.elemSize <= geo.offsetSize+4,
		ea.clientID > 1:
		return nil, fmt.Errorf("extensible array client %d with %d byte elements", ea.clientID, geo.elemSize)
	}
	off := eaPrefix + 6
	stats := []*uint64{
		&ea.stats.superBlocks, &ea.stats.superBytes,
		&ea.stats.dataBlocks, &ea.stats.dataBytes,
		&ea.stats.maxIndex, &ea.stats.elements,
	}
	for _, v := range stats {
		*v = uintLE(buf[off : off+geo.lengthSize])
		off += geo.lengthSize
	}
	ea.index = uintLE(buf[off : off+geo.offsetSize])
	return ea, nil
}

// Addr is the header address.
func (ea *ExtensibleArray) Addr() uint64 { return ea.addr }

// Len is one past the highest element ever set.
func (ea *ExtensibleArray) Len() uint64 { return ea.stats.maxIndex }

// Get returns element i. ok is false for an element that was never set.
func (ea *ExtensibleArray) Get(i uint64) (sc StoredChunk, ok bool, err error) {
	if i >= ea.stats.maxIndex {
		return StoredChunk{}, false, nil
	}
	blk, off, err := ea.slot(i, false)
	if err != nil || blk == nil {
		return StoredChunk{}, false, err
	}
	sc = ea.element(blk.buf[off:])
	return sc, !ea.undefined(sc.Addr), nil
}

// Set stores sc as element i, allocating the blocks that hold it.
func (ea *ExtensibleArray) Set(i uint64, sc StoredChunk) error {
	if ea.w == nil {
		return fmt.Errorf("extensible array opened read-only")
	}
	blk, off, err := ea.slot(i, true)
	if err != nil {
		return err
	}
	ea.putElement(blk.buf[off:], sc)
	blk.dirty = true
	ea.stats.maxIndex = max(ea.stats.maxIndex, i+1)
	return nil
}

// Flush writes the changed blocks with fresh checksums, then the header.
func (ea *ExtensibleArray) Flush() error {
	for _, addr := range slices.Sorted(maps.Keys(ea.blocks)) {
		blk := ea.blocks[addr]
		if !blk.dirty {
			continue
		}
		n := len(blk.buf) - 4
		putUint32LE(blk.buf[n:], binary.Lookup3Checksum(blk.buf[:n]))
		if err := ea.w.At(int64(addr)).WriteBytes(blk.buf); err != nil {
			return err
		}
		blk.dirty = false
	}
	return ea.writeHeader()
}

func (ea *ExtensibleArray) writeHeader() error {
	g := ea.geo
	buf := make([]byte, g.headerSize())
	copy(buf, "EAHD")
	buf[5] = ea.clientID
	buf[6] = uint8(g.elemSize)
	buf[7], buf[8], buf[9], buf[10], buf[11] = g.maxBits, g.indexElems, g.dataMin, g.superMin, g.pageBits
	off := eaPrefix + 6
	for _, v := range []uint64{
		ea.stats.superBlocks, ea.stats.superBytes,
		ea.stats.dataBlocks, ea.stats.dataBytes,
		ea.stats.maxIndex, ea.stats.elements,
	} {
		putUint64LE(buf[off:], v, g.lengthSize)
		off += g.lengthSize
	}
	putUint64LE(buf[off:], ea.index, g.offsetSize)
	off += g.offsetSize
	putUint32LE(buf[off:], binary.Lookup3Checksum(buf[:off]))
	return ea.w.At(int64(ea.addr)).WriteBytes(buf)
}

// slot finds the block and byte offset of element i. Without create a
// missing block yields a nil block.
func (ea *ExtensibleArray) slot(i uint64, create bool) (*eaBlock, int, error) {
	g := ea.geo
	if g.maxBits < 64 && i >= 1<<g.maxBits {
		return nil, 0, fmt.Errorf("element %d beyond the extensible array limit of 2^%d", i, g.maxBits)
	}
	if ea.undefined(ea.index) {
		if !create {
			return nil, 0, nil
		}
		ea.newIndexBlock()
	}
	ib, err := ea.block(ea.index, g.indexSize(), "EAIB")
	if err != nil {
		return nil, 0, err
	}
	if i < uint64(g.indexElems) {
		return ib, g.indexElemsOff() + int(i)*g.elemSize, nil
	}

	i -= uint64(g.indexElems)
	u := bits.Len64(i/uint64(g.dataMin)+1) - 1
	if u >= len(g.supers) {
		return nil, 0, fmt.Errorf("element %d beyond the last super block", i)
	}
	s := g.supers[u]
	d := (i - s.start) / s.dblkElems
	e := (i - s.start) % s.dblkElems

	// ptrs holds the address of the data block.
	ptrs, ptrOff := ib, g.indexDblkOff()+int(s.startDblk+d)*g.offsetSize
	if u >= g.ibSupers {
		sbOff := g.indexSuperOff() + (u-g.ibSupers)*g.offsetSize
		sbAddr := ea.addrAt(ib, sbOff)
		if ea.undefined(sbAddr) {
			if !create {
				return nil, 0, nil
			}
			sbAddr = ea.newSuperBlock(u)
			ea.putAddr(ib, sbOff, sbAddr)
		}
		if ptrs, err = ea.block(sbAddr, g.superSize(u), "EASB"); err != nil {
			return nil, 0, err
		}
		ptrOff = g.superDblkOff(u) + int(d)*g.offsetSize
	}

	npages := g.npages(u)
	if npages > 0 && ptrs == ib {
		return nil, 0, fmt.Errorf("paged data blocks addressed by the index block are not supported")
	}
	dbAddr := ea.addrAt(ptrs, ptrOff)
	if ea.undefined(dbAddr) {
		if !create {
			return nil, 0, nil
		}
		dbAddr = ea.newDataBlock(u, d)
		ea.putAddr(ptrs, ptrOff, dbAddr)
		for p := range npages {
			ea.newPage(ea.pageAddr(dbAddr, p))
			setBit(ptrs.buf[g.blockHead():], d*npages+p)
		}
	}
	if npages == 0 {
		db, err := ea.block(dbAddr, g.dataSize(u), "EADB")
		if err != nil {
			return nil, 0, err
		}
		return db, g.blockHead() + int(e)*g.elemSize, nil
	}

	p := e / g.pageElems
	off := int(e%g.pageElems) * g.elemSize
	bitmap := ptrs.buf[g.blockHead():]
	if !getBit(bitmap, d*npages+p) {
		if !create {
			return nil, 0, nil
		}
		setBit(bitmap, d*npages+p)
		ptrs.dirty = true
		return ea.newPage(ea.pageAddr(dbAddr, p)), off, nil
	}
	if _, err := ea.block(dbAddr, g.blockHead()+4, "EADB"); err != nil {
		return nil, 0, err
	}
	pg, err := ea.block(ea.pageAddr(dbAddr, p), g.pageSize(), "")
	if err != nil {
		return nil, 0, err
	}
	return pg, off, nil
}

func (ea *ExtensibleArray) pageAddr(dblk, p uint64) uint64 {
	return dblk + uint64(ea.geo.blockHead()+4) + p*uint64(ea.geo.pageSize())
}

// block returns the cached block at addr, reading and verifying it on
// first use. Pages have no signature.
func (ea *ExtensibleArray) block(addr uint64, size int, sig string) (*eaBlock, error) {
	if blk, ok := ea.blocks[addr]; ok {
		return blk, nil
	}
	if ea.r == nil {
		return nil, fmt.Errorf("extensible array block at %d is not loaded", addr)
	}
	buf, err := ea.r.At(int64(addr)).ReadBytes(size)
	if err != nil {
		return nil, fmt.Errorf("reading extensible array block at %d: %w", addr, err)
	}
	if sig != "" {
		if err := checkPrefix(buf, sig); err != nil {
			return nil, err
		}
	}
	if err := verifyBlock(buf, addr); err != nil {
		return nil, err
	}
	blk := &eaBlock{buf: buf}
	ea.blocks[addr] = blk
	return blk, nil
}

// newBlock allocates a block and fills in its signature and header
// address.
func (ea *ExtensibleArray) newBlock(sig string, size int) (uint64, *eaBlock) {
	addr := ea.alloc(int64(size))
	buf := make([]byte, size)
	copy(buf, sig)
	buf[5] = ea.clientID
	putUint64LE(buf[eaPrefix:], ea.addr, ea.geo.offsetSize)
	blk := &eaBlock{buf: buf, dirty: true}
	ea.blocks[addr] = blk
	return addr, blk
}

func (ea *ExtensibleArray) newIndexBlock() {
	g := ea.geo
	addr, blk := ea.newBlock("EAIB", g.indexSize())
	ea.fillElements(blk.buf[g.indexElemsOff():g.indexDblkOff()])
	fillUndefined(blk.buf[g.indexDblkOff() : len(blk.buf)-4])
	ea.index = addr
	ea.stats.elements += uint64(g.indexElems)
}

func (ea *ExtensibleArray) newSuperBlock(u int) uint64 {
	g := ea.geo
	size := g.superSize(u)
	addr, blk := ea.newBlock("EASB", size)
	putUint64LE(blk.buf[eaPrefix+g.offsetSize:], g.supers[u].start, g.arrOffSize)
	fillUndefined(blk.buf[g.superDblkOff(u) : size-4])
	ea.stats.superBlocks++
	ea.stats.superBytes += uint64(size)
	return addr
}

// newDataBlock allocates data block d of super block u. The pages of a
// paged block are created by the caller.
func (ea *ExtensibleArray) newDataBlock(u int, d uint64) uint64 {
	g := ea.geo
	s := g.supers[u]
	size := g.dataSize(u)
	head := size
	if g.npages(u) > 0 {
		head = g.blockHead() + 4
	}
	addr := ea.alloc(int64(size))
	buf := make([]byte, head)
	copy(buf, "EADB")
	buf[5] = ea.clientID
	putUint64LE(buf[eaPrefix:], ea.addr, g.offsetSize)
	putUint64LE(buf[eaPrefix+g.offsetSize:], s.start+d*s.dblkElems, g.arrOffSize)
	if head == size {
		ea.fillElements(buf[g.blockHead() : size-4])
	}
	ea.blocks[addr] = &eaBlock{buf: buf, dirty: true}
	ea.stats.dataBlocks++
	ea.stats.dataBytes += uint64(size)
	ea.stats.elements += s.dblkElems
	return addr
}

func (ea *ExtensibleArray) newPage(addr uint64) *eaBlock {
	buf := make([]byte, ea.geo.pageSize())
	ea.fillElements(buf[:len(buf)-4])
	blk := &eaBlock{buf: buf, dirty: true}
	ea.blocks[addr] = blk
	return blk
}

func (ea *ExtensibleArray) addrAt(blk *eaBlock, off int) uint64 {
	return uintLE(blk.buf[off : off+ea.geo.offsetSize])
}

func (ea *ExtensibleArray) putAddr(blk *eaBlock, off int, addr uint64) {
	putUint64LE(blk.buf[off:], addr, ea.geo.offsetSize)
	blk.dirty = true
}

func (ea *ExtensibleArray) undefined(addr uint64) bool {
	return addr == ^uint64(0)>>(64-8*ea.geo.offsetSize)
}

func (ea *ExtensibleArray) element(b []byte) StoredChunk {
	o := ea.geo.offsetSize
	sc := StoredChunk{Addr: uintLE(b[:o]), Size: ea.chunkBytes}
	if ea.clientID == 1 {
		width := ea.geo.elemSize - o - 4
		sc.Size = uintLE(b[o : o+width])
		sc.FilterMask = uint32(uintLE(b[o+width : o+width+4]))
	}
	return sc
}

func (ea *ExtensibleArray) putElement(b []byte, sc StoredChunk) {
	o := ea.geo.offsetSize
	putUint64LE(b, sc.Addr, o)
	if ea.clientID == 1 {
		width := ea.geo.elemSize - o - 4
		putUint64LE(b[o:], sc.Size, width)
		putUint32LE(b[o+width:], sc.FilterMask)
	}
}

// fillElements marks every element of b unset: an undefined address with a
// zero size and mask.
func (ea *ExtensibleArray) fillElements(b []byte) {
	for off := 0; off+ea.geo.elemSize <= len(b); off += ea.geo.elemSize {
		clear(b[off : off+ea.geo.elemSize])
		fillUndefined(b[off : off+ea.geo.offsetSize])
	}
}

func fillUndefined(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
}

// checkPrefix checks a block signature and version.
func checkPrefix(buf []byte, sig string) error {
	if len(buf) < eaPrefix || string(buf[:4]) != sig {
		return fmt.Errorf("invalid signature: got %q, expected %q", buf[:min(4, len(buf))], sig)
	}
	if buf[4] != 0 {
		return fmt.Errorf("unsupported %s version: %d", sig, buf[4])
	}
	return nil
}

// verifyBlock compares the trailing lookup3 checksum with the one computed
// over the rest of buf.
func verifyBlock(buf []byte, addr uint64) error {
	n := len(buf) - 4
	if n < 0 {
		return fmt.Errorf("block at %d too short", addr)
	}
	if uint32(uintLE(buf[n:])) != binary.Lookup3Checksum(buf[:n]) {
		return fmt.Errorf("checksum mismatch in block at %d", addr)
	}
	return nil
}

// Bits are numbered from the most significant bit of the first byte.
func getBit(b []byte, i uint64) bool { return b[i/8]&(0x80>>(i%8)) != 0 }
func setBit(b []byte, i uint64)      { b[i/8] |= 0x80 >> (i % 8) }

func uintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
