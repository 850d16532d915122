package hdf5

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/robert-malhotra/go-rtdc/internal/alloc"
	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/btree"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
	"github.com/robert-malhotra/go-rtdc/internal/message"
	"github.com/robert-malhotra/go-rtdc/internal/object"
	"github.com/robert-malhotra/go-rtdc/internal/superblock"
)

// File is an open container.
type File struct {
	path   string
	file   *os.File
	reader *binpkg.Reader
	sb     *superblock.Superblock
	root   *Group
	closed bool

	writable bool
	writer   *binpkg.Writer
	alloc    *alloc.Allocator
	groups   map[string]*Group // open groups of a writable file, by path
	strings  *heap.GlobalHeapWriter
	slots    map[uint64]uint64 // chunks moved by Extend, by address
}

// Open opens a file for reading.
func Open(path string) (*File, error) {
	return open(path, os.O_RDONLY)
}

// OpenReadWrite opens an existing file for reading and appending.
func OpenReadWrite(path string) (*File, error) {
	return open(path, os.O_RDWR)
}

func open(path string, flag int) (*File, error) {
	osFile, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	sb, err := superblock.Read(osFile)
	if err != nil {
		osFile.Close()
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	if sb.Legacy() && flag&os.O_RDWR != 0 {
		osFile.Close()
		return nil, fmt.Errorf("%w: writing to a version %d superblock file", ErrUnsupported, sb.Version)
	}

	f := &File{path: path, file: osFile, sb: sb, reader: binpkg.NewReader(osFile, sb.ReaderConfig())}
	if flag&os.O_RDWR != 0 {
		f.writable = true
		f.writer = binpkg.NewWriter(osFile, sb.ReaderConfig())
		f.alloc = alloc.New(sb.EOFAddress)
		f.slots = make(map[uint64]uint64)
	}
	if f.root, err = f.openGroupAt(sb.RootGroupAddress, "/"); err != nil {
		osFile.Close()
		return nil, fmt.Errorf("opening root group: %w", err)
	}
	return f, nil
}

// Create truncates or creates path and writes a superblock and an empty
// root group.
func Create(path string, opts ...FileOption) (*File, error) {
	o := defaultFileOptions()
	for _, opt := range opts {
		opt(o)
	}
	osFile, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*File, error) {
		osFile.Close()
		os.Remove(path)
		return nil, err
	}

	cfg := binpkg.Config{ByteOrder: binary.LittleEndian, OffsetSize: o.offsetSize, LengthSize: o.lengthSize}
	sb := superblock.NewSuperblock()
	sb.OffsetSize = uint8(o.offsetSize)
	sb.LengthSize = uint8(o.lengthSize)
	sb.RootGroupAddress = uint64(sb.Size())

	w := binpkg.NewWriter(osFile, cfg)
	n, err := object.Write(w.At(int64(sb.RootGroupAddress)), object.GroupMessages(), object.MinGroupChunkSize)
	if err != nil {
		return fail(err)
	}
	sb.EOFAddress = sb.RootGroupAddress + uint64(n)
	if _, err := sb.Write(w.At(0)); err != nil {
		return fail(err)
	}

	f := &File{
		path:     path,
		file:     osFile,
		reader:   binpkg.NewReader(osFile, cfg),
		sb:       sb,
		writable: true,
		writer:   w,
		alloc:    alloc.New(sb.EOFAddress),
		slots:    make(map[uint64]uint64),
	}
	if f.root, err = f.openGroupAt(sb.RootGroupAddress, "/"); err != nil {
		return fail(err)
	}
	return f, nil
}

// Flush stores the current end of file and root address in the superblock
// and syncs the file.
func (f *File) Flush() error {
	if !f.writable || f.closed {
		return nil
	}
	f.sb.EOFAddress = f.alloc.EOF()
	if _, err := f.sb.Write(f.writer.At(0)); err != nil {
		return err
	}
	return f.file.Sync()
}

// Close flushes a writable file and releases the handle. Closing twice is a
// no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	err := f.Flush()
	f.closed = true
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (f *File) Root() *Group     { return f.root }
func (f *File) Path() string     { return f.path }
func (f *File) Version() int     { return int(f.sb.Version) }
func (f *File) IsWritable() bool { return f.writable }

// SpaceStats reports the space written since the file was opened. Headers
// replaced by a rewrite and chunks moved by [Dataset.Extend] count as
// abandoned.
func (f *File) SpaceStats() alloc.Stats {
	if f.alloc == nil {
		return alloc.Stats{}
	}
	return f.alloc.Stats()
}

// OpenGroup opens a group by path from the root.
func (f *File) OpenGroup(p string) (*Group, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.root.OpenGroup(p)
}

// OpenDataset opens a dataset by path from the root.
func (f *File) OpenDataset(p string) (*Dataset, error) {
	if f.closed {
		return nil, ErrClosed
	}
	return f.root.OpenDataset(p)
}

func (f *File) allocate(size int64) uint64 {
	return f.alloc.Alloc(uint64(size))
}

// writeHeader stores a new object header and returns its address and size.
func (f *File) writeHeader(messages []message.Message, minChunk int) (uint64, uint64, error) {
	buf, err := object.Encode(messages, minChunk, f.writer.OffsetSize(), f.writer.LengthSize())
	if err != nil {
		return 0, 0, err
	}
	addr := f.allocate(int64(len(buf)))
	if err := f.writer.At(int64(addr)).WriteBytes(buf); err != nil {
		return 0, 0, err
	}
	return addr, uint64(len(buf)), nil
}

func (f *File) openGroupAt(address uint64, p string) (*Group, error) {
	header, err := object.Read(f.reader, address)
	if err != nil {
		return nil, fmt.Errorf("reading object header: %w", err)
	}
	return f.adoptGroup(p, header)
}

// adoptGroup wraps a parsed group header. In a writable file each path is
// opened once and shared, so header rewrites reach every handle.
func (f *File) adoptGroup(p string, header *object.Header) (*Group, error) {
	if g, ok := f.groups[p]; ok {
		return g, nil
	}
	g := &Group{file: f, path: p, addr: header.Address, size: header.Size}
	for _, msg := range header.Messages {
		switch m := msg.(type) {
		case *message.Link:
			g.links = append(g.links, m)
		case *message.Attribute:
			g.attrs = append(g.attrs, m)
		case *message.SymbolTable:
			links, err := f.symbolLinks(m)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			g.links = append(g.links, links...)
		}
	}
	if f.writable {
		if f.groups == nil {
			f.groups = make(map[string]*Group)
		}
		f.groups[p] = g
	}
	return g, nil
}

// symbolLinks lists the members of a symbol table group as links.
func (f *File) symbolLinks(st *message.SymbolTable) ([]*message.Link, error) {
	names, err := heap.ReadLocalHeap(f.reader, st.LocalHeapAddress)
	if err != nil {
		return nil, err
	}
	entries, err := btree.ReadGroup(f.reader, st.BTreeAddress, names)
	if err != nil {
		return nil, err
	}
	links := make([]*message.Link, len(entries))
	for i, e := range entries {
		if e.SoftLink != "" {
			links[i] = &message.Link{LinkType: message.LinkSoft, Name: e.Name, Target: []byte(e.SoftLink)}
			continue
		}
		links[i] = message.NewHardLink(e.Name, e.ObjectAddress)
	}
	return links, nil
}

func (f *File) openDatasetAt(address uint64, p string) (*Dataset, error) {
	header, err := object.Read(f.reader, address)
	if err != nil {
		return nil, fmt.Errorf("reading object header: %w", err)
	}
	return newDataset(f, p, header)
}

// forgetGroups drops the registry entries at and below p.
func (f *File) forgetGroups(p string) {
	for key := range f.groups {
		if key == p || strings.HasPrefix(key, p+"/") {
			delete(f.groups, key)
		}
	}
}

// parentOf returns the open parent group of the object at p.
func (f *File) parentOf(p string) *Group {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return f.root
	}
	return f.groups[dir]
}
