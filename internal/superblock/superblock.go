// Package superblock reads and writes the version 2 and 3 HDF5 superblock
// that starts every RT-DC container. Version 0 and 1 superblocks of older
// files are read only.
//
// Layout, with O the size of offsets:
//
//	0     8  signature
//	8     1  version
//	9     1  size of offsets
//	10    1  size of lengths
//	11    1  file consistency flags
//	12    O  base address
//	12+O  O  superblock extension address
//	12+2O O  end of file address
//	12+3O O  root group object header address
//	12+4O 4  lookup3 checksum
package superblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
)

// Signature opens every HDF5 file.
var Signature = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Offsets probed for the signature, in order.
var superblockOffsets = []int64{0, 512, 1024, 2048}

var (
	ErrNotHDF5            = errors.New("not an HDF5 file: signature not found")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrInvalidSuperblock  = errors.New("invalid superblock structure")
)

// Superblock holds the file-wide sizes and the root group address.
type Superblock struct {
	Version              uint8
	OffsetSize           uint8
	LengthSize           uint8
	FileConsistencyFlags uint8

	BaseAddress                uint64
	SuperblockExtensionAddress uint64
	EOFAddress                 uint64
	RootGroupAddress           uint64

	ByteOrder  binary.ByteOrder
	FileOffset int64 // where the signature was found
}

// NewSuperblock returns a version 3 superblock with 8-byte offsets and
// lengths.
func NewSuperblock() *Superblock {
	return &Superblock{Version: 3, OffsetSize: 8, LengthSize: 8, ByteOrder: binary.LittleEndian}
}

// Read locates the signature and parses the superblock behind it.
func Read(r io.ReaderAt) (*Superblock, error) {
	head := make([]byte, 12)
	for _, offset := range superblockOffsets {
		if _, err := r.ReadAt(head, offset); err != nil {
			if err == io.EOF {
				continue
			}
			return nil, err
		}
		if !bytes.Equal(head[:8], Signature) {
			continue
		}
		switch v := head[8]; v {
		case 0, 1:
			return parseLegacy(r, offset, v)
		case 2, 3:
			return parse(r, offset, head)
		}
		return nil, ErrUnsupportedVersion
	}
	return nil, ErrNotHDF5
}

func parse(r io.ReaderAt, offset int64, head []byte) (*Superblock, error) {
	sb := &Superblock{
		Version:              head[8],
		OffsetSize:           head[9],
		LengthSize:           head[10],
		FileConsistencyFlags: head[11],
		ByteOrder:            binary.LittleEndian,
		FileOffset:           offset,
	}
	osize := int(sb.OffsetSize)
	switch osize {
	case 2, 4, 8:
	default:
		return nil, ErrInvalidSuperblock
	}

	buf := make([]byte, sb.Size())
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	body := len(buf) - 4
	if binary.LittleEndian.Uint32(buf[body:]) != binpkg.Lookup3Checksum(buf[:body]) {
		return nil, ErrInvalidSuperblock
	}

	addr := func(i int) uint64 {
		return decodeUint(buf[12+i*osize:], osize)
	}
	sb.BaseAddress = addr(0)
	sb.SuperblockExtensionAddress = addr(1)
	sb.EOFAddress = addr(2)
	sb.RootGroupAddress = addr(3)
	return sb, nil
}

// ReaderConfig returns the binary reader settings this file needs.
func (sb *Superblock) ReaderConfig() binpkg.Config {
	order := sb.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	return binpkg.Config{
		ByteOrder:  order,
		OffsetSize: int(sb.OffsetSize),
		LengthSize: int(sb.LengthSize),
	}
}

// Size returns the encoded size in bytes.
func (sb *Superblock) Size() int {
	osize := int(sb.OffsetSize)
	if osize == 0 {
		osize = 8
	}
	return 12 + 4*osize + 4
}

// Write encodes the superblock at the writer's position and returns the
// number of bytes written. A zero extension address is written as undefined.
func (sb *Superblock) Write(w *binpkg.Writer) (int64, error) {
	osize := w.OffsetSize()
	buf := make([]byte, 12+4*osize+4)
	copy(buf, Signature)
	buf[8] = max(sb.Version, 2)
	buf[9] = sb.OffsetSize
	buf[10] = sb.LengthSize
	buf[11] = sb.FileConsistencyFlags

	ext := sb.SuperblockExtensionAddress
	if ext == 0 {
		ext = w.UndefinedOffset()
	}
	for i, a := range []uint64{sb.BaseAddress, ext, sb.EOFAddress, sb.RootGroupAddress} {
		putUint(buf[12+i*osize:], a, osize)
	}
	body := len(buf) - 4
	binary.LittleEndian.PutUint32(buf[body:], binpkg.Lookup3Checksum(buf[:body]))

	if err := w.WriteBytes(buf); err != nil {
		return 0, err
	}
	return int64(len(buf)), nil
}

func decodeUint(buf []byte, size int) uint64 {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func putUint(buf []byte, v uint64, size int) {
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
