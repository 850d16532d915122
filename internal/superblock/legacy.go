package superblock

import (
	"encoding/binary"
	"io"
)

/*
Version 0 and 1 superblocks, read only:

	8   1  version
	9   1  free-space storage version
	10  1  root group symbol table entry version
	11  1  reserved
	12  1  shared header message format version
	13  1  size of offsets
	14  1  size of lengths
	15  1  reserved
	16  2  group leaf node K
	18  2  group internal node K
	20  4  file consistency flags
	24  4  indexed storage K and reserved (version 1 only)
	    O  base address
	    O  free-space info address
	    O  end of file address
	    O  driver info block address
	       root group symbol table entry: name offset (O), header address (O), ...

No checksum is stored.
*/

func parseLegacy(r io.ReaderAt, offset int64, version uint8) (*Superblock, error) {
	head := make([]byte, 24)
	if _, err := r.ReadAt(head, offset); err != nil {
		return nil, err
	}
	sb := &Superblock{
		Version:              version,
		OffsetSize:           head[13],
		LengthSize:           head[14],
		FileConsistencyFlags: head[20],
		ByteOrder:            binary.LittleEndian,
		FileOffset:           offset,
	}
	osize := int(sb.OffsetSize)
	switch osize {
	case 2, 4, 8:
	default:
		return nil, ErrInvalidSuperblock
	}
	pos := offset + 24
	if version == 1 {
		pos += 4
	}
	buf := make([]byte, 6*osize)
	if _, err := r.ReadAt(buf, pos); err != nil {
		return nil, err
	}
	addr := func(i int) uint64 {
		return decodeUint(buf[i*osize:], osize)
	}
	sb.BaseAddress = addr(0)
	sb.EOFAddress = addr(2)
	sb.RootGroupAddress = addr(5)
	return sb, nil
}

// Legacy reports whether the superblock predates version 2. Such files
// are opened read only.
func (sb *Superblock) Legacy() bool { return sb.Version < 2 }
