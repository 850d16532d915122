package superblock

import (
	"encoding/binary"
	"testing"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
)

// memFile is an in-memory io.ReaderAt and io.WriterAt.
type memFile []byte

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(*m) {
		grown := make([]byte, end)
		copy(grown, *m)
		*m = grown
	}
	copy((*m)[off:], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(*m)) {
		return 0, nil
	}
	return copy(p, (*m)[off:]), nil
}

func encode(t *testing.T, sb *Superblock, at int64) *memFile {
	t.Helper()
	f := make(memFile, 4096)
	w := binpkg.NewWriter(&f, binpkg.DefaultConfig()).At(at)
	n, err := sb.Write(w)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if int(n) != sb.Size() {
		t.Fatalf("wrote %d bytes, Size() = %d", n, sb.Size())
	}
	return &f
}

func TestRoundtrip(t *testing.T) {
	sb := NewSuperblock()
	sb.EOFAddress = 4096
	sb.RootGroupAddress = 48

	got, err := Read(encode(t, sb, 0))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Version != 3 || got.OffsetSize != 8 || got.LengthSize != 8 {
		t.Errorf("header = v%d offsets %d lengths %d", got.Version, got.OffsetSize, got.LengthSize)
	}
	if got.RootGroupAddress != 48 || got.EOFAddress != 4096 {
		t.Errorf("root %d eof %d", got.RootGroupAddress, got.EOFAddress)
	}
	if got.SuperblockExtensionAddress != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("extension address should be undefined, got %#x", got.SuperblockExtensionAddress)
	}
	if cfg := got.ReaderConfig(); cfg.OffsetSize != 8 || cfg.LengthSize != 8 || cfg.ByteOrder == nil {
		t.Errorf("ReaderConfig = %+v", cfg)
	}
}

func TestReadAtUserBlockOffset(t *testing.T) {
	sb := NewSuperblock()
	sb.RootGroupAddress = 600

	got, err := Read(encode(t, sb, 512))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.FileOffset != 512 || got.RootGroupAddress != 600 {
		t.Errorf("offset %d root %d", got.FileOffset, got.RootGroupAddress)
	}
}

func TestReadErrors(t *testing.T) {
	empty := make(memFile, 4096)
	if _, err := Read(&empty); err != ErrNotHDF5 {
		t.Errorf("expected ErrNotHDF5, got %v", err)
	}

	for _, v := range []byte{4, 99} {
		f := make(memFile, 256)
		copy(f, Signature)
		f[8] = v
		if _, err := Read(&f); err != ErrUnsupportedVersion {
			t.Errorf("version %d: expected ErrUnsupportedVersion, got %v", v, err)
		}
	}

	f := encode(t, NewSuperblock(), 0)
	(*f)[20] ^= 0xFF
	if _, err := Read(f); err != ErrInvalidSuperblock {
		t.Errorf("expected ErrInvalidSuperblock, got %v", err)
	}
}

func legacySuperblock(version uint8) memFile {
	f := make(memFile, 256)
	copy(f, Signature)
	f[8] = version
	f[13], f[14] = 8, 8
	binary.LittleEndian.PutUint16(f[16:], 4)
	binary.LittleEndian.PutUint16(f[18:], 16)
	pos := 24
	if version == 1 {
		binary.LittleEndian.PutUint16(f[24:], 32)
		pos += 4
	}
	binary.LittleEndian.PutUint64(f[pos+8:], ^uint64(0)) // free space
	binary.LittleEndian.PutUint64(f[pos+16:], 2048)      // end of file
	binary.LittleEndian.PutUint64(f[pos+24:], ^uint64(0)) // driver info
	binary.LittleEndian.PutUint64(f[pos+40:], 96)        // root header
	return f
}

func TestReadLegacy(t *testing.T) {
	for _, v := range []uint8{0, 1} {
		f := legacySuperblock(v)
		sb, err := Read(&f)
		if err != nil {
			t.Fatalf("version %d: %v", v, err)
		}
		if sb.Version != v || !sb.Legacy() {
			t.Errorf("version %d read as %d, legacy %v", v, sb.Version, sb.Legacy())
		}
		if sb.OffsetSize != 8 || sb.LengthSize != 8 {
			t.Errorf("version %d: offsets %d lengths %d", v, sb.OffsetSize, sb.LengthSize)
		}
		if sb.EOFAddress != 2048 || sb.RootGroupAddress != 96 {
			t.Errorf("version %d: eof %d root %d", v, sb.EOFAddress, sb.RootGroupAddress)
		}
	}

	f := legacySuperblock(0)
	f[13] = 3
	if _, err := Read(&f); err != ErrInvalidSuperblock {
		t.Errorf("expected ErrInvalidSuperblock for 3 byte offsets, got %v", err)
	}
	if NewSuperblock().Legacy() {
		t.Error("version 3 superblock reported as legacy")
	}
}
