// Package hdf5 reads and writes the subset of HDF5 used by RT-DC containers:
// v2 superblocks, link-message groups with hard links, and contiguous or
// chunked datasets carrying attributes and a filter pipeline. Files with a
// version 0 or 1 superblock, whose groups are symbol tables, open read
// only.
//
// A dataset header whose encoded size does not change is rewritten in
// place. Any other change stores a fresh object header and relinks it from
// the parent up to the root; the old header stays behind as dead space,
// reported by [File.SpaceStats] together with chunks that outgrew their
// slot.
package hdf5

import (
	"errors"

	"github.com/robert-malhotra/go-rtdc/internal/superblock"
)

var (
	ErrNotHDF5      = superblock.ErrNotHDF5
	ErrNotFound     = errors.New("object not found")
	ErrNotDataset   = errors.New("object is not a dataset")
	ErrNotGroup     = errors.New("object is not a group")
	ErrUnsupported  = errors.New("unsupported feature")
	ErrInvalidPath  = errors.New("invalid path")
	ErrClosed       = errors.New("file is closed")
	ErrNotWritable  = errors.New("file is not writable")
	ErrNotResizable = errors.New("dataset is not resizable")
	ErrExists       = errors.New("object already exists")
)
