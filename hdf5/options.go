package hdf5

import (
	"slices"

	"github.com/robert-malhotra/go-rtdc/internal/filter"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Unlimited marks a dimension that can grow without bound.
const Unlimited = message.Unlimited

// FileOption configures Create.
type FileOption func(*fileOptions)

type fileOptions struct {
	offsetSize, lengthSize int
}

func defaultFileOptions() *fileOptions {
	return &fileOptions{offsetSize: 8, lengthSize: 8}
}

func validWidth(n int) bool { return n == 2 || n == 4 || n == 8 }

// WithOffsetSize sets the width of file addresses. Widths other than 2, 4
// and 8 are ignored.
func WithOffsetSize(n int) FileOption {
	return func(o *fileOptions) {
		if validWidth(n) {
			o.offsetSize = n
		}
	}
}

// WithLengthSize sets the width of length fields, like WithOffsetSize.
func WithLengthSize(n int) FileOption {
	return func(o *fileOptions) {
		if validWidth(n) {
			o.lengthSize = n
		}
	}
}

// DatasetOption configures CreateDataset.
type DatasetOption func(*datasetOptions)

type namedValue struct {
	name  string
	value any
}

type datasetOptions struct {
	chunks, shape, maxDims []uint64

	deflate, zstd int
	lz4           bool
	shuffle       bool
	fletcher32    bool

	attributes []namedValue
}

func (o *datasetOptions) extensible() bool { return slices.Contains(o.maxDims, Unlimited) }

// pipeline orders the encoders shuffle, compressor, checksum. At most one
// compressor is used; deflate wins over zstd, zstd over lz4.
func (o *datasetOptions) pipeline(elemSize uint32) *filter.EncodePipeline {
	var enc []filter.Encoder
	if o.shuffle && elemSize > 1 {
		enc = append(enc, filter.NewShuffle([]uint32{elemSize}))
	}
	if o.deflate > 0 {
		enc = append(enc, filter.NewDeflate([]uint32{uint32(o.deflate)}))
	} else if o.zstd > 0 {
		enc = append(enc, filter.NewZstd([]uint32{uint32(o.zstd)}))
	} else if o.lz4 {
		enc = append(enc, filter.NewLZ4(nil))
	}
	if o.fletcher32 {
		enc = append(enc, filter.NewFletcher32(nil))
	}
	if len(enc) == 0 {
		return nil
	}
	return filter.NewEncodePipeline(enc...)
}

// WithChunks sets the chunk shape. Without it a chunked dataset gets a
// guessed shape.
func WithChunks(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) { o.chunks = dims }
}

// WithShape gives the dimensions of data passed as a flat slice.
func WithShape(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) { o.shape = dims }
}

// WithMaxDims makes the dataset resizable. A 0 or Unlimited entry may grow.
func WithMaxDims(dims ...uint64) DatasetOption {
	return func(o *datasetOptions) {
		o.maxDims = slices.Clone(dims)
		for i, d := range o.maxDims {
			if d == 0 {
				o.maxDims[i] = Unlimited
			}
		}
	}
}

// WithCompression enables deflate at level 1 through 9.
func WithCompression(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level >= 0 && level <= 9 {
			o.deflate = level
		}
	}
}

// WithZstd enables Zstandard at level 1 through 22.
func WithZstd(level int) DatasetOption {
	return func(o *datasetOptions) {
		if level > 0 && level <= 22 {
			o.zstd = level
		}
	}
}

func WithLZ4() DatasetOption        { return func(o *datasetOptions) { o.lz4 = true } }
func WithShuffle() DatasetOption    { return func(o *datasetOptions) { o.shuffle = true } }
func WithFletcher32() DatasetOption { return func(o *datasetOptions) { o.fletcher32 = true } }

// WithAttribute attaches an attribute when the dataset is created. It
// accepts the same values as Group.SetAttr.
func WithAttribute(name string, value any) DatasetOption {
	return func(o *datasetOptions) {
		o.attributes = append(o.attributes, namedValue{name, value})
	}
}
