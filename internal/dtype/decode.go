package dtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	binpkg "github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/heap"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// ErrUnsupported is returned for datatypes outside the supported set.
var ErrUnsupported = errors.New("unsupported datatype")

// Decode converts n elements of raw into dest, a pointer to a slice. r is
// used to resolve variable-length strings and may be nil otherwise.
func Decode(dt *message.Datatype, raw []byte, n uint64, dest any, r *binpkg.Reader) error {
	size := uint64(dt.Size)
	if uint64(len(raw)) < n*size {
		return fmt.Errorf("%d bytes hold fewer than %d elements of %d bytes", len(raw), n, size)
	}
	raw = raw[:n*size]

	// Fast paths for feature columns and image frames.
	switch d := dest.(type) {
	case *[]float64:
		if dt.Class == message.ClassFloatPoint && size == 8 && dt.ByteOrder == message.OrderLE {
			out := make([]float64, n)
			for i := range out {
				out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
			}
			*d = out
			return nil
		}
	case *[]uint8:
		if dt.Class == message.ClassFixedPoint && size == 1 {
			*d = append([]uint8(nil), raw...)
			return nil
		}
	case *[]string:
		if !dt.IsString() {
			return fmt.Errorf("cannot read %s data into strings", dt.Class)
		}
		s, err := decodeStrings(dt, raw, n, r)
		*d = s
		return err
	}

	ptr := reflect.ValueOf(dest)
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("destination must be a pointer to a slice, got %T", dest)
	}
	if dt.Class != message.ClassFixedPoint && dt.Class != message.ClassFloatPoint {
		return fmt.Errorf("%w: %s", ErrUnsupported, dt.Class)
	}
	if size != 1 && size != 2 && size != 4 && size != 8 {
		return fmt.Errorf("%w: %d byte %s", ErrUnsupported, size, dt.Class)
	}

	out := reflect.MakeSlice(ptr.Elem().Type(), int(n), int(n))
	kind := out.Type().Elem().Kind()
	isFloat := dt.Class == message.ClassFloatPoint
	for i := 0; i < int(n); i++ {
		bits := load(raw[uint64(i)*size:], int(size), dt.ByteOrder)
		elem := out.Index(i)
		switch kind {
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(toFloat(dt, bits))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if isFloat {
				return fmt.Errorf("cannot read float data into %v", out.Type())
			}
			elem.SetInt(toInt(dt, bits))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if isFloat {
				return fmt.Errorf("cannot read float data into %v", out.Type())
			}
			elem.SetUint(uint64(toInt(dt, bits)))
		default:
			return fmt.Errorf("cannot read %s data into %v", dt.Class, out.Type())
		}
	}
	ptr.Elem().Set(out)
	return nil
}

// load reads a size byte unsigned integer.
func load(b []byte, size int, order message.ByteOrder) uint64 {
	var v uint64
	for i := range size {
		j := i
		if order == message.OrderLE {
			j = size - 1 - i
		}
		v = v<<8 | uint64(b[j])
	}
	return v
}

func toFloat(dt *message.Datatype, bits uint64) float64 {
	switch {
	case dt.Class == message.ClassFixedPoint && dt.Signed:
		return float64(toInt(dt, bits))
	case dt.Class == message.ClassFixedPoint:
		return float64(bits)
	case dt.Size == 4:
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

// toInt sign-extends signed values.
func toInt(dt *message.Datatype, bits uint64) int64 {
	if !dt.Signed {
		return int64(bits)
	}
	shift := 64 - 8*dt.Size
	return int64(bits<<shift) >> shift
}

func decodeStrings(dt *message.Datatype, raw []byte, n uint64, r *binpkg.Reader) ([]string, error) {
	out := make([]string, n)
	size := int(dt.Size)
	if dt.Class == message.ClassString {
		for i := range out {
			out[i] = trim(raw[i*size:(i+1)*size], dt.Padding)
		}
		return out, nil
	}

	if r == nil {
		return nil, fmt.Errorf("variable-length strings need a file reader")
	}
	offsetSize := r.OffsetSize()
	collections := make(map[uint64]*heap.GlobalHeap)
	for i := range out {
		// length(4) | collection address | object index(4)
		id, err := heap.ParseGlobalHeapID(raw[i*size+4:(i+1)*size], offsetSize)
		if err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
		if id.CollectionAddress == 0 || r.IsUndefinedOffset(id.CollectionAddress) {
			continue
		}
		gh, ok := collections[id.CollectionAddress]
		if !ok {
			if gh, err = heap.ReadGlobalHeap(r, id.CollectionAddress); err != nil {
				return nil, fmt.Errorf("string %d: %w", i, err)
			}
			collections[id.CollectionAddress] = gh
		}
		if out[i], err = gh.GetString(uint16(id.ObjectIndex)); err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
	}
	return out, nil
}

func trim(b []byte, pad message.StringPadding) string {
	if pad == message.PadSpacePad {
		return strings.TrimRight(string(b), " ")
	}
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
