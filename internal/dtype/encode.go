package dtype

import (
	"fmt"
	"math"
	"reflect"

	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// For returns the datatype written for Go values of type t, or of t's
// element type when t is a slice or array. offsetSize is the address width
// of the file, which sizes variable-length string references.
func For(t reflect.Type, offsetSize int) (*message.Datatype, error) {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Uint8:
		return message.NewFixedPointDatatype(1, false, message.OrderLE), nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return message.NewFixedPointDatatype(uint32(t.Size()), true, message.OrderLE), nil
	case reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return message.NewFixedPointDatatype(uint32(t.Size()), false, message.OrderLE), nil
	case reflect.Float32, reflect.Float64:
		return message.NewFloatDatatype(uint32(t.Size()), message.OrderLE), nil
	case reflect.String:
		return message.NewVarLenStringDatatype(message.CharsetUTF8, offsetSize), nil
	}
	return nil, fmt.Errorf("%w: Go type %v", ErrUnsupported, t)
}

// Encode converts src, a scalar or a slice, to raw bytes of type dt.
// Variable-length strings are not handled here.
func Encode(dt *message.Datatype, src any) ([]byte, error) {
	v := reflect.ValueOf(src)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		one := reflect.MakeSlice(reflect.SliceOf(v.Type()), 1, 1)
		one.Index(0).Set(v)
		v = one
	}

	size := int(dt.Size)
	out := make([]byte, v.Len()*size)
	for i := 0; i < v.Len(); i++ {
		dst := out[i*size : (i+1)*size]
		elem := v.Index(i)
		switch dt.Class {
		case message.ClassString:
			if elem.Kind() != reflect.String {
				return nil, fmt.Errorf("cannot write %v as a string", elem.Type())
			}
			copy(dst, elem.String())
		case message.ClassFixedPoint, message.ClassFloatPoint:
			bits, err := numberBits(dt, elem)
			if err != nil {
				return nil, err
			}
			store(dst, bits, dt.ByteOrder)
		default:
			return nil, fmt.Errorf("%w for writing: %s", ErrUnsupported, dt.Class)
		}
	}
	return out, nil
}

func numberBits(dt *message.Datatype, v reflect.Value) (uint64, error) {
	var f float64
	var i int64
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			i = 1
		}
		f = float64(i)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i = v.Int()
		f = float64(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i = int64(v.Uint())
		f = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		if dt.Class == message.ClassFixedPoint {
			return 0, fmt.Errorf("cannot write %v as an integer", v.Type())
		}
		f = v.Float()
	default:
		return 0, fmt.Errorf("cannot write %v as a number", v.Type())
	}

	switch {
	case dt.Class == message.ClassFixedPoint:
		return uint64(i), nil
	case dt.Size == 4:
		return uint64(math.Float32bits(float32(f))), nil
	}
	return math.Float64bits(f), nil
}

// store writes the low len(b) bytes of v.
func store(b []byte, v uint64, order message.ByteOrder) {
	for i := range b {
		j := i
		if order == message.OrderBE {
			j = len(b) - 1 - i
		}
		b[j] = byte(v >> (8 * i))
	}
}
