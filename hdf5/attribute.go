package hdf5

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
	"github.com/robert-malhotra/go-rtdc/internal/dtype"
	"github.com/robert-malhotra/go-rtdc/internal/message"
)

// Attribute is a named value attached to a group or dataset.
type Attribute struct {
	msg    *message.Attribute
	reader *binary.Reader
}

func (a *Attribute) Name() string { return a.msg.Name }

// Shape is nil for a scalar attribute.
func (a *Attribute) Shape() []uint64 {
	if a.msg.Dataspace.IsScalar() {
		return nil
	}
	return a.msg.Dataspace.Dimensions
}

// Read decodes the attribute into dest, a pointer to a slice.
func (a *Attribute) Read(dest any) error {
	return dtype.Decode(a.msg.Datatype, a.msg.Data, a.msg.Dataspace.NumElements(), dest, a.reader)
}

// Value decodes the attribute into int64, uint64, float64 or string, or a
// slice of one of those when the attribute is not scalar.
func (a *Attribute) Value() (any, error) {
	dt := a.msg.Datatype
	var dest any
	switch {
	case dt.IsString():
		dest = new([]string)
	case dt.Class == message.ClassFixedPoint && dt.Signed:
		dest = new([]int64)
	case dt.Class == message.ClassFixedPoint:
		dest = new([]uint64)
	case dt.Class == message.ClassFloatPoint:
		dest = new([]float64)
	default:
		return nil, fmt.Errorf("attribute %q: %w: %s", a.msg.Name, ErrUnsupported, dt.Class)
	}
	if err := a.Read(dest); err != nil {
		return nil, fmt.Errorf("attribute %q: %w", a.msg.Name, err)
	}
	v := reflect.ValueOf(dest).Elem()
	if a.msg.Dataspace.IsScalar() && v.Len() == 1 {
		return v.Index(0).Interface(), nil
	}
	return v.Interface(), nil
}

// attrSet is the attribute list of one object header.
type attrSet []*message.Attribute

func (s attrSet) names() []string {
	names := make([]string, len(s))
	for i, a := range s {
		names[i] = a.Name
	}
	return names
}

func (s attrSet) get(name string, r *binary.Reader) *Attribute {
	for _, a := range s {
		if a.Name == name {
			return &Attribute{msg: a, reader: r}
		}
	}
	return nil
}

// set replaces the attribute of the same name or appends msg.
func (s attrSet) set(msg *message.Attribute) attrSet {
	i := slices.IndexFunc(s, func(a *message.Attribute) bool { return a.Name == msg.Name })
	if i < 0 {
		return append(s, msg)
	}
	s[i] = msg
	return s
}

// newAttribute encodes value as an attribute. Strings are stored as
// null-terminated fixed-length UTF-8, bools as uint8.
func newAttribute(name string, value any) (*message.Attribute, error) {
	if name == "" {
		return nil, fmt.Errorf("attribute name cannot be empty")
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, fmt.Errorf("attribute %q has no value", name)
	}

	space := message.NewScalarDataspace()
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if v.Len() == 0 {
			return nil, fmt.Errorf("attribute %q is an empty list", name)
		}
		space = message.NewDataspace([]uint64{uint64(v.Len())}, nil)
	}

	elem := v.Type()
	if !space.IsScalar() {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.String {
		return stringAttribute(name, v, space), nil
	}

	dt, err := dtype.For(elem, 8)
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	data, err := dtype.Encode(dt, v.Interface())
	if err != nil {
		return nil, fmt.Errorf("attribute %q: %w", name, err)
	}
	return message.NewAttribute(name, dt, space, data), nil
}

func stringAttribute(name string, v reflect.Value, space *message.Dataspace) *message.Attribute {
	var values []string
	if v.Kind() == reflect.String {
		values = []string{v.String()}
	} else {
		for i := 0; i < v.Len(); i++ {
			values = append(values, v.Index(i).String())
		}
	}
	size := 1
	for _, s := range values {
		size = max(size, len(s)+1)
	}
	data := make([]byte, len(values)*size)
	for i, s := range values {
		copy(data[i*size:], s)
	}
	dt := message.NewStringDatatype(uint32(size), message.PadNullTerm, message.CharsetUTF8)
	return message.NewAttribute(name, dt, space, data)
}
