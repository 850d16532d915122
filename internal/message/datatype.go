package message

import "fmt"

// DatatypeClass is the class nibble of a datatype message.
type DatatypeClass uint8

const (
	ClassFixedPoint DatatypeClass = 0
	ClassFloatPoint DatatypeClass = 1
	ClassTime       DatatypeClass = 2
	ClassString     DatatypeClass = 3
	ClassBitfield   DatatypeClass = 4
	ClassOpaque     DatatypeClass = 5
	ClassCompound   DatatypeClass = 6
	ClassReference  DatatypeClass = 7
	ClassEnum       DatatypeClass = 8
	ClassVarLen     DatatypeClass = 9
	ClassArray      DatatypeClass = 10
)

var classNames = [...]string{
	"integer", "float", "time", "string", "bitfield", "opaque",
	"compound", "reference", "enum", "variable-length", "array",
}

func (c DatatypeClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class %d", uint8(c))
}

type ByteOrder uint8

const (
	OrderLE ByteOrder = 0
	OrderBE ByteOrder = 1
)

type StringPadding uint8

const (
	PadNullTerm StringPadding = 0
	PadNullPad  StringPadding = 1
	PadSpacePad StringPadding = 2
)

type CharacterSet uint8

const (
	CharsetASCII CharacterSet = 0
	CharsetUTF8  CharacterSet = 1
)

// Datatype describes one element. Integers, IEEE floats, fixed-length
// strings and variable-length strings are decoded in full. Other classes
// keep only Class and Size.
type Datatype struct {
	Class     DatatypeClass
	Size      uint32
	ByteOrder ByteOrder
	Signed    bool

	// Strings, fixed or variable-length.
	Padding StringPadding
	CharSet CharacterSet

	// VarLenString distinguishes vlen strings from vlen sequences. Base is
	// the element type of either.
	VarLenString bool
	Base         *Datatype
}

func (m *Datatype) Type() Type { return TypeDatatype }

// IsString reports fixed and variable-length strings.
func (m *Datatype) IsString() bool {
	return m.Class == ClassString || (m.Class == ClassVarLen && m.VarLenString)
}

func (d *decoder) datatype() *Datatype {
	head := d.u8()
	bits := uint32(d.uintN(3))
	dt := &Datatype{Class: DatatypeClass(head & 0x0F), Size: d.u32()}

	switch dt.Class {
	case ClassFixedPoint:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		dt.Signed = bits&0x08 != 0
		d.skip(4)
	case ClassFloatPoint:
		dt.ByteOrder = ByteOrder(bits & 0x01)
		d.skip(12)
	case ClassString:
		dt.Padding = StringPadding(bits & 0x0F)
		dt.CharSet = CharacterSet(bits >> 4 & 0x0F)
	case ClassVarLen:
		dt.VarLenString = bits&0x0F == 1
		dt.Padding = StringPadding(bits >> 4 & 0x0F)
		dt.CharSet = CharacterSet(bits >> 8 & 0x0F)
		dt.Base = d.datatype()
	default:
		// Properties of other classes are variable; nothing after them in
		// a datatype message needs them.
		d.rest()
	}
	return dt
}

// Encode writes a version 1 datatype message.
func (m *Datatype) Encode(e *Encoder) {
	var bits uint32
	switch m.Class {
	case ClassFixedPoint:
		bits = uint32(m.ByteOrder)
		if m.Signed {
			bits |= 0x08
		}
	case ClassFloatPoint:
		// Implied leading mantissa bit, sign in the top bit.
		bits = uint32(m.ByteOrder) | 0x20 | (8*m.Size-1)<<8
	case ClassString:
		bits = uint32(m.Padding) | uint32(m.CharSet)<<4
	case ClassVarLen:
		if m.VarLenString {
			bits = 1
		}
		bits |= uint32(m.Padding)<<4 | uint32(m.CharSet)<<8
	}
	e.U8(uint8(m.Class) | 1<<4)
	e.UintN(uint64(bits), 3)
	e.U32(m.Size)

	switch m.Class {
	case ClassFixedPoint:
		e.U16(0)
		e.U16(uint16(8 * m.Size))
	case ClassFloatPoint:
		e.U16(0)
		e.U16(uint16(8 * m.Size))
		if m.Size == 4 {
			e.Bytes([]byte{23, 8, 0, 23})
			e.U32(127)
		} else {
			e.Bytes([]byte{52, 11, 0, 52})
			e.U32(1023)
		}
	case ClassVarLen:
		m.Base.Encode(e)
	}
}

func NewFixedPointDatatype(size uint32, signed bool, order ByteOrder) *Datatype {
	return &Datatype{Class: ClassFixedPoint, Size: size, Signed: signed, ByteOrder: order}
}

// NewFloatDatatype returns an IEEE 754 binary32 or binary64 type.
func NewFloatDatatype(size uint32, order ByteOrder) *Datatype {
	return &Datatype{Class: ClassFloatPoint, Size: size, ByteOrder: order}
}

func NewStringDatatype(size uint32, padding StringPadding, charset CharacterSet) *Datatype {
	return &Datatype{Class: ClassString, Size: size, Padding: padding, CharSet: charset}
}

// NewVarLenStringDatatype returns a variable-length string type. Its Size
// is the width of a heap reference: 4 + offsetSize + 4.
func NewVarLenStringDatatype(charset CharacterSet, offsetSize int) *Datatype {
	return &Datatype{
		Class:        ClassVarLen,
		Size:         uint32(8 + offsetSize),
		VarLenString: true,
		CharSet:      charset,
		Base:         &Datatype{Class: ClassFixedPoint, Size: 1, ByteOrder: OrderLE},
	}
}
