// Package message decodes and encodes the object header messages an RT-DC
// container is made of: dataspaces, datatypes, layouts, filter pipelines,
// attributes and links.
//
// Messages without a decoder here come back as [Unknown] and are carried
// through header rewrites unchanged. Only messages implementing [Encodable]
// can be written.
package message

import (
	"fmt"

	"github.com/robert-malhotra/go-rtdc/internal/binary"
)

// Type is a header message type number.
type Type uint16

const (
	TypeNIL                      Type = 0x00
	TypeDataspace                Type = 0x01
	TypeLinkInfo                 Type = 0x02
	TypeDatatype                 Type = 0x03
	TypeFillValue                Type = 0x05
	TypeLink                     Type = 0x06
	TypeDataLayout               Type = 0x08
	TypeGroupInfo                Type = 0x0A
	TypeFilterPipeline           Type = 0x0B
	TypeAttribute                Type = 0x0C
	TypeObjectModTime            Type = 0x0E
	TypeObjectHeaderContinuation Type = 0x10
	TypeSymbolTable              Type = 0x11
	TypeAttributeInfo            Type = 0x15
)

// flagShared marks a message body that is a reference into the shared
// message table.
const flagShared = 0x02

// Message is a decoded header message.
type Message interface {
	Type() Type
}

// Parse decodes one message body. r supplies the address and length
// widths of the file.
func Parse(typ Type, data []byte, flags uint8, r *binary.Reader) (Message, error) {
	if flags&flagShared != 0 && typ != TypeNIL {
		return nil, fmt.Errorf("shared %s message is not supported", typ)
	}
	d := newDecoder(data, r)
	var m Message
	switch typ {
	case TypeDataspace:
		m = d.dataspace()
	case TypeDatatype:
		m = d.datatype()
	case TypeDataLayout:
		m = d.layout()
	case TypeFilterPipeline:
		m = d.filterPipeline()
	case TypeAttribute:
		m = d.attribute()
	case TypeLink:
		m = d.link()
	case TypeObjectHeaderContinuation:
		m = &Continuation{Offset: d.offset(), Length: d.length()}
	case TypeSymbolTable:
		m = d.symbolTable()
	default:
		return &Unknown{typ: typ, data: data}, nil
	}
	if d.err != nil {
		return nil, fmt.Errorf("%s message: %w", typ, d.err)
	}
	return m, nil
}

func (t Type) String() string {
	switch t {
	case TypeDataspace:
		return "dataspace"
	case TypeDatatype:
		return "datatype"
	case TypeDataLayout:
		return "layout"
	case TypeFilterPipeline:
		return "filter pipeline"
	case TypeAttribute:
		return "attribute"
	case TypeLink:
		return "link"
	case TypeObjectHeaderContinuation:
		return "continuation"
	case TypeSymbolTable:
		return "symbol table"
	}
	return fmt.Sprintf("type 0x%02x", uint16(t))
}

// Unknown keeps the raw body of a message this package does not decode.
type Unknown struct {
	typ  Type
	data []byte
}

func (m *Unknown) Type() Type   { return m.typ }
func (m *Unknown) Data() []byte { return m.data }

// Encode copies the body through unchanged.
func (m *Unknown) Encode(e *Encoder) { e.Bytes(m.data) }

// Continuation points at the next block of header messages.
type Continuation struct {
	Offset uint64
	Length uint64
}

func (m *Continuation) Type() Type { return TypeObjectHeaderContinuation }
