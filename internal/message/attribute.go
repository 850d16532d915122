package message

// Attribute is a named value attached to a group or dataset.
type Attribute struct {
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

func (m *Attribute) Type() Type { return TypeAttribute }

func NewAttribute(name string, dt *Datatype, ds *Dataspace, data []byte) *Attribute {
	return &Attribute{Name: name, Datatype: dt, Dataspace: ds, Data: data}
}

func (d *decoder) attribute() *Attribute {
	version := d.u8()
	flags := d.u8()
	nameSize := int(d.u16())
	typeSize := int(d.u16())
	spaceSize := int(d.u16())

	pad := func(n int) int { return n }
	switch version {
	case 1:
		pad = func(n int) int { return (n + 7) &^ 7 }
	case 2:
	case 3:
		d.skip(1) // name encoding
	default:
		d.failf("version %d", version)
		return nil
	}
	if flags&0x03 != 0 {
		d.failf("shared attribute datatype or dataspace")
		return nil
	}

	a := &Attribute{Name: d.name(pad(nameSize))}
	body := newDecoder(d.take(pad(typeSize)), d.r)
	a.Datatype = body.datatype()
	space := newDecoder(d.take(pad(spaceSize)), d.r)
	a.Dataspace = space.dataspace()
	for _, err := range []error{body.err, space.err} {
		if err != nil && d.err == nil {
			d.err = err
		}
	}
	if d.err != nil {
		return a
	}

	data := d.rest()
	if n := a.Dataspace.NumElements() * uint64(a.Datatype.Size); uint64(len(data)) > n {
		data = data[:n]
	}
	a.Data = append([]byte(nil), data...)
	return a
}

// Encode writes a version 3 attribute message with a UTF-8 name.
func (m *Attribute) Encode(e *Encoder) {
	dt := NewEncoder(e.offsetSize, e.lengthSize)
	m.Datatype.Encode(dt)
	ds := NewEncoder(e.offsetSize, e.lengthSize)
	m.Dataspace.Encode(ds)

	e.U8(3)
	e.U8(0)
	e.U16(uint16(len(m.Name) + 1))
	e.U16(uint16(dt.Len()))
	e.U16(uint16(ds.Len()))
	e.U8(uint8(CharsetUTF8))
	e.Bytes([]byte(m.Name))
	e.U8(0)
	e.Bytes(dt.Data())
	e.Bytes(ds.Data())
	e.Bytes(m.Data)
}
