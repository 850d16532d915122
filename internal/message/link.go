package message

type LinkType uint8

const (
	LinkHard     LinkType = 0
	LinkSoft     LinkType = 1
	LinkExternal LinkType = 64
)

// Link names a child object of a group. Only hard links carry an
// address; the target of other link types is kept raw.
type Link struct {
	LinkType      LinkType
	Name          string
	CharSet       CharacterSet
	CreationOrder int64
	ObjectAddress uint64
	Target        []byte
}

func (m *Link) Type() Type   { return TypeLink }
func (m *Link) IsHard() bool { return m.LinkType == LinkHard }

func NewHardLink(name string, addr uint64) *Link {
	return &Link{LinkType: LinkHard, Name: name, CharSet: CharsetUTF8, ObjectAddress: addr}
}

const (
	linkHasOrder   = 0x04
	linkHasType    = 0x08
	linkHasCharset = 0x10
)

func (d *decoder) link() *Link {
	if v := d.u8(); v != 1 {
		d.failf("version %d", v)
		return nil
	}
	flags := d.u8()
	l := &Link{}
	if flags&linkHasType != 0 {
		l.LinkType = LinkType(d.u8())
	}
	if flags&linkHasOrder != 0 {
		l.CreationOrder = int64(d.uintN(8))
	}
	if flags&linkHasCharset != 0 {
		l.CharSet = CharacterSet(d.u8())
	}
	l.Name = d.name(int(d.uintN(1 << (flags & 0x03))))
	if l.IsHard() {
		l.ObjectAddress = d.offset()
	} else {
		l.Target = d.copyBytes(int(d.u16()))
	}
	return l
}

// Encode writes a link without creation order.
func (m *Link) Encode(e *Encoder) {
	width := widthFor(uint64(len(m.Name)))
	flags := uint8(0)
	for w := width; w > 1; w >>= 1 {
		flags++
	}
	if !m.IsHard() {
		flags |= linkHasType
	}
	if m.CharSet != CharsetASCII {
		flags |= linkHasCharset
	}
	e.U8(1)
	e.U8(flags)
	if !m.IsHard() {
		e.U8(uint8(m.LinkType))
	}
	if m.CharSet != CharsetASCII {
		e.U8(uint8(m.CharSet))
	}
	e.UintN(uint64(len(m.Name)), width)
	e.Bytes([]byte(m.Name))
	if m.IsHard() {
		e.Offset(m.ObjectAddress)
		return
	}
	e.U16(uint16(len(m.Target)))
	e.Bytes(m.Target)
}
