package message

// LinkInfo marks a group that stores its links as link messages in the
// object header. The fractal heap and name index addresses are left
// undefined.
type LinkInfo struct{}

func (m *LinkInfo) Type() Type { return TypeLinkInfo }

func (m *LinkInfo) Encode(e *Encoder) {
	e.U8(0) // version
	e.U8(0) // no creation order tracking
	e.Undefined()
	e.Undefined()
}

func NewLinkInfo() *LinkInfo { return &LinkInfo{} }

// GroupInfo keeps the library defaults for link storage thresholds.
type GroupInfo struct{}

func (m *GroupInfo) Type() Type { return TypeGroupInfo }

func (m *GroupInfo) Encode(e *Encoder) {
	e.U8(0)
	e.U8(0)
}

func NewGroupInfo() *GroupInfo { return &GroupInfo{} }
