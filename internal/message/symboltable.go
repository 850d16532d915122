package message

// SymbolTable locates the members of a group stored the old way: a
// version 1 B-tree of symbol table nodes whose names live in a local heap.
type SymbolTable struct {
	BTreeAddress     uint64
	LocalHeapAddress uint64
}

func (m *SymbolTable) Type() Type { return TypeSymbolTable }

func (d *decoder) symbolTable() *SymbolTable {
	return &SymbolTable{BTreeAddress: d.offset(), LocalHeapAddress: d.offset()}
}

func (m *SymbolTable) Encode(e *Encoder) {
	e.Offset(m.BTreeAddress)
	e.Offset(m.LocalHeapAddress)
}
