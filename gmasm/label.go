package gmasm

// Label is an address-mark with an optional 16-bit code address: -1 until
// the locator pass assigns one. BlockIndex/BlockInsnIndex let the locator
// compute the final address as org + BlockInsnIndex without a second pass
// over the block's instruction list.
type Label struct {
	Anchor SourceAnchor

	Address        int32 // -1 until located
	BlockIndex     int
	BlockInsnIndex int
}

func newLabel(anchor SourceAnchor) *Label {
	return &Label{Anchor: anchor, Address: -1}
}

// IsResolved reports whether the locator has assigned this label an
// address.
func (l *Label) IsResolved() bool { return l.Address >= 0 }

// Breakpoint is an address-mark whose address is always set, bound to a
// SourceAnchor so it survives edits and can be readdressed after
// reassembly.
type Breakpoint struct {
	Anchor  SourceAnchor
	Address uint16
}
