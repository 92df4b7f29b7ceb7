package gmasm

// CodeBlock is an ordered list of Instructions plus the Labels defined
// within it. A block terminates implicitly at the instruction after the
// last IsEndOfBlock instruction (unconditional GOTO or RETURN), so any
// instruction following it in the source is unreachable unless some other
// block branches to a label at its head.
type CodeBlock struct {
	Insns  []*Instruction
	Labels []*Label

	org int32 // -1 until located
}

func newCodeBlock() *CodeBlock {
	return &CodeBlock{org: -1}
}

// IsLocated reports whether the locator has assigned this block an org.
func (b *CodeBlock) IsLocated() bool { return b.org >= 0 }

// Org returns the block's base address, valid only once located.
func (b *CodeBlock) Org() int32 { return b.org }

// AppendInsn adds an instruction to the block.
func (b *CodeBlock) AppendInsn(insn *Instruction) {
	b.Insns = append(b.Insns, insn)
}

// AppendLabel adds a label defined at the current tail of the block.
func (b *CodeBlock) AppendLabel(l *Label) {
	l.BlockInsnIndex = len(b.Insns)
	b.Labels = append(b.Labels, l)
}

// Locate assigns org to this block and stamps addresses onto every label
// and instruction it contains. Returns a size-exceeded error if the block
// would straddle the 64k instruction boundary.
func (b *CodeBlock) Locate(org int32) error {
	b.org = org
	for _, l := range b.Labels {
		l.Address = org + int32(l.BlockInsnIndex)
	}
	for a, insn := range b.Insns {
		insn.Address = org + int32(a)
	}
	if org < 0x10000 && b.NextOrg() >= 0x10000 {
		overflowIdx := 0x10000 - int(org)
		var at SourceAnchor
		if overflowIdx >= 0 && overflowIdx < len(b.Insns) {
			at = b.Insns[overflowIdx].Anchor
		} else if len(b.Insns) > 0 {
			at = b.Insns[len(b.Insns)-1].Anchor
		}
		return newError(at, "program size exceeds available memory (64k instructions)")
	}
	return nil
}

// NextOrg returns the address immediately after this (located) block.
func (b *CodeBlock) NextOrg() int32 {
	return b.org + int32(len(b.Insns))
}
