package gmasm

// Linker carries the state threaded through the locate and resolve passes:
// the next free program address, the flat object-code vector built up in
// location order, and the (namespace, block) pairs that vector was built
// from so resolve can revisit them without re-walking the scan tree.
type Linker struct {
	Org int32
	Obj []*Instruction

	nsBlocks []linkedBlock
	Errors   []error
}

type linkedBlock struct {
	ns    *Namespace
	block *CodeBlock
}

// NewLinker returns a Linker ready to begin locating at address 0.
func NewLinker() *Linker {
	return &Linker{}
}

func (lk *Linker) addError(err error) {
	lk.Errors = append(lk.Errors, err)
}

// Locate is the recursive-on-demand locator. Call it once with the root
// namespace and block index 0; it assigns org to that block, appends its
// instructions to Obj, then recurses into every not-yet-located block
// reachable by a branch out of the block it just located. Blocks never
// reached this way are left unlocated -- dead-code elimination at block
// granularity, since their instructions never enter Obj.
func (lk *Linker) Locate(ns *Namespace, bi int) {
	block := ns.GetBlock(bi)
	if block.IsLocated() {
		return
	}
	if err := block.Locate(lk.Org); err != nil {
		lk.addError(err)
	}
	lk.Org = block.NextOrg()

	lk.Obj = append(lk.Obj, block.Insns...)
	lk.nsBlocks = append(lk.nsBlocks, linkedBlock{ns: ns, block: block})

	type target struct {
		label *Label
		ns    *Namespace
	}
	var pending []target
	for _, insn := range block.Insns {
		qlab, ok := insn.PendingBranchName()
		if !ok {
			continue
		}
		label, labns, err := ns.GetLabel(qlab, insn.Anchor)
		if err != nil {
			// Missing labels are reported once, during Resolve.
			continue
		}
		if !label.IsResolved() {
			pending = append(pending, target{label: label, ns: labns})
		}
	}
	for _, t := range pending {
		lk.Locate(t.ns, t.label.BlockIndex)
	}
}
