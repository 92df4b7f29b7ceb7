package gmasm

// Resolve is the final pass: it walks every block the locator reached, in
// the order it reached them, and patches each unresolved branch with its
// target's now-final address. Any qualified name that still fails to
// resolve here (a label that exists but was never reached by the locator,
// or one that never existed) is reported as an error rather than causing
// the whole pass to abort, so one bad branch doesn't hide the rest.
func (lk *Linker) Resolve() {
	for _, nb := range lk.nsBlocks {
		for _, insn := range nb.block.Insns {
			qlab, ok := insn.PendingBranchName()
			if !ok {
				continue
			}
			label, _, err := nb.ns.GetLabel(qlab, insn.Anchor)
			if err != nil {
				lk.addError(err)
				continue
			}
			if !label.IsResolved() {
				lk.addError(newError(insn.Anchor, "label '"+qlab+"' was never located"))
				continue
			}
			insn.SetBranch(label)
		}
	}
}
