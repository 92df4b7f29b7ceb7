package gmctl

import "github.com/USCRPL/GeckoMoped/gmasm"

// ToggleBreakpoint maps anchor to an address via a linear scan over the
// loaded ObjectCode (matching by file and line) and creates
// or removes a breakpoint at that address. Reports false if anchor does
// not correspond to any instruction in the current program.
func (c *Controller) ToggleBreakpoint(anchor gmasm.SourceAnchor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr, ok := c.addressForAnchorLocked(anchor)
	if !ok {
		return false
	}
	if _, exists := c.breakpoints[addr]; exists {
		delete(c.breakpoints, addr)
	} else {
		c.breakpoints[addr] = &gmasm.Breakpoint{Anchor: anchor, Address: addr}
	}
	return true
}

// Breakpoints returns every currently set breakpoint address, in no
// particular order.
func (c *Controller) Breakpoints() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint16, 0, len(c.breakpoints))
	for addr := range c.breakpoints {
		out = append(out, addr)
	}
	return out
}

func (c *Controller) addressForAnchorLocked(anchor gmasm.SourceAnchor) (uint16, bool) {
	file, line := anchor.File(), anchor.Line()
	for i, insn := range c.obj {
		if insn.Anchor.File() == file && insn.Anchor.Line() == line {
			return uint16(i), true
		}
	}
	return 0, false
}

// reprojectBreakpointsLocked re-maps every breakpoint's source anchor
// against the freshly loaded ObjectCode after a reassembly: breakpoints
// whose line still corresponds to an instruction get that instruction's
// new address; breakpoints whose line no longer maps to any instruction
// are dropped. Collapsing duplicate addresses falls out of the map key.
func (c *Controller) reprojectBreakpointsLocked() {
	next := make(map[uint16]*gmasm.Breakpoint, len(c.breakpoints))
	for _, bp := range c.breakpoints {
		addr, ok := c.addressForAnchorLocked(bp.Anchor)
		if !ok {
			continue
		}
		bp.Address = addr
		next[addr] = bp
	}
	c.breakpoints = next
}
