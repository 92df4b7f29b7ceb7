package gmasm

import "fmt"

// Namespace is a per-source-file scope: a name->Label map, a name->Namespace
// map for `as`-aliased imports, and the ordered list of CodeBlocks scanned
// from that file. The anonymous root namespace corresponds to the
// top-level file and contains an injected "<boot>" label at address 0.
type Namespace struct {
	Anchor   SourceAnchor
	Filename string

	labels     map[string]*Label
	namespaces map[string]*Namespace
	Blocks     []*CodeBlock
	cblock     int
}

func newNamespace(anchor SourceAnchor, filename string) *Namespace {
	ns := &Namespace{
		Anchor:     anchor,
		Filename:   filename,
		labels:     make(map[string]*Label),
		namespaces: make(map[string]*Namespace),
	}
	ns.Blocks = append(ns.Blocks, newCodeBlock())
	return ns
}

// AddLabel binds name (unqualified) to label within this namespace.
// Duplicate names are a semantic error carrying both the new and the
// original definition site.
func (ns *Namespace) AddLabel(name string, l *Label) error {
	if existing, ok := ns.labels[name]; ok {
		return newError(l.Anchor, fmt.Sprintf("duplicate label '%s'", name),
			SecondaryNote{At: existing.Anchor, Msg: "first defined here"})
	}
	ns.labels[name] = l
	l.BlockIndex = ns.cblock
	ns.Blocks[ns.cblock].AppendLabel(l)
	return nil
}

// AddNamespace binds nsname (an `as` alias) to a subnamespace. Duplicate
// aliases are a semantic error.
func (ns *Namespace) AddNamespace(nsname string, sub *Namespace) error {
	if existing, ok := ns.namespaces[nsname]; ok {
		return newError(sub.Anchor, fmt.Sprintf("duplicate namespace '%s'", nsname),
			SecondaryNote{At: existing.Anchor, Msg: "first defined here"})
	}
	ns.namespaces[nsname] = sub
	return nil
}

// HasNamespace reports whether nsname is already bound (used by the
// assembler's import to detect an `as` alias that is already taken).
func (ns *Namespace) HasNamespace(nsname string) bool {
	_, ok := ns.namespaces[nsname]
	return ok
}

// AddInsn appends insn to the namespace's current block, starting a new
// block immediately after if insn ends the current one.
func (ns *Namespace) AddInsn(insn *Instruction) {
	ns.Blocks[ns.cblock].AppendInsn(insn)
	if insn.IsEndOfBlock() {
		ns.newBlock()
	}
}

func (ns *Namespace) newBlock() {
	ns.cblock = len(ns.Blocks)
	ns.Blocks = append(ns.Blocks, newCodeBlock())
}

// GetBlock returns the block at the given index.
func (ns *Namespace) GetBlock(index int) *CodeBlock { return ns.Blocks[index] }

// GetLabel resolves a (possibly dot-qualified) label name, recursing into
// subnamespaces for each leading qualifier. forInsn supplies the anchor
// used in error messages when the lookup fails.
func (ns *Namespace) GetLabel(qualifiedName string, forInsn SourceAnchor) (*Label, *Namespace, error) {
	name := qualifiedName
	cur := ns
	for {
		dot := indexOfDot(name)
		if dot < 0 {
			break
		}
		head, rest := trimDotParts(name, dot)
		sub, err := cur.GetNamespace(head, forInsn)
		if err != nil {
			return nil, nil, err
		}
		cur = sub
		name = rest
	}
	if l, ok := cur.labels[name]; ok {
		return l, cur, nil
	}
	return nil, nil, newError(forInsn, fmt.Sprintf("could not find label '%s'", qualifiedName))
}

// GetNamespace looks up an (unqualified) subnamespace by its `as` alias.
func (ns *Namespace) GetNamespace(nsname string, forInsn SourceAnchor) (*Namespace, error) {
	if sub, ok := ns.namespaces[nsname]; ok {
		return sub, nil
	}
	return nil, newError(forInsn, fmt.Sprintf("could not find namespace '%s'", nsname))
}

func indexOfDot(s string) int {
	for i, c := range s {
		if c == '.' {
			return i
		}
	}
	return -1
}

func trimDotParts(s string, dot int) (head, rest string) {
	return trimSpace(s[:dot]), trimSpace(s[dot+1:])
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
