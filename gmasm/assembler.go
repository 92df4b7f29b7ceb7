package gmasm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/USCRPL/GeckoMoped/gmasm/macroenv"
)

// FileOpener resolves an already-canonicalized path to its source text.
// A GUI shell's tab manager can satisfy it to assemble unsaved buffers;
// a plain filesystem implementation is provided below for the CLI and
// for tests.
type FileOpener interface {
	Exists(path string) bool
	Open(path string) (*SourceFile, error)
}

// OSFileOpener reads source files directly off disk.
type OSFileOpener struct{}

func (OSFileOpener) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFileOpener) Open(path string) (*SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	return NewSourceFile(path, lines), nil
}

// Assembler drives the scan/locate/resolve pipeline for one assembly: it
// owns the root Namespace, the import cache, the shared macro environment,
// and the accumulated error list.
type Assembler struct {
	Root *Namespace

	opener     FileOpener
	searchPath []string
	tokens     map[string]string // {project}/{userlib}/{stdlib} -> concrete dir
	threshold  int

	importCache map[string]*Namespace
	env         *macroenv.Env
	macroSeq    int

	errs  []error
	fatal bool
}

// NewAssembler returns an Assembler ready to assemble one entry file.
// tokens supplies the concrete directories for the {project}/{userlib}/
// {stdlib} search-path placeholders.
func NewAssembler(opener FileOpener, searchPath []string, tokens map[string]string, errorThreshold int) *Assembler {
	if errorThreshold <= 0 {
		errorThreshold = 100
	}
	asm := &Assembler{
		opener:      opener,
		searchPath:  searchPath,
		tokens:      tokens,
		threshold:   errorThreshold,
		importCache: make(map[string]*Namespace),
		env:         macroenv.New(),
	}
	asm.env.LabelFunc = asm.macroLabel
	return asm
}

// Assemble scans entryPath and everything it imports, locates reachable
// code, and resolves branches. It always returns every error accumulated,
// even past the first -- callers check len(errs) == 0 for success.
func (asm *Assembler) Assemble(entryPath string) (ObjectCode, []error) {
	file, err := asm.opener.Open(entryPath)
	if err != nil {
		return nil, []error{err}
	}
	rootAnchor := newAnchor(file, 0)
	asm.Root = newNamespace(rootAnchor, entryPath)
	boot := newLabel(rootAnchor)
	if err := asm.Root.AddLabel("<boot>", boot); err != nil {
		asm.handleError(err)
	}

	p := NewParser(asm)
	if err := p.ParseFile(file, asm.Root); err != nil {
		asm.handleError(err)
	}

	lk := NewLinker()
	if !asm.fatal {
		lk.Locate(asm.Root, 0)
		lk.Resolve()
		for _, e := range lk.Errors {
			asm.handleError(e)
		}
	}

	if len(asm.errs) > 0 {
		return nil, asm.errs
	}
	return ObjectCode(lk.Obj), nil
}

// handleError accumulates one assembly error. Once the count exceeds the
// configured threshold, a single FatalError is appended and every
// subsequent parse statement is skipped.
func (asm *Assembler) handleError(err error) {
	asm.errs = append(asm.errs, err)
	if asm.fatal {
		return
	}
	if _, isFatal := err.(*FatalError); isFatal {
		asm.fatal = true
		return
	}
	if len(asm.errs) > asm.threshold {
		asm.fatal = true
		var at SourceAnchor
		if ae, ok := err.(*AssembleError); ok {
			at = ae.Primary
		}
		asm.errs = append(asm.errs, newFatal(at, "error threshold exceeded"))
	}
}

// doImport resolves path (expanding the search path if relative), scans it
// at most once per canonical path, and -- if alias is non-empty -- binds
// it as a subnamespace; otherwise merges it directly into ns.
func (asm *Assembler) doImport(anchor SourceAnchor, ns *Namespace, path, alias string) error {
	canon, err := asm.resolvePath(anchor, path)
	if err != nil {
		return err
	}

	if alias != "" && ns.HasNamespace(alias) {
		existing, _ := ns.GetNamespace(alias, anchor)
		if existing.Filename == canon {
			return nil // re-importing the same file under the same alias is a no-op
		}
		return newError(anchor, fmt.Sprintf("import '%s' namespace %s clash", canon, alias))
	}

	sub, alreadyScanned := asm.importCache[canon]
	if !alreadyScanned {
		if alias != "" {
			sub = newNamespace(anchor, canon)
		} else {
			sub = ns
		}
		asm.importCache[canon] = sub // pre-register before scanning: makes recursive imports safe

		file, err := asm.opener.Open(canon)
		if err != nil {
			return newFatal(anchor, fmt.Sprintf("could not import '%s': %v", canon, err))
		}
		p := NewParser(asm)
		if err := p.ParseFile(file, sub); err != nil {
			return err
		}
	}

	if alias != "" {
		return ns.AddNamespace(alias, sub)
	}
	return nil
}

func (asm *Assembler) resolvePath(anchor SourceAnchor, path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	var expandedDirs []string
	for _, d := range asm.searchPath {
		expanded := substituteToken(d, asm.tokens)
		expandedDirs = append(expandedDirs, expanded)
		candidate := filepath.Join(expanded, path)
		if asm.opener.Exists(candidate) {
			return filepath.Clean(candidate), nil
		}
	}
	secondary := []SecondaryNote{{At: anchor, Msg: "which is (expanded out):"}}
	for _, d := range expandedDirs {
		secondary = append(secondary, SecondaryNote{At: anchor, Msg: "   " + d})
	}
	return "", newError(anchor, fmt.Sprintf("could not find %s in library search path", path), secondary...)
}

func substituteToken(dir string, tokens map[string]string) string {
	for token, repl := range tokens {
		placeholder := "{" + token + "}"
		if strings.HasPrefix(dir, placeholder) {
			return repl + strings.TrimPrefix(dir, placeholder)
		}
	}
	return dir
}

// evalExpr evaluates an inline `{ ... }` operand expression in the shared
// macro environment.
func (asm *Assembler) evalExpr(src string) (float64, error) {
	return asm.env.EvalExpr(src)
}

// runMacro executes one `{{{ name }}}` block against the shared macro
// environment, with emit/label bound to the namespace the block appeared
// in.
func (asm *Assembler) runMacro(file *SourceFile, ns *Namespace, mb *MacroBlock) {
	anchor := newAnchor(file, mb.StartLine)
	asm.env.EmitFunc = func(op string, args []float64) error {
		return asm.emitInto(ns, anchor, op, args)
	}
	if err := asm.env.Run(mb.Body); err != nil {
		asm.handleError(newError(anchor, fmt.Sprintf("macro error: %v", err)))
	}
}

func (asm *Assembler) macroLabel(name string) (string, error) {
	if name == "" {
		asm.macroSeq++
		name = fmt.Sprintf("__macro_label_%d", asm.macroSeq)
	}
	label := newLabel(SourceAnchor{})
	if err := asm.Root.AddLabel(name, label); err != nil {
		return "", err
	}
	return name, nil
}

// emitInto dispatches one macro emit() call to the matching Instruction
// constructor. The macro surface only covers the handful of opcodes
// GeckoMotion macro blocks actually use in a tight loop (moves, velocity,
// acceleration, homing, wait, out) -- branch-emitting opcodes need a
// label *name*, not a float, so they stay out of this table.
func (asm *Assembler) emitInto(ns *Namespace, anchor SourceAnchor, op string, args []float64) error {
	arg := func(i int) int32 {
		if i < len(args) {
			return int32(args[i])
		}
		return 0
	}
	switch op {
	case "move":
		insn, err := NewMove(anchor, Axis(arg(0)), arg(1), len(args) > 2 && args[2] != 0)
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	case "moverel":
		insn, err := NewMoveRel(anchor, Axis(arg(0)), arg(1), len(args) > 2 && args[2] != 0)
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	case "home":
		ns.AddInsn(NewHome(anchor, Axis(arg(0)), len(args) > 1 && args[1] != 0))
	case "velocity":
		insn, err := NewVelocity(anchor, Axis(arg(0)), uint32(arg(1)))
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	case "acceleration":
		insn, err := NewAcceleration(anchor, Axis(arg(0)), uint32(arg(1)))
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	case "wait":
		insn, err := NewWait(anchor, args[0])
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	case "out":
		insn, err := NewOut(anchor, Axis(arg(0)), int(arg(1)), OutState(arg(2)))
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
	default:
		return fmt.Errorf("macro emit of opcode %q is not supported", op)
	}
	return nil
}
