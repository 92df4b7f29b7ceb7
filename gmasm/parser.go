package gmasm

import (
	"fmt"
	"strings"
)

// opHandler parses one base (non-axis-first) statement, given the tokens
// after the opening keyword, and emits into ns.
type opHandler func(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error

// axisOpHandler parses one axis-first statement, given the tokens after
// the axis name.
type axisOpHandler func(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error

// baseTable and axisTable are the parser's two dispatch tables:
// lowercase keyword -> handler. Declarative in spirit if not in
// literal data shape -- each handler is itself a short, linear sequence of
// matches, mirroring the template-of-matchers design without needing a
// generic matcher-interpreter for a grammar this size.
var baseTable map[string]opHandler
var axisTable map[string]axisOpHandler

func init() {
	baseTable = map[string]opHandler{
		"goto":   parseGoto,
		"call":   parseCall,
		"return": parseReturn,
		"if":     parseIf,
		"wait":   parseWait,
		"moving": parseMovingAverage,
		"analog": parseAnalogInputs,
		"vector": parseVectorAxes,
		"respos": parseRespos,
		"home":   parseHome,
		"jog":    parseJog,
		"import": parseImport,
	}
	axisTable = map[string]axisOpHandler{
		"velocity":     parseAxisVelocity,
		"acceleration": parseAxisAcceleration,
		"speed":        parseAxisSpeedControl,
		"configure":    parseAxisConfigure,
		"limit":        parseAxisLimit,
		"compare":      parseAxisCompare,
		"position":     parseAxisPositionAdj,
		"zero":         parseAxisZeroOffset,
		"offset":       parseAxisZeroOffset,
		"out":          parseAxisOut,
		"out1":         parseAxisOutN(1),
		"out2":         parseAxisOutN(2),
		"out3":         parseAxisOutN(3),
	}
}

// cursor walks one statement Line's tokens. asm is threaded through so a
// TokBrace term can be evaluated in the assembly's shared macro
// environment.
type cursor struct {
	toks []Token
	pos  int
	asm  *Assembler
}

func (c *cursor) peek() (Token, bool) {
	if c.pos >= len(c.toks) {
		return Token{}, false
	}
	return c.toks[c.pos], true
}

func (c *cursor) next() (Token, bool) {
	t, ok := c.peek()
	if ok {
		c.pos++
	}
	return t, ok
}

func (c *cursor) atEnd() bool { return c.pos >= len(c.toks) }

func (c *cursor) expectIdent(anchor SourceAnchor, want string) error {
	t, ok := c.next()
	if !ok || t.Kind != TokIdent || !strings.EqualFold(t.Text, want) {
		return newError(anchor, fmt.Sprintf("expected '%s'", want))
	}
	return nil
}

func (c *cursor) expectPunct(anchor SourceAnchor, want string) error {
	t, ok := c.next()
	if !ok || t.Kind != TokPunct || t.Text != want {
		return newError(anchor, fmt.Sprintf("expected '%s'", want))
	}
	return nil
}

func (c *cursor) expectNumber(anchor SourceAnchor) (float64, error) {
	t, ok := c.next()
	if !ok {
		return 0, newError(anchor, "expected a number")
	}
	switch t.Kind {
	case TokInt:
		return float64(t.IntVal), nil
	case TokFloat:
		return t.FloatVal, nil
	case TokBrace:
		v, err := c.asm.evalExpr(t.Text)
		if err != nil {
			return 0, newError(anchor, err.Error())
		}
		return v, nil
	default:
		return 0, newError(anchor, "expected a number")
	}
}

func (c *cursor) expectInt(anchor SourceAnchor) (int64, error) {
	v, err := c.expectNumber(anchor)
	return int64(v), err
}

func (c *cursor) expectIdentName(anchor SourceAnchor) (string, error) {
	t, ok := c.next()
	if !ok || t.Kind != TokIdent {
		return "", newError(anchor, "expected an identifier")
	}
	return t.Text, nil
}

func (c *cursor) expectString(anchor SourceAnchor) (string, error) {
	t, ok := c.next()
	if !ok || t.Kind != TokString {
		return "", newError(anchor, "expected a quoted string")
	}
	return t.Text, nil
}

// Parser drives one source file's Lines through the two dispatch tables,
// accumulating errors rather than aborting on the first one. Label
// definitions and macro blocks are handled inline by ParseFile
// rather than a handler table entry, since they aren't keyword statements.
type Parser struct {
	asm *Assembler
}

// NewParser returns a Parser bound to asm, used for import resolution and
// error accumulation.
func NewParser(asm *Assembler) *Parser {
	return &Parser{asm: asm}
}

// ParseFile lexes file and feeds every statement/macro item into ns in
// source order.
func (p *Parser) ParseFile(file *SourceFile, ns *Namespace) error {
	lx := NewLexer(file)
	items, err := lx.Lex()
	if err != nil {
		return err
	}
	for _, item := range items {
		if p.asm.fatal {
			break
		}
		switch {
		case item.Line != nil:
			p.parseLine(file, ns, item.Line)
		case item.Macro != nil:
			p.asm.runMacro(file, ns, item.Macro)
		}
	}
	return nil
}

func (p *Parser) parseLine(file *SourceFile, ns *Namespace, line *Line) {
	anchor := newAnchor(file, line.Number)
	cur := &cursor{toks: line.Tokens, asm: p.asm}

	if len(cur.toks) >= 2 && cur.toks[0].Kind == TokIdent && cur.toks[1].Kind == TokPunct && cur.toks[1].Text == ":" {
		label := newLabel(anchor)
		if err := ns.AddLabel(cur.toks[0].Text, label); err != nil {
			p.asm.handleError(err)
		}
		return
	}

	first, ok := cur.next()
	if !ok || first.Kind != TokIdent {
		p.asm.handleError(newError(anchor, "expected a statement"))
		return
	}

	if axis, isAxis := AxisByName(first.Text); isAxis {
		p.parseAxisStatement(ns, anchor, axis, cur)
		return
	}

	handler, ok := baseTable[strings.ToLower(first.Text)]
	if !ok {
		p.asm.handleError(newError(anchor, fmt.Sprintf("unrecognized statement '%s'", first.Text)))
		return
	}
	if err := handler(p, ns, anchor, cur); err != nil {
		p.asm.handleError(err)
	}
}

func (p *Parser) parseAxisStatement(ns *Namespace, anchor SourceAnchor, axis Axis, cur *cursor) {
	t, ok := cur.peek()
	if !ok {
		p.asm.handleError(newError(anchor, "expected an axis operation"))
		return
	}
	if t.Kind == TokInt || t.Kind == TokFloat || t.Kind == TokBrace ||
		(t.Kind == TokPunct && (t.Text == "+" || t.Text == "-")) {
		p.parseMoveChain(ns, anchor, axis, cur)
		return
	}
	if t.Kind != TokIdent {
		p.asm.handleError(newError(anchor, "expected an axis operation"))
		return
	}
	handler, ok := axisTable[strings.ToLower(t.Text)]
	if !ok {
		p.asm.handleError(newError(anchor, fmt.Sprintf("unrecognized axis operation '%s'", t.Text)))
		return
	}
	cur.next()
	if err := handler(p, ns, anchor, axis, false, cur); err != nil {
		p.asm.handleError(err)
	}
}

// parseMoveTerm consumes one move amount. An explicit leading `+` or `-`
// makes the move relative (the sign applies to the amount); a bare number
// is an absolute target position.
func parseMoveTerm(anchor SourceAnchor, cur *cursor) (n int64, relative bool, err error) {
	sign := int64(0)
	if t, ok := cur.peek(); ok && t.Kind == TokPunct && (t.Text == "+" || t.Text == "-") {
		cur.next()
		sign = 1
		if t.Text == "-" {
			sign = -1
		}
	}
	t, ok := cur.peek()
	if !ok {
		return 0, false, newError(anchor, "expected a move amount")
	}
	if sign == 0 && t.Kind == TokInt && (strings.HasPrefix(t.Text, "+") || strings.HasPrefix(t.Text, "-")) {
		// the lexer folds a sign directly adjacent to a number into the
		// token; recover it here
		sign = 1
		if t.Text[0] == '-' {
			sign = -1
		}
		cur.next()
		return t.IntVal, true, nil
	}
	n, err = cur.expectInt(anchor)
	if err != nil {
		return 0, false, err
	}
	if sign != 0 {
		return sign * n, true, nil
	}
	return n, false, nil
}

// parseMoveChain consumes one or more `<axis><±>N[, axis<±>N...]` terms,
// setting the chain flag on every instruction but the last, so they form
// one multi-axis group.
func (p *Parser) parseMoveChain(ns *Namespace, anchor SourceAnchor, axis Axis, cur *cursor) {
	type term struct {
		axis     Axis
		n        int64
		relative bool
	}
	n, relative, err := parseMoveTerm(anchor, cur)
	if err != nil {
		p.asm.handleError(err)
		return
	}
	terms := []term{{axis: axis, n: n, relative: relative}}

	for {
		t, ok := cur.peek()
		if !ok || t.Kind != TokPunct || t.Text != "," {
			break
		}
		cur.next()
		axName, err := cur.expectIdentName(anchor)
		if err != nil {
			p.asm.handleError(err)
			return
		}
		nextAxis, isAxis := AxisByName(axName)
		if !isAxis {
			p.asm.handleError(newError(anchor, fmt.Sprintf("expected an axis name, got '%s'", axName)))
			return
		}
		n, relative, err := parseMoveTerm(anchor, cur)
		if err != nil {
			p.asm.handleError(err)
			return
		}
		terms = append(terms, term{axis: nextAxis, n: n, relative: relative})
	}

	for i, tm := range terms {
		chain := i < len(terms)-1
		var insn *Instruction
		var err error
		if tm.relative {
			insn, err = NewMoveRel(anchor, tm.axis, int32(tm.n), chain)
		} else {
			insn, err = NewMove(anchor, tm.axis, int32(tm.n), chain)
		}
		if err != nil {
			p.asm.handleError(err)
			continue
		}
		ns.AddInsn(insn)
	}
}

func parseAxisVelocity(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewVelocity(anchor, axis, uint32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisAcceleration(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewAcceleration(anchor, axis, uint32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisSpeedControl(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	if err := cur.expectIdent(anchor, "control"); err != nil {
		return err
	}
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewSpeedControl(anchor, axis, int32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

// parseAxisConfigure parses `configure: I amps, idle at P% after S seconds`.
func parseAxisConfigure(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	if err := cur.expectPunct(anchor, ":"); err != nil {
		return err
	}
	amps, err := cur.expectNumber(anchor)
	if err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "amps"); err != nil {
		return err
	}
	if err := cur.expectPunct(anchor, ","); err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "idle"); err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "at"); err != nil {
		return err
	}
	pct, err := cur.expectNumber(anchor)
	if err != nil {
		return err
	}
	if err := cur.expectPunct(anchor, "%"); err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "after"); err != nil {
		return err
	}
	secs, err := cur.expectNumber(anchor)
	if err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "seconds"); err != nil {
		return err
	}
	insn, err := NewConfigure(anchor, axis, amps, pct, secs)
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisLimit(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	if err := cur.expectIdent(anchor, "cw"); err != nil {
		return err
	}
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewClockwiseLimit(anchor, axis, uint32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisCompare(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	if err := cur.expectIdent(anchor, "value"); err != nil {
		return err
	}
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewCompare(anchor, axis, uint32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

// parseAxisPositionAdj parses `position adj +/- N` (or the `adjust`
// spelling): the literal "+/-" appears in the source, and the operand's
// own sign picks the direction.
func parseAxisPositionAdj(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	t, ok := cur.next()
	if !ok || t.Kind != TokIdent ||
		(!strings.EqualFold(t.Text, "adj") && !strings.EqualFold(t.Text, "adjust")) {
		return newError(anchor, "expected 'adj' or 'adjust'")
	}
	if err := cur.expectPunct(anchor, "+"); err != nil {
		return err
	}
	if err := cur.expectPunct(anchor, "/"); err != nil {
		return err
	}
	var n int64
	switch t, ok := cur.peek(); {
	case ok && t.Kind == TokPunct && t.Text == "-":
		cur.next()
		v, err := cur.expectInt(anchor)
		if err != nil {
			return err
		}
		n = v
	case ok && t.Kind == TokInt && strings.HasPrefix(t.Text, "-"):
		// the '-' of the "+/-" fused with the number in the lexer; it is
		// part of the glyph, not the operand's sign
		cur.next()
		n = -t.IntVal
	default:
		return newError(anchor, "expected '-'")
	}
	insn, err := NewPositionAdjust(anchor, axis, int32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

// parseAxisZeroOffset parses both `zero offset N` and its `offset N` alias.
func parseAxisZeroOffset(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	if t, ok := cur.peek(); ok && t.Kind == TokIdent && strings.EqualFold(t.Text, "offset") {
		cur.next()
	}
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	insn, err := NewZeroOffset(anchor, axis, uint32(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func outStateFromIdent(name string) (OutState, bool) {
	switch strings.ToUpper(name) {
	case "OFF":
		return OutOff, true
	case "ON":
		return OutOn, true
	case "BR":
		return OutBR, true
	case "RS":
		return OutRS, true
	case "ERR":
		return OutErr, true
	default:
		return 0, false
	}
}

func parseAxisOut(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	name, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	state, ok := outStateFromIdent(name)
	if !ok {
		return newError(anchor, fmt.Sprintf("unrecognized output state '%s'", name))
	}
	insn, err := NewOut(anchor, axis, int(n), state)
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisOutN(n int) axisOpHandler {
	return func(p *Parser, ns *Namespace, anchor SourceAnchor, axis Axis, chain bool, cur *cursor) error {
		name, err := cur.expectIdentName(anchor)
		if err != nil {
			return err
		}
		state, ok := outStateFromIdent(name)
		if !ok {
			return newError(anchor, fmt.Sprintf("unrecognized output state '%s'", name))
		}
		insn, err := NewOut(anchor, axis, n, state)
		if err != nil {
			return err
		}
		ns.AddInsn(insn)
		return nil
	}
}

// ---- base (non-axis-first) statements ----

func parseGoto(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	label, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	loopCount := 0
	if t, ok := cur.peek(); ok && t.Kind == TokPunct && t.Text == "," {
		cur.next()
		if err := cur.expectIdent(anchor, "loop"); err != nil {
			return err
		}
		n, err := cur.expectInt(anchor)
		if err != nil {
			return err
		}
		loopCount = int(n)
		if err := cur.expectIdent(anchor, "times"); err != nil {
			return err
		}
	}
	insn, err := NewGoto(anchor, label, loopCount)
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseCall(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	label, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	ns.AddInsn(NewCall(anchor, label))
	return nil
}

func parseReturn(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	ns.AddInsn(NewReturn(anchor))
	return nil
}

var conditionFlags = map[string]ConditionFlag{
	"in1": FlagIn1, "in2": FlagIn2, "in3": FlagIn3,
	"rdy": FlagReady, "err": FlagErr,
	"velocity": FlagVel, "position": FlagPos, "vin": FlagVin,
}

func parseIf(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	axName, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	axis, isAxis := AxisByName(axName)
	if !isAxis {
		return newError(anchor, fmt.Sprintf("expected an axis name, got '%s'", axName))
	}
	flagName, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	flag, ok := conditionFlags[strings.ToLower(flagName)]
	if !ok {
		return newError(anchor, fmt.Sprintf("unrecognized condition flag '%s'", flagName))
	}
	if err := cur.expectIdent(anchor, "is"); err != nil {
		return err
	}
	state, err := parseConditionState(anchor, cur)
	if err != nil {
		return err
	}
	// optional literal "compare" keyword before goto
	if t, ok := cur.peek(); ok && t.Kind == TokIdent && strings.EqualFold(t.Text, "compare") {
		cur.next()
	}
	if err := cur.expectIdent(anchor, "goto"); err != nil {
		return err
	}
	label, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	insn, err := NewIf(anchor, axis, flag, state, label)
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

// parseConditionState consumes the state term of an `if` statement: either
// the keywords off/on, or one of the punctuation comparisons < = >.
func parseConditionState(anchor SourceAnchor, cur *cursor) (ConditionState, error) {
	t, ok := cur.next()
	if !ok {
		return 0, newError(anchor, "expected a condition state")
	}
	if t.Kind == TokIdent {
		switch strings.ToUpper(t.Text) {
		case "OFF":
			return StateOff, nil
		case "ON":
			return StateOn, nil
		}
	}
	if t.Kind == TokPunct {
		switch t.Text {
		case "<":
			return StateLT, nil
		case "=":
			return StateEQ, nil
		case ">":
			return StateGT, nil
		}
	}
	return 0, newError(anchor, fmt.Sprintf("unrecognized condition state '%s'", t.Text))
}

func parseWait(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	secs, err := cur.expectNumber(anchor)
	if err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "seconds"); err != nil {
		return err
	}
	insn, err := NewWait(anchor, secs)
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAxisMask(anchor SourceAnchor, cur *cursor) (byte, error) {
	t, ok := cur.peek()
	if ok && t.Kind == TokBrace {
		cur.next()
		v, err := cur.asm.evalExpr(t.Text)
		if err != nil {
			return 0, newError(anchor, err.Error())
		}
		return byte(int(v)) & 0x0F, nil
	}
	var mask byte
	for {
		name, err := cur.expectIdentName(anchor)
		if err != nil {
			return 0, err
		}
		axis, isAxis := AxisByName(name)
		if !isAxis {
			return 0, newError(anchor, fmt.Sprintf("expected an axis name, got '%s'", name))
		}
		mask |= 1 << uint(axis)
		next, ok := cur.peek()
		if !ok || next.Kind != TokPunct || next.Text != "," {
			break
		}
		cur.next()
	}
	return mask, nil
}

func parseMovingAverage(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	if err := cur.expectIdent(anchor, "average"); err != nil {
		return err
	}
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	n, err := cur.expectInt(anchor)
	if err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "samples"); err != nil {
		return err
	}
	insn, err := NewMovingAverage(anchor, mask, int(n))
	if err != nil {
		return err
	}
	ns.AddInsn(insn)
	return nil
}

func parseAnalogInputs(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	if err := cur.expectIdent(anchor, "inputs"); err != nil {
		return err
	}
	if err := cur.expectIdent(anchor, "to"); err != nil {
		return err
	}
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	ns.AddInsn(NewAnalogInputsTo(anchor, mask))
	return nil
}

func parseVectorAxes(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	kw, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	if !strings.EqualFold(kw, "axes") && !strings.EqualFold(kw, "axis") {
		return newError(anchor, "expected 'axes' or 'axis'")
	}
	verb, err := cur.expectIdentName(anchor)
	if err != nil {
		return err
	}
	if !strings.EqualFold(verb, "are") && !strings.EqualFold(verb, "is") {
		return newError(anchor, "expected 'are' or 'is'")
	}
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	ns.AddInsn(NewVectorAxes(anchor, mask))
	return nil
}

func parseRespos(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	ns.AddInsn(NewRespos(anchor, mask))
	return nil
}

func parseHome(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	var axes []Axis
	for axis := Axis(0); axis < 4; axis++ {
		if mask&(1<<uint(axis)) != 0 {
			axes = append(axes, axis)
		}
	}
	for i, axis := range axes {
		ns.AddInsn(NewHome(anchor, axis, i < len(axes)-1))
	}
	return nil
}

func parseJog(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	mask, err := parseAxisMask(anchor, cur)
	if err != nil {
		return err
	}
	ns.AddInsn(NewJog(anchor, mask))
	return nil
}

// parseImport is the pseudo-op Call matcher: it saves and
// restores nothing itself since import resolution for a freshly scanned
// file runs to completion before this statement returns, but it hands off
// to the Assembler's import cache rather than doing path resolution here.
func parseImport(p *Parser, ns *Namespace, anchor SourceAnchor, cur *cursor) error {
	path, err := cur.expectString(anchor)
	if err != nil {
		return err
	}
	alias := ""
	if t, ok := cur.peek(); ok && t.Kind == TokIdent && strings.EqualFold(t.Text, "as") {
		cur.next()
		alias, err = cur.expectIdentName(anchor)
		if err != nil {
			return err
		}
	}
	return p.asm.doImport(anchor, ns, path, alias)
}
