package gmasm

import "fmt"

// pendingBranch is a forward reference recorded by the parser; the
// resolver (gmasm/resolver.go) walks the referenced qualified name and
// replaces it with a resolved address, clearing this field.
type pendingBranch struct {
	qualifiedName string
}

// Instruction is a tagged variant over the opcode set: it
// carries the already-encoded 32-bit word, the SourceAnchor it came from,
// and the fields needed for linking. Rather than a class hierarchy per
// opcode this keeps one flat struct, with per-opcode behavior dispatched
// by the predicate methods below.
type Instruction struct {
	word   uint32
	Opcode Opcode
	Axis   Axis
	Anchor SourceAnchor

	Address int32 // -1 until located

	branch *pendingBranch
	target *Label // resolved branch target, nil until resolve()
}

func newInsn(anchor SourceAnchor, op Opcode, axis Axis) *Instruction {
	return &Instruction{Opcode: op, Axis: axis, Anchor: anchor, Address: -1}
}

// ---- bit-packing helpers ----

func (i *Instruction) setUpper2(v uint32)  { i.word = (i.word & 0x3FFFFFFF) | ((v & 0x3) << 30) }
func (i *Instruction) setUpper8(v uint32)  { i.word = (i.word & 0x00FFFFFF) | ((v & 0xFF) << 24) }
func (i *Instruction) setOpcode6(v uint32) { i.word = (i.word & 0xC0FFFFFF) | ((v & 0x3F) << 24) }
func (i *Instruction) setOpcode5(v uint32) { i.word = (i.word & 0xE0FFFFFF) | ((v & 0x1F) << 24) }
func (i *Instruction) setChain(on bool) {
	i.word &= 0xDFFFFFFF
	if on {
		i.word |= 0x20000000
	}
}
func (i *Instruction) chain() bool { return i.word&0x20000000 != 0 }

func (i *Instruction) setCommandData(v uint32) { i.word = (i.word & 0xFF00FFFF) | ((v & 0xFF) << 16) }
func (i *Instruction) commandData() uint32     { return (i.word >> 16) & 0xFF }

func (i *Instruction) setLower16(v uint32) { i.word = (i.word & 0xFFFF0000) | (v & 0xFFFF) }
func (i *Instruction) setLower24(v uint32) { i.word = (i.word & 0xFF000000) | (v & 0xFFFFFF) }

func (i *Instruction) setLower24SignMag(v int32) {
	sign := uint32(1)
	mag := v
	if v < 0 {
		sign = 0
		mag = -v
	}
	i.word = (i.word & 0xFF000000) | (uint32(mag) & 0x7FFFFF) | (sign << 23)
}

// setLower24Swapped places the value's LSB into the command-data slot,
// used by VELOCITY/ACCELERATION on the wire.
func (i *Instruction) setLower24Swapped(v uint32) {
	i.word = (i.word & 0xFF000000) | ((v & 0xFF) << 16) | ((v >> 8) & 0xFFFF)
}

// setLower24SwappedSignMag is the same byte-swap used by SPEED-CONTROL,
// but sign-magnitude with the sign bit at bit 15 of the low word.
func (i *Instruction) setLower24SwappedSignMag(v int32) {
	sign := uint32(0)
	mag := v
	if v < 0 {
		sign = 1
		mag = -v
	}
	m := uint32(mag)
	i.word = (i.word & 0xFF000000) | ((m & 0xFF) << 16) | ((m >> 8) & 0x7FFF) | (sign << 15)
}

func (i *Instruction) setBranchField(v uint16) { i.word = (i.word & 0xFFFF0000) | uint32(v) }

// GetBranchField returns the low 16 bits, valid once resolved.
func (i *Instruction) GetBranchField() uint16 { return uint16(i.word & 0xFFFF) }

// Binary returns the encoded 32-bit instruction word.
func (i *Instruction) Binary() uint32 { return i.word }

func rangeErr(a SourceAnchor, format string, args ...interface{}) error {
	return newError(a, fmt.Sprintf(format, args...))
}

// ---- constructors (one per source-language operator) ----

func newMoveLike(anchor SourceAnchor, axis Axis, op Opcode, relative bool, n int32, chain bool) (*Instruction, error) {
	insn := newInsn(anchor, op, axis)
	insn.setUpper2(uint32(axis))
	insn.setChain(chain)
	insn.setOpcode5(uint32(op))
	if relative {
		if n < -0x7FFFFF || n > 0x7FFFFF {
			return nil, rangeErr(anchor, "relative move amount %d out of range for axis %s", n, axis)
		}
		insn.setLower24SignMag(n)
	} else {
		if n < 0 || n > 0xFFFFFF {
			return nil, rangeErr(anchor, "move amount %d out of range for axis %s", n, axis)
		}
		insn.setLower24(uint32(n))
	}
	return insn, nil
}

// NewMove encodes an absolute move. n is in [0, 2^24-1].
func NewMove(anchor SourceAnchor, axis Axis, n int32, chain bool) (*Instruction, error) {
	return newMoveLike(anchor, axis, OpMove, false, n, chain)
}

// NewMoveRel encodes a relative move. n is in [-2^23+1, 2^23-1].
func NewMoveRel(anchor SourceAnchor, axis Axis, n int32, chain bool) (*Instruction, error) {
	return newMoveLike(anchor, axis, OpMoveRel, true, n, chain)
}

// NewHome encodes a homing instruction for one axis of a (possibly
// multi-axis) chained HOME statement.
func NewHome(anchor SourceAnchor, axis Axis, chain bool) *Instruction {
	insn := newInsn(anchor, OpHome, axis)
	insn.setUpper2(uint32(axis))
	insn.setChain(chain)
	insn.setOpcode5(uint32(OpHome))
	insn.setLower24(0)
	return insn
}

// NewGoto encodes GOTO label [, LOOP n TIMES]. branchName is the qualified
// label name; it is replaced with the resolved address by the resolver.
func NewGoto(anchor SourceAnchor, branchName string, loopCount int) (*Instruction, error) {
	if loopCount < 0 || loopCount > 255 {
		return nil, rangeErr(anchor, "loop count %d out of range [0..255]", loopCount)
	}
	insn := newInsn(anchor, OpGoto, 0)
	insn.setUpper8(uint32(OpGoto))
	insn.setCommandData(uint32(loopCount))
	insn.branch = &pendingBranch{qualifiedName: branchName}
	return insn, nil
}

// NewCall encodes CALL label.
func NewCall(anchor SourceAnchor, branchName string) *Instruction {
	insn := newInsn(anchor, OpCall, 0)
	insn.setUpper8(uint32(OpCall))
	insn.setCommandData(0)
	insn.branch = &pendingBranch{qualifiedName: branchName}
	return insn
}

// NewReturn encodes RETURN. It is always "resolved" (no branch target) but
// still an end-of-block instruction.
func NewReturn(anchor SourceAnchor) *Instruction {
	insn := newInsn(anchor, OpReturn, 0)
	insn.setUpper8(uint32(OpReturn))
	insn.setCommandData(0)
	insn.setLower16(0)
	return insn
}

// NewIf encodes IF axis flag IS state [compare] GOTO label.
func NewIf(anchor SourceAnchor, axis Axis, flag ConditionFlag, state ConditionState, branchName string) (*Instruction, error) {
	if flag > 7 {
		return nil, rangeErr(anchor, "bad conditional source flag %d", flag)
	}
	if state > 4 {
		return nil, rangeErr(anchor, "bad conditional state %d", state)
	}
	insn := newInsn(anchor, OpIf, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpIf))
	insn.setCommandData((uint32(state) << 5) | (uint32(flag) & 0x7))
	insn.branch = &pendingBranch{qualifiedName: branchName}
	return insn, nil
}

// NewAnalogInputsTo encodes ANALOG INPUTS TO axes.
func NewAnalogInputsTo(anchor SourceAnchor, axisMask byte) *Instruction {
	insn := newInsn(anchor, OpAnalogInputsTo, 0)
	insn.setCommandData(uint32(axisMask) & 0x0F)
	insn.setUpper8(uint32(OpAnalogInputsTo))
	insn.setLower16(0)
	return insn
}

// NewVectorAxes encodes VECTOR AXES ARE axes.
func NewVectorAxes(anchor SourceAnchor, axisMask byte) *Instruction {
	insn := newInsn(anchor, OpVectorAxes, 0)
	insn.setCommandData(uint32(axisMask) & 0x0F)
	insn.setUpper8(uint32(OpVectorAxes))
	insn.setLower16(0)
	return insn
}

// NewRespos encodes RESPOS axes.
func NewRespos(anchor SourceAnchor, axisMask byte) *Instruction {
	insn := newInsn(anchor, OpRespos, 0)
	insn.setCommandData(uint32(axisMask) & 0x0F)
	insn.setUpper8(uint32(OpRespos))
	insn.setLower16(0)
	return insn
}

// NewMovingAverage encodes MOVING AVERAGE axes n SAMPLES. n is in [0,127].
func NewMovingAverage(anchor SourceAnchor, axisMask byte, n int) (*Instruction, error) {
	if n < 0 || n > 127 {
		return nil, rangeErr(anchor, "moving average sample count %d out of range [0..127]", n)
	}
	insn := newInsn(anchor, OpMovingAverage, 0)
	insn.setCommandData(uint32(axisMask) & 0x0F)
	insn.setUpper8(uint32(OpMovingAverage))
	insn.setLower16(uint32(n) & 0x7F)
	return insn, nil
}

// NewJog encodes JOG axes.
func NewJog(anchor SourceAnchor, axisMask byte) *Instruction {
	insn := newInsn(anchor, OpJog, 0)
	insn.setCommandData(uint32(axisMask) & 0x0F)
	insn.setUpper8(uint32(OpJog))
	insn.setLower16(0)
	return insn
}

// NewConfigure encodes axis CONFIGURE: i AMPS, IDLE AT p% AFTER s SECONDS.
func NewConfigure(anchor SourceAnchor, axis Axis, amps, idlePercent, idleAfterSecs float64) (*Instruction, error) {
	if amps < 0 || amps > 7.0 {
		return nil, rangeErr(anchor, "current %f out of range [0..7.0]", amps)
	}
	if idlePercent < 0 || idlePercent > 99.0 {
		return nil, rangeErr(anchor, "percent idle current %f out of range [0..99.0]", idlePercent)
	}
	if idleAfterSecs < 0 || idleAfterSecs > 25.5 {
		return nil, rangeErr(anchor, "time to idle %f out of range [0..25.5]", idleAfterSecs)
	}
	insn := newInsn(anchor, OpConfigure, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpConfigure))
	insn.setCommandData(uint32(amps * 10))
	insn.setLower16((uint32(idlePercent) << 8) | uint32(idleAfterSecs*10))
	return insn, nil
}

// NewClockwiseLimit encodes axis LIMIT CW n.
func NewClockwiseLimit(anchor SourceAnchor, axis Axis, n uint32) (*Instruction, error) {
	if n > 0xFFFFFF {
		return nil, rangeErr(anchor, "clockwise limit %d out of range", n)
	}
	insn := newInsn(anchor, OpClockwiseLimit, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpClockwiseLimit))
	insn.setLower24(n)
	return insn, nil
}

// NewCompare encodes axis COMPARE VALUE n.
func NewCompare(anchor SourceAnchor, axis Axis, n uint32) (*Instruction, error) {
	if n > 0xFFFFFF {
		return nil, rangeErr(anchor, "compare value %d out of range", n)
	}
	insn := newInsn(anchor, OpCompare, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpCompare))
	insn.setLower24(n)
	return insn, nil
}

// NewAcceleration encodes axis ACCELERATION n. n is a 16-bit engineering
// magnitude, pre-shifted left by 8 on the wire.
func NewAcceleration(anchor SourceAnchor, axis Axis, n uint32) (*Instruction, error) {
	if n > 0xFFFF {
		return nil, rangeErr(anchor, "acceleration %d out of range", n)
	}
	insn := newInsn(anchor, OpAcceleration, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpAcceleration))
	insn.setLower24Swapped(n * 256)
	return insn, nil
}

// NewVelocity encodes axis VELOCITY n.
func NewVelocity(anchor SourceAnchor, axis Axis, n uint32) (*Instruction, error) {
	if n > 0xFFFF {
		return nil, rangeErr(anchor, "velocity %d out of range", n)
	}
	insn := newInsn(anchor, OpVelocity, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpVelocity))
	insn.setLower24Swapped(n * 256)
	return insn, nil
}

// NewPositionAdjust encodes axis POSITION ADJ +/- n.
func NewPositionAdjust(anchor SourceAnchor, axis Axis, n int32) (*Instruction, error) {
	if n < -0x8000 || n > 0x7FFF {
		return nil, rangeErr(anchor, "position adjust %d out of range", n)
	}
	insn := newInsn(anchor, OpPositionAdjust, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpPositionAdjust))
	insn.setCommandData(0)
	insn.setLower16(uint32(uint16(n)))
	return insn, nil
}

// NewSpeedControl encodes axis SPEED CONTROL n.
func NewSpeedControl(anchor SourceAnchor, axis Axis, n int32) (*Instruction, error) {
	if n < -0x800000 || n > 0x7FFFFF {
		return nil, rangeErr(anchor, "speed control %d out of range", n)
	}
	insn := newInsn(anchor, OpSpeedControl, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpSpeedControl))
	insn.setLower24SwappedSignMag(n * 256)
	return insn, nil
}

// NewOut encodes axis OUTn state. n is 1, 2 or 3.
func NewOut(anchor SourceAnchor, axis Axis, n int, state OutState) (*Instruction, error) {
	if n != 1 && n != 2 && n != 3 {
		return nil, rangeErr(anchor, "output number %d out of range [1,2,3]", n)
	}
	if state > OutErr {
		return nil, rangeErr(anchor, "state %d out of range [OFF,ON,BR,RS,ERR]", state)
	}
	insn := newInsn(anchor, OpOut, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpOut))
	insn.setCommandData((uint32(n&3) << 4) | (uint32(state) & 0x0F))
	insn.setLower16(0)
	return insn, nil
}

// NewZeroOffset encodes axis ZERO OFFSET n.
func NewZeroOffset(anchor SourceAnchor, axis Axis, n uint32) (*Instruction, error) {
	if n > 0x7FFFFF {
		return nil, rangeErr(anchor, "offset %d out of range", n)
	}
	insn := newInsn(anchor, OpZeroOffset, axis)
	insn.setUpper2(uint32(axis))
	insn.setOpcode6(uint32(OpZeroOffset))
	insn.setLower24(n)
	return insn, nil
}

// NewWait encodes WAIT secs SECONDS. secs is in [0, 65.535].
func NewWait(anchor SourceAnchor, secs float64) (*Instruction, error) {
	if secs < 0 || secs > 65.535 {
		return nil, rangeErr(anchor, "wait time %f out of range [0..65.535]", secs)
	}
	insn := newInsn(anchor, OpWait, 0)
	insn.setUpper2(0)
	insn.setOpcode6(uint32(OpWait))
	insn.setCommandData(0)
	insn.setLower16(uint32(secs * 1000))
	return insn, nil
}

// ---- predicates ----

// IsUnresolvedBranch reports whether this instruction still carries a
// pending (unresolved) label reference.
func (i *Instruction) IsUnresolvedBranch() bool { return i.branch != nil }

// IsChained reports whether this instruction's chain bit ties it to the
// next word as part of one multi-axis instruction group. Only possible
// for MOVE, MOVEREL, HOME.
func (i *Instruction) IsChained() bool {
	switch i.Opcode {
	case OpMove, OpMoveRel, OpHome:
		return i.chain()
	default:
		return false
	}
}

// IsEndOfBlock reports whether the following instruction is only
// reachable via an explicit label: unconditional GOTO (no loop count) or
// RETURN.
func (i *Instruction) IsEndOfBlock() bool {
	switch i.Opcode {
	case OpGoto:
		return i.commandData() == 0
	case OpReturn:
		return true
	default:
		return false
	}
}

// IsNextable reports whether "step next" differs from "step one" for this
// instruction: true for CALL, conditional IF, and GOTO with a loop count.
func (i *Instruction) IsNextable() bool {
	switch i.Opcode {
	case OpCall:
		return true
	case OpGoto:
		return i.commandData() != 0
	case OpIf:
		return true
	default:
		return false
	}
}

// IsFast reports whether a short query suffices to update local status
// after this instruction runs. False for MOVE, MOVEREL, HOME, JOG, SPEED
// CONTROL, WAIT.
func (i *Instruction) IsFast() bool {
	switch i.Opcode {
	case OpMove, OpMoveRel, OpHome, OpJog, OpSpeedControl, OpWait:
		return false
	default:
		return true
	}
}

// IsInstant reports whether this instruction is fast AND its next PC is
// statically known, meaning the controller can skip the round trip
// entirely. The second return value, when true is returned, is the next
// address; -1 means "just addr+1" (resolved by the caller).
func (i *Instruction) IsInstant() (bool, int) {
	switch i.Opcode {
	case OpGoto:
		if i.commandData() == 0 {
			return true, int(i.GetBranchField())
		}
		return false, 0
	case OpCall:
		return true, int(i.GetBranchField())
	case OpAnalogInputsTo, OpVectorAxes, OpRespos, OpMovingAverage,
		OpConfigure, OpClockwiseLimit, OpCompare, OpAcceleration,
		OpVelocity, OpZeroOffset:
		return true, -1
	default:
		return false, 0
	}
}

// IsPosValid reports whether the device's reported position is valid
// while this instruction executes. False for HOME and SPEED CONTROL.
func (i *Instruction) IsPosValid() bool {
	switch i.Opcode {
	case OpHome, OpSpeedControl:
		return false
	default:
		return true
	}
}

// IsVelValid reports whether the device's reported velocity is valid
// while this instruction executes. Always true currently.
func (i *Instruction) IsVelValid() bool { return true }

// IsResetOffset reports whether this instruction should reset the
// device's position offset to read as zero. Only RESPOS does this.
func (i *Instruction) IsResetOffset() bool { return i.Opcode == OpRespos }

// ResetOffsetValue is the device position reported to the user as zero,
// valid only when IsResetOffset is true.
func (i *Instruction) ResetOffsetValue() uint32 { return 0x3FFFFF }

// BranchTarget returns the resolved Label this instruction branches to, or
// nil if unresolved or this is not a branch instruction.
func (i *Instruction) BranchTarget() *Label { return i.target }

// PendingBranchName returns the qualified label name recorded by the
// parser, for an instruction whose branch has not yet been resolved.
func (i *Instruction) PendingBranchName() (string, bool) {
	if i.branch == nil {
		return "", false
	}
	return i.branch.qualifiedName, true
}

// SetBranch patches the low 16 bits with label's final address and records
// it as the resolved target, clearing the pending reference. Called once
// by the resolver; it is an error to call this before label
// has been located.
func (i *Instruction) SetBranch(label *Label) {
	i.setBranchField(uint16(label.Address))
	i.target = label
	i.branch = nil
}

func (i *Instruction) String() string {
	return fmt.Sprintf("%s axis=%s word=%08x", i.Opcode, i.Axis, i.word)
}
