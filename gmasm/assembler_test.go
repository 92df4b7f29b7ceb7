package gmasm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOpener serves source text out of a map so assembly tests never touch
// the filesystem.
type memOpener map[string]string

func (m memOpener) Exists(path string) bool {
	_, ok := m[path]
	return ok
}

func (m memOpener) Open(path string) (*SourceFile, error) {
	text, ok := m[path]
	if !ok {
		return nil, &AssembleError{Msg: "no such file " + path}
	}
	return NewSourceFile(path, strings.Split(text, "\n")), nil
}

func assemble(t *testing.T, sources map[string]string, entry string) (ObjectCode, []error) {
	t.Helper()
	asm := NewAssembler(memOpener(sources), []string{""}, nil, 0)
	return asm.Assemble(entry)
}

func TestAssembleMinimalMove(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "x configure: 4 amps, idle at 50% after 1 seconds\nx velocity 300\nx+1000\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 3)

	for addr, insn := range obj {
		assert.EqualValues(t, addr, insn.Address)
		assert.EqualValues(t, 0, insn.Binary()>>30, "axis bits must be 00")
	}
	assert.Equal(t, OpConfigure, obj[0].Opcode)
	assert.Equal(t, OpVelocity, obj[1].Opcode)

	move := obj[2]
	assert.Equal(t, OpMoveRel, move.Opcode)
	assert.EqualValues(t, 1000, move.Binary()&0x7FFFFF, "magnitude")
	assert.NotZero(t, move.Binary()&0x800000, "positive sign bit")
}

func TestAssembleHomingLoop(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "home x\ngoto L, loop 3 times\nL:\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 2)

	home := obj[0]
	assert.Equal(t, OpHome, home.Opcode)
	assert.EqualValues(t, 0x02000000, home.Binary())

	loop := obj[1]
	assert.Equal(t, OpGoto, loop.Opcode)
	assert.EqualValues(t, 3, (loop.Binary()>>16)&0xFF, "loop count")
	assert.EqualValues(t, 2, loop.GetBranchField(), "L resolves past the loop")
	assert.False(t, loop.IsUnresolvedBranch())
}

func TestAssembleVectorMoveChains(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "vector axes are x, y\nx+1000, y+2000\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 3)

	vec := obj[0]
	assert.Equal(t, OpVectorAxes, vec.Opcode)
	assert.EqualValues(t, 0x3, (vec.Binary()>>16)&0xFF, "axis mask X|Y")

	first, second := obj[1], obj[2]
	assert.True(t, first.IsChained(), "first move carries the chain bit")
	assert.False(t, second.IsChained(), "last move ends the group")
	assert.Equal(t, AxisX, first.Axis)
	assert.Equal(t, AxisY, second.Axis)
}

func TestAssembleAbsoluteVersusRelativeMove(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "x 1000\nx-250\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 2)

	abs, rel := obj[0], obj[1]
	assert.Equal(t, OpMove, abs.Opcode, "unsigned amount is an absolute move")
	assert.EqualValues(t, 1000, abs.Binary()&0xFFFFFF)

	assert.Equal(t, OpMoveRel, rel.Opcode)
	assert.EqualValues(t, 250, rel.Binary()&0x7FFFFF)
	assert.Zero(t, rel.Binary()&0x800000, "negative sign bit clear")
}

func TestAssembleAxisOperations(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "y position adj +/- 12\nz limit cw 500\nw out1 on\nx zero offset 9\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 4)

	adj := obj[0]
	assert.Equal(t, OpPositionAdjust, adj.Opcode)
	assert.Equal(t, AxisY, adj.Axis)
	assert.EqualValues(t, 12, adj.Binary()&0xFFFF)

	assert.Equal(t, OpClockwiseLimit, obj[1].Opcode)
	assert.EqualValues(t, 500, obj[1].Binary()&0xFFFFFF)
	assert.Equal(t, OpOut, obj[2].Opcode)
	assert.Equal(t, OpZeroOffset, obj[3].Opcode)
}

func TestAssembleConditionalBranch(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "L:\nif x in1 is on goto L\n",
	}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 1)

	ifInsn := obj[0]
	assert.Equal(t, OpIf, ifInsn.Opcode)
	assert.EqualValues(t, 0, ifInsn.GetBranchField(), "L is at address 0")
	cd := (ifInsn.Binary() >> 16) & 0xFF
	assert.EqualValues(t, uint32(StateOn)<<5|uint32(FlagIn1), cd)
	assert.True(t, ifInsn.IsNextable())
}

func TestAssembleOutOfRangeWait(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "wait 70 seconds\n",
	}, "prog.gm")
	assert.Nil(t, obj)
	require.Len(t, errs, 1)

	ae, ok := errs[0].(*AssembleError)
	require.True(t, ok)
	assert.Equal(t, 0, ae.Primary.Line())
	assert.Contains(t, ae.Msg, "65.535")
}

func TestAssembleDuplicateLabel(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"prog.gm": "L:\nwait 1 seconds\nL:\n",
	}, "prog.gm")
	assert.Nil(t, obj)
	require.Len(t, errs, 1)

	ae, ok := errs[0].(*AssembleError)
	require.True(t, ok)
	assert.Equal(t, 2, ae.Primary.Line(), "second definition is the primary site")
	require.Len(t, ae.Secondary, 1)
	assert.Equal(t, 0, ae.Secondary[0].At.Line(), "first definition is the secondary site")
}

func TestAssembleImportIsIdempotent(t *testing.T) {
	lib := "sub:\nwait 1 seconds\nreturn\n"
	twice, errs := assemble(t, map[string]string{
		"main.gm": "goto start\nimport \"lib.gm\"\nimport \"lib.gm\"\nstart:\ncall sub\nreturn\n",
		"lib.gm":  lib,
	}, "main.gm")
	require.Empty(t, errs)

	once, errs := assemble(t, map[string]string{
		"main.gm": "goto start\nimport \"lib.gm\"\nstart:\ncall sub\nreturn\n",
		"lib.gm":  lib,
	}, "main.gm")
	require.Empty(t, errs)

	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].Binary(), twice[i].Binary())
	}
}

func TestAssembleNamespaceIsolation(t *testing.T) {
	obj, errs := assemble(t, map[string]string{
		"main.gm": "import \"a.gm\" as A\nimport \"b.gm\" as B\ncall A.foo\ncall B.foo\nreturn\n",
		"a.gm":    "foo:\nwait 1 seconds\nreturn\n",
		"b.gm":    "foo:\nwait 2 seconds\nreturn\n",
	}, "main.gm")
	require.Empty(t, errs)

	callA, callB := obj[0], obj[1]
	require.Equal(t, OpCall, callA.Opcode)
	require.Equal(t, OpCall, callB.Opcode)
	assert.NotEqual(t, callA.GetBranchField(), callB.GetBranchField(),
		"A.foo and B.foo must resolve to distinct addresses")
}

func TestAssembleAliasClashReported(t *testing.T) {
	_, errs := assemble(t, map[string]string{
		"main.gm": "import \"a.gm\" as lib\nimport \"b.gm\" as lib\nreturn\n",
		"a.gm":    "return\n",
		"b.gm":    "return\n",
	}, "main.gm")
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "lib")
}

func TestAssembleRecursiveImportTerminates(t *testing.T) {
	_, errs := assemble(t, map[string]string{
		"main.gm": "import \"other.gm\"\nreturn\n",
		"other.gm": "import \"main.gm\"\nreturn\n",
	}, "main.gm")
	assert.Empty(t, errs)
}

func TestAssembleMissingImportListsSearchPath(t *testing.T) {
	_, errs := assemble(t, map[string]string{
		"main.gm": "import \"nope.gm\"\nreturn\n",
	}, "main.gm")
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "nope.gm")
	assert.Contains(t, errs[0].Error(), "which is (expanded out):")
}

func TestAssembleMacroBlockEmitsInstructions(t *testing.T) {
	src := "{{{ setup }}}\nlet n = 2\nemit(\"wait\", n)\nemit(\"velocity\", 0, n * 100)\n}}}\nwait {n} seconds\n"
	obj, errs := assemble(t, map[string]string{"prog.gm": src}, "prog.gm")
	require.Empty(t, errs)
	require.Len(t, obj, 3)

	assert.Equal(t, OpWait, obj[0].Opcode)
	assert.EqualValues(t, 2000, obj[0].Binary()&0xFFFF, "2s in milliseconds")
	assert.Equal(t, OpVelocity, obj[1].Opcode)
	assert.Equal(t, OpWait, obj[2].Opcode)
	assert.EqualValues(t, 2000, obj[2].Binary()&0xFFFF, "inline {n} sees the macro environment")
}

func TestAssembleMacroErrorAnchorsAtBlock(t *testing.T) {
	src := "wait 1 seconds\n{{{ bad }}}\nemit(\"nonsense\", 1)\n}}}\n"
	_, errs := assemble(t, map[string]string{"prog.gm": src}, "prog.gm")
	require.Len(t, errs, 1)

	ae, ok := errs[0].(*AssembleError)
	require.True(t, ok)
	assert.Equal(t, 1, ae.Primary.Line(), "macro errors anchor at the opening delimiter")
}

func TestAssembleUnresolvedLabelReported(t *testing.T) {
	_, errs := assemble(t, map[string]string{
		"prog.gm": "goto nowhere\n",
	}, "prog.gm")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "nowhere")
}
