package gmctl

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainSim is a scripted stand-in for the device chain: it executes RUN
// groups well enough to keep a believable program counter (branches,
// calls, returns) and answers the status queries with it, so the
// controller's device-PC-driven completion path gets exercised for real.
type chainSim struct {
	axes      int
	pc        uint16
	stack     []uint16
	loopsLeft map[uint16]int
	busyFor   int // queries that still report busy after a RUN
	busyLeft  int
}

func newChainSim(axes int) *chainSim {
	return &chainSim{axes: axes, loopsLeft: make(map[uint16]int)}
}

func (s *chainSim) respond(cmd []byte) []byte {
	if len(cmd) < 2 {
		return nil
	}
	switch gmwire.Command(binary.LittleEndian.Uint16(cmd)) {
	case gmwire.CmdRun:
		s.exec(cmd[2:])
		return nil
	case gmwire.CmdSetPC:
		s.pc = binary.LittleEndian.Uint16(cmd[2:])
		return nil
	case gmwire.CmdEStop, gmwire.CmdStop:
		return nil
	case gmwire.CmdQShort:
		return s.shortResponse()
	case gmwire.CmdQLong:
		return s.longResponse()
	default:
		return nil
	}
}

// exec advances the simulated PC over one RUN group. The group start is
// wherever SETPC (or fallthrough) last left the PC.
func (s *chainSim) exec(payload []byte) {
	nWords := len(payload) / 4
	if nWords == 0 {
		return
	}
	// The group's control flow is decided by its last (or only) word.
	w := binary.LittleEndian.Uint32(payload[4*(nWords-1):])
	w = w>>16 | w<<16 // undo the wire's high/low half swap
	opcode := gmasm.Opcode((w >> 24) & 0x3F)
	target := uint16(w & 0xFFFF)
	loops := int((w >> 16) & 0xFF)

	switch opcode {
	case gmasm.OpGoto:
		if loops == 0 {
			s.pc = target
			break
		}
		at := s.pc
		if _, seen := s.loopsLeft[at]; !seen {
			s.loopsLeft[at] = loops
		}
		if s.loopsLeft[at] > 0 {
			s.loopsLeft[at]--
			s.pc = target
		} else {
			delete(s.loopsLeft, at)
			s.pc = at + 1
		}
	case gmasm.OpCall:
		s.stack = append(s.stack, s.pc+1)
		s.pc = target
	case gmasm.OpReturn:
		if n := len(s.stack); n > 0 {
			s.pc = s.stack[n-1]
			s.stack = s.stack[:n-1]
		} else {
			s.pc++
		}
	default:
		s.pc += uint16(nWords)
	}
	s.busyLeft = s.busyFor
}

func (s *chainSim) flags(axis int) uint16 {
	f := uint16(axis) & gmwire.FlagAxisMask
	if s.busyLeft > 0 {
		f |= gmwire.FlagBusy
	}
	return f
}

func (s *chainSim) shortResponse() []byte {
	body := make([]byte, 2+4+2*(s.axes-1))
	body[0], body[1] = 0x00, 0xFF // sync filler
	binary.LittleEndian.PutUint16(body[2:], s.flags(0))
	binary.LittleEndian.PutUint16(body[4:], s.pc)
	for a := 1; a < s.axes; a++ {
		binary.LittleEndian.PutUint16(body[6+2*(a-1):], s.flags(a))
	}
	if s.busyLeft > 0 {
		s.busyLeft--
	}
	return body
}

func (s *chainSim) longResponse() []byte {
	body := make([]byte, 2+10*s.axes)
	body[0], body[1] = 0x00, 0xFF
	for a := 0; a < s.axes; a++ {
		at := 2 + 10*a
		binary.LittleEndian.PutUint16(body[at:], s.flags(a))
		binary.LittleEndian.PutUint16(body[at+2:], s.pc)
		binary.LittleEndian.PutUint32(body[at+4:], 0)
		binary.LittleEndian.PutUint16(body[at+8:], 0x8000) // velocity +0
	}
	if s.busyLeft > 0 {
		s.busyLeft--
	}
	return body
}

// buildLinearProgram returns a 3-instruction ObjectCode: HOME X, WAIT 1s,
// RETURN -- HOME and WAIT are slow (long query), RETURN is fast (short
// query), so both response styles get exercised.
func buildLinearProgram(t *testing.T) gmasm.ObjectCode {
	t.Helper()
	f := gmasm.NewSourceFile("prog.gm", []string{"home x", "wait 1 seconds", "return"})
	home := gmasm.NewHome(f.AnchorAt(0), gmasm.AxisX, false)
	wait, err := gmasm.NewWait(f.AnchorAt(1), 1.0)
	require.NoError(t, err)
	ret := gmasm.NewReturn(f.AnchorAt(2))
	return gmasm.ObjectCode{home, wait, ret}
}

func newSimController(axes int) (*Controller, *chainSim) {
	sim := newChainSim(axes)
	c := New(NewDummyTransport(sim.respond), WithPollInterval(30*time.Millisecond))
	return c, sim
}

func TestControllerConnectStartsReady(t *testing.T) {
	c, _ := newSimController(1)
	assert.Equal(t, StateDisconnected, c.State())
	c.Connect()
	defer c.Disconnect()
	assert.Equal(t, StateReady, c.State())
}

func TestControllerEStopResetsPCAndDevices(t *testing.T) {
	// A silent transport: the worker never gets a response to mutate the
	// device table with, so the records only change through EStop itself.
	c := New(NewDummyTransport(nil))
	c.Connect()
	defer c.Disconnect()

	c.LoadProgram(buildLinearProgram(t))
	rec := c.Devices().Record(0)
	rec.PC = 9
	rec.Offset = 5

	require.NoError(t, c.EStop())
	assert.EqualValues(t, 0, c.PC())
	assert.Equal(t, StateReady, c.State())
	assert.EqualValues(t, 0, rec.PC)
	assert.EqualValues(t, 0, rec.Offset)
}

func TestControllerDiscoversAxesFromLongQuery(t *testing.T) {
	var (
		mu     sync.Mutex
		estops int
	)
	sim := newChainSim(3)
	tr := NewDummyTransport(func(cmd []byte) []byte {
		if len(cmd) >= 2 && gmwire.Command(binary.LittleEndian.Uint16(cmd)) == gmwire.CmdEStop {
			mu.Lock()
			estops++
			mu.Unlock()
		}
		return sim.respond(cmd)
	})
	c := New(tr, WithPollInterval(30*time.Millisecond))
	c.Connect()
	defer c.Disconnect()

	// The periodic long query discovers every axis answering on the bus.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.devices.NumDevices() == 3
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	var names []string
	for _, rec := range c.devices.All() {
		rec.Offset = 7
		names = append(names, rec.Name)
	}
	c.mu.Unlock()
	assert.Equal(t, []string{"X", "Y", "Z"}, names)

	require.NoError(t, c.EStop())
	mu.Lock()
	assert.Equal(t, 1, estops)
	mu.Unlock()
	c.mu.Lock()
	for _, rec := range c.devices.All() {
		assert.Zero(t, rec.Offset)
	}
	c.mu.Unlock()
}

func TestControllerRunAdvancesThroughProgram(t *testing.T) {
	c, _ := newSimController(1)
	c.Connect()
	defer c.Disconnect()
	c.LoadProgram(buildLinearProgram(t))

	require.NoError(t, c.Run())

	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 3, c.PC())
}

func TestControllerRunWaitsOutBusyDevices(t *testing.T) {
	c, sim := newSimController(1)
	sim.busyFor = 2 // first two status queries after each RUN report busy
	c.Connect()
	defer c.Disconnect()
	c.LoadProgram(buildLinearProgram(t))

	require.NoError(t, c.Run())
	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 3, c.PC())
}

func TestControllerBreakpointStopsRun(t *testing.T) {
	c, _ := newSimController(1)
	c.Connect()
	defer c.Disconnect()
	obj := buildLinearProgram(t)
	c.LoadProgram(obj)

	ok := c.ToggleBreakpoint(obj[1].Anchor)
	require.True(t, ok)

	require.NoError(t, c.Run())
	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, c.PC())
}

func TestControllerStepRunsOneInstruction(t *testing.T) {
	c, _ := newSimController(1)
	c.Connect()
	defer c.Disconnect()
	c.LoadProgram(buildLinearProgram(t))

	require.NoError(t, c.Step())
	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, c.PC())

	require.NoError(t, c.Step())
	require.Eventually(t, func() bool {
		return c.State() == StateReady && c.PC() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControllerStepNextStepsOverCall(t *testing.T) {
	// main: CALL sub at 0, WAIT at 1; sub: WAIT at 2, RETURN at 3.
	f := gmasm.NewSourceFile("call.gm", []string{"call sub", "wait 1 seconds", "wait 1 seconds", "return"})
	call := gmasm.NewCall(f.AnchorAt(0), "sub")
	w1, err := gmasm.NewWait(f.AnchorAt(1), 1.0)
	require.NoError(t, err)
	w2, err := gmasm.NewWait(f.AnchorAt(2), 1.0)
	require.NoError(t, err)
	ret := gmasm.NewReturn(f.AnchorAt(3))
	call.SetBranch(&gmasm.Label{Address: 2})
	obj := gmasm.ObjectCode{call, w1, w2, ret}

	c, _ := newSimController(1)
	c.Connect()
	defer c.Disconnect()
	c.LoadProgram(obj)

	require.NoError(t, c.StepNext())
	require.Eventually(t, func() bool {
		return c.State() == StateReady && c.PC() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControllerPauseDefersCompletion(t *testing.T) {
	c, _ := newSimController(1)
	c.Connect()
	defer c.Disconnect()
	c.LoadProgram(buildLinearProgram(t))

	require.NoError(t, c.Run())
	c.Pause()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.deferredDone || c.state == StateReady
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Resume())
	require.Eventually(t, func() bool {
		return c.State() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
}

func TestControllerSimulatedInputsSentOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		insims [][]byte
	)
	sim := newChainSim(1)
	tr := NewDummyTransport(func(cmd []byte) []byte {
		if len(cmd) >= 2 && gmwire.Command(binary.LittleEndian.Uint16(cmd)) == gmwire.CmdInsim {
			mu.Lock()
			insims = append(insims, append([]byte(nil), cmd...))
			mu.Unlock()
			return nil
		}
		return sim.respond(cmd)
	})
	c := New(tr, WithPollInterval(30*time.Millisecond))
	c.Connect()
	defer c.Disconnect()

	c.SetSimulatedInputs(0x0005)
	c.SetSimulatedInputs(0x0005) // duplicate, should coalesce
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(insims) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 0x0005, binary.LittleEndian.Uint16(insims[0][2:]))
}

func TestFlashProgramsAllBlocksThenCompletes(t *testing.T) {
	// 70 instructions spans two 64-instruction blocks, so the second
	// CMD_FLASH write only happens after the device acks the first.
	f := gmasm.NewSourceFile("flash.gm", []string{"wait 1 seconds"})
	obj := make(gmasm.ObjectCode, 70)
	for i := range obj {
		w, err := gmasm.NewWait(f.AnchorAt(0), 1.0)
		require.NoError(t, err)
		obj[i] = w
	}

	seen := 0
	responder := func(cmd []byte) []byte {
		code := gmwire.Command(binary.LittleEndian.Uint16(cmd))
		if code != gmwire.CmdFlash {
			return nil
		}
		seen++
		if seen < 2 {
			return []byte{'P', 'P'}
		}
		return []byte{'E', '0'}
	}
	c := New(NewDummyTransport(responder))
	c.Connect()
	defer c.Disconnect()

	err := c.Flash(obj)
	assert.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestVerifyFlashComparesDeviceImage(t *testing.T) {
	obj := buildLinearProgram(t)
	image := obj.ReadbackBlock(0, len(obj))

	readbackResponder := func(resp []byte) ResponderFunc {
		return func(cmd []byte) []byte {
			if len(cmd) >= 2 && gmwire.Command(binary.LittleEndian.Uint16(cmd)) == gmwire.CmdReadback {
				return resp
			}
			return nil
		}
	}

	c := New(NewDummyTransport(readbackResponder(image)))
	c.Connect()
	assert.NoError(t, c.VerifyFlash(obj, 0))
	c.Disconnect()

	corrupt := append([]byte(nil), image...)
	corrupt[4] ^= 0xFF // second instruction word
	c = New(NewDummyTransport(readbackResponder(corrupt)))
	c.Connect()
	defer c.Disconnect()
	err := c.VerifyFlash(obj, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address 1")
}

func TestReadbackFlashStreamsUntilQuiet(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	responder := func(cmd []byte) []byte {
		if len(cmd) >= 2 && gmwire.Command(binary.LittleEndian.Uint16(cmd)) == gmwire.CmdReadback {
			return payload
		}
		return nil
	}
	c := New(NewDummyTransport(responder))
	c.Connect()
	defer c.Disconnect()

	got, err := c.ReadbackFlash(0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
