// Package gmctl implements the device controller: the protocol state
// machine and polling engine that drives a chain of up to four axis
// controllers over a half-duplex serial bus.
package gmctl

import (
	"time"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmdev"
	"github.com/USCRPL/GeckoMoped/gmwire"
	"github.com/sirupsen/logrus"
)

// State is the controller's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateReady
	StateRunning
	StateHold
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHold:
		return "hold"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// SteppingMode governs what happens when the current instruction
// completes.
type SteppingMode int

const (
	StepStopped SteppingMode = iota
	StepRunUntilBreak
	StepInsn
	StepRunUntilBreakOrAddrMatch
	StepReturn
	StepCursor
)

// Controller is the single owner of the ObjectCode vector, the breakpoint
// map, the device table, and the serial port handle; all are mutated only
// under the one coarse mutex mu.
type Controller struct {
	mu *timedMutex

	transport Transport
	notifier  Notifier
	log       *logrus.Entry

	readTimeout  time.Duration
	pollInterval time.Duration

	state        State
	step         SteppingMode
	target       uint16 // address match target for RunUntilBreakOrAddrMatch/StepReturn/StepCursor
	pc           uint16
	deferredDone bool

	obj         gmasm.ObjectCode
	breakpoints map[uint16]*gmasm.Breakpoint
	modAsm      bool // memory barrier: set whenever a fresh ObjectCode is installed

	devices *gmdev.Table

	lastInsim    uint16
	pendingInsim bool
	insimSent    bool

	awaitingQuery queryKind
	rx            []byte // partial query response, accumulated across ticks
	waitReady     bool   // an instruction is in flight; complete when all axes idle
	instDone      bool   // the instruction in flight was instant; complete next tick
	nextPC        uint16
	chainLen      int
	sendNext      bool
	lastPoll      time.Time

	flash *flashState

	shutdown chan struct{}
	done     chan struct{}
}

// Option configures a new Controller.
type Option func(*Controller)

// WithNotifier installs the Notifier that observes wire-level problems.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithPollInterval overrides the long-query polling cadence (default
// 200ms).
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithReadTimeout overrides the per-read deadline (default 50ms).
func WithReadTimeout(d time.Duration) Option {
	return func(c *Controller) { c.readTimeout = d }
}

// WithLogger installs a logrus entry used for the worker's catch-log-
// continue error handling.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Controller) { c.log = l }
}

// New returns a Disconnected Controller bound to transport.
func New(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		mu:           newTimedMutex(),
		transport:    transport,
		notifier:     nullNotifier{},
		log:          logrus.NewEntry(logrus.StandardLogger()),
		readTimeout:  50 * time.Millisecond,
		pollInterval: 200 * time.Millisecond,
		state:        StateDisconnected,
		breakpoints:  make(map[uint16]*gmasm.Breakpoint),
		devices:      gmdev.NewTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect transitions Disconnected -> Ready and starts the background
// I/O worker.
func (c *Controller) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return
	}
	c.transport.SetReadTimeout(c.readTimeout)
	c.state = StateReady
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	go c.runWorker()
}

// Disconnect stops the background worker and transitions to
// Disconnected. Blocks until the worker, which samples the shutdown
// channel between ticks, has exited cleanly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	close(c.shutdown)
	c.mu.Unlock()
	<-c.done
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PC returns the controller's current program counter.
func (c *Controller) PC() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

// Devices returns the device table backing this controller. The table is
// guarded by the controller mutex, not its own: while the worker is
// running, read per-axis state through the locked accessors below rather
// than through the records directly.
func (c *Controller) Devices() *gmdev.Table { return c.devices }

// NumDevices returns the number of axes currently answering on the bus.
func (c *Controller) NumDevices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices.NumDevices()
}

// AxisPosition returns the last-reported, offset-adjusted position for
// axis.
func (c *Controller) AxisPosition(axis int) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices.Record(axis).ReportedPosition()
}

// AxisVelocity returns the last-reported velocity for axis.
func (c *Controller) AxisVelocity(axis int) int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices.Record(axis).Velocity
}

// LoadProgram installs a freshly assembled ObjectCode, resets the PC on
// both sides of the wire, and reprojects every breakpoint against the new
// code.
func (c *Controller) LoadProgram(obj gmasm.ObjectCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obj = obj
	c.pc = 0
	c.modAsm = true
	if c.state != StateDisconnected {
		c.writeCommand(gmwire.EncodeSetPC(0))
	}
	c.reprojectBreakpointsLocked()
}

// Run starts RunUntilBreak stepping from the current PC
// (Ready -> Running).
func (c *Controller) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	c.step = StepRunUntilBreak
	c.state = StateRunning
	c.sendCurrentLocked()
	return nil
}

// Step runs exactly one instruction (Ready -> Running -> Ready).
func (c *Controller) Step() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	c.step = StepInsn
	c.state = StateRunning
	c.sendCurrentLocked()
	return nil
}

// StepNext runs until the instruction after the current one: it steps
// over a CALL, a conditional IF, or a counted GOTO instead of following
// it. For anything else "next" and "step" coincide, so it degrades to
// Step.
func (c *Controller) StepNext() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	insn := c.currentInsnLocked()
	if insn == nil || !insn.IsNextable() {
		c.step = StepInsn
	} else {
		c.target = c.pc + 1
		c.step = StepRunUntilBreakOrAddrMatch
	}
	c.state = StateRunning
	c.sendCurrentLocked()
	return nil
}

// StepReturn runs until the PC reaches returnAddr (the instruction after
// the CALL being stepped out of) or a breakpoint fires first.
func (c *Controller) StepReturn(returnAddr uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil
	}
	c.target = returnAddr
	c.step = StepReturn
	c.state = StateRunning
	c.sendCurrentLocked()
	return nil
}

// RunToCursor maps anchor to an instruction address and runs until the PC
// reaches it (or a breakpoint fires first). Reports false if anchor does
// not correspond to any instruction in the current program.
func (c *Controller) RunToCursor(anchor gmasm.SourceAnchor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	addr, ok := c.addressForAnchorLocked(anchor)
	if !ok {
		return false
	}
	c.target = addr
	c.step = StepCursor
	c.state = StateRunning
	c.sendCurrentLocked()
	return true
}

// SetPC repositions execution at addr, informing the device chain via
// CMD_SETPC. Only honored in Ready state.
func (c *Controller) SetPC(addr uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.step = StepStopped
	c.pc = addr
	c.writeCommand(gmwire.EncodeSetPC(addr))
}

// SetSimulatedInputs schedules a CMD_INSIM update; the worker transmits
// it on its next tick unless it matches the mask already on the wire.
func (c *Controller) SetSimulatedInputs(mask uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insimSent && mask == c.lastInsim {
		return
	}
	c.lastInsim = mask
	c.pendingInsim = true
}

// Erase issues CMD_ERASE, clearing the devices' flash program store.
func (c *Controller) Erase() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCommand(gmwire.EncodeHeader(gmwire.CmdErase))
}

func (c *Controller) currentInsnLocked() *gmasm.Instruction {
	if int(c.pc) >= len(c.obj) {
		return nil
	}
	return c.obj[c.pc]
}

// Pause requests the instruction in flight finish before halting
// (Running -> Paused, or Ready -> Hold if nothing is in flight).
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning:
		c.state = StatePaused
	case StateReady:
		c.state = StateHold
	}
}

// Resume continues a paused run (Paused -> Running, Hold -> Ready). If
// the device already finished its instruction while paused,
// deferredDone replays the completion now.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StatePaused:
		c.state = StateRunning
		if c.deferredDone {
			c.deferredDone = false
			c.doneLocked()
		}
	case StateHold:
		c.state = StateReady
	}
	return nil
}

// Stop drops stepping to Stopped and transitions to Ready, abandoning any
// instruction still in flight.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = StepStopped
	c.sendNext = false
	c.waitReady = false
	c.instDone = false
	if c.state != StateDisconnected {
		c.state = StateReady
	}
	return c.writeCommand(gmwire.EncodeHeader(gmwire.CmdStop))
}

// EStop issues CMD_ESTOP using a bounded lock acquisition so it makes
// forward progress even if the worker is wedged. PC is
// reset to 0 and every device offset is cleared.
func (c *Controller) EStop() error {
	if !c.mu.TryLockTimeout(100 * time.Millisecond) {
		// Worker is wedged; send anyway without coordination to guarantee
		// forward progress.
		_, err := c.transport.Write(gmwire.EncodeHeader(gmwire.CmdEStop))
		return err
	}
	defer c.mu.Unlock()
	err := c.writeCommand(gmwire.EncodeHeader(gmwire.CmdEStop))
	c.pc = 0
	c.step = StepStopped
	c.sendNext = false
	c.waitReady = false
	c.instDone = false
	if c.state != StateDisconnected {
		c.state = StateReady
	}
	c.devices.Reset()
	c.writeCommand(gmwire.EncodeSetPC(0))
	return err
}

func (c *Controller) writeCommand(frame []byte) error {
	_, err := c.transport.Write(frame)
	return err
}
