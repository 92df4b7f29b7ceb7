// Package gmdrv provides the top-level facade that binds assembler
// output to a running controller: connect, load, run, pause, resume,
// stop, estop, and wait-for-completion.
package gmdrv

import (
	"context"
	"fmt"
	"time"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmconfig"
	"github.com/USCRPL/GeckoMoped/gmctl"
)

// Driver owns a Controller and the Assembler configuration needed to
// compile a source file into an ObjectCode ready to run.
type Driver struct {
	cfg  *gmconfig.Project
	ctl  *gmctl.Controller
	tr   gmctl.Transport
	open gmasm.FileOpener

	waitPoll time.Duration
}

// New returns a Driver that will assemble with opener and cfg, but is not
// yet connected to any transport.
func New(opener gmasm.FileOpener, cfg *gmconfig.Project) *Driver {
	if cfg == nil {
		cfg = gmconfig.Default()
	}
	return &Driver{cfg: cfg, open: opener, waitPoll: 100 * time.Millisecond}
}

// Connect opens the serial port and starts the controller's background
// worker. Passing an empty port opens a DummyTransport instead, for
// --simulate runs.
func (d *Driver) Connect(port string) error {
	var tr gmctl.Transport
	if port == "" {
		tr = gmctl.NewDummyTransport(nil)
	} else {
		readTimeout := time.Duration(d.cfg.ReadTimeoutMS) * time.Millisecond
		st, err := gmctl.OpenSerial(port, readTimeout)
		if err != nil {
			return fmt.Errorf("gmdrv: connect %s: %w", port, err)
		}
		tr = st
	}
	d.tr = tr
	d.ctl = gmctl.New(tr,
		gmctl.WithPollInterval(time.Duration(d.cfg.PollIntervalMS)*time.Millisecond),
		gmctl.WithReadTimeout(time.Duration(d.cfg.ReadTimeoutMS)*time.Millisecond),
	)
	d.ctl.Connect()
	return nil
}

// Shutdown disconnects the controller and releases the transport.
func (d *Driver) Shutdown() {
	if d.ctl == nil {
		return
	}
	d.ctl.Disconnect()
}

// LoadProgram assembles src and installs the result as the controller's
// current program, searching imports along the configured library search
// path. The assembler gets no token bindings, so {project}/{userlib}/
// {stdlib} placeholders in that path are not expanded.
func (d *Driver) LoadProgram(src string) error {
	tokens := map[string]string{}
	asm := gmasm.NewAssembler(d.open, d.cfg.LibraryPath, tokens, d.cfg.ErrorThreshold)
	obj, errs := asm.Assemble(src)
	if len(errs) > 0 {
		return fmt.Errorf("gmdrv: assemble %s: %d error(s), first: %v", src, len(errs), errs[0])
	}
	d.ctl.LoadProgram(obj)
	return nil
}

// Run starts execution from the current PC.
func (d *Driver) Run() error { return d.ctl.Run() }

// Pause requests the in-flight instruction finish, then halts.
func (d *Driver) Pause() error { d.ctl.Pause(); return nil }

// Resume continues a paused run.
func (d *Driver) Resume() error { return d.ctl.Resume() }

// Stop halts stepping and returns to Ready.
func (d *Driver) Stop() error { return d.ctl.Stop() }

// EStop issues an emergency stop with bounded lock acquisition.
func (d *Driver) EStop() { d.ctl.EStop() }

// IsConnected reports whether Connect has succeeded and Shutdown has not
// yet been called.
func (d *Driver) IsConnected() bool {
	return d.ctl != nil && d.ctl.State() != gmctl.StateDisconnected
}

// IsRunning reports whether the controller is actively stepping through
// the program.
func (d *Driver) IsRunning() bool {
	return d.ctl != nil && d.ctl.State() == gmctl.StateRunning
}

// IsPaused reports whether the controller is paused mid- or
// between-instruction.
func (d *Driver) IsPaused() bool {
	if d.ctl == nil {
		return false
	}
	s := d.ctl.State()
	return s == gmctl.StatePaused || s == gmctl.StateHold
}

// WaitForProgram blocks until the controller leaves Running (the program
// ran to completion, hit a breakpoint, or was paused or stopped) or ctx is
// done. Uses a bounded ticker poll (default 100ms).
func (d *Driver) WaitForProgram(ctx context.Context) error {
	ticker := time.NewTicker(d.waitPoll)
	defer ticker.Stop()
	for {
		if d.ctl.State() != gmctl.StateRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AxisPosition returns the last-reported, offset-adjusted position for
// axis.
func (d *Driver) AxisPosition(axis int) (int32, error) {
	if d.ctl == nil {
		return 0, fmt.Errorf("gmdrv: not connected")
	}
	return d.ctl.AxisPosition(axis), nil
}

// AxisVelocity returns the last-reported velocity for axis.
func (d *Driver) AxisVelocity(axis int) (int16, error) {
	if d.ctl == nil {
		return 0, fmt.Errorf("gmdrv: not connected")
	}
	return d.ctl.AxisVelocity(axis), nil
}
