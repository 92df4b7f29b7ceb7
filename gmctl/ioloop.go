package gmctl

import (
	"time"

	"github.com/USCRPL/GeckoMoped/gmwire"
)

type queryKind int

const (
	queryNone queryKind = iota
	queryShort
	queryLong
)

// runWorker is the single background worker driving the serial link. It
// never sleeps while holding mu.
func (c *Controller) runWorker() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	defer close(c.done)
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick is one pass of the I/O loop. Order of business: flash exchange,
// simulated-input push, instant-instruction completion, outstanding query
// response, unsolicited-byte resync, then send-next / periodic poll.
func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.modAsm {
		// A fresh code image was installed by the foreground; drop
		// anything the worker believed about the previous one, including
		// a response still owed to it.
		c.modAsm = false
		c.sendNext = false
		c.waitReady = false
		c.instDone = false
		c.chainLen = 0
		c.drainQueryLocked()
	}
	if c.flash != nil {
		c.pollFlashLocked()
		return
	}
	if c.pendingInsim {
		c.pendingInsim = false
		c.insimSent = true
		c.writeCommand(gmwire.EncodeInsim(c.lastInsim))
		return
	}
	if c.instDone {
		// The last instruction sent had a statically-known next PC and no
		// round trip; complete it now rather than from the send path, so a
		// deep run never recurses send->done->send.
		c.instDone = false
		c.pc = c.nextPC
		c.doneLocked()
		return
	}
	if c.awaitingQuery != queryNone {
		c.pollQueryLocked()
		return
	}

	// Bytes arriving outside any query exchange mean the host and the
	// chain lost sync; requery for full status.
	buf := make([]byte, 128)
	n, err := c.transport.Read(buf)
	if err != nil {
		c.notifier.Notify(WireEvent{Kind: EventIOError, Err: err, Suggest: ActionDisconnect})
		c.log.WithError(err).Warn("serial read failed")
		return
	}
	if n > 0 {
		c.issueLongQueryLocked()
		return
	}

	if c.state == StateRunning && c.sendNext {
		c.sendNext = false
		c.sendCurrentLocked()
		return
	}
	if time.Since(c.lastPoll) >= c.pollInterval {
		c.issueLongQueryLocked()
	}
}

// sendCurrentLocked encodes and transmits the chain group starting at the
// current PC (1..4 words tied by the chain bit), then arranges the follow
// up its profile calls for: nothing for an instant instruction, a short
// query for a fast one, a full long query otherwise.
func (c *Controller) sendCurrentLocked() {
	c.drainQueryLocked()
	c.modAsm = false // this send is from the freshly installed image
	start := int(c.pc)
	var words []uint32
	idx := start
	for idx < len(c.obj) && len(words) < 4 {
		insn := c.obj[idx]
		words = append(words, insn.Binary())
		idx++
		if !insn.IsChained() {
			break
		}
	}
	if len(words) == 0 {
		c.step = StepStopped
		c.state = StateReady
		return
	}
	last := c.obj[idx-1]
	c.chainLen = len(words)
	c.writeCommand(gmwire.EncodeRun(words))

	// The instruction now executing decides how much of the mirrored
	// status is trustworthy, and RESPOS re-bases the reported position.
	first := c.obj[start]
	for _, rec := range c.devices.All() {
		rec.PositionValid = first.IsPosValid()
		rec.VelocityValid = first.IsVelValid()
		if first.IsResetOffset() && (first.Binary()>>16)&0xFF&(1<<uint(rec.Axis)) != 0 {
			rec.Offset = int32(first.ResetOffsetValue())
		}
	}

	if instant, next := last.IsInstant(); instant {
		if next < 0 {
			next = idx
		}
		c.nextPC = uint16(next)
		c.instDone = true
		return
	}
	c.waitReady = true
	if last.IsFast() {
		c.writeCommand(gmwire.EncodeHeader(gmwire.CmdQShort))
		c.awaitingQuery = queryShort
	} else {
		c.writeCommand(gmwire.EncodeHeader(gmwire.CmdQLong))
		c.awaitingQuery = queryLong
	}
	c.lastPoll = time.Now()
}

func (c *Controller) issueLongQueryLocked() {
	c.writeCommand(gmwire.EncodeHeader(gmwire.CmdQLong))
	c.awaitingQuery = queryLong
	c.lastPoll = time.Now()
}

// drainQueryLocked abandons any status poll still outstanding, discarding
// whatever part of its response has arrived, so a fresh command/response
// exchange starts clean on the half-duplex line.
func (c *Controller) drainQueryLocked() {
	if c.awaitingQuery == queryNone && len(c.rx) == 0 {
		return
	}
	buf := make([]byte, 256)
	c.transport.Read(buf)
	c.rx = nil
	c.awaitingQuery = queryNone
}

// pollQueryLocked accumulates response bytes for the outstanding query and
// decodes them once the line goes quiet for a tick, so a response split
// across reads is never misparsed.
func (c *Controller) pollQueryLocked() {
	buf := make([]byte, 256)
	n, err := c.transport.Read(buf)
	if err != nil {
		c.awaitingQuery = queryNone
		c.rx = nil
		c.notifier.Notify(WireEvent{Kind: EventIOError, Err: err, Suggest: ActionContinue})
		c.log.WithError(err).Warn("serial read failed awaiting query response")
		return
	}
	if n > 0 {
		c.rx = append(c.rx, buf[:n]...)
		return
	}
	if len(c.rx) == 0 {
		return
	}
	body := c.rx
	c.rx = nil
	kind := c.awaitingQuery
	c.awaitingQuery = queryNone

	switch kind {
	case queryShort:
		resp, err := gmwire.DecodeShort(body)
		if err != nil {
			// Devices do not respond to every RUN; fall back to a long
			// query to find out where the chain actually is.
			c.issueLongQueryLocked()
			return
		}
		c.applyShortLocked(resp)
	case queryLong:
		resp, err := gmwire.DecodeLong(body)
		if err != nil {
			return
		}
		c.applyLongLocked(resp)
	}
	c.testReadyLocked()
}

func (c *Controller) applyShortLocked(resp []gmwire.ShortResponse) {
	for _, r := range resp {
		if r.Axis < 0 || r.Axis > 3 {
			c.notifier.Notify(WireEvent{Kind: EventUnknownAxis, Axis: r.Axis, Suggest: ActionContinue})
			continue
		}
		c.devices.Record(r.Axis).ApplyShort(r)
		if r.HasPC {
			c.pc = r.PC
		}
	}
}

func (c *Controller) applyLongLocked(resp []gmwire.LongResponse) {
	for _, rec := range c.devices.All() {
		rec.NoResponseCount++
	}
	for _, r := range resp {
		if r.Axis < 0 || r.Axis > 3 {
			c.notifier.Notify(WireEvent{Kind: EventUnknownAxis, Axis: r.Axis, Suggest: ActionContinue})
			continue
		}
		rec := c.devices.Record(r.Axis)
		rec.ApplyLong(r)
		if r.Axis == 0 {
			c.pc = r.PC
		}
	}
	c.checkConsistencyLocked()
}

// checkConsistencyLocked runs the per-poll health checks over the device
// table: a stale no-response counter, error bits, and a PC that wandered
// outside the current chain group. Any failure purges unread bytes and
// forces a fresh long query to resynchronize.
func (c *Controller) checkConsistencyLocked() {
	bad := false
	lo := int(c.pc) - c.chainLen
	hi := int(c.pc) + c.chainLen
	for _, rec := range c.devices.All() {
		switch {
		case rec.NoResponseCount > 1:
			c.notifier.Notify(WireEvent{Kind: EventNoResponse, Axis: rec.Axis, Suggest: ActionDisconnect})
			bad = true
		case rec.IsPICError():
			c.notifier.Notify(WireEvent{Kind: EventPICError, Axis: rec.Axis, Suggest: ActionEStop})
			bad = true
		case rec.IsFPGAError():
			c.notifier.Notify(WireEvent{Kind: EventFPGAError, Axis: rec.Axis, Suggest: ActionEStop})
			bad = true
		case c.state == StateRunning && (int(rec.PC) < lo || int(rec.PC) > hi):
			c.notifier.Notify(WireEvent{Kind: EventPCDivergence, Axis: rec.Axis, Suggest: ActionEStop})
			bad = true
		}
	}
	if bad {
		purge := make([]byte, 256)
		c.transport.Read(purge)
		c.issueLongQueryLocked()
	}
}

// testReadyLocked completes the outstanding instruction once every
// responding axis has dropped its busy bit. The device-reported PC (set by
// the apply path above) is authoritative: it is how the host learns where
// a conditional branch, counted loop, or subroutine return actually went.
func (c *Controller) testReadyLocked() {
	if !c.waitReady {
		return
	}
	for _, rec := range c.devices.All() {
		if rec.IsBusy() {
			return
		}
	}
	c.waitReady = false
	c.doneLocked()
}

// doneLocked applies the stepping policy once an instruction has
// completed. If a pause raced in ahead of the completion, the transition
// is deferred and replayed on the next Paused->Running edge. The
// controller never recurses through send->done->send; continuing is
// expressed as the sendNext flag the I/O loop samples on its next tick.
func (c *Controller) doneLocked() {
	if c.state == StatePaused {
		c.deferredDone = true
		return
	}
	switch c.step {
	case StepRunUntilBreak:
		if c.atBreakpointLocked() {
			break
		}
		c.sendNext = true
		return
	case StepRunUntilBreakOrAddrMatch, StepReturn, StepCursor:
		if c.pc == c.target || c.atBreakpointLocked() {
			break
		}
		c.sendNext = true
		return
	}
	c.step = StepStopped
	c.state = StateReady
}

func (c *Controller) atBreakpointLocked() bool {
	_, ok := c.breakpoints[c.pc]
	return ok
}
