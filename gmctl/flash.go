package gmctl

import (
	"bytes"
	"fmt"

	"github.com/USCRPL/GeckoMoped/gmasm"
	"github.com/USCRPL/GeckoMoped/gmwire"
)

const flashBlockInsns = 64 // 256 bytes / 4 bytes per instruction word

type flashPhase int

const (
	flashWaiting flashPhase = iota
	flashWaitingCancel
	flashReadback
)

type flashState struct {
	phase     flashPhase
	numBlocks int
	nextBlock int
	obj       gmasm.ObjectCode

	rb      []byte // accumulated readback stream
	sawData bool

	done chan error
}

// ErrFlashCancelled is returned from Flash when CancelFlash interrupted
// the exchange before the device reported completion.
var ErrFlashCancelled = fmt.Errorf("gmctl: flash cancelled")

// Flash programs obj into device flash over a lock-step 256-byte block
// exchange and blocks until the device reports completion, a fault, or
// the caller cancels via CancelFlash.
func (c *Controller) Flash(obj gmasm.ObjectCode) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("gmctl: not connected")
	}
	if c.flash != nil {
		c.mu.Unlock()
		return fmt.Errorf("gmctl: flash already in progress")
	}
	numBlocks := (len(obj) + flashBlockInsns - 1) / flashBlockInsns
	if numBlocks == 0 {
		numBlocks = 1
	}
	fs := &flashState{phase: flashWaiting, numBlocks: numBlocks, obj: obj, done: make(chan error, 1)}
	c.flash = fs
	c.drainQueryLocked()
	c.writeCommand(gmwire.EncodeFlashBlock(obj.FlashBlock(0, flashBlockInsns)))
	c.mu.Unlock()
	return <-fs.done
}

// CancelFlash transitions an in-progress Flash to WaitingCancel and
// issues CMD_ENDFLASH.
func (c *Controller) CancelFlash() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flash == nil {
		return
	}
	c.flash.phase = flashWaitingCancel
	c.writeCommand(gmwire.EncodeHeader(gmwire.CmdEndFlash))
}

// ReadbackFlash streams one axis's programmed flash contents back from
// the device, accumulating until the device stops sending (a read
// timeout ends the stream).
func (c *Controller) ReadbackFlash(axis int) ([]byte, error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil, fmt.Errorf("gmctl: not connected")
	}
	if c.flash != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("gmctl: flash exchange already in progress")
	}
	fs := &flashState{phase: flashReadback, done: make(chan error, 1)}
	c.flash = fs
	c.drainQueryLocked()
	c.writeCommand(gmwire.EncodeReadback(axis))
	c.mu.Unlock()
	if err := <-fs.done; err != nil {
		return nil, err
	}
	return fs.rb, nil
}

// VerifyFlash streams axis's programmed flash back and compares it
// against the wire image obj would have been programmed from, reporting
// the first instruction address that differs.
func (c *Controller) VerifyFlash(obj gmasm.ObjectCode, axis int) error {
	got, err := c.ReadbackFlash(axis)
	if err != nil {
		return err
	}
	want := obj.ReadbackBlock(0, len(obj))
	if bytes.Equal(got, want) {
		return nil
	}
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return fmt.Errorf("gmctl: flash verify mismatch at address %d", i/4)
		}
	}
	return fmt.Errorf("gmctl: flash verify length mismatch: device sent %d bytes, expected %d", len(got), len(want))
}

// pollFlashLocked advances whichever flash exchange is outstanding: the
// 2-byte block handshake, a cancel drain, or the readback stream.
func (c *Controller) pollFlashLocked() {
	fs := c.flash

	if fs.phase == flashReadback {
		buf := make([]byte, 256)
		n, err := c.transport.Read(buf)
		if err != nil {
			c.flash = nil
			fs.done <- err
			return
		}
		if n > 0 {
			fs.rb = append(fs.rb, buf[:n]...)
			fs.sawData = true
			return
		}
		if fs.sawData {
			// Rx timeout ends the stream.
			c.flash = nil
			fs.done <- nil
		}
		return
	}

	buf := make([]byte, 2)
	n, err := c.transport.Read(buf)
	if err != nil {
		c.flash = nil
		fs.done <- err
		return
	}
	if fs.phase == flashWaitingCancel {
		c.flash = nil
		fs.done <- ErrFlashCancelled
		return
	}
	if n < 2 {
		return
	}

	switch {
	case buf[0] == 'P' && buf[1] == 'P':
		fs.nextBlock++
		if fs.nextBlock >= fs.numBlocks {
			c.writeCommand(gmwire.EncodeHeader(gmwire.CmdEndFlash))
			return
		}
		addr := fs.nextBlock * flashBlockInsns
		c.writeCommand(gmwire.EncodeFlashBlock(fs.obj.FlashBlock(addr, flashBlockInsns)))
	case buf[0] == 'E':
		c.flash = nil
		fs.done <- nil
	default:
		c.flash = nil
		fs.done <- fmt.Errorf("gmctl: flash fault response %q", buf[:n])
	}
}
