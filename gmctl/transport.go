package gmctl

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// Transport is a half-duplex byte stream to the controller chain. Write
// sends a complete command frame; Read fills p with whatever bytes are
// currently available, respecting the last SetReadTimeout deadline.
type Transport interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	Close() error
}

// SerialTransport is the real RS485 link to the axis controller chain,
// opened at the 19200 8N1 configuration the controller firmware expects.
type SerialTransport struct {
	port *serial.Port
}

// OpenSerial opens port at the baud rate and framing the controller
// firmware expects.
func OpenSerial(port string, readTimeout time.Duration) (*SerialTransport, error) {
	cfg := &serial.Config{
		Name:        port,
		Baud:        19200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &SerialTransport{port: p}, nil
}

func (s *SerialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *SerialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialTransport) Close() error                { return s.port.Close() }

// SetReadTimeout is a no-op: tarm/serial only honors ReadTimeout at open
// time, and OpenSerial already applied the caller's deadline there.
func (s *SerialTransport) SetReadTimeout(d time.Duration) error {
	return nil
}

// ResponderFunc synthesizes a response frame for a written command, or
// returns nil for "no response" (e.g. ESTOP/STOP/PAUSE/RESUME/SETPC).
type ResponderFunc func(cmd []byte) []byte

// DummyTransport is an in-memory stand-in for the serial link, used by
// tests and --simulate runs. Writes are handed to Responder; any bytes
// it returns are queued for the next Read calls.
type DummyTransport struct {
	Responder ResponderFunc

	pending []byte
	closed  bool
}

// NewDummyTransport returns a DummyTransport driven by respond.
func NewDummyTransport(respond ResponderFunc) *DummyTransport {
	return &DummyTransport{Responder: respond}
}

func (d *DummyTransport) Write(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if d.Responder != nil {
		if resp := d.Responder(p); len(resp) > 0 {
			d.pending = append(d.pending, resp...)
		}
	}
	return len(p), nil
}

func (d *DummyTransport) Read(p []byte) (int, error) {
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	if len(d.pending) == 0 {
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *DummyTransport) SetReadTimeout(time.Duration) error { return nil }

func (d *DummyTransport) Close() error {
	d.closed = true
	return nil
}
