// Package gmdev holds the per-axis status mirror the controller keeps up
// to date from wire responses.
package gmdev

import "github.com/USCRPL/GeckoMoped/gmwire"

// Record is the controller's per-axis status mirror: the last-seen flags
// word, program counter, position, velocity, an accumulated position
// offset, validity flags for position/velocity (driven by the currently
// executing instruction's IsPosValid/IsVelValid), and a no-response
// counter used to detect a dead axis on the bus.
type Record struct {
	Axis     int
	Name     string
	Flags    uint16
	PC       uint16
	Position int32
	Velocity int16
	Offset   int32

	PositionValid bool
	VelocityValid bool

	NoResponseCount int
}

var axisNames = [4]string{"X", "Y", "Z", "W"}

// NewRecord returns a freshly reset Record for the given axis (0..3).
func NewRecord(axis int) *Record {
	name := "?"
	if axis >= 0 && axis < len(axisNames) {
		name = axisNames[axis]
	}
	return &Record{Axis: axis, Name: name, PositionValid: true, VelocityValid: true}
}

// ReportedPosition returns the position adjusted by the zero-offset, or 0
// if the currently executing instruction marks position invalid.
func (r *Record) ReportedPosition() int32 {
	if !r.PositionValid {
		return 0
	}
	return r.Position - r.Offset
}

// ApplyShort updates flags (and PC, if present) from a decoded QSHORT
// entry.
func (r *Record) ApplyShort(resp gmwire.ShortResponse) {
	r.Flags = resp.Flags
	if resp.HasPC {
		r.PC = resp.PC
	}
	r.NoResponseCount = 0
}

// ApplyLong updates the full status mirror from a decoded QLONG entry.
func (r *Record) ApplyLong(resp gmwire.LongResponse) {
	r.Flags = resp.Flags
	r.PC = resp.PC
	r.Position = resp.Position
	r.Velocity = resp.Velocity
	r.NoResponseCount = 0
}

// IsBusy reports the controller-reported busy bit (flags bit 2).
func (r *Record) IsBusy() bool { return r.Flags&gmwire.FlagBusy != 0 }

// IsPICError reports the PIC-error bit.
func (r *Record) IsPICError() bool { return r.Flags&gmwire.FlagPICError != 0 }

// IsFPGAError reports the FPGA-error bit.
func (r *Record) IsFPGAError() bool { return r.Flags&gmwire.FlagFPGAError != 0 }

// Table is the ordered set of Records for every axis currently responding
// on the bus, discovered from the first QLONG exchange after connecting.
type Table struct {
	records []*Record
}

// NewTable returns an empty Table.
func NewTable() *Table { return &Table{} }

// NumDevices returns the number of axes currently tracked.
func (t *Table) NumDevices() int { return len(t.records) }

// Record returns the Record for axis, creating it (appended after the
// records already tracked) if this is the first time axis has been seen.
func (t *Table) Record(axis int) *Record {
	for _, r := range t.records {
		if r.Axis == axis {
			return r
		}
	}
	r := NewRecord(axis)
	t.records = append(t.records, r)
	return r
}

// All returns every tracked Record, in discovery order.
func (t *Table) All() []*Record {
	out := make([]*Record, len(t.records))
	copy(out, t.records)
	return out
}

// Reset clears every record's accumulated state: PCs back to 0,
// offsets cleared. Used on emergency stop.
func (t *Table) Reset() {
	for _, r := range t.records {
		r.PC = 0
		r.Offset = 0
		r.Position = 0
		r.Velocity = 0
	}
}
