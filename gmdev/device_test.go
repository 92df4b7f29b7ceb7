package gmdev

import (
	"testing"

	"github.com/USCRPL/GeckoMoped/gmwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRecordCreatesOnFirstAccess(t *testing.T) {
	tbl := NewTable()
	require.Equal(t, 0, tbl.NumDevices())

	r := tbl.Record(2)
	assert.Equal(t, 2, r.Axis)
	assert.Equal(t, "Z", r.Name)
	assert.Equal(t, 1, tbl.NumDevices())

	again := tbl.Record(2)
	assert.Same(t, r, again)
	assert.Equal(t, 1, tbl.NumDevices())
}

func TestRecordApplyShortTracksPCOnlyWhenPresent(t *testing.T) {
	r := NewRecord(0)
	r.ApplyShort(gmwire.ShortResponse{Axis: 0, Flags: gmwire.FlagBusy, PC: 7, HasPC: true})
	assert.True(t, r.IsBusy())
	assert.EqualValues(t, 7, r.PC)

	r.ApplyShort(gmwire.ShortResponse{Axis: 0, Flags: 0, HasPC: false})
	assert.False(t, r.IsBusy())
	assert.EqualValues(t, 7, r.PC) // unchanged: this entry carried no PC
}

func TestRecordApplyLongUpdatesFullMirror(t *testing.T) {
	r := NewRecord(1)
	r.ApplyLong(gmwire.LongResponse{Axis: 1, Flags: gmwire.FlagFPGAError, PC: 12, Position: -5, Velocity: 30})
	assert.True(t, r.IsFPGAError())
	assert.EqualValues(t, 12, r.PC)
	assert.EqualValues(t, -5, r.Position)
	assert.EqualValues(t, 30, r.Velocity)
}

func TestRecordReportedPositionAppliesOffsetAndValidity(t *testing.T) {
	r := NewRecord(0)
	r.Position = 100
	r.Offset = 40
	assert.EqualValues(t, 60, r.ReportedPosition())

	r.PositionValid = false
	assert.EqualValues(t, 0, r.ReportedPosition())
}

func TestTableResetClearsAccumulatedState(t *testing.T) {
	tbl := NewTable()
	r := tbl.Record(0)
	r.PC = 50
	r.Offset = 10
	r.Position = 99
	r.Velocity = 5

	tbl.Reset()
	assert.EqualValues(t, 0, r.PC)
	assert.EqualValues(t, 0, r.Offset)
	assert.EqualValues(t, 0, r.Position)
	assert.EqualValues(t, 0, r.Velocity)
}

func TestTableAllPreservesDiscoveryOrder(t *testing.T) {
	tbl := NewTable()
	tbl.Record(2)
	tbl.Record(0)
	tbl.Record(1)

	all := tbl.All()
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].Axis)
	assert.Equal(t, 0, all[1].Axis)
	assert.Equal(t, 1, all[2].Axis)
}
