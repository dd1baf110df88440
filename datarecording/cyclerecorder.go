package datarecording

import (
	"github.com/sarchlab/cyclesim/sim"
)

// Names of the tables written by a CycleRecorder.
const (
	CycleTable   = "cycles"
	FailureTable = "cycle_failures"
	DropTable    = "dropped_events"
	DeltaTable   = "memory_deltas"
)

// CycleEntry is one successful cycle.
type CycleEntry struct {
	Cycle      uint64
	Evaluated  int
	Latched    int
	Events     int
	Delivered  int
	Dropped    int
	Deltas     int
	DurationNS int64
}

// FailureEntry is one failed cycle.
type FailureEntry struct {
	Cycle uint64
	Error string
}

// DropEntry is one event delivery that was dropped.
type DropEntry struct {
	Cycle   uint64
	EventID string
	Type    string
	Source  string
	Target  string
}

// DeltaEntry is one committed memory write.
type DeltaEntry struct {
	Cycle   uint64
	Owner   string
	Address string
	Value   string
}

// A CycleRecorder is a hook that writes what happens in every cycle to a
// DataRecorder.
type CycleRecorder struct {
	recorder     DataRecorder
	recordDeltas bool
}

// NewCycleRecorder creates the cycle tables and returns the hook.
func NewCycleRecorder(recorder DataRecorder) *CycleRecorder {
	recorder.CreateTable(CycleTable, CycleEntry{})
	recorder.CreateTable(FailureTable, FailureEntry{})
	recorder.CreateTable(DropTable, DropEntry{})

	return &CycleRecorder{recorder: recorder}
}

// RecordDeltas makes the recorder store every committed memory write.
func (c *CycleRecorder) RecordDeltas() *CycleRecorder {
	if !c.recordDeltas {
		c.recorder.CreateTable(DeltaTable, DeltaEntry{})
		c.recordDeltas = true
	}

	return c
}

// Func records the cycle outcome.
func (c *CycleRecorder) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosAfterCycle:
		c.recordCycle(ctx.Item.(sim.CycleReport))
	case sim.HookPosCycleFailed:
		c.recorder.InsertData(FailureTable, FailureEntry{
			Cycle: ctx.Cycle,
			Error: ctx.Item.(error).Error(),
		})
	case sim.HookPosEventDropped:
		d := ctx.Item.(*sim.DeliveryError)
		c.recorder.InsertData(DropTable, DropEntry{
			Cycle:   ctx.Cycle,
			EventID: d.EventID,
			Type:    string(d.Type),
			Source:  string(d.Source),
			Target:  string(d.Target),
		})
	}
}

func (c *CycleRecorder) recordCycle(r sim.CycleReport) {
	c.recorder.InsertData(CycleTable, CycleEntry{
		Cycle:      r.Cycle,
		Evaluated:  r.Evaluated,
		Latched:    r.Latched,
		Events:     r.Events,
		Delivered:  r.Delivered,
		Dropped:    len(r.Dropped),
		Deltas:     r.DeltasCommitted(),
		DurationNS: r.Duration.Nanoseconds(),
	})

	if !c.recordDeltas {
		return
	}

	for _, d := range r.Deltas {
		c.recorder.InsertData(DeltaTable, DeltaEntry{
			Cycle:   r.Cycle,
			Owner:   string(d.Owner),
			Address: string(d.Address),
			Value:   d.Value.String(),
		})
	}
}
