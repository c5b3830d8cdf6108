package tracing

import (
	"sync"

	"github.com/tebeka/atexit"

	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// Table names written by a DBTracer.
const (
	TickTable      = "tick"
	FailureTable   = "update_failure"
	RebalanceTable = "rebalance"
	MoveTable      = "move"
)

// TickEntry is a row of the tick table. Durations are in microseconds.
type TickEntry struct {
	Tick       uint64
	SimMS      uint64
	Entities   int
	Born       int
	Died       int
	Failures   int
	UpdateUS   int64
	FlipUS     int64
	Imbalance  float64
	Rebalanced bool
}

// FailureEntry is a row of the update_failure table.
type FailureEntry struct {
	Tick        uint64
	Entity      uint64
	Worker      string
	Error       string
	Consecutive int
	Removed     bool
}

// RebalanceEntry is a row of the rebalance table.
type RebalanceEntry struct {
	Tick         uint64
	Leaves       int
	Entities     int
	MaxOccupancy int
	Depth        int
	Imbalance    float64
	LoadRatio    float64
}

// MoveEntry is a row of the move table.
type MoveEntry struct {
	Tick   uint64
	Entity uint64
	FromX  float64
	FromY  float64
	ToX    float64
	ToY    float64
	Placed bool
}

var tables = []struct {
	name   string
	sample any
}{
	{TickTable, TickEntry{}},
	{FailureTable, FailureEntry{}},
	{RebalanceTable, RebalanceEntry{}},
	{MoveTable, MoveEntry{}},
}

// DBTracer writes run events into a DataRecorder.
type DBTracer struct {
	mu         sync.Mutex
	backend    datarecording.DataRecorder
	terminated bool
}

// NewDBTracer creates the tracer tables and returns the tracer. The
// recorder is flushed when the program exits through atexit.
func NewDBTracer(recorder datarecording.DataRecorder) (*DBTracer, error) {
	for _, t := range tables {
		if err := recorder.CreateTable(t.name, t.sample); err != nil {
			return nil, err
		}
	}

	t := &DBTracer{backend: recorder}

	atexit.Register(func() { _ = t.Terminate() })

	return t, nil
}

// EndTick records the statistics of a tick.
func (t *DBTracer) EndTick(s workers.TickStats) {
	t.insert(TickTable, TickEntry{
		Tick:       s.Tick,
		SimMS:      s.SimMS,
		Entities:   s.Entities,
		Born:       s.Born,
		Died:       s.Died,
		Failures:   s.Failures,
		UpdateUS:   s.UpdateDuration.Microseconds(),
		FlipUS:     s.FlipDuration.Microseconds(),
		Imbalance:  s.Index.ImbalanceRatio,
		Rebalanced: s.Rebalanced,
	})
}

// UpdateFailed records a failed entity update.
func (t *DBTracer) UpdateFailed(entityID id.ID, f workers.UpdateFailure) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}

	t.insert(FailureTable, FailureEntry{
		Tick:        f.Tick,
		Entity:      uint64(entityID),
		Worker:      f.Worker,
		Error:       msg,
		Consecutive: f.Consecutive,
		Removed:     f.Removed,
	})
}

// Rebalanced records the shape of the spatial index after a rebalance.
func (t *DBTracer) Rebalanced(tick uint64, s spatial.Stats) {
	t.insert(RebalanceTable, RebalanceEntry{
		Tick:         tick,
		Leaves:       s.Leaves,
		Entities:     s.Entities,
		MaxOccupancy: s.MaxOccupancy,
		Depth:        s.Depth,
		Imbalance:    s.ImbalanceRatio,
		LoadRatio:    s.LoadRatio,
	})
}

// Moved records a committed position change.
func (t *DBTracer) Moved(entityID id.ID, tick uint64, from, to entity.Placement) {
	t.insert(MoveTable, MoveEntry{
		Tick:   tick,
		Entity: uint64(entityID),
		FromX:  from.At.X,
		FromY:  from.At.Y,
		ToX:    to.At.X,
		ToY:    to.At.Y,
		Placed: to.Placed,
	})
}

func (t *DBTracer) insert(table string, entry any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	t.backend.InsertData(table, entry)
}

// Terminate flushes the recorder. Events after Terminate are dropped.
func (t *DBTracer) Terminate() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return nil
	}

	t.terminated = true

	return t.backend.Flush()
}
