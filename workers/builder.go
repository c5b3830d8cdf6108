package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
)

// DefaultMaxConsecutiveFailures is the number of failed updates in a row
// after which an entity is removed.
const DefaultMaxConsecutiveFailures = 3

// WorkerBuilder builds workers.
type WorkerBuilder struct {
	barrier     *Barrier
	clock       *phase.Clock
	logger      *zap.Logger
	action      Action
	maxFailures int
	endTick     uint64
	tickMS      uint64
}

// MakeWorkerBuilder creates a WorkerBuilder with default parameters.
func MakeWorkerBuilder() WorkerBuilder {
	return WorkerBuilder{
		action:      UpdateAll,
		maxFailures: DefaultMaxConsecutiveFailures,
		tickMS:      100,
	}
}

// WithBarrier sets the barrier the worker meets the others at. A worker
// without a barrier runs freely and flips its own buffers.
func (b WorkerBuilder) WithBarrier(barrier *Barrier) WorkerBuilder {
	b.barrier = barrier
	return b
}

// WithClock sets the clock.
func (b WorkerBuilder) WithClock(clock *phase.Clock) WorkerBuilder {
	b.clock = clock
	return b
}

// WithLogger sets the logger.
func (b WorkerBuilder) WithLogger(logger *zap.Logger) WorkerBuilder {
	b.logger = logger
	return b
}

// WithAction sets what the worker does every tick.
func (b WorkerBuilder) WithAction(action Action) WorkerBuilder {
	b.action = action
	return b
}

// WithMaxConsecutiveFailures sets the escalation limit. Zero never removes
// failing entities.
func (b WorkerBuilder) WithMaxConsecutiveFailures(n int) WorkerBuilder {
	b.maxFailures = n
	return b
}

// WithEndTick sets the tick at which a free-running worker stops.
func (b WorkerBuilder) WithEndTick(tick uint64) WorkerBuilder {
	b.endTick = tick
	return b
}

// WithTickMS sets the tick length used when no clock is attached.
func (b WorkerBuilder) WithTickMS(ms uint64) WorkerBuilder {
	b.tickMS = ms
	return b
}

// Build creates a worker.
func (b WorkerBuilder) Build(name string) *Worker {
	if b.barrier == nil && b.clock == nil {
		b.clock = phase.NewClock(b.tickMS)
		b.clock.Enter(phase.Update)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		barrier:      b.barrier,
		clock:        b.clock,
		logger:       logger,
		action:       b.action,
		maxFailures:  b.maxFailures,
		endTick:      b.endTick,
		tickMS:       b.tickMS,
		index:        make(map[id.ID]int),
		managed:      buffering.NewManager(),
		failures:     make(map[id.ID]int),
		done:         make(chan struct{}),
	}
}

// Builder builds work groups.
type Builder struct {
	numWorkers    int
	clock         *phase.Clock
	tickDuration  time.Duration
	logger        *zap.Logger
	index         *spatial.Tree
	maxFailures   int
	parallelFlip  bool
	assignment    Assignment
	balance       bool
	balanceSpread int
	action        Action
}

// MakeBuilder creates a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numWorkers:   4,
		tickDuration: 100 * time.Millisecond,
		maxFailures:  DefaultMaxConsecutiveFailures,
		assignment:   AssignRoundRobin,
		action:       UpdateAll,
	}
}

// WithNumWorkers sets the number of workers.
func (b Builder) WithNumWorkers(n int) Builder {
	b.numWorkers = n
	return b
}

// WithClock sets the clock shared by the group, its entities and the index.
func (b Builder) WithClock(clock *phase.Clock) Builder {
	b.clock = clock
	return b
}

// WithTickDuration sets the tick length of the clock created when none is
// given.
func (b Builder) WithTickDuration(d time.Duration) Builder {
	b.tickDuration = d
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithIndex sets the spatial index located entities are kept in. Without an
// index the group does not track positions.
func (b Builder) WithIndex(index *spatial.Tree) Builder {
	b.index = index
	return b
}

// WithMaxConsecutiveFailures sets the escalation limit of every worker.
func (b Builder) WithMaxConsecutiveFailures(n int) Builder {
	b.maxFailures = n
	return b
}

// WithParallelFlip makes the workers' buffers flip concurrently.
func (b Builder) WithParallelFlip(parallel bool) Builder {
	b.parallelFlip = parallel
	return b
}

// WithAssignment sets how new entities are spread over the workers.
func (b Builder) WithAssignment(a Assignment) Builder {
	b.assignment = a
	return b
}

// WithWorkerBalancing makes the group move entities from the busiest worker
// to the idlest one after each flip while their loads differ by more than
// spread.
func (b Builder) WithWorkerBalancing(spread int) Builder {
	b.balance = true
	b.balanceSpread = max(spread, 1)

	return b
}

// WithAction sets the per-tick action of every worker.
func (b Builder) WithAction(action Action) Builder {
	b.action = action
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.numWorkers < 1 {
		panic("a work group needs at least one worker")
	}

	if b.clock == nil && b.tickDuration < time.Millisecond {
		panic("tick duration must be at least one millisecond")
	}

	if b.maxFailures < 0 {
		panic("max consecutive failures cannot be negative")
	}
}

// Build creates a work group.
func (b Builder) Build() *WorkGroup {
	b.parametersMustBeValid()

	clock := b.clock
	if clock == nil {
		clock = phase.NewClock(uint64(b.tickDuration / time.Millisecond))
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &WorkGroup{
		HookableBase: hooking.NewHookableBase(),
		clock:        clock,
		logger:       logger,
		index:        b.index,
		table:        entity.NewTable(),
		owner:        make(map[id.ID]*Worker),
		queue:        entity.NewStartQueue(),
		barrier:      NewBarrier(b.numWorkers + 1),
		parallelFlip: b.parallelFlip,
		assignment:   b.assignment,
		balance:      b.balance,
		spread:       b.balanceSpread,
	}
	g.control.cond = sync.NewCond(&g.control.lock)

	wb := MakeWorkerBuilder().
		WithBarrier(g.barrier).
		WithClock(clock).
		WithLogger(logger).
		WithAction(b.action).
		WithMaxConsecutiveFailures(b.maxFailures)

	for i := range b.numWorkers {
		g.workers = append(g.workers, wb.Build(workerName(i)))
	}

	return g
}
