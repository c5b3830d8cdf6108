package workers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
)

// Hook positions of a work group.
var (
	// HookPosTickEnd fires at the end of every flip phase. Detail is a
	// TickStats.
	HookPosTickEnd = &hooking.HookPos{Name: "Tick End"}

	// HookPosEntityBorn fires when an entity joins a worker. Item is the
	// entity.
	HookPosEntityBorn = &hooking.HookPos{Name: "Entity Born"}

	// HookPosEntityDied fires when an entity leaves the simulation. Item is
	// the entity.
	HookPosEntityDied = &hooking.HookPos{Name: "Entity Died"}

	// HookPosRebalance fires after the spatial index rebalanced. Detail is
	// the spatial.Stats after the rebalance.
	HookPosRebalance = &hooking.HookPos{Name: "Spatial Rebalance"}
)

// Errors returned by a work group.
var (
	ErrNotRunning     = errors.New("workers: work group is not running")
	ErrAlreadyStarted = errors.New("workers: work group already started")
)

// TickStats summarises one tick.
type TickStats struct {
	Tick           uint64
	SimMS          uint64
	Entities       int
	Born           int
	Died           int
	Failures       int
	UpdateDuration time.Duration
	FlipDuration   time.Duration

	// Index is only filled on ticks where the balance policy measured the
	// spatial index.
	Index      spatial.Stats
	Rebalanced bool
}

// Assignment decides which worker receives a new entity.
type Assignment int

// Assignment policies.
const (
	AssignRoundRobin Assignment = iota
	AssignLeastLoaded
)

func (a Assignment) String() string {
	switch a {
	case AssignRoundRobin:
		return "round-robin"
	case AssignLeastLoaded:
		return "least-loaded"
	default:
		return fmt.Sprintf("assignment(%d)", int(a))
	}
}

// ParseAssignment parses the name of an assignment policy.
func ParseAssignment(s string) (Assignment, error) {
	switch s {
	case "", "round-robin":
		return AssignRoundRobin, nil
	case "least-loaded":
		return AssignLeastLoaded, nil
	default:
		return 0, fmt.Errorf("unknown assignment %q", s)
	}
}

func workerName(i int) string {
	return fmt.Sprintf("Worker[%d]", i)
}

type inspection struct {
	fn   func()
	done chan struct{}
}

type control struct {
	lock    sync.Mutex
	cond    *sync.Cond
	paused  bool
	running bool
	queue   []inspection
}

// A WorkGroup drives a set of workers tick by tick. Between the ticks it
// runs the flip phase on its own goroutine: buffered values are published,
// dead entities leave, new ones join and the spatial index catches up.
//
// Start, Step, Run and Stop must be called from one goroutine. Pause,
// Continue and Inspect may be called from any goroutine.
type WorkGroup struct {
	*hooking.HookableBase

	clock        *phase.Clock
	logger       *zap.Logger
	index        *spatial.Tree
	table        *entity.Table
	workers      []*Worker
	owner        map[id.ID]*Worker
	barrier      *Barrier
	parallelFlip bool
	assignment   Assignment
	balance      bool
	spread       int

	queueLock sync.Mutex
	queue     *entity.StartQueue

	nextWorker int
	started    bool
	running    bool
	released   time.Time

	control control
}

// Clock returns the clock of the group.
func (g *WorkGroup) Clock() *phase.Clock {
	return g.clock
}

// Index returns the spatial index, or nil.
func (g *WorkGroup) Index() *spatial.Tree {
	return g.index
}

// Workers returns the workers.
func (g *WorkGroup) Workers() []*Worker {
	return g.workers
}

// Now returns the current timeslice.
func (g *WorkGroup) Now() phase.Timeslice {
	return g.clock.Now()
}

// Running tells whether the workers are running.
func (g *WorkGroup) Running() bool {
	g.control.lock.Lock()
	defer g.control.lock.Unlock()

	return g.control.running
}

// NumEntities returns the number of entities that joined and have not left.
func (g *WorkGroup) NumEntities() int {
	return g.table.Len()
}

// Entity returns a live entity.
func (g *WorkGroup) Entity(entityID id.ID) (entity.Entity, bool) {
	return g.table.Get(entityID)
}

// EntityIDs returns the IDs of the live entities in ascending order.
func (g *WorkGroup) EntityIDs() []id.ID {
	return g.table.IDs()
}

// Neighbors returns the entities whose committed position lies in box.
func (g *WorkGroup) Neighbors(box spatial.BoundingBox) []entity.Entity {
	if g.index == nil {
		return nil
	}

	return g.table.Resolve(g.index.RangeQuery(box))
}

// WorkerLoads returns the number of entities of every worker.
func (g *WorkGroup) WorkerLoads() []int {
	loads := make([]int, len(g.workers))
	for i, w := range g.workers {
		loads[i] = w.NumEntities()
	}

	return loads
}

// IndexStats measures the spatial index.
func (g *WorkGroup) IndexStats() spatial.Stats {
	if g.index == nil {
		return spatial.Stats{}
	}

	return g.index.MeasureImbalance()
}

// Schedule queues an entity. It joins at the first flip after which the
// simulated time reaches its start time. Schedule may be called from any
// goroutine.
func (g *WorkGroup) Schedule(entities ...entity.Entity) {
	g.queueLock.Lock()
	defer g.queueLock.Unlock()

	for _, e := range entities {
		g.queue.Push(e)
	}
}

// Pending returns the number of scheduled entities that have not joined.
func (g *WorkGroup) Pending() int {
	g.queueLock.Lock()
	defer g.queueLock.Unlock()

	return g.queue.Len()
}

// Load registers entities immediately, whatever their start time. It can
// only be used before Start.
func (g *WorkGroup) Load(entities ...entity.Entity) error {
	if g.started {
		return ErrAlreadyStarted
	}

	for _, e := range entities {
		if err := g.admit(e, false); err != nil {
			return err
		}
	}

	return nil
}

// Start admits the entities due at time zero, builds the spatial index and
// starts the workers.
func (g *WorkGroup) Start() error {
	if g.started {
		return ErrAlreadyStarted
	}

	g.clock.Enter(phase.Flip)

	for _, e := range g.popDue(g.clock.Now().MS) {
		if err := g.admit(e, false); err != nil {
			g.clock.Enter(phase.Idle)
			return err
		}
	}

	if err := g.buildIndex(); err != nil {
		g.clock.Enter(phase.Idle)
		return err
	}

	g.started = true
	g.running = true
	g.control.lock.Lock()
	g.control.running = true
	g.control.lock.Unlock()

	fields := []zap.Field{
		zap.Int("workers", len(g.workers)),
		zap.Int("entities", g.table.Len()),
		zap.Int("pending", g.Pending()),
	}
	if next, ok := g.nextStart(); ok {
		fields = append(fields, zap.Uint64("next_start_ms", next))
	}

	g.logger.Info("work group started", fields...)

	g.clock.Enter(phase.Update)
	g.released = time.Now()

	for _, w := range g.workers {
		w.Start()
	}

	return nil
}

func (g *WorkGroup) buildIndex() error {
	if g.index == nil {
		return nil
	}

	var items []spatial.Item

	for _, entityID := range g.table.IDs() {
		e, _ := g.table.Get(entityID)

		l, ok := e.(entity.Located)
		if !ok {
			continue
		}

		if p := l.Placement().Get(); p.Placed {
			items = append(items, spatial.Item{ID: entityID, At: p.At})
		}
	}

	return g.index.Build(items)
}

func (g *WorkGroup) nextStart() (uint64, bool) {
	g.queueLock.Lock()
	defer g.queueLock.Unlock()

	return g.queue.NextStart()
}

func (g *WorkGroup) popDue(nowMS uint64) []entity.Entity {
	g.queueLock.Lock()
	defer g.queueLock.Unlock()

	return g.queue.PopDue(nowMS)
}

// Step waits for the workers to finish the current tick, runs the flip
// phase and releases them into the next tick. A flip error stops the group.
func (g *WorkGroup) Step() error {
	return g.step(false)
}

// Stop finishes the current tick and stops the workers.
func (g *WorkGroup) Stop() error {
	if !g.running {
		return nil
	}

	return g.step(true)
}

// Run steps the group for the given number of ticks, starting it first if
// needed. It returns early with the context error if ctx is cancelled; the
// group then stops at the end of the tick in progress.
func (g *WorkGroup) Run(ctx context.Context, ticks int) error {
	if !g.started {
		if err := g.Start(); err != nil {
			return err
		}
	}

	if ticks <= 0 {
		return g.Stop()
	}

	for i := 0; i < ticks; i++ {
		final := i == ticks-1 || ctx.Err() != nil

		if err := g.step(final); err != nil {
			return err
		}

		if final {
			return ctx.Err()
		}
	}

	return nil
}

func (g *WorkGroup) step(final bool) error {
	if !g.running {
		return ErrNotRunning
	}

	defer func() {
		if r := recover(); r != nil {
			g.abort(r)
			panic(r)
		}
	}()

	if err := g.barrier.Wait(); err != nil {
		return err
	}

	frame := time.Now()

	g.clock.Enter(phase.Flip)

	stats, err := g.flip()
	stats.UpdateDuration = frame.Sub(g.released)
	stats.FlipDuration = time.Since(frame)

	g.logger.Debug("tick done",
		zap.Uint64("tick", stats.Tick),
		zap.Int("entities", stats.Entities),
		zap.Int("born", stats.Born),
		zap.Int("died", stats.Died),
		zap.Int("failures", stats.Failures),
		zap.Duration("update", stats.UpdateDuration),
		zap.Duration("flip", stats.FlipDuration))

	if g.NumHooks() > 0 {
		g.InvokeHook(hooking.HookCtx{
			Domain: g,
			Pos:    HookPosTickEnd,
			Item:   stats.Tick,
			Detail: stats,
		})
	}

	g.serveControl()

	stopping := final || err != nil
	if stopping {
		for _, w := range g.workers {
			w.Stop()
		}
	}

	g.clock.Advance()

	if stopping {
		g.clock.Enter(phase.Idle)
	} else {
		g.clock.Enter(phase.Update)
	}

	g.released = time.Now()

	if werr := g.barrier.Wait(); werr != nil {
		return errors.Join(err, werr)
	}

	if stopping {
		g.join()
	}

	if err != nil {
		g.logger.Error("work group stopped", zap.Error(err))
	}

	return err
}

// abort ends the workers after a panic in the flip phase. Breaking the
// barrier releases workers blocked on it, so their goroutines exit instead of
// waiting for a flip that will never finish.
func (g *WorkGroup) abort(reason any) {
	g.logger.Error("work group aborted",
		zap.Any("panic", reason),
		zap.Int("blocked_workers", g.barrier.waiting()))

	for _, w := range g.workers {
		w.Stop()
	}

	g.barrier.Break()
	g.clock.Enter(phase.Idle)
	g.join()
}

func (g *WorkGroup) join() {
	for _, w := range g.workers {
		w.Wait()
	}

	g.running = false

	g.control.lock.Lock()
	g.control.running = false
	g.control.paused = false
	queue := g.control.queue
	g.control.queue = nil
	g.control.lock.Unlock()

	for _, in := range queue {
		in.fn()
		close(in.done)
	}

	g.logger.Info("work group stopped",
		zap.Uint64("tick", g.clock.Now().Tick),
		zap.Int("entities", g.table.Len()))
}

func (g *WorkGroup) flip() (TickStats, error) {
	now := g.clock.Now()
	stats := TickStats{Tick: now.Tick, SimMS: now.MS}

	g.flipBuffers()

	for _, w := range g.workers {
		stats.Failures += w.takeTickFailures()
	}

	var errs []error

	for _, w := range g.workers {
		for _, e := range w.TakeRemovals() {
			g.retire(w, e)
			stats.Died++
		}
	}

	for _, w := range g.workers {
		for _, e := range w.TakeBirths() {
			if err := g.admit(e, true); err != nil {
				errs = append(errs, err)
				continue
			}

			stats.Born++
		}
	}

	nextMS := now.MS + g.clock.TickMS()
	for _, e := range g.popDue(nextMS) {
		if err := g.admit(e, true); err != nil {
			errs = append(errs, err)
			continue
		}

		stats.Born++
	}

	if g.index != nil {
		if err := g.index.ApplyPendingMoves(); err != nil {
			errs = append(errs, err)
		}

		stats.Index, stats.Rebalanced = g.index.CheckBalance(now.Tick)
		if stats.Rebalanced {
			g.rebalanced(now.Tick, stats.Index)
		}
	}

	if g.balance {
		g.balanceWorkers()
	}

	stats.Entities = g.table.Len()

	return stats, errors.Join(errs...)
}

func (g *WorkGroup) flipBuffers() {
	if !g.parallelFlip || len(g.workers) == 1 {
		for _, w := range g.workers {
			w.FlipBuffers()
		}

		return
	}

	var eg errgroup.Group

	eg.SetLimit(len(g.workers))

	for _, w := range g.workers {
		eg.Go(func() error {
			w.FlipBuffers()
			return nil
		})
	}

	_ = eg.Wait()
}

func (g *WorkGroup) rebalanced(tick uint64, s spatial.Stats) {
	g.logger.Info("spatial index rebalanced",
		zap.Uint64("tick", tick),
		zap.Int("leaves", s.Leaves),
		zap.Float64("imbalance", s.ImbalanceRatio))

	if g.NumHooks() == 0 {
		return
	}

	g.InvokeHook(hooking.HookCtx{
		Domain: g,
		Pos:    HookPosRebalance,
		Item:   tick,
		Detail: s,
	})
}

// admit registers an entity and hands it to a worker. Entities joining
// after the start have their buffers flipped so that values they set before
// joining become visible, and are queued into the spatial index.
func (g *WorkGroup) admit(e entity.Entity, running bool) error {
	if err := g.table.Add(e); err != nil {
		return err
	}

	if running {
		for _, s := range e.Subscriptions() {
			s.Flip()
		}
	}

	w := g.pickWorker()
	w.AddEntity(e)
	g.owner[e.ID()] = w

	if l, ok := e.(entity.Located); ok {
		g.track(l, running)
	}

	if running && g.NumHooks() > 0 {
		g.InvokeHook(hooking.HookCtx{
			Domain: g,
			Pos:    HookPosEntityBorn,
			Item:   e,
		})
	}

	return nil
}

func (g *WorkGroup) track(l entity.Located, running bool) {
	if g.index == nil {
		return
	}

	entityID := l.ID()

	l.Placement().Observe(func(_, p entity.Placement) {
		if p.Placed {
			g.index.QueueMove(entityID, p.At)
		} else {
			g.index.QueueRemove(entityID)
		}
	})

	if p := l.Placement().Get(); running && p.Placed {
		g.index.QueueInsert(entityID, p.At)
	}
}

func (g *WorkGroup) retire(w *Worker, e entity.Entity) {
	w.RemoveEntity(e)
	g.table.Remove(e.ID())
	delete(g.owner, e.ID())

	if g.index != nil {
		g.index.QueueRemove(e.ID())
	}

	if g.NumHooks() > 0 {
		g.InvokeHook(hooking.HookCtx{
			Domain: g,
			Pos:    HookPosEntityDied,
			Item:   e,
		})
	}
}

func (g *WorkGroup) pickWorker() *Worker {
	if g.assignment == AssignLeastLoaded {
		return g.leastLoaded()
	}

	w := g.workers[g.nextWorker]
	g.nextWorker = (g.nextWorker + 1) % len(g.workers)

	return w
}

func (g *WorkGroup) leastLoaded() *Worker {
	best := g.workers[0]
	for _, w := range g.workers[1:] {
		if w.NumEntities() < best.NumEntities() {
			best = w
		}
	}

	return best
}

func (g *WorkGroup) mostLoaded() *Worker {
	best := g.workers[0]
	for _, w := range g.workers[1:] {
		if w.NumEntities() > best.NumEntities() {
			best = w
		}
	}

	return best
}

// balanceWorkers migrates entities from the busiest worker to the idlest
// one. Migration moves the entity's buffered values along with it.
func (g *WorkGroup) balanceWorkers() {
	moved := 0

	for {
		from, to := g.mostLoaded(), g.leastLoaded()
		if from.NumEntities()-to.NumEntities() <= g.spread {
			break
		}

		e := from.entities[len(from.entities)-1]
		from.RemoveEntity(e)
		to.AddEntity(e)
		g.owner[e.ID()] = to
		moved++
	}

	if moved > 0 {
		g.logger.Debug("workers balanced", zap.Int("migrated", moved))
	}
}

// Owner returns the worker an entity belongs to.
func (g *WorkGroup) Owner(entityID id.ID) (*Worker, bool) {
	w, found := g.owner[entityID]
	return w, found
}

// Pause parks the workers at the next flip phase until Continue is called.
func (g *WorkGroup) Pause() {
	g.control.lock.Lock()
	defer g.control.lock.Unlock()

	g.control.paused = true
}

// Continue releases a paused group.
func (g *WorkGroup) Continue() {
	g.control.lock.Lock()
	defer g.control.lock.Unlock()

	g.control.paused = false
	g.control.cond.Broadcast()
}

// Paused tells whether a pause is requested.
func (g *WorkGroup) Paused() bool {
	g.control.lock.Lock()
	defer g.control.lock.Unlock()

	return g.control.paused
}

// Inspect runs fn while no entity is updating, at the next flip phase, and
// waits for it. If the group is not running, fn runs right away.
func (g *WorkGroup) Inspect(fn func()) {
	g.control.lock.Lock()

	if !g.control.running {
		g.control.lock.Unlock()
		fn()

		return
	}

	in := inspection{fn: fn, done: make(chan struct{})}
	g.control.queue = append(g.control.queue, in)
	g.control.cond.Broadcast()
	g.control.lock.Unlock()

	<-in.done
}

func (g *WorkGroup) serveControl() {
	g.control.lock.Lock()
	defer g.control.lock.Unlock()

	for {
		for len(g.control.queue) > 0 {
			in := g.control.queue[0]
			g.control.queue = slices.Delete(g.control.queue, 0, 1)

			g.runInspection(in)
		}

		if !g.control.paused {
			return
		}

		g.control.cond.Wait()
	}
}

// runInspection runs fn without the control lock. The lock is held again on
// return, also when fn panics.
func (g *WorkGroup) runInspection(in inspection) {
	g.control.lock.Unlock()
	defer g.control.lock.Lock()
	defer close(in.done)

	in.fn()
}
