// Package workers advances entities in parallel, one tick at a time.
//
// Each Worker owns a partition of the entities and updates them on its own
// goroutine. Workers and the WorkGroup that drives them meet at a shared
// barrier twice per tick: once when every update is done, and once when the
// WorkGroup has finished the flip phase.
package workers

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

// ErrEntityPanicked wraps a panic raised by an entity update.
var ErrEntityPanicked = errors.New("entity update panicked")

// HookPosEntityUpdateFailed marks a failed entity update. The hook Item is
// the entity and the Detail is an UpdateFailure.
var HookPosEntityUpdateFailed = &hooking.HookPos{Name: "Entity Update Failed"}

// UpdateFailure describes a failed update.
type UpdateFailure struct {
	Worker      string
	Tick        uint64
	Err         error
	Consecutive int
	Removed     bool
}

// State is the life-cycle state of a worker.
type State int32

// Worker states.
const (
	Idle State = iota
	Running
	AwaitingBarrier
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case AwaitingBarrier:
		return "awaiting barrier"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// An Action is what a worker does once per tick.
type Action func(w *Worker, now phase.Timeslice)

// UpdateAll updates every entity the worker owns. It is the default action.
func UpdateAll(w *Worker, now phase.Timeslice) {
	for _, e := range w.entities {
		w.UpdateEntity(e, now)
	}
}

// A Worker owns a partition of the entities.
type Worker struct {
	*hooking.HookableBase

	name        string
	barrier     *Barrier
	clock       *phase.Clock
	logger      *zap.Logger
	action      Action
	maxFailures int
	endTick     uint64
	tickMS      uint64

	entities []entity.Entity
	index    map[id.ID]int
	managed  *buffering.Manager

	addLock  sync.Mutex
	toAdd    []entity.Entity
	toRemove []entity.Entity
	born     []entity.Entity
	failures map[id.ID]int

	failureCount atomic.Int64
	tickFailures int
	state        atomic.Int32
	started      atomic.Bool
	stopping     atomic.Bool
	done         chan struct{}
	tick         uint64
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// State returns the current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// NumEntities returns the number of owned entities.
func (w *Worker) NumEntities() int {
	return len(w.entities)
}

// Entities returns the owned entities.
func (w *Worker) Entities() []entity.Entity {
	return append([]entity.Entity(nil), w.entities...)
}

// Owns tells whether the worker owns the entity.
func (w *Worker) Owns(entityID id.ID) bool {
	_, found := w.index[entityID]
	return found
}

// Failures returns the number of failed updates since the worker started.
func (w *Worker) Failures() int64 {
	return w.failureCount.Load()
}

// Start spawns the worker goroutine.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("worker %s started twice", w.name))
	}

	go w.run()
}

// Stop asks the worker to stop. The worker finishes the tick in progress and
// stops at the next barrier boundary.
func (w *Worker) Stop() {
	w.stopping.Store(true)
}

// Done is closed when the worker goroutine has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the worker goroutine has returned.
func (w *Worker) Wait() {
	<-w.done
}

// AddEntity hands an entity to the worker and starts flipping its buffered
// values. It must not be called while the worker is running an action.
func (w *Worker) AddEntity(e entity.Entity) {
	w.mustNotBeRunning("add entity")

	if w.Owns(e.ID()) {
		panic(fmt.Sprintf("entity %d is already owned by %s", e.ID(), w.name))
	}

	w.index[e.ID()] = len(w.entities)
	w.entities = append(w.entities, e)
	w.managed.BeginManaging(e.Subscriptions()...)
}

// RemoveEntity takes an entity away from the worker and stops flipping its
// buffered values. It tells whether the entity was owned.
func (w *Worker) RemoveEntity(e entity.Entity) bool {
	w.mustNotBeRunning("remove entity")

	i, found := w.index[e.ID()]
	if !found {
		return false
	}

	last := len(w.entities) - 1
	if i != last {
		w.entities[i] = w.entities[last]
		w.index[w.entities[i].ID()] = i
	}

	w.entities[last] = nil
	w.entities = w.entities[:last]
	delete(w.index, e.ID())
	delete(w.failures, e.ID())

	w.managed.StopManaging(e.Subscriptions()...)

	return true
}

// scheduleForAddition queues an entity to be added at the start of the
// worker's next tick. It is safe to call from any goroutine.
func (w *Worker) scheduleForAddition(e entity.Entity) {
	w.addLock.Lock()
	w.toAdd = append(w.toAdd, e)
	w.addLock.Unlock()
}

func (w *Worker) mustNotBeRunning(op string) {
	if w.State() == Running {
		panic(fmt.Sprintf("%s on %s while it is running", op, w.name))
	}
}

// FlipBuffers flips the buffered values of every owned entity.
func (w *Worker) FlipBuffers() {
	w.managed.Flip()
}

// TakeRemovals returns and forgets the entities that finished or failed too
// often during the last tick.
func (w *Worker) TakeRemovals() []entity.Entity {
	r := w.toRemove
	w.toRemove = nil

	return r
}

// TakeBirths returns and forgets the entities spawned during the last tick.
func (w *Worker) TakeBirths() []entity.Entity {
	b := w.born
	w.born = nil

	return b
}

func (w *Worker) takeTickFailures() int {
	n := w.tickFailures
	w.tickFailures = 0

	return n
}

// UpdateEntity updates one entity. Errors and panics are logged, reported to
// hooks and otherwise swallowed, so that one broken entity cannot keep the
// worker from reaching the barrier. Phase violations are not swallowed.
func (w *Worker) UpdateEntity(e entity.Entity, now phase.Timeslice) {
	status, err := w.safeUpdate(e, now)
	if err != nil {
		w.recordFailure(e, now, err)
		return
	}

	delete(w.failures, e.ID())

	if status.Done {
		w.toRemove = append(w.toRemove, e)
	}

	w.born = append(w.born, status.Spawn...)
}

func (w *Worker) safeUpdate(
	e entity.Entity,
	now phase.Timeslice,
) (status entity.UpdateStatus, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		if v, ok := r.(*phase.Violation); ok {
			panic(v)
		}

		err = fmt.Errorf("%w: %v", ErrEntityPanicked, r)
	}()

	return e.Update(now)
}

// recordFailure takes back the writes the entity staged before failing, so
// that a failed update publishes nothing.
func (w *Worker) recordFailure(e entity.Entity, now phase.Timeslice, err error) {
	for _, s := range e.Subscriptions() {
		s.Discard()
	}

	n := w.failures[e.ID()] + 1
	w.failures[e.ID()] = n
	w.failureCount.Add(1)
	w.tickFailures++

	removed := w.maxFailures > 0 && n == w.maxFailures
	if removed {
		w.toRemove = append(w.toRemove, e)
	}

	w.logger.Warn("entity update failed",
		zap.String("worker", w.name),
		zap.Stringer("entity", e.ID()),
		zap.Uint64("tick", now.Tick),
		zap.Int("consecutive", n),
		zap.Bool("removed", removed),
		zap.Error(err))

	if w.NumHooks() == 0 {
		return
	}

	w.InvokeHook(hooking.HookCtx{
		Domain: w,
		Pos:    HookPosEntityUpdateFailed,
		Item:   e,
		Detail: UpdateFailure{
			Worker:      w.name,
			Tick:        now.Tick,
			Err:         err,
			Consecutive: n,
			Removed:     removed,
		},
	})
}

func (w *Worker) now() phase.Timeslice {
	if w.clock != nil {
		return w.clock.Now()
	}

	return phase.Timeslice{Tick: w.tick, MS: w.tick * w.tickMS}
}

func (w *Worker) addScheduled() {
	w.addLock.Lock()
	pending := w.toAdd
	w.toAdd = nil
	w.addLock.Unlock()

	for _, e := range pending {
		w.AddEntity(e)
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(Stopped))

	if w.barrier == nil {
		w.clock.Enter(phase.Update)
	}

	for {
		w.addScheduled()

		w.state.Store(int32(Running))
		w.action(w, w.now())
		w.state.Store(int32(AwaitingBarrier))

		if w.barrier == nil {
			w.flipAlone()
			w.tick++

			if w.stopping.Load() || (w.endTick > 0 && w.tick >= w.endTick) {
				w.addScheduled()
				return
			}

			continue
		}

		if err := w.barrier.Wait(); err != nil {
			return
		}

		if err := w.barrier.Wait(); err != nil {
			return
		}

		w.tick++
		w.state.Store(int32(Idle))

		if w.stopping.Load() {
			w.barrier.Leave()
			return
		}
	}
}

// flipAlone does the flip phase of a worker running without a barrier, for
// standalone use and tests. Births join this worker before its next tick.
func (w *Worker) flipAlone() {
	w.clock.Enter(phase.Flip)

	w.managed.Flip()

	for _, e := range w.TakeRemovals() {
		w.RemoveEntity(e)
	}

	for _, e := range w.TakeBirths() {
		for _, s := range e.Subscriptions() {
			s.Flip()
		}

		w.scheduleForAddition(e)
	}

	w.clock.Advance()
	w.clock.Enter(phase.Update)
}
