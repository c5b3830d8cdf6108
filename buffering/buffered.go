// Package buffering provides double-buffered values. Readers see the value
// committed at the end of the previous tick while the owner writes the value
// for the next one; a flip between ticks publishes all writes at once.
package buffering

import (
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

// HookPosFlip marks a flip that changed the committed value. The hook Item is
// the buffered value and the Detail is a Change[T].
var HookPosFlip = &hooking.HookPos{Name: "Buffered Flip"}

// Flippable is anything that publishes pending state when flipped.
type Flippable interface {
	Flip()

	// Discard drops the pending state so that the next flip publishes
	// nothing.
	Discard()
}

// Change is the detail of a HookPosFlip hook.
type Change[T any] struct {
	Old T
	New T
}

// A Buffered holds one published property of one entity.
//
// Get may be called from any goroutine during the update phase. Set may only
// be called by the owner during its own update. Flip may only be called
// during the flip phase. When a clock is attached, Set and Flip check the
// phase and panic with a *phase.Violation on misuse.
type Buffered[T any] struct {
	*hooking.HookableBase

	name      string
	clock     *phase.Clock
	equal     func(a, b T) bool
	committed T
	pending   T
	dirty     bool
}

// New creates a buffered value compared with ==.
func New[T comparable](clock *phase.Clock, name string, initial T) *Buffered[T] {
	return NewWithEqual(clock, name, initial,
		func(a, b T) bool { return a == b })
}

// NewWithEqual creates a buffered value for types that are not comparable.
// equal decides whether a flip changed the value.
func NewWithEqual[T any](
	clock *phase.Clock,
	name string,
	initial T,
	equal func(a, b T) bool,
) *Buffered[T] {
	return &Buffered[T]{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		clock:        clock,
		equal:        equal,
		committed:    initial,
		pending:      initial,
	}
}

// Name returns the property name.
func (b *Buffered[T]) Name() string {
	return b.name
}

// Get returns the committed value.
func (b *Buffered[T]) Get() T {
	return b.committed
}

// Pending returns the value that will be committed at the next flip. Only the
// owner may call it during the update phase.
func (b *Buffered[T]) Pending() T {
	return b.pending
}

// Dirty tells whether a write is waiting for the next flip.
func (b *Buffered[T]) Dirty() bool {
	return b.dirty
}

// Set stages v for the next flip.
func (b *Buffered[T]) Set(v T) {
	b.clock.MustBe(phase.Update, "write of "+b.name)

	b.pending = v
	b.dirty = true
}

// Force sets both the committed and the pending value. It is meant for
// loaders and for initialising newborn entities, never for the update phase.
func (b *Buffered[T]) Force(v T) {
	b.clock.MustNotBe(phase.Update, "force of "+b.name)

	b.committed = v
	b.pending = v
	b.dirty = false
}

// Flip commits the pending value if there is one.
func (b *Buffered[T]) Flip() {
	b.clock.MustBe(phase.Flip, "flip of "+b.name)

	if !b.dirty {
		return
	}

	old := b.committed
	b.committed = b.pending
	b.dirty = false

	if b.NumHooks() == 0 || b.equal(old, b.committed) {
		return
	}

	b.InvokeHook(hooking.HookCtx{
		Domain: b,
		Pos:    HookPosFlip,
		Item:   b,
		Detail: Change[T]{Old: old, New: b.committed},
	})
}

// Discard drops a pending write. The owner uses it during its update to
// take back everything it staged for the tick.
func (b *Buffered[T]) Discard() {
	b.clock.MustBe(phase.Update, "discard of "+b.name)

	b.pending = b.committed
	b.dirty = false
}

// Observe registers fn to run whenever a flip changes the committed value.
func (b *Buffered[T]) Observe(fn func(old, new T)) {
	b.AcceptHook(hooking.NewHookFunc(func(ctx hooking.HookCtx) {
		c := ctx.Detail.(Change[T])
		fn(c.Old, c.New)
	}))
}
