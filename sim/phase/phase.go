// Package phase tracks which part of a tick the engine is in, so that the
// double-buffered state and the spatial index can refuse misuse loudly.
package phase

import (
	"fmt"
	"sync/atomic"
)

// Phase is a part of a tick.
type Phase int32

// The phases of a tick. Idle covers loading before the first tick and the
// time after the simulation stopped.
const (
	Idle Phase = iota
	Update
	Flip
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Update:
		return "update"
	case Flip:
		return "flip"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Timeslice is the simulated time of one tick.
type Timeslice struct {
	Tick uint64
	MS   uint64
}

func (t Timeslice) String() string {
	return fmt.Sprintf("tick %d (%d ms)", t.Tick, t.MS)
}

// Violation is the value panicked with when an operation runs in the wrong
// phase. It is never recovered by the engine.
type Violation struct {
	Op   string
	Want Phase
	Got  Phase
}

func (v *Violation) Error() string {
	if v.Want == v.Got {
		return fmt.Sprintf("phase violation: %s is not allowed during %s",
			v.Op, v.Got)
	}

	return fmt.Sprintf("phase violation: %s requires %s, but the engine is in %s",
		v.Op, v.Want, v.Got)
}

// A Clock holds the current phase and tick. The orchestrator is the only
// writer; everyone else reads. A nil *Clock accepts every operation.
type Clock struct {
	phase  atomic.Int32
	tick   atomic.Uint64
	tickMS uint64
}

// NewClock creates a clock in the idle phase at tick 0. tickMS is the length
// of one tick in simulated milliseconds.
func NewClock(tickMS uint64) *Clock {
	return &Clock{tickMS: tickMS}
}

// Current returns the current phase.
func (c *Clock) Current() Phase {
	if c == nil {
		return Idle
	}

	return Phase(c.phase.Load())
}

// Enter switches to the given phase.
func (c *Clock) Enter(p Phase) {
	if c == nil {
		return
	}

	c.phase.Store(int32(p))
}

// Now returns the current timeslice.
func (c *Clock) Now() Timeslice {
	if c == nil {
		return Timeslice{}
	}

	t := c.tick.Load()

	return Timeslice{Tick: t, MS: t * c.tickMS}
}

// TickMS returns the length of a tick in milliseconds.
func (c *Clock) TickMS() uint64 {
	if c == nil {
		return 0
	}

	return c.tickMS
}

// Advance moves the clock to the next tick and returns it.
func (c *Clock) Advance() Timeslice {
	if c == nil {
		return Timeslice{}
	}

	t := c.tick.Add(1)

	return Timeslice{Tick: t, MS: t * c.tickMS}
}

// MustBe panics with a *Violation if the clock is not in phase p.
func (c *Clock) MustBe(p Phase, op string) {
	if c == nil {
		return
	}

	got := c.Current()
	if got != p {
		panic(&Violation{Op: op, Want: p, Got: got})
	}
}

// MustNotBe panics with a *Violation if the clock is in phase p.
func (c *Clock) MustNotBe(p Phase, op string) {
	if c == nil {
		return
	}

	if c.Current() == p {
		panic(&Violation{Op: op, Want: p, Got: p})
	}
}
