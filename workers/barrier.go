package workers

import (
	"errors"
	"sync"
)

// ErrBarrierBroken is returned by Wait once the barrier is broken.
var ErrBarrierBroken = errors.New("workers: barrier broken")

// A Barrier blocks its parties until all of them arrive, then releases them
// together and resets for the next round.
type Barrier struct {
	lock       sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
	broken     bool
}

// NewBarrier creates a barrier for the given number of parties.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		panic("barrier needs at least one party")
	}

	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.lock)

	return b
}

// Wait blocks until every party has called Wait in this round.
func (b *Barrier) Wait() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.broken {
		return ErrBarrierBroken
	}

	gen := b.generation
	b.arrived++

	if b.arrived >= b.parties {
		b.trip()
		return nil
	}

	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}

	if gen == b.generation {
		return ErrBarrierBroken
	}

	return nil
}

// Leave permanently removes one party. If everyone left has already arrived,
// they are released.
func (b *Barrier) Leave() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.parties--
	if b.parties > 0 && b.arrived >= b.parties {
		b.trip()
	}
}

// Break releases every waiting party with ErrBarrierBroken and makes every
// later Wait fail.
func (b *Barrier) Break() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.broken = true
	b.cond.Broadcast()
}

// Parties returns the number of parties.
func (b *Barrier) Parties() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.parties
}

// waiting returns the number of parties blocked in the current round.
func (b *Barrier) waiting() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.arrived
}

func (b *Barrier) trip() {
	b.arrived = 0
	b.generation++
	b.cond.Broadcast()
}
