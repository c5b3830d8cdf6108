// Package perception delays what an entity can sense, so that a driver reacts
// to the world as it was a reaction time ago.
package perception

import (
	"errors"
	"fmt"
)

// Errors returned by FixedDelayed.
var (
	ErrBackwardsInTime = errors.New("perception: time cannot move backwards")
	ErrDelayTooLarge   = errors.New("perception: delay exceeds the maximum")
	ErrNotReady        = errors.New("perception: nothing old enough to sense")
)

type observation[T any] struct {
	item       T
	observedMS uint64
}

func (o observation[T]) visible(nowMS, delayMS uint64) bool {
	return o.observedMS+delayMS <= nowMS
}

// FixedDelayed records values as they are observed and hands them back once
// they are at least a delay old. The delay can change at run time but never
// beyond the maximum given at construction, which bounds the history kept.
type FixedDelayed[T any] struct {
	history  []observation[T]
	maxDelay uint64
	delay    uint64
	nowMS    uint64

	// index of the newest visible observation, -1 if none
	front int
}

// NewFixedDelayed creates a FixedDelayed whose delay starts at maxDelayMS.
func NewFixedDelayed[T any](maxDelayMS uint64) *FixedDelayed[T] {
	return &FixedDelayed[T]{
		maxDelay: maxDelayMS,
		delay:    maxDelayMS,
		front:    -1,
	}
}

// Delay records v as observed now.
func (d *FixedDelayed[T]) Delay(v T) {
	d.history = append(d.history, observation[T]{item: v, observedMS: d.nowMS})
	d.refreshFront()
}

// Update moves the current time to nowMS and drops observations that can no
// longer be sensed with any allowed delay.
func (d *FixedDelayed[T]) Update(nowMS uint64) error {
	if nowMS < d.nowMS {
		return fmt.Errorf("%w: %d ms after %d ms",
			ErrBackwardsInTime, nowMS, d.nowMS)
	}

	if nowMS == d.nowMS {
		return nil
	}

	d.nowMS = nowMS
	d.prune()
	d.refreshFront()

	return nil
}

// SetDelay changes the current delay.
func (d *FixedDelayed[T]) SetDelay(delayMS uint64) error {
	if delayMS > d.maxDelay {
		return fmt.Errorf("%w: %d ms > %d ms", ErrDelayTooLarge, delayMS, d.maxDelay)
	}

	d.delay = delayMS
	d.refreshFront()

	return nil
}

// CurrentDelay returns the delay in effect.
func (d *FixedDelayed[T]) CurrentDelay() uint64 {
	return d.delay
}

// CanSense tells whether an observation is old enough to be sensed.
func (d *FixedDelayed[T]) CanSense() bool {
	return d.front >= 0
}

// Sense returns the newest observation that is at least the delay old.
func (d *FixedDelayed[T]) Sense() (T, error) {
	if !d.CanSense() {
		var zero T
		return zero, ErrNotReady
	}

	return d.history[d.front].item, nil
}

// Clear forgets every observation.
func (d *FixedDelayed[T]) Clear() {
	d.history = nil
	d.front = -1
}

// Len returns the number of observations kept.
func (d *FixedDelayed[T]) Len() int {
	return len(d.history)
}

// prune keeps the newest observation older than the maximum delay, since it
// is still the one sensed with the maximum delay, and drops the rest.
func (d *FixedDelayed[T]) prune() {
	if d.nowMS < d.maxDelay {
		return
	}

	oldest := d.nowMS - d.maxDelay
	drop := 0

	for drop+1 < len(d.history) && d.history[drop+1].observedMS <= oldest {
		drop++
	}

	if drop > 0 {
		d.history = append(d.history[:0], d.history[drop:]...)
	}
}

func (d *FixedDelayed[T]) refreshFront() {
	d.front = -1

	for i, o := range d.history {
		if !o.visible(d.nowMS, d.delay) {
			break
		}

		d.front = i
	}
}
