// Package entity defines what the engine advances every tick.
package entity

import (
	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
)

// UpdateStatus tells the worker what to do with an entity after its update.
// The zero value keeps the entity alive.
type UpdateStatus struct {
	// Done removes the entity at the next flip.
	Done bool

	// Spawn lists entities born during the update. They join the simulation
	// at the next flip.
	Spawn []Entity
}

// Finished is the status of an entity that leaves the simulation.
func Finished() UpdateStatus {
	return UpdateStatus{Done: true}
}

// Spawning is the status of an entity that stays and gives birth.
func Spawning(children ...Entity) UpdateStatus {
	return UpdateStatus{Spawn: children}
}

// An Entity is advanced once per tick by the worker that owns it.
//
// Update may read any entity's committed state and the spatial index, and may
// write only its own buffered values.
type Entity interface {
	ID() id.ID

	// StartTime is the simulated time, in ms, at which the entity joins.
	StartTime() uint64

	Update(now phase.Timeslice) (UpdateStatus, error)

	// Subscriptions are the buffered values the owning worker flips.
	Subscriptions() []buffering.Flippable
}

// Placement is the published position of an entity. Entities that are not on
// the network yet, or not any more, are not placed.
type Placement struct {
	At     spatial.Point
	Placed bool
}

// Located is an entity with a position, and therefore part of the spatial
// index.
type Located interface {
	Entity
	Placement() *buffering.Buffered[Placement]
}
