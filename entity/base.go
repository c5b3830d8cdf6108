package entity

import (
	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
)

// Base carries what every located entity needs. Behaviour models embed it and
// add Update.
type Base struct {
	id            id.ID
	startMS       uint64
	clock         *phase.Clock
	placement     *buffering.Buffered[Placement]
	subscriptions []buffering.Flippable
}

// NewBase creates an unplaced entity base.
func NewBase(clock *phase.Clock, entityID id.ID, startMS uint64) *Base {
	b := &Base{
		id:      entityID,
		startMS: startMS,
		clock:   clock,
	}

	b.placement = buffering.New(clock, "placement", Placement{})
	b.subscriptions = []buffering.Flippable{b.placement}

	return b
}

// ID returns the entity ID.
func (b *Base) ID() id.ID {
	return b.id
}

// StartTime returns the time at which the entity joins.
func (b *Base) StartTime() uint64 {
	return b.startMS
}

// Clock returns the clock the entity's buffered values check against.
func (b *Base) Clock() *phase.Clock {
	return b.clock
}

// Placement returns the buffered position.
func (b *Base) Placement() *buffering.Buffered[Placement] {
	return b.placement
}

// Location returns the committed position.
func (b *Base) Location() (spatial.Point, bool) {
	p := b.placement.Get()
	return p.At, p.Placed
}

// PlaceAt sets the position outside the update phase, for loaders and for
// newborn entities.
func (b *Base) PlaceAt(p spatial.Point) {
	b.placement.Force(Placement{At: p, Placed: true})
}

// MoveTo stages a new position for the next tick.
func (b *Base) MoveTo(p spatial.Point) {
	b.placement.Set(Placement{At: p, Placed: true})
}

// Unplace stages the removal of the entity from the network.
func (b *Base) Unplace() {
	b.placement.Set(Placement{})
}

// Subscribe registers more buffered values owned by the entity.
func (b *Base) Subscribe(values ...buffering.Flippable) {
	b.subscriptions = append(b.subscriptions, values...)
}

// Subscriptions returns every buffered value owned by the entity.
func (b *Base) Subscriptions() []buffering.Flippable {
	return b.subscriptions
}
