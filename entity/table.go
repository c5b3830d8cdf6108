package entity

import (
	"fmt"
	"slices"

	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
)

// A Table holds every live entity by ID. Workers and the spatial index keep
// IDs rather than entities, so an entity removed from the table can no longer
// be reached from anywhere.
//
// The table is read concurrently during the update phase and written only
// during the flip phase.
type Table struct {
	entities map[id.ID]Entity
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entities: make(map[id.ID]Entity)}
}

// Add registers an entity.
func (t *Table) Add(e Entity) error {
	if _, found := t.entities[e.ID()]; found {
		return fmt.Errorf("entity %d is already registered", e.ID())
	}

	t.entities[e.ID()] = e

	return nil
}

// Remove unregisters an entity and tells whether it was registered.
func (t *Table) Remove(entityID id.ID) bool {
	if _, found := t.entities[entityID]; !found {
		return false
	}

	delete(t.entities, entityID)

	return true
}

// Get resolves an ID.
func (t *Table) Get(entityID id.ID) (Entity, bool) {
	e, found := t.entities[entityID]
	return e, found
}

// Len returns the number of live entities.
func (t *Table) Len() int {
	return len(t.entities)
}

// IDs returns the live IDs in increasing order.
func (t *Table) IDs() []id.ID {
	ids := make([]id.ID, 0, len(t.entities))
	for entityID := range t.entities {
		ids = append(ids, entityID)
	}

	slices.Sort(ids)

	return ids
}

// Resolve maps IDs to entities, skipping IDs that no longer resolve.
func (t *Table) Resolve(ids []id.ID) []Entity {
	out := make([]Entity, 0, len(ids))

	for _, entityID := range ids {
		if e, found := t.entities[entityID]; found {
			out = append(out, e)
		}
	}

	return out
}
