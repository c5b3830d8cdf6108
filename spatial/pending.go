package spatial

import (
	"errors"

	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
)

type changeKind int

const (
	changeInsert changeKind = iota
	changeMove
	changeRemove
)

type change struct {
	kind changeKind
	id   id.ID
	at   Point
}

// QueueInsert records that an entity got a position. It may be called from
// several goroutines during the flip phase.
func (t *Tree) QueueInsert(entityID id.ID, p Point) {
	t.queue(change{kind: changeInsert, id: entityID, at: p})
}

// QueueMove records that an entity's committed position changed.
func (t *Tree) QueueMove(entityID id.ID, p Point) {
	t.queue(change{kind: changeMove, id: entityID, at: p})
}

// QueueRemove records that an entity left the index, by dying or by losing
// its position.
func (t *Tree) QueueRemove(entityID id.ID) {
	t.queue(change{kind: changeRemove, id: entityID})
}

func (t *Tree) queue(c change) {
	t.pendingLock.Lock()
	t.pending = append(t.pending, c)
	t.pendingLock.Unlock()
}

// PendingChanges returns the number of queued changes.
func (t *Tree) PendingChanges() int {
	t.pendingLock.Lock()
	defer t.pendingLock.Unlock()

	return len(t.pending)
}

// ApplyPendingMoves applies the queued changes. Only the last change queued
// for an entity counts, so a removal supersedes the moves before it. An item
// that stays inside its leaf is updated in place; one that leaves it is
// removed and reinserted. Items moved outside the extent are dropped from the
// index and reported in the returned error.
func (t *Tree) ApplyPendingMoves() error {
	t.mustMutate("apply pending moves")

	t.pendingLock.Lock()
	changes := t.pending
	t.pending = nil
	t.pendingLock.Unlock()

	var errs []error

	for _, c := range lastPerEntity(changes) {
		switch c.kind {
		case changeRemove:
			t.remove(c.id)
		case changeInsert, changeMove:
			if err := t.place(Item{ID: c.id, At: c.at}); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// lastPerEntity keeps the last change of every entity, in queue order.
func lastPerEntity(changes []change) []change {
	last := make(map[id.ID]int, len(changes))
	for i, c := range changes {
		last[c.id] = i
	}

	kept := changes[:0]
	for i, c := range changes {
		if last[c.id] == i {
			kept = append(kept, c)
		}
	}

	return kept
}

func (t *Tree) place(it Item) error {
	if err := t.checkBounds(it); err != nil {
		t.remove(it.ID)
		return err
	}

	leaf, found := t.owner[it.ID]
	if found && leaf.bound.ContainsPoint(it.At) {
		for i := range leaf.items {
			if leaf.items[i].ID == it.ID {
				leaf.items[i].At = it.At
				return nil
			}
		}
	}

	if found {
		t.remove(it.ID)
	}

	t.insert(it)

	return nil
}
