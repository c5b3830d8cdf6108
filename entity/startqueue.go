package entity

import "container/heap"

// A StartQueue holds entities that have not joined yet, ordered by start
// time and then by ID.
type StartQueue struct {
	h entityHeap
}

// NewStartQueue creates an empty queue.
func NewStartQueue() *StartQueue {
	return &StartQueue{}
}

// Push adds an entity.
func (q *StartQueue) Push(e Entity) {
	heap.Push(&q.h, e)
}

// Len returns the number of waiting entities.
func (q *StartQueue) Len() int {
	return q.h.Len()
}

// PopDue removes and returns, in order, the entities whose start time is not
// after nowMS.
func (q *StartQueue) PopDue(nowMS uint64) []Entity {
	var due []Entity

	for q.h.Len() > 0 && q.h[0].StartTime() <= nowMS {
		due = append(due, heap.Pop(&q.h).(Entity))
	}

	return due
}

// NextStart returns the earliest start time in the queue.
func (q *StartQueue) NextStart() (uint64, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}

	return q.h[0].StartTime(), true
}

type entityHeap []Entity

func (h entityHeap) Len() int { return len(h) }

func (h entityHeap) Less(i, j int) bool {
	if h[i].StartTime() != h[j].StartTime() {
		return h[i].StartTime() < h[j].StartTime()
	}

	return h[i].ID() < h[j].ID()
}

func (h entityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entityHeap) Push(x any) {
	*h = append(*h, x.(Entity))
}

func (h *entityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return e
}
