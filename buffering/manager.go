package buffering

import "fmt"

// A Manager flips a set of buffered values together. Each worker owns one
// and flips it once per tick; values move between managers when their
// entity changes worker.
type Manager struct {
	managed map[Flippable]struct{}
	order   []Flippable
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{managed: make(map[Flippable]struct{})}
}

// BeginManaging adds values to the manager. Adding a value twice panics.
func (m *Manager) BeginManaging(values ...Flippable) {
	for _, v := range values {
		if _, found := m.managed[v]; found {
			panic(fmt.Sprintf("buffered value %p is already managed", v))
		}

		m.managed[v] = struct{}{}
		m.order = append(m.order, v)
	}
}

// StopManaging removes values from the manager. Unknown values are ignored.
func (m *Manager) StopManaging(values ...Flippable) {
	removed := 0

	for _, v := range values {
		if _, found := m.managed[v]; found {
			delete(m.managed, v)
			removed++
		}
	}

	if removed == 0 {
		return
	}

	kept := m.order[:0]
	for _, v := range m.order {
		if _, found := m.managed[v]; found {
			kept = append(kept, v)
		}
	}

	for i := len(kept); i < len(m.order); i++ {
		m.order[i] = nil
	}

	m.order = kept
}

// IsManaging tells whether v belongs to the manager.
func (m *Manager) IsManaging(v Flippable) bool {
	_, found := m.managed[v]
	return found
}

// Len returns the number of managed values.
func (m *Manager) Len() int {
	return len(m.order)
}

// Flip flips every managed value.
func (m *Manager) Flip() {
	for _, v := range m.order {
		v.Flip()
	}
}
