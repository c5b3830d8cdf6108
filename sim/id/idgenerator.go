// Package id provides entity identifiers.
package id

import (
	"strconv"
	"sync/atomic"
)

// ID identifies an entity for the whole lifetime of a simulation. IDs are
// never reused, so a stale ID simply fails to resolve after its entity dies.
type ID uint64

// None is the zero ID. Generators never return it.
const None ID = 0

func (i ID) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// Generator hands out IDs.
type Generator interface {
	Generate() ID
}

// NewGenerator returns a sequential generator whose first ID is 1.
func NewGenerator() Generator {
	return &sequentialGenerator{}
}

// NewGeneratorFrom returns a sequential generator that continues after last.
// Loaders that assign their own IDs use it so that births do not collide.
func NewGeneratorFrom(last ID) Generator {
	g := &sequentialGenerator{}
	g.nextID.Store(uint64(last))

	return g
}

type sequentialGenerator struct {
	nextID atomic.Uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(g.nextID.Add(1))
}
