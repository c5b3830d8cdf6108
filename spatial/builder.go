package spatial

import (
	"fmt"

	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

// Builder can build spatial index trees.
type Builder struct {
	extent      BoundingBox
	capacity    int
	maxChildren int
	clock       *phase.Clock
	policy      BalancePolicy
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		extent:      Box(0, 0, 1000, 1000),
		capacity:    16,
		maxChildren: 8,
		policy:      DefaultBalancePolicy(),
	}
}

// WithExtent sets the area in which positions are accepted.
func (b Builder) WithExtent(extent BoundingBox) Builder {
	b.extent = extent
	return b
}

// WithLeafCapacity sets how many items a leaf holds before splitting.
func (b Builder) WithLeafCapacity(capacity int) Builder {
	b.capacity = capacity
	return b
}

// WithMaxChildren sets how many children an internal node holds before
// splitting.
func (b Builder) WithMaxChildren(n int) Builder {
	b.maxChildren = n
	return b
}

// WithClock makes the tree refuse mutation during the update phase.
func (b Builder) WithClock(clock *phase.Clock) Builder {
	b.clock = clock
	return b
}

// WithBalancePolicy sets when the tree rebalances.
func (b Builder) WithBalancePolicy(p BalancePolicy) Builder {
	b.policy = p
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.extent.IsEmpty() {
		panic(fmt.Sprintf("spatial: empty extent %v", b.extent))
	}

	if b.capacity < 2 {
		panic(fmt.Sprintf("spatial: leaf capacity %d is less than 2", b.capacity))
	}

	if b.maxChildren < 2 {
		panic(fmt.Sprintf("spatial: max children %d is less than 2", b.maxChildren))
	}
}

// Build creates an empty tree.
func (b Builder) Build() *Tree {
	b.parametersMustBeValid()

	return &Tree{
		extent:      b.extent,
		capacity:    b.capacity,
		maxChildren: b.maxChildren,
		clock:       b.clock,
		policy:      b.policy,
		owner:       make(map[id.ID]*node),
	}
}
