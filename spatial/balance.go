package spatial

import (
	"math"
)

// depthCost weighs the fixed cost of reaching a leaf against scanning its
// items when estimating query load.
const depthCost = 20

// Stats summarises how items are spread over the leaves.
type Stats struct {
	Leaves         int
	EmptyLeaves    int
	Entities       int
	MaxOccupancy   int
	Depth          int
	MeanOccupancy  float64
	ImbalanceRatio float64
	LoadRatio      float64
}

// A BalancePolicy decides when the tree rebalances itself. The imbalance is
// measured every CheckInterval ticks; the tree rebalances once the ratio
// stays above ImbalanceThreshold for RebalanceAfter checks in a row, so
// that a short-lived jam does not trigger a rebuild.
type BalancePolicy struct {
	CheckInterval      uint64
	ImbalanceThreshold float64
	RebalanceAfter     int
}

// DefaultBalancePolicy returns the policy used when none is configured.
func DefaultBalancePolicy() BalancePolicy {
	return BalancePolicy{
		CheckInterval:      3,
		ImbalanceThreshold: 0.5,
		RebalanceAfter:     2,
	}
}

// MeasureImbalance computes occupancy statistics in one pass over the leaves.
// The imbalance ratio is the standard deviation of leaf occupancy divided by
// the mean occupancy.
func (t *Tree) MeasureImbalance() Stats {
	counts := t.LeafOccupancy()

	s := occupancyStats(counts)
	s.Depth = depth(t.root)

	return s
}

func occupancyStats(counts []int) Stats {
	s := Stats{Leaves: len(counts)}
	if s.Leaves == 0 {
		return s
	}

	for _, c := range counts {
		s.Entities += c
		s.MaxOccupancy = max(s.MaxOccupancy, c)

		if c == 0 {
			s.EmptyLeaves++
		}
	}

	if s.Entities == 0 {
		return s
	}

	mean := float64(s.Entities) / float64(s.Leaves)
	s.MeanOccupancy = mean

	sumSq, cost := 0.0, 0.0
	for _, c := range counts {
		d := float64(c) - mean
		sumSq += d * d
		cost += float64(c) * float64(c+depthCost)
	}

	s.ImbalanceRatio = math.Sqrt(sumSq/float64(s.Leaves)) / mean

	best := float64(s.Leaves) * mean * (mean + depthCost)
	s.LoadRatio = cost / best

	return s
}

func depth(n *node) int {
	if n == nil {
		return 0
	}

	if n.leaf {
		return 1
	}

	d := 0
	for _, c := range n.children {
		d = max(d, depth(c))
	}

	return d + 1
}

// CheckBalance runs the balance policy for the given tick. It returns the
// measured statistics, or the statistics after rebalancing, and whether a
// rebalance happened. Ticks that are not check ticks return zero Stats.
func (t *Tree) CheckBalance(tick uint64) (Stats, bool) {
	p := t.policy
	if p.CheckInterval == 0 || tick%p.CheckInterval != 0 {
		return Stats{}, false
	}

	stats := t.MeasureImbalance()
	if stats.ImbalanceRatio > p.ImbalanceThreshold {
		t.overThreshold++
	} else {
		t.overThreshold = 0
	}

	if t.overThreshold < max(p.RebalanceAfter, 1) {
		return stats, false
	}

	t.Rebalance()

	return t.MeasureImbalance(), true
}

// Rebalance redistributes items over fresh leaves. Each top-level subtree is
// judged on its own and only skewed subtrees are cut again; when most of the
// tree is skewed the whole extent is cut again.
func (t *Tree) Rebalance() {
	t.mustMutate("rebalance of spatial index")

	t.overThreshold = 0

	if t.root == nil {
		return
	}

	if t.root.leaf {
		t.rebuildAll()
		return
	}

	var skewed []int
	for i, c := range t.root.children {
		if t.isSkewed(c) {
			skewed = append(skewed, i)
		}
	}

	if len(skewed) == 0 {
		return
	}

	if 2*len(skewed) > len(t.root.children) {
		t.rebuildAll()
		return
	}

	for _, i := range skewed {
		t.root.children[i] = t.rebuildSubtree(t.root.children[i])
	}

	t.relink()
}

func (t *Tree) isSkewed(n *node) bool {
	var counts []int

	walkLeaves(n, func(l *node) {
		counts = append(counts, len(l.items))
	})

	s := occupancyStats(counts)
	if s.Entities == 0 {
		return s.Leaves > 1
	}

	fill := float64(t.leafFill())

	return s.ImbalanceRatio > t.policy.ImbalanceThreshold ||
		s.MeanOccupancy < fill/2 ||
		s.MeanOccupancy > float64(t.capacity)
}

func (t *Tree) rebuildAll() {
	items := collect(t.root)

	t.root = t.buildRegion(t.extent, items, nil)
	t.relink()
}

func (t *Tree) rebuildSubtree(n *node) *node {
	items := collect(n)

	return t.buildRegion(n.bound, items, n.parent)
}

func collect(n *node) []Item {
	var items []Item

	walkLeaves(n, func(l *node) {
		items = append(items, l.items...)
	})

	return items
}

func walkLeaves(n *node, fn func(*node)) {
	if n.leaf {
		fn(n)
		return
	}

	for _, c := range n.children {
		walkLeaves(c, fn)
	}
}
