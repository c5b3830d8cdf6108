package spatial

import (
	"math"
	"slices"
)

// leafFill is the number of items a freshly cut leaf is given, leaving room
// for arrivals before the first split.
func (t *Tree) leafFill() int {
	fill := t.capacity * 3 / 4
	if fill < 1 {
		fill = 1
	}

	return fill
}

// buildRegion cuts bound into leaves holding items. The cuts alternate to
// the longer side of the region being cut and put the cut line at the item
// that divides the leaf budget, so every leaf gets about the same number of
// items and the leaves together tile bound.
func (t *Tree) buildRegion(bound BoundingBox, items []Item, parent *node) *node {
	fill := t.leafFill()
	leaves := (len(items) + fill - 1) / fill

	return t.cutRegion(bound, items, max(leaves, 1), parent)
}

func (t *Tree) cutRegion(
	bound BoundingBox,
	items []Item,
	leaves int,
	parent *node,
) *node {
	if leaves <= 1 || len(items) == 0 {
		return t.makeLeaf(bound, items, parent)
	}

	lowLeaves := leaves / 2
	k := len(items) * lowLeaves / leaves

	a := bound.longerAxis()
	cutAt := a.of(bound.Center())

	if k > 0 && k < len(items) {
		selectKth(items, k, a)
		cutAt = a.of(items[k].At)
	}

	lowBound, highBound := bound.cut(a, cutAt)

	n := &node{bound: bound, parent: parent}
	n.children = []*node{
		t.cutRegion(lowBound, items[:k], lowLeaves, n),
		t.cutRegion(highBound, items[k:], leaves-lowLeaves, n),
	}

	return n
}

func (t *Tree) makeLeaf(bound BoundingBox, items []Item, parent *node) *node {
	leaf := &node{
		leaf:   true,
		bound:  bound,
		parent: parent,
		items:  make([]Item, len(items), max(len(items), t.capacity)),
	}
	copy(leaf.items, items)

	for _, it := range items {
		t.owner[it.ID] = leaf
	}

	return leaf
}

// selectKth reorders items so that items[k] holds the item that would be at
// k if items were sorted along a, with no larger item before it and no
// smaller item after it.
func selectKth(items []Item, k int, a axis) {
	lo, hi := 0, len(items)-1

	for lo < hi {
		pivot := a.of(items[lo+(hi-lo)/2].At)
		i, j := lo, hi

		for i <= j {
			for a.of(items[i].At) < pivot {
				i++
			}

			for a.of(items[j].At) > pivot {
				j--
			}

			if i <= j {
				items[i], items[j] = items[j], items[i]
				i++
				j--
			}
		}

		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return
		}
	}
}

func spread(items []Item, a axis) float64 {
	if len(items) == 0 {
		return 0
	}

	low, high := math.Inf(1), math.Inf(-1)
	for _, it := range items {
		v := a.of(it.At)
		low = math.Min(low, v)
		high = math.Max(high, v)
	}

	return high - low
}

func sortByCenter(nodes []*node, a axis) {
	slices.SortFunc(nodes, func(x, y *node) int {
		cx, cy := a.of(x.bound.Center()), a.of(y.bound.Center())

		switch {
		case cx < cy:
			return -1
		case cx > cy:
			return 1
		default:
			return 0
		}
	})
}
