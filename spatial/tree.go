// Package spatial indexes entity positions in a bounding-box tree so that an
// entity can find its neighbours without scanning the whole population.
//
// The tree is read concurrently by every worker during the update phase and
// mutated only during the flip phase. Leaves are chained in a forward list
// that covers every indexed entity exactly once.
package spatial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

// Errors returned by the tree.
var (
	ErrOutOfBounds     = errors.New("spatial: position outside the network extent")
	ErrDuplicateEntity = errors.New("spatial: entity already indexed")
	ErrUnknownEntity   = errors.New("spatial: entity not indexed")
)

// An Item is one indexed entity at its committed position.
type Item struct {
	ID id.ID
	At Point
}

// Querier is the read-only side of the tree handed to behaviour models.
type Querier interface {
	RangeQuery(box BoundingBox) []id.ID
	Search(box BoundingBox, fn func(Item) bool)
}

type node struct {
	bound    BoundingBox
	parent   *node
	children []*node

	leaf  bool
	items []Item
	next  *node
}

// Tree is the spatial index.
type Tree struct {
	extent      BoundingBox
	capacity    int
	maxChildren int
	clock       *phase.Clock
	policy      BalancePolicy

	root      *node
	firstLeaf *node
	owner     map[id.ID]*node

	pendingLock sync.Mutex
	pending     []change

	overThreshold int
}

// Extent returns the network extent the tree accepts positions in.
func (t *Tree) Extent() BoundingBox {
	return t.extent
}

// LeafCapacity returns the number of items a leaf holds before it splits.
func (t *Tree) LeafCapacity() int {
	return t.capacity
}

// Len returns the number of indexed items.
func (t *Tree) Len() int {
	return len(t.owner)
}

// Contains tells whether the entity is indexed.
func (t *Tree) Contains(entityID id.ID) bool {
	_, found := t.owner[entityID]
	return found
}


func (t *Tree) mustMutate(op string) {
	t.clock.MustNotBe(phase.Update, op)
}

func (t *Tree) checkBounds(it Item) error {
	if !t.extent.ContainsPoint(it.At) {
		return fmt.Errorf("%w: entity %d at %v, extent %v",
			ErrOutOfBounds, it.ID, it.At, t.extent)
	}

	return nil
}

// Build replaces the content of the tree with items. Leaves are cut so that
// they tile the extent and hold roughly the same number of items.
func (t *Tree) Build(items []Item) error {
	t.mustMutate("build of spatial index")

	seen := make(map[id.ID]struct{}, len(items))
	for _, it := range items {
		if err := t.checkBounds(it); err != nil {
			return err
		}

		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: entity %d", ErrDuplicateEntity, it.ID)
		}

		seen[it.ID] = struct{}{}
	}

	work := make([]Item, len(items))
	copy(work, items)

	t.owner = make(map[id.ID]*node, len(items))
	t.root = t.buildRegion(t.extent, work, nil)
	t.overThreshold = 0
	t.relink()

	return nil
}

// Insert indexes one entity at p.
func (t *Tree) Insert(entityID id.ID, p Point) error {
	t.mustMutate("insert into spatial index")

	it := Item{ID: entityID, At: p}
	if err := t.checkBounds(it); err != nil {
		return err
	}

	if t.Contains(entityID) {
		return fmt.Errorf("%w: entity %d", ErrDuplicateEntity, entityID)
	}

	t.insert(it)

	return nil
}

// Remove drops an entity from the index.
func (t *Tree) Remove(entityID id.ID) error {
	t.mustMutate("remove from spatial index")

	if !t.remove(entityID) {
		return fmt.Errorf("%w: entity %d", ErrUnknownEntity, entityID)
	}

	return nil
}

// RangeQuery returns the IDs of every entity whose position lies in box.
func (t *Tree) RangeQuery(box BoundingBox) []id.ID {
	var ids []id.ID

	t.Search(box, func(it Item) bool {
		ids = append(ids, it.ID)
		return true
	})

	return ids
}

// Search calls fn with every item in box until fn returns false.
func (t *Tree) Search(box BoundingBox, fn func(Item) bool) {
	if t.root == nil || box.IsEmpty() {
		return
	}

	search(t.root, box, fn)
}

func search(n *node, box BoundingBox, fn func(Item) bool) bool {
	if !n.bound.Intersects(box) {
		return true
	}

	if n.leaf {
		for _, it := range n.items {
			if box.ContainsPoint(it.At) && !fn(it) {
				return false
			}
		}

		return true
	}

	for _, c := range n.children {
		if !search(c, box, fn) {
			return false
		}
	}

	return true
}

// Each walks the leaf list and calls fn with every item until fn returns
// false.
func (t *Tree) Each(fn func(Item) bool) {
	for l := t.firstLeaf; l != nil; l = l.next {
		for _, it := range l.items {
			if !fn(it) {
				return
			}
		}
	}
}

// Leaves returns the bound of every leaf in list order.
func (t *Tree) Leaves() []BoundingBox {
	var bounds []BoundingBox

	for l := t.firstLeaf; l != nil; l = l.next {
		bounds = append(bounds, l.bound)
	}

	return bounds
}

// LeafOccupancy returns the number of items of every leaf in list order.
func (t *Tree) LeafOccupancy() []int {
	var counts []int

	for l := t.firstLeaf; l != nil; l = l.next {
		counts = append(counts, len(l.items))
	}

	return counts
}

func (t *Tree) insert(it Item) {
	if t.root == nil {
		t.root = &node{leaf: true, bound: t.extent}
		t.firstLeaf = t.root
	}

	if t.owner == nil {
		t.owner = make(map[id.ID]*node)
	}

	leaf := t.chooseLeaf(it.At)
	leaf.items = append(leaf.items, it)
	t.owner[it.ID] = leaf

	if len(leaf.items) > t.capacity {
		t.splitLeaf(leaf)
	}
}

func (t *Tree) chooseLeaf(p Point) *node {
	n := t.root

	for {
		n.bound = n.bound.Extend(p)
		if n.leaf {
			return n
		}

		n = chooseChild(n, p)
	}
}

func chooseChild(n *node, p Point) *node {
	var (
		best        *node
		bestEnlarge float64
	)

	for _, c := range n.children {
		if c.bound.ContainsPoint(p) {
			return c
		}

		enlarge := c.bound.Extend(p).Area() - c.bound.Area()
		if best == nil || enlarge < bestEnlarge {
			best = c
			bestEnlarge = enlarge
		}
	}

	return best
}

func (t *Tree) remove(entityID id.ID) bool {
	leaf, found := t.owner[entityID]
	if !found {
		return false
	}

	for i, it := range leaf.items {
		if it.ID == entityID {
			last := len(leaf.items) - 1
			leaf.items[i] = leaf.items[last]
			leaf.items[last] = Item{}
			leaf.items = leaf.items[:last]

			break
		}
	}

	delete(t.owner, entityID)

	return true
}

// splitLeaf halves an overfull leaf at the median of its items. A leaf whose
// items all share one position cannot be split and is left overfull.
func (t *Tree) splitLeaf(leaf *node) {
	a := leaf.bound.longerAxis()
	if spread(leaf.items, a) == 0 {
		a = 1 - a
		if spread(leaf.items, a) == 0 {
			return
		}
	}

	k := len(leaf.items) / 2
	selectKth(leaf.items, k, a)
	cutAt := a.of(leaf.items[k].At)

	lowBound, highBound := leaf.bound.cut(a, cutAt)

	high := &node{
		leaf:   true,
		bound:  highBound,
		items:  append([]Item(nil), leaf.items[k:]...),
		parent: leaf.parent,
	}
	for _, it := range high.items {
		t.owner[it.ID] = high
	}

	leaf.items = append([]Item(nil), leaf.items[:k]...)
	leaf.bound = lowBound

	t.addSibling(leaf, high)
	t.relink()
}

// addSibling places added next to existing under existing's parent, growing
// a new root when existing is the root.
func (t *Tree) addSibling(existing, added *node) {
	parent := existing.parent
	if parent == nil {
		root := &node{
			bound:    existing.bound.Union(added.bound),
			children: []*node{existing, added},
		}
		existing.parent = root
		added.parent = root
		t.root = root

		return
	}

	added.parent = parent
	for i, c := range parent.children {
		if c == existing {
			parent.children = append(parent.children, nil)
			copy(parent.children[i+2:], parent.children[i+1:])
			parent.children[i+1] = added

			break
		}
	}

	if len(parent.children) > t.maxChildren {
		t.splitNode(parent)
	}
}

func (t *Tree) splitNode(n *node) {
	a := n.bound.longerAxis()
	sortByCenter(n.children, a)

	half := len(n.children) / 2
	sibling := &node{
		children: append([]*node(nil), n.children[half:]...),
	}
	n.children = append([]*node(nil), n.children[:half]...)

	n.bound = unionOf(n.children)
	sibling.bound = unionOf(sibling.children)
	for _, c := range sibling.children {
		c.parent = sibling
	}

	t.addSibling(n, sibling)
}

func unionOf(nodes []*node) BoundingBox {
	b := nodes[0].bound
	for _, c := range nodes[1:] {
		b = b.Union(c.bound)
	}

	return b
}

// relink chains the leaves left to right in tree order.
func (t *Tree) relink() {
	var prev *node

	t.firstLeaf = nil

	var walk func(n *node)
	walk = func(n *node) {
		if n.leaf {
			if prev == nil {
				t.firstLeaf = n
			} else {
				prev.next = n
			}

			prev = n
			n.next = nil

			return
		}

		for _, c := range n.children {
			walk(c)
		}
	}

	if t.root != nil {
		walk(t.root)
	}
}
