package spatial

import (
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

func randomItems(rng *rand.Rand, n int, extent BoundingBox) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID: id.ID(i + 1),
			At: Point{
				X: extent.Min.X + rng.Float64()*extent.Width(),
				Y: extent.Min.Y + rng.Float64()*extent.Height(),
			},
		}
	}

	return items
}

func bruteForce(positions map[id.ID]Point, box BoundingBox) []id.ID {
	var ids []id.ID
	for entityID, p := range positions {
		if box.ContainsPoint(p) {
			ids = append(ids, entityID)
		}
	}

	return ids
}

func randomBox(rng *rand.Rand, extent BoundingBox) BoundingBox {
	x := extent.Min.X + rng.Float64()*extent.Width()
	y := extent.Min.Y + rng.Float64()*extent.Height()

	return Box(x, y, x+rng.Float64()*extent.Width()/4,
		y+rng.Float64()*extent.Height()/4)
}

func leafListIDs(t *Tree) []id.ID {
	var ids []id.ID
	t.Each(func(it Item) bool {
		ids = append(ids, it.ID)
		return true
	})

	return ids
}

func keysOf(positions map[id.ID]Point) []id.ID {
	ids := make([]id.ID, 0, len(positions))
	for entityID := range positions {
		ids = append(ids, entityID)
	}

	return ids
}

var _ = Describe("Tree", func() {
	var (
		extent BoundingBox
		tree   *Tree
		rng    *rand.Rand
	)

	BeforeEach(func() {
		extent = Box(0, 0, 100, 100)
		tree = MakeBuilder().
			WithExtent(extent).
			WithLeafCapacity(8).
			WithMaxChildren(4).
			Build()
		rng = rand.New(rand.NewSource(7))
	})

	It("should return nothing when empty", func() {
		Expect(tree.RangeQuery(extent)).To(BeEmpty())
		Expect(tree.LeafOccupancy()).To(BeEmpty())
		Expect(tree.MeasureImbalance()).To(Equal(Stats{}))
	})

	It("should answer range queries after build", func() {
		items := randomItems(rng, 500, extent)
		Expect(tree.Build(items)).To(Succeed())

		positions := map[id.ID]Point{}
		for _, it := range items {
			positions[it.ID] = it.At
		}

		for i := 0; i < 100; i++ {
			box := randomBox(rng, extent)
			Expect(tree.RangeQuery(box)).
				To(ConsistOf(bruteForce(positions, box)))
		}

		Expect(leafListIDs(tree)).To(ConsistOf(keysOf(positions)))
		Expect(tree.Len()).To(Equal(500))
	})

	It("should keep leaves within capacity after build", func() {
		Expect(tree.Build(randomItems(rng, 300, extent))).To(Succeed())

		for _, c := range tree.LeafOccupancy() {
			Expect(c).To(BeNumerically("<=", 8))
		}

		leaves := tree.Leaves()
		Expect(leaves).To(HaveLen(len(tree.LeafOccupancy())))
		tree.Each(func(it Item) bool {
			inside := false
			for _, b := range leaves {
				inside = inside || b.ContainsPoint(it.At)
			}
			Expect(inside).To(BeTrue())
			return true
		})

		stats := tree.MeasureImbalance()
		Expect(stats.Entities).To(Equal(300))
		Expect(stats.ImbalanceRatio).To(BeNumerically("<", 0.2))
	})

	It("should reject positions outside the extent", func() {
		err := tree.Insert(1, Point{101, 5})
		Expect(err).To(MatchError(ErrOutOfBounds))

		err = tree.Build([]Item{{ID: 1, At: Point{-1, 0}}})
		Expect(err).To(MatchError(ErrOutOfBounds))
	})

	It("should reject duplicates", func() {
		Expect(tree.Insert(1, Point{1, 1})).To(Succeed())
		Expect(tree.Insert(1, Point{2, 2})).To(MatchError(ErrDuplicateEntity))

		err := tree.Build([]Item{{ID: 2}, {ID: 2}})
		Expect(err).To(MatchError(ErrDuplicateEntity))
	})

	It("should split leaves on insertion", func() {
		positions := map[id.ID]Point{}
		for _, it := range randomItems(rng, 200, extent) {
			Expect(tree.Insert(it.ID, it.At)).To(Succeed())
			positions[it.ID] = it.At
		}

		Expect(len(tree.LeafOccupancy())).To(BeNumerically(">", 200/8))
		for _, c := range tree.LeafOccupancy() {
			Expect(c).To(BeNumerically("<=", 8))
		}

		for i := 0; i < 50; i++ {
			box := randomBox(rng, extent)
			Expect(tree.RangeQuery(box)).
				To(ConsistOf(bruteForce(positions, box)))
		}

		Expect(leafListIDs(tree)).To(ConsistOf(keysOf(positions)))
	})

	It("should keep an unsplittable leaf overfull", func() {
		for i := 1; i <= 10; i++ {
			Expect(tree.Insert(id.ID(i), Point{5, 5})).To(Succeed())
		}

		Expect(tree.LeafOccupancy()).To(Equal([]int{10}))
		Expect(tree.RangeQuery(BoxAround(Point{5, 5}, 0))).To(HaveLen(10))
	})

	It("should remove entities", func() {
		Expect(tree.Build(randomItems(rng, 50, extent))).To(Succeed())

		Expect(tree.Remove(10)).To(Succeed())
		Expect(tree.Remove(10)).To(MatchError(ErrUnknownEntity))
		Expect(tree.RangeQuery(extent)).NotTo(ContainElement(id.ID(10)))
		Expect(leafListIDs(tree)).To(HaveLen(49))
	})

	It("should follow moves across leaves", func() {
		items := randomItems(rng, 400, extent)
		Expect(tree.Build(items)).To(Succeed())

		positions := map[id.ID]Point{}
		for _, it := range items {
			positions[it.ID] = it.At
		}

		for round := 0; round < 5; round++ {
			for entityID := range positions {
				if rng.Intn(3) != 0 {
					continue
				}

				p := Point{rng.Float64() * 100, rng.Float64() * 100}
				positions[entityID] = p
				tree.QueueMove(entityID, p)
			}

			Expect(tree.ApplyPendingMoves()).To(Succeed())
			Expect(tree.PendingChanges()).To(Equal(0))

			for i := 0; i < 30; i++ {
				box := randomBox(rng, extent)
				Expect(tree.RangeQuery(box)).
					To(ConsistOf(bruteForce(positions, box)))
			}

			Expect(leafListIDs(tree)).To(ConsistOf(keysOf(positions)))
		}
	})

	It("should apply queued changes in order", func() {
		Expect(tree.Build([]Item{{ID: 1, At: Point{1, 1}}})).To(Succeed())

		tree.QueueMove(1, Point{50, 50})
		tree.QueueRemove(1)
		tree.QueueInsert(2, Point{3, 3})
		Expect(tree.ApplyPendingMoves()).To(Succeed())

		Expect(tree.Contains(1)).To(BeFalse())
		Expect(tree.RangeQuery(Box(3, 3, 3, 3))).To(ConsistOf(id.ID(2)))
	})

	It("should only apply the last change of an entity", func() {
		Expect(tree.Build([]Item{
			{ID: 1, At: Point{1, 1}},
			{ID: 2, At: Point{2, 2}},
		})).To(Succeed())

		tree.QueueMove(1, Point{500, 1})
		tree.QueueRemove(1)
		tree.QueueMove(2, Point{500, 2})
		tree.QueueMove(2, Point{4, 4})
		Expect(tree.ApplyPendingMoves()).To(Succeed())

		Expect(tree.Contains(1)).To(BeFalse())
		Expect(tree.RangeQuery(Box(4, 4, 4, 4))).To(ConsistOf(id.ID(2)))
		Expect(tree.RangeQuery(Box(2, 2, 2, 2))).To(BeEmpty())
		Expect(tree.PendingChanges()).To(BeZero())
	})

	It("should drop entities moved out of the extent", func() {
		Expect(tree.Build([]Item{
			{ID: 1, At: Point{1, 1}},
			{ID: 2, At: Point{2, 2}},
		})).To(Succeed())

		tree.QueueMove(1, Point{500, 1})
		tree.QueueMove(2, Point{4, 4})
		err := tree.ApplyPendingMoves()

		Expect(err).To(MatchError(ErrOutOfBounds))
		Expect(tree.Contains(1)).To(BeFalse())
		Expect(tree.RangeQuery(extent)).To(ConsistOf(id.ID(2)))
	})

	It("should serve concurrent queries", func() {
		items := randomItems(rng, 1000, extent)
		Expect(tree.Build(items)).To(Succeed())

		wg := sync.WaitGroup{}
		results := make([]int, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				results[i] = len(tree.RangeQuery(extent))
			}(i)
		}
		wg.Wait()

		Expect(results).To(HaveEach(1000))
	})

	It("should refuse mutation during the update phase", func() {
		clock := phase.NewClock(100)
		guarded := MakeBuilder().WithExtent(extent).WithClock(clock).Build()
		clock.Enter(phase.Update)

		Expect(func() { _ = guarded.Insert(1, Point{1, 1}) }).To(Panic())
		Expect(func() { _ = guarded.ApplyPendingMoves() }).To(Panic())
		Expect(guarded.RangeQuery(extent)).To(BeEmpty())
	})

	It("should keep the leaf list complete across rebalances", func() {
		items := randomItems(rng, 300, extent)
		Expect(tree.Build(items)).To(Succeed())

		positions := map[id.ID]Point{}
		for _, it := range items {
			positions[it.ID] = it.At
		}

		for entityID := range positions {
			if entityID%2 == 0 {
				p := Point{rng.Float64() * 5, rng.Float64() * 5}
				positions[entityID] = p
				tree.QueueMove(entityID, p)
			} else if entityID%7 == 0 {
				delete(positions, entityID)
				tree.QueueRemove(entityID)
			}
		}
		Expect(tree.ApplyPendingMoves()).To(Succeed())

		tree.Rebalance()

		Expect(leafListIDs(tree)).To(ConsistOf(keysOf(positions)))
		for i := 0; i < 30; i++ {
			box := randomBox(rng, extent)
			Expect(tree.RangeQuery(box)).
				To(ConsistOf(bruteForce(positions, box)))
		}
	})
})
