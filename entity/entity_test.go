package entity

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smart-fm/simmobility-prod-sub015/buffering"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
)

type stubEntity struct {
	*Base
}

func (s *stubEntity) Update(phase.Timeslice) (UpdateStatus, error) {
	return UpdateStatus{}, nil
}

func newStub(clock *phase.Clock, entityID id.ID, startMS uint64) *stubEntity {
	return &stubEntity{Base: NewBase(clock, entityID, startMS)}
}

var _ = Describe("Base", func() {
	var (
		clock *phase.Clock
		e     *stubEntity
	)

	BeforeEach(func() {
		clock = phase.NewClock(100)
		e = newStub(clock, 7, 300)
	})

	It("should start unplaced", func() {
		_, placed := e.Location()

		Expect(placed).To(BeFalse())
		Expect(e.ID()).To(Equal(id.ID(7)))
		Expect(e.StartTime()).To(Equal(uint64(300)))
	})

	It("should publish moves at the flip", func() {
		e.PlaceAt(spatial.Point{X: 1, Y: 1})

		clock.Enter(phase.Update)
		e.MoveTo(spatial.Point{X: 2, Y: 2})
		at, _ := e.Location()
		Expect(at).To(Equal(spatial.Point{X: 1, Y: 1}))

		clock.Enter(phase.Flip)
		for _, s := range e.Subscriptions() {
			s.Flip()
		}

		at, placed := e.Location()
		Expect(placed).To(BeTrue())
		Expect(at).To(Equal(spatial.Point{X: 2, Y: 2}))
	})

	It("should unplace", func() {
		e.PlaceAt(spatial.Point{X: 1, Y: 1})

		clock.Enter(phase.Update)
		e.Unplace()
		clock.Enter(phase.Flip)
		e.Placement().Flip()

		_, placed := e.Location()
		Expect(placed).To(BeFalse())
	})

	It("should list extra subscriptions", func() {
		speed := buffering.New(clock, "speed", 0.0)
		e.Subscribe(speed)

		Expect(e.Subscriptions()).To(HaveLen(2))
		Expect(e.Subscriptions()).To(ContainElement(speed))
	})

	It("should build statuses", func() {
		child := newStub(clock, 8, 0)

		Expect(Finished().Done).To(BeTrue())
		Expect(Spawning(child).Spawn).To(ConsistOf(child))
	})
})

var _ = Describe("Table", func() {
	var table *Table

	BeforeEach(func() {
		table = NewTable()
	})

	It("should resolve live entities only", func() {
		a := newStub(nil, 1, 0)
		b := newStub(nil, 2, 0)
		Expect(table.Add(a)).To(Succeed())
		Expect(table.Add(b)).To(Succeed())
		Expect(table.Add(a)).NotTo(Succeed())

		Expect(table.Remove(1)).To(BeTrue())
		Expect(table.Remove(1)).To(BeFalse())

		_, found := table.Get(1)
		Expect(found).To(BeFalse())
		Expect(table.Resolve([]id.ID{1, 2})).To(Equal([]Entity{b}))
		Expect(table.IDs()).To(Equal([]id.ID{2}))
		Expect(table.Len()).To(Equal(1))
	})
})

var _ = Describe("StartQueue", func() {
	It("should release entities by start time", func() {
		q := NewStartQueue()
		late := newStub(nil, 1, 500)
		early := newStub(nil, 3, 100)
		tie := newStub(nil, 2, 100)

		q.Push(late)
		q.Push(early)
		q.Push(tie)

		next, ok := q.NextStart()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(uint64(100)))

		Expect(q.PopDue(50)).To(BeEmpty())
		Expect(q.PopDue(100)).To(Equal([]Entity{tie, early}))
		Expect(q.Len()).To(Equal(1))
		Expect(q.PopDue(1000)).To(Equal([]Entity{late}))

		_, ok = q.NextStart()
		Expect(ok).To(BeFalse())
	})
})
