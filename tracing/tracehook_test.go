package tracing

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

type scripted struct {
	*entity.Base
	update func(s *scripted, now phase.Timeslice) (entity.UpdateStatus, error)
}

func (s *scripted) Update(now phase.Timeslice) (entity.UpdateStatus, error) {
	return s.update(s, now)
}

var _ = Describe("Trace hooks", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		clock    *phase.Clock
		group    *workers.WorkGroup
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		clock = phase.NewClock(100)

		tree := spatial.MakeBuilder().
			WithExtent(spatial.Box(0, 0, 100, 100)).
			WithClock(clock).
			Build()
		group = workers.MakeBuilder().
			WithNumWorkers(2).
			WithClock(clock).
			WithIndex(tree).
			WithMaxConsecutiveFailures(0).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should refuse to attach a tracer twice", func() {
		CollectTrace(group, tracer)

		Expect(func() { CollectTrace(group, tracer) }).To(Panic())
	})

	It("should forward ticks, failures and moves", func() {
		mover := &scripted{Base: entity.NewBase(clock, 1, 0)}
		mover.PlaceAt(spatial.Point{X: 10, Y: 10})
		mover.update = func(s *scripted, now phase.Timeslice) (entity.UpdateStatus, error) {
			if now.Tick == 1 {
				s.MoveTo(spatial.Point{X: 30, Y: 40})
			}
			return entity.UpdateStatus{}, nil
		}

		broken := &scripted{Base: entity.NewBase(clock, 2, 0)}
		broken.update = func(*scripted, phase.Timeslice) (entity.UpdateStatus, error) {
			return entity.UpdateStatus{}, errors.New("no route")
		}

		Expect(group.Load(mover, broken)).To(Succeed())
		CollectGroup(group, tracer, true)

		var ticks []uint64
		tracer.EXPECT().EndTick(gomock.Any()).
			Do(func(s workers.TickStats) { ticks = append(ticks, s.Tick) }).
			Times(3)
		tracer.EXPECT().
			UpdateFailed(id.ID(2), gomock.Any()).
			Do(func(_ id.ID, f workers.UpdateFailure) {
				Expect(f.Err).To(MatchError("no route"))
			}).
			Times(3)
		tracer.EXPECT().Moved(
			id.ID(1),
			uint64(1),
			entity.Placement{At: spatial.Point{X: 10, Y: 10}, Placed: true},
			entity.Placement{At: spatial.Point{X: 30, Y: 40}, Placed: true},
		)
		tracer.EXPECT().Rebalanced(gomock.Any(), gomock.Any()).AnyTimes()

		Expect(group.Run(context.Background(), 3)).To(Succeed())
		Expect(ticks).To(Equal([]uint64{0, 1, 2}))
	})
})
