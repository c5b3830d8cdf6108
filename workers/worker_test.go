package workers

import (
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
)

func mockEntity(ctrl *gomock.Controller, entityID id.ID) *MockEntity {
	e := NewMockEntity(ctrl)
	e.EXPECT().ID().Return(entityID).AnyTimes()
	e.EXPECT().StartTime().Return(uint64(0)).AnyTimes()
	e.EXPECT().Subscriptions().Return(nil).AnyTimes()

	return e
}

var _ = Describe("Worker", func() {
	var (
		mockCtrl *gomock.Controller
		clock    *phase.Clock
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		clock = phase.NewClock(100)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	freeRunning := func(endTick uint64) *Worker {
		return MakeWorkerBuilder().
			WithClock(clock).
			WithEndTick(endTick).
			Build("Worker")
	}

	It("should update every entity once per tick", func() {
		w := freeRunning(3)
		e := mockEntity(mockCtrl, 1)
		w.AddEntity(e)

		var ticks []uint64
		e.EXPECT().Update(gomock.Any()).
			DoAndReturn(func(now phase.Timeslice) (entity.UpdateStatus, error) {
				ticks = append(ticks, now.Tick)
				return entity.UpdateStatus{}, nil
			}).Times(3)

		w.Start()
		w.Wait()

		Expect(ticks).To(Equal([]uint64{0, 1, 2}))
		Expect(w.State()).To(Equal(Stopped))
		Expect(clock.Now().Tick).To(Equal(uint64(3)))
	})

	It("should panic when started twice", func() {
		w := freeRunning(1)
		w.Start()
		w.Wait()

		Expect(w.Start).To(Panic())
	})

	It("should panic when an entity is added twice", func() {
		w := freeRunning(1)
		e := mockEntity(mockCtrl, 1)
		w.AddEntity(e)

		Expect(func() { w.AddEntity(e) }).To(Panic())
	})

	It("should remove an entity after repeated failures", func() {
		w := MakeWorkerBuilder().
			WithClock(clock).
			WithEndTick(5).
			WithMaxConsecutiveFailures(2).
			Build("Worker")

		var failures []UpdateFailure
		w.AcceptHook(hooking.NewHookFunc(func(ctx hooking.HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosEntityUpdateFailed))
			failures = append(failures, ctx.Detail.(UpdateFailure))
		}))

		e := mockEntity(mockCtrl, 7)
		e.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{}, errors.New("stuck")).
			Times(2)
		w.AddEntity(e)

		w.Start()
		w.Wait()

		Expect(w.NumEntities()).To(Equal(0))
		Expect(w.Failures()).To(Equal(int64(2)))
		Expect(failures).To(HaveLen(2))
		Expect(failures[0].Removed).To(BeFalse())
		Expect(failures[1].Removed).To(BeTrue())
		Expect(failures[1].Consecutive).To(Equal(2))
		Expect(failures[1].Err).To(MatchError("stuck"))
	})

	It("should forgive failures after a successful update", func() {
		w := MakeWorkerBuilder().
			WithClock(clock).
			WithEndTick(6).
			WithMaxConsecutiveFailures(2).
			Build("Worker")

		e := mockEntity(mockCtrl, 7)
		e.EXPECT().Update(gomock.Any()).
			DoAndReturn(func(now phase.Timeslice) (entity.UpdateStatus, error) {
				if now.Tick%2 == 0 {
					return entity.UpdateStatus{}, errors.New("flaky")
				}
				return entity.UpdateStatus{}, nil
			}).Times(6)
		w.AddEntity(e)

		w.Start()
		w.Wait()

		Expect(w.NumEntities()).To(Equal(1))
		Expect(w.Failures()).To(Equal(int64(3)))
	})

	It("should recover a panicking entity and keep the others going", func() {
		w := MakeWorkerBuilder().
			WithClock(clock).
			WithEndTick(3).
			WithMaxConsecutiveFailures(0).
			Build("Worker")

		var lastErr error
		w.AcceptHook(hooking.NewHookFunc(func(ctx hooking.HookCtx) {
			lastErr = ctx.Detail.(UpdateFailure).Err
		}))

		bad := mockEntity(mockCtrl, 1)
		bad.EXPECT().Update(gomock.Any()).
			DoAndReturn(func(phase.Timeslice) (entity.UpdateStatus, error) {
				panic("boom")
			}).Times(3)
		good := mockEntity(mockCtrl, 2)
		good.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{}, nil).Times(3)

		w.AddEntity(bad)
		w.AddEntity(good)
		w.Start()
		w.Wait()

		Expect(w.NumEntities()).To(Equal(2))
		Expect(lastErr).To(MatchError(ErrEntityPanicked))
		Expect(lastErr.Error()).To(ContainSubstring("boom"))
	})

	It("should not swallow phase violations", func() {
		w := freeRunning(1)
		e := mockEntity(mockCtrl, 1)
		violation := &phase.Violation{Op: "set", Want: phase.Update, Got: phase.Flip}
		e.EXPECT().Update(gomock.Any()).
			DoAndReturn(func(phase.Timeslice) (entity.UpdateStatus, error) {
				panic(violation)
			})

		Expect(func() { w.UpdateEntity(e, phase.Timeslice{}) }).
			To(PanicWith(violation))
	})

	It("should drop finished entities and adopt spawned ones", func() {
		w := freeRunning(3)

		child := mockEntity(mockCtrl, 2)
		child.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{}, nil).Times(2)

		parent := mockEntity(mockCtrl, 1)
		parent.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{Done: true, Spawn: []entity.Entity{child}}, nil)

		w.AddEntity(parent)
		w.Start()
		w.Wait()

		Expect(w.Owns(1)).To(BeFalse())
		Expect(w.Owns(2)).To(BeTrue())
	})

	It("should adopt entities spawned in its last tick", func() {
		w := freeRunning(1)

		child := mockEntity(mockCtrl, 2)
		parent := mockEntity(mockCtrl, 1)
		parent.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{Spawn: []entity.Entity{child}}, nil)

		w.AddEntity(parent)
		w.Start()
		w.Wait()

		Expect(w.Owns(1)).To(BeTrue())
		Expect(w.Owns(2)).To(BeTrue())
	})

	It("should add scheduled entities before its next tick", func() {
		w := freeRunning(2)
		e := mockEntity(mockCtrl, 1)
		e.EXPECT().Update(gomock.Any()).
			Return(entity.UpdateStatus{}, nil).Times(2)

		w.scheduleForAddition(e)
		w.Start()
		w.Wait()

		Expect(w.Entities()).To(ConsistOf(e))
	})

	It("should stop when asked", func() {
		w := freeRunning(0)
		var updates atomic.Int64

		e := mockEntity(mockCtrl, 1)
		e.EXPECT().Update(gomock.Any()).
			DoAndReturn(func(phase.Timeslice) (entity.UpdateStatus, error) {
				updates.Add(1)
				return entity.UpdateStatus{}, nil
			}).MinTimes(1)
		w.AddEntity(e)

		w.Start()
		Eventually(updates.Load).Should(BeNumerically(">", 5))

		w.Stop()
		Eventually(w.Done()).Should(BeClosed())
		Expect(w.State()).To(Equal(Stopped))
	})
})
