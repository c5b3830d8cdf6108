package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

type parked struct {
	*entity.Base
	Label string
}

func (p *parked) Update(phase.Timeslice) (entity.UpdateStatus, error) {
	return entity.UpdateStatus{}, nil
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		group  *workers.WorkGroup
		router http.Handler
	)

	BeforeEach(func() {
		clock := phase.NewClock(100)
		tree := spatial.MakeBuilder().
			WithExtent(spatial.Box(0, 0, 100, 100)).
			WithClock(clock).
			Build()
		group = workers.MakeBuilder().
			WithNumWorkers(2).
			WithClock(clock).
			WithIndex(tree).
			Build()

		var items []spatial.Item
		for i, p := range []spatial.Point{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 80, Y: 80}} {
			e := &parked{Base: entity.NewBase(clock, id.ID(i+1), 0), Label: "car"}
			e.PlaceAt(p)
			Expect(group.Load(e)).To(Succeed())
			items = append(items, spatial.Item{ID: e.ID(), At: p})
		}
		Expect(tree.Build(items)).To(Succeed())

		m = NewMonitor()
		m.profileDuration = 10 * time.Millisecond
		m.RegisterWorkGroup(group)
		router = m.Router()
	})

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	It("should report the time", func() {
		var rsp nowRsp
		decode(get("/api/now"), &rsp)

		Expect(rsp).To(Equal(nowRsp{}))
	})

	It("should pause and continue", func() {
		Expect(get("/api/pause").Code).To(Equal(http.StatusOK))
		Expect(group.Paused()).To(BeTrue())

		Expect(get("/api/continue").Code).To(Equal(http.StatusOK))
		Expect(group.Paused()).To(BeFalse())
	})

	It("should list workers", func() {
		var rsp []workerRsp
		decode(get("/api/workers"), &rsp)

		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Name).To(Equal("Worker[0]"))
		Expect(rsp[0].Entities).To(Equal(2))
		Expect(rsp[1].Entities).To(Equal(1))
		Expect(rsp[1].State).To(Equal("idle"))
	})

	It("should page through entities", func() {
		var rsp struct {
			Total int     `json:"total"`
			IDs   []id.ID `json:"ids"`
		}
		decode(get("/api/entities?limit=1&offset=1"), &rsp)

		Expect(rsp.Total).To(Equal(3))
		Expect(rsp.IDs).To(Equal([]id.ID{2}))

		Expect(get("/api/entities?limit=many").Code).To(Equal(http.StatusBadRequest))
	})

	It("should serialize an entity", func() {
		rec := get("/api/entity/2")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("Label"))
		Expect(get("/api/entity/42").Code).To(Equal(http.StatusNotFound))
	})

	It("should answer range queries", func() {
		var ids []id.ID
		decode(get("/api/spatial/query?box=0,0,50,50"), &ids)

		Expect(ids).To(ConsistOf(id.ID(1), id.ID(2)))
		Expect(get("/api/spatial/query?box=1,2").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should report index statistics", func() {
		var stats spatial.Stats
		decode(get("/api/spatial/stats"), &stats)

		Expect(stats.Entities).To(Equal(3))

		var leaves []spatial.BoundingBox
		decode(get("/api/spatial/leaves"), &leaves)

		Expect(leaves).NotTo(BeEmpty())
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("ticks", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []ProgressBarSnapshot
		decode(get("/api/progress"), &bars)

		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		decode(get("/api/progress"), &bars)
		Expect(bars).To(BeEmpty())
	})

	It("should report resources", func() {
		var rsp resourceRsp
		decode(get("/api/resource"), &rsp)

		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a profile", func() {
		Expect(get("/api/profile").Code).To(Equal(http.StatusOK))
	})

	It("should serve the dashboard", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should serve over HTTP", func() {
		url, err := m.WithPortNumber(0).StartServer()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(m.StopServer(context.Background())).To(Succeed()) })

		rsp, err := http.Get(url + "/api/now")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`"tick":0`))
	})
})
