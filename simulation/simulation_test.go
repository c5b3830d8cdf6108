package simulation

import (
	"context"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/config"
	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
	"github.com/smart-fm/simmobility-prod-sub015/scenario"
	"github.com/smart-fm/simmobility-prod-sub015/tracing"
)

var _ = Describe("Simulation", func() {
	var (
		ctx     context.Context
		cfg     *config.Config
		walkers *scenario.Scenario
		sim     *Simulation
	)

	BeforeEach(func() {
		ctx = context.Background()

		cfg = config.Default()
		cfg.Simulation.Ticks = 5
		cfg.Workers.Count = 2
		cfg.Spatial.Extent = config.ExtentConfig{MaxX: 100, MaxY: 100}

		walkers = &scenario.Scenario{
			Name: "test",
			Populations: []scenario.Population{
				{
					Name:        "early",
					Count:       3,
					Area:        scenario.Area{MaxX: 100, MaxY: 100},
					Speed:       2,
					SenseRadius: 10,
				},
				{
					Name:    "late",
					Count:   2,
					StartMS: 200,
					Area:    scenario.Area{MinX: 50, MinY: 50, MaxX: 60, MaxY: 60},
					Speed:   1,
				},
			},
		}
	})

	AfterEach(func() {
		if sim != nil {
			Expect(sim.Terminate()).To(Succeed())
			sim = nil
		}
	})

	build := func(b Builder) *Simulation {
		s, err := b.WithScenario(walkers).WithLogger(zap.NewNop()).Build()
		Expect(err).NotTo(HaveOccurred())

		return s
	}

	It("should run the configured number of ticks", func() {
		sim = build(MakeBuilder().WithConfig(cfg))

		Expect(sim.GetDataRecorder()).To(BeNil())
		Expect(sim.GetMonitor()).To(BeNil())
		Expect(sim.WorkGroup().NumEntities()).To(Equal(3))
		Expect(sim.WorkGroup().Pending()).To(Equal(2))

		Expect(sim.Run(ctx)).To(Succeed())

		Expect(sim.WorkGroup().Now().Tick).To(Equal(uint64(5)))
		Expect(sim.WorkGroup().NumEntities()).To(Equal(5))
		Expect(sim.Index().Len()).To(Equal(5))
	})

	It("should record ticks and moves", func() {
		cfg.Recording.TraceFlips = true
		out := filepath.Join(GinkgoT().TempDir(), "run")
		sim = build(MakeBuilder().WithConfig(cfg).WithOutputFileName(out))

		filename := datarecording.Filename(sim.GetDataRecorder())
		Expect(filename).To(Equal(out + ".sqlite3"))

		Expect(sim.Run(ctx)).To(Succeed())
		Expect(sim.Terminate()).To(Succeed())
		sim = nil

		reader, err := datarecording.NewReader(filename)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		tracing.RegisterTables(reader)

		ticks, err := reader.Count(ctx, tracing.TickTable, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(ticks).To(Equal(5))

		moves, err := reader.Count(ctx, tracing.MoveTable, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(moves).To(BeNumerically(">", 0))
	})

	It("should serve the monitor", func() {
		sim = build(MakeBuilder().WithConfig(cfg).WithMonitorPort(0))

		Expect(sim.GetMonitor()).NotTo(BeNil())
		Expect(sim.MonitorURL()).To(HavePrefix("http://localhost:"))

		Expect(sim.Run(ctx)).To(Succeed())

		rsp, err := http.Get(sim.MonitorURL() + "/api/progress")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()
		Expect(rsp.StatusCode).To(Equal(http.StatusOK))
	})

	It("should reject an invalid configuration", func() {
		cfg.Workers.Count = 0

		_, err := MakeBuilder().WithConfig(cfg).WithLogger(zap.NewNop()).Build()
		Expect(err).To(MatchError(ContainSubstring("invalid configuration")))
	})

	It("should require a scenario", func() {
		_, err := MakeBuilder().
			WithConfig(cfg).
			WithScenario(nil).
			WithLogger(zap.NewNop()).
			Build()
		Expect(err).To(MatchError(ErrNoScenario))
	})
})
