package simulation

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/config"
	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
	"github.com/smart-fm/simmobility-prod-sub015/entity"
	"github.com/smart-fm/simmobility-prod-sub015/examples/randomwalk"
	"github.com/smart-fm/simmobility-prod-sub015/logging"
	"github.com/smart-fm/simmobility-prod-sub015/monitoring"
	"github.com/smart-fm/simmobility-prod-sub015/scenario"
	"github.com/smart-fm/simmobility-prod-sub015/sim/hooking"
	"github.com/smart-fm/simmobility-prod-sub015/sim/id"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/tracing"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg      *config.Config
	scenario *scenario.Scenario
	logger   *zap.Logger
}

// MakeBuilder creates a new builder with the default configuration and
// scenario.
func MakeBuilder() Builder {
	return Builder{
		cfg:      config.Default(),
		scenario: scenario.Default(),
	}
}

// WithConfig sets the configuration. The builder keeps its own copy.
func (b Builder) WithConfig(cfg *config.Config) Builder {
	c := *cfg
	b.cfg = &c

	return b
}

// WithScenario sets the populations the simulation starts with.
func (b Builder) WithScenario(s *scenario.Scenario) Builder {
	b.scenario = s
	return b
}

// WithLogger sets the logger. Without one, a logger is built from the
// logging section of the configuration.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithoutMonitoring disables the monitoring server.
func (b Builder) WithoutMonitoring() Builder {
	b.cfg = b.copyConfig()
	b.cfg.Monitoring.Enabled = false

	return b
}

// WithMonitorPort enables monitoring on the given port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.cfg = b.copyConfig()
	b.cfg.Monitoring.Enabled = true
	b.cfg.Monitoring.Port = port

	return b
}

// WithOutputFileName enables recording into the given file, without the
// .sqlite3 extension.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.cfg = b.copyConfig()
	b.cfg.Recording.Enabled = true
	b.cfg.Recording.Path = filename

	return b
}

func (b Builder) copyConfig() *config.Config {
	c := *b.cfg
	return &c
}

// Build builds the simulation. Walkers starting at time zero are loaded
// directly, the others are scheduled.
func (b Builder) Build() (*Simulation, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if b.scenario == nil {
		return nil, ErrNoScenario
	}

	s := &Simulation{
		id:     xid.New().String(),
		cfg:    b.cfg,
		logger: b.logger,
	}

	if s.logger == nil {
		logger, err := logging.New(b.cfg.Logging)
		if err != nil {
			return nil, err
		}

		s.logger = logger
	}

	if err := b.buildEngine(s); err != nil {
		return nil, err
	}

	if err := b.buildRecording(s); err != nil {
		_ = s.Terminate()
		return nil, err
	}

	if err := b.buildMonitoring(s); err != nil {
		_ = s.Terminate()
		return nil, err
	}

	s.logger.Info("simulation built",
		zap.String("id", s.id),
		zap.String("scenario", b.scenario.Name),
		zap.Int("walkers", b.scenario.Total()),
		zap.Int("workers", b.cfg.Workers.Count))

	return s, nil
}

func (b Builder) buildEngine(s *Simulation) error {
	cfg := b.cfg

	s.clock = phase.NewClock(cfg.Simulation.TickMS)

	ext := cfg.Spatial.Extent
	extent := spatial.Box(ext.MinX, ext.MinY, ext.MaxX, ext.MaxY)

	s.index = spatial.MakeBuilder().
		WithExtent(extent).
		WithLeafCapacity(cfg.Spatial.LeafCapacity).
		WithMaxChildren(cfg.Spatial.MaxChildren).
		WithClock(s.clock).
		WithBalancePolicy(spatial.BalancePolicy{
			CheckInterval:      cfg.Spatial.CheckInterval,
			ImbalanceThreshold: cfg.Spatial.ImbalanceThreshold,
			RebalanceAfter:     cfg.Spatial.RebalanceAfter,
		}).
		Build()

	assignment, err := workers.ParseAssignment(cfg.Workers.Assignment)
	if err != nil {
		return err
	}

	gb := workers.MakeBuilder().
		WithNumWorkers(cfg.Workers.Count).
		WithClock(s.clock).
		WithLogger(logging.Named(s.logger, "workers")).
		WithIndex(s.index).
		WithMaxConsecutiveFailures(cfg.Workers.MaxConsecutiveFailures).
		WithParallelFlip(cfg.Workers.ParallelFlip).
		WithAssignment(assignment)
	if cfg.Workers.Balance {
		gb = gb.WithWorkerBalancing(cfg.Workers.BalanceSpread)
	}

	s.group = gb.Build()

	s.world = &randomwalk.World{
		Clock:  s.clock,
		Index:  s.index,
		Extent: extent,
		IDs:    id.NewGenerator(),
		Seed:   cfg.Simulation.Seed,
	}

	var later []entity.Entity

	for _, w := range randomwalk.Populate(s.world, b.scenario) {
		if w.StartTime() > 0 {
			later = append(later, w)
			continue
		}

		if err := s.group.Load(w); err != nil {
			return err
		}
	}

	s.group.Schedule(later...)

	return nil
}

func (b Builder) buildRecording(s *Simulation) error {
	if !b.cfg.Recording.Enabled {
		return nil
	}

	recorder, err := datarecording.New(b.cfg.Recording.Path)
	if err != nil {
		return err
	}

	s.recorder = recorder

	tracer, err := tracing.NewDBTracer(recorder)
	if err != nil {
		return err
	}

	s.tracer = tracer
	tracing.CollectGroup(s.group, tracer, b.cfg.Recording.TraceFlips)

	s.logger.Info("recording",
		zap.String("file", datarecording.Filename(recorder)))

	return nil
}

func (b Builder) buildMonitoring(s *Simulation) error {
	if !b.cfg.Monitoring.Enabled {
		return nil
	}

	s.monitor = monitoring.NewMonitor().
		WithLogger(logging.Named(s.logger, "monitor")).
		WithPortNumber(b.cfg.Monitoring.Port)
	s.monitor.RegisterWorkGroup(s.group)

	url, err := s.monitor.StartServer()
	if err != nil {
		return err
	}

	s.monitorURL = url

	if b.cfg.Monitoring.OpenBrowser {
		if err := browser.OpenURL(url); err != nil {
			s.logger.Warn("cannot open browser", zap.Error(err))
		}
	}

	if ticks := b.cfg.Simulation.Ticks; ticks > 0 {
		bar := s.monitor.CreateProgressBar("ticks", uint64(ticks))
		s.progress = bar

		s.group.AcceptHook(hooking.AtPositions(
			hooking.NewHookFunc(func(hooking.HookCtx) {
				bar.IncrementFinished(1)
			}),
			workers.HookPosTickEnd))
	}

	return nil
}
