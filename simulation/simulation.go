// Package simulation assembles the engine, the demo model and the optional
// recording and monitoring services into one runnable simulation.
package simulation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/smart-fm/simmobility-prod-sub015/config"
	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
	"github.com/smart-fm/simmobility-prod-sub015/examples/randomwalk"
	"github.com/smart-fm/simmobility-prod-sub015/monitoring"
	"github.com/smart-fm/simmobility-prod-sub015/sim/phase"
	"github.com/smart-fm/simmobility-prod-sub015/spatial"
	"github.com/smart-fm/simmobility-prod-sub015/tracing"
	"github.com/smart-fm/simmobility-prod-sub015/workers"
)

// ErrNoScenario is returned when building without a scenario.
var ErrNoScenario = errors.New("simulation: no scenario")

const shutdownTimeout = 5 * time.Second

// A Simulation owns everything a run needs.
type Simulation struct {
	id     string
	cfg    *config.Config
	logger *zap.Logger

	clock *phase.Clock
	index *spatial.Tree
	group *workers.WorkGroup
	world *randomwalk.World

	recorder datarecording.DataRecorder
	tracer   *tracing.DBTracer

	monitor    *monitoring.Monitor
	monitorURL string
	progress   *monitoring.ProgressBar
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() *config.Config {
	return s.cfg
}

// WorkGroup returns the work group.
func (s *Simulation) WorkGroup() *workers.WorkGroup {
	return s.group
}

// Index returns the spatial index.
func (s *Simulation) Index() *spatial.Tree {
	return s.index
}

// GetDataRecorder returns the data recorder, nil when recording is off.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.recorder
}

// GetMonitor returns the monitor, nil when monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns the address of the monitoring server.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// Run advances the simulation by the configured number of ticks, or until
// ctx is cancelled.
func (s *Simulation) Run(ctx context.Context) error {
	start := time.Now()

	err := s.group.Run(ctx, s.cfg.Simulation.Ticks)

	s.logger.Info("simulation finished",
		zap.Stringer("at", s.group.Now()),
		zap.Int("entities", s.group.NumEntities()),
		zap.Duration("wall", time.Since(start)),
		zap.Error(err))

	return err
}

// Terminate stops the work group if it still runs, then flushes and closes
// the recorder and stops the monitoring server.
func (s *Simulation) Terminate() error {
	var errs []error

	if s.group != nil {
		errs = append(errs, s.group.Stop())
	}

	if s.monitor != nil {
		if s.progress != nil {
			s.monitor.CompleteProgressBar(s.progress)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, s.monitor.StopServer(ctx))
		cancel()
	}

	if s.tracer != nil {
		errs = append(errs, s.tracer.Terminate())
	}

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	_ = s.logger.Sync()

	return errors.Join(errs...)
}
