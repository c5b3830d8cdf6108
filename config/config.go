// Package config loads the engine configuration.
//
// A configuration starts from Default, is overlaid with a TOML file and then
// with TICKSIM_* environment variables, which may come from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TICKSIM_"

type Config struct {
	Simulation SimulationConfig `toml:"simulation"`
	Workers    WorkersConfig    `toml:"workers"`
	Spatial    SpatialConfig    `toml:"spatial"`
	Logging    LoggingConfig    `toml:"logging"`
	Monitoring MonitoringConfig `toml:"monitoring"`
	Recording  RecordingConfig  `toml:"recording"`
}

type SimulationConfig struct {
	TickMS uint64 `toml:"tick_ms" env:"TICK_MS"`
	Ticks  int    `toml:"ticks" env:"TICKS"`
	Seed   int64  `toml:"seed" env:"SEED"`
}

type WorkersConfig struct {
	Count                  int    `toml:"count" env:"WORKERS"`
	ParallelFlip           bool   `toml:"parallel_flip" env:"PARALLEL_FLIP"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	Balance                bool   `toml:"balance"`
	BalanceSpread          int    `toml:"balance_spread"`
	Assignment             string `toml:"assignment" env:"ASSIGNMENT"` // "round-robin" or "least-loaded"
}

type ExtentConfig struct {
	MinX float64 `toml:"min_x"`
	MinY float64 `toml:"min_y"`
	MaxX float64 `toml:"max_x"`
	MaxY float64 `toml:"max_y"`
}

type SpatialConfig struct {
	LeafCapacity       int          `toml:"leaf_capacity" env:"LEAF_CAPACITY"`
	MaxChildren        int          `toml:"max_children"`
	CheckInterval      uint64       `toml:"check_interval"`
	ImbalanceThreshold float64      `toml:"imbalance_threshold"`
	RebalanceAfter     int          `toml:"rebalance_after"`
	Extent             ExtentConfig `toml:"extent"`
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"` // "json" or "console"
}

type MonitoringConfig struct {
	Enabled     bool `toml:"enabled" env:"MONITOR"`
	Port        int  `toml:"port" env:"MONITOR_PORT"` // 0 picks a free port
	OpenBrowser bool `toml:"open_browser"`
}

type RecordingConfig struct {
	Enabled    bool   `toml:"enabled" env:"RECORD"`
	Path       string `toml:"path" env:"RECORD_PATH"` // empty generates a name per run
	TraceFlips bool   `toml:"trace_flips"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			TickMS: 100,
			Ticks:  100,
			Seed:   1,
		},
		Workers: WorkersConfig{
			Count:                  4,
			MaxConsecutiveFailures: 3,
			BalanceSpread:          8,
			Assignment:             "round-robin",
		},
		Spatial: SpatialConfig{
			LeafCapacity:       16,
			MaxChildren:        8,
			CheckInterval:      3,
			ImbalanceThreshold: 0.5,
			RebalanceAfter:     2,
			Extent:             ExtentConfig{MaxX: 1000, MaxY: 1000},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Monitoring: MonitoringConfig{},
		Recording:  RecordingConfig{},
	}
}

// Load reads a TOML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads environment files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}

	return nil
}

// ApplyEnv overrides fields from TICKSIM_* environment variables, named by
// the env tags of the configuration structs.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	return nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Simulation.TickMS > 0, "simulation.tick_ms must be positive")
	check(c.Simulation.Ticks >= 0, "simulation.ticks cannot be negative")
	check(c.Workers.Count > 0, "workers.count must be positive, got %d", c.Workers.Count)
	check(c.Workers.MaxConsecutiveFailures >= 0,
		"workers.max_consecutive_failures cannot be negative")
	check(c.Workers.BalanceSpread >= 0, "workers.balance_spread cannot be negative")
	check(c.Workers.Assignment == "" ||
		c.Workers.Assignment == "round-robin" ||
		c.Workers.Assignment == "least-loaded",
		"workers.assignment %q is unknown", c.Workers.Assignment)
	check(c.Spatial.LeafCapacity >= 2,
		"spatial.leaf_capacity must be at least 2, got %d", c.Spatial.LeafCapacity)
	check(c.Spatial.MaxChildren >= 2,
		"spatial.max_children must be at least 2, got %d", c.Spatial.MaxChildren)
	check(c.Spatial.ImbalanceThreshold >= 0,
		"spatial.imbalance_threshold cannot be negative")
	check(c.Spatial.RebalanceAfter >= 0, "spatial.rebalance_after cannot be negative")

	e := c.Spatial.Extent
	check(e.MaxX > e.MinX && e.MaxY > e.MinY, "spatial.extent is empty")

	check(c.Logging.Format == "" || c.Logging.Format == "json" ||
		c.Logging.Format == "console",
		"logging.format %q is unknown", c.Logging.Format)
	check(c.Monitoring.Port >= 0 && c.Monitoring.Port < 65536,
		"monitoring.port %d is out of range", c.Monitoring.Port)

	return errors.Join(errs...)
}
