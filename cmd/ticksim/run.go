package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smart-fm/simmobility-prod-sub015/config"
	"github.com/smart-fm/simmobility-prod-sub015/scenario"
	"github.com/smart-fm/simmobility-prod-sub015/simulation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation.",
	Long: "Run loads the configuration (defaults, then --config, then .env " +
		"files and TICKSIM_* variables, then flags) and the scenario, and " +
		"runs the simulation until the last tick or an interrupt.",
	RunE: runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("config", "", "TOML configuration file")
	flags.StringSlice("env", []string{".env"}, "dotenv files to load")
	flags.String("scenario", "", "YAML scenario file, the built-in scenario if empty")
	flags.Int("workers", 0, "number of workers")
	flags.Int("ticks", 0, "number of ticks to run")
	flags.Int64("seed", 0, "random seed")
	flags.Bool("monitor", false, "serve the monitoring dashboard")
	flags.String("record", "", "record traces into this file (without extension)")
}

func runSimulation(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	s, err := loadScenario(cmd)
	if err != nil {
		return err
	}

	sim, err := simulation.MakeBuilder().
		WithConfig(cfg).
		WithScenario(s).
		Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := sim.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "interrupted")
		runErr = nil
	}

	return errors.Join(runErr, sim.Terminate())
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFiles, _ := cmd.Flags().GetStringSlice("env")
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("workers") {
		cfg.Workers.Count, _ = flags.GetInt("workers")
	}

	if flags.Changed("ticks") {
		cfg.Simulation.Ticks, _ = flags.GetInt("ticks")
	}

	if flags.Changed("seed") {
		cfg.Simulation.Seed, _ = flags.GetInt64("seed")
	}

	if flags.Changed("monitor") {
		cfg.Monitoring.Enabled, _ = flags.GetBool("monitor")
	}

	if flags.Changed("record") {
		cfg.Recording.Enabled = true
		cfg.Recording.Path, _ = flags.GetString("record")
	}

	return cfg.Validate()
}

func loadScenario(cmd *cobra.Command) (*scenario.Scenario, error) {
	path, _ := cmd.Flags().GetString("scenario")
	if path == "" {
		return scenario.Default(), nil
	}

	return scenario.Load(path)
}
