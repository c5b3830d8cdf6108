package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration and a scenario without running.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		s, err := loadScenario(cmd)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"configuration ok: %d workers, %d ticks of %d ms\n",
			cfg.Workers.Count, cfg.Simulation.Ticks, cfg.Simulation.TickMS)
		fmt.Fprintf(cmd.OutOrStdout(),
			"scenario %q ok: %d populations, %d walkers\n",
			s.Name, len(s.Populations), s.Total())

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	flags := validateCmd.Flags()
	flags.String("config", "", "TOML configuration file")
	flags.StringSlice("env", []string{".env"}, "dotenv files to load")
	flags.String("scenario", "", "YAML scenario file")
}
