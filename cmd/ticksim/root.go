package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ticksim",
	Short: "ticksim runs tick-synchronized agent simulations.",
	Long: `ticksim advances thousands of agents in lock-step ticks over a ` +
		`pool of workers. Agents read the state committed at the previous ` +
		`tick and look up their neighbours in a shared spatial index.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. Exit
// handlers registered with atexit, such as recorder flushes, run before the
// process exits.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
