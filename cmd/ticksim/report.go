package main

import (
	"github.com/spf13/cobra"

	"github.com/smart-fm/simmobility-prod-sub015/datarecording"
	"github.com/smart-fm/simmobility-prod-sub015/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recorded run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		summary, err := tracing.Summarize(cmd.Context(), reader)
		if err != nil {
			return err
		}

		return summary.Print(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
