package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"signal-intel/internal/app"
)

var (
	backfillMaxPasses int
	backfillPause     time.Duration
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Drain the pending validation backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillMaxPasses <= 0 {
			return fmt.Errorf("--max-passes must be greater than zero")
		}
		if backfillPause < 0 {
			return fmt.Errorf("--pause must not be negative")
		}

		opts := app.BackfillOptions{
			MaxPasses: backfillMaxPasses,
			Pause:     backfillPause,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillMaxPasses, "max-passes", 20, "Maximum number of validation passes")
	backfillCmd.Flags().DurationVar(&backfillPause, "pause", 2*time.Second, "Pause between passes")
}
