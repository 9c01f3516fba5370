package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"signal-intel/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:       "show [signals|sources]",
	Short:     "Display recent signals or the source credibility ranking",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"signals", "sources"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}

		if len(args) == 1 && args[0] == "sources" {
			return getApp().ShowSources(cmd.Context(), opts)
		}
		return getApp().ShowSignals(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
