package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"signal-intel/internal/app"
)

var (
	simulateSymbol     string
	simulateDirection  string
	simulateConfidence float64
	simulateNarrative  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a simulated high-confidence signal through alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch simulateDirection {
		case "bullish", "bearish", "neutral":
		default:
			return errors.New("--direction must be bullish, bearish or neutral")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:     simulateSymbol,
			Direction:  simulateDirection,
			Confidence: simulateConfidence,
			Narrative:  simulateNarrative,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "instrument symbol, e.g. EUR/USD (defaults to pipeline.default_instrument)")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "bullish", "direction: bullish, bearish or neutral")
	simulateCmd.Flags().Float64Var(&simulateConfidence, "confidence", 0.9, "confidence within (0,1]")
	simulateCmd.Flags().StringVar(&simulateNarrative, "narrative", "", "alert narrative (optional)")
}
