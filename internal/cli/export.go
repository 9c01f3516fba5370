package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"signal-intel/internal/app"
	"signal-intel/internal/storage"
)

var (
	exportFrom       string
	exportTo         string
	exportPNGPath    string
	exportCSVPath    string
	exportMaxPoints  int
	exportInstrument string
	exportStatus     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export historical signals as CSV and/or a confidence vs hit-rate PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
			Instrument: exportInstrument,
		}

		from, err := parseTimeFlag("--from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("--to", exportTo)
		if err != nil {
			return err
		}
		opts.From, opts.To = from, to

		switch status := storage.ValidationStatus(exportStatus); status {
		case "", storage.StatusPending, storage.StatusTruePositive, storage.StatusFalsePositive, storage.StatusPartial:
			opts.Status = status
		default:
			return fmt.Errorf("invalid --status value %q", exportStatus)
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return &parsed, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive; defaults to 30 days ago)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive; defaults to now)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().StringVar(&exportInstrument, "instrument", "", "Only export signals for this symbol, e.g. EUR/USD")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "Only export signals with this validation status")
}
