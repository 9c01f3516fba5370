package cli

import (
	"github.com/spf13/cobra"

	"signal-intel/internal/app"
)

var ingestFile string

func triggerCmds() []*cobra.Command {
	stages := []struct {
		op    string
		short string
	}{
		{app.OpCollect, "Run every collector once and store the raw items"},
		{app.OpProcess, "Extract, synthesize and score signals from unprocessed items"},
		{app.OpValidate, "Check pending signals against realized price moves"},
		{app.OpLearn, "Review validated outcomes and record improvement suggestions"},
	}

	cmds := make([]*cobra.Command, 0, len(stages))
	for _, stage := range stages {
		op := stage.op
		cmds = append(cmds, &cobra.Command{
			Use:   op,
			Short: stage.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return getApp().Trigger(cmd.Context(), op)
			},
		})
	}
	return cmds
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store raw items from a JSON array file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().IngestFile(cmd.Context(), ingestFile)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "-", "JSON file with raw items (- reads stdin)")
}
