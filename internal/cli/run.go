package cli

import (
	"github.com/spf13/cobra"

	"signal-intel/internal/app"
)

var (
	serveAddr        string
	serveNoScheduler bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collect, validate and learn schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API, with the schedules running alongside",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{
			Addr:        serveAddr,
			NoScheduler: serveNoScheduler,
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and seed tracked instruments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Serve the API only; stages run through the trigger endpoints")
}
