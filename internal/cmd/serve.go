package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/mographlabs/mograph/internal/observability"
	"github.com/mographlabs/mograph/internal/server"
	"github.com/mographlabs/mograph/pkg/runstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API",
	Long: `Serve the read-only status API: health, version, and run history.

Examples:
  mograph serve
  mograph serve --config config.yaml
  MOGRAPH_SERVER_PORT=9000 mograph serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := runstore.Open(ctx, cfg.Scheduler.RunDB)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open run store", err)
	}
	defer func() { _ = store.Close() }()

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, store, versionInfo.Version, observability.CLILogger)

	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status API failed", err)
	}
	return nil
}
