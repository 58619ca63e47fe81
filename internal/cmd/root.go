// Package cmd wires the mograph CLI: batch generation runs, the status
// API server, run history, and environment diagnostics.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mographlabs/mograph/internal/config"
	"github.com/mographlabs/mograph/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo is called from main with values injected at build time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string
	quiet    bool

	// cfg is populated by the root PersistentPreRunE before any
	// subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "mograph",
	Short: "Automated motion graphics batch generator",
	Long: `mograph generates short videos from sampled prompts: a text-to-image
backend renders a frame, an image-to-video backend animates it, and FFmpeg
adapts the clip for vertical output. Finished artifacts are hashed and
committed to an append-only ledger with content-based dedup.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := observability.InitCLILogger(logLevel, quiet); err != nil {
			return err
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		// The config file may set a level; an explicit flag wins.
		if !cmd.Flags().Changed("log-level") && cfg.Logging.Level != logLevel {
			if err := observability.InitCLILogger(cfg.Logging.Level, quiet || cfg.Logging.Quiet); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational output")
}

// Execute runs the CLI with signal-aware context cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
