package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/mographlabs/mograph/pkg/runstore"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show run history",
	Long: `Show recorded batch runs, newest first, as JSON on stdout.
With a run id, show that run with its artifacts.

Examples:
  mograph runs
  mograph runs --limit 5
  mograph runs 4f7c2e1a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Run not found", err)
		}
		artifacts, err := store.ListArtifacts(ctx, args[0])
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to load artifacts", err)
		}
		return enc.Encode(map[string]any{"run": run, "artifacts": artifacts})
	}

	runs, err := store.ListRuns(ctx, runsLimit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list runs", err)
	}
	return enc.Encode(map[string]any{"runs": runs})
}

func openRunStore(ctx context.Context) (*runstore.Store, error) {
	store, err := runstore.Open(ctx, cfg.Scheduler.RunDB)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open run store", err)
	}
	return store, nil
}
