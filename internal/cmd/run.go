package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/internal/config"
	"github.com/mographlabs/mograph/internal/observability"
	"github.com/mographlabs/mograph/pkg/ffmpeg"
	"github.com/mographlabs/mograph/pkg/flock"
	"github.com/mographlabs/mograph/pkg/gpuprobe"
	"github.com/mographlabs/mograph/pkg/img2vid"
	"github.com/mographlabs/mograph/pkg/ledger"
	"github.com/mographlabs/mograph/pkg/pipeline"
	"github.com/mographlabs/mograph/pkg/prompts"
	"github.com/mographlabs/mograph/pkg/retry"
	"github.com/mographlabs/mograph/pkg/runstore"
	"github.com/mographlabs/mograph/pkg/scheduler"
	"github.com/mographlabs/mograph/pkg/txt2img"
	"github.com/mographlabs/mograph/pkg/uploader"
)

var (
	runCount       int
	runConcurrency int
	runDryRun      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a batch of videos",
	Long: `Generate a batch of videos end to end.

Examples:
  mograph run --count 5
  mograph run --count 10 --concurrency 2
  mograph run --count 1 --dry-run`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVarP(&runCount, "count", "n", 1, "Number of videos to generate")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Override requested concurrency")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Skip backend inference, write placeholder artifacts")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if runCount < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --count value", fmt.Errorf("count must be >= 0"))
	}
	if runConcurrency > 0 {
		cfg.Scheduler.Concurrency = runConcurrency
	}
	if runDryRun {
		cfg.Runtime.DryRun = true
	}

	events, closeEvents, err := observability.NewEventLogger(observability.EventConfig{
		Path:       cfg.Logging.EventsPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open event log", err)
	}
	defer closeEvents()

	pool, err := buildPromptPool(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to build prompt pool", err)
	}

	index, err := ledger.Open(cfg.Scheduler.IndexFile)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open ledger", err)
	}
	defer func() { _ = index.Close() }()

	observability.CLILogger.Info("Loaded ledger",
		zap.String("path", index.Path()),
		zap.Int("known_hashes", index.Len()))

	runner, err := buildJobRunner(cfg, pool, events)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		gpuprobe.New(),
		index,
		func(ctx context.Context) pipeline.JobResult { return runner.Run(ctx) },
		scheduler.Config{
			Requested:     cfg.Scheduler.Concurrency,
			MaxRetries:    cfg.Scheduler.MaxRetries,
			Cooldown:      cfg.Scheduler.Cooldown,
			MinFreeVRAMMB: cfg.Scheduler.MinFreeVRAMMB,
			HardSerial:    cfg.Scheduler.HardSerial,
		},
		events,
	)

	startedAt := time.Now().UTC()
	summary, runErr := sched.Run(ctx, runCount)
	finishedAt := time.Now().UTC()

	persistRun(ctx, cfg, summary, startedAt, finishedAt)

	observability.CLILogger.Info("Batch finished",
		zap.Int("requested", summary.Requested),
		zap.Int("completed", len(summary.Results)),
		zap.Int("committed", summary.Committed),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("exhausted", summary.Exhausted),
		zap.Int("effective_concurrency", summary.Decision.Effective),
		zap.String("reason", string(summary.Decision.Reason)))

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return exitError(foundry.ExitSignalInt, "Batch cancelled", runErr)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Batch aborted", runErr)
	}
	if summary.Exhausted > 0 {
		observability.CLILogger.Warn("Some jobs exhausted their retries",
			zap.Int("exhausted", summary.Exhausted))
	}
	return nil
}

func buildPromptPool(cfg *config.Config) (*prompts.Pool, error) {
	pool := prompts.NewPool()
	pool.ExtendTexts(cfg.Prompts.Texts)
	pool.ExtendStyles(cfg.Prompts.Styles)
	pool.ExtendTags(cfg.Prompts.Tags)
	if cfg.Prompts.Glob != "" {
		if err := pool.LoadGlob(cfg.Prompts.Glob); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func buildJobRunner(cfg *config.Config, pool *prompts.Pool, events *zap.Logger) (*pipeline.Runner, error) {
	sdPolicy := retry.Policy{
		MaxAttempts:   cfg.SD.Retry.MaxAttempts,
		BackoffFactor: cfg.SD.Retry.BackoffFactor,
		JitterMs:      cfg.SD.Retry.JitterMs,
	}

	var sdBackend txt2img.Backend
	switch cfg.SD.Backend {
	case "webui":
		b, err := txt2img.NewWebUIBackend(txt2img.WebUIConfig{
			BaseURL:   cfg.SD.WebUIURL,
			Token:     cfg.SD.WebUIToken,
			RateLimit: cfg.SD.RateLimit,
		})
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid WebUI configuration", err)
		}
		sdBackend = b
	default:
		sdBackend = &txt2img.StubBackend{ModelPath: cfg.SD.ModelPath}
	}
	images := txt2img.NewGenerator(sdBackend, sdPolicy, events, cfg.Runtime.DryRun)

	clips := img2vid.NewGenerator(&img2vid.StubBackend{
		ModelPath:    cfg.Animate.ModelPath,
		MotionModule: cfg.Animate.MotionModule,
	}, sdPolicy, events)

	var encoder *ffmpeg.Runner
	if binary, err := ffmpeg.Resolve(cfg.FFmpeg.Path); err != nil {
		observability.CLILogger.Warn("FFmpeg unavailable, skipping vertical adaptation",
			zap.Error(err))
	} else {
		encoder = ffmpeg.NewRunner(binary, ffmpeg.RetryConfig{
			Enabled: cfg.FFmpeg.Retry.Enabled,
			Policy: retry.Policy{
				MaxAttempts:   cfg.FFmpeg.Retry.MaxAttempts,
				BackoffFactor: cfg.FFmpeg.Retry.BackoffFactor,
				JitterMs:      cfg.FFmpeg.Retry.JitterMs,
			},
			RetryableExitCodes: cfg.FFmpeg.Retry.RetryableExitCodes,
		}, events)
	}

	uploads := uploader.NewRouter()
	uploads.Register(uploader.Disabled{})

	return pipeline.NewRunner(
		pool,
		images,
		clips,
		encoder,
		flock.New(cfg.Scheduler.LockPath, cfg.Scheduler.LockTimeout),
		uploads,
		pipeline.Config{
			WorkDir:        cfg.Scheduler.WorkDir,
			OutputDir:      cfg.Scheduler.OutputDir,
			Width:          cfg.Video.Width,
			Height:         cfg.Video.Height,
			NumFrames:      cfg.Video.NumFrames,
			FPS:            cfg.Video.FPS,
			Steps:          cfg.SD.Steps,
			NegativePrompt: cfg.SD.NegativePrompt,
			UploadEnabled:  cfg.Upload.Enabled,
			UploadProvider: cfg.Upload.Provider,
		},
		events,
	), nil
}

// persistRun records the batch outcome in the run store. Failures here are
// reported but never fail the batch.
func persistRun(ctx context.Context, cfg *config.Config, summary *scheduler.Summary, startedAt, finishedAt time.Time) {
	store, err := runstore.Open(ctx, cfg.Scheduler.RunDB)
	if err != nil {
		observability.CLILogger.Warn("Failed to open run store", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	runID := uuid.NewString()
	if err := store.RecordRun(ctx, runstore.Run{
		ID:                   runID,
		StartedAt:            startedAt,
		FinishedAt:           finishedAt,
		RequestedJobs:        summary.Requested,
		Completed:            len(summary.Results),
		Committed:            summary.Committed,
		Duplicates:           summary.Duplicates,
		Exhausted:            summary.Exhausted,
		RequestedConcurrency: summary.Decision.Requested,
		EffectiveConcurrency: summary.Decision.Effective,
		DecisionReason:       string(summary.Decision.Reason),
		Accelerator:          summary.Snapshot.Name,
		TotalMemoryMB:        summary.Snapshot.TotalMemoryMB,
		FreeMemoryMB:         summary.Snapshot.FreeMemoryMB,
		CPUCores:             summary.Snapshot.CPUCores,
	}); err != nil {
		observability.CLILogger.Warn("Failed to record run", zap.Error(err))
		return
	}

	for _, res := range summary.Results {
		if err := store.RecordArtifact(ctx, runstore.Artifact{
			RunID:           runID,
			JobID:           res.JobID,
			Hash:            res.ContentHash,
			VideoPath:       res.ArtifactPath,
			Prompt:          res.Prompt,
			Seed:            res.Seed,
			DurationSeconds: res.DurationSeconds,
		}); err != nil {
			observability.CLILogger.Warn("Failed to record artifact",
				zap.String("job_id", res.JobID), zap.Error(err))
		}
	}
}
