// Package pipeline runs one generation job end to end: sample a prompt,
// render a frame and a clip on the accelerator under the cross-process
// lock, adapt the clip for vertical output, hash the finished artifact,
// and optionally hand it to an uploader.
//
// A job never raises past itself. Every failure path yields a JobResult
// with Success=false and the error text attached; the scheduler decides
// whether to retry the whole job.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/ffmpeg"
	"github.com/mographlabs/mograph/pkg/flock"
	"github.com/mographlabs/mograph/pkg/img2vid"
	"github.com/mographlabs/mograph/pkg/ledger"
	"github.com/mographlabs/mograph/pkg/prompts"
	"github.com/mographlabs/mograph/pkg/txt2img"
	"github.com/mographlabs/mograph/pkg/uploader"
)

// JobResult is the immutable outcome of one job attempt.
type JobResult struct {
	JobID           string
	Success         bool
	ContentHash     string
	ArtifactPath    string
	DurationSeconds float64
	Err             string

	Prompt       string
	Title        string
	Tags         []string
	Seed         int64
	SDBackend    string
	VideoBackend string
	Upload       *uploader.Result
}

// Record converts a successful result into its ledger form.
func (r JobResult) Record() ledger.Record {
	rec := ledger.Record{
		Prompt:          r.Prompt,
		Title:           r.Title,
		Tags:            r.Tags,
		Seed:            r.Seed,
		Hash:            r.ContentHash,
		VideoPath:       r.ArtifactPath,
		DurationSeconds: r.DurationSeconds,
		SDBackend:       r.SDBackend,
		VideoBackend:    r.VideoBackend,
	}
	if r.Upload != nil {
		rec.Upload = &ledger.UploadStatus{
			Success:  r.Upload.Success,
			Message:  r.Upload.Message,
			Provider: r.Upload.Provider,
			DraftURL: r.Upload.DraftURL,
		}
	}
	return rec
}

// Config carries the per-job rendering parameters.
type Config struct {
	WorkDir   string
	OutputDir string

	Width     int
	Height    int
	NumFrames int
	FPS       int
	Steps     int

	NegativePrompt string

	UploadEnabled  bool
	UploadProvider string
}

// Runner executes jobs. The encoder, lock, and uploads router are optional;
// a nil lock means the accelerator phases run unguarded (serial pools).
type Runner struct {
	pool    *prompts.Pool
	images  *txt2img.Generator
	clips   *img2vid.Generator
	encoder *ffmpeg.Runner
	lock    *flock.Lock
	uploads *uploader.Router
	cfg     Config
	events  *zap.Logger
}

func NewRunner(
	pool *prompts.Pool,
	images *txt2img.Generator,
	clips *img2vid.Generator,
	encoder *ffmpeg.Runner,
	lock *flock.Lock,
	uploads *uploader.Router,
	cfg Config,
	events *zap.Logger,
) *Runner {
	return &Runner{
		pool:    pool,
		images:  images,
		clips:   clips,
		encoder: encoder,
		lock:    lock,
		uploads: uploads,
		cfg:     cfg,
		events:  events,
	}
}

// Run executes one job. The returned result always carries the job id and
// elapsed duration; Success tells the caller whether an artifact exists.
func (r *Runner) Run(ctx context.Context) JobResult {
	jobID := uuid.NewString()
	start := time.Now()

	res := JobResult{
		JobID:        jobID,
		SDBackend:    r.images.BackendName(),
		VideoBackend: r.clips.BackendName(),
	}
	fail := func(err error) JobResult {
		res.Success = false
		res.Err = err.Error()
		res.DurationSeconds = time.Since(start).Seconds()
		r.events.Warn("job_failed",
			zap.String("job_id", jobID),
			zap.String("error", res.Err),
			zap.Float64("duration_s", res.DurationSeconds),
		)
		return res
	}

	combo, err := r.pool.SampleCombo()
	if err != nil {
		return fail(fmt.Errorf("sample prompt: %w", err))
	}
	res.Prompt = combo.Prompt()
	res.Title = combo.Text
	res.Tags = combo.Tags

	r.events.Info("job_start",
		zap.String("job_id", jobID),
		zap.String("prompt", res.Prompt),
	)

	jobDir, err := os.MkdirTemp(r.cfg.WorkDir, "job-")
	if err != nil {
		return fail(fmt.Errorf("create job dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(jobDir) }()

	clipPath, err := r.renderLocked(ctx, jobDir, combo, &res)
	if err != nil {
		return fail(err)
	}

	finalPath, err := r.finalize(ctx, jobID, clipPath)
	if err != nil {
		return fail(err)
	}
	res.ArtifactPath = finalPath
	res.Success = true

	// Hash failure downgrades to an empty hash; the artifact is still good.
	hash, err := HashFile(finalPath)
	if err != nil {
		r.events.Warn("job_hash_failed",
			zap.String("job_id", jobID),
			zap.String("error", err.Error()),
		)
	} else {
		res.ContentHash = hash
	}

	if r.cfg.UploadEnabled && r.uploads != nil {
		var coverPath string
		if r.encoder != nil {
			cover := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".jpg"
			if _, err := r.encoder.ExtractCover(ctx, finalPath, cover, 0); err != nil {
				r.events.Warn("job_cover_failed",
					zap.String("job_id", jobID),
					zap.String("error", err.Error()),
				)
			} else {
				coverPath = cover
			}
		}
		up := r.uploads.Upload(ctx, r.cfg.UploadProvider, uploader.Request{
			VideoPath: finalPath,
			CoverPath: coverPath,
			Title:     res.Title,
			Tags:      res.Tags,
		})
		res.Upload = &up
	}

	res.DurationSeconds = time.Since(start).Seconds()
	r.events.Info("job_success",
		zap.String("job_id", jobID),
		zap.String("hash", res.ContentHash),
		zap.String("artifact", finalPath),
		zap.Float64("duration_s", res.DurationSeconds),
	)
	return res
}

// renderLocked runs the accelerator-bound phases with the cross-process
// lock held, releasing it before post-processing starts.
func (r *Runner) renderLocked(ctx context.Context, jobDir string, combo prompts.Combo, res *JobResult) (string, error) {
	var handle *flock.Handle
	if r.lock != nil {
		h, err := r.lock.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire gpu lock: %w", err)
		}
		handle = h
		defer handle.Release()
	}

	imgRes, err := r.images.Generate(ctx, txt2img.Request{
		Prompt:         combo.Prompt(),
		NegativePrompt: r.cfg.NegativePrompt,
		Seed:           -1,
		Steps:          r.cfg.Steps,
		OutputPath:     filepath.Join(jobDir, "frame.png"),
	})
	if err != nil {
		return "", fmt.Errorf("txt2img: %w", err)
	}
	res.Seed = imgRes.Seed

	clipPath, err := r.clips.Generate(ctx, img2vid.Request{
		ImagePath:  imgRes.ImagePath,
		OutputPath: filepath.Join(jobDir, "clip.mp4"),
		NumFrames:  r.cfg.NumFrames,
		FPS:        r.cfg.FPS,
	})
	if err != nil {
		return "", fmt.Errorf("img2vid: %w", err)
	}

	if handle != nil {
		handle.Release()
	}
	return clipPath, nil
}

// finalize adapts the clip for vertical output into the output directory,
// or moves it as-is when no encoder is configured.
func (r *Runner) finalize(ctx context.Context, jobID, clipPath string) (string, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	if r.encoder != nil {
		finalPath := filepath.Join(r.cfg.OutputDir, jobID+".mp4")
		if _, err := r.encoder.AdaptVertical(ctx, clipPath, finalPath, r.cfg.Width, r.cfg.Height); err != nil {
			return "", fmt.Errorf("adapt vertical: %w", err)
		}
		return finalPath, nil
	}

	finalPath := filepath.Join(r.cfg.OutputDir, jobID+filepath.Ext(clipPath))
	if err := moveFile(clipPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// moveFile renames, falling back to copy for cross-device work dirs.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
