package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/flock"
	"github.com/mographlabs/mograph/pkg/img2vid"
	"github.com/mographlabs/mograph/pkg/prompts"
	"github.com/mographlabs/mograph/pkg/retry"
	"github.com/mographlabs/mograph/pkg/txt2img"
	"github.com/mographlabs/mograph/pkg/uploader"
)

func testPool(t *testing.T) *prompts.Pool {
	t.Helper()
	pool := prompts.NewPool()
	pool.ExtendTexts([]string{"ocean waves at dusk"})
	pool.ExtendTags([]string{"ocean"})
	return pool
}

func testRunner(t *testing.T, opts ...func(*Runner)) *Runner {
	t.Helper()
	base := t.TempDir()
	r := NewRunner(
		testPool(t),
		txt2img.NewGenerator(&txt2img.StubBackend{}, retry.DefaultPolicy(), zap.NewNop(), false),
		img2vid.NewGenerator(&img2vid.StubBackend{}, retry.DefaultPolicy(), zap.NewNop()),
		nil,
		nil,
		nil,
		Config{
			WorkDir:   filepath.Join(base, "work"),
			OutputDir: filepath.Join(base, "out"),
			Width:     1080,
			Height:    1920,
		},
		zap.NewNop(),
	)
	require.NoError(t, os.MkdirAll(r.cfg.WorkDir, 0755))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func TestRunner_SuccessfulJob(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background())

	require.True(t, res.Success, "job failed: %s", res.Err)
	assert.NotEmpty(t, res.JobID)
	assert.NotEmpty(t, res.ContentHash)
	assert.Contains(t, res.Prompt, "ocean waves at dusk")
	assert.Equal(t, "stub", res.SDBackend)
	assert.Equal(t, "stub", res.VideoBackend)
	assert.GreaterOrEqual(t, res.Seed, int64(0))

	_, err := os.Stat(res.ArtifactPath)
	require.NoError(t, err, "finished artifact must exist")
	assert.Equal(t, r.cfg.OutputDir, filepath.Dir(res.ArtifactPath))
}

func TestRunner_CleansJobWorkDir(t *testing.T) {
	r := testRunner(t)
	res := r.Run(context.Background())
	require.True(t, res.Success)

	entries, err := os.ReadDir(r.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "private job dirs must be removed")
}

type brokenBackend struct{}

func (brokenBackend) Name() string { return "broken" }
func (brokenBackend) Generate(ctx context.Context, req txt2img.Request) (txt2img.Result, error) {
	return txt2img.Result{}, &retry.Error{Category: retry.CategoryClientError, Err: assert.AnError}
}

func TestRunner_BackendFailureYieldsFailedResult(t *testing.T) {
	r := testRunner(t, func(r *Runner) {
		r.images = txt2img.NewGenerator(brokenBackend{}, retry.DefaultPolicy(), zap.NewNop(), false)
	})
	res := r.Run(context.Background())

	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "txt2img")
	assert.Empty(t, res.ArtifactPath)
	assert.Empty(t, res.ContentHash)

	entries, err := os.ReadDir(r.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunner_EmptyPoolFails(t *testing.T) {
	r := testRunner(t, func(r *Runner) {
		r.pool = prompts.NewPool()
	})
	res := r.Run(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "sample prompt")
}

func TestRunner_LockTimeoutIsJobFailure(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "gpu.lock")
	blocker := flock.New(lockPath, time.Second)
	held, err := blocker.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	r := testRunner(t, func(r *Runner) {
		r.lock = flock.New(lockPath, 600*time.Millisecond)
	})
	res := r.Run(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Err, "acquire gpu lock")
}

func TestRunner_LockReleasedAfterJob(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "gpu.lock")
	r := testRunner(t, func(r *Runner) {
		r.lock = flock.New(lockPath, time.Second)
	})
	res := r.Run(context.Background())
	require.True(t, res.Success)

	h, err := flock.New(lockPath, 600*time.Millisecond).Acquire(context.Background())
	require.NoError(t, err, "lock must be free after the job")
	h.Release()
}

type okUploader struct{ got uploader.Request }

func (u *okUploader) Name() string { return "studio" }
func (u *okUploader) Upload(ctx context.Context, req uploader.Request) uploader.Result {
	u.got = req
	return uploader.Result{Success: true, Provider: "studio", DraftURL: "https://studio.example/d/1"}
}

func TestRunner_UploadRecorded(t *testing.T) {
	up := &okUploader{}
	router := uploader.NewRouter()
	router.Register(up)

	r := testRunner(t, func(r *Runner) {
		r.uploads = router
		r.cfg.UploadEnabled = true
		r.cfg.UploadProvider = "studio"
	})
	res := r.Run(context.Background())
	require.True(t, res.Success)

	require.NotNil(t, res.Upload)
	assert.True(t, res.Upload.Success)
	assert.Equal(t, res.ArtifactPath, up.got.VideoPath)
	assert.Equal(t, "ocean waves at dusk", up.got.Title)
}

func TestJobResult_RecordMapping(t *testing.T) {
	res := JobResult{
		Prompt:          "p | style | tag",
		Title:           "p",
		Tags:            []string{"tag"},
		Seed:            7,
		ContentHash:     "abc",
		ArtifactPath:    "/videos/v.mp4",
		DurationSeconds: 1.5,
		SDBackend:       "webui",
		VideoBackend:    "stub",
		Upload:          &uploader.Result{Success: true, Provider: "studio"},
	}
	rec := res.Record()
	assert.Equal(t, "abc", rec.Hash)
	assert.Equal(t, "/videos/v.mp4", rec.VideoPath)
	assert.Equal(t, 1.5, rec.DurationSeconds)
	assert.Equal(t, "webui", rec.SDBackend)
	require.NotNil(t, rec.Upload)
	assert.Equal(t, "studio", rec.Upload.Provider)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	got, err := HashFile(path)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", got)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
