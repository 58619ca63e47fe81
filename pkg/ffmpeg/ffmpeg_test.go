package ffmpeg

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/retry"
)

func TestClassifyOutput(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		exitCode int
		want     Failure
	}{
		{"command not found exit", "", 127, FailureToolMissing},
		{"command not found stderr", "sh: ffmpeg: command not found", 1, FailureToolMissing},
		{"missing input", "frames/%04d.png: No such file or directory", 1, FailureFileNotFound},
		{"unable to open", "Unable to open output.mp4", 1, FailureFileNotFound},
		{"permission", "out.mp4: Permission denied", 1, FailurePermission},
		{"disk full", "av_interleaved_write_frame(): No space left on device", 1, FailureDiskFull},
		{"unknown encoder", "Unknown encoder 'libx265'", 1, FailureCodecMissing},
		{"busy", "out.mp4: Device or resource busy", 1, FailureResourceBusy},
		{"eagain", "Resource temporarily unavailable", 1, FailureResourceBusy},
		{"broken pipe", "Broken pipe", 1, FailureBrokenPipe},
		{"timeout", "Connection timed out", 1, FailureTimeout},
		{"io error", "frames: Input/output error", 1, FailureIOError},
		{"unclassified", "Conversion failed!", 1, FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyOutput(tt.stderr, tt.exitCode))
		})
	}
}

func TestFailure_RetryCategory(t *testing.T) {
	assert.Equal(t, retry.CategoryToolMissing, FailureToolMissing.RetryCategory())
	assert.Equal(t, retry.CategoryClientError, FailureFileNotFound.RetryCategory())
	assert.Equal(t, retry.CategoryAuthError, FailurePermission.RetryCategory())
	assert.Equal(t, retry.CategoryResourceBusy, FailureResourceBusy.RetryCategory())
	assert.Equal(t, retry.CategoryIOError, FailureDiskFull.RetryCategory())
	assert.Equal(t, retry.CategoryUnknown, FailureUnknown.RetryCategory())
}

func writeExecutable(path string) error {
	return os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755)
}

func TestResolve_ExplicitPathWins(t *testing.T) {
	fake := t.TempDir() + "/ffmpeg"
	require.NoError(t, writeExecutable(fake))
	t.Setenv("FFMPEG_PATH", "/nonexistent/ffmpeg")

	got, err := Resolve(fake)
	require.NoError(t, err)
	assert.Equal(t, fake, got)
}

func TestResolve_EnvFallback(t *testing.T) {
	fake := t.TempDir() + "/ffmpeg"
	require.NoError(t, writeExecutable(fake))
	t.Setenv("FFMPEG_PATH", fake)

	got, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, fake, got)
}

func TestResolve_MissingExplicitPath(t *testing.T) {
	_, err := Resolve(t.TempDir() + "/missing")
	require.Error(t, err)
}

// fakeRunner builds a Runner whose invocations are served from a scripted
// sequence of results instead of a real binary.
func fakeRunner(cfg RetryConfig, script ...RunResult) (*Runner, *int) {
	calls := 0
	r := NewRunner("/usr/bin/ffmpeg", cfg, zap.NewNop())
	r.runFn = func(ctx context.Context, binary string, args []string) RunResult {
		idx := calls
		if idx >= len(script) {
			idx = len(script) - 1
		}
		calls++
		res := script[idx]
		res.Args = args
		return res
	}
	return r, &calls
}

func TestRunner_SuccessPassesThrough(t *testing.T) {
	r, _ := fakeRunner(RetryConfig{}, RunResult{ExitCode: 0, Stdout: "ok"})
	res, err := r.Run(context.Background(), "-version")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
}

func TestRunner_TerminalFailureNotRetried(t *testing.T) {
	r, calls := fakeRunner(
		RetryConfig{Enabled: true, Policy: retry.Policy{MaxAttempts: 5}},
		RunResult{ExitCode: 1, Stderr: "in.png: No such file or directory"},
	)
	_, err := r.Run(context.Background(), "-i", "in.png")
	require.Error(t, err)
	assert.Equal(t, 1, *calls)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, FailureFileNotFound, toolErr.Failure)
	assert.Equal(t, retry.CategoryClientError, retry.Classify(err))
}

func TestRunner_RetryableExitCodeClassifiedBusy(t *testing.T) {
	r, _ := fakeRunner(
		RetryConfig{RetryableExitCodes: []int{69}},
		RunResult{ExitCode: 69, Stderr: "Conversion failed!"},
	)
	_, err := r.Run(context.Background(), "-i", "in.mp4")
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, FailureResourceBusy, toolErr.Failure)
	assert.True(t, retry.Classify(err).Retryable())
}

func TestRunner_DisabledRetryGetsSingleAttempt(t *testing.T) {
	r, calls := fakeRunner(
		RetryConfig{Enabled: false, Policy: retry.Policy{MaxAttempts: 5}},
		RunResult{ExitCode: 1, Stderr: "Device or resource busy"},
	)
	_, err := r.Run(context.Background(), "-i", "in.mp4")
	require.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestRunner_StderrTailBounded(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	r, _ := fakeRunner(RetryConfig{}, RunResult{ExitCode: 1, Stderr: string(long)})
	_, err := r.Run(context.Background(), "-i", "in.mp4")

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Len(t, toolErr.Stderr, stderrTailLimit)
}

func TestEncodeImageSequence_BuildsArgs(t *testing.T) {
	var got []string
	r := NewRunner("/usr/bin/ffmpeg", RetryConfig{}, zap.NewNop())
	r.runFn = func(ctx context.Context, binary string, args []string) RunResult {
		got = args
		return RunResult{Args: args}
	}

	out := t.TempDir() + "/video/out.mp4"
	_, err := r.EncodeImageSequence(context.Background(), EncodeOptions{
		FramesPattern: "frames/%04d.png",
		OutputPath:    out,
		FPS:           30,
		Width:         1080,
		Height:        1920,
		CRF:           18,
		Preset:        "medium",
	})
	require.NoError(t, err)

	assert.Contains(t, got, "-framerate")
	assert.Contains(t, got, "1080x1920")
	assert.Contains(t, got, "libx264")
	assert.Contains(t, got, "-an")
	assert.NotContains(t, got, "-b:v")
	assert.Equal(t, out, got[len(got)-1])
}

func TestAdaptVertical_BuildsPadFilter(t *testing.T) {
	var got []string
	r := NewRunner("/usr/bin/ffmpeg", RetryConfig{}, zap.NewNop())
	r.runFn = func(ctx context.Context, binary string, args []string) RunResult {
		got = args
		return RunResult{Args: args}
	}

	_, err := r.AdaptVertical(context.Background(), "in.mp4", t.TempDir()+"/out.mp4", 1080, 1920)
	require.NoError(t, err)
	assert.Contains(t, got, "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2:color=black")
}
