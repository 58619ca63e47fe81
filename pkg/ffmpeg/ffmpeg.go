// Package ffmpeg shells out to the FFmpeg binary for video assembly:
// encoding frame sequences, muxing audio, extracting covers, and adapting
// clips to vertical output. Failures are classified from exit code and
// stderr so the shared retry policy can tell transient from terminal.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/retry"
)

// stderrTailLimit caps how much stderr a ToolError carries.
const stderrTailLimit = 2000

// Resolve locates the FFmpeg binary: an explicit path wins, then the
// FFMPEG_PATH environment variable, then PATH lookup.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("ffmpeg path %s: %w", explicit, err)
		}
		return explicit, nil
	}
	if env := strings.TrimSpace(os.Getenv("FFMPEG_PATH")); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("FFMPEG_PATH %s: %w", env, err)
		}
		return env, nil
	}
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", &ToolError{Failure: FailureToolMissing, ExitCode: exitCodeCommandNotFound, Stderr: "ffmpeg not found on PATH"}
	}
	return path, nil
}

// ToolError is a failed FFmpeg invocation with its classification attached.
type ToolError struct {
	Failure  Failure
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("ffmpeg exited %d (%s)", e.ExitCode, e.Failure)
}

// RetryCategory feeds the shared classifier.
func (e *ToolError) RetryCategory() retry.Category { return e.Failure.RetryCategory() }

// RunResult captures one completed invocation for event logging.
type RunResult struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// RetryConfig controls which FFmpeg failures are retried. When disabled,
// every invocation gets a single attempt regardless of classification.
type RetryConfig struct {
	Enabled bool
	Policy  retry.Policy

	// RetryableExitCodes lists exit codes treated as transient even when
	// stderr gives no classification. Busy output files and interrupted
	// writes land here.
	RetryableExitCodes []int
}

// Runner executes FFmpeg commands under the retry config.
type Runner struct {
	binary string
	cfg    RetryConfig
	events *zap.Logger

	// runFn is swapped in tests to avoid invoking a real binary.
	runFn func(ctx context.Context, binary string, args []string) RunResult
}

// NewRunner wires a resolved binary path to the retry config.
func NewRunner(binary string, cfg RetryConfig, events *zap.Logger) *Runner {
	return &Runner{binary: binary, cfg: cfg, events: events, runFn: runCommand}
}

// Binary reports the resolved FFmpeg path, for diagnostics.
func (r *Runner) Binary() string { return r.binary }

// Run executes one FFmpeg command. Retryable failures are re-attempted per
// the configured policy; terminal classifications surface immediately.
func (r *Runner) Run(ctx context.Context, args ...string) (RunResult, error) {
	if !r.cfg.Enabled {
		return r.runOnce(ctx, args)
	}
	return retry.Do(ctx, r.cfg.Policy, r.events, "ffmpeg",
		func(ctx context.Context) (RunResult, error) {
			return r.runOnce(ctx, args)
		})
}

func (r *Runner) runOnce(ctx context.Context, args []string) (RunResult, error) {
	res := r.runFn(ctx, r.binary, args)
	r.events.Info("ffmpeg_invocation",
		zap.Strings("args", args),
		zap.Int("exit_code", res.ExitCode),
	)
	if res.ExitCode == 0 {
		return res, nil
	}

	failure := ClassifyOutput(res.Stderr, res.ExitCode)
	if failure == FailureUnknown && r.exitCodeRetryable(res.ExitCode) {
		failure = FailureResourceBusy
	}
	r.events.Warn("ffmpeg_failure",
		zap.Strings("args", args),
		zap.Int("exit_code", res.ExitCode),
		zap.String("failure", string(failure)),
		zap.String("hint", failure.Hint()),
	)
	return res, &ToolError{Failure: failure, ExitCode: res.ExitCode, Stderr: tail(res.Stderr, stderrTailLimit)}
}

func (r *Runner) exitCodeRetryable(code int) bool {
	for _, c := range r.cfg.RetryableExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

func runCommand(ctx context.Context, binary string, args []string) RunResult {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := RunResult{
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Start failures (binary vanished, permission) have no exit
			// code from the process; fold the error into stderr.
			res.ExitCode = exitCodeCommandNotFound
			res.Stderr = err.Error()
		}
	}
	return res
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
