package ffmpeg

import (
	"strings"

	"github.com/mographlabs/mograph/pkg/retry"
)

// Failure is the tool-side error taxonomy, derived from exit code and
// stderr markers. It parallels the retry categories but stays separate:
// exit-code/stderr classification is the one place string-sniffing is
// unavoidable, so it is isolated here.
type Failure string

const (
	FailureToolMissing  Failure = "tool_missing"
	FailureFileNotFound Failure = "file_not_found"
	FailurePermission   Failure = "permission"
	FailureDiskFull     Failure = "disk_full"
	FailureCodecMissing Failure = "codec_missing"
	FailureResourceBusy Failure = "resource_busy"
	FailureBrokenPipe   Failure = "broken_pipe"
	FailureTimeout      Failure = "timeout"
	FailureIOError      Failure = "io_error"
	FailureUnknown      Failure = "unknown"
)

// exitCodeCommandNotFound is the shell convention for a missing executable.
const exitCodeCommandNotFound = 127

// RetryCategory maps the tool taxonomy onto the shared retry taxonomy.
// Disk-full surfaces as a transient IO failure: space is routinely
// reclaimed by concurrent cleanup between attempts.
func (f Failure) RetryCategory() retry.Category {
	switch f {
	case FailureToolMissing:
		return retry.CategoryToolMissing
	case FailureFileNotFound, FailureCodecMissing:
		return retry.CategoryClientError
	case FailurePermission:
		return retry.CategoryAuthError
	case FailureDiskFull, FailureBrokenPipe, FailureIOError:
		return retry.CategoryIOError
	case FailureResourceBusy:
		return retry.CategoryResourceBusy
	case FailureTimeout:
		return retry.CategoryTimeout
	default:
		return retry.CategoryUnknown
	}
}

// Hint returns a remediation suggestion for failure events.
func (f Failure) Hint() string {
	switch f {
	case FailureToolMissing:
		return "install FFmpeg and make sure it is on PATH"
	case FailureFileNotFound:
		return "check that the input and output paths exist"
	case FailurePermission:
		return "check permissions on the output directory and files"
	case FailureDiskFull:
		return "free disk space or point the output at another volume"
	case FailureCodecMissing:
		return "install the required codec or change the encoding parameters"
	case FailureResourceBusy:
		return "confirm the output file is not held open elsewhere and retry"
	case FailureBrokenPipe:
		return "check whether the upstream stream or pipe was interrupted"
	case FailureTimeout:
		return "check network/IO conditions or raise the timeout"
	case FailureIOError:
		return "check disk health or switch the output location"
	default:
		return "inspect stderr and the command arguments"
	}
}

// ClassifyOutput derives a Failure from an exit code and captured stderr.
// Markers are matched against lowercased stderr; keep the list in sync with
// what FFmpeg actually prints.
func ClassifyOutput(stderr string, exitCode int) Failure {
	message := strings.ToLower(stderr)

	switch {
	case exitCode == exitCodeCommandNotFound, strings.Contains(message, "command not found"):
		return FailureToolMissing
	case strings.Contains(message, "no such file or directory"),
		strings.Contains(message, "unable to open"):
		return FailureFileNotFound
	case strings.Contains(message, "permission denied"):
		return FailurePermission
	case strings.Contains(message, "no space left"),
		strings.Contains(message, "disk full"):
		return FailureDiskFull
	case strings.Contains(message, "codec not found"),
		strings.Contains(message, "unknown encoder"):
		return FailureCodecMissing
	case strings.Contains(message, "device or resource busy"),
		strings.Contains(message, "resource temporarily unavailable"):
		return FailureResourceBusy
	case strings.Contains(message, "broken pipe"),
		strings.Contains(message, "epipe"):
		return FailureBrokenPipe
	case strings.Contains(message, "connection timed out"),
		strings.Contains(message, "timed out"):
		return FailureTimeout
	case strings.Contains(message, "input/output error"):
		return FailureIOError
	default:
		return FailureUnknown
	}
}
