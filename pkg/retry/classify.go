package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Category is the closed error taxonomy used to decide retry vs. abort.
//
// NOTE: These values appear in structured events and are part of the stable
// observability contract.
type Category string

const (
	CategoryTimeout         Category = "timeout"
	CategoryConnectionError Category = "connection_error"
	CategoryRateLimited     Category = "rate_limited"
	CategoryServerError     Category = "server_error"
	CategoryClientError     Category = "client_error"
	CategoryOutOfMemory     Category = "out_of_memory"
	CategoryAuthError       Category = "auth_error"
	CategoryToolMissing     Category = "tool_missing"
	CategoryResourceBusy    Category = "resource_busy"
	CategoryIOError         Category = "io_error"
	CategoryUnknown         Category = "unknown"
)

// Retryable reports whether a failure in this category is worth another
// attempt. Unknown is retried conservatively: failing fast on unseen error
// shapes would be worse for availability.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryConnectionError, CategoryRateLimited,
		CategoryServerError, CategoryResourceBusy, CategoryIOError, CategoryUnknown:
		return true
	default:
		return false
	}
}

// Hint returns a short remediation suggestion for the category. Hints are
// attached to failure events for postmortem analysis.
func (c Category) Hint() string {
	switch c {
	case CategoryTimeout:
		return "check network connectivity or raise the request timeout"
	case CategoryConnectionError:
		return "confirm the backend service is running and the address is correct"
	case CategoryRateLimited:
		return "reduce concurrency or increase the interval between requests"
	case CategoryServerError:
		return "check the backend service logs or restart the service"
	case CategoryClientError:
		return "validate the prompt and parameters against the API contract"
	case CategoryOutOfMemory:
		return "reduce the generation resolution or batch size"
	case CategoryAuthError:
		return "confirm the API token or auth configuration is valid"
	case CategoryToolMissing:
		return "install the required tool and make sure it is on PATH"
	case CategoryResourceBusy:
		return "confirm the resource is not held by another process and retry later"
	case CategoryIOError:
		return "check disk health and free space, or change the output location"
	default:
		return "inspect the event log for the full error detail"
	}
}

// Categorized is implemented by errors that carry an explicit category.
// Classification prefers this over any structural or textual inspection.
type Categorized interface {
	RetryCategory() Category
}

// HTTPStatused is implemented by errors that carry an HTTP status code.
type HTTPStatused interface {
	HTTPStatusCode() int
}

// Error tags an underlying error with a category. It is the explicit channel
// for collaborators that already know how a failure should be classified.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) RetryCategory() Category { return e.Category }

// Classify maps an arbitrary error into the taxonomy.
//
// Structured fields (explicit category, HTTP status, syscall errno) are
// checked before any message sniffing; the textual fallback exists for
// error shapes that carry no structure at all.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var categorized Categorized
	if errors.As(err, &categorized) {
		return categorized.RetryCategory()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var statused HTTPStatused
	if errors.As(err, &statused) {
		return classifyHTTPStatus(statused.HTTPStatusCode())
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CategoryConnectionError
	}
	if errors.Is(err, syscall.EPIPE) {
		return CategoryIOError
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) {
		return CategoryResourceBusy
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnectionError
	}

	return classifyMessage(err.Error())
}

func classifyHTTPStatus(status int) Category {
	switch {
	case status == 429:
		return CategoryRateLimited
	case status == 401 || status == 403:
		return CategoryAuthError
	case status >= 500 && status < 600:
		return CategoryServerError
	case status >= 400 && status < 500:
		return CategoryClientError
	default:
		return CategoryUnknown
	}
}

// classifyMessage is the textual fallback. Keep the marker list small and in
// sync with what the backends actually emit.
func classifyMessage(message string) Category {
	message = strings.ToLower(message)
	switch {
	case strings.Contains(message, "out of memory"),
		strings.Contains(message, "cuda") && strings.Contains(message, "memory"):
		return CategoryOutOfMemory
	case strings.Contains(message, "connection refused"):
		return CategoryConnectionError
	case strings.Contains(message, "timed out"), strings.Contains(message, "timeout"):
		return CategoryTimeout
	case strings.Contains(message, "unauthorized"), strings.Contains(message, "401"):
		return CategoryAuthError
	case strings.Contains(message, "broken pipe"):
		return CategoryIOError
	case strings.Contains(message, "resource temporarily unavailable"),
		strings.Contains(message, "resource busy"):
		return CategoryResourceBusy
	default:
		return CategoryUnknown
	}
}
