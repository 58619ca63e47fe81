// Package flock provides a named, timeout-bounded mutual-exclusion lock
// backed by an OS advisory file lock.
//
// The lock serializes access to a shared hardware resource (one GPU) across
// processes, not just goroutines: the guarded resource is shared at the
// OS-process level. The lock file path is a pure mutex token; nothing
// meaningful is stored in it. Re-entrant acquisition by the same owner is
// not supported.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ErrLockTimeout is returned when the lock cannot be acquired before the
// configured timeout elapses.
var ErrLockTimeout = errors.New("timed out waiting for lock")

const (
	// DefaultTimeout bounds how long Acquire waits before giving up.
	DefaultTimeout = 60 * time.Second

	// pollInterval is how often a blocked acquirer re-checks the lock.
	pollInterval = 500 * time.Millisecond
)

// Lock identifies a named lock. Lock itself holds no state; each Acquire
// returns an independent Handle.
type Lock struct {
	path    string
	timeout time.Duration
}

// New creates a lock identified by a filesystem path. A zero or negative
// timeout falls back to DefaultTimeout.
func New(path string, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lock{path: path, timeout: timeout}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Handle represents a held lock. Release is idempotent and must be called
// on every exit path.
type Handle struct {
	f    *os.File
	once sync.Once
	err  error
}

// Acquire takes the lock, polling until it is granted, the timeout elapses,
// or the context is cancelled. On timeout the error wraps ErrLockTimeout.
func (l *Lock) Acquire(ctx context.Context) (*Handle, error) {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create lock directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &Handle{f: f}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", l.path, err)
		}

		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("%s: %w", l.path, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks and closes the underlying file. Safe to call more than
// once; only the first call does work.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if h.f == nil {
			return
		}
		unlockErr := syscall.Flock(int(h.f.Fd()), syscall.LOCK_UN)
		closeErr := h.f.Close()
		if unlockErr != nil {
			h.err = fmt.Errorf("unlock: %w", unlockErr)
			return
		}
		if closeErr != nil {
			h.err = fmt.Errorf("close lock file: %w", closeErr)
		}
	})
	return h.err
}
