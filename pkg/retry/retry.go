// Package retry wraps fallible external calls with classification and
// bounded exponential backoff.
//
// Every generation backend call and external tool invocation in this
// repository goes through the same policy shape: attempt, classify on
// failure, abort on terminal categories, otherwise back off and try again
// while the attempt budget lasts. Each attempt start, success, failure, and
// scheduled retry is emitted as a structured event.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// baseDelay is the backoff starting point: one unit before the second
// attempt, multiplied by the backoff factor after every attempt.
const baseDelay = time.Second

// Policy configures retry behavior for a single wrapped call.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first call.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BackoffFactor multiplies the delay after every attempt.
	// Values below 1.0 are treated as 1.0 (constant delay).
	BackoffFactor float64

	// JitterMs adds a uniform random 0..JitterMs milliseconds to each delay.
	JitterMs int
}

// DefaultPolicy is a single attempt with no backoff, matching the behavior
// of an unwrapped call.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 1, BackoffFactor: 1.0}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffFactor < 1.0 {
		p.BackoffFactor = 1.0
	}
	if p.JitterMs < 0 {
		p.JitterMs = 0
	}
	return p
}

// sleepFn is overridable in tests so backoff schedules can be asserted
// without waiting on wall-clock time.
var sleepFn = sleepCtx

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op under the policy and returns its result.
//
// op is attempted up to MaxAttempts times. A failure classified into a
// non-retryable category aborts immediately; otherwise Do sleeps
// currentDelay + uniform(0, JitterMs) and multiplies currentDelay by
// BackoffFactor before the next attempt. The last error is returned after
// the budget is exhausted. Events are emitted on the provided logger, which
// must not be nil (use zap.NewNop() to discard).
func Do[T any](ctx context.Context, p Policy, events *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.normalized()

	delay := baseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		events.Info("retry_attempt_start",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts))

		start := time.Now()
		result, err := fn(ctx)
		elapsed := time.Since(start)

		if err == nil {
			events.Info("retry_attempt_success",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int64("elapsed_ms", elapsed.Milliseconds()))
			return result, nil
		}

		lastErr = err
		category := Classify(err)
		events.Warn("retry_attempt_fail",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Int64("elapsed_ms", elapsed.Milliseconds()),
			zap.String("category", string(category)),
			zap.String("hint", category.Hint()),
			zap.Error(err))

		if !category.Retryable() {
			return zero, fmt.Errorf("%s: %s: %w", op, category, err)
		}
		if attempt >= p.MaxAttempts {
			break
		}

		sleep := delay + jitter(p.JitterMs)
		events.Info("retry_scheduled",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int64("next_delay_ms", sleep.Milliseconds()),
			zap.String("category", string(category)))

		if err := sleepFn(ctx, sleep); err != nil {
			return zero, err
		}
		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}

	return zero, fmt.Errorf("%s: attempts exhausted after %d: %w", op, p.MaxAttempts, lastErr)
}

func jitter(jitterMs int) time.Duration {
	if jitterMs <= 0 {
		return 0
	}
	return time.Duration(rand.IntN(jitterMs+1)) * time.Millisecond
}
