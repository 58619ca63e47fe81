// Package scheduler drives batch runs: probe the accelerator, size a
// bounded worker pool, execute jobs with an outer retry loop, and commit
// successful results to the ledger with content-hash dedup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mographlabs/mograph/pkg/gpuprobe"
	"github.com/mographlabs/mograph/pkg/ledger"
	"github.com/mographlabs/mograph/pkg/pipeline"
)

// Config controls sizing and the outer per-job retry loop. Cooldown is the
// fixed delay between whole-job attempts, independent of the backoff the
// retry policy applies inside a single backend call.
type Config struct {
	Requested     int
	MaxRetries    int
	Cooldown      time.Duration
	MinFreeVRAMMB int
	HardSerial    bool
}

// JobFunc executes one job attempt. It never returns an error; failures
// are carried inside the result.
type JobFunc func(ctx context.Context) pipeline.JobResult

// ResourceProber supplies a fresh hardware snapshot per scheduling cycle.
type ResourceProber interface {
	Probe(ctx context.Context) gpuprobe.Snapshot
}

// Summary aggregates one batch run. Results are in completion order and
// may be shorter than the requested count when jobs exhaust their retries;
// callers compare lengths to detect partial failure.
type Summary struct {
	Requested  int
	Snapshot   gpuprobe.Snapshot
	Decision   Decision
	Results    []pipeline.JobResult
	Committed  int
	Duplicates int
	Exhausted  int
}

// Scheduler owns the dedup set (via the ledger) for the process. One
// instance per ledger file.
type Scheduler struct {
	probe  ResourceProber
	index  *ledger.Ledger
	job    JobFunc
	cfg    Config
	events *zap.Logger

	// sleepFn is swapped in tests to avoid real cooldown waits.
	sleepFn func(ctx context.Context, d time.Duration) error
}

func New(probe ResourceProber, index *ledger.Ledger, job JobFunc, cfg Config, events *zap.Logger) *Scheduler {
	return &Scheduler{
		probe:   probe,
		index:   index,
		job:     job,
		cfg:     cfg,
		events:  events,
		sleepFn: sleepCtx,
	}
}

// Run executes count jobs in fixed-size batches. The pool is torn down
// after every batch; batch N+1 does not start until batch N fully drains.
// A context cancellation stops dispatching new batches but does not
// interrupt jobs already running.
func (s *Scheduler) Run(ctx context.Context, count int) (*Summary, error) {
	snap := s.probe.Probe(ctx)
	dec := Decide(snap, s.cfg.Requested, s.cfg.MinFreeVRAMMB, s.cfg.HardSerial)

	s.events.Info("resource_snapshot",
		zap.String("accelerator", snap.Name),
		zap.Int("total_memory_mb", snap.TotalMemoryMB),
		zap.Int("free_memory_mb", snap.FreeMemoryMB),
		zap.Int("cpu_cores", snap.CPUCores),
		zap.Int("requested_concurrency", dec.Requested),
		zap.Int("effective_concurrency", dec.Effective),
		zap.String("reason", string(dec.Reason)),
	)

	summary := &Summary{Requested: count, Snapshot: snap, Decision: dec}

	remaining := count
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		batch := dec.Effective
		if remaining < batch {
			batch = remaining
		}
		remaining -= batch
		s.runBatch(ctx, batch, summary)
	}
	summary.Exhausted = count - len(summary.Results)
	return summary, nil
}

// runBatch dispatches one pool of workers and collects results in
// completion order, committing each as it arrives.
func (s *Scheduler) runBatch(ctx context.Context, size int, summary *Summary) {
	results := make(chan pipeline.JobResult, size)

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, ok := s.runWithRetry(ctx); ok {
				results <- res
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			s.commit(res, summary)
		}
	}()

	wg.Wait()
	close(results)
	<-done
}

// runWithRetry attempts one job up to MaxRetries+1 times with a fixed
// cooldown between attempts. An exhausted job contributes no result.
func (s *Scheduler) runWithRetry(ctx context.Context) (pipeline.JobResult, bool) {
	attempts := s.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res := s.job(ctx)
		if res.Success {
			return res, true
		}

		s.events.Warn("job_attempt_failed",
			zap.String("job_id", res.JobID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.String("error", res.Err),
		)
		if attempt < attempts && s.cfg.Cooldown > 0 {
			if err := s.sleepFn(ctx, s.cfg.Cooldown); err != nil {
				break
			}
		}
	}

	s.events.Warn("job_exhausted", zap.Int("attempts", attempts))
	return pipeline.JobResult{}, false
}

// commit appends the result's record unless its hash is already present.
// Duplicates are skipped in the ledger but still returned to the caller.
func (s *Scheduler) commit(res pipeline.JobResult, summary *Summary) {
	summary.Results = append(summary.Results, res)

	if s.index.Contains(res.ContentHash) {
		summary.Duplicates++
		s.events.Info("duplicate_skipped",
			zap.String("job_id", res.JobID),
			zap.String("hash", res.ContentHash),
		)
		return
	}

	if err := s.index.Append(res.Record()); err != nil {
		s.events.Error("ledger_append_failed",
			zap.String("job_id", res.JobID),
			zap.String("error", err.Error()),
		)
		return
	}
	summary.Committed++
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
