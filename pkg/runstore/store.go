// Package runstore persists batch run history in a local SQLite database,
// feeding the runs CLI command and the status API. The JSONL ledger stays
// the source of truth for dedup; this store is queryable reporting on top.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded scheduler run.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	RequestedJobs int
	Completed     int
	Committed     int
	Duplicates    int
	Exhausted     int

	RequestedConcurrency int
	EffectiveConcurrency int
	DecisionReason       string

	Accelerator   string
	TotalMemoryMB int
	FreeMemoryMB  int
	CPUCores      int
}

// Artifact is one produced video tied to a run.
type Artifact struct {
	RunID           string
	JobID           string
	Hash            string
	VideoPath       string
	Prompt          string
	Seed            int64
	DurationSeconds float64
	CreatedAt       time.Time
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run database at path. ":memory:" is
// supported for tests. A single connection with WAL keeps concurrent CLI
// invocations from tripping over each other.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if dsn != ":memory:" {
		pragmaCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var journalMode string
		if err := db.QueryRowContext(pragmaCtx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		var busyTimeout int
		if err := db.QueryRowContext(pragmaCtx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("run store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create run store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			requested_jobs INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			committed INTEGER NOT NULL,
			duplicates INTEGER NOT NULL,
			exhausted INTEGER NOT NULL,
			requested_concurrency INTEGER NOT NULL,
			effective_concurrency INTEGER NOT NULL,
			decision_reason TEXT NOT NULL,
			accelerator TEXT NOT NULL,
			total_memory_mb INTEGER NOT NULL,
			free_memory_mb INTEGER NOT NULL,
			cpu_cores INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			job_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			video_path TEXT NOT NULL,
			prompt TEXT NOT NULL,
			seed INTEGER NOT NULL,
			duration_s REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_hash ON artifacts(hash)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate run store: %w", err)
		}
	}
	return nil
}

// RecordRun inserts one completed run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, started_at, finished_at,
			requested_jobs, completed, committed, duplicates, exhausted,
			requested_concurrency, effective_concurrency, decision_reason,
			accelerator, total_memory_mb, free_memory_mb, cpu_cores
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.RequestedJobs, run.Completed, run.Committed, run.Duplicates, run.Exhausted,
		run.RequestedConcurrency, run.EffectiveConcurrency, run.DecisionReason,
		run.Accelerator, run.TotalMemoryMB, run.FreeMemoryMB, run.CPUCores,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecordArtifact inserts one artifact row for a run.
func (s *Store) RecordArtifact(ctx context.Context, a Artifact) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, job_id, hash, video_path, prompt, seed, duration_s, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.JobID, a.Hash, a.VideoPath, a.Prompt, a.Seed, a.DurationSeconds,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, started_at, finished_at,
	requested_jobs, completed, committed, duplicates, exhausted,
	requested_concurrency, effective_concurrency, decision_reason,
	accelerator, total_memory_mb, free_memory_mb, cpu_cores`

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListArtifacts returns artifacts for one run in insertion order.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, hash, video_path, prompt, seed, duration_s, created_at
		 FROM artifacts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		if err := rows.Scan(&a.RunID, &a.JobID, &a.Hash, &a.VideoPath, &a.Prompt, &a.Seed, &a.DurationSeconds, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedAt, finishedAt string
	err := row.Scan(
		&run.ID, &startedAt, &finishedAt,
		&run.RequestedJobs, &run.Completed, &run.Committed, &run.Duplicates, &run.Exhausted,
		&run.RequestedConcurrency, &run.EffectiveConcurrency, &run.DecisionReason,
		&run.Accelerator, &run.TotalMemoryMB, &run.FreeMemoryMB, &run.CPUCores,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return run, nil
}
