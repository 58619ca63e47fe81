package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string) Run {
	return Run{
		ID:                   id,
		StartedAt:            time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:           time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
		RequestedJobs:        5,
		Completed:            4,
		Committed:            3,
		Duplicates:           1,
		Exhausted:            1,
		RequestedConcurrency: 2,
		EffectiveConcurrency: 1,
		DecisionReason:       "FORCED_SERIAL_LOW_MEMORY",
		Accelerator:          "RTX 4090",
		TotalMemoryMB:        24000,
		FreeMemoryMB:         4000,
		CPUCores:             8,
	}
}

func TestStore_RecordAndGetRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, sampleRun("run-1")))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RequestedJobs)
	assert.Equal(t, 4, got.Completed)
	assert.Equal(t, "FORCED_SERIAL_LOW_MEMORY", got.DecisionReason)
	assert.Equal(t, "RTX 4090", got.Accelerator)
	assert.True(t, got.StartedAt.Equal(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)))
}

func TestStore_GetRunNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	old := sampleRun("run-old")
	recent := sampleRun("run-new")
	recent.StartedAt = old.StartedAt.Add(time.Hour)
	require.NoError(t, s.RecordRun(ctx, old))
	require.NoError(t, s.RecordRun(ctx, recent))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_ArtifactsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, sampleRun("run-1")))
	require.NoError(t, s.RecordArtifact(ctx, Artifact{
		RunID:           "run-1",
		JobID:           "job-a",
		Hash:            "abc",
		VideoPath:       "/videos/a.mp4",
		Prompt:          "ocean waves | oil painting",
		Seed:            42,
		DurationSeconds: 12.5,
	}))
	require.NoError(t, s.RecordArtifact(ctx, Artifact{
		RunID: "run-1", JobID: "job-b", Hash: "", VideoPath: "/videos/b.mp4",
	}))

	artifacts, err := s.ListArtifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "job-a", artifacts[0].JobID)
	assert.Equal(t, int64(42), artifacts[0].Seed)
	assert.False(t, artifacts[0].CreatedAt.IsZero())
	assert.Empty(t, artifacts[1].Hash)

	none, err := s.ListArtifacts(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(ctx, sampleRun("run-1")))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, err := s2.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
}
