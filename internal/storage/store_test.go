package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "contentpilot/pkg/logx"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "jobs.db"), RunHistoryPerJob: 3}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	mem, err := Open(Config{Driver: "memory", RunHistoryPerJob: 3}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	return map[string]Store{"sqlite": sq, "memory": mem}
}

func sampleJob(name string, active bool) Job {
	aff := "aff-123"
	return Job{
		UserID:         "admin",
		Name:           name,
		ScheduleTime:   "06:30",
		Timezone:       "America/New_York",
		SelectedNiches: []string{"tech", "fitness"},
		Tones:          []string{"friendly"},
		Templates:      []string{"product-spotlight"},
		Platforms:      []string{"instagram", "tiktok"},
		AIModel:        "claude",
		AffiliateID:    &aff,
		IsActive:       active,
		NextRunAt:      time.Date(2030, 1, 2, 11, 30, 0, 0, time.UTC),
	}
}

func TestStoreJobLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			created, err := st.CreateJob(ctx, sampleJob("morning batch", true))
			require.NoError(t, err)
			require.NotZero(t, created.ID)
			assert.False(t, created.CreatedAt.IsZero())
			assert.Equal(t, []string{"tech", "fitness"}, created.SelectedNiches)
			require.NotNil(t, created.AffiliateID)
			assert.Equal(t, "aff-123", *created.AffiliateID)
			assert.Nil(t, created.WebhookURL)
			assert.True(t, created.NextRunAt.Equal(time.Date(2030, 1, 2, 11, 30, 0, 0, time.UTC)))

			_, err = st.CreateJob(ctx, sampleJob("paused", false))
			require.NoError(t, err)

			all, err := st.ListJobs(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			active, err := st.ListActiveJobs(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, created.ID, active[0].ID)

			upd := created
			upd.Name = "renamed"
			upd.IsActive = false
			upd.TotalRuns = 99 // statistics are not writable through UpdateJob
			got, err := st.UpdateJob(ctx, upd)
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.False(t, got.IsActive)
			assert.Equal(t, 0, got.TotalRuns)

			require.NoError(t, st.DeleteJob(ctx, created.ID))
			_, err = st.GetJob(ctx, created.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.DeleteJob(ctx, created.ID), ErrNotFound)

			_, err = st.UpdateJob(ctx, upd)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRunStatistics(t *testing.T) {
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			j, err := st.CreateJob(ctx, sampleJob("stats", true))
			require.NoError(t, err)

			started := time.Date(2030, 1, 2, 11, 30, 0, 0, time.UTC)
			next := started.Add(24 * time.Hour)

			// Two failures in a row, then a success.
			for i := 0; i < 2; i++ {
				require.NoError(t, st.MarkRunStarted(ctx, j.ID, started, next))
				require.NoError(t, st.MarkRunFinished(ctx, j.ID, "generator unreachable"))
			}
			got, err := st.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.TotalRuns)
			assert.Equal(t, 2, got.ConsecutiveFailures)
			require.NotNil(t, got.LastError)
			assert.Equal(t, "generator unreachable", *got.LastError)
			require.NotNil(t, got.LastRunAt)
			assert.True(t, got.LastRunAt.Equal(started))
			assert.True(t, got.NextRunAt.Equal(next))

			require.NoError(t, st.MarkRunStarted(ctx, j.ID, started, next))
			require.NoError(t, st.MarkRunFinished(ctx, j.ID, ""))
			got, err = st.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, got.TotalRuns)
			assert.Equal(t, 0, got.ConsecutiveFailures)
			assert.Nil(t, got.LastError)

			// Blocked leaves counters alone.
			require.NoError(t, st.MarkBlocked(ctx, j.ID, "generation disabled"))
			got, err = st.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, got.TotalRuns)
			assert.Equal(t, 0, got.ConsecutiveFailures)
			require.NotNil(t, got.LastError)
			assert.Equal(t, "generation disabled", *got.LastError)

			later := next.Add(time.Hour)
			require.NoError(t, st.SetNextRun(ctx, j.ID, later))
			got, err = st.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.True(t, got.NextRunAt.Equal(later))

			assert.ErrorIs(t, st.MarkRunStarted(ctx, 4242, started, next), ErrNotFound)
			assert.ErrorIs(t, st.MarkRunFinished(ctx, 4242, ""), ErrNotFound)
			assert.ErrorIs(t, st.MarkBlocked(ctx, 4242, "x"), ErrNotFound)
		})
	}
}

func TestStoreRunHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendRun(ctx, RunRecord{
					ID:        "run-" + string(rune('a'+i)),
					JobID:     7,
					Origin:    "scheduled_job",
					Status:    RunCompleted,
					StartedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}
			runs, err := st.ListRuns(ctx, 7, 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-e", runs[0].ID, "newest first")
			assert.Equal(t, "run-c", runs[2].ID)

			runs, err = st.ListRuns(ctx, 7, 1)
			require.NoError(t, err)
			assert.Len(t, runs, 1)

			runs, err = st.ListRuns(ctx, 8, 0)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestStoreDedup(t *testing.T) {
	ctx := context.Background()
	for name, st := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "job.failed:1", until))
			got, ok, err := st.GetDedup(ctx, "job.failed:1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Equal(until))

			_, ok, err = st.GetDedup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemorySnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "memory", Path: path}, logx.Nop())
	require.NoError(t, err)
	j, err := st.CreateJob(ctx, sampleJob("persisted", true))
	require.NoError(t, err)
	require.NoError(t, st.MarkRunFinished(ctx, j.ID, "boom"))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "memory", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
	assert.Equal(t, 1, got.ConsecutiveFailures)

	// IDs keep increasing after reload.
	next, err := st.CreateJob(ctx, sampleJob("second", true))
	require.NoError(t, err)
	assert.Greater(t, next.ID, j.ID)
}

func TestMemorySnapshotWriteFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "memory", Path: path}, logx.Nop())
	require.NoError(t, err)
	kept, err := st.CreateJob(ctx, sampleJob("kept", true))
	require.NoError(t, err)

	// A directory in place of the temp file makes every snapshot write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))

	_, err = st.CreateJob(ctx, sampleJob("lost", true))
	require.Error(t, err)
	all, err := st.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, kept.ID, all[0].ID)

	upd := kept.Clone()
	upd.Name = "renamed"
	_, err = st.UpdateJob(ctx, upd)
	require.Error(t, err)
	require.Error(t, st.MarkRunFinished(ctx, kept.ID, "boom"))
	require.Error(t, st.DeleteJob(ctx, kept.ID))
	require.Error(t, st.AppendRun(ctx, RunRecord{ID: "r1", JobID: kept.ID, Status: RunCompleted}))

	got, err := st.GetJob(ctx, kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Name)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Nil(t, got.LastError)
	runs, err := st.ListRuns(ctx, kept.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, os.Remove(path+".tmp"))
	next, err := st.CreateJob(ctx, sampleJob("next", true))
	require.NoError(t, err)
	assert.Equal(t, kept.ID+1, next.ID, "failed create must not burn an id")
	require.NoError(t, st.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestJobCloneIsDeep(t *testing.T) {
	j := sampleJob("clone", true)
	cp := j.Clone()
	cp.SelectedNiches[0] = "changed"
	*cp.AffiliateID = "changed"
	assert.Equal(t, "tech", j.SelectedNiches[0])
	assert.Equal(t, "aff-123", *j.AffiliateID)
}
