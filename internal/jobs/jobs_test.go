package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/config"
	"visitorlens/internal/jobs"
	"visitorlens/internal/runs"
	"visitorlens/internal/testsupport"
)

func TestCleanupJob(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	dbManager := testsupport.NewTestDBManager(db)

	old, err := runs.Record(db, runs.Entry{Operation: "list_visitors"})
	require.NoError(t, err)
	require.NoError(t, db.Model(old).Update("created_at", time.Now().UTC().AddDate(0, 0, -31)).Error)
	_, err = runs.Record(db, runs.Entry{Operation: "list_visitors"})
	require.NoError(t, err)

	t.Run("Disabled retention keeps everything", func(t *testing.T) {
		require.NoError(t, jobs.NewCleanupJob(dbManager, testsupport.GetLogger(), 0).Run())

		remaining, err := runs.Recent(db, "", 10)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("Removes runs older than the retention period", func(t *testing.T) {
		require.NoError(t, jobs.NewCleanupJob(dbManager, testsupport.GetLogger(), 30).Run())

		remaining, err := runs.Recent(db, "", 10)
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}

func TestSchedulerLifecycle(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	cfg := &config.Config{JobIntervalSeconds: 3600, RunsRetentionDays: 30}

	scheduler, err := jobs.NewScheduler(testsupport.NewTestDBManager(db), testsupport.GetLogger(), cfg)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start())
	assert.True(t, scheduler.IsRunning())
	require.NoError(t, scheduler.Start(), "second start is a no-op")

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
	require.NoError(t, scheduler.PruneRuns())
}
