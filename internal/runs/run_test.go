package runs_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlens/internal/runs"
	"visitorlens/internal/testsupport"
)

func TestRecord(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	t.Run("Stores degraded sub-reports and variants", func(t *testing.T) {
		run, err := runs.Record(db, runs.Entry{
			Operation:   "visitor_detail",
			StartDate:   "7daysAgo",
			EndDate:     "today",
			ResultCount: 1,
			Duration:    1500 * time.Millisecond,
			Degraded:    []string{"scroll", "clicks"},
			Variants:    map[string]string{"device": "desktop"},
		})
		require.NoError(t, err)
		assert.NotZero(t, run.ID)
		assert.Equal(t, int64(1500), run.DurationMs)

		summary, err := run.Summary()
		require.NoError(t, err)
		assert.Equal(t, []string{"clicks", "scroll"}, summary.Degraded)
		assert.Equal(t, map[string]string{"device": "desktop"}, summary.Variants)
	})

	t.Run("Stores the error text of failed runs", func(t *testing.T) {
		run, err := runs.Record(db, runs.Entry{Operation: "list_visitors", Err: errors.New("adapter unavailable")})
		require.NoError(t, err)
		assert.Equal(t, "adapter unavailable", run.Error)
	})

	t.Run("Requires an operation", func(t *testing.T) {
		_, err := runs.Record(db, runs.Entry{})
		assert.Error(t, err)
	})
}

func TestRecent(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	for _, op := range []string{"list_visitors", "power_users", "list_visitors"} {
		_, err := runs.Record(db, runs.Entry{Operation: op})
		require.NoError(t, err)
	}

	all, err := runs.Recent(db, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Greater(t, all[0].ID, all[2].ID, "newest run first")
	assert.Equal(t, []string{}, all[0].Degraded)

	listed, err := runs.Recent(db, "list_visitors", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	limited, err := runs.Recent(db, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPrune(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	old, err := runs.Record(db, runs.Entry{Operation: "trend"})
	require.NoError(t, err)
	require.NoError(t, db.Model(old).Update("created_at", time.Now().UTC().AddDate(0, 0, -40)).Error)

	_, err = runs.Record(db, runs.Entry{Operation: "trend"})
	require.NoError(t, err)

	removed, err := runs.Prune(db, time.Now().UTC().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := runs.Recent(db, "", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
