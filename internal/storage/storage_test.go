package storage

import (
	"testing"
	"time"

	"goldsight/internal/forecast"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeRun(createdAt time.Time, horizon int) ForecastRun {
	points := make([]forecast.Point, horizon)
	for i := range points {
		date := createdAt.AddDate(0, i+1, 0)
		points[i] = forecast.Point{
			Month:     date.Format("Jan 2006"),
			Date:      date,
			Price:     3300.50 + float64(i),
			Lower:     3210.50 + float64(i),
			Upper:     3390.50 + float64(i),
			ChangePct: 1.25,
		}
	}
	return ForecastRun{
		CreatedAt: createdAt,
		Scenario:  map[string]float64{"CPI": 320.58, "VIX": 18.57},
		Horizon:   horizon,
		Points:    points,
	}
}

func TestStore_StoreAndRecentRuns(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.StoreRun(makeRun(base.Add(time.Duration(i)*time.Minute), 6)))
	}

	runs, err := store.RecentRuns(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Newest first.
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))
	assert.True(t, runs[1].CreatedAt.After(runs[2].CreatedAt))

	// Round-trip preserves the points.
	assert.Len(t, runs[0].Points, 6)
	assert.Equal(t, 320.58, runs[0].Scenario["CPI"])
}

func TestStore_RecentRunsEmpty(t *testing.T) {
	store := newTestStore(t)

	runs, err := store.RecentRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStore_RunsInRange(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.StoreRun(makeRun(base.AddDate(0, 0, i), 3)))
	}

	runs, err := store.RunsInRange(base.AddDate(0, 0, 1), base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Oldest first within the range.
	assert.True(t, runs[0].CreatedAt.Before(runs[1].CreatedAt))
}

func TestStore_AssignsID(t *testing.T) {
	store := newTestStore(t)

	createdAt := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.StoreRun(makeRun(createdAt, 1)))

	runs, err := store.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].ID)
}

func TestStore_CloseIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Close())
}
