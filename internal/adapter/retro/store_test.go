package retro

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRow struct {
	featureID int64
	at        time.Time
	flow      float64
}

func seedRetroDB(t *testing.T, rows []sampleRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "retro.duckdb")
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE chrtout (feature_id BIGINT, time TIMESTAMP, streamflow DOUBLE)`)
	require.NoError(t, err)

	for _, row := range rows {
		_, err = db.Exec(`INSERT INTO chrtout VALUES (?, ?, ?)`, row.featureID, row.at, row.flow)
		require.NoError(t, err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_SeriesSlice(t *testing.T) {
	start := time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC)

	path := seedRetroDB(t, []sampleRow{
		// Out of insert order to prove the query sorts.
		{featureID: 23894572, at: time.Date(1995, 2, 10, 6, 0, 0, 0, time.UTC), flow: 310.5},
		{featureID: 23894572, at: time.Date(1980, 1, 5, 12, 0, 0, 0, time.UTC), flow: 120.25},
		// Other segment, same window.
		{featureID: 999, at: time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC), flow: 55},
		// Outside the window on both sides.
		{featureID: 23894572, at: time.Date(1979, 2, 1, 0, 0, 0, 0, time.UTC), flow: 1},
		{featureID: 23894572, at: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), flow: 2},
	})

	store, err := Open(path, "chrtout", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	samples, err := store.SeriesSlice(context.Background(), 23894572, start, end)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.True(t, samples[0].Time.Before(samples[1].Time))
	assert.Equal(t, 120.25, samples[0].Flow)
	assert.Equal(t, 310.5, samples[1].Flow)
}

func TestStore_SeriesSlice_InclusiveBounds(t *testing.T) {
	start := time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC)

	path := seedRetroDB(t, []sampleRow{
		{featureID: 7, at: start, flow: 10},
		{featureID: 7, at: end, flow: 20},
	})

	store, err := Open(path, "chrtout", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	samples, err := store.SeriesSlice(context.Background(), 7, start, end)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestStore_SeriesSlice_UnknownSegment(t *testing.T) {
	path := seedRetroDB(t, []sampleRow{
		{featureID: 7, at: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), flow: 10},
	})

	store, err := Open(path, "chrtout", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	samples, err := store.SeriesSlice(context.Background(), 8,
		time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestStore_SeriesSlice_MissingTable(t *testing.T) {
	path := seedRetroDB(t, nil)

	store, err := Open(path, "absent_table", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SeriesSlice(context.Background(), 7,
		time.Date(1979, 10, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query retrospective series")
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "no-such-dir", "retro.duckdb"), "chrtout", discardLogger())
	require.Error(t, err)
}
