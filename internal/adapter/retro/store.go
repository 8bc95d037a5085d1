package retro

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/cascadiahydro/flood-aep-etl/internal/domain"
)

// Store reads modeled streamflow series from a local DuckDB extract of the
// NWM retrospective (chrtout) archive. Flows are stored in m³/s.
type Store struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// Open opens the retrospective database. The handle is shared across every
// site of a run and closed when the run ends.
func Open(path, table string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open retrospective db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping retrospective db: %w", err)
	}
	return &Store{db: db, table: table, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SeriesSlice returns the flow samples for one model segment between start
// and end inclusive, ordered by time. An empty result with a nil error
// means the archive has no rows for the segment in the window.
func (s *Store) SeriesSlice(ctx context.Context, segmentID int64, start, end time.Time) ([]domain.FlowSample, error) {
	query := fmt.Sprintf(`
		SELECT time, streamflow
		FROM %s
		WHERE feature_id = ? AND time BETWEEN ? AND ?
		ORDER BY time
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, segmentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query retrospective series: %w", err)
	}
	defer rows.Close()

	var samples []domain.FlowSample
	for rows.Next() {
		var sample domain.FlowSample
		if err := rows.Scan(&sample.Time, &sample.Flow); err != nil {
			return nil, fmt.Errorf("scan retrospective sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retrospective series: %w", err)
	}
	return samples, nil
}
