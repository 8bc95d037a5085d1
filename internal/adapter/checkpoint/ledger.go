package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Ledger records the last completed site index per area so an interrupted
// batch can resume mid-list instead of re-fetching every site.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the ledger database, creating the tracking table when absent.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_ledger (
			area VARCHAR PRIMARY KEY,
			last_site_index BIGINT NOT NULL,
			site_id VARCHAR NOT NULL,
			run_id VARCHAR NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Load returns the last completed site index recorded for the area. found
// is false when the area has never checkpointed.
func (l *Ledger) Load(ctx context.Context, area string) (lastIndex int64, found bool, err error) {
	err = l.db.QueryRowContext(ctx,
		`SELECT last_site_index FROM batch_ledger WHERE area = ?`, area).Scan(&lastIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load ledger: %w", err)
	}
	return lastIndex, true, nil
}

// Save upserts the area's checkpoint after a site finishes, completed or
// skipped.
func (l *Ledger) Save(ctx context.Context, area string, siteIndex int64, siteID, runID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO batch_ledger (area, last_site_index, site_id, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (area) DO UPDATE SET
			last_site_index = excluded.last_site_index,
			site_id = excluded.site_id,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`, area, siteIndex, siteID, runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
