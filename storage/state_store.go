package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rental-scraper/models"
)

// FetchStatus is the durable outcome of fetching one target.
type FetchStatus string

const (
	StatusUnknown         FetchStatus = ""
	StatusComplete        FetchStatus = "complete"
	StatusFailedRetryable FetchStatus = "failed_retryable"
	StatusFailedPermanent FetchStatus = "failed_permanent"
)

// StateStore records which targets have been captured so an interrupted
// run can resume without repeating work.
type StateStore struct {
	db *sql.DB
}

// OpenStateStore opens (or creates) the SQLite state database at path.
func OpenStateStore(path string) (*StateStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("state: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("state: open: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY
	// between our own workers.
	db.SetMaxOpenConns(1)

	ss := &StateStore{db: db}
	if err := ss.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return ss, nil
}

func (ss *StateStore) migrate() error {
	_, err := ss.db.Exec(`
		CREATE TABLE IF NOT EXISTS fetch_state (
			city_code   TEXT     NOT NULL,
			listing_id  TEXT     NOT NULL,
			status      TEXT     NOT NULL,
			attempts    INTEGER  NOT NULL DEFAULT 0,
			http_status INTEGER  NOT NULL DEFAULT 0,
			last_error  TEXT     NOT NULL DEFAULT '',
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (city_code, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_fetch_state_status ON fetch_state(status);
	`)
	return err
}

// Status returns the recorded status for k, or StatusUnknown.
func (ss *StateStore) Status(ctx context.Context, k models.TargetKey) (FetchStatus, error) {
	var status string
	err := ss.db.QueryRowContext(ctx,
		`SELECT status FROM fetch_state WHERE city_code = ? AND listing_id = ?`,
		k.CityCode, k.ListingID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("state: status %s: %w", k, err)
	}
	return FetchStatus(status), nil
}

// MarkComplete records a successful capture.
func (ss *StateStore) MarkComplete(ctx context.Context, k models.TargetKey, httpStatus, attempts int) error {
	return ss.upsert(ctx, k, StatusComplete, attempts, httpStatus, "")
}

// MarkFailed records a failed target. Permanent failures are skipped by
// later runs unless a re-fetch is forced.
func (ss *StateStore) MarkFailed(ctx context.Context, k models.TargetKey, permanent bool, attempts, httpStatus int, reason string) error {
	status := StatusFailedRetryable
	if permanent {
		status = StatusFailedPermanent
	}
	return ss.upsert(ctx, k, status, attempts, httpStatus, reason)
}

func (ss *StateStore) upsert(ctx context.Context, k models.TargetKey, status FetchStatus, attempts, httpStatus int, lastErr string) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO fetch_state (city_code, listing_id, status, attempts, http_status, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (city_code, listing_id) DO UPDATE SET
			status      = excluded.status,
			attempts    = excluded.attempts,
			http_status = excluded.http_status,
			last_error  = excluded.last_error,
			updated_at  = excluded.updated_at
	`, k.CityCode, k.ListingID, string(status), attempts, httpStatus, lastErr, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("state: mark %s %s: %w", k, status, err)
	}
	return nil
}

// Counts returns the number of targets per status.
func (ss *StateStore) Counts(ctx context.Context) (map[FetchStatus]int, error) {
	rows, err := ss.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM fetch_state GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("state: counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[FetchStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("state: scan count: %w", err)
		}
		counts[FetchStatus(status)] = n
	}
	return counts, rows.Err()
}

func (ss *StateStore) Close() error {
	return ss.db.Close()
}
