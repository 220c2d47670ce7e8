package storage

import (
	"context"

	"rental-scraper/models"
)

// CanonicalWriter is the interface any canonical dataset sink must satisfy.
// Writes are upserts by (city_code, listing_id); repeating a write never
// creates duplicates.
type CanonicalWriter interface {
	Write(records []*models.CanonicalRecord) error
	Close() error
}

// FailureWriter persists the per-run failure/skip report.
type FailureWriter interface {
	WriteFailures(runID string, failures []models.Failure) error
	Close() error
}

// FetchState is the subset of StateStore the fetch scheduler depends on.
type FetchState interface {
	Status(ctx context.Context, k models.TargetKey) (FetchStatus, error)
	MarkComplete(ctx context.Context, k models.TargetKey, httpStatus, attempts int) error
	MarkFailed(ctx context.Context, k models.TargetKey, permanent bool, attempts, httpStatus int, reason string) error
	Counts(ctx context.Context) (map[FetchStatus]int, error)
}

// CaptureWriter is the subset of CaptureStore the fetch scheduler depends on.
type CaptureWriter interface {
	Put(c *models.RawCapture) error
	Exists(k models.TargetKey) bool
}

var (
	_ CanonicalWriter = (*PostgresWriter)(nil)
	_ CanonicalWriter = (*DatasetWriter)(nil)
	_ FailureWriter   = (*CSVWriter)(nil)
	_ FetchState      = (*StateStore)(nil)
	_ CaptureWriter   = (*CaptureStore)(nil)
)
