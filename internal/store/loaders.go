// Package store holds the Postgres-backed repository implementations for
// the loader engine's sink schema (spec §6): loader, load_history,
// loader_execution_lock, signals_history, segment_combination.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/data"
	"loaderengine/internal/models"
	"loaderengine/internal/secrets"
)

// LoaderStore persists Loader definitions and runtime state in the
// loader.loader table. LoaderSQL is encrypted at rest; every read path
// decrypts it explicitly through the Box (spec §9), never via a transparent
// struct tag. No method of this store writes loaderSql.
type LoaderStore struct {
	db  *pgxpool.Pool
	box *secrets.Box
}

// NewLoaderStore builds a LoaderStore.
func NewLoaderStore(db *pgxpool.Pool, box *secrets.Box) *LoaderStore {
	return &LoaderStore{db: db, box: box}
}

const loaderColumns = `loader_code, loader_sql, source_db_code, min_interval_seconds,
	max_interval_seconds, max_query_period_seconds, max_parallel_executions,
	source_timezone_offset_hours, aggregation_period_seconds, purge_strategy, enabled,
	load_status, last_load_timestamp, failed_since, consecutive_zero_record_runs, approval_status`

// ListEligible returns every loader with approvalStatus=APPROVED and
// enabled=true, the scheduling candidate set per §4.8 step 2.
func (s *LoaderStore) ListEligible(ctx context.Context) ([]*models.Loader, error) {
	rows, err := s.db.Query(ctx, `SELECT `+loaderColumns+` FROM loader.loader
		WHERE approval_status = 'APPROVED' AND enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("store: list eligible loaders: %w", err)
	}
	defer rows.Close()
	return scanLoaders(rows, s.box)
}

// ListFailedSince returns loaders currently FAILED, for the recover-failed
// sweep (§4.8).
func (s *LoaderStore) ListFailedSince(ctx context.Context) ([]*models.Loader, error) {
	rows, err := s.db.Query(ctx, `SELECT `+loaderColumns+` FROM loader.loader
		WHERE load_status = 'FAILED'`)
	if err != nil {
		return nil, fmt.Errorf("store: list failed loaders: %w", err)
	}
	defer rows.Close()
	return scanLoaders(rows, s.box)
}

// Get returns a single loader by code.
func (s *LoaderStore) Get(ctx context.Context, loaderCode string) (*models.Loader, error) {
	row := s.db.QueryRow(ctx, `SELECT `+loaderColumns+` FROM loader.loader WHERE loader_code = $1`, loaderCode)
	l, err := scanLoaderRow(row, s.box)
	if err != nil {
		return nil, fmt.Errorf("store: get loader %s: %w", loaderCode, err)
	}
	return l, nil
}

func scanLoaders(rows pgx.Rows, box *secrets.Box) ([]*models.Loader, error) {
	var out []*models.Loader
	for rows.Next() {
		l, err := scanLoaderRow(rows, box)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoaderRow(row rowScanner, box *secrets.Box) (*models.Loader, error) {
	var l models.Loader
	var encryptedSQL string
	var purgeStrategy *string

	err := row.Scan(
		&l.LoaderCode, &encryptedSQL, &l.SourceDBCode, &l.MinIntervalSeconds,
		&l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds, &l.MaxParallelExecutions,
		&l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds, &purgeStrategy, &l.Enabled,
		&l.LoadStatus, &l.LastLoadTimestamp, &l.FailedSince, &l.ConsecutiveZeroRecordRuns, &l.ApprovalStatus,
	)
	if err != nil {
		return nil, err
	}
	if purgeStrategy != nil {
		l.PurgeStrategy = models.PurgeStrategy(*purgeStrategy)
	}

	plaintext, decErr := box.Decrypt(encryptedSQL)
	if decErr != nil {
		return nil, fmt.Errorf("decrypting loaderSql: %w", decErr)
	}
	l.LoaderSQL = plaintext

	return &l, nil
}

// MarkRunning transitions a loader to RUNNING at execution start.
func (s *LoaderStore) MarkRunning(ctx context.Context, loaderCode string) error {
	_, err := data.ExecWithRetry(ctx, s.db,
		`UPDATE loader.loader SET load_status = 'RUNNING' WHERE loader_code = $1`, loaderCode)
	return err
}

// MarkSuccess advances lastLoadTimestamp unconditionally and updates the
// zero-record-run counter per §4.7 step 6, returning the counter's new
// value so the caller can warn when it crosses maxZeroRecordRuns
// (spec.md: "log a warning when it exceeds maxZeroRecordRuns").
func (s *LoaderStore) MarkSuccess(ctx context.Context, loaderCode string, windowTo time.Time, recordsLoaded int) (int, error) {
	var zeroRecordRuns int
	err := s.db.QueryRow(ctx, `
		UPDATE loader.loader SET
			load_status = 'IDLE',
			failed_since = NULL,
			last_load_timestamp = $2,
			consecutive_zero_record_runs = CASE WHEN $3 = 0 THEN consecutive_zero_record_runs + 1 ELSE 0 END
		WHERE loader_code = $1
		RETURNING consecutive_zero_record_runs`,
		loaderCode, windowTo, recordsLoaded,
	).Scan(&zeroRecordRuns)
	if err != nil {
		return 0, err
	}
	return zeroRecordRuns, nil
}

// MarkFailed transitions a loader to FAILED without touching
// lastLoadTimestamp (§4.7 step 7).
func (s *LoaderStore) MarkFailed(ctx context.Context, loaderCode string, failedSince time.Time) error {
	_, err := data.ExecWithRetry(ctx, s.db,
		`UPDATE loader.loader SET load_status = 'FAILED', failed_since = $2 WHERE loader_code = $1`,
		loaderCode, failedSince)
	return err
}

// RecoverFailed resets loaders FAILED for longer than olderThan back to
// IDLE, per the §4.8 auto-recovery sweep.
func (s *LoaderStore) RecoverFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := data.ExecWithRetry(ctx, s.db, `
		UPDATE loader.loader SET load_status = 'IDLE', failed_since = NULL
		WHERE load_status = 'FAILED' AND failed_since < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// SetStatus implements the admin pause/resume contract (§4.9).
func (s *LoaderStore) SetStatus(ctx context.Context, loaderCode string, status models.LoadStatus) error {
	_, err := data.ExecWithRetry(ctx, s.db,
		`UPDATE loader.loader SET load_status = $2 WHERE loader_code = $1`, loaderCode, status)
	return err
}

// AdjustTimestamp overwrites lastLoadTimestamp per the §4.9 admin contract.
func (s *LoaderStore) AdjustTimestamp(ctx context.Context, loaderCode string, newTimestamp *time.Time) error {
	_, err := data.ExecWithRetry(ctx, s.db,
		`UPDATE loader.loader SET last_load_timestamp = $2 WHERE loader_code = $1`, loaderCode, newTimestamp)
	return err
}
