package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/data"
	"loaderengine/internal/models"
)

// HistoryStore persists LoadHistory rows. Rows are created RUNNING and
// never mutated after a terminal status is set (§3).
type HistoryStore struct {
	db *pgxpool.Pool
}

// NewHistoryStore builds a HistoryStore.
func NewHistoryStore(db *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{db: db}
}

// StartRun inserts a RUNNING LoadHistory row and returns its id.
func (s *HistoryStore) StartRun(ctx context.Context, h models.LoadHistory) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO loader.load_history
			(loader_code, source_database_code, status, start_time, query_from_time, query_to_time, replica_name)
		VALUES ($1, $2, 'RUNNING', $3, $4, $5, $6)
		RETURNING id`,
		h.LoaderCode, h.SourceDatabaseCode, h.StartTime, h.QueryFromTime, h.QueryToTime, h.ReplicaName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: start load history: %w", err)
	}
	return id, nil
}

// FinishSuccess sets the terminal SUCCESS markers for a run.
func (s *HistoryStore) FinishSuccess(ctx context.Context, id int64, endTime time.Time, durationSeconds float64, recordsLoaded, recordsIngested int, actualFrom, actualTo *time.Time) error {
	_, err := data.ExecWithRetry(ctx, s.db, `
		UPDATE loader.load_history SET
			status = 'SUCCESS', end_time = $2, duration_seconds = $3,
			records_loaded = $4, records_ingested = $5,
			actual_from_time = $6, actual_to_time = $7
		WHERE id = $1`,
		id, endTime, durationSeconds, recordsLoaded, recordsIngested, actualFrom, actualTo)
	return err
}

// FinishFailed sets the terminal FAILED markers for a run.
func (s *HistoryStore) FinishFailed(ctx context.Context, id int64, endTime time.Time, durationSeconds float64, errMsg, stackTrace string) error {
	_, err := data.ExecWithRetry(ctx, s.db, `
		UPDATE loader.load_history SET
			status = 'FAILED', end_time = $2, duration_seconds = $3,
			error_message = $4, stack_trace = $5
		WHERE id = $1`,
		id, endTime, durationSeconds, errMsg, stackTrace)
	return err
}

// ListForLoader returns execution history for a loader, newest first,
// consumed by the admin history query (§4.9/§6).
func (s *HistoryStore) ListForLoader(ctx context.Context, loaderCode string, limit int) ([]models.LoadHistory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, loader_code, source_database_code, status, start_time, end_time, duration_seconds,
			query_from_time, query_to_time, actual_from_time, actual_to_time,
			records_loaded, records_ingested, error_message, stack_trace, replica_name
		FROM loader.load_history
		WHERE loader_code = $1
		ORDER BY start_time DESC
		LIMIT $2`, loaderCode, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list load history: %w", err)
	}
	defer rows.Close()

	var out []models.LoadHistory
	for rows.Next() {
		var h models.LoadHistory
		if err := rows.Scan(
			&h.ID, &h.LoaderCode, &h.SourceDatabaseCode, &h.Status, &h.StartTime, &h.EndTime, &h.DurationSeconds,
			&h.QueryFromTime, &h.QueryToTime, &h.ActualFromTime, &h.ActualToTime,
			&h.RecordsLoaded, &h.RecordsIngested, &h.ErrorMessage, &h.StackTrace, &h.ReplicaName,
		); err != nil {
			return nil, fmt.Errorf("store: scan load history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteOlderThan deletes LoadHistory rows older than the retention cutoff,
// per the daily retention sweep (§4.8). Must run after the orphaned-signals
// cleanup to preserve traceability.
func (s *HistoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := data.ExecWithRetry(ctx, s.db, `DELETE FROM loader.load_history WHERE start_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete old load history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListFailedIDs returns the ids of FAILED LoadHistory rows, used by the
// orphaned-signals sweep to find signals to delete.
func (s *HistoryStore) ListFailedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM loader.load_history WHERE status = 'FAILED'`)
	if err != nil {
		return nil, fmt.Errorf("store: list failed load history ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
