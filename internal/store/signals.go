package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/models"
)

// SignalsStore persists SignalsHistory rows, the canonical observation
// records consumed downstream.
type SignalsStore struct {
	db *pgxpool.Pool
}

// NewSignalsStore builds a SignalsStore.
func NewSignalsStore(db *pgxpool.Pool) *SignalsStore {
	return &SignalsStore{db: db}
}

// BulkInsert persists all signals in one round trip via pgx's COPY-based
// batch path, stamping loadHistoryID on every row (nil for backfill runs).
func (s *SignalsStore) BulkInsert(ctx context.Context, signals []models.SignalsHistory, loadHistoryID *int64) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	rows := make([][]interface{}, len(signals))
	for i, sig := range signals {
		rows[i] = []interface{}{
			sig.LoaderCode, sig.LoadTimeStamp, sig.SegmentCode,
			sig.RecCount, sig.MaxVal, sig.MinVal, sig.AvgVal, sig.SumVal,
			sig.CreatedAt, loadHistoryID,
		}
	}

	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"signals", "signals_history"},
		[]string{"loader_code", "load_time_stamp", "segment_code", "rec_count",
			"max_val", "min_val", "avg_val", "sum_val", "created_at", "load_history_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("store: bulk insert signals: %w", err)
	}
	return int(n), nil
}

// DeleteByLoadHistoryIDs deletes signals referencing any of the given
// loadHistoryIds, the §4.8 hourly orphan-sweep mechanism.
func (s *SignalsStore) DeleteByLoadHistoryIDs(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM signals.signals_history WHERE load_history_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("store: delete orphaned signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
