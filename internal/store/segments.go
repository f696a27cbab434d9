package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/segments"
)

// SegmentStore implements segments.Store over the
// signals.segment_combination interning table, comparing the 10-tuple with
// null-equals-null via IS NOT DISTINCT FROM.
type SegmentStore struct {
	db *pgxpool.Pool
}

// NewSegmentStore builds a SegmentStore.
func NewSegmentStore(db *pgxpool.Pool) *SegmentStore {
	return &SegmentStore{db: db}
}

const segmentWhereTuple = `
	segment1 IS NOT DISTINCT FROM $2 AND segment2 IS NOT DISTINCT FROM $3 AND
	segment3 IS NOT DISTINCT FROM $4 AND segment4 IS NOT DISTINCT FROM $5 AND
	segment5 IS NOT DISTINCT FROM $6 AND segment6 IS NOT DISTINCT FROM $7 AND
	segment7 IS NOT DISTINCT FROM $8 AND segment8 IS NOT DISTINCT FROM $9 AND
	segment9 IS NOT DISTINCT FROM $10 AND segment10 IS NOT DISTINCT FROM $11`

func (s *SegmentStore) FindCode(ctx context.Context, loaderCode string, tuple segments.Tuple) (int, bool, error) {
	args := tupleArgs(loaderCode, tuple)
	var code int
	err := s.db.QueryRow(ctx, `
		SELECT segment_code FROM signals.segment_combination
		WHERE loader_code = $1 AND `+segmentWhereTuple, args...,
	).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: find segment code: %w", err)
	}
	return code, true, nil
}

func (s *SegmentStore) NextCode(ctx context.Context, loaderCode string) (int, error) {
	var next int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(segment_code), 0) + 1 FROM signals.segment_combination WHERE loader_code = $1`,
		loaderCode,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("store: next segment code: %w", err)
	}
	return next, nil
}

func (s *SegmentStore) Insert(ctx context.Context, loaderCode string, code int, tuple segments.Tuple) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO signals.segment_combination
			(loader_code, segment_code, segment1, segment2, segment3, segment4, segment5,
			 segment6, segment7, segment8, segment9, segment10)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		loaderCode, code, tuple[0], tuple[1], tuple[2], tuple[3], tuple[4],
		tuple[5], tuple[6], tuple[7], tuple[8], tuple[9])
	if isUniqueViolation(err) {
		return segments.ErrCollision
	}
	if err != nil {
		return fmt.Errorf("store: insert segment combination: %w", err)
	}
	return nil
}

func tupleArgs(loaderCode string, tuple segments.Tuple) []interface{} {
	args := make([]interface{}, 0, 11)
	args = append(args, loaderCode)
	for _, v := range tuple {
		args = append(args, v)
	}
	return args
}
