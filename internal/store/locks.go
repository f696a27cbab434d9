package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/lock"
	"loaderengine/internal/models"
)

// LockStore implements lock.Store over the loader.loader_execution_lock
// table. loaderCode is the table's primary key, so a concurrent insert
// collision surfaces as a unique-violation (SQLSTATE 23505).
type LockStore struct {
	db *pgxpool.Pool
}

// NewLockStore builds a LockStore.
func NewLockStore(db *pgxpool.Pool) *LockStore {
	return &LockStore{db: db}
}

func (s *LockStore) TryInsert(ctx context.Context, l models.LoaderExecutionLock) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO loader.loader_execution_lock (loader_code, lock_id, replica_name, acquired_at, released)
		VALUES ($1, $2, $3, $4, false)`,
		l.LoaderCode, l.LockID, l.ReplicaName, l.AcquiredAt)
	if isUniqueViolation(err) {
		return lock.ErrAlreadyLocked
	}
	if err != nil {
		return fmt.Errorf("store: insert lock: %w", err)
	}
	return nil
}

func (s *LockStore) Get(ctx context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error) {
	var l models.LoaderExecutionLock
	err := s.db.QueryRow(ctx, `
		SELECT loader_code, lock_id, replica_name, acquired_at, released, released_at
		FROM loader.loader_execution_lock WHERE loader_code = $1`, loaderCode,
	).Scan(&l.LoaderCode, &l.LockID, &l.ReplicaName, &l.AcquiredAt, &l.Released, &l.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LoaderExecutionLock{}, false, nil
	}
	if err != nil {
		return models.LoaderExecutionLock{}, false, fmt.Errorf("store: get lock: %w", err)
	}
	return l, true, nil
}

// ReclaimIfReleased swaps a released row for a fresh lock in one statement,
// so the transition is the database's own compare-and-swap rather than a
// read-then-write race in application code.
func (s *LockStore) ReclaimIfReleased(ctx context.Context, loaderCode string, newLock models.LoaderExecutionLock) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET lock_id = $2, replica_name = $3, acquired_at = $4, released = false, released_at = NULL
		WHERE loader_code = $1 AND released = true`,
		loaderCode, newLock.LockID, newLock.ReplicaName, newLock.AcquiredAt)
	if err != nil {
		return fmt.Errorf("store: reclaim lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lock.ErrAlreadyLocked
	}
	return nil
}

func (s *LockStore) Release(ctx context.Context, loaderCode, lockID string, releasedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = $3
		WHERE loader_code = $1 AND lock_id = $2 AND released = false`,
		loaderCode, lockID, releasedAt)
	if err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

func (s *LockStore) MarkStaleReleased(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE loader.loader_execution_lock
		SET released = true, released_at = now()
		WHERE released = false AND acquired_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("store: mark stale locks released: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *LockStore) DeleteReleasedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM loader.loader_execution_lock
		WHERE released = true AND released_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete released locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
