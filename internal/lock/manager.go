// Package lock implements the cross-replica execution mutex described in
// spec §4.6: a compare-and-swap row in the relational sink store, not a
// distributed consensus protocol.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loaderengine/internal/models"
)

// Store is the persistence seam the Manager drives.
type Store interface {
	// TryInsert attempts to create a new lock row for loaderCode. Returns
	// ErrAlreadyLocked if a row already exists (regardless of its released
	// state); the Manager inspects and reacts to that existing row itself.
	TryInsert(ctx context.Context, lock models.LoaderExecutionLock) error

	// Get returns the current lock row for loaderCode, if any.
	Get(ctx context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error)

	// ReclaimIfReleased atomically replaces a released row with a new live
	// lock, succeeding only if the existing row was indeed released.
	// Returns ErrAlreadyLocked if another replica raced it first.
	ReclaimIfReleased(ctx context.Context, loaderCode string, newLock models.LoaderExecutionLock) error

	// Release marks lockID released, idempotently.
	Release(ctx context.Context, loaderCode, lockID string, releasedAt time.Time) error

	// MarkStaleReleased marks any unreleased lock rows older than
	// threshold as released, returning the count reclaimed.
	MarkStaleReleased(ctx context.Context, olderThan time.Time) (int, error)

	// DeleteReleasedBefore deletes released rows whose releasedAt predates
	// the retention cutoff.
	DeleteReleasedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ErrAlreadyLocked is returned by Store implementations when an insert or
// reclaim loses a race to a concurrent replica.
var ErrAlreadyLocked = fmt.Errorf("lock: a live lock row already exists")

// Manager implements tryAcquire/release/cleanup over Store.
type Manager struct {
	store          Store
	replicaName    string
	staleThreshold time.Duration
}

// NewManager builds a Manager for one replica.
func NewManager(store Store, replicaName string, staleThreshold time.Duration) *Manager {
	return &Manager{store: store, replicaName: replicaName, staleThreshold: staleThreshold}
}

// TryAcquire attempts to take the lock for loaderCode, returning (lock, true,
// nil) on success or (zero, false, nil) if another replica currently holds a
// live lock. It never returns a non-nil error for ordinary contention.
func (m *Manager) TryAcquire(ctx context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error) {
	now := time.Now().UTC()
	candidate := models.LoaderExecutionLock{
		LoaderCode:  loaderCode,
		LockID:      uuid.NewString(),
		ReplicaName: m.replicaName,
		AcquiredAt:  now,
		Released:    false,
	}

	err := m.store.TryInsert(ctx, candidate)
	if err == nil {
		return candidate, true, nil
	}
	if err != ErrAlreadyLocked {
		return models.LoaderExecutionLock{}, false, fmt.Errorf("lock: insert: %w", err)
	}

	existing, found, getErr := m.store.Get(ctx, loaderCode)
	if getErr != nil {
		return models.LoaderExecutionLock{}, false, fmt.Errorf("lock: read existing: %w", getErr)
	}
	if !found {
		// Row disappeared between our failed insert and the read (e.g. the
		// daily retention sweep); retry once by re-inserting.
		if retryErr := m.store.TryInsert(ctx, candidate); retryErr == nil {
			return candidate, true, nil
		}
		return models.LoaderExecutionLock{}, false, nil
	}

	if existing.IsStale(now, m.staleThreshold) || existing.Released {
		if !existing.Released {
			// Mark the abandoned row released first so the conditional
			// reclaim below can take it over.
			if _, staleErr := m.store.MarkStaleReleased(ctx, now.Add(-m.staleThreshold)); staleErr != nil {
				return models.LoaderExecutionLock{}, false, fmt.Errorf("lock: release stale: %w", staleErr)
			}
		}
		reclaimErr := m.store.ReclaimIfReleased(ctx, loaderCode, candidate)
		if reclaimErr == nil {
			return candidate, true, nil
		}
		if reclaimErr == ErrAlreadyLocked {
			return models.LoaderExecutionLock{}, false, nil
		}
		return models.LoaderExecutionLock{}, false, fmt.Errorf("lock: reclaim: %w", reclaimErr)
	}

	return models.LoaderExecutionLock{}, false, nil
}

// Release marks lock released. Idempotent: releasing an already-released
// lock is a no-op, not an error.
func (m *Manager) Release(ctx context.Context, l models.LoaderExecutionLock) error {
	if err := m.store.Release(ctx, l.LoaderCode, l.LockID, time.Now().UTC()); err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// CleanupStaleLocks reclaims any unreleased lock rows older than the stale
// threshold, returning the count reclaimed.
func (m *Manager) CleanupStaleLocks(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.staleThreshold)
	n, err := m.store.MarkStaleReleased(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("lock: cleanup stale: %w", err)
	}
	return n, nil
}

// PurgeReleased deletes released lock rows older than retention, keeping
// released rows around for audit until then.
func (m *Manager) PurgeReleased(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := m.store.DeleteReleasedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("lock: purge released: %w", err)
	}
	return n, nil
}
