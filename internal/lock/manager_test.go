package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/models"
)

// fakeStore is an in-memory, mutex-guarded Store double modeling the
// relational table's compare-and-swap semantics.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]models.LoaderExecutionLock
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]models.LoaderExecutionLock)}
}

func (f *fakeStore) TryInsert(_ context.Context, l models.LoaderExecutionLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[l.LoaderCode]; exists {
		return ErrAlreadyLocked
	}
	f.rows[l.LoaderCode] = l
	return nil
}

func (f *fakeStore) Get(_ context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[loaderCode]
	return l, ok, nil
}

func (f *fakeStore) ReclaimIfReleased(_ context.Context, loaderCode string, newLock models.LoaderExecutionLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[loaderCode]
	if ok && !existing.Released {
		return ErrAlreadyLocked
	}
	f.rows[loaderCode] = newLock
	return nil
}

func (f *fakeStore) Release(_ context.Context, loaderCode, lockID string, releasedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.rows[loaderCode]
	if !ok || existing.LockID != lockID || existing.Released {
		return nil
	}
	existing.Released = true
	t := releasedAt
	existing.ReleasedAt = &t
	f.rows[loaderCode] = existing
	return nil
}

func (f *fakeStore) MarkStaleReleased(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for code, l := range f.rows {
		if !l.Released && l.AcquiredAt.Before(olderThan) {
			l.Released = true
			now := time.Now().UTC()
			l.ReleasedAt = &now
			f.rows[code] = l
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteReleasedBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for code, l := range f.rows {
		if l.Released && l.ReleasedAt != nil && l.ReleasedAt.Before(cutoff) {
			delete(f.rows, code)
			n++
		}
	}
	return n, nil
}

func TestTryAcquire_SecondReplicaBlockedWhileLive(t *testing.T) {
	store := newFakeStore()
	m1 := NewManager(store, "replica-1", 2*time.Hour)
	m2 := NewManager(store, "replica-2", 2*time.Hour)

	_, ok1, err := m1.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	assert.True(t, ok1)

	_, ok2, err := m2.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestTryAcquire_AtMostOneSucceedsUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	const replicas = 16

	var wg sync.WaitGroup
	successes := make([]bool, replicas)

	for i := 0; i < replicas; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := NewManager(store, "replica", 2*time.Hour)
			_, ok, err := m.TryAcquire(context.Background(), "CONTENDED")
			require.NoError(t, err)
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTryAcquire_StaleLockIsReclaimed(t *testing.T) {
	store := newFakeStore()
	m1 := NewManager(store, "replica-1", 2*time.Hour)

	_, ok1, err := m1.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	require.True(t, ok1)

	// Force the lock to look stale, as if replica-1 crashed three hours ago.
	store.mu.Lock()
	row := store.rows["L1"]
	row.AcquiredAt = time.Now().UTC().Add(-3 * time.Hour)
	store.rows["L1"] = row
	store.mu.Unlock()

	m2 := NewManager(store, "replica-2", 2*time.Hour)
	_, ok2, err := m2.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	assert.True(t, ok2)
}

func TestRelease_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, "replica-1", 2*time.Hour)

	l, ok, err := m.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release(context.Background(), l))
	require.NoError(t, m.Release(context.Background(), l))
}

func TestCleanupStaleLocks_ReclaimsOldRows(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, "replica-1", 2*time.Hour)

	_, ok, err := m.TryAcquire(context.Background(), "L1")
	require.NoError(t, err)
	require.True(t, ok)

	store.mu.Lock()
	row := store.rows["L1"]
	row.AcquiredAt = time.Now().UTC().Add(-3 * time.Hour)
	store.rows["L1"] = row
	store.mu.Unlock()

	n, err := m.CleanupStaleLocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
