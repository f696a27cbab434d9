package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/models"
)

type fakeLoaderRepo struct {
	loaders []*models.Loader
}

func (f *fakeLoaderRepo) ListEligible(context.Context) ([]*models.Loader, error) { return f.loaders, nil }
func (f *fakeLoaderRepo) RecoverFailed(context.Context, time.Duration) (int, error) { return 0, nil }

type fakeLockAcquirer struct {
	mu      sync.Mutex
	granted map[string]bool
}

func newFakeLockAcquirer() *fakeLockAcquirer {
	return &fakeLockAcquirer{granted: make(map[string]bool)}
}

func (f *fakeLockAcquirer) TryAcquire(_ context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.granted[loaderCode] {
		return models.LoaderExecutionLock{}, false, nil
	}
	f.granted[loaderCode] = true
	return models.LoaderExecutionLock{LoaderCode: loaderCode}, true, nil
}
func (f *fakeLockAcquirer) Release(_ context.Context, l models.LoaderExecutionLock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.granted, l.LoaderCode)
	return nil
}
func (f *fakeLockAcquirer) CleanupStaleLocks(context.Context) (int, error)            { return 0, nil }
func (f *fakeLockAcquirer) PurgeReleased(context.Context, time.Duration) (int, error) { return 0, nil }

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeRunner) Run(_ context.Context, loader *models.Loader) error {
	f.mu.Lock()
	f.ran = append(f.ran, loader.LoaderCode)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) ranCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ran))
	copy(out, f.ran)
	return out
}

func TestTick_SkipsNotDueLoaders(t *testing.T) {
	now := time.Now().UTC()
	due := &models.Loader{LoaderCode: "DUE", MinIntervalSeconds: 60, LastLoadTimestamp: timePtr(now.Add(-2 * time.Minute))}
	notDue := &models.Loader{LoaderCode: "NOT_DUE", MinIntervalSeconds: 3600, LastLoadTimestamp: timePtr(now.Add(-1 * time.Minute))}

	repo := &fakeLoaderRepo{loaders: []*models.Loader{due, notDue}}
	locks := newFakeLockAcquirer()
	runner := &fakeRunner{}

	s := New(repo, locks, runner, time.Second, time.Minute, 4)
	s.tick(context.Background())

	waitFor(t, func() bool { return len(runner.ranCodes()) == 1 })
	assert.Equal(t, []string{"DUE"}, runner.ranCodes())
}

func TestTick_SkipsPausedLoaders(t *testing.T) {
	paused := &models.Loader{LoaderCode: "PAUSED_ONE", LoadStatus: models.LoadStatusPaused, MinIntervalSeconds: 60}
	repo := &fakeLoaderRepo{loaders: []*models.Loader{paused}}
	locks := newFakeLockAcquirer()
	runner := &fakeRunner{}

	s := New(repo, locks, runner, time.Second, time.Minute, 4)
	s.tick(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, runner.ranCodes())
}

func TestTick_SkipsWhenLockContended(t *testing.T) {
	loader := &models.Loader{LoaderCode: "CONTENDED"}
	repo := &fakeLoaderRepo{loaders: []*models.Loader{loader}}
	locks := newFakeLockAcquirer()
	locks.granted["CONTENDED"] = true // pretend another replica holds it
	runner := &fakeRunner{}

	s := New(repo, locks, runner, time.Second, time.Minute, 4)
	s.tick(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, runner.ranCodes())
}

func timePtr(t time.Time) *time.Time { return &t }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}
