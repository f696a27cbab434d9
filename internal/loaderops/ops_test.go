package loaderops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/models"
)

type fakeLoaderRepo struct {
	loader       *models.Loader
	statusSetTo  models.LoadStatus
	adjustedToTS *time.Time
}

func (f *fakeLoaderRepo) Get(context.Context, string) (*models.Loader, error) { return f.loader, nil }
func (f *fakeLoaderRepo) SetStatus(_ context.Context, _ string, status models.LoadStatus) error {
	f.statusSetTo = status
	f.loader.LoadStatus = status
	return nil
}
func (f *fakeLoaderRepo) AdjustTimestamp(_ context.Context, _ string, ts *time.Time) error {
	f.adjustedToTS = ts
	return nil
}

type fakeHistoryRepo struct{ rows []models.LoadHistory }

func (f *fakeHistoryRepo) ListForLoader(context.Context, string, int) ([]models.LoadHistory, error) {
	return f.rows, nil
}

func TestPause_IsNoOpWhenAlreadyPaused(t *testing.T) {
	repo := &fakeLoaderRepo{loader: &models.Loader{LoaderCode: "L1", LoadStatus: models.LoadStatusPaused}}
	ops := New(repo, &fakeHistoryRepo{})

	require.NoError(t, ops.Pause(context.Background(), "L1"))
	assert.Equal(t, models.LoadStatus(""), repo.statusSetTo)
}

func TestPause_SetsStatusWhenNotPaused(t *testing.T) {
	repo := &fakeLoaderRepo{loader: &models.Loader{LoaderCode: "L1", LoadStatus: models.LoadStatusIdle}}
	ops := New(repo, &fakeHistoryRepo{})

	require.NoError(t, ops.Pause(context.Background(), "L1"))
	assert.Equal(t, models.LoadStatusPaused, repo.statusSetTo)
}

func TestResume_FailsWhenNotPaused(t *testing.T) {
	repo := &fakeLoaderRepo{loader: &models.Loader{LoaderCode: "L1", LoadStatus: models.LoadStatusIdle}}
	ops := New(repo, &fakeHistoryRepo{})

	err := ops.Resume(context.Background(), "L1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStateKind)
}

func TestResume_TransitionsPausedToIdle(t *testing.T) {
	repo := &fakeLoaderRepo{loader: &models.Loader{LoaderCode: "L1", LoadStatus: models.LoadStatusPaused}}
	ops := New(repo, &fakeHistoryRepo{})

	require.NoError(t, ops.Resume(context.Background(), "L1"))
	assert.Equal(t, models.LoadStatusIdle, repo.statusSetTo)
}

func TestAdjustTimestamp_PassesThroughNilAndValue(t *testing.T) {
	repo := &fakeLoaderRepo{loader: &models.Loader{LoaderCode: "L1"}}
	ops := New(repo, &fakeHistoryRepo{})

	require.NoError(t, ops.AdjustTimestamp(context.Background(), "L1", nil))
	assert.Nil(t, repo.adjustedToTS)

	ts := time.Now().UTC()
	require.NoError(t, ops.AdjustTimestamp(context.Background(), "L1", &ts))
	assert.Equal(t, &ts, repo.adjustedToTS)
}
