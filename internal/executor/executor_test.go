package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/models"
	"loaderengine/internal/segments"
	"loaderengine/internal/transform"
)

type fakeHistory struct {
	startCalls  []models.LoadHistory
	finishedOK  bool
	finishedErr bool
}

func (f *fakeHistory) StartRun(_ context.Context, h models.LoadHistory) (int64, error) {
	f.startCalls = append(f.startCalls, h)
	return 1, nil
}
func (f *fakeHistory) FinishSuccess(context.Context, int64, time.Time, float64, int, int, *time.Time, *time.Time) error {
	f.finishedOK = true
	return nil
}
func (f *fakeHistory) FinishFailed(context.Context, int64, time.Time, float64, string, string) error {
	f.finishedErr = true
	return nil
}

type fakeLoaders struct {
	running        bool
	success        bool
	failed         bool
	zeroRecordRuns int
}

func (f *fakeLoaders) MarkRunning(context.Context, string) error { f.running = true; return nil }
func (f *fakeLoaders) MarkSuccess(context.Context, string, time.Time, int) (int, error) {
	f.success = true
	return f.zeroRecordRuns, nil
}
func (f *fakeLoaders) MarkFailed(context.Context, string, time.Time) error {
	f.failed = true
	return nil
}

type fakeSignals struct {
	inserted    []models.SignalsHistory
	lastHistory *int64
}

func (f *fakeSignals) BulkInsert(_ context.Context, signals []models.SignalsHistory, loadHistoryID *int64) (int, error) {
	f.inserted = append(f.inserted, signals...)
	f.lastHistory = loadHistoryID
	return len(signals), nil
}

type fakeRegistry struct {
	rows []map[string]interface{}
	err  error
}

func (f *fakeRegistry) RunQuery(context.Context, string, string) ([]map[string]interface{}, error) {
	return f.rows, f.err
}

type fakeSegmentStore struct{ next int }

func (f *fakeSegmentStore) FindCode(context.Context, string, segments.Tuple) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeSegmentStore) NextCode(context.Context, string) (int, error) {
	f.next++
	return f.next, nil
}
func (f *fakeSegmentStore) Insert(context.Context, string, int, segments.Tuple) error { return nil }

func newTestLoader() *models.Loader {
	return &models.Loader{
		LoaderCode:            "L1",
		LoaderSQL:             "SELECT * FROM t WHERE ts >= :fromTime AND ts < :toTime",
		SourceDBCode:          "SRC1",
		MinIntervalSeconds:    60,
		MaxQueryPeriodSeconds: 3600,
		Enabled:               true,
		ApprovalStatus:        models.ApprovalApproved,
	}
}

func TestRun_SuccessAdvancesAndRecordsHistory(t *testing.T) {
	history := &fakeHistory{}
	loaders := &fakeLoaders{}
	signals := &fakeSignals{}
	registry := &fakeRegistry{rows: []map[string]interface{}{
		{"timestamp": time.Now().UTC().Unix()},
	}}
	xf := transform.NewTransformer(segments.NewService(&fakeSegmentStore{}))

	ex := New(history, loaders, signals, registry, xf, "replica-test", 24*time.Hour, 0)

	err := ex.Run(context.Background(), newTestLoader())
	require.NoError(t, err)
	assert.True(t, loaders.running)
	assert.True(t, loaders.success)
	assert.True(t, history.finishedOK)
	assert.Len(t, signals.inserted, 1)
}

func TestRun_QueryFailureMarksFailed(t *testing.T) {
	history := &fakeHistory{}
	loaders := &fakeLoaders{}
	signals := &fakeSignals{}
	registry := &fakeRegistry{err: assertErr{}}
	xf := transform.NewTransformer(segments.NewService(&fakeSegmentStore{}))

	ex := New(history, loaders, signals, registry, xf, "replica-test", 24*time.Hour, 0)

	err := ex.Run(context.Background(), newTestLoader())
	require.Error(t, err)
	assert.True(t, loaders.failed)
	assert.True(t, history.finishedErr)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated source query failure" }

func TestRunBackfill_SuccessRecordsHistoryButNotLoaderState(t *testing.T) {
	history := &fakeHistory{}
	loaders := &fakeLoaders{}
	signals := &fakeSignals{}
	registry := &fakeRegistry{rows: []map[string]interface{}{
		{"timestamp": time.Now().UTC().Unix()},
	}}
	xf := transform.NewTransformer(segments.NewService(&fakeSegmentStore{}))

	ex := New(history, loaders, signals, registry, xf, "replica-test", 24*time.Hour, 0)

	from := time.Now().UTC().Add(-48 * time.Hour)
	to := from.Add(time.Hour)
	recordsLoaded, recordsIngested, err := ex.RunBackfill(context.Background(), newTestLoader(), from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, recordsLoaded)
	assert.Equal(t, 1, recordsIngested)

	// LoadHistory bookkeeping happened...
	require.Len(t, history.startCalls, 1)
	assert.True(t, history.finishedOK)
	// ...but loader runtime state was never touched.
	assert.False(t, loaders.running)
	assert.False(t, loaders.success)
	assert.False(t, loaders.failed)
	// ...and the produced signals still carry a nil LoadHistoryID.
	assert.Nil(t, signals.lastHistory)
}

func TestRun_SuccessAboveZeroRecordThresholdStillSucceeds(t *testing.T) {
	history := &fakeHistory{}
	loaders := &fakeLoaders{zeroRecordRuns: 11}
	signals := &fakeSignals{}
	registry := &fakeRegistry{rows: []map[string]interface{}{
		{"timestamp": time.Now().UTC().Unix()},
	}}
	xf := transform.NewTransformer(segments.NewService(&fakeSegmentStore{}))

	ex := New(history, loaders, signals, registry, xf, "replica-test", 24*time.Hour, 10)

	err := ex.Run(context.Background(), newTestLoader())
	require.NoError(t, err)
	assert.True(t, loaders.success)
	assert.True(t, history.finishedOK)
}

func TestRunBackfill_QueryFailureMarksHistoryFailedOnly(t *testing.T) {
	history := &fakeHistory{}
	loaders := &fakeLoaders{}
	signals := &fakeSignals{}
	registry := &fakeRegistry{err: assertErr{}}
	xf := transform.NewTransformer(segments.NewService(&fakeSegmentStore{}))

	ex := New(history, loaders, signals, registry, xf, "replica-test", 24*time.Hour, 0)

	from := time.Now().UTC().Add(-48 * time.Hour)
	to := from.Add(time.Hour)
	_, _, err := ex.RunBackfill(context.Background(), newTestLoader(), from, to)
	require.Error(t, err)
	assert.True(t, history.finishedErr)
	assert.False(t, loaders.failed)
}
