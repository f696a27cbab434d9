package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/segments"
)

// memStore is a minimal segments.Store double for exercising the
// transformer without a database.
type memStore struct {
	rows map[string]int
	next int
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]int), next: 1} }

func (m *memStore) FindCode(_ context.Context, loaderCode string, tuple segments.Tuple) (int, bool, error) {
	code, ok := m.rows[loaderCode+"|"+tupleKey(tuple)]
	return code, ok, nil
}

func (m *memStore) NextCode(_ context.Context, _ string) (int, error) {
	c := m.next
	m.next++
	return c, nil
}

func (m *memStore) Insert(_ context.Context, loaderCode string, code int, tuple segments.Tuple) error {
	m.rows[loaderCode+"|"+tupleKey(tuple)] = code
	return nil
}

func tupleKey(t segments.Tuple) string {
	s := ""
	for _, v := range t {
		if v == nil {
			s += "<nil>|"
		} else {
			s += *v + "|"
		}
	}
	return s
}

func TestTransform_ScenarioD_TimezoneOffsetRoundTrip(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	offset := 4

	result := QueryResult{
		Rows: []Row{
			{"timestamp": "2024-02-10T05:30:00Z"},
		},
	}

	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	signals, err := xf.Transform(context.Background(), "L1", result, &offset, now)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	expected := time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)
	assert.True(t, expected.Equal(signals[0].LoadTimeStamp))
}

func TestTransform_MissingTimestampFails(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	result := QueryResult{Rows: []Row{{"value": 1}}}

	_, err := xf.Transform(context.Background(), "L1", result, nil, time.Now())
	require.Error(t, err)
}

func TestTransform_MillisVsSecondsAutoDetect(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	result := QueryResult{
		Rows: []Row{
			{"ts": int64(1707555600)},          // seconds
			{"ts": int64(1707555600000)},       // millis
		},
	}

	signals, err := xf.Transform(context.Background(), "L1", result, nil, time.Now())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, signals[0].LoadTimeStamp.Unix(), signals[1].LoadTimeStamp.Unix())
}

func TestTransform_EmptyResultYieldsEmptySlice(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	signals, err := xf.Transform(context.Background(), "L1", QueryResult{}, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestTransform_MetricParseFailureStoresNullNotAbort(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	result := QueryResult{
		Rows: []Row{
			{"timestamp": int64(1707555600), "max_val": "not-a-number"},
		},
	}

	signals, err := xf.Transform(context.Background(), "L1", result, nil, time.Now())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Nil(t, signals[0].MaxVal)
}

func TestTransform_SegmentInterningGroupsIdenticalTuples(t *testing.T) {
	xf := NewTransformer(segments.NewService(newMemStore()))
	result := QueryResult{
		Rows: []Row{
			{"timestamp": int64(1707555600), "seg1": "us-east"},
			{"timestamp": int64(1707555601), "segment1": "us-east"},
		},
	}

	signals, err := xf.Transform(context.Background(), "L1", result, nil, time.Now())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, signals[0].SegmentCode, signals[1].SegmentCode)
}
