package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/models"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestCompute_FirstRunLookback(t *testing.T) {
	now := mustParse(t, "2024-02-10T12:00:00Z")
	loader := &models.Loader{
		LoaderCode:            "SALES_DAILY",
		MaxQueryPeriodSeconds: 86400,
	}

	w, err := Compute(loader, now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2024-02-09T12:00:00Z"), w.From)
	assert.Equal(t, mustParse(t, "2024-02-10T12:00:00Z"), w.To)
}

func TestCompute_CatchUpCapped(t *testing.T) {
	now := mustParse(t, "2024-02-01T00:00:00Z")
	last := mustParse(t, "2024-01-01T00:00:00Z")
	loader := &models.Loader{
		LoaderCode:            "CATCHUP",
		LastLoadTimestamp:     &last,
		MaxQueryPeriodSeconds: 432000,
	}

	w, err := Compute(loader, now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2024-01-01T00:00:00Z"), w.From)
	assert.Equal(t, mustParse(t, "2024-01-06T00:00:00Z"), w.To)
}

func TestCompute_ClockSkewTreatedAsNeverRun(t *testing.T) {
	now := mustParse(t, "2024-02-10T12:00:00Z")
	future := mustParse(t, "2024-02-11T00:00:00Z")
	loader := &models.Loader{
		LoaderCode:            "SKEWED",
		LastLoadTimestamp:     &future,
		MaxQueryPeriodSeconds: 86400,
	}

	w, err := Compute(loader, now, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, "2024-02-09T12:00:00Z"), w.From)
	assert.Equal(t, now, w.To)
}

func TestCompute_InvalidWindowWhenFromEqualsTo(t *testing.T) {
	now := mustParse(t, "2024-02-10T12:00:00Z")
	last := now
	loader := &models.Loader{
		LoaderCode:            "STUCK",
		LastLoadTimestamp:     &last,
		MaxQueryPeriodSeconds: 3600,
	}

	_, err := Compute(loader, now, 24*time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidWindowKind)
}
