package sqlbind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loaderengine/internal/window"
)

func parseT(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func scenarioCWindow(t *testing.T) window.Window {
	return window.Window{
		From: parseT(t, "2024-02-10T09:00:00Z"),
		To:   parseT(t, "2024-02-10T10:00:00Z"),
	}
}

func TestBind_MySQLDatetimeFormat(t *testing.T) {
	sql := "SELECT * FROM t WHERE ts >= STR_TO_DATE(':fromTime', '%Y-%m-%d %H:%i')"
	out, err := Bind(sql, scenarioCWindow(t), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "STR_TO_DATE('2024-02-10 09:00'")
}

func TestBind_UnixEpochFormat(t *testing.T) {
	sql := "SELECT * FROM t WHERE ts >= UNIX_TIMESTAMP(:fromTime) AND ts < UNIX_TIMESTAMP(:toTime)"
	out, err := Bind(sql, scenarioCWindow(t), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "1707555600")
	assert.Contains(t, out, "1707559200")
}

func TestBind_DefaultISO8601Format(t *testing.T) {
	sql := "SELECT * FROM t WHERE ts >= :fromTime AND ts < :toTime"
	out, err := Bind(sql, scenarioCWindow(t), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "2024-02-10T09:00:00Z")
}

func TestBind_TimezoneOffsetShiftsBoundsBeforeFormatting(t *testing.T) {
	sql := "SELECT * FROM t WHERE ts >= :fromTime AND ts < :toTime"
	offset := 4
	out, err := Bind(sql, scenarioCWindow(t), &offset)
	require.NoError(t, err)
	assert.Contains(t, out, "2024-02-10T05:00:00Z")
	assert.Contains(t, out, "2024-02-10T06:00:00Z")
}

func TestBind_BlankSQLFails(t *testing.T) {
	_, err := Bind("   ", scenarioCWindow(t), nil)
	require.Error(t, err)
}

func TestBind_NoPlaceholdersIsNotAnError(t *testing.T) {
	out, err := Bind("SELECT 1", scenarioCWindow(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
}
