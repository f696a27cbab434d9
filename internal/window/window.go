// Package window computes the half-open time range a loader's next
// execution should cover (spec §4.1).
package window

import (
	"time"

	"loaderengine/internal/models"
)

// Window is a half-open time range [From, To) with From < To.
type Window struct {
	From time.Time
	To   time.Time
}

// Compute derives the window for a loader's next run, given the current UTC
// time and the configured default lookback for never-run loaders.
//
// Algorithm (§4.1):
//  1. Determine fromTime: lastLoadTimestamp, unless null or in the future
//     (clock skew), in which case now-defaultLookback.
//  2. candidate toTime := fromTime + maxQueryPeriodSeconds.
//  3. toTime := min(candidate, now).
//  4. Reject if fromTime >= toTime.
func Compute(loader *models.Loader, now time.Time, defaultLookback time.Duration) (Window, error) {
	now = now.UTC()

	var from time.Time
	switch {
	case loader.LastLoadTimestamp == nil:
		from = now.Add(-defaultLookback)
	case loader.LastLoadTimestamp.After(now):
		from = now.Add(-defaultLookback)
	default:
		from = loader.LastLoadTimestamp.UTC()
	}

	candidate := from.Add(time.Duration(loader.MaxQueryPeriodSeconds) * time.Second)
	to := candidate
	if to.After(now) {
		to = now
	}

	if !from.Before(to) {
		return Window{}, models.ErrInvalidWindow(
			"computed window is empty or inverted: fromTime=" + from.Format(time.RFC3339) +
				" toTime=" + to.Format(time.RFC3339))
	}

	return Window{From: from, To: to}, nil
}
