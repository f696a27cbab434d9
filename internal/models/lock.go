package models

import "time"

// LoaderExecutionLock is the cross-replica mutex row keyed by loaderCode.
// Invariant: at most one row per loaderCode with Released = false (§3).
type LoaderExecutionLock struct {
	LoaderCode  string
	LockID      string
	ReplicaName string
	AcquiredAt  time.Time
	Released    bool
	ReleasedAt  *time.Time
}

// IsStale reports whether the lock was acquired before the given threshold
// time and has not yet been released.
func (l *LoaderExecutionLock) IsStale(now time.Time, staleThreshold time.Duration) bool {
	if l.Released {
		return false
	}
	return now.Sub(l.AcquiredAt) >= staleThreshold
}
