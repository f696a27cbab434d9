// Package models holds the core domain types shared across the loader
// scheduling, execution, and ingestion pipeline.
package models

import "time"

// LoadStatus is the runtime state of a Loader.
type LoadStatus string

const (
	LoadStatusIdle    LoadStatus = "IDLE"
	LoadStatusRunning LoadStatus = "RUNNING"
	LoadStatusFailed  LoadStatus = "FAILED"
	LoadStatusPaused  LoadStatus = "PAUSED"
)

// schedulingPriority orders loaders for dispatch per §4.8 step 3: IDLE
// first, then RUNNING, FAILED, and finally PAUSED (which never dispatches
// but sorts last for deterministic ordering).
func (s LoadStatus) schedulingPriority() int {
	switch s {
	case LoadStatusIdle:
		return 1
	case LoadStatusRunning:
		return 2
	case LoadStatusFailed:
		return 3
	case LoadStatusPaused:
		return 4
	default:
		return 5
	}
}

// SchedulingPriority exposes schedulingPriority for use by the scheduler's
// sort comparator.
func SchedulingPriority(s LoadStatus) int { return s.schedulingPriority() }

// ApprovalStatus gates whether a loader may ever be scheduled.
type ApprovalStatus string

const (
	ApprovalDraft     ApprovalStatus = "DRAFT"
	ApprovalPending   ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
)

// DBType identifies the wire protocol of a SourceDatabase.
type DBType string

const (
	DBTypeMySQL      DBType = "MYSQL"
	DBTypePostgreSQL DBType = "POSTGRESQL"
)

// PurgeStrategy describes how a loader's own data is retired; the core
// only threads the value through, consumption is out of scope (§1).
type PurgeStrategy string

// Loader is a configured extraction job.
type Loader struct {
	LoaderCode      string
	LoaderSQL       string // decrypted plaintext; encrypted at rest (§9)
	SourceDBCode    string
	MinIntervalSeconds    int
	MaxIntervalSeconds    int
	MaxQueryPeriodSeconds int
	MaxParallelExecutions int
	SourceTimezoneOffsetHours *int
	AggregationPeriodSeconds  int
	PurgeStrategy             PurgeStrategy
	Enabled                   bool

	LoadStatus               LoadStatus
	LastLoadTimestamp        *time.Time
	FailedSince               *time.Time
	ConsecutiveZeroRecordRuns int
	ApprovalStatus            ApprovalStatus
}

// Eligible reports whether the loader may ever be scheduled, per the
// invariant "only APPROVED and enabled loaders are eligible".
func (l *Loader) Eligible() bool {
	return l.ApprovalStatus == ApprovalApproved && l.Enabled
}

// Validate enforces the configuration invariants from §3.
func (l *Loader) Validate() error {
	if l.LoaderCode == "" || len(l.LoaderCode) > 64 {
		return ErrInvalidConfiguration("loaderCode must be non-empty and at most 64 characters")
	}
	if l.MinIntervalSeconds <= 0 {
		return ErrInvalidConfiguration("minIntervalSeconds must be > 0")
	}
	if l.MaxQueryPeriodSeconds <= 0 {
		return ErrInvalidConfiguration("maxQueryPeriodSeconds must be > 0")
	}
	if l.ApprovalStatus == ApprovalPending && l.Enabled {
		return ErrInvalidConfiguration("a loader pending approval cannot be enabled")
	}
	if (l.FailedSince != nil) != (l.LoadStatus == LoadStatusFailed) {
		return ErrInvalidConfiguration("failedSince must be set if and only if loadStatus is FAILED")
	}
	return nil
}

// Due reports whether the loader should be dispatched at `now`, per §4.8
// step 4: due if it has never run, or the minimum interval has elapsed.
func (l *Loader) Due(now time.Time) bool {
	if l.LastLoadTimestamp == nil {
		return true
	}
	elapsed := now.Sub(*l.LastLoadTimestamp)
	return elapsed >= time.Duration(l.MinIntervalSeconds)*time.Second
}
