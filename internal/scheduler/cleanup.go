package scheduler

import (
	"context"
	"log"
	"time"

	"loaderengine/internal/metrics"
)

// HistoryRepo is the seam over LoadHistory used by the retention sweepers.
type HistoryRepo interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ListFailedIDs(ctx context.Context) ([]int64, error)
}

// SignalsRepo is the seam over SignalsHistory used by the orphan sweep.
type SignalsRepo interface {
	DeleteByLoadHistoryIDs(ctx context.Context, ids []int64) (int, error)
}

// CleanupConfig bounds the retention/cleanup sweepers' behavior.
type CleanupConfig struct {
	ReleasedLockRetention time.Duration
	LoadHistoryRetention  time.Duration
}

// Cleanup runs the stale-lock, released-lock-retention, orphaned-signals,
// and load-history-retention sweeps on their own independent timers (§4.8).
type Cleanup struct {
	locks   LockAcquirer
	history HistoryRepo
	signals SignalsRepo
	cfg     CleanupConfig

	stop chan struct{}
}

// NewCleanup builds a Cleanup.
func NewCleanup(locks LockAcquirer, history HistoryRepo, signals SignalsRepo, cfg CleanupConfig) *Cleanup {
	return &Cleanup{locks: locks, history: history, signals: signals, cfg: cfg, stop: make(chan struct{})}
}

// Start launches every sweeper goroutine. ctx cancellation or Stop() halts
// all of them.
func (c *Cleanup) Start(ctx context.Context) {
	go c.runEvery(ctx, 30*time.Minute, time.Minute, c.staleLockSweep)
	go c.runEvery(ctx, 24*time.Hour, untilNextClock(2, 0), c.releasedLockRetentionSweep)
	go c.runEvery(ctx, time.Hour, untilNextHour(), c.orphanedSignalsSweep)
	go c.runEvery(ctx, 24*time.Hour, untilNextClock(3, 0), c.loadHistoryRetentionSweep)
}

// Stop halts every sweeper goroutine.
func (c *Cleanup) Stop() {
	close(c.stop)
}

func (c *Cleanup) runEvery(ctx context.Context, interval, initialDelay time.Duration, fn func(context.Context)) {
	select {
	case <-time.After(initialDelay):
	case <-ctx.Done():
		return
	case <-c.stop:
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Cleanup) staleLockSweep(ctx context.Context) {
	n, err := c.locks.CleanupStaleLocks(ctx)
	if err != nil {
		log.Printf("scheduler: stale-lock cleanup failed: %v", err)
		return
	}
	if n > 0 {
		metrics.StaleLocksReclaimed.Add(float64(n))
		log.Printf("scheduler: reclaimed %d stale locks", n)
	}
}

func (c *Cleanup) releasedLockRetentionSweep(ctx context.Context) {
	n, err := c.locks.PurgeReleased(ctx, c.cfg.ReleasedLockRetention)
	if err != nil {
		log.Printf("scheduler: released-lock retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: purged %d released locks past retention", n)
	}
}

// orphanedSignalsSweep deletes SignalsHistory rows whose loadHistoryId
// refers to a FAILED LoadHistory row — the compensating mechanism for the
// non-transactional executor (§4.8, §9).
func (c *Cleanup) orphanedSignalsSweep(ctx context.Context) {
	ids, err := c.history.ListFailedIDs(ctx)
	if err != nil {
		log.Printf("scheduler: orphaned-signals sweep: listing failed history ids failed: %v", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	n, err := c.signals.DeleteByLoadHistoryIDs(ctx, ids)
	if err != nil {
		log.Printf("scheduler: orphaned-signals sweep failed: %v", err)
		return
	}
	if n > 0 {
		metrics.OrphanedSignalsDeleted.Add(float64(n))
		log.Printf("scheduler: deleted %d orphaned signals", n)
	}
}

// loadHistoryRetentionSweep deletes LoadHistory rows past retention. Must
// run after the orphaned-signals sweep in wall-clock terms to preserve
// traceability; the cron schedule (03:00 vs the hourly :00 orphan sweep)
// already guarantees that ordering in practice.
func (c *Cleanup) loadHistoryRetentionSweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.cfg.LoadHistoryRetention)
	n, err := c.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("scheduler: load-history retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: purged %d load history rows past retention", n)
	}
}

// untilNextClock returns the duration until the next occurrence of
// hour:minute UTC, used as the initial delay for daily sweepers so they
// land on their configured wall-clock time rather than drifting with
// process start time.
func untilNextClock(hour, minute int) time.Duration {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// untilNextHour returns the duration until the next top-of-hour UTC, used
// as the initial delay for the hourly orphaned-signals sweep.
func untilNextHour() time.Duration {
	now := time.Now().UTC()
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}
