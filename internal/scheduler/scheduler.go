// Package scheduler runs the periodic loops described in spec §4.8: the
// main dispatch tick (which runs recover-failed at the start of every
// tick), and, in Cleanup, the stale-lock cleanup and retention/cleanup
// sweepers. The main tick and each sweeper own their own ticker goroutine.
package scheduler

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"loaderengine/internal/metrics"
	"loaderengine/internal/models"
)

// LoaderRepo is the seam over loader state used by the scheduler.
type LoaderRepo interface {
	ListEligible(ctx context.Context) ([]*models.Loader, error)
	RecoverFailed(ctx context.Context, olderThan time.Duration) (int, error)
}

// LockAcquirer is the seam over the cross-replica execution lock.
type LockAcquirer interface {
	TryAcquire(ctx context.Context, loaderCode string) (models.LoaderExecutionLock, bool, error)
	Release(ctx context.Context, l models.LoaderExecutionLock) error
	CleanupStaleLocks(ctx context.Context) (int, error)
	PurgeReleased(ctx context.Context, retention time.Duration) (int, error)
}

// Runner executes one loader run; satisfied by *executor.Executor.
type Runner interface {
	Run(ctx context.Context, loader *models.Loader) error
}

// recoverFailedThreshold is the §4.8 auto-recovery window: a loader FAILED
// for longer than this is reset to IDLE on the next main-loop tick.
const recoverFailedThreshold = 20 * time.Minute

// Scheduler drives the main dispatch tick and its cooperating sweepers.
type Scheduler struct {
	loaders LoaderRepo
	locks   LockAcquirer
	runner  Runner

	tickInterval time.Duration
	execTimeout  time.Duration

	sem *semaphore.Weighted

	diag *Diagnostics

	stop chan struct{}
}

// New builds a Scheduler. workerPoolSize bounds concurrent in-flight
// executions across this replica.
func New(loaders LoaderRepo, locks LockAcquirer, runner Runner, tickInterval, execTimeout time.Duration, workerPoolSize int64) *Scheduler {
	return &Scheduler{
		loaders:      loaders,
		locks:        locks,
		runner:       runner,
		tickInterval: tickInterval,
		execTimeout:  execTimeout,
		sem:          semaphore.NewWeighted(workerPoolSize),
		stop:         make(chan struct{}),
	}
}

// Start begins the main dispatch loop in the background, with the
// configured initial delay before the first tick.
func (s *Scheduler) Start(ctx context.Context, initialDelay time.Duration) {
	go func() {
		select {
		case <-time.After(initialDelay):
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the main dispatch loop. Running workers are allowed to finish
// (best-effort graceful shutdown, §5); held locks are reclaimed later by
// the stale-lock sweep, never released explicitly on shutdown.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: main loop tick panicked, continuing: %v", r)
		}
	}()

	if _, err := s.loaders.RecoverFailed(ctx, recoverFailedThreshold); err != nil {
		log.Printf("scheduler: recover-failed sweep error: %v", err)
	}

	loaders, err := s.loaders.ListEligible(ctx)
	if err != nil {
		log.Printf("scheduler: listing eligible loaders failed: %v", err)
		return
	}
	if len(loaders) == 0 {
		s.diag.publish(ctx, 0, 0)
		return
	}

	sort.SliceStable(loaders, func(i, j int) bool {
		return models.SchedulingPriority(loaders[i].LoadStatus) < models.SchedulingPriority(loaders[j].LoadStatus)
	})

	now := time.Now().UTC()
	dispatched := 0
	for _, loader := range loaders {
		if loader.LoadStatus == models.LoadStatusPaused {
			continue
		}
		if !loader.Due(now) {
			continue
		}
		s.dispatch(ctx, loader)
		dispatched++
	}
	s.diag.publish(ctx, len(loaders), dispatched)
}

func (s *Scheduler) dispatch(ctx context.Context, loader *models.Loader) {
	lk, acquired, err := s.locks.TryAcquire(ctx, loader.LoaderCode)
	if err != nil {
		log.Printf("scheduler: tryAcquire error for %s: %v", loader.LoaderCode, err)
		return
	}
	if !acquired {
		metrics.LockContention.WithLabelValues(loader.LoaderCode).Inc()
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		// Context cancelled while waiting for a worker slot; release the
		// lock immediately rather than leaving it held with no worker.
		_ = s.locks.Release(ctx, lk)
		return
	}

	metrics.RunningLoaders.Inc()
	go func() {
		defer s.sem.Release(1)
		defer metrics.RunningLoaders.Dec()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("scheduler: worker for %s panicked: %v", loader.LoaderCode, r)
			}
			if err := s.locks.Release(context.Background(), lk); err != nil {
				log.Printf("scheduler: releasing lock for %s failed: %v", loader.LoaderCode, err)
			}
		}()

		runCtx, cancel := context.WithTimeout(context.Background(), s.execTimeout)
		defer cancel()

		if err := s.runner.Run(runCtx, loader); err != nil {
			log.Printf("scheduler: execution of %s failed: %v", loader.LoaderCode, err)
		}
	}()
}
