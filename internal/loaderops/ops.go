// Package loaderops implements the idempotent admin operations contract
// consumed by external admin surfaces (spec §4.9). The HTTP/CLI surface
// itself is out of scope (§1); these are the plain functions such a surface
// would call.
package loaderops

import (
	"context"
	"fmt"
	"time"

	"loaderengine/internal/models"
)

// LoaderRepo is the persistence seam the admin operations drive.
type LoaderRepo interface {
	Get(ctx context.Context, loaderCode string) (*models.Loader, error)
	SetStatus(ctx context.Context, loaderCode string, status models.LoadStatus) error
	AdjustTimestamp(ctx context.Context, loaderCode string, newTimestamp *time.Time) error
}

// HistoryRepo is the persistence seam for the history query operation.
type HistoryRepo interface {
	ListForLoader(ctx context.Context, loaderCode string, limit int) ([]models.LoadHistory, error)
}

// Ops implements the admin operations contract.
type Ops struct {
	loaders LoaderRepo
	history HistoryRepo
}

// New builds an Ops.
func New(loaders LoaderRepo, history HistoryRepo) *Ops {
	return &Ops{loaders: loaders, history: history}
}

// Pause sets status to PAUSED; a no-op if already PAUSED. RUNNING loaders
// complete their current execution first, since the scheduler never
// interrupts an in-flight task for a pause request.
func (o *Ops) Pause(ctx context.Context, loaderCode string) error {
	l, err := o.loaders.Get(ctx, loaderCode)
	if err != nil {
		return fmt.Errorf("loaderops: pause: %w", err)
	}
	if l.LoadStatus == models.LoadStatusPaused {
		return nil
	}
	if err := o.loaders.SetStatus(ctx, loaderCode, models.LoadStatusPaused); err != nil {
		return fmt.Errorf("loaderops: pause: %w", err)
	}
	return nil
}

// Resume transitions a PAUSED loader to IDLE. Fails with InvalidState
// otherwise; does not force immediate execution.
func (o *Ops) Resume(ctx context.Context, loaderCode string) error {
	l, err := o.loaders.Get(ctx, loaderCode)
	if err != nil {
		return fmt.Errorf("loaderops: resume: %w", err)
	}
	if l.LoadStatus != models.LoadStatusPaused {
		return models.ErrInvalidState(fmt.Sprintf("loader %s is not PAUSED (current status: %s)", loaderCode, l.LoadStatus))
	}
	if err := o.loaders.SetStatus(ctx, loaderCode, models.LoadStatusIdle); err != nil {
		return fmt.Errorf("loaderops: resume: %w", err)
	}
	return nil
}

// AdjustTimestamp overwrites lastLoadTimestamp. Moving it backwards causes
// replay from the new point; moving it forward skips ahead. Not
// transactional with the scheduler: an in-flight execution may still
// complete and write its own lastLoadTimestamp afterwards.
func (o *Ops) AdjustTimestamp(ctx context.Context, loaderCode string, newLastLoadTimestamp *time.Time) error {
	if err := o.loaders.AdjustTimestamp(ctx, loaderCode, newLastLoadTimestamp); err != nil {
		return fmt.Errorf("loaderops: adjustTimestamp: %w", err)
	}
	return nil
}

// Status returns the current loader definition and runtime state.
func (o *Ops) Status(ctx context.Context, loaderCode string) (*models.Loader, error) {
	l, err := o.loaders.Get(ctx, loaderCode)
	if err != nil {
		return nil, fmt.Errorf("loaderops: status: %w", err)
	}
	return l, nil
}

// History returns up to limit of the most recent LoadHistory rows for a
// loader, newest first.
func (o *Ops) History(ctx context.Context, loaderCode string, limit int) ([]models.LoadHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := o.history.ListForLoader(ctx, loaderCode, limit)
	if err != nil {
		return nil, fmt.Errorf("loaderops: history: %w", err)
	}
	return rows, nil
}
