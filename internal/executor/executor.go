// Package executor runs one loader end-to-end: window -> SQL -> query ->
// transform -> ingest -> history (spec §4.7). The start and finish steps
// are short, separate repository calls (the LoadHistory update and the
// loader-state update are each their own statement; no database
// transaction groups them), and no transaction spans the query and
// transform work in between, to avoid holding sink connections across a
// long-running source query (§9).
package executor

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"loaderengine/internal/metrics"
	"loaderengine/internal/models"
	"loaderengine/internal/sqlbind"
	"loaderengine/internal/transform"
	"loaderengine/internal/window"
)

// HistoryRepo is the persistence seam for LoadHistory start/finish markers.
type HistoryRepo interface {
	StartRun(ctx context.Context, h models.LoadHistory) (int64, error)
	FinishSuccess(ctx context.Context, id int64, endTime time.Time, durationSeconds float64, recordsLoaded, recordsIngested int, actualFrom, actualTo *time.Time) error
	FinishFailed(ctx context.Context, id int64, endTime time.Time, durationSeconds float64, errMsg, stackTrace string) error
}

// LoaderRepo is the persistence seam for loader runtime-state transitions.
// MarkSuccess returns the loader's new consecutive-zero-record-run count.
type LoaderRepo interface {
	MarkRunning(ctx context.Context, loaderCode string) error
	MarkSuccess(ctx context.Context, loaderCode string, windowTo time.Time, recordsLoaded int) (int, error)
	MarkFailed(ctx context.Context, loaderCode string, failedSince time.Time) error
}

// SignalsRepo is the persistence seam for bulk-inserting transformed signals.
type SignalsRepo interface {
	BulkInsert(ctx context.Context, signals []models.SignalsHistory, loadHistoryID *int64) (int, error)
}

// Registry is the source-query seam; satisfied by *sources.Registry.
type Registry interface {
	RunQuery(ctx context.Context, dbCode, sql string) ([]map[string]interface{}, error)
}

// Executor wires the persistence repos, source registry, and transformer
// together to run one loader end-to-end.
type Executor struct {
	history     HistoryRepo
	loaders     LoaderRepo
	signals     SignalsRepo
	registry    Registry
	transformer *transform.Transformer
	replicaName string

	defaultLookback   time.Duration
	maxZeroRecordRuns int
}

// New builds an Executor. maxZeroRecordRuns is the threshold past which a
// warning is logged after a zero-record success (spec.md: "log a warning
// when it exceeds maxZeroRecordRuns"); 0 disables the warning.
func New(history HistoryRepo, loaders LoaderRepo, signals SignalsRepo, registry Registry, transformer *transform.Transformer, replicaName string, defaultLookback time.Duration, maxZeroRecordRuns int) *Executor {
	return &Executor{
		history:           history,
		loaders:           loaders,
		signals:           signals,
		registry:          registry,
		transformer:       transformer,
		replicaName:       replicaName,
		defaultLookback:   defaultLookback,
		maxZeroRecordRuns: maxZeroRecordRuns,
	}
}

// Run executes one normal (non-backfill) loader pass.
func (e *Executor) Run(ctx context.Context, loader *models.Loader) error {
	now := time.Now().UTC()

	w, err := window.Compute(loader, now, e.defaultLookback)
	if err != nil {
		return fmt.Errorf("executor: computing window for %s: %w", loader.LoaderCode, err)
	}

	historyID, startErr := e.history.StartRun(ctx, models.LoadHistory{
		LoaderCode:         loader.LoaderCode,
		SourceDatabaseCode: loader.SourceDBCode,
		StartTime:          now,
		QueryFromTime:      w.From,
		QueryToTime:        w.To,
		ReplicaName:        e.replicaName,
	})
	if startErr != nil {
		return fmt.Errorf("executor: starting load history for %s: %w", loader.LoaderCode, startErr)
	}

	if err := e.loaders.MarkRunning(ctx, loader.LoaderCode); err != nil {
		return fmt.Errorf("executor: marking %s running: %w", loader.LoaderCode, err)
	}

	recordsLoaded, recordsIngested, runErr := e.runBody(ctx, loader, w, &historyID)

	duration := time.Since(now).Seconds()
	if runErr != nil {
		e.finishFailed(ctx, loader, historyID, duration, runErr)
		return runErr
	}

	if err := e.finishSuccess(ctx, loader, historyID, w, duration, recordsLoaded, recordsIngested); err != nil {
		return err
	}

	metrics.RecordExecution(loader.LoaderCode, "SUCCESS", duration, recordsLoaded, recordsIngested)
	return nil
}

// runBody executes steps 2-5 of §4.7: build SQL, run query, transform,
// ingest. None of this runs inside a database transaction.
func (e *Executor) runBody(ctx context.Context, loader *models.Loader, w window.Window, historyID *int64) (recordsLoaded, recordsIngested int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during execution: %v\n%s", models.ErrTransformationKind, r, debug.Stack())
		}
	}()

	sql, err := sqlbind.Bind(loader.LoaderSQL, w, loader.SourceTimezoneOffsetHours)
	if err != nil {
		return 0, 0, fmt.Errorf("executor: binding SQL: %w", err)
	}

	rows, err := e.registry.RunQuery(ctx, loader.SourceDBCode, sql)
	if err != nil {
		return 0, 0, fmt.Errorf("executor: running source query: %w", err)
	}
	recordsLoaded = len(rows)

	transformRows := make([]transform.Row, len(rows))
	for i, r := range rows {
		transformRows[i] = transform.Row(r)
	}

	signals, err := e.transformer.Transform(ctx, loader.LoaderCode, transform.QueryResult{
		QueryFrom: w.From,
		QueryTo:   w.To,
		Rows:      transformRows,
	}, loader.SourceTimezoneOffsetHours, time.Now().UTC())
	if err != nil {
		return recordsLoaded, 0, fmt.Errorf("executor: transforming rows: %w", err)
	}

	recordsIngested, err = e.signals.BulkInsert(ctx, signals, historyID)
	if err != nil {
		return recordsLoaded, 0, fmt.Errorf("executor: ingesting signals: %w", err)
	}

	return recordsLoaded, recordsIngested, nil
}

func (e *Executor) finishSuccess(ctx context.Context, loader *models.Loader, historyID int64, w window.Window, duration float64, recordsLoaded, recordsIngested int) error {
	endTime := time.Now().UTC()
	var actualFrom, actualTo *time.Time
	if recordsLoaded > 0 {
		actualFrom, actualTo = &w.From, &w.To
	}

	if err := e.history.FinishSuccess(ctx, historyID, endTime, duration, recordsLoaded, recordsIngested, actualFrom, actualTo); err != nil {
		return fmt.Errorf("executor: finishing load history for %s: %w", loader.LoaderCode, err)
	}
	zeroRecordRuns, err := e.loaders.MarkSuccess(ctx, loader.LoaderCode, w.To, recordsLoaded)
	if err != nil {
		return fmt.Errorf("executor: marking %s success: %w", loader.LoaderCode, err)
	}
	if e.maxZeroRecordRuns > 0 && zeroRecordRuns > e.maxZeroRecordRuns {
		log.Printf("executor: loader %s has returned zero records for %d consecutive runs (max %d)",
			loader.LoaderCode, zeroRecordRuns, e.maxZeroRecordRuns)
	}
	return nil
}

func (e *Executor) finishFailed(ctx context.Context, loader *models.Loader, historyID int64, duration float64, runErr error) {
	endTime := time.Now().UTC()
	if err := e.history.FinishFailed(ctx, historyID, endTime, duration, runErr.Error(), string(debug.Stack())); err != nil {
		// Best-effort: the original runErr is still returned to the caller.
		_ = err
	}
	if err := e.loaders.MarkFailed(ctx, loader.LoaderCode, endTime); err != nil {
		_ = err
	}
	metrics.RecordExecution(loader.LoaderCode, "FAILED", duration, 0, 0)
}

// RunBackfill runs the same pipeline against an operator-supplied window,
// outside normal scheduling (§9 open questions, GLOSSARY "Backfill"). It
// never touches lastLoadTimestamp or the loader's LoadStatus — those
// transitions only belong to scheduled executions — but it still opens and
// closes a LoadHistory row so the backfill and its outcome are visible in
// execution history. The produced signals still carry a nil LoadHistoryID
// (spec.md: "nullable for backfill"), so the hourly orphaned-signals sweep,
// which only matches signals referencing a FAILED LoadHistory row, can
// never delete them. Callers are expected to serialize backfills
// themselves; no execution lock is acquired here.
func (e *Executor) RunBackfill(ctx context.Context, loader *models.Loader, from, to time.Time) (recordsLoaded, recordsIngested int, err error) {
	now := time.Now().UTC()
	w := window.Window{From: from, To: to}

	historyID, startErr := e.history.StartRun(ctx, models.LoadHistory{
		LoaderCode:         loader.LoaderCode,
		SourceDatabaseCode: loader.SourceDBCode,
		StartTime:          now,
		QueryFromTime:      w.From,
		QueryToTime:        w.To,
		ReplicaName:        e.replicaName,
	})
	if startErr != nil {
		return 0, 0, fmt.Errorf("executor: backfill: starting load history for %s: %w", loader.LoaderCode, startErr)
	}

	// loadHistoryID passed to runBody is nil, not &historyID: the LoadHistory
	// row exists for bookkeeping, but backfill signals are never attributed
	// to it so the orphan sweep can't touch them.
	recordsLoaded, recordsIngested, runErr := e.runBody(ctx, loader, w, nil)

	duration := time.Since(now).Seconds()
	endTime := time.Now().UTC()

	if runErr != nil {
		if err := e.history.FinishFailed(ctx, historyID, endTime, duration, runErr.Error(), string(debug.Stack())); err != nil {
			_ = err
		}
		metrics.RecordExecution(loader.LoaderCode, "FAILED", duration, 0, 0)
		return recordsLoaded, recordsIngested, runErr
	}

	var actualFrom, actualTo *time.Time
	if recordsLoaded > 0 {
		actualFrom, actualTo = &w.From, &w.To
	}
	if err := e.history.FinishSuccess(ctx, historyID, endTime, duration, recordsLoaded, recordsIngested, actualFrom, actualTo); err != nil {
		return recordsLoaded, recordsIngested, fmt.Errorf("executor: backfill: finishing load history for %s: %w", loader.LoaderCode, err)
	}

	metrics.RecordExecution(loader.LoaderCode, "SUCCESS", duration, recordsLoaded, recordsIngested)
	return recordsLoaded, recordsIngested, nil
}
