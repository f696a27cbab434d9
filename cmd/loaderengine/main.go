// Command loaderengine starts one replica of the distributed loader
// scheduling, execution, and ingestion service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"loaderengine/internal/config"
	"loaderengine/internal/data"
	"loaderengine/internal/executor"
	"loaderengine/internal/loaderops"
	"loaderengine/internal/lock"
	"loaderengine/internal/metrics"
	"loaderengine/internal/scheduler"
	"loaderengine/internal/secrets"
	"loaderengine/internal/segments"
	"loaderengine/internal/sources"
	"loaderengine/internal/store"
	"loaderengine/internal/transform"
)

func main() {
	cfg := config.Load()

	zapLog, err := newZapLogger(cfg)
	if err != nil {
		log.Fatalf("loaderengine: building logger: %v", err)
	}
	defer zapLog.Sync() //nolint:errcheck

	box, err := secrets.NewBox(cfg.MasterKeyHex)
	if err != nil {
		log.Fatalf("loaderengine: building secrets box: %v", err)
	}

	conn, cleanup := data.InitConn(true)
	defer cleanup()

	sourceStore := store.NewSourceStore(conn.DB, box)
	loaderStore := store.NewLoaderStore(conn.DB, box)
	historyStore := store.NewHistoryStore(conn.DB)
	lockStore := store.NewLockStore(conn.DB)
	signalsStore := store.NewSignalsStore(conn.DB)
	segmentStore := store.NewSegmentStore(conn.DB)

	ctx := context.Background()

	registry := sources.NewRegistry()
	sourceDBs, err := sourceStore.ListEnabled(ctx)
	if err != nil {
		zapLog.Fatal("loading source databases", zap.Error(err))
	}
	if err := registry.ReloadAll(ctx, sourceDBs); err != nil {
		zapLog.Fatal("building source connection pools", zap.Error(err))
	}

	reports := sources.InspectPermissions(ctx, zapLog, sourceDBs)
	if err := sources.EnforceStartupGate(zapLog, reports, cfg.IsProduction()); err != nil {
		zapLog.Fatal("startup gate refused to start", zap.Error(err))
	}

	segmentSvc := segments.NewService(segmentStore)
	transformer := transform.NewTransformer(segmentSvc)
	exec := executor.New(historyStore, loaderStore, signalsStore, registry, transformer, conn.ReplicaName, cfg.DefaultLookback, cfg.MaxZeroRecordRuns)

	lockMgr := lock.NewManager(lockStore, conn.ReplicaName, cfg.StaleLockThreshold)

	sched := scheduler.New(loaderStore, lockMgr, exec, cfg.TickInterval, cfg.ExecutionTimeout, cfg.WorkerPoolSize).
		WithDiagnostics(scheduler.NewDiagnostics(conn.Cache, cfg.TickInterval*5))
	cleanup2 := scheduler.NewCleanup(lockMgr, historyStore, signalsStore, scheduler.CleanupConfig{
		ReleasedLockRetention: cfg.ReleasedLockRetention,
		LoadHistoryRetention:  cfg.LoadHistoryRetention,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	sched.Start(runCtx, 5*time.Second)
	cleanup2.Start(runCtx)

	// Admin operations are wired here so an external admin surface (out of
	// scope per §1) would have a concrete Ops to call into.
	_ = loaderops.New(loaderStore, historyStore)

	metricsServer := metrics.NewServer(":9090")
	metricsServer.Start()

	zapLog.Info("loaderengine started",
		zap.String("replicaName", conn.ReplicaName),
		zap.String("environment", cfg.Environment))

	waitForShutdown()

	zapLog.Info("shutting down")
	cancelRun()
	sched.Stop()
	cleanup2.Stop()
	registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		zapLog.Warn("metrics server shutdown error", zap.Error(err))
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
