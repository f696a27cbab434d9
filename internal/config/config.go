// Package config loads the engine's runtime configuration from the
// environment. There is no config-file parser; every knob in spec §6 maps
// to one env var with a documented default.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable recognized by the engine.
type Config struct {
	// Environment is "dev" or "prod"; gates the permission-inspector
	// startup behavior (fatal in prod, warn in dev).
	Environment string
	ReplicaName string

	// ExecutionTimeout is the hard per-loader-run deadline.
	ExecutionTimeout time.Duration

	// MaxZeroRecordRuns is the warning threshold for consecutive
	// zero-row successful runs.
	MaxZeroRecordRuns int

	// ReleasedLockRetention is how long released lock rows are kept
	// before the daily sweep deletes them.
	ReleasedLockRetention time.Duration

	// StaleLockThreshold is the age after which an unreleased lock is
	// presumed abandoned and reclaimed.
	StaleLockThreshold time.Duration

	// TickInterval is the scheduler main-loop period.
	TickInterval time.Duration

	// DefaultLookback is applied when a loader has never run.
	DefaultLookback time.Duration

	// LoadHistoryRetention is how long LoadHistory rows are kept.
	LoadHistoryRetention time.Duration

	// WorkerPoolSize bounds the scheduler's concurrent execution slots.
	WorkerPoolSize int64

	// MasterKeyHex is the nacl/secretbox key used for encrypt-on-write /
	// decrypt-on-read of loaderSql and source database passwords.
	MasterKeyHex string
}

// Load builds a Config from the environment, applying spec §6 defaults for
// anything unset.
func Load() *Config {
	return &Config{
		Environment:           normalizeEnvironment(getEnv("ENVIRONMENT", "dev")),
		ReplicaName:           getEnv("REPLICA_NAME", ""),
		ExecutionTimeout:      durationHours(getEnv("EXECUTION_TIMEOUT_HOURS", "4")),
		MaxZeroRecordRuns:     intEnv("LOADER_MAX_ZERO_RECORD_RUNS", 10),
		ReleasedLockRetention: durationDays(getEnv("LOCK_RELEASED_RETENTION_DAYS", "7")),
		StaleLockThreshold:    durationMinutes(getEnv("LOCK_STALE_THRESHOLD_MINUTES", "120")),
		TickInterval:          durationMillis(getEnv("SCHEDULER_TICK_INTERVAL_MS", "10000")),
		DefaultLookback:       durationHours(getEnv("SCHEDULER_DEFAULT_LOOKBACK_HOURS", "24")),
		LoadHistoryRetention:  durationDays(getEnv("LOAD_HISTORY_RETENTION_DAYS", "30")),
		WorkerPoolSize:        int64(intEnv("SCHEDULER_WORKER_POOL_SIZE", 8)),
		MasterKeyHex:          getEnv("LOADER_ENGINE_MASTER_KEY", ""),
	}
}

// IsProduction reports whether the permission-inspector startup gate should
// be fatal on a read-only violation.
func (c *Config) IsProduction() bool {
	return c.Environment == "prod"
}

func normalizeEnvironment(v string) string {
	switch v {
	case "prod", "production":
		return "prod"
	default:
		return "dev"
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func durationHours(raw string) time.Duration {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		n = 0
	}
	return time.Duration(n * float64(time.Hour))
}

func durationMinutes(raw string) time.Duration {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		n = 0
	}
	return time.Duration(n * float64(time.Minute))
}

func durationDays(raw string) time.Duration {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		n = 0
	}
	return time.Duration(n * 24 * float64(time.Hour))
}

func durationMillis(raw string) time.Duration {
	n, err := strconv.Atoi(raw)
	if err != nil {
		n = 0
	}
	return time.Duration(n) * time.Millisecond
}
