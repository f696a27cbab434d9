package data

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
)

// isConnectionError reports whether err looks like a dropped or refused
// connection to the sink database, as opposed to a query-shape problem
// that retrying would never fix.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// SQLSTATE classes that mean the connection itself is the problem:
	// 08xxx - Connection Exception
	// 57P01 - Admin Shutdown
	// 57P02 - Crash Shutdown
	// 57P03 - Cannot Connect Now
	if pgErr, ok := err.(*pgconn.PgError); ok {
		sqlState := pgErr.Code
		return strings.HasPrefix(sqlState, "08") ||
			sqlState == "57P01" ||
			sqlState == "57P02" ||
			sqlState == "57P03"
	}

	// Driver-level errors below pgconn's typed PgError don't carry a
	// SQLSTATE, so fall back to matching the wrapped message text.
	errStr := strings.ToLower(err.Error())
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"unexpected eof",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"timeout",
		"connection lost",
		"server closed the connection",
	}

	for _, keyword := range connectionKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}

	return false
}

// ExecWithRetry runs a write against the sink database with exponential
// backoff. In internal/store it is used by the loader and history
// repositories for their Exec-style writes (loader state transitions other
// than MarkSuccess, LoadHistory finish markers, the history retention
// delete); the lock and segment repositories, StartRun and MarkSuccess
// write directly without retry. An undefined-column error (SQLSTATE 42703)
// is never retried; a dropped connection gets more attempts and longer
// backoff than an ordinary transient failure, since sink-database restarts
// and network blips routinely outlast a handful of quick retries.
func ExecWithRetry(ctx context.Context, db *pgxpool.Pool, query string, args ...interface{}) (pgconn.CommandTag, error) {
	const maxAttempts = 5
	const maxConnectionAttempts = 10
	var backoff = 500 * time.Millisecond

	var tag pgconn.CommandTag
	var err error

	for attempt := 1; attempt <= maxConnectionAttempts; attempt++ {
		tag, err = db.Exec(ctx, query, args...)
		if err == nil {
			return tag, nil
		}

		if pgErr, ok := err.(*pgconn.PgError); ok {
			if pgErr.Code == "42703" {
				return tag, err
			}
		}

		if ctx.Err() != nil {
			return tag, ctx.Err()
		}

		isConnErr := isConnectionError(err)
		maxAttemptsForThisError := maxAttempts
		if isConnErr {
			maxAttemptsForThisError = maxConnectionAttempts
		}

		if attempt >= maxAttemptsForThisError {
			break
		}

		log.Printf("loaderengine: sink write failed (attempt %d/%d): %v", attempt, maxAttemptsForThisError, err)

		currentBackoff := backoff
		if isConnErr && attempt > maxAttempts {
			currentBackoff = backoff * 3
		}

		time.Sleep(currentBackoff)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return tag, err
}
