// Package sources maintains a connection pool per configured source
// database and the read-only query executor and permission-inspector
// startup gate that sit in front of it (spec §4.3).
package sources

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver
	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/models"
)

// queryTimeout bounds a single runQuery call; distinct from the outer
// per-execution timeout enforced by the scheduler (§5).
const queryTimeout = 2 * time.Minute

// sourcePool is the per-dbType query seam: a pgx pool for POSTGRESQL, a
// database/sql handle (via go-sql-driver/mysql) for MYSQL.
type sourcePool interface {
	query(ctx context.Context, query string) ([]map[string]interface{}, error)
	close()
}

// Registry maintains dbCode -> pool, rebuilt atomically on ReloadAll.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]sourcePool
}

// NewRegistry builds an empty Registry; call ReloadAll before use.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]sourcePool)}
}

// ReloadAll rebuilds every pool from the current source-database records.
// Pools for dbCodes no longer present are closed; the replacement map is
// swapped in atomically so concurrent RunQuery calls never see a half-built
// registry. A "sources loaded" log line is written once the swap is done.
func (r *Registry) ReloadAll(ctx context.Context, sourceDBs []models.SourceDatabase) error {
	next := make(map[string]sourcePool, len(sourceDBs))

	for _, sdb := range sourceDBs {
		if !sdb.Enabled {
			continue
		}
		pool, err := openPool(ctx, sdb)
		if err != nil {
			closeAll(next)
			return fmt.Errorf("sources: opening pool for %s: %w", sdb.SourceDBCode, err)
		}
		next[sdb.SourceDBCode] = pool
	}

	r.mu.Lock()
	old := r.pools
	r.pools = next
	r.mu.Unlock()

	closeAll(old)
	log.Printf("sources: loaded %d source database pools", len(next))
	return nil
}

// openPool dials the pool for sdb, branching on DBType per spec §3: pgxpool
// for POSTGRESQL, database/sql + go-sql-driver/mysql for MYSQL.
func openPool(ctx context.Context, sdb models.SourceDatabase) (sourcePool, error) {
	switch sdb.DBType {
	case models.DBTypeMySQL:
		return openMySQLPool(ctx, sdb)
	case models.DBTypePostgreSQL:
		return openPostgresPool(ctx, sdb)
	default:
		return nil, fmt.Errorf("%w: unsupported dbType %q for %s", models.ErrInvalidConfigurationKind, sdb.DBType, sdb.SourceDBCode)
	}
}

func openPostgresPool(ctx context.Context, sdb models.SourceDatabase) (sourcePool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		sdb.Username, url.QueryEscape(sdb.Password), sdb.Host, sdb.Port, sdb.DatabaseName,
	)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgPool{pool: pool}, nil
}

func openMySQLPool(ctx context.Context, sdb models.SourceDatabase) (sourcePool, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		sdb.Username, sdb.Password, sdb.Host, sdb.Port, sdb.DatabaseName,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return &mysqlPool{db: db}, nil
}

func closeAll(pools map[string]sourcePool) {
	for _, p := range pools {
		p.close()
	}
}

// Pool returns the underlying pgx pool registered for dbCode, when dbCode
// names a POSTGRESQL source. MYSQL sources have no pgx pool; callers that
// need dbType-agnostic querying should use RunQuery instead.
func (r *Registry) Pool(dbCode string) (*pgxpool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[dbCode]
	if !ok {
		return nil, false
	}
	pg, ok := p.(*pgPool)
	if !ok {
		return nil, false
	}
	return pg.pool, true
}

// DBCodes returns every currently registered dbCode.
func (r *Registry) DBCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.pools))
	for code := range r.pools {
		codes = append(codes, code)
	}
	return codes
}

// RunQuery executes sql against dbCode as a single forward-only read,
// returning each row as a column-name-to-value map; the result set's
// column order is not preserved. The
// underlying driver (pgx or go-sql-driver/mysql) is selected by the
// dbCode's configured DBType, transparently to the caller.
func (r *Registry) RunQuery(ctx context.Context, dbCode, sqlText string) ([]map[string]interface{}, error) {
	r.mu.RLock()
	pool, ok := r.pools[dbCode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no pool registered for dbCode %q", models.ErrSourceUnavailableKind, dbCode)
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return pool.query(queryCtx, sqlText)
}

// Close closes every pool currently registered.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	closeAll(r.pools)
	r.pools = make(map[string]sourcePool)
}

// pgPool adapts *pgxpool.Pool to sourcePool.
type pgPool struct {
	pool *pgxpool.Pool
}

func (p *pgPool) close() { p.pool.Close() }

func (p *pgPool) query(ctx context.Context, sqlText string) ([]map[string]interface{}, error) {
	rows, err := p.pool.Query(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceQueryKind, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	colNames := make([]string, len(fields))
	for i, f := range fields {
		colNames[i] = string(f.Name)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%w: reading row: %v", models.ErrSourceQueryKind, err)
		}
		row := make(map[string]interface{}, len(colNames))
		for i, name := range colNames {
			if i < len(values) {
				row[name] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceQueryKind, err)
	}

	return results, nil
}

// mysqlPool adapts *sql.DB (go-sql-driver/mysql) to sourcePool.
type mysqlPool struct {
	db *sql.DB
}

func (m *mysqlPool) close() { m.db.Close() }

func (m *mysqlPool) query(ctx context.Context, sqlText string) ([]map[string]interface{}, error) {
	rows, err := m.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceQueryKind, err)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns: %v", models.ErrSourceQueryKind, err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(colNames))
		scanTargets := make([]interface{}, len(colNames))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("%w: reading row: %v", models.ErrSourceQueryKind, err)
		}
		row := make(map[string]interface{}, len(colNames))
		for i, name := range colNames {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceQueryKind, err)
	}

	return results, nil
}
