package sources

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver

	"go.uber.org/zap"

	"loaderengine/internal/models"
)

// PermissionReport is the result of probing one source database for
// write access it should not have.
type PermissionReport struct {
	DBCode     string
	ReadOnly   bool
	Violations []string
}

// probeTable is a throwaway name unlikely to collide with real schema
// objects. For POSTGRESQL the whole probe, including CREATE, runs inside a
// transaction that is rolled back. For MYSQL, whose DDL statements
// implicitly commit, the CREATE probe runs standalone and is cleaned up
// with an explicit DROP TABLE; only the DML probes are rolled back.
const probeTable = "loader_engine_permission_probe"

// InspectPermissions probes each SourceDatabase for INSERT/UPDATE/DELETE/DDL
// privileges using database/sql (lib/pq for POSTGRESQL, go-sql-driver/mysql
// for MYSQL), since this is a one-off probe rather than a long-lived pooled
// connection. No state is ever left mutated: Postgres relies on a rolled-
// back transaction for every statement including CREATE; MySQL's CREATE is
// probed outside any transaction and explicitly dropped afterward.
func InspectPermissions(ctx context.Context, log *zap.Logger, sourceDBs []models.SourceDatabase) []PermissionReport {
	reports := make([]PermissionReport, 0, len(sourceDBs))
	for _, sdb := range sourceDBs {
		reports = append(reports, inspectOne(ctx, log, sdb))
	}
	return reports
}

// driverAndDSN selects the database/sql driver name and DSN for sdb's
// DBType (spec §3: dbType ∈ {MYSQL, POSTGRESQL}).
func driverAndDSN(sdb models.SourceDatabase) (string, string) {
	if sdb.DBType == models.DBTypeMySQL {
		return "mysql", fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
			sdb.Username, sdb.Password, sdb.Host, sdb.Port, sdb.DatabaseName,
		)
	}
	return "postgres", fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		sdb.Username, url.QueryEscape(sdb.Password), sdb.Host, sdb.Port, sdb.DatabaseName,
	)
}

func inspectOne(ctx context.Context, log *zap.Logger, sdb models.SourceDatabase) PermissionReport {
	report := PermissionReport{DBCode: sdb.SourceDBCode, ReadOnly: true}

	driver, dsn := driverAndDSN(sdb)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Warn("permission inspector: could not open connection", zap.String("dbCode", sdb.SourceDBCode), zap.Error(err))
		report.ReadOnly = false
		report.Violations = append(report.Violations, "connect failed: "+err.Error())
		return report
	}
	defer db.Close()

	if sdb.DBType == models.DBTypeMySQL {
		inspectMySQL(ctx, log, db, &report)
	} else {
		inspectPostgres(ctx, log, db, &report)
	}

	if !report.ReadOnly {
		log.Warn("permission inspector: source database is not read-only",
			zap.String("dbCode", sdb.SourceDBCode),
			zap.Strings("violations", report.Violations))
	}

	return report
}

// inspectPostgres runs every probe statement, including CREATE, inside a
// single transaction that is always rolled back: Postgres DDL is
// transactional, so the rollback alone undoes everything.
func inspectPostgres(ctx context.Context, log *zap.Logger, db *sql.DB, report *PermissionReport) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn("permission inspector: could not open probe transaction", zap.String("dbCode", report.DBCode), zap.Error(err))
		report.ReadOnly = false
		report.Violations = append(report.Violations, "begin tx failed: "+err.Error())
		return
	}
	defer tx.Rollback()

	probe := func(label, stmt string) {
		if _, err := tx.ExecContext(ctx, stmt); err == nil {
			report.ReadOnly = false
			report.Violations = append(report.Violations, label)
		}
	}

	probe("CREATE", fmt.Sprintf("CREATE TABLE %s (id int)", probeTable))
	probe("INSERT", fmt.Sprintf("INSERT INTO %s (id) VALUES (1)", probeTable))
	probe("UPDATE", fmt.Sprintf("UPDATE %s SET id = 2", probeTable))
	probe("DELETE", fmt.Sprintf("DELETE FROM %s", probeTable))
}

// inspectMySQL probes CREATE outside any transaction and drops the probe
// table explicitly afterward: MySQL's DDL statements implicitly commit, so
// a rollback would not undo a successful CREATE TABLE. INSERT/UPDATE/DELETE
// still run inside a rolled-back transaction (InnoDB DML is transactional).
func inspectMySQL(ctx context.Context, log *zap.Logger, db *sql.DB, report *PermissionReport) {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (id int)", probeTable)); err == nil {
		report.ReadOnly = false
		report.Violations = append(report.Violations, "CREATE")
		// Deferred before the transaction's own Rollback, so it runs after it.
		defer func() {
			if _, dropErr := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", probeTable)); dropErr != nil {
				log.Warn("permission inspector: could not drop mysql probe table", zap.String("dbCode", report.DBCode), zap.Error(dropErr))
			}
		}()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Warn("permission inspector: could not open probe transaction", zap.String("dbCode", report.DBCode), zap.Error(err))
		report.ReadOnly = false
		report.Violations = append(report.Violations, "begin tx failed: "+err.Error())
		return
	}
	defer tx.Rollback()

	probe := func(label, stmt string) {
		if _, err := tx.ExecContext(ctx, stmt); err == nil {
			report.ReadOnly = false
			report.Violations = append(report.Violations, label)
		}
	}

	probe("INSERT", fmt.Sprintf("INSERT INTO %s (id) VALUES (1)", probeTable))
	probe("UPDATE", fmt.Sprintf("UPDATE %s SET id = 2", probeTable))
	probe("DELETE", fmt.Sprintf("DELETE FROM %s", probeTable))
}

// EnforceStartupGate applies the report per spec §4.3: a violation is fatal
// when inProduction, a warning otherwise. Returns an error only in the fatal
// case; callers in cmd/loaderengine exit(1) on it.
func EnforceStartupGate(log *zap.Logger, reports []PermissionReport, inProduction bool) error {
	var violators []string
	for _, r := range reports {
		if !r.ReadOnly {
			violators = append(violators, r.DBCode)
		}
	}
	if len(violators) == 0 {
		return nil
	}

	if inProduction {
		log.Error("startup gate: source databases are not read-only, refusing to start", zap.Strings("dbCodes", violators))
		return fmt.Errorf("%w: source databases are writable: %v", models.ErrInvalidConfigurationKind, violators)
	}

	log.Warn("startup gate: source databases are not read-only, continuing because ENVIRONMENT=dev", zap.Strings("dbCodes", violators))
	return nil
}
