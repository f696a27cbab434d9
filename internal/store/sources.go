package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"loaderengine/internal/models"
	"loaderengine/internal/secrets"
)

// SourceStore persists SourceDatabase connection descriptors. Password is
// encrypted at rest; decrypted explicitly here at read time (§9).
type SourceStore struct {
	db  *pgxpool.Pool
	box *secrets.Box
}

// NewSourceStore builds a SourceStore.
func NewSourceStore(db *pgxpool.Pool, box *secrets.Box) *SourceStore {
	return &SourceStore{db: db, box: box}
}

// ListEnabled returns every enabled SourceDatabase, used by the Source
// Registry's ReloadAll and the permission inspector's startup gate.
func (s *SourceStore) ListEnabled(ctx context.Context) ([]models.SourceDatabase, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source_db_code, db_type, host, port, database_name, username, password, read_only, enabled
		FROM config.source_database WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled source databases: %w", err)
	}
	defer rows.Close()

	var out []models.SourceDatabase
	for rows.Next() {
		var sdb models.SourceDatabase
		var encryptedPassword string
		if err := rows.Scan(&sdb.SourceDBCode, &sdb.DBType, &sdb.Host, &sdb.Port,
			&sdb.DatabaseName, &sdb.Username, &encryptedPassword, &sdb.ReadOnly, &sdb.Enabled); err != nil {
			return nil, fmt.Errorf("store: scan source database: %w", err)
		}
		plaintext, err := s.box.Decrypt(encryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("store: decrypting password for %s: %w", sdb.SourceDBCode, err)
		}
		sdb.Password = plaintext
		out = append(out, sdb)
	}
	return out, rows.Err()
}
