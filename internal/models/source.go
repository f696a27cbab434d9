package models

// SourceDatabase is a registered, queryable external database that loaders
// read from. Credentials are stored encrypted at rest (§9) and decrypted
// only at connection time by the source registry.
type SourceDatabase struct {
	SourceDBCode string
	DBType       DBType
	Host         string
	Port         int
	DatabaseName string
	Username     string
	Password     string // decrypted plaintext; encrypted at rest
	ReadOnly     bool
	Enabled      bool
}

// Validate checks the configuration invariants of a SourceDatabase
// descriptor. The source registry does not call it; it only rejects an
// unsupported DBType when opening a pool.
func (s *SourceDatabase) Validate() error {
	if s.SourceDBCode == "" {
		return ErrInvalidConfiguration("sourceDBCode must be non-empty")
	}
	if s.Host == "" {
		return ErrInvalidConfiguration("host must be non-empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return ErrInvalidConfiguration("port must be between 1 and 65535")
	}
	if s.DBType != DBTypeMySQL && s.DBType != DBTypePostgreSQL {
		return ErrInvalidConfiguration("dbType must be MYSQL or POSTGRESQL")
	}
	return nil
}
