package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	_ "github.com/jackc/pgx/v5/stdlib" // postgresql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// RWLocker is a lock used to serialize sqlite access, noop for postgres.
type RWLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}

// Store implements credential, registry and flag storage using SQLite or PostgreSQL.
type Store struct {
	db     *sqlx.DB
	dbType DBType
	mu     RWLocker
}

// New creates a new Store with the given database URL.
// Automatically detects database type from URL:
// - postgres:// or postgresql:// -> PostgreSQL
// - everything else -> SQLite
func New(dbURL string) (*Store, error) {
	dbType := detectDBType(dbURL)

	var db *sqlx.DB
	var err error
	var locker RWLocker

	switch dbType {
	case DBTypePostgres:
		db, err = connectPostgres(dbURL)
		locker = noopLocker{}
	default:
		db, err = connectSQLite(dbURL)
		locker = &sync.RWMutex{}
	}

	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dbType: dbType, mu: locker}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Printf("[DEBUG] initialized %s store", s.dbTypeName())
	return s, nil
}

// detectDBType determines database type from URL.
func detectDBType(url string) DBType {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DBTypePostgres
	}
	return DBTypeSQLite
}

// connectSQLite establishes SQLite connection with pragmas.
func connectSQLite(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	// set pragmas for performance and reliability
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil { //nolint:noctx // init-time, no context available
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// limit connections for SQLite (single writer)
	db.SetMaxOpenConns(1)

	return db, nil
}

// connectPostgres establishes PostgreSQL connection.
func connectPostgres(dbURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// createSchema creates all tables if they don't exist.
func (s *Store) createSchema() error {
	ts := "DATETIME DEFAULT CURRENT_TIMESTAMP"
	if s.dbType == DBTypePostgres {
		ts = "TIMESTAMP DEFAULT NOW()"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			is_suspended BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			digest TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			role TEXT NOT NULL DEFAULT '',
			scopes TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at ` + ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS resource_policies (
			resource TEXT PRIMARY KEY,
			auth_profile TEXT,
			require_hmac BOOLEAN,
			ip_allowlist TEXT,
			updated_at ` + ts + `
		)`,
		`CREATE TABLE IF NOT EXISTS feature_flags (
			name TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at ` + ts + `
		)`,
	}
	for _, q := range schema {
		if _, err := s.db.Exec(q); err != nil { //nolint:noctx // init-time, no context available
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

// migrate runs database migrations for existing installations.
// adds missing columns that were introduced in later versions.
func (s *Store) migrate() error {
	hasLabel, err := s.hasColumn("api_keys", "label")
	if err != nil {
		return fmt.Errorf("failed to check label column: %w", err)
	}

	if !hasLabel {
		log.Printf("[INFO] migrating database: adding label column to api_keys table")
		alter := "ALTER TABLE api_keys ADD COLUMN label TEXT NOT NULL DEFAULT ''"
		if _, err := s.db.Exec(alter); err != nil { //nolint:noctx // init-time, no context available
			return fmt.Errorf("failed to add label column: %w", err)
		}
	}

	return nil
}

// hasColumn checks if a column exists in the given table.
func (s *Store) hasColumn(table, column string) (bool, error) {
	var query string
	switch s.dbType {
	case DBTypePostgres:
		query = `SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = $1 AND column_name = $2
		)`
	default:
		// sqlite: pragma table_info returns (cid, name, type, notnull, dflt_value, pk)
		var columns []struct {
			CID        int            `db:"cid"`
			Name       string         `db:"name"`
			Type       string         `db:"type"`
			NotNull    int            `db:"notnull"`
			DfltValue  sql.NullString `db:"dflt_value"`
			PrimaryKey int            `db:"pk"`
		}
		if err := s.db.Select(&columns, "PRAGMA table_info("+table+")"); err != nil {
			return false, fmt.Errorf("failed to get table info: %w", err)
		}
		for _, col := range columns {
			if col.Name == column {
				return true, nil
			}
		}
		return false, nil
	}

	var exists bool
	if err := s.db.Get(&exists, query, table, column); err != nil {
		return false, fmt.Errorf("failed to check column existence: %w", err)
	}
	return exists, nil
}

// dbTypeName returns human-readable database type name.
func (s *Store) dbTypeName() string {
	switch s.dbType {
	case DBTypePostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", s.dbTypeName(), err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// adoptQuery converts SQLite query syntax to PostgreSQL:
// - placeholders: ? → $1, $2, ...
// - case: excluded. → EXCLUDED.
func (s *Store) adoptQuery(query string) string {
	if s.dbType != DBTypePostgres {
		return query
	}

	query = strings.ReplaceAll(query, "excluded.", "EXCLUDED.")

	result := make([]byte, 0, len(query)+10)
	paramNum := 1
	for i := range len(query) {
		if query[i] != '?' {
			result = append(result, query[i])
			continue
		}
		result = append(result, '$')
		result = append(result, strconv.Itoa(paramNum)...)
		paramNum++
	}
	return string(result)
}
