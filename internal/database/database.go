package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the durable local store for queued mutations, the session and
// preferences. A single instance is shared per agent; individual operations
// are atomic at the SQLite level.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens (or creates) the store at path and applies pending schema
// migrations. Safe to call on an already-initialized database. Use ":memory:"
// in tests.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrStorageUnavailable, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect to database: %v", ErrStorageUnavailable, err)
	}

	// A single connection keeps ":memory:" stores coherent and serializes
	// clear/remove against listings.
	db.SetMaxOpenConns(1)

	if err := migrate(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Local store initialized")
	return &DB{DB: db, logger: logger}, nil
}

// migration is one versioned schema step. The version list is append-only;
// already-applied versions are skipped, so upgrades never lose data.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

func migrations() []migration {
	return []migration{
		{version: 1, apply: createBaseSchema},
		{version: 2, apply: migrateLegacySessionKeys},
	}
}

func migrate(db *sql.DB, logger *zerolog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations() {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		logger.Info().Int("version", m.version).Msg("Schema migration applied")
	}
	return nil
}

func createBaseSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mutation_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            enqueued_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_mutation_queue_type ON mutation_queue(type)`,

		`CREATE TABLE IF NOT EXISTS session (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS preferences (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// migrateLegacySessionKeys copies rows stored under the pre-rename keys
// ("token", "agri_user") to the canonical ones, once, when the canonical keys
// are absent. Legacy rows are kept so an older agent can still read them.
func migrateLegacySessionKeys(tx *sql.Tx) error {
	copies := [][2]string{
		{"token", sessionKeyToken},
		{"agri_user", sessionKeyUser},
	}
	for _, c := range copies {
		query := `INSERT INTO session (key, value)
                  SELECT ?, value FROM session WHERE key = ?
                  AND NOT EXISTS (SELECT 1 FROM session WHERE key = ?)`
		if _, err := tx.Exec(query, c[1], c[0], c[1]); err != nil {
			return fmt.Errorf("copy legacy key %s: %w", c[0], err)
		}
	}
	return nil
}

// Ping verifies the store is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
