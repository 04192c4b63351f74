// Package storage provides persistent storage for the hosting cache and
// the deposit-index replica, using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the CWP daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance, opening (and if needed creating)
// the SQLite database under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cwpd.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- One row per contract key the node is currently hosting. This is the
	-- on-disk mirror of the in-memory CWP cache, reloaded into the cache
	-- via LoadPersistedEntry/FinalizeLoading at startup.
	CREATE TABLE IF NOT EXISTS hosted_contracts (
		contract_id TEXT PRIMARY KEY,       -- 64 hex chars
		size_bytes INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,     -- unix seconds; GET/PUT/SUBSCRIBE only
		last_touched INTEGER NOT NULL,      -- unix seconds; also advanced by UPDATE
		access_type TEXT NOT NULL,          -- get, put, subscribe

		deposited_xlm INTEGER NOT NULL DEFAULT 0,
		last_oracle_check INTEGER,          -- unix seconds, NULL if never checked

		creator_pubkey TEXT,                -- 64 hex chars, NULL if absent
		creator_verified INTEGER NOT NULL DEFAULT 0,
		subscriber_pubkey TEXT,
		subscriber_verified INTEGER NOT NULL DEFAULT 0,
		recipient_pubkey TEXT,

		bytes_served INTEGER NOT NULL DEFAULT 0,
		bytes_consumed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_hosted_last_accessed ON hosted_contracts(last_accessed);
	CREATE INDEX IF NOT EXISTS idx_hosted_last_touched ON hosted_contracts(last_touched);

	-- Singleton replica of the deposit-index map this node has observed,
	-- written by SaveDepositState and read by LoadDepositState. cmd/cwpd
	-- does not call either, so the daemon does not rehydrate it at startup.
	CREATE TABLE IF NOT EXISTS deposit_index_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		last_ledger_seq INTEGER NOT NULL,
		deposits_json TEXT NOT NULL,        -- JSON array of depositmodel.Entry
		updated_at INTEGER NOT NULL
	);

	-- Generic key/value settings store, for small daemon-level state that
	-- doesn't warrant its own table.
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases. These are
// ALTER TABLE statements that add columns to existing tables; errors are
// ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		// placeholder for future ALTER TABLE additions
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
