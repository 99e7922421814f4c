package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/paperclip/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite database at baseDir/paperclip.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.paperclip.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "paperclip.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: capsules and modification requests
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS capsules (
		  id             TEXT PRIMARY KEY,
		  goal           TEXT NOT NULL,
		  values_json    TEXT,
		  tags_json      TEXT,
		  wallet_address TEXT,
		  public_snippet TEXT,
		  created_at     INTEGER NOT NULL,
		  updated_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_capsules_updated
		ON capsules(updated_at DESC);

		CREATE TABLE IF NOT EXISTS modification_requests (
		  id          TEXT PRIMARY KEY,
		  agent_id    TEXT NOT NULL,
		  capsule_id  TEXT NOT NULL REFERENCES capsules(id),
		  field       TEXT NOT NULL,
		  value_json  TEXT,
		  reason      TEXT,
		  status      TEXT NOT NULL,
		  reviewer    TEXT,
		  comment     TEXT,
		  created_at  INTEGER NOT NULL,
		  reviewed_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_modreq_capsule
		ON modification_requests(capsule_id, created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: agent memory (event log + reputation)
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS events (
		  id             INTEGER PRIMARY KEY AUTOINCREMENT,
		  agent_id       TEXT NOT NULL,
		  kind           TEXT NOT NULL,
		  correlation_id TEXT NOT NULL,
		  outcome        TEXT,
		  payload_json   TEXT NOT NULL,
		  created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_agent
		ON events(agent_id, id DESC);

		CREATE INDEX IF NOT EXISTS idx_events_correlation
		ON events(correlation_id);

		CREATE TABLE IF NOT EXISTS reputation (
		  agent_id TEXT PRIMARY KEY,
		  score    REAL NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
