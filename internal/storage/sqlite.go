package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The ledger file is the only coordination
// channel between the orchestrator and detached runner processes, so it must
// live on a local filesystem with working flock semantics.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := validateSQLiteFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas. busy_timeout matters
	// here: the runner and orchestrator write concurrently.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_ledger (
  task_id             TEXT PRIMARY KEY,
  project_path        TEXT NOT NULL,
  agent_kind          TEXT NOT NULL,
  model               TEXT,
  status              TEXT NOT NULL,
  content_fingerprint TEXT NOT NULL,
  created_at          TEXT NOT NULL,
  finished_at         TEXT,
  files_modified      JSON,
  summary             TEXT,
  error               TEXT,
  cli_output          TEXT,
  session_id          TEXT,
  session_port        INTEGER
);`,
		`CREATE INDEX IF NOT EXISTS task_ledger_project_status_idx ON task_ledger(project_path, status);`,
		`CREATE INDEX IF NOT EXISTS task_ledger_fingerprint_created_idx ON task_ledger(content_fingerprint, created_at);`,
		`CREATE INDEX IF NOT EXISTS task_ledger_created_at_idx ON task_ledger(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
