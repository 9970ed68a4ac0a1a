package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// WorkspaceDir is the hidden directory holding the database and any
// workspace-local state.
const WorkspaceDir = ".taskboard"

const dbFile = "taskboard.db"

type Config struct {
	Workspace string
}

// Path returns the database file path for a workspace root.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, WorkspaceDir, dbFile)
}

// EnsureWorkspace creates the workspace state directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, WorkspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure workspace: %w", err)
	}
	return dir, nil
}

// Open opens the workspace database, creating the state directory if
// needed. Foreign keys are enforced and a busy timeout is set so a CLI
// invocation overlapping a running server queues instead of failing.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf(
		"file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		Path(cfg.Workspace),
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	// The driver serializes writers; one connection avoids SQLITE_BUSY
	// on overlapping transactions.
	conn.SetMaxOpenConns(1)
	return conn, nil
}
