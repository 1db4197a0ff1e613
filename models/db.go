package models

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// DB is the local DuckDB database holding the sync queue, the key-value
// store, per-user sync state and the conflict audit trail.
// It is owned by a session and closed with it; there is no package-level handle.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex // serializes writers; DuckDB aborts conflicting transactions
}

// OpenDB opens (creating if needed) the database at path and runs migrations.
// An empty path opens an in-memory database, which is what the tests use.
func OpenDB(path string) (*DB, error) {
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, serr.Wrap(err, "failed to create data directory "+dir)
			}
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open database")
	}
	// A single connection keeps the in-memory database shared by all callers.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, serr.Wrap(err, "failed to ping database")
	}

	d := &DB{conn: conn, path: path}
	if err := d.migrate(); err != nil {
		_ = conn.Close()
		return nil, serr.Wrap(err, "failed to migrate database")
	}

	logger.Debug("Database opened", "path", d.displayPath())
	return d, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	if err := d.conn.Close(); err != nil {
		return serr.Wrap(err, "failed to close database")
	}
	return nil
}

// Conn exposes the raw handle for inspection tools and tests.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func (d *DB) displayPath() string {
	if d.path == "" {
		return ":memory:"
	}
	return d.path
}
