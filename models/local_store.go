package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rohanthewiz/serr"
)

// LocalStore is the device-local key-value store the tools read and write.
// Values are opaque strings; family records are JSON documents under "<family>:<id>".
type LocalStore struct {
	db *DB
}

const DDLCreateKVStoreTable = `
CREATE TABLE IF NOT EXISTS kv_store (
    key         VARCHAR PRIMARY KEY,
    value       VARCHAR NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
`

func NewLocalStore(db *DB) *LocalStore {
	return &LocalStore{db: db}
}

// Get returns the stored value and whether the key exists.
func (s *LocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var value string
	err := s.db.conn.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, serr.Wrap(err, "failed to read local value")
	}
	return value, true, nil
}

func (s *LocalStore) Set(ctx context.Context, key, value string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return serr.Wrap(err, "failed to write local value")
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *LocalStore) Remove(ctx context.Context, key string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return serr.Wrap(err, "failed to remove local value")
	}
	return nil
}

// Keys lists keys starting with prefix in lexical order. An empty prefix lists everything.
func (s *LocalStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	entries, err := s.entries(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

// Entries returns key/value pairs under prefix, ordered by key.
func (s *LocalStore) Entries(ctx context.Context, prefix string) (map[string]string, error) {
	entries, err := s.entries(ctx, prefix, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.key] = e.value
	}
	return out, nil
}

type kvEntry struct {
	key, value string
}

func (s *LocalStore) entries(ctx context.Context, prefix string, withValues bool) ([]kvEntry, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT key, value FROM kv_store WHERE starts_with(key, ?) ORDER BY key`, prefix)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list local keys")
	}
	defer rows.Close()

	var out []kvEntry
	for rows.Next() {
		var e kvEntry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, serr.Wrap(err, "failed to scan local entry")
		}
		if !withValues {
			e.value = ""
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "failed to iterate local entries")
	}
	return out, nil
}
