package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rohanthewiz/serr"
)

// SyncStatus is the orchestrator's coarse state.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusOffline SyncStatus = "offline"
	StatusError   SyncStatus = "error"
)

// SyncState is what listeners receive on every transition.
type SyncState struct {
	Status    SyncStatus `json:"status"`
	QueueSize int        `json:"queue_size"`
	Error     string     `json:"error,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

func (s SyncState) clone() SyncState {
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	return s
}

func (s SyncState) equal(o SyncState) bool {
	if s.Status != o.Status || s.QueueSize != o.QueueSize || s.Error != o.Error {
		return false
	}
	if (s.LastSync == nil) != (o.LastSync == nil) {
		return false
	}
	return s.LastSync == nil || s.LastSync.Equal(*o.LastSync)
}

// SyncStats is a point-in-time summary for status surfaces.
type SyncStats struct {
	QueueSize   int        `json:"queue_size"`
	FailedCount int        `json:"failed_count"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	IsOnline    bool       `json:"is_online"`
}

// ============================================================================
// Persisted sync state
//
// One row per user. The last successful sync time survives restarts and tells
// a full pull whether this is the first migration for the user on this device.
// ============================================================================

const DDLCreateSyncStateTable = `
CREATE TABLE IF NOT EXISTS sync_state (
    user_id       VARCHAR PRIMARY KEY,
    session_id    VARCHAR,
    last_sync_at  TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL
);
`

type SyncStateStore struct {
	db *DB
}

func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// LastSync returns the last successful sync for userID, nil if there never was one.
func (s *SyncStateStore) LastSync(ctx context.Context, userID string) (*time.Time, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var last sql.NullTime
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT last_sync_at FROM sync_state WHERE user_id = ?`, userID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read last sync time")
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// SetLastSync records a successful sync for userID.
func (s *SyncStateStore) SetLastSync(ctx context.Context, userID, sessionID string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, session_id, last_sync_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = excluded.session_id,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at`,
		userID, sessionID, at.UTC(), now)
	if err != nil {
		return serr.Wrap(err, "failed to persist last sync time")
	}
	return nil
}
