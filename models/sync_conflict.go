package models

import (
	"context"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ============================================================================
// Sync Conflict Audit
//
// When the account rejects an uploaded change it returns its own version,
// which is applied locally (server wins). Resolution is automatic, but every
// conflict is persisted with a patch from the local value to the server value
// so unexpected data states can be diagnosed after the fact.
//
// Sensitive keys never have their values written to the audit table.
// ============================================================================

const (
	ResolutionServerWins = "server_wins"
	ResolutionDeleted    = "server_deleted"
	redactedValue        = "[redacted]"
)

// SyncConflict is one audited conflict.
type SyncConflict struct {
	ID          int64     `json:"id"`
	Key         string    `json:"key"`
	LocalValue  string    `json:"local_value"`
	ServerValue string    `json:"server_value"`
	Resolution  string    `json:"resolution"`
	Message     string    `json:"message,omitempty"`
	Patch       string    `json:"patch,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// DDL for the sync_conflicts table and its auto-increment sequence.

const DDLCreateSyncConflictsSequence = `
CREATE SEQUENCE IF NOT EXISTS sync_conflicts_id_seq START 1;
`

const DDLCreateSyncConflictsTable = `
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id            BIGINT PRIMARY KEY DEFAULT nextval('sync_conflicts_id_seq'),
    entity_key    VARCHAR NOT NULL,
    local_value   VARCHAR,
    server_value  VARCHAR,
    resolution    VARCHAR NOT NULL,
    message       VARCHAR,
    patch         VARCHAR,
    resolved_at   TIMESTAMP NOT NULL
);
`

type ConflictLog struct {
	db *DB
}

func NewConflictLog(db *DB) *ConflictLog {
	return &ConflictLog{db: db}
}

// DiffPatch renders a diffmatchpatch patch turning from into to.
func DiffPatch(from, to string) string {
	if from == to {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(from, to, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(from, diffs))
}

// Record persists a resolved conflict and returns it with its patch filled in.
// Audit failures are logged and never fail the sync pass.
func (c *ConflictLog) Record(ctx context.Context, key, localValue, serverValue, resolution, message string) SyncConflict {
	if IsSensitive(key) {
		localValue, serverValue = redactedValue, redactedValue
	}

	conflict := SyncConflict{
		Key:         key,
		LocalValue:  localValue,
		ServerValue: serverValue,
		Resolution:  resolution,
		Message:     message,
		Patch:       DiffPatch(localValue, serverValue),
		ResolvedAt:  time.Now().UTC(),
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	err := c.db.conn.QueryRowContext(ctx, `
		INSERT INTO sync_conflicts (entity_key, local_value, server_value, resolution, message, patch, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		key, localValue, serverValue, resolution, message, conflict.Patch, conflict.ResolvedAt,
	).Scan(&conflict.ID)
	if err != nil {
		logger.LogErr(err, "failed to insert sync conflict record",
			"key", key,
			"resolution", resolution,
		)
	}
	return conflict
}

// ListConflicts returns the most recent conflicts first.
func (c *ConflictLog) ListConflicts(ctx context.Context, limit int) ([]SyncConflict, error) {
	if limit <= 0 {
		limit = 50
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	rows, err := c.db.conn.QueryContext(ctx, `
		SELECT id, entity_key, COALESCE(local_value, ''), COALESCE(server_value, ''), resolution,
		       COALESCE(message, ''), COALESCE(patch, ''), resolved_at
		FROM sync_conflicts
		ORDER BY resolved_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query sync conflicts")
	}
	defer rows.Close()

	var out []SyncConflict
	for rows.Next() {
		var sc SyncConflict
		if err := rows.Scan(&sc.ID, &sc.Key, &sc.LocalValue, &sc.ServerValue, &sc.Resolution,
			&sc.Message, &sc.Patch, &sc.ResolvedAt); err != nil {
			return nil, serr.Wrap(err, "failed to scan sync conflict")
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating sync conflicts")
	}
	return out, nil
}
