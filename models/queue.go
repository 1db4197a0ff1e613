package models

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Durable Queue
//
// Pending local mutations waiting to be uploaded. Rows live in DuckDB so they
// survive restarts. There is at most one row per logical key: enqueueing a key
// that is already pending replaces its value and metadata in place, keeping
// the row id and the retry count. Draining is FIFO on enqueued_at.
// ============================================================================

// DefaultMaxAttempts is the attempts threshold above which an item counts as failed.
const DefaultMaxAttempts = 5

// QueueMetadata describes a pending change.
type QueueMetadata struct {
	Encrypted  bool      `json:"encrypted"`
	Deleted    bool      `json:"deleted"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Salt       string    `json:"salt,omitempty"` // set with Encrypted
	IV         string    `json:"iv,omitempty"`   // set with Encrypted
}

// QueueItem is one pending change.
type QueueItem struct {
	ID          int64         `json:"id"`
	Key         string        `json:"key"`
	Value       string        `json:"value"`
	Metadata    QueueMetadata `json:"metadata"`
	Attempts    int           `json:"attempts"`
	LastAttempt *time.Time    `json:"last_attempt,omitempty"`
}

// DDL for the sync_queue table and its auto-increment sequence.

const DDLCreateSyncQueueSequence = `
CREATE SEQUENCE IF NOT EXISTS sync_queue_id_seq START 1;
`

const DDLCreateSyncQueueTable = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id            BIGINT PRIMARY KEY DEFAULT nextval('sync_queue_id_seq'),
    key           VARCHAR NOT NULL UNIQUE,
    value         VARCHAR,
    encrypted     BOOLEAN DEFAULT false,
    deleted       BOOLEAN DEFAULT false,
    salt          VARCHAR,
    iv            VARCHAR,
    enqueued_at   TIMESTAMP NOT NULL,
    attempts      INTEGER DEFAULT 0,
    last_attempt  TIMESTAMP
);
`

const queueColumns = `id, key, value, encrypted, deleted, salt, iv, enqueued_at, attempts, last_attempt`

// DurableQueue is the persistent FIFO of pending changes.
type DurableQueue struct {
	db *DB
}

// NewDurableQueue returns a queue backed by db.
func NewDurableQueue(db *DB) *DurableQueue {
	return &DurableQueue{db: db}
}

// Enqueue inserts or replaces the pending change for key.
// A replaced item keeps its ID and Attempts; EnqueuedAt is refreshed.
func (q *DurableQueue) Enqueue(ctx context.Context, key, value string, meta QueueMetadata) (*QueueItem, error) {
	if key == "" {
		return nil, serr.New("cannot enqueue a change with an empty key")
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	meta.EnqueuedAt = now
	if !meta.Encrypted {
		meta.Salt, meta.IV = "", ""
	}

	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, serr.Wrap(err, "failed to begin enqueue transaction")
	}
	defer func() { _ = tx.Rollback() }()

	item := &QueueItem{Key: key, Value: value, Metadata: meta}
	var lastAttempt sql.NullTime

	err = tx.QueryRowContext(ctx,
		`SELECT id, attempts, last_attempt FROM sync_queue WHERE key = ?`, key,
	).Scan(&item.ID, &item.Attempts, &lastAttempt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sync_queue (key, value, encrypted, deleted, salt, iv, enqueued_at, attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0)
			RETURNING id`,
			key, value, meta.Encrypted, meta.Deleted, nullString(meta.Salt), nullString(meta.IV), now,
		).Scan(&item.ID)
		if err != nil {
			return nil, serr.Wrap(err, "failed to insert queue item")
		}
	case err != nil:
		return nil, serr.Wrap(err, "failed to look up queue item")
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET value = ?, encrypted = ?, deleted = ?, salt = ?, iv = ?, enqueued_at = ?
			WHERE id = ?`,
			value, meta.Encrypted, meta.Deleted, nullString(meta.Salt), nullString(meta.IV), now, item.ID,
		)
		if err != nil {
			return nil, serr.Wrap(err, "failed to replace queue item")
		}
		if lastAttempt.Valid {
			t := lastAttempt.Time
			item.LastAttempt = &t
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, serr.Wrap(err, "failed to commit enqueue")
	}

	logger.Debug("Change enqueued", "key", key, "id", item.ID, "deleted", meta.Deleted, "attempts", item.Attempts)
	return item, nil
}

// Get returns the pending item for key, or nil when none is queued.
func (q *DurableQueue) Get(ctx context.Context, key string) (*QueueItem, error) {
	q.db.mu.RLock()
	defer q.db.mu.RUnlock()

	row := q.db.conn.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE key = ?`, key)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to get queue item")
	}
	return item, nil
}

// GetBatch returns up to limit items, oldest first.
func (q *DurableQueue) GetBatch(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	return q.query(ctx, `SELECT `+queueColumns+` FROM sync_queue
		ORDER BY enqueued_at ASC, id ASC LIMIT ?`, limit)
}

// RemoveBatch deletes the items with the given ids.
func (q *DurableQueue) RemoveBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	_, err := q.db.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return serr.Wrap(err, "failed to remove queue batch")
	}

	logger.Debug("Queue batch removed", "count", len(ids))
	return nil
}

// RemoveDelivered deletes uploaded items, skipping any that were re-enqueued
// after the batch was read. Such items carry a newer value that still has to go up.
func (q *DurableQueue) RemoveDelivered(ctx context.Context, items []QueueItem) (int, error) {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	removed := 0
	for _, item := range items {
		res, err := q.db.conn.ExecContext(ctx,
			`DELETE FROM sync_queue WHERE id = ? AND enqueued_at = ?`, item.ID, item.Metadata.EnqueuedAt)
		if err != nil {
			return removed, serr.Wrap(err, "failed to remove delivered item")
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			removed += int(n)
		} else if err == nil {
			logger.Debug("Delivered item was re-enqueued during upload, keeping it", "key", item.Key)
		}
	}
	return removed, nil
}

// IncrementAttempts bumps the retry count of one item and stamps LastAttempt.
func (q *DurableQueue) IncrementAttempts(ctx context.Context, id int64) error {
	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	_, err := q.db.conn.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		time.Now().UTC().Truncate(time.Microsecond), id)
	if err != nil {
		return serr.Wrap(err, "failed to increment queue attempts")
	}
	return nil
}

// Size returns the number of pending items.
func (q *DurableQueue) Size(ctx context.Context) (int, error) {
	q.db.mu.RLock()
	defer q.db.mu.RUnlock()

	var n int
	if err := q.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, serr.Wrap(err, "failed to count queue items")
	}
	return n, nil
}

// Keys returns the set of keys that have a pending change.
func (q *DurableQueue) Keys(ctx context.Context) (map[string]bool, error) {
	q.db.mu.RLock()
	defer q.db.mu.RUnlock()

	rows, err := q.db.conn.QueryContext(ctx, `SELECT key FROM sync_queue`)
	if err != nil {
		return nil, serr.Wrap(err, "failed to list queue keys")
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, serr.Wrap(err, "failed to scan queue key")
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// GetFailedItems returns items whose attempts reached maxAttempts.
func (q *DurableQueue) GetFailedItems(ctx context.Context, maxAttempts int) ([]QueueItem, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return q.query(ctx, `SELECT `+queueColumns+` FROM sync_queue
		WHERE attempts >= ? ORDER BY enqueued_at ASC, id ASC`, maxAttempts)
}

// RemoveFailedItems purges items whose attempts reached maxAttempts and reports how many went.
func (q *DurableQueue) RemoveFailedItems(ctx context.Context, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	q.db.mu.Lock()
	defer q.db.mu.Unlock()

	res, err := q.db.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE attempts >= ?`, maxAttempts)
	if err != nil {
		return 0, serr.Wrap(err, "failed to remove failed queue items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, serr.Wrap(err, "failed to count removed queue items")
	}

	if n > 0 {
		logger.Info("Purged failed sync items", "count", n, "max_attempts", maxAttempts)
	}
	return int(n), nil
}

func (q *DurableQueue) query(ctx context.Context, query string, args ...interface{}) ([]QueueItem, error) {
	q.db.mu.RLock()
	defer q.db.mu.RUnlock()

	rows, err := q.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query queue")
	}
	defer rows.Close()

	var items []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan queue item")
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, serr.Wrap(err, "failed to iterate queue items")
	}
	return items, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var (
		item        QueueItem
		value       sql.NullString
		salt, iv    sql.NullString
		lastAttempt sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Key, &value, &item.Metadata.Encrypted, &item.Metadata.Deleted,
		&salt, &iv, &item.Metadata.EnqueuedAt, &item.Attempts, &lastAttempt)
	if err != nil {
		return nil, err
	}
	item.Value = value.String
	item.Metadata.Salt = salt.String
	item.Metadata.IV = iv.String
	if lastAttempt.Valid {
		t := lastAttempt.Time
		item.LastAttempt = &t
	}
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
