package models

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// migrate creates the sync tables on a freshly opened database.
// Every statement is idempotent so it runs on each open.
func (d *DB) migrate() error {
	// Create sequences for auto-incrementing IDs in DuckDB
	sequences := []string{
		DDLCreateSyncQueueSequence,
		DDLCreateSyncConflictsSequence,
	}

	for _, seqSQL := range sequences {
		if _, err := d.conn.Exec(seqSQL); err != nil {
			logger.LogErr(err, "failed to create sequence", "sql", seqSQL)
			// Continue even if sequence exists
		}
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"sync_queue", DDLCreateSyncQueueTable},
		{"kv_store", DDLCreateKVStoreTable},
		{"sync_state", DDLCreateSyncStateTable},
		{"sync_conflicts", DDLCreateSyncConflictsTable},
	}

	for _, tbl := range tables {
		if _, err := d.conn.Exec(tbl.ddl); err != nil {
			return serr.Wrap(err, "failed to create "+tbl.name+" table")
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sync_conflicts_key ON sync_conflicts(entity_key)",
	}

	for _, idxSQL := range indexes {
		if _, err := d.conn.Exec(idxSQL); err != nil {
			logger.LogErr(err, "failed to create index", "sql", idxSQL)
		}
	}

	return nil
}
