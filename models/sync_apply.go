package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Applying server data locally
//
// Two paths write account data into the local store: conflicts returned by an
// upload (server wins) and full pulls. Both go straight to the LocalStore,
// never through SecureStorage, so applied server data is not queued again.
// ============================================================================

// applyConflicts writes the server version of every conflicting key that was
// part of this batch and returns how many were applied.
func (o *SyncOrchestrator) applyConflicts(ctx context.Context, items []QueueItem, result *BatchResult) int {
	inBatch := make(map[string]bool, len(items))
	for _, item := range items {
		inBatch[item.Key] = true
	}

	applied := 0
	for _, detail := range result.ConflictDetails {
		if !inBatch[detail.Key] {
			logger.Info("Ignoring conflict for a key outside this batch", "key", detail.Key)
			continue
		}
		if o.resolveConflict(ctx, detail) {
			applied++
		}
	}

	if result.Conflicts > len(result.ConflictDetails) {
		logger.Info("Hub reported conflicts without details",
			"reported", result.Conflicts,
			"detailed", len(result.ConflictDetails),
		)
	}
	return applied
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// resolveConflict applies the server's data for one key: last writer wins
// and the server wrote last.
func (o *SyncOrchestrator) resolveConflict(ctx context.Context, detail ConflictDetail) bool {
	before, _, err := o.deps.Store.Get(ctx, detail.Key)
	if err != nil {
		logger.LogErr(err, "failed to read local value for conflict", "key", detail.Key)
	}

	resolution := ResolutionServerWins
	serverValue := ""

	if isJSONNull(detail.ServerData) {
		resolution = ResolutionDeleted
		if err := o.deps.Store.Remove(ctx, detail.Key); err != nil {
			logger.LogErr(err, "failed to apply server delete for conflict", "key", detail.Key)
			return false
		}
	} else {
		serverValue, err = RemoteToLocal(detail.Key, detail.ServerData)
		if err != nil {
			logger.LogErr(err, "failed to transform server data for conflict", "key", detail.Key)
			return false
		}
		if err := o.deps.Store.Set(ctx, detail.Key, serverValue); err != nil {
			logger.LogErr(err, "failed to apply server data for conflict", "key", detail.Key)
			return false
		}
	}

	notice := ConflictNotice{
		Key:        detail.Key,
		Message:    detail.Message,
		ResolvedAt: time.Now().UTC(),
	}
	if o.deps.Conflicts != nil {
		audited := o.deps.Conflicts.Record(ctx, detail.Key, before, serverValue, resolution, detail.Message)
		notice.Patch = audited.Patch
		notice.ResolvedAt = audited.ResolvedAt
	} else if !IsSensitive(detail.Key) {
		notice.Patch = DiffPatch(before, serverValue)
	}

	logger.Info("Sync conflict resolved with server version",
		"key", detail.Key,
		"resolution", resolution,
		"message", detail.Message,
	)
	o.notifyConflict(notice)
	return true
}

// ----------------------------------------------------------------------------
// Full pull

// PerformInitialSync downloads the whole account and merges it into the
// local store, returning how many remote settings and records were written.
//
// The first pull for a user on this device is a migration: local and remote
// collections are merged with MergeByID, and whatever only exists (or is
// newer) locally is queued for upload, along with local-only settings.
// Later pulls take the remote version of everything except keys that still
// have a pending local change.
func (o *SyncOrchestrator) PerformInitialSync(ctx context.Context) (int, error) {
	o.mu.Lock()
	stopped, degraded := o.stopped, o.degraded
	o.mu.Unlock()

	switch {
	case stopped:
		return 0, serr.New("sync orchestrator is stopped")
	case degraded:
		return 0, &StorageUnavailableError{Err: serr.New("sync disabled for this session")}
	case !o.deps.Reachability.IsOnline():
		return 0, &TransportError{Op: "sync_all", Err: serr.New("device is offline")}
	}

	if !o.draining.CompareAndSwap(false, true) {
		return 0, serr.New("a sync is already in progress")
	}

	imported, err := o.pull(ctx)
	o.draining.Store(false)

	if err == nil && o.queueSizeOr(ctx, 0) > 0 && o.canSync() {
		o.scheduleDrain(o.opts.Debounce)
	}
	return imported, err
}

func (o *SyncOrchestrator) pull(ctx context.Context) (int, error) {
	size := o.queueSizeOr(ctx, 0)
	o.updateState(func(s *SyncState) {
		s.Status = StatusSyncing
		s.QueueSize = size
		s.Error = ""
	})

	fail := func(err error) (int, error) {
		var storageErr *StorageUnavailableError
		if errors.As(err, &storageErr) {
			o.enterDegraded(storageErr)
			return 0, err
		}
		logger.LogErr(err, "full pull failed", "user", o.deps.Session.UserID)
		o.updateState(func(s *SyncState) {
			s.Status = StatusError
			s.Error = err.Error()
		})
		var authErr *AuthError
		if errors.As(err, &authErr) {
			o.notifyAuthError(err)
		}
		return 0, err
	}

	snap, err := o.deps.Transport.SyncAll(ctx)
	if err != nil {
		return fail(err)
	}

	last, err := o.deps.States.LastSync(ctx, o.deps.Session.UserID)
	if err != nil {
		return fail(&StorageUnavailableError{Err: err})
	}
	firstMigration := last == nil

	imported, err := o.applySnapshot(ctx, snap, firstMigration)
	if err != nil {
		return fail(err)
	}

	now := time.Now().UTC()
	if err := o.deps.States.SetLastSync(ctx, o.deps.Session.UserID, o.deps.Session.ID, now); err != nil {
		logger.LogErr(err, "failed to persist last sync time")
	}

	size = o.queueSizeOr(ctx, 0)
	o.updateState(func(s *SyncState) {
		s.Status = StatusSynced
		s.QueueSize = size
		s.Error = ""
		s.LastSync = &now
	})

	logger.Info("Full pull complete",
		"imported", imported,
		"first_migration", firstMigration,
		"pending_uploads", size,
		"server_timestamp", snap.ServerTimestamp,
	)
	return imported, nil
}

func (o *SyncOrchestrator) applySnapshot(ctx context.Context, snap *Snapshot, firstMigration bool) (int, error) {
	pending, err := o.deps.Queue.Keys(ctx)
	if err != nil {
		return 0, &StorageUnavailableError{Err: err}
	}

	imported, err := o.applySettings(ctx, snap.Settings, pending, firstMigration)
	if err != nil {
		return imported, err
	}

	for _, family := range RecordFamilies {
		n, err := o.applyFamily(ctx, family, snap.records(family), pending, firstMigration)
		imported += n
		if err != nil {
			return imported, err
		}
	}
	return imported, nil
}

func (o *SyncOrchestrator) applySettings(ctx context.Context, remote map[string]RemoteSetting, pending map[string]bool, firstMigration bool) (int, error) {
	keys := make([]string, 0, len(remote))
	for k := range remote {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	imported := 0
	for _, key := range keys {
		if InferChangeType(key) != ChangeSetting || !IsSyncEligible(key) {
			logger.Debug("Skipping remote setting that does not sync", "key", key)
			continue
		}
		if pending[key] {
			continue
		}
		if err := o.deps.Store.Set(ctx, key, remote[key].LocalValue()); err != nil {
			return imported, serr.Wrap(err, "failed to store remote setting")
		}
		imported++
	}

	if !firstMigration {
		return imported, nil
	}

	local, err := o.deps.Store.Entries(ctx, "")
	if err != nil {
		return imported, serr.Wrap(err, "failed to list local settings")
	}
	for _, key := range sortedKeys(local) {
		if InferChangeType(key) != ChangeSetting || !IsSyncEligible(key) || pending[key] {
			continue
		}
		if _, onServer := remote[key]; onServer {
			continue
		}

		upload, meta, err := PrepareChange(o.deps.Encryptor, o.deps.Session.Identity(), key, local[key])
		if err != nil {
			logger.LogErr(err, "skipping local setting during migration", "key", key)
			continue
		}
		if _, err := o.deps.Queue.Enqueue(ctx, key, upload, meta); err != nil {
			return imported, &StorageUnavailableError{Err: err}
		}
	}
	return imported, nil
}

func (o *SyncOrchestrator) applyFamily(ctx context.Context, family ChangeType, remote []localRecord, pending map[string]bool, firstMigration bool) (int, error) {
	imported := 0

	if !firstMigration {
		for _, rec := range remote {
			key := RecordKey(family, rec.ID)
			if pending[key] {
				continue
			}
			if err := o.deps.Store.Set(ctx, key, rec.JSON); err != nil {
				return imported, serr.Wrap(err, "failed to store remote "+string(family))
			}
			imported++
		}
		return imported, nil
	}

	local, err := o.localRecords(ctx, family)
	if err != nil {
		return 0, err
	}

	uploads := 0
	for _, rec := range MergeByID(local, remote) {
		key := RecordKey(family, rec.ID)
		if pending[key] {
			continue
		}
		if rec.Local {
			// Already stored locally; the account needs it.
			if _, err := o.deps.Queue.Enqueue(ctx, key, rec.JSON, QueueMetadata{}); err != nil {
				return imported, &StorageUnavailableError{Err: err}
			}
			uploads++
			continue
		}
		if err := o.deps.Store.Set(ctx, key, rec.JSON); err != nil {
			return imported, serr.Wrap(err, "failed to store remote "+string(family))
		}
		imported++
	}

	logger.Debug("Migrated record family",
		"family", string(family),
		"local", len(local),
		"remote", len(remote),
		"imported", imported,
		"queued_uploads", uploads,
	)
	return imported, nil
}

// localRecords reads every stored record of family.
func (o *SyncOrchestrator) localRecords(ctx context.Context, family ChangeType) ([]localRecord, error) {
	entries, err := o.deps.Store.Entries(ctx, string(family)+":")
	if err != nil {
		return nil, serr.Wrap(err, "failed to list local "+string(family)+" records")
	}

	codec := familyCodecs[family]
	records := make([]localRecord, 0, len(entries))
	for _, key := range sortedKeys(entries) {
		_, keyID, ok := SplitRecordKey(key)
		if !ok {
			continue
		}
		rec, err := codec.parseLocal([]byte(entries[key]))
		if err != nil {
			logger.LogErr(err, "skipping unreadable local record", "key", key)
			continue
		}
		// The key is authoritative for identity.
		rec.ID = keyID
		rec.Local = true
		records = append(records, rec)
	}
	return records, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
