package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"toolsync/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Control API Handlers
//
// These endpoints power the status indicator and controls of the local tools:
// current state, "Sync Now", a full pull, and the failed-item and conflict
// inspectors. When sync is disabled the read endpoints report a disabled
// state instead of failing so the UI can render gracefully.
// ============================================================================

// SyncControl serves the sync endpoints for one engine.
type SyncControl struct {
	engine *models.Engine
}

func NewSyncControl(engine *models.Engine) *SyncControl {
	return &SyncControl{engine: engine}
}

// SyncStatusOutput is the payload of GET /api/v1/sync/status.
type SyncStatusOutput struct {
	Enabled bool              `json:"enabled"`
	UserID  string            `json:"user_id,omitempty"`
	State   models.SyncState  `json:"state"`
	Stats   *models.SyncStats `json:"stats,omitempty"`
}

// Snapshot reads the current status. It is shared by the JSON endpoint and
// the HTML badge.
func (sc *SyncControl) Snapshot() SyncStatusOutput {
	orch := sc.orchestrator()
	if orch == nil {
		return SyncStatusOutput{Enabled: false, State: models.SyncState{Status: models.StatusIdle}}
	}

	out := SyncStatusOutput{
		Enabled: true,
		UserID:  sc.engine.Session.UserID,
		State:   orch.GetState(),
	}
	stats, err := orch.GetStats(context.Background())
	if err != nil {
		logger.LogErr(err, "failed to read sync stats")
	} else {
		out.Stats = &stats
	}
	return out
}

// Status handles GET /api/v1/sync/status
func (sc *SyncControl) Status(ctx rweb.Context) error {
	return writeSuccess(ctx, http.StatusOK, sc.Snapshot())
}

// Trigger handles POST /api/v1/sync/trigger
// Runs one drain pass now. A pass already in flight or an offline device
// makes this a no-op; the returned state tells the caller which.
func (sc *SyncControl) Trigger(ctx rweb.Context) error {
	orch := sc.orchestrator()
	if orch == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := orch.TriggerSync(context.Background()); err != nil {
		return writeSyncError(ctx, err)
	}
	return writeSuccess(ctx, http.StatusOK, orch.GetState())
}

// Pull handles POST /api/v1/sync/pull
// Downloads the whole account and merges it into local storage.
func (sc *SyncControl) Pull(ctx rweb.Context) error {
	orch := sc.orchestrator()
	if orch == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	imported, err := orch.PerformInitialSync(context.Background())
	if err != nil {
		return writeSyncError(ctx, err)
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"imported": imported,
		"state":    orch.GetState(),
	})
}

// Failed handles GET /api/v1/sync/failed
// Lists queued items that have used up their attempts.
func (sc *SyncControl) Failed(ctx rweb.Context) error {
	orch := sc.orchestrator()
	if orch == nil {
		return writeSuccess(ctx, http.StatusOK, []models.QueueItem{})
	}

	items, err := orch.FailedItems(context.Background())
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list failed items"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to list failed items")
	}
	// Return empty array instead of null
	if items == nil {
		items = []models.QueueItem{}
	}
	return writeSuccess(ctx, http.StatusOK, items)
}

// PurgeFailed handles DELETE /api/v1/sync/failed
func (sc *SyncControl) PurgeFailed(ctx rweb.Context) error {
	orch := sc.orchestrator()
	if orch == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	n, err := orch.PurgeFailed(context.Background())
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to purge failed items"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to purge failed items")
	}

	logger.Info("Purged failed sync items", "count", n)
	return writeSuccess(ctx, http.StatusOK, map[string]int{"purged": n})
}

// Conflicts handles GET /api/v1/sync/conflicts
//
// Query parameters:
//   - limit: maximum number of conflicts to return (optional, default 50)
func (sc *SyncControl) Conflicts(ctx rweb.Context) error {
	orch := sc.orchestrator()
	if orch == nil {
		return writeSuccess(ctx, http.StatusOK, []models.SyncConflict{})
	}

	limit := 50
	if limitStr := ctx.Request().QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return writeError(ctx, http.StatusBadRequest, "invalid limit parameter")
		}
		limit = parsed
	}

	conflicts, err := orch.Conflicts(context.Background(), limit)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list sync conflicts"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to list conflicts")
	}
	if conflicts == nil {
		conflicts = []models.SyncConflict{}
	}
	return writeSuccess(ctx, http.StatusOK, conflicts)
}

// UserID is the owner of the engine's session, or "" when sync is disabled.
func (sc *SyncControl) UserID() string {
	if sc == nil || sc.engine == nil || sc.engine.Session == nil {
		return ""
	}
	return sc.engine.Session.UserID
}

// Authorize reports whether token is the exact bearer token of the engine's
// session. Claims are not trusted on their own since tokens are never
// verified locally.
func (sc *SyncControl) Authorize(token string) bool {
	if sc == nil || sc.engine == nil || sc.engine.Session == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(sc.engine.Session.Token)) == 1
}

// Health handles GET /api/v1/health
func Health(ctx rweb.Context) error {
	return writeSuccess(ctx, http.StatusOK, map[string]string{"status": "ok"})
}

func (sc *SyncControl) orchestrator() *models.SyncOrchestrator {
	if sc == nil || sc.engine == nil {
		return nil
	}
	return sc.engine.Orchestrator
}

// writeSyncError maps the typed sync errors onto HTTP statuses.
func writeSyncError(ctx rweb.Context, err error) error {
	var authErr *models.AuthError
	var transportErr *models.TransportError
	var storageErr *models.StorageUnavailableError

	switch {
	case errors.As(err, &authErr):
		return writeError(ctx, http.StatusUnauthorized, err.Error())
	case errors.As(err, &transportErr):
		return writeError(ctx, http.StatusBadGateway, err.Error())
	case errors.As(err, &storageErr):
		return writeError(ctx, http.StatusServiceUnavailable, err.Error())
	default:
		// stopped orchestrator or a pass already in flight
		return writeError(ctx, http.StatusConflict, err.Error())
	}
}
