package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"toolsync/models"
)

func engineConfig(t *testing.T) *models.SyncConfig {
	t.Helper()

	token, err := models.IssueToken("user-1", "engine-test-key", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return &models.SyncConfig{
		Enabled:     true,
		DBPath:      filepath.Join(t.TempDir(), "engine.db"),
		HubURL:      "http://127.0.0.1:1",
		Token:       token,
		Secret:      testSecret,
		BatchSize:   10,
		Interval:    time.Minute,
		Debounce:    time.Second,
		RetryBase:   time.Second,
		RetryMax:    10 * time.Second,
		MaxAttempts: 5,
	}
}

func TestEngineSyncsThroughStorage(t *testing.T) {
	tr := &fakeTransport{}
	reach := models.NewManualReachability(true)

	engine, err := models.OpenEngine(engineConfig(t), models.EngineOverrides{Transport: tr, Reachability: reach})
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := engine.Storage.Set(ctx, "github-token", "ghp_secret"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, _, _ := engine.Storage.Get(ctx, "github-token"); v != "ghp_secret" {
		t.Errorf("expected plaintext read back, got %q", v)
	}

	if err := engine.Orchestrator.TriggerSync(ctx); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if tr.batchCount() != 1 {
		t.Fatalf("expected one upload, got %d", tr.batchCount())
	}

	tr.mu.Lock()
	change := tr.batches[0][0]
	tr.mu.Unlock()
	if change.Key != "github-token" || !change.Metadata.Encrypted || change.Value == "ghp_secret" {
		t.Errorf("expected an encrypted upload, got %+v", change)
	}
	if st := engine.Orchestrator.GetState(); st.Status != models.StatusSynced {
		t.Errorf("expected synced, got %+v", st)
	}
}

func TestEngineSyncDisabled(t *testing.T) {
	cfg := engineConfig(t)
	cfg.Enabled = false
	cfg.HubURL = ""
	cfg.Token = ""

	engine, err := models.OpenEngine(cfg, models.EngineOverrides{})
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if engine.Orchestrator != nil || engine.Session != nil {
		t.Error("expected no orchestrator or session when sync is disabled")
	}

	if err := engine.Storage.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if size, _ := engine.Queue.Size(ctx); size != 0 {
		t.Errorf("expected nothing queued, got %d", size)
	}
}

func TestOpenEngineRejectsBadToken(t *testing.T) {
	cfg := engineConfig(t)
	cfg.Token = "garbage"

	if _, err := models.OpenEngine(cfg, models.EngineOverrides{Reachability: models.NewManualReachability(true)}); err == nil {
		t.Error("expected an invalid token to be rejected")
	}
}
