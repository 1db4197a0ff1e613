package models_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"toolsync/models"
)

// isolateConfig keeps a real user config file out of the test
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadSyncConfigDefaults(t *testing.T) {
	isolateConfig(t)

	cfg, err := models.LoadSyncConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !cfg.Enabled {
		t.Error("expected sync to be enabled by default")
	}
	if cfg.BatchSize != 10 || cfg.MaxAttempts != models.DefaultMaxAttempts {
		t.Errorf("unexpected batch defaults: %+v", cfg)
	}
	if cfg.Interval != 30*time.Second || cfg.Debounce != time.Second {
		t.Errorf("unexpected timing defaults: interval=%v debounce=%v", cfg.Interval, cfg.Debounce)
	}
	if cfg.RetryBase != 5*time.Second || cfg.RetryMax != 30*time.Second {
		t.Errorf("unexpected retry defaults: base=%v max=%v", cfg.RetryBase, cfg.RetryMax)
	}
}

func TestLoadSyncConfigFromEnv(t *testing.T) {
	isolateConfig(t)
	t.Setenv("TOOLSYNC_HUB_URL", "https://hub.example.com/")
	t.Setenv("TOOLSYNC_TOKEN", "tok")
	t.Setenv("TOOLSYNC_BATCH_SIZE", "25")
	t.Setenv("TOOLSYNC_SYNC_INTERVAL", "2m")
	t.Setenv("TOOLSYNC_MSGPACK", "true")

	cfg, err := models.LoadSyncConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.HubURL != "https://hub.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.HubURL)
	}
	if cfg.Token != "tok" || cfg.BatchSize != 25 || !cfg.UseMsgPack {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.Interval != 2*time.Minute {
		t.Errorf("expected 2m interval, got %v", cfg.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected config to validate, got %v", err)
	}
}

func TestLoadSyncConfigFromFile(t *testing.T) {
	isolateConfig(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "hub_url: http://localhost:9000\ntoken: file-token\nretry_base: 2s\nretry_max: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("TOOLSYNC_TOKEN", "env-token")

	cfg, err := models.LoadSyncConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.HubURL != "http://localhost:9000" || cfg.RetryBase != 2*time.Second || cfg.RetryMax != time.Minute {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Token != "env-token" {
		t.Errorf("expected env to win over file, got %q", cfg.Token)
	}

	if _, err := models.LoadSyncConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestSyncConfigValidate(t *testing.T) {
	valid := func() models.SyncConfig {
		return models.SyncConfig{
			Enabled:     true,
			HubURL:      "https://hub.example.com",
			Token:       "tok",
			BatchSize:   10,
			Interval:    30 * time.Second,
			Debounce:    time.Second,
			RetryBase:   5 * time.Second,
			RetryMax:    30 * time.Second,
			MaxAttempts: 5,
		}
	}

	testCases := []struct {
		name    string
		mutate  func(c *models.SyncConfig)
		wantErr bool
	}{
		{"valid", func(c *models.SyncConfig) {}, false},
		{"batch too large", func(c *models.SyncConfig) { c.BatchSize = 101 }, true},
		{"batch zero", func(c *models.SyncConfig) { c.BatchSize = 0 }, true},
		{"no attempts", func(c *models.SyncConfig) { c.MaxAttempts = 0 }, true},
		{"missing hub", func(c *models.SyncConfig) { c.HubURL = "" }, true},
		{"bad scheme", func(c *models.SyncConfig) { c.HubURL = "ftp://hub" }, true},
		{"missing token", func(c *models.SyncConfig) { c.Token = "" }, true},
		{"retry base too small", func(c *models.SyncConfig) { c.RetryBase = 100 * time.Millisecond }, true},
		{"retry max below base", func(c *models.SyncConfig) { c.RetryMax = 2 * time.Second }, true},
		{"interval below debounce", func(c *models.SyncConfig) { c.Interval = 500 * time.Millisecond }, true},
		{"disabled skips hub checks", func(c *models.SyncConfig) { c.Enabled = false; c.HubURL = ""; c.Token = "" }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}
