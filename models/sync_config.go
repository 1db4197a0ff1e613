package models

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
	"github.com/spf13/viper"
)

// ============================================================================
// Sync Configuration
//
// Loaded through viper. Precedence: TOOLSYNC_* environment variables, then
// the config file (--config, or $XDG_CONFIG_HOME/toolsync/config.yaml when it
// exists), then defaults. Keys use underscores so TOOLSYNC_HUB_URL maps to
// hub_url.
// ============================================================================

// SyncConfig holds everything needed to build a sync session.
type SyncConfig struct {
	Enabled        bool          // sync_enabled
	DBPath         string        // db_path, "" for in-memory
	HubURL         string        // hub_url
	Token          string        // token, bearer token issued by the account
	Secret         string        // secret, device secret for sensitive-value encryption
	UseMsgPack     bool          // msgpack, encode change values as msgpack+base64
	BatchSize      int           // batch_size
	Interval       time.Duration // sync_interval
	Debounce       time.Duration // debounce
	RetryBase      time.Duration // retry_base
	RetryMax       time.Duration // retry_max
	MaxAttempts    int           // max_attempts
	HealthInterval time.Duration // health_interval
	Listen         string        // listen, address of the status server
	LogLevel       string        // log_level
}

// EnvPrefix is prepended to every config key for environment lookups.
const EnvPrefix = "TOOLSYNC"

// minRetryBase keeps a misconfigured client from hammering the hub.
const minRetryBase = time.Second

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("sync_enabled", true)
	v.SetDefault("db_path", "./data/toolsync.db")
	v.SetDefault("hub_url", "")
	v.SetDefault("token", "")
	v.SetDefault("secret", "")
	v.SetDefault("msgpack", false)
	v.SetDefault("batch_size", 10)
	v.SetDefault("sync_interval", "30s")
	v.SetDefault("debounce", "1s")
	v.SetDefault("retry_base", "5s")
	v.SetDefault("retry_max", "30s")
	v.SetDefault("max_attempts", DefaultMaxAttempts)
	v.SetDefault("health_interval", "15s")
	v.SetDefault("listen", ":8000")
	v.SetDefault("log_level", "info")
}

// LoadSyncConfig reads the configuration. configFile may be empty.
func LoadSyncConfig(configFile string) (*SyncConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile == "" {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "toolsync", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setConfigDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, serr.Wrap(err, "failed to read config file "+configFile)
		}
	}

	cfg := &SyncConfig{
		Enabled:        v.GetBool("sync_enabled"),
		DBPath:         v.GetString("db_path"),
		HubURL:         strings.TrimRight(v.GetString("hub_url"), "/"),
		Token:          v.GetString("token"),
		Secret:         v.GetString("secret"),
		UseMsgPack:     v.GetBool("msgpack"),
		BatchSize:      v.GetInt("batch_size"),
		Interval:       v.GetDuration("sync_interval"),
		Debounce:       v.GetDuration("debounce"),
		RetryBase:      v.GetDuration("retry_base"),
		RetryMax:       v.GetDuration("retry_max"),
		MaxAttempts:    v.GetInt("max_attempts"),
		HealthInterval: v.GetDuration("health_interval"),
		Listen:         v.GetString("listen"),
		LogLevel:       v.GetString("log_level"),
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a sync session.
// Called before building the engine to fail fast on misconfiguration
// rather than discovering missing credentials mid-cycle.
func (c *SyncConfig) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return serr.New("batch_size must be between 1 and 100")
	}
	if c.MaxAttempts < 1 {
		return serr.New("max_attempts must be at least 1")
	}

	if !c.Enabled {
		return nil // Nothing else to validate when sync is disabled
	}

	if c.HubURL == "" {
		return serr.New("hub_url is required when sync is enabled")
	}
	if !strings.HasPrefix(c.HubURL, "http://") && !strings.HasPrefix(c.HubURL, "https://") {
		return serr.New("hub_url must start with http:// or https://")
	}
	if c.Token == "" {
		return serr.New("token is required when sync is enabled")
	}
	if c.RetryBase < minRetryBase {
		return serr.New("retry_base must be at least 1s to avoid overwhelming the hub")
	}
	if c.RetryMax < c.RetryBase {
		return serr.New("retry_max must not be shorter than retry_base")
	}
	if c.Interval < c.Debounce {
		return serr.New("sync_interval must not be shorter than debounce")
	}
	return nil
}

// OrchestratorOptions maps the config onto orchestrator tuning.
func (c *SyncConfig) OrchestratorOptions() OrchestratorOptions {
	return OrchestratorOptions{
		BatchSize:   c.BatchSize,
		Interval:    c.Interval,
		Debounce:    c.Debounce,
		RetryBase:   c.RetryBase,
		RetryMax:    c.RetryMax,
		MaxAttempts: c.MaxAttempts,
	}
}
