package models

import (
	"context"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// EngineOverrides replaces default collaborators. Any nil field gets the
// default built from the config.
type EngineOverrides struct {
	Transport    Transport
	Reachability Reachability
	Encryptor    Encryptor
}

// Engine bundles everything for one device session: the database, the
// storage wrapper the tools use and, when sync is enabled, the orchestrator.
type Engine struct {
	Config       *SyncConfig
	DB           *DB
	Session      *Session // nil when sync is disabled
	Queue        *DurableQueue
	Store        *LocalStore
	Storage      *SecureStorage
	Orchestrator *SyncOrchestrator // nil when sync is disabled

	probe *HealthProbe
}

// OpenEngine validates cfg, opens the database and wires the session.
// Start must be called to begin syncing; Close releases everything.
func OpenEngine(cfg *SyncConfig, overrides EngineOverrides) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, serr.Wrap(err, "invalid sync config")
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Config: cfg,
		DB:     db,
		Queue:  NewDurableQueue(db),
		Store:  NewLocalStore(db),
	}

	encryptor := overrides.Encryptor
	if encryptor == nil && cfg.Secret != "" {
		aes, err := NewAESEncryptor(cfg.Secret)
		if err != nil {
			_ = db.Close()
			return nil, serr.Wrap(err, "invalid encryption secret")
		}
		encryptor = aes
	}

	if !cfg.Enabled {
		e.Storage = NewSecureStorage(e.Store, nil, encryptor, nil)
		logger.Info("Sync disabled, storage is local only", "db", db.displayPath())
		return e, nil
	}

	session, err := NewSession(cfg.Token)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.Session = session

	transport := overrides.Transport
	if transport == nil {
		transport = NewHubTransport(cfg.HubURL, session, cfg.UseMsgPack)
	}

	reach := overrides.Reachability
	if reach == nil {
		e.probe = NewHealthProbe(cfg.HubURL, cfg.HealthInterval)
		reach = e.probe
	}

	orch, err := NewSyncOrchestrator(OrchestratorDeps{
		Queue:        e.Queue,
		Store:        e.Store,
		States:       NewSyncStateStore(db),
		Conflicts:    NewConflictLog(db),
		Transport:    transport,
		Reachability: reach,
		Session:      session,
		Encryptor:    encryptor,
	}, cfg.OrchestratorOptions())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.Orchestrator = orch
	e.Storage = NewSecureStorage(e.Store, orch, encryptor, session)

	return e, nil
}

// Start begins health probing and background syncing. It is a no-op when
// sync is disabled.
func (e *Engine) Start(ctx context.Context) error {
	if e.Orchestrator == nil {
		return nil
	}
	if e.probe != nil {
		e.probe.Start(ctx)
	}
	return e.Orchestrator.Start(ctx)
}

// Close stops syncing and closes the database.
func (e *Engine) Close() error {
	if e.Orchestrator != nil {
		e.Orchestrator.Stop()
	}
	if e.probe != nil {
		e.probe.Stop()
	}
	return e.DB.Close()
}
