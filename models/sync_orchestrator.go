package models

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Orchestrator
//
// Drives uploads of the durable queue and full pulls of the account for one
// signed-in session. Construct one per session, Start it, Stop it on sign-out.
//
//   - Single flight: an atomic flag admits one drain or pull at a time.
//     Triggers that arrive while one is running are dropped; the running pass
//     schedules its own follow-up when items remain.
//   - Triggers: a periodic ticker, a debounce after each local change, a
//     retry timer after transport failures, the reachability "online" event
//     and manual TriggerSync.
//   - Exponential backoff: consecutive failures double the retry delay from
//     RetryBase up to RetryMax, reset on success.
//   - Listeners receive the full state on every transition, in order.
// ============================================================================

// OrchestratorOptions tune batching and timing.
type OrchestratorOptions struct {
	BatchSize   int
	Interval    time.Duration // periodic drain
	Debounce    time.Duration // coalescing window after a local change
	RetryBase   time.Duration // first retry delay after a transport failure
	RetryMax    time.Duration // backoff cap
	MaxAttempts int           // attempts after which an item counts as failed
}

func DefaultOrchestratorOptions() OrchestratorOptions {
	return OrchestratorOptions{
		BatchSize:   10,
		Interval:    30 * time.Second,
		Debounce:    time.Second,
		RetryBase:   5 * time.Second,
		RetryMax:    30 * time.Second,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (o OrchestratorOptions) withDefaults() OrchestratorOptions {
	def := DefaultOrchestratorOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.Debounce <= 0 {
		o.Debounce = def.Debounce
	}
	if o.RetryBase <= 0 {
		o.RetryBase = def.RetryBase
	}
	if o.RetryMax < o.RetryBase {
		o.RetryMax = o.RetryBase
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	return o
}

// OrchestratorDeps are the collaborators of one orchestrator.
// Conflicts and Encryptor are optional.
type OrchestratorDeps struct {
	Queue        *DurableQueue
	Store        *LocalStore
	States       *SyncStateStore
	Conflicts    *ConflictLog
	Transport    Transport
	Reachability Reachability
	Session      *Session
	Encryptor    Encryptor // used to encrypt sensitive local-only settings during first migration
}

type stateListener struct {
	id int
	fn func(SyncState)
}

type conflictListener struct {
	id int
	fn func(ConflictNotice)
}

// SyncOrchestrator owns the sync state machine for a session.
type SyncOrchestrator struct {
	deps OrchestratorDeps
	opts OrchestratorOptions

	draining atomic.Bool // true while a drain or full pull runs

	mu                sync.Mutex
	state             SyncState
	started           bool
	stopped           bool
	degraded          bool // queue storage failed; stays offline for the session
	failures          int  // consecutive transport failures
	tickerStop        chan struct{}
	debounce          *time.Timer
	retry             *time.Timer
	unsubscribeReach  func()
	onAuthError       func(error)
	nextListenerID    int
	listeners         []stateListener
	conflictListeners []conflictListener
	pending           []SyncState // transitions awaiting delivery
	delivering        bool
}

// NewSyncOrchestrator validates deps and returns an idle, unstarted orchestrator.
func NewSyncOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions) (*SyncOrchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, serr.New("sync orchestrator requires a queue")
	case deps.Store == nil:
		return nil, serr.New("sync orchestrator requires a local store")
	case deps.States == nil:
		return nil, serr.New("sync orchestrator requires a sync state store")
	case deps.Transport == nil:
		return nil, serr.New("sync orchestrator requires a transport")
	case deps.Reachability == nil:
		return nil, serr.New("sync orchestrator requires a reachability source")
	case deps.Session == nil:
		return nil, serr.New("sync orchestrator requires a session")
	}

	return &SyncOrchestrator{
		deps:  deps,
		opts:  opts.withDefaults(),
		state: SyncState{Status: StatusIdle},
	}, nil
}

// Start loads persisted state, subscribes to reachability and, when online,
// starts the periodic timer and schedules a first drain.
func (o *SyncOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return serr.New("sync orchestrator already stopped")
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	last, err := o.deps.States.LastSync(ctx, o.deps.Session.UserID)
	if err != nil {
		logger.LogErr(err, "failed to load last sync time")
	}
	size, err := o.deps.Queue.Size(ctx)
	if err != nil {
		o.enterDegraded(&StorageUnavailableError{Err: err})
		return nil
	}

	o.mu.Lock()
	o.state.LastSync = last
	o.state.QueueSize = size
	o.mu.Unlock()

	unsubscribe := o.deps.Reachability.Subscribe(o.handleReachability)
	o.mu.Lock()
	o.unsubscribeReach = unsubscribe
	o.mu.Unlock()

	logger.Info("Sync orchestrator started",
		"user", o.deps.Session.UserID,
		"session", o.deps.Session.ID,
		"queue_size", size,
		"interval", o.opts.Interval.String(),
	)

	if o.deps.Reachability.IsOnline() {
		o.updateState(func(s *SyncState) { s.Status = StatusIdle })
		o.mu.Lock()
		o.startTickerLocked()
		o.mu.Unlock()
		o.scheduleDrain(o.opts.Debounce)
	} else {
		o.updateState(func(s *SyncState) { s.Status = StatusOffline })
	}
	return nil
}

// Stop cancels all timers and detaches from reachability. An upload already
// in flight completes and settles the queue, but produces no notifications
// and schedules nothing.
func (o *SyncOrchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.stopTimersLocked()
	unsubscribe := o.unsubscribeReach
	o.unsubscribeReach = nil
	o.pending = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	logger.Info("Sync orchestrator stopped", "user", o.deps.Session.UserID)
}

// ----------------------------------------------------------------------------
// Observability

// AddListener registers fn for state transitions and returns its unsubscribe.
// Listeners run in transition order and may call back into the orchestrator.
// A transition made while another goroutine (or a listener) is delivering is
// handed to that delivery loop, so its caller can return before fn sees it.
func (o *SyncOrchestrator) AddListener(fn func(SyncState)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextListenerID
	o.nextListenerID++
	o.listeners = append(o.listeners, stateListener{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddConflictListener registers fn for conflicts resolved in favour of the server.
func (o *SyncOrchestrator) AddConflictListener(fn func(ConflictNotice)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextListenerID
	o.nextListenerID++
	o.conflictListeners = append(o.conflictListeners, conflictListener{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.conflictListeners {
			if l.id == id {
				o.conflictListeners = append(o.conflictListeners[:i:i], o.conflictListeners[i+1:]...)
				return
			}
		}
	}
}

// OnAuthError sets the callback invoked when the account rejects the token.
func (o *SyncOrchestrator) OnAuthError(fn func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onAuthError = fn
}

// GetState returns a copy of the current state.
func (o *SyncOrchestrator) GetState() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// GetStats reads live queue figures.
func (o *SyncOrchestrator) GetStats(ctx context.Context) (SyncStats, error) {
	stats := SyncStats{IsOnline: o.isOnline()}

	size, err := o.deps.Queue.Size(ctx)
	if err != nil {
		return stats, &StorageUnavailableError{Err: err}
	}
	failed, err := o.deps.Queue.GetFailedItems(ctx, o.opts.MaxAttempts)
	if err != nil {
		return stats, &StorageUnavailableError{Err: err}
	}

	stats.QueueSize = size
	stats.FailedCount = len(failed)
	stats.LastSync = o.GetState().LastSync
	return stats, nil
}

// FailedItems lists queued items past the attempts threshold.
func (o *SyncOrchestrator) FailedItems(ctx context.Context) ([]QueueItem, error) {
	return o.deps.Queue.GetFailedItems(ctx, o.opts.MaxAttempts)
}

// PurgeFailed drops queued items past the attempts threshold.
func (o *SyncOrchestrator) PurgeFailed(ctx context.Context) (int, error) {
	n, err := o.deps.Queue.RemoveFailedItems(ctx, o.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}
	o.refreshQueueSize(ctx)
	return n, nil
}

// Conflicts returns the audit trail, newest first.
func (o *SyncOrchestrator) Conflicts(ctx context.Context, limit int) ([]SyncConflict, error) {
	if o.deps.Conflicts == nil {
		return nil, nil
	}
	return o.deps.Conflicts.ListConflicts(ctx, limit)
}

// ----------------------------------------------------------------------------
// Triggers

// EnqueueChange persists a local change and schedules a debounced drain.
// A queue failure switches the session to degraded mode and is returned as
// a *StorageUnavailableError.
func (o *SyncOrchestrator) EnqueueChange(ctx context.Context, key, value string, meta QueueMetadata) error {
	if _, err := o.deps.Queue.Enqueue(ctx, key, value, meta); err != nil {
		storageErr := &StorageUnavailableError{Err: err}
		o.enterDegraded(storageErr)
		return storageErr
	}

	o.refreshQueueSize(ctx)
	if o.canSync() {
		o.scheduleDrain(o.opts.Debounce)
	}
	return nil
}

// TriggerSync runs a drain pass now unless one is already running or the
// device is offline.
func (o *SyncOrchestrator) TriggerSync(ctx context.Context) error {
	return o.drain(ctx)
}

func (o *SyncOrchestrator) handleReachability(online bool) {
	if online {
		// Resume whenever the periodic timer is down, whatever status a pass
		// that straddled the outage left behind.
		o.mu.Lock()
		paused := o.tickerStop == nil || o.state.Status == StatusOffline
		if !o.started || o.stopped || o.degraded || !paused {
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		logger.Info("Network is back, resuming sync", "user", o.deps.Session.UserID)
		o.updateState(func(s *SyncState) {
			if s.Status == StatusOffline {
				s.Status = StatusIdle
				s.Error = ""
			}
		})
		o.mu.Lock()
		o.startTickerLocked()
		o.mu.Unlock()
		o.scheduleDrain(o.opts.Debounce)
		return
	}

	o.mu.Lock()
	if o.stopped || o.degraded {
		o.mu.Unlock()
		return
	}
	o.stopTimersLocked()
	o.mu.Unlock()

	logger.Info("Network lost, sync paused", "user", o.deps.Session.UserID)
	o.updateState(func(s *SyncState) {
		s.Status = StatusOffline
		s.Error = ""
	})
}

// ----------------------------------------------------------------------------
// Drain

// passOutcome tells drain what to schedule once the in-flight flag is released.
type passOutcome struct {
	followUp   bool
	retryAfter time.Duration
}

func (o *SyncOrchestrator) drain(ctx context.Context) error {
	if !o.canSync() {
		return nil
	}
	if !o.draining.CompareAndSwap(false, true) {
		return nil
	}

	outcome, err := o.drainPass(ctx)
	o.draining.Store(false)

	switch {
	case outcome.followUp:
		o.scheduleDrain(o.opts.Debounce)
	case outcome.retryAfter > 0:
		o.scheduleRetry(outcome.retryAfter)
	}
	return err
}

func (o *SyncOrchestrator) drainPass(ctx context.Context) (passOutcome, error) {
	size, err := o.deps.Queue.Size(ctx)
	if err != nil {
		storageErr := &StorageUnavailableError{Err: err}
		o.enterDegraded(storageErr)
		return passOutcome{}, storageErr
	}

	if size == 0 {
		o.updateState(func(s *SyncState) {
			s.Status = StatusSynced
			s.QueueSize = 0
			s.Error = ""
		})
		return passOutcome{}, nil
	}

	o.updateState(func(s *SyncState) {
		s.Status = StatusSyncing
		s.QueueSize = size
		s.Error = ""
	})

	items, err := o.deps.Queue.GetBatch(ctx, o.opts.BatchSize)
	if err != nil {
		storageErr := &StorageUnavailableError{Err: err}
		o.enterDegraded(storageErr)
		return passOutcome{}, storageErr
	}

	changes := make([]ChangeRecord, 0, len(items))
	for _, item := range items {
		changes = append(changes, BuildChangeRecord(item, o.deps.Session.UserID))
	}

	result, err := o.deps.Transport.SyncBatch(ctx, changes)
	if err != nil {
		return o.handleUploadFailure(ctx, items, err)
	}

	conflicts := 0
	if result != nil {
		conflicts = o.applyConflicts(ctx, items, result)
	}

	if _, err := o.deps.Queue.RemoveDelivered(ctx, items); err != nil {
		storageErr := &StorageUnavailableError{Err: err}
		o.enterDegraded(storageErr)
		return passOutcome{}, storageErr
	}

	now := time.Now().UTC()
	if err := o.deps.States.SetLastSync(ctx, o.deps.Session.UserID, o.deps.Session.ID, now); err != nil {
		logger.LogErr(err, "failed to persist last sync time")
	}

	o.mu.Lock()
	o.failures = 0
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
	o.mu.Unlock()

	remaining, err := o.deps.Queue.Size(ctx)
	if err != nil {
		storageErr := &StorageUnavailableError{Err: err}
		o.enterDegraded(storageErr)
		return passOutcome{}, storageErr
	}

	logger.Info("Sync pass complete",
		"uploaded", len(items),
		"conflicts", conflicts,
		"remaining", remaining,
	)

	if !o.deps.Reachability.IsOnline() {
		o.settleOffline(remaining, &now)
		return passOutcome{}, nil
	}

	if remaining > 0 {
		// The next pass reports Syncing with the new size.
		o.mu.Lock()
		o.state.LastSync = &now
		o.mu.Unlock()
		return passOutcome{followUp: true}, nil
	}

	o.updateState(func(s *SyncState) {
		s.Status = StatusSynced
		s.QueueSize = 0
		s.Error = ""
		s.LastSync = &now
	})
	return passOutcome{}, nil
}

func (o *SyncOrchestrator) handleUploadFailure(ctx context.Context, items []QueueItem, err error) (passOutcome, error) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		logger.LogErr(err, "sync upload rejected, credentials need attention", "user", o.deps.Session.UserID)
		size := o.queueSizeOr(ctx, len(items))
		o.updateState(func(s *SyncState) {
			s.Status = StatusError
			s.Error = err.Error()
			s.QueueSize = size
		})
		o.notifyAuthError(err)
		return passOutcome{}, err
	}

	for _, item := range items {
		if incErr := o.deps.Queue.IncrementAttempts(ctx, item.ID); incErr != nil {
			storageErr := &StorageUnavailableError{Err: incErr}
			o.enterDegraded(storageErr)
			return passOutcome{}, err
		}
	}

	// The network went away while the upload was in flight. The online
	// event resumes draining, so no retry is scheduled here.
	if !o.deps.Reachability.IsOnline() {
		logger.LogErr(err, "sync batch upload failed, device went offline", "batch", len(items))
		o.settleOffline(o.queueSizeOr(ctx, len(items)), nil)
		return passOutcome{}, err
	}

	o.mu.Lock()
	o.failures++
	failures := o.failures
	delay := o.backoffLocked()
	o.mu.Unlock()

	logger.LogErr(err, "sync batch upload failed",
		"batch", len(items),
		"consecutive_failures", failures,
		"retry_in", delay.String(),
	)

	size := o.queueSizeOr(ctx, len(items))
	o.updateState(func(s *SyncState) {
		s.Status = StatusError
		s.Error = err.Error()
		s.QueueSize = size
	})
	return passOutcome{retryAfter: delay}, err
}

// backoffLocked returns RetryBase doubled per consecutive failure beyond the
// first, capped at RetryMax.
func (o *SyncOrchestrator) backoffLocked() time.Duration {
	backoff := o.opts.RetryBase
	for i := 1; i < o.failures; i++ {
		backoff *= 2
		if backoff >= o.opts.RetryMax {
			return o.opts.RetryMax
		}
	}
	if backoff > o.opts.RetryMax {
		return o.opts.RetryMax
	}
	return backoff
}

// ----------------------------------------------------------------------------
// Timers

func (o *SyncOrchestrator) scheduleDrain(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || o.degraded {
		return
	}

	if o.debounce != nil {
		o.debounce.Stop()
	}
	o.debounce = time.AfterFunc(delay, func() {
		_ = o.drain(context.Background())
	})
}

func (o *SyncOrchestrator) scheduleRetry(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped || o.degraded {
		return
	}

	if o.retry != nil {
		o.retry.Stop()
	}
	o.retry = time.AfterFunc(delay, func() {
		_ = o.drain(context.Background())
	})
}

func (o *SyncOrchestrator) startTickerLocked() {
	if o.tickerStop != nil || o.stopped {
		return
	}

	stop := make(chan struct{})
	o.tickerStop = stop
	ticker := time.NewTicker(o.opts.Interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = o.drain(context.Background())
			}
		}
	}()
}

func (o *SyncOrchestrator) stopTimersLocked() {
	if o.tickerStop != nil {
		close(o.tickerStop)
		o.tickerStop = nil
	}
	if o.debounce != nil {
		o.debounce.Stop()
		o.debounce = nil
	}
	if o.retry != nil {
		o.retry.Stop()
		o.retry = nil
	}
}

// ----------------------------------------------------------------------------
// State

func (o *SyncOrchestrator) canSync() bool {
	o.mu.Lock()
	ok := o.started && !o.stopped && !o.degraded
	o.mu.Unlock()
	return ok && o.deps.Reachability.IsOnline()
}

func (o *SyncOrchestrator) isOnline() bool {
	o.mu.Lock()
	degraded := o.degraded
	o.mu.Unlock()
	return !degraded && o.deps.Reachability.IsOnline()
}

// enterDegraded turns sync off for the rest of the session after a queue
// storage failure. Local reads and writes keep working.
func (o *SyncOrchestrator) enterDegraded(err error) {
	o.mu.Lock()
	if o.degraded {
		o.mu.Unlock()
		return
	}
	o.degraded = true
	o.stopTimersLocked()
	o.mu.Unlock()

	logger.LogErr(err, "sync queue unavailable, sync disabled for this session", "user", o.deps.Session.UserID)
	o.updateState(func(s *SyncState) {
		s.Status = StatusOffline
		s.Error = err.Error()
	})
}

// settleOffline reports the end of a pass that finished after the device
// lost the network.
func (o *SyncOrchestrator) settleOffline(queueSize int, lastSync *time.Time) {
	o.updateState(func(s *SyncState) {
		s.Status = StatusOffline
		s.Error = ""
		s.QueueSize = queueSize
		if lastSync != nil {
			s.LastSync = lastSync
		}
	})
}

func (o *SyncOrchestrator) refreshQueueSize(ctx context.Context) {
	size, err := o.deps.Queue.Size(ctx)
	if err != nil {
		return
	}
	o.mu.Lock()
	o.state.QueueSize = size
	o.mu.Unlock()
}

func (o *SyncOrchestrator) queueSizeOr(ctx context.Context, fallback int) int {
	size, err := o.deps.Queue.Size(ctx)
	if err != nil {
		return fallback
	}
	return size
}

// updateState applies fn and, when the state actually changed, delivers the
// new state to every listener. Deliveries are queued under the state lock so
// they keep transition order across goroutines; whoever finds the queue idle
// delivers it, including transitions made by listeners themselves.
func (o *SyncOrchestrator) updateState(fn func(*SyncState)) {
	o.mu.Lock()
	prev := o.state.clone()
	fn(&o.state)
	if o.stopped || o.state.equal(prev) {
		o.mu.Unlock()
		return
	}
	o.pending = append(o.pending, o.state.clone())
	next := o.state.Status
	o.mu.Unlock()

	if next != prev.Status {
		logger.Debug("Sync state transition", "from", string(prev.Status), "to", string(next))
	}
	o.flushNotifications()
}

func (o *SyncOrchestrator) flushNotifications() {
	for {
		o.mu.Lock()
		if o.delivering || len(o.pending) == 0 {
			o.mu.Unlock()
			return
		}
		o.delivering = true
		batch := o.pending
		o.pending = nil
		listeners := append([]stateListener(nil), o.listeners...)
		o.mu.Unlock()

		for _, state := range batch {
			for _, l := range listeners {
				callStateListener(l.fn, state)
			}
		}

		o.mu.Lock()
		o.delivering = false
		o.mu.Unlock()
	}
}

func callStateListener(fn func(SyncState), state SyncState) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogErr(serr.New("sync state listener panicked"), "listener panic", "recovered", r)
		}
	}()
	fn(state.clone())
}

func (o *SyncOrchestrator) notifyConflict(notice ConflictNotice) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	listeners := append([]conflictListener(nil), o.conflictListeners...)
	o.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.LogErr(serr.New("conflict listener panicked"), "listener panic", "recovered", r)
				}
			}()
			l.fn(notice)
		}()
	}
}

func (o *SyncOrchestrator) notifyAuthError(err error) {
	o.mu.Lock()
	fn := o.onAuthError
	stopped := o.stopped
	o.mu.Unlock()

	if fn != nil && !stopped {
		fn(err)
	}
}
