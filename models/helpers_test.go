package models_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"toolsync/models"
)

// setupTestDB opens a fresh in-memory database
func setupTestDB(t *testing.T) (*models.DB, func()) {
	t.Helper()

	db, err := models.OpenDB("")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	return db, func() {
		db.Close()
	}
}

// setupFileDB opens a database file under a temp dir and returns its path
// so tests can reopen it
func setupFileDB(t *testing.T) (*models.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "toolsync_test.db")
	os.Remove(path)

	db, err := models.OpenDB(path)
	if err != nil {
		t.Fatalf("failed to open test database file: %v", err)
	}
	return db, path
}

// waitFor polls cond until it holds or the timeout passes
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testSession builds a session for a fixed user
func testSession(t *testing.T, userID string) *models.Session {
	t.Helper()

	token, err := models.IssueToken(userID, "test-signing-key-0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	session, err := models.NewSession(token)
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	return session
}

// fakeTransport records uploads and replays scripted results
type fakeTransport struct {
	mu       sync.Mutex
	batches  [][]models.ChangeRecord
	calls    []time.Time
	errs     []error // consumed one per SyncBatch call
	results  []*models.BatchResult
	snapshot *models.Snapshot
	allErr   error
	block    chan struct{} // when set, SyncBatch waits on it
	entered  chan struct{} // when set, signalled on SyncBatch entry
}

func (f *fakeTransport) SyncBatch(ctx context.Context, changes []models.ChangeRecord) (*models.BatchResult, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, append([]models.ChangeRecord(nil), changes...))
	f.calls = append(f.calls, time.Now())

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res, nil
	}
	return &models.BatchResult{}, nil
}

func (f *fakeTransport) SyncAll(ctx context.Context) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.allErr != nil {
		return nil, f.allErr
	}
	if f.snapshot == nil {
		return &models.Snapshot{}, nil
	}
	return f.snapshot, nil
}

func (f *fakeTransport) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeTransport) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

func (f *fakeTransport) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// stateRecorder collects listener notifications
type stateRecorder struct {
	mu     sync.Mutex
	states []models.SyncState
}

func (r *stateRecorder) record(s models.SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) statuses() []models.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SyncStatus, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}

func (r *stateRecorder) last() models.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return models.SyncState{}
	}
	return r.states[len(r.states)-1]
}
