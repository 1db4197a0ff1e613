package models_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"toolsync/models"
)

// queueSink enqueues straight into a queue, standing in for the orchestrator
type queueSink struct {
	q   *models.DurableQueue
	err error
}

func (s *queueSink) EnqueueChange(ctx context.Context, key, value string, meta models.QueueMetadata) error {
	if s.err != nil {
		return s.err
	}
	_, err := s.q.Enqueue(ctx, key, value, meta)
	return err
}

// failingEncryptor always fails to encrypt
type failingEncryptor struct{}

func (failingEncryptor) Encrypt(string, string) (*models.EncryptedPayload, error) {
	return nil, errors.New("no key material")
}
func (failingEncryptor) Decrypt(string, string) (string, error) { return "", errors.New("no key material") }
func (failingEncryptor) IsEncrypted(string) bool                { return false }

func setupStorage(t *testing.T, enc models.Encryptor) (*models.SecureStorage, *models.LocalStore, *models.DurableQueue, *queueSink, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	store := models.NewLocalStore(db)
	q := models.NewDurableQueue(db)
	sink := &queueSink{q: q}
	storage := models.NewSecureStorage(store, sink, enc, testSession(t, "user-1"))
	return storage, store, q, sink, cleanup
}

// TestSetSensitiveKeyEncryptsUpload covers a sensitive write: plaintext
// locally, ciphertext with salt and iv in the queue
func TestSetSensitiveKeyEncryptsUpload(t *testing.T) {
	enc := newTestEncryptor(t)
	storage, store, q, _, cleanup := setupStorage(t, enc)
	defer cleanup()

	ctx := context.Background()
	if err := storage.Set(ctx, "claude-api-key", "sk-123"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	local, ok, err := store.Get(ctx, "claude-api-key")
	if err != nil || !ok {
		t.Fatalf("local read failed: ok=%v err=%v", ok, err)
	}
	if local != "sk-123" {
		t.Errorf("expected plaintext locally, got %q", local)
	}

	item, err := q.Get(ctx, "claude-api-key")
	if err != nil || item == nil {
		t.Fatalf("expected a queued item, got %v (err %v)", item, err)
	}
	if !item.Metadata.Encrypted || item.Metadata.Salt == "" || item.Metadata.IV == "" {
		t.Errorf("expected encrypted metadata with salt and iv, got %+v", item.Metadata)
	}
	if strings.Contains(item.Value, "sk-123") {
		t.Error("queued value leaks the plaintext")
	}

	record := models.BuildChangeRecord(*item, "user-1")
	if record.Type != models.ChangeSetting || record.Operation != models.OperationUpsert {
		t.Errorf("unexpected change record %+v", record)
	}

	payload := (&models.EncryptedPayload{Ciphertext: item.Value, Salt: item.Metadata.Salt, IV: item.Metadata.IV}).String()
	plain, err := enc.Decrypt(payload, "user-1")
	if err != nil {
		t.Fatalf("queued ciphertext does not decrypt: %v", err)
	}
	if plain != "sk-123" {
		t.Errorf("expected queued ciphertext to decrypt to sk-123, got %q", plain)
	}
}

// TestSetEncryptionFailureQueuesNothing verifies the write stays local when
// encryption fails
func TestSetEncryptionFailureQueuesNothing(t *testing.T) {
	storage, store, q, _, cleanup := setupStorage(t, failingEncryptor{})
	defer cleanup()

	ctx := context.Background()
	err := storage.Set(ctx, "openai-api-key", "sk-456")

	var encErr *models.EncryptionError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncryptionError, got %v", err)
	}

	if v, ok, _ := store.Get(ctx, "openai-api-key"); !ok || v != "sk-456" {
		t.Errorf("expected local write to stand, got %q (ok=%v)", v, ok)
	}
	if size, _ := q.Size(ctx); size != 0 {
		t.Errorf("expected nothing queued, got %d", size)
	}
}

// TestKeyClassification verifies which writes reach the queue
func TestKeyClassification(t *testing.T) {
	storage, _, q, _, cleanup := setupStorage(t, newTestEncryptor(t))
	defer cleanup()

	ctx := context.Background()
	testCases := []struct {
		key    string
		queued bool
	}{
		{"theme", true},
		{"tag:7", true},
		{"project:abc", true},
		{"auth-token", false},
		{"ui-sidebar-width", false},
		{"scratch-buffer", false},
	}

	for _, tc := range testCases {
		value := "v"
		if strings.Contains(tc.key, ":") {
			value = `{"id":"x","name":"n"}`
		}
		if err := storage.Set(ctx, tc.key, value); err != nil {
			t.Fatalf("set %s failed: %v", tc.key, err)
		}
		item, err := q.Get(ctx, tc.key)
		if err != nil {
			t.Fatalf("get %s failed: %v", tc.key, err)
		}
		if (item != nil) != tc.queued {
			t.Errorf("%s: expected queued=%v, got %v", tc.key, tc.queued, item != nil)
		}
	}
}

// TestRemoveQueuesDelete verifies removals travel as deletes
func TestRemoveQueuesDelete(t *testing.T) {
	storage, store, q, _, cleanup := setupStorage(t, newTestEncryptor(t))
	defer cleanup()

	ctx := context.Background()
	storage.Set(ctx, "tag:7", `{"id":7,"name":"urgent"}`)
	if err := storage.Remove(ctx, "tag:7"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "tag:7"); ok {
		t.Error("expected local value to be gone")
	}

	item, _ := q.Get(ctx, "tag:7")
	if item == nil || !item.Metadata.Deleted || item.Value != "" {
		t.Fatalf("expected a queued delete, got %+v", item)
	}
	if rec := models.BuildChangeRecord(*item, "user-1"); rec.Operation != models.OperationDelete || rec.Type != models.ChangeTag {
		t.Errorf("unexpected change record %+v", rec)
	}
}

// TestGetDecryptsStoredPayload verifies values pulled encrypted read back as plaintext
func TestGetDecryptsStoredPayload(t *testing.T) {
	enc := newTestEncryptor(t)
	storage, store, _, _, cleanup := setupStorage(t, enc)
	defer cleanup()

	ctx := context.Background()
	payload, err := enc.Encrypt("ghp_abc", "user-1")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	store.Set(ctx, "github-token", payload.String())

	v, ok, err := storage.Get(ctx, "github-token")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if v != "ghp_abc" {
		t.Errorf("expected decrypted value, got %q", v)
	}

	if _, ok, err := storage.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("expected missing key to report not found, got ok=%v err=%v", ok, err)
	}
}

// TestStorageUnavailableKeepsLocalWrite verifies queue failures do not fail the write
func TestStorageUnavailableKeepsLocalWrite(t *testing.T) {
	storage, store, _, sink, cleanup := setupStorage(t, newTestEncryptor(t))
	defer cleanup()

	sink.err = &models.StorageUnavailableError{Err: errors.New("disk full")}

	ctx := context.Background()
	if err := storage.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("expected set to succeed locally, got %v", err)
	}
	if v, _, _ := store.Get(ctx, "theme"); v != "dark" {
		t.Errorf("expected local value 'dark', got %q", v)
	}
}
