package models

import (
	"context"
	"errors"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Encrypting Storage Wrapper
//
// The tools read and write through SecureStorage instead of the raw store.
// Writes land locally first and are never rolled back. Sync-eligible keys are
// then handed to the change sink (the orchestrator); sensitive keys are
// encrypted for the upload while the local copy stays plaintext.
// ============================================================================

// ChangeSink receives local changes that need uploading.
type ChangeSink interface {
	EnqueueChange(ctx context.Context, key, value string, meta QueueMetadata) error
}

// SecureStorage wraps a LocalStore with key classification and encryption.
type SecureStorage struct {
	store     *LocalStore
	sink      ChangeSink // nil when sync is disabled
	encryptor Encryptor
	session   *Session
}

// NewSecureStorage wires the wrapper. sink and session may be nil for a
// device that is not signed in; writes then stay local.
func NewSecureStorage(store *LocalStore, sink ChangeSink, encryptor Encryptor, session *Session) *SecureStorage {
	return &SecureStorage{store: store, sink: sink, encryptor: encryptor, session: session}
}

func (s *SecureStorage) identity() string {
	if s.session == nil {
		return ""
	}
	return s.session.Identity()
}

// Get returns the value for key, decrypting it when it is stored encrypted.
func (s *SecureStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	if s.encryptor != nil && s.encryptor.IsEncrypted(value) {
		plain, err := s.encryptor.Decrypt(value, s.identity())
		if err != nil {
			return "", true, &EncryptionError{Key: key, Err: err}
		}
		return plain, true, nil
	}
	return value, true, nil
}

// Set writes value locally and queues it for upload when the key syncs.
// An *EncryptionError means the local write happened but nothing was queued.
func (s *SecureStorage) Set(ctx context.Context, key, value string) error {
	if err := s.store.Set(ctx, key, value); err != nil {
		return serr.Wrap(err, "failed to write local value")
	}

	if s.sink == nil || !IsSyncEligible(key) {
		return nil
	}

	upload, meta, err := PrepareChange(s.encryptor, s.identity(), key, value)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, key, upload, meta)
}

// Remove deletes key locally and queues a delete when the key syncs.
func (s *SecureStorage) Remove(ctx context.Context, key string) error {
	if err := s.store.Remove(ctx, key); err != nil {
		return serr.Wrap(err, "failed to remove local value")
	}

	if s.sink == nil || !IsSyncEligible(key) {
		return nil
	}
	return s.enqueue(ctx, key, "", QueueMetadata{Deleted: true})
}

// enqueue hands a change to the sink. A queue storage failure has already
// put the orchestrator into degraded mode; the local write stands, so it is
// only logged here.
func (s *SecureStorage) enqueue(ctx context.Context, key, value string, meta QueueMetadata) error {
	err := s.sink.EnqueueChange(ctx, key, value, meta)
	if err == nil {
		return nil
	}

	var storageErr *StorageUnavailableError
	if errors.As(err, &storageErr) {
		logger.LogErr(err, "change kept locally, sync queue unavailable", "key", key)
		return nil
	}
	return serr.Wrap(err, "failed to queue change for "+key)
}

// PrepareChange computes what gets queued for a local value: sensitive keys
// are encrypted for identity, and values already stored encrypted are split
// into ciphertext plus salt/iv metadata.
func PrepareChange(enc Encryptor, identity, key, value string) (string, QueueMetadata, error) {
	if p, ok := ParseEncryptedPayload(value); ok {
		return p.Ciphertext, QueueMetadata{Encrypted: true, Salt: p.Salt, IV: p.IV}, nil
	}

	if !IsSensitive(key) {
		return value, QueueMetadata{}, nil
	}

	if enc == nil {
		return "", QueueMetadata{}, &EncryptionError{Key: key, Err: serr.New("no encryptor configured")}
	}
	p, err := enc.Encrypt(value, identity)
	if err != nil {
		return "", QueueMetadata{}, &EncryptionError{Key: key, Err: err}
	}
	return p.Ciphertext, QueueMetadata{Encrypted: true, Salt: p.Salt, IV: p.IV}, nil
}
