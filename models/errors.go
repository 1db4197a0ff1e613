package models

import (
	"fmt"
	"time"
)

// ============================================================================
// Typed sync errors
//
// Components that classify a failure return one of these directly (never
// wrapped) so callers can branch on it with errors.As.
// ============================================================================

// TransportError is a network or server failure during an upload or pull.
// The orchestrator retries these with backoff.
type TransportError struct {
	Op         string // "sync_batch", "sync_all", "health"
	StatusCode int    // 0 when the request never got a response
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the bearer token was rejected or has expired.
// It is never retried; the session layer decides what to do.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// EncryptionError fails a single Set of a sensitive key.
type EncryptionError struct {
	Key string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("could not encrypt value for %q: %v", e.Key, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// StorageUnavailableError means the durable queue could not be read or written.
type StorageUnavailableError struct {
	Err error
}

func (e *StorageUnavailableError) Error() string {
	return "sync queue storage unavailable: " + e.Err.Error()
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// ConflictNotice is delivered to conflict listeners when the server rejected
// a local change and its version was applied locally. It is informational.
type ConflictNotice struct {
	Key        string
	Message    string
	Patch      string // diffmatchpatch text from the local value to the server value
	ResolvedAt time.Time
}
