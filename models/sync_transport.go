package models

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Transport moves changes between the device and the account.
type Transport interface {
	SyncBatch(ctx context.Context, changes []ChangeRecord) (*BatchResult, error)
	SyncAll(ctx context.Context) (*Snapshot, error)
}

// ============================================================================
// Hub Transport
//
// HTTP client for the account hub. Every request carries the session's bearer
// token. Responses use the {success, data, error} envelope. A 401/403 becomes
// an *AuthError and is not retried here; everything else that fails becomes
// a *TransportError for the orchestrator's backoff.
// ============================================================================

// HubTransport talks to the hub over HTTP.
type HubTransport struct {
	hubURL     string
	session    *Session
	httpClient *http.Client
	useMsgPack bool
}

// NewHubTransport builds a transport for hubURL authenticated as session.
// With useMsgPack set, change values travel msgpack+base64 encoded.
func NewHubTransport(hubURL string, session *Session, useMsgPack bool) *HubTransport {
	return &HubTransport{
		hubURL:  strings.TrimRight(hubURL, "/"),
		session: session,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		useMsgPack: useMsgPack,
	}
}

// wireChange is a ChangeRecord as posted. When the body is msgpack encoded
// Value is empty and ValueEncoded carries it.
type wireChange struct {
	ChangeRecord
	ValueEncoded string `json:"value_encoded,omitempty"`
}

type batchRequest struct {
	Changes []wireChange `json:"changes"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// SyncBatch uploads changes and returns the account's verdict.
func (h *HubTransport) SyncBatch(ctx context.Context, changes []ChangeRecord) (*BatchResult, error) {
	const op = "sync_batch"

	req := batchRequest{Changes: make([]wireChange, 0, len(changes))}
	for _, c := range changes {
		wc := wireChange{ChangeRecord: c}
		if h.useMsgPack && c.Value != "" {
			encoded, err := EncodeMsgPackValue(c.Value)
			if err != nil {
				return nil, &TransportError{Op: op, Err: err}
			}
			wc.Value = ""
			wc.ValueEncoded = encoded
		}
		req.Changes = append(req.Changes, wc)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: serr.Wrap(err, "failed to marshal batch request")}
	}

	data, err := h.do(ctx, op, http.MethodPost, "/api/v1/sync/batch", body)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, result); err != nil {
			return nil, &TransportError{Op: op, Err: serr.Wrap(err, "failed to decode batch result")}
		}
	}

	logger.Debug("Batch uploaded", "changes", len(changes), "conflicts", result.Conflicts)
	return result, nil
}

// SyncAll downloads the full account snapshot.
func (h *HubTransport) SyncAll(ctx context.Context) (*Snapshot, error) {
	const op = "sync_all"

	data, err := h.do(ctx, op, http.MethodGet, "/api/v1/sync/all", nil)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, &TransportError{Op: op, Err: serr.Wrap(err, "failed to decode snapshot")}
	}
	return snap, nil
}

// do sends one authenticated request and unwraps the envelope.
func (h *HubTransport) do(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if h.session == nil {
		return nil, &AuthError{Err: serr.New("no session")}
	}
	if h.session.Expired(time.Now()) {
		return nil, &AuthError{Err: serr.New("auth token expired")}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.hubURL+path, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: serr.Wrap(err, "failed to create request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.session.Token)
	if h.useMsgPack {
		req.Header.Set(BodyEncodingHeader, BodyEncodingMsgPack)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: serr.Wrap(err, "request failed")}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serr.Wrap(err, "failed to read response")}
	}

	var env apiEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &AuthError{StatusCode: resp.StatusCode, Err: serr.New(msg)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serr.New(msg)}
	}

	if decodeErr != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serr.Wrap(decodeErr, "failed to decode response envelope")}
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = op + " returned success=false"
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: serr.New(msg)}
	}
	return env.Data, nil
}
