package models

import (
	"encoding/json"

	"github.com/rohanthewiz/logger"
)

// ============================================================================
// Sync wire protocol
//
// ChangeRecord is what a queued item looks like on the way up. BatchResult
// and Snapshot are what comes back. Family record values are converted to
// their remote shape when the record is built, so the queue only ever holds
// local documents.
// ============================================================================

type ChangeOperation string

const (
	OperationUpsert ChangeOperation = "upsert"
	OperationDelete ChangeOperation = "delete"
)

// ChangeRecord is a single change in an upload batch.
type ChangeRecord struct {
	Type      ChangeType      `json:"type"`
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	Metadata  QueueMetadata   `json:"metadata"`
	Operation ChangeOperation `json:"operation"`
}

// BuildChangeRecord derives the wire record for a queued item.
// A family document that cannot be transformed is sent as stored so one bad
// record never blocks the queue; the account rejects it as a conflict.
func BuildChangeRecord(item QueueItem, userID string) ChangeRecord {
	rec := ChangeRecord{
		Type:      InferChangeType(item.Key),
		Key:       item.Key,
		Value:     item.Value,
		Metadata:  item.Metadata,
		Operation: OperationUpsert,
	}

	if item.Metadata.Deleted {
		rec.Operation = OperationDelete
		rec.Value = ""
		return rec
	}

	if rec.Type != ChangeSetting && item.Value != "" {
		remote, err := LocalToRemote(item.Key, item.Value, userID)
		if err != nil {
			logger.LogErr(err, "failed to transform queued record, sending as stored", "key", item.Key)
		} else {
			rec.Value = remote
		}
	}
	return rec
}

// ConflictDetail is the account's version of a rejected change.
// ServerData is the remote record (or setting) and may be JSON null when the
// account has deleted it.
type ConflictDetail struct {
	Key        string          `json:"key"`
	Message    string          `json:"message"`
	ServerData json.RawMessage `json:"server_data"`
}

// BatchResult is the outcome of one upload.
type BatchResult struct {
	Conflicts       int              `json:"conflicts"`
	ConflictDetails []ConflictDetail `json:"conflict_details"`
	Applied         int              `json:"applied,omitempty"`
}

// Snapshot is the full account state returned by a pull.
type Snapshot struct {
	Settings        map[string]RemoteSetting `json:"settings"`
	Tags            []RemoteTag              `json:"tags"`
	AIInstructions  []RemoteAIInstruction    `json:"aiInstructions"`
	Templates       []RemoteTemplate         `json:"templates"`
	Projects        []RemoteProject          `json:"projects"`
	ServerTimestamp int64                    `json:"serverTimestamp"`
}

// records returns the remote records of one family as local records.
// Records that fail to convert are logged and skipped.
func (s *Snapshot) records(t ChangeType) []localRecord {
	var raws []interface{}
	switch t {
	case ChangeTag:
		for _, r := range s.Tags {
			raws = append(raws, r)
		}
	case ChangeAIInstruction:
		for _, r := range s.AIInstructions {
			raws = append(raws, r)
		}
	case ChangeTemplate:
		for _, r := range s.Templates {
			raws = append(raws, r)
		}
	case ChangeProject:
		for _, r := range s.Projects {
			raws = append(raws, r)
		}
	}

	codec := familyCodecs[t]
	out := make([]localRecord, 0, len(raws))
	for _, raw := range raws {
		b, err := json.Marshal(raw)
		if err != nil {
			logger.LogErr(err, "failed to marshal remote record", "type", string(t))
			continue
		}
		rec, err := codec.fromRemote(b)
		if err != nil {
			logger.LogErr(err, "skipping remote record that could not be transformed", "type", string(t))
			continue
		}
		if rec.ID == "" {
			logger.Info("Skipping remote record without an id", "type", string(t))
			continue
		}
		out = append(out, rec)
	}
	return out
}
