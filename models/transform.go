package models

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Change Transform
//
// Pure mapping between the local shape of each record family (what the tools
// store, camelCase, "id" + "updatedAt") and the remote shape the account
// stores (snake_case, "<family>_id", "user_id", "version", "created_at",
// "updated_at"). Projects travel as an opaque "data" blob holding the whole
// local object so fields the account does not know about survive a round trip.
// ============================================================================

// RecordID is a record identifier. Local tools produce both numeric and
// string ids, so it decodes from either and always encodes as a string.
type RecordID string

func (id *RecordID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return serr.Wrap(err, "record id must be a string or a number")
	}
	*id = RecordID(n.String())
	return nil
}

// NewRecordID generates an id for records created without one.
func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

// Record is anything the merge law can order.
type Record interface {
	RecordID() RecordID
	ModifiedAt() int64 // epoch ms, 0 when unknown
}

// ----------------------------------------------------------------------------
// Local shapes

type Tag struct {
	ID        RecordID `json:"id"`
	Name      string   `json:"name"`
	Color     string   `json:"color,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

func (t Tag) RecordID() RecordID { return t.ID }
func (t Tag) ModifiedAt() int64  { return t.UpdatedAt }

type AIInstruction struct {
	ID        RecordID `json:"id"`
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	IsActive  bool     `json:"isActive"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

func (a AIInstruction) RecordID() RecordID { return a.ID }
func (a AIInstruction) ModifiedAt() int64  { return a.UpdatedAt }

type Template struct {
	ID        RecordID `json:"id"`
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	Category  string   `json:"category,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

func (t Template) RecordID() RecordID { return t.ID }
func (t Template) ModifiedAt() int64  { return t.UpdatedAt }

// Project keeps the full local document in Raw; only the fields the
// account indexes are decoded.
type Project struct {
	ID        RecordID        `json:"id"`
	Name      string          `json:"name"`
	CreatedAt int64           `json:"createdAt,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

func (p Project) RecordID() RecordID { return p.ID }
func (p Project) ModifiedAt() int64  { return p.UpdatedAt }

// ParseProject decodes a local project document, keeping the original bytes.
func ParseProject(b []byte) (Project, error) {
	type fields Project
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return Project{}, serr.Wrap(err, "failed to parse project")
	}
	p := Project(f)
	p.Raw = append(json.RawMessage(nil), b...)
	return p, nil
}

// MarshalJSON emits the original document when there is one.
func (p Project) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type fields Project
	return json.Marshal(fields(p))
}

func (p *Project) UnmarshalJSON(b []byte) error {
	parsed, err := ParseProject(b)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ----------------------------------------------------------------------------
// Remote shapes

type RemoteTag struct {
	TagID     RecordID `json:"tag_id"`
	UserID    string   `json:"user_id,omitempty"`
	Name      string   `json:"name"`
	Color     string   `json:"color,omitempty"`
	Version   int      `json:"version,omitempty"`
	CreatedAt int64    `json:"created_at,omitempty"`
	UpdatedAt int64    `json:"updated_at,omitempty"`
}

type RemoteAIInstruction struct {
	InstructionID RecordID `json:"instruction_id"`
	UserID        string   `json:"user_id,omitempty"`
	Name          string   `json:"name"`
	Content       string   `json:"content"`
	IsActive      bool     `json:"is_active"`
	Version       int      `json:"version,omitempty"`
	CreatedAt     int64    `json:"created_at,omitempty"`
	UpdatedAt     int64    `json:"updated_at,omitempty"`
}

type RemoteTemplate struct {
	TemplateID RecordID `json:"template_id"`
	UserID     string   `json:"user_id,omitempty"`
	Name       string   `json:"name"`
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Version    int      `json:"version,omitempty"`
	CreatedAt  int64    `json:"created_at,omitempty"`
	UpdatedAt  int64    `json:"updated_at,omitempty"`
}

type RemoteProject struct {
	ProjectID RecordID        `json:"project_id"`
	UserID    string          `json:"user_id,omitempty"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int             `json:"version,omitempty"`
	CreatedAt int64           `json:"created_at,omitempty"`
	UpdatedAt int64           `json:"updated_at,omitempty"`
}

// RemoteSetting is a setting as the account stores it.
// Encrypted settings carry base64 ciphertext in Value plus their salt and iv.
type RemoteSetting struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted,omitempty"`
	Salt      string `json:"salt,omitempty"`
	IV        string `json:"iv,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// UnmarshalJSON accepts either a bare JSON string or the full object.
func (s *RemoteSetting) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = RemoteSetting{Value: v}
		return nil
	}
	if len(b) > 0 && b[0] != '{' {
		// numbers and booleans are stored as their literal text
		*s = RemoteSetting{Value: string(b)}
		return nil
	}
	type plain RemoteSetting
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return serr.Wrap(err, "failed to parse remote setting")
	}
	*s = RemoteSetting(p)
	return nil
}

// LocalValue is what the local store holds for this setting. Encrypted
// values stay encrypted at rest and are decrypted by SecureStorage on read.
func (s RemoteSetting) LocalValue() string {
	if s.Encrypted {
		return (&EncryptedPayload{Ciphertext: s.Value, Salt: s.Salt, IV: s.IV}).String()
	}
	return s.Value
}

// ----------------------------------------------------------------------------
// Per-family transforms

func TagToRemote(t Tag, userID string) RemoteTag {
	return RemoteTag{TagID: t.ID, UserID: userID, Name: t.Name, Color: t.Color,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func TagFromRemote(r RemoteTag) Tag {
	return Tag{ID: r.TagID, Name: r.Name, Color: r.Color, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func AIInstructionToRemote(a AIInstruction, userID string) RemoteAIInstruction {
	return RemoteAIInstruction{InstructionID: a.ID, UserID: userID, Name: a.Name, Content: a.Content,
		IsActive: a.IsActive, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt}
}

func AIInstructionFromRemote(r RemoteAIInstruction) AIInstruction {
	return AIInstruction{ID: r.InstructionID, Name: r.Name, Content: r.Content, IsActive: r.IsActive,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func TemplateToRemote(t Template, userID string) RemoteTemplate {
	return RemoteTemplate{TemplateID: t.ID, UserID: userID, Name: t.Name, Content: t.Content,
		Category: t.Category, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func TemplateFromRemote(r RemoteTemplate) Template {
	return Template{ID: r.TemplateID, Name: r.Name, Content: r.Content, Category: r.Category,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func ProjectToRemote(p Project, userID string) RemoteProject {
	data, _ := p.MarshalJSON()
	return RemoteProject{ProjectID: p.ID, UserID: userID, Name: p.Name, Data: data,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

// ProjectFromRemote restores the local document from the data blob. The
// remote id and timestamps win over whatever the blob says.
func ProjectFromRemote(r RemoteProject) (Project, error) {
	if len(r.Data) == 0 || bytes.Equal(bytes.TrimSpace(r.Data), []byte("null")) {
		return Project{ID: r.ProjectID, Name: r.Name, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &doc); err != nil {
		return Project{}, serr.Wrap(err, "project data blob is not an object")
	}
	doc["id"], _ = json.Marshal(r.ProjectID)
	if r.UpdatedAt != 0 {
		doc["updatedAt"] = json.RawMessage(strconv.FormatInt(r.UpdatedAt, 10))
	}
	if _, ok := doc["name"]; !ok && r.Name != "" {
		doc["name"], _ = json.Marshal(r.Name)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return Project{}, serr.Wrap(err, "failed to rebuild project document")
	}
	return ParseProject(b)
}

// ----------------------------------------------------------------------------
// Codec registry used by the orchestrator, which only sees JSON strings.

// localRecord is a family record in local JSON form plus what the merge law needs.
type localRecord struct {
	ID       RecordID
	Modified int64
	JSON     string
	Local    bool // came from this device
}

func (r localRecord) RecordID() RecordID { return r.ID }
func (r localRecord) ModifiedAt() int64  { return r.Modified }

type familyCodec struct {
	// parseLocal reads a stored local document.
	parseLocal func(doc []byte) (localRecord, error)
	// toRemote converts a stored local document to the remote wire shape.
	toRemote func(doc []byte, userID string) ([]byte, error)
	// fromRemote converts a remote record to a stored local document.
	fromRemote func(remote []byte) (localRecord, error)
}

func newCodec[L Record, R any](toRemote func(L, string) R, fromRemote func(R) (L, error)) familyCodec {
	parse := func(doc []byte) (L, error) {
		var l L
		err := json.Unmarshal(doc, &l)
		return l, err
	}
	encode := func(l L) (localRecord, error) {
		b, err := json.Marshal(l)
		if err != nil {
			return localRecord{}, err
		}
		return localRecord{ID: l.RecordID(), Modified: l.ModifiedAt(), JSON: string(b)}, nil
	}

	return familyCodec{
		parseLocal: func(doc []byte) (localRecord, error) {
			l, err := parse(doc)
			if err != nil {
				return localRecord{}, serr.Wrap(err, "failed to parse local record")
			}
			return localRecord{ID: l.RecordID(), Modified: l.ModifiedAt(), JSON: string(doc)}, nil
		},
		toRemote: func(doc []byte, userID string) ([]byte, error) {
			l, err := parse(doc)
			if err != nil {
				return nil, serr.Wrap(err, "failed to parse local record")
			}
			return json.Marshal(toRemote(l, userID))
		},
		fromRemote: func(remote []byte) (localRecord, error) {
			var r R
			if err := json.Unmarshal(remote, &r); err != nil {
				return localRecord{}, serr.Wrap(err, "failed to parse remote record")
			}
			l, err := fromRemote(r)
			if err != nil {
				return localRecord{}, err
			}
			return encode(l)
		},
	}
}

func infallible[R, L any](fn func(R) L) func(R) (L, error) {
	return func(r R) (L, error) { return fn(r), nil }
}

var familyCodecs = map[ChangeType]familyCodec{
	ChangeTag:           newCodec(TagToRemote, infallible(TagFromRemote)),
	ChangeAIInstruction: newCodec(AIInstructionToRemote, infallible(AIInstructionFromRemote)),
	ChangeTemplate:      newCodec(TemplateToRemote, infallible(TemplateFromRemote)),
	ChangeProject:       newCodec(ProjectToRemote, ProjectFromRemote),
}

// LocalToRemote converts the stored document under key to its remote JSON.
// Settings pass through unchanged.
func LocalToRemote(key, doc, userID string) (string, error) {
	t := InferChangeType(key)
	codec, ok := familyCodecs[t]
	if !ok {
		return doc, nil
	}
	b, err := codec.toRemote([]byte(doc), userID)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RemoteToLocal converts a remote record or setting for key into the value
// the local store holds.
func RemoteToLocal(key string, remote json.RawMessage) (string, error) {
	t := InferChangeType(key)
	if codec, ok := familyCodecs[t]; ok {
		rec, err := codec.fromRemote(remote)
		if err != nil {
			return "", err
		}
		return rec.JSON, nil
	}

	var s RemoteSetting
	if err := json.Unmarshal(remote, &s); err != nil {
		return "", serr.Wrap(err, "failed to parse remote setting")
	}
	return s.LocalValue(), nil
}
