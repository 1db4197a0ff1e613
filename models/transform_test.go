package models_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"toolsync/models"
)

// TestTagTransformRoundTrip verifies id aliasing and timestamps survive
func TestTagTransformRoundTrip(t *testing.T) {
	var local models.Tag
	if err := json.Unmarshal([]byte(`{"id":7,"name":"urgent","color":"red","updatedAt":100}`), &local); err != nil {
		t.Fatalf("failed to parse local tag: %v", err)
	}
	if local.ID != "7" {
		t.Fatalf("expected numeric id to decode as \"7\", got %q", local.ID)
	}

	remote := models.TagToRemote(local, "user-1")
	if remote.TagID != "7" || remote.UserID != "user-1" || remote.UpdatedAt != 100 {
		t.Errorf("unexpected remote tag %+v", remote)
	}

	back := models.TagFromRemote(remote)
	if !reflect.DeepEqual(back, local) {
		t.Errorf("round trip mismatch: %+v != %+v", back, local)
	}
}

// TestLocalToRemoteShapes verifies the wire shape of each family
func TestLocalToRemoteShapes(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		local   string
		idField string
	}{
		{"tag", "tag:7", `{"id":7,"name":"urgent"}`, "tag_id"},
		{"ai instruction", "ai_instruction:3", `{"id":3,"name":"terse","content":"be brief","isActive":true}`, "instruction_id"},
		{"template", "template:12", `{"id":12,"name":"report","content":"# {{title}}"}`, "template_id"},
		{"project", "project:abc", `{"id":"abc","name":"Q3","canvas":{"zoom":2}}`, "project_id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := models.LocalToRemote(tc.key, tc.local, "user-1")
			if err != nil {
				t.Fatalf("transform failed: %v", err)
			}

			var fields map[string]json.RawMessage
			if err := json.Unmarshal([]byte(out), &fields); err != nil {
				t.Fatalf("remote record is not an object: %v", err)
			}
			if _, ok := fields[tc.idField]; !ok {
				t.Errorf("expected %s in %s", tc.idField, out)
			}
			if string(fields["user_id"]) != `"user-1"` {
				t.Errorf("expected user_id user-1, got %s", fields["user_id"])
			}
		})
	}
}

// TestProjectDataBlobPreservesUnknownFields verifies projects round trip
// through the opaque data blob
func TestProjectDataBlobPreservesUnknownFields(t *testing.T) {
	local := `{"id":"abc","name":"Q3","canvas":{"zoom":2},"updatedAt":50}`

	remoteJSON, err := models.LocalToRemote("project:abc", local, "user-1")
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	var remote models.RemoteProject
	if err := json.Unmarshal([]byte(remoteJSON), &remote); err != nil {
		t.Fatalf("failed to parse remote project: %v", err)
	}
	remote.UpdatedAt = 80 // the account bumped it

	back, err := models.ProjectFromRemote(remote)
	if err != nil {
		t.Fatalf("reverse transform failed: %v", err)
	}
	if back.ID != "abc" || back.UpdatedAt != 80 || back.Name != "Q3" {
		t.Errorf("unexpected project %+v", back)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(back.Raw, &doc); err != nil {
		t.Fatalf("restored document is not an object: %v", err)
	}
	canvas, ok := doc["canvas"].(map[string]interface{})
	if !ok || canvas["zoom"] != float64(2) {
		t.Errorf("expected canvas to survive, got %v", doc["canvas"])
	}
}

// TestRemoteToLocalSettings verifies plain and encrypted settings
func TestRemoteToLocalSettings(t *testing.T) {
	plain, err := models.RemoteToLocal("theme", json.RawMessage(`"dark"`))
	if err != nil || plain != "dark" {
		t.Errorf("expected plain setting 'dark', got %q (err %v)", plain, err)
	}

	obj, err := models.RemoteToLocal("theme", json.RawMessage(`{"value":"light"}`))
	if err != nil || obj != "light" {
		t.Errorf("expected object setting 'light', got %q (err %v)", obj, err)
	}

	enc, err := models.RemoteToLocal("github-token",
		json.RawMessage(`{"value":"Y2lwaGVy","encrypted":true,"salt":"c2FsdA==","iv":"aXY="}`))
	if err != nil {
		t.Fatalf("encrypted setting failed: %v", err)
	}
	p, ok := models.ParseEncryptedPayload(enc)
	if !ok || p.Ciphertext != "Y2lwaGVy" || p.Salt != "c2FsdA==" || p.IV != "aXY=" {
		t.Errorf("expected encrypted payload to be kept, got %q", enc)
	}
}

// TestInferChangeType verifies key prefixes map to families
func TestInferChangeType(t *testing.T) {
	testCases := map[string]models.ChangeType{
		"theme":            models.ChangeSetting,
		"tag:7":            models.ChangeTag,
		"ai_instruction:3": models.ChangeAIInstruction,
		"template:12":      models.ChangeTemplate,
		"project:abc":      models.ChangeProject,
		"tag:":             models.ChangeSetting,
	}
	for key, want := range testCases {
		if got := models.InferChangeType(key); got != want {
			t.Errorf("%s: expected %s, got %s", key, want, got)
		}
	}
}
