package models_test

import (
	"context"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"

	"toolsync/models"
)

func TestConflictLogRecordAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := models.NewConflictLog(db)

	first := log.Record(ctx, "tag:7", `{"id":"7","name":"mine"}`, `{"id":"7","name":"theirs"}`,
		models.ResolutionServerWins, "newer on server")
	if first.ID == 0 {
		t.Fatal("expected the conflict to be persisted")
	}
	if first.Patch == "" {
		t.Fatal("expected a patch")
	}

	// The stored patch must turn the local value into the server value
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(first.Patch)
	if err != nil {
		t.Fatalf("patch does not parse: %v", err)
	}
	applied, _ := dmp.PatchApply(patches, first.LocalValue)
	if applied != first.ServerValue {
		t.Errorf("patch produced %q, want %q", applied, first.ServerValue)
	}

	log.Record(ctx, "theme", "dark", "", models.ResolutionDeleted, "deleted on server")

	conflicts, err := log.ListConflicts(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d", len(conflicts))
	}
	if conflicts[0].Key != "theme" || conflicts[0].Resolution != models.ResolutionDeleted {
		t.Errorf("expected newest conflict first, got %+v", conflicts[0])
	}
	if conflicts[1].Message != "newer on server" {
		t.Errorf("unexpected message %q", conflicts[1].Message)
	}
}

// TestConflictLogRedactsSensitiveValues verifies secrets never reach the audit table
func TestConflictLogRedactsSensitiveValues(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := models.NewConflictLog(db)

	c := log.Record(ctx, "claude-api-key", "sk-local", "sk-server", models.ResolutionServerWins, "")
	if strings.Contains(c.LocalValue+c.ServerValue+c.Patch, "sk-") {
		t.Errorf("sensitive value leaked into the audit record: %+v", c)
	}

	stored, err := log.ListConflicts(ctx, 1)
	if err != nil || len(stored) != 1 {
		t.Fatalf("list failed: %v", err)
	}
	if strings.Contains(stored[0].LocalValue+stored[0].ServerValue, "sk-") {
		t.Errorf("sensitive value leaked into storage: %+v", stored[0])
	}
}
