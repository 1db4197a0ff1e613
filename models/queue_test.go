package models_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"toolsync/models"
)

// TestEnqueueDedupsByKey verifies a re-enqueued key replaces the pending item
// and keeps its id and attempts
func TestEnqueueDedupsByKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := models.NewDurableQueue(db)

	first, err := q.Enqueue(ctx, "theme", "dark", models.QueueMetadata{})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.IncrementAttempts(ctx, first.ID); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	second, err := q.Enqueue(ctx, "theme", "light", models.QueueMetadata{})
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}

	size, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected 1 queued item, got %d", size)
	}

	item, err := q.Get(ctx, "theme")
	if err != nil || item == nil {
		t.Fatalf("get failed: item=%v err=%v", item, err)
	}
	if item.Value != "light" {
		t.Errorf("expected value 'light', got %q", item.Value)
	}
	if item.ID != first.ID || second.ID != first.ID {
		t.Errorf("expected id %d to be preserved, got %d / %d", first.ID, item.ID, second.ID)
	}
	if item.Attempts != 1 {
		t.Errorf("expected attempts 1 to be preserved, got %d", item.Attempts)
	}
	if item.LastAttempt == nil {
		t.Error("expected last attempt to be preserved")
	}
	if !item.Metadata.EnqueuedAt.After(first.Metadata.EnqueuedAt) {
		t.Errorf("expected enqueued_at to be refreshed: %v -> %v",
			first.Metadata.EnqueuedAt, item.Metadata.EnqueuedAt)
	}
}

// TestGetBatchIsFIFO verifies batches come out oldest first and respect the limit
func TestGetBatchIsFIFO(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := models.NewDurableQueue(db)

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(ctx, fmt.Sprintf("tag:%d", i), fmt.Sprintf(`{"id":%d}`, i), models.QueueMetadata{}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	batch, err := q.GetBatch(ctx, 3)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 items, got %d", len(batch))
	}
	for i, item := range batch {
		want := fmt.Sprintf("tag:%d", i)
		if item.Key != want {
			t.Errorf("position %d: expected %s, got %s", i, want, item.Key)
		}
	}

	// Re-enqueueing moves a key to the back
	time.Sleep(2 * time.Millisecond)
	if _, err := q.Enqueue(ctx, "tag:0", `{"id":0,"name":"x"}`, models.QueueMetadata{}); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	all, err := q.GetBatch(ctx, 10)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if all[len(all)-1].Key != "tag:0" {
		t.Errorf("expected re-enqueued key last, got %s", all[len(all)-1].Key)
	}

	ids := []int64{all[0].ID, all[1].ID}
	if err := q.RemoveBatch(ctx, ids); err != nil {
		t.Fatalf("remove batch failed: %v", err)
	}
	if size, _ := q.Size(ctx); size != 3 {
		t.Errorf("expected 3 items after removal, got %d", size)
	}
}

// TestRemoveDeliveredKeepsNewerWrites verifies an item re-enqueued while its
// batch was in flight survives removal
func TestRemoveDeliveredKeepsNewerWrites(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := models.NewDurableQueue(db)

	q.Enqueue(ctx, "theme", "dark", models.QueueMetadata{})
	q.Enqueue(ctx, "editor-font-size", "14", models.QueueMetadata{})

	batch, err := q.GetBatch(ctx, 10)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := q.Enqueue(ctx, "theme", "light", models.QueueMetadata{}); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}

	removed, err := q.RemoveDelivered(ctx, batch)
	if err != nil {
		t.Fatalf("remove delivered failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	item, _ := q.Get(ctx, "theme")
	if item == nil || item.Value != "light" {
		t.Fatalf("expected newer theme write to stay queued, got %+v", item)
	}
}

// TestFailedItems verifies the attempts threshold for inspection and purge
func TestFailedItems(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	q := models.NewDurableQueue(db)

	bad, _ := q.Enqueue(ctx, "tag:bad", `{"id":"bad"}`, models.QueueMetadata{})
	q.Enqueue(ctx, "tag:good", `{"id":"good"}`, models.QueueMetadata{})

	for i := 0; i < 3; i++ {
		if err := q.IncrementAttempts(ctx, bad.ID); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	failed, err := q.GetFailedItems(ctx, 3)
	if err != nil {
		t.Fatalf("get failed items failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Key != "tag:bad" {
		t.Fatalf("expected only tag:bad to be failed, got %+v", failed)
	}
	if failed[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", failed[0].Attempts)
	}

	n, err := q.RemoveFailedItems(ctx, 3)
	if err != nil {
		t.Fatalf("remove failed items failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged item, got %d", n)
	}
	if size, _ := q.Size(ctx); size != 1 {
		t.Errorf("expected 1 remaining item, got %d", size)
	}
}

// TestQueueSurvivesRestart verifies pending items persist across reopen
func TestQueueSurvivesRestart(t *testing.T) {
	db, path := setupFileDB(t)
	ctx := context.Background()

	q := models.NewDurableQueue(db)
	meta := models.QueueMetadata{Encrypted: true, Salt: "c2FsdA==", IV: "aXY="}
	if _, err := q.Enqueue(ctx, "github-token", "Y2lwaGVy", meta); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "theme", "", models.QueueMetadata{Deleted: true}); err != nil {
		t.Fatalf("enqueue delete failed: %v", err)
	}
	db.Close()

	reopened, err := models.OpenDB(path)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	defer reopened.Close()

	q = models.NewDurableQueue(reopened)
	items, err := q.GetBatch(ctx, 10)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after restart, got %d", len(items))
	}

	token := items[0]
	if token.Key != "github-token" || !token.Metadata.Encrypted || token.Metadata.Salt != "c2FsdA==" || token.Metadata.IV != "aXY=" {
		t.Errorf("encrypted item not restored intact: %+v", token)
	}
	if !items[1].Metadata.Deleted {
		t.Errorf("expected delete marker to survive restart: %+v", items[1])
	}
}

// TestEnqueueRejectsEmptyKey verifies the key is required
func TestEnqueueRejectsEmptyKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	q := models.NewDurableQueue(db)
	if _, err := q.Enqueue(context.Background(), "", "x", models.QueueMetadata{}); err == nil {
		t.Error("expected an error for an empty key")
	}
}
