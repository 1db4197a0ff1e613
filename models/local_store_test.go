package models_test

import (
	"context"
	"reflect"
	"testing"

	"toolsync/models"
)

func TestLocalStoreSetGetRemove(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := models.NewLocalStore(db)

	if _, ok, err := store.Get(ctx, "theme"); ok || err != nil {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "theme", "light"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	v, ok, err := store.Get(ctx, "theme")
	if err != nil || !ok || v != "light" {
		t.Errorf("expected light, got %q ok=%v err=%v", v, ok, err)
	}

	if err := store.Remove(ctx, "theme"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "theme"); ok {
		t.Error("expected key to be gone")
	}
	if err := store.Remove(ctx, "theme"); err != nil {
		t.Errorf("removing a missing key should not fail: %v", err)
	}
}

func TestLocalStorePrefixScan(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := models.NewLocalStore(db)

	for key, value := range map[string]string{
		"tag:2":       `{"id":2}`,
		"tag:1":       `{"id":1}`,
		"template:1":  `{"id":1}`,
		"theme":       "dark",
		"project:abc": `{"id":"abc"}`,
	} {
		if err := store.Set(ctx, key, value); err != nil {
			t.Fatalf("set %s failed: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "tag:")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"tag:1", "tag:2"}) {
		t.Errorf("expected sorted tag keys, got %v", keys)
	}

	all, err := store.Keys(ctx, "")
	if err != nil || len(all) != 5 {
		t.Errorf("expected 5 keys, got %v (err %v)", all, err)
	}

	entries, err := store.Entries(ctx, "t")
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != 4 || entries["theme"] != "dark" || entries["template:1"] != `{"id":1}` {
		t.Errorf("unexpected entries %v", entries)
	}
}
