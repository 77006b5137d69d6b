package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONCache_MissingFileReadsZero(t *testing.T) {
	cache := NewJSONCache(filepath.Join(t.TempDir(), "counts.json"))

	got, err := cache.Get(context.Background(), "Published")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestJSONCache_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "counts.json")
	ctx := context.Background()

	cache := NewJSONCache(path)
	if err := cache.Set(ctx, "Published", 3); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Set(ctx, "Shares", 4); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened := NewJSONCache(path)
	got, err := reopened.Get(ctx, "Published")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 3 {
		t.Errorf("expected 3, got %d", got)
	}

	keys, err := reopened.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "Published" || keys[1] != "Shares" {
		t.Errorf("unexpected keys: %v", keys)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestJSONCache_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	cache := NewJSONCache(path)
	if _, err := cache.Get(context.Background(), "Published"); err == nil {
		t.Error("expected parse error")
	}
	if err := cache.Set(context.Background(), "Published", 1); err == nil {
		t.Error("expected Set to refuse overwriting an unreadable cache")
	}
}

func TestJSONCache_SeesExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.json")
	ctx := context.Background()

	cache := NewJSONCache(path)
	if err := cache.Set(ctx, "Published", 3); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Another process rewrites the file.
	if err := os.WriteFile(path, []byte(`{"Published": 9}`), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	got, err := cache.Get(ctx, "Published")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 9 {
		t.Errorf("Get after external write = %d, want 9", got)
	}

	if err := cache.Set(ctx, "Shares", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	reopened := NewJSONCache(path)
	if got, _ := reopened.Get(ctx, "Published"); got != 9 {
		t.Errorf("Set overwrote external value: Published = %d, want 9", got)
	}
	if got, _ := reopened.Get(ctx, "Shares"); got != 1 {
		t.Errorf("Shares = %d, want 1", got)
	}
}
