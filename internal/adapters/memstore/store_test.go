package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/example/fibo/internal/ports/secondary"
)

func TestSubscribe_DeliversInitialAndChanges(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Set("users/u1/projects/p1", map[string]any{"status": "Published"}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	var sizes []int
	cancel, err := store.Subscribe(ctx, secondary.Query{
		Path:    "users/u1/projects",
		Filters: []secondary.Filter{{Field: "status", Op: secondary.OpEqual, Value: "Published"}},
	}, secondary.QueryListener{
		OnSnapshot: func(docs []secondary.Document) { sizes = append(sizes, len(docs)) },
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	_ = store.Set("users/u1/projects/p2", map[string]any{"status": "Published"})
	_ = store.Set("users/u1/projects/p3", map[string]any{"status": "Draft"})
	_ = store.Set("users/u2/projects/p9", map[string]any{"status": "Published"})
	store.Delete("users/u1/projects/p1")

	want := []int{1, 2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("sizes[%d] = %d, want %d", i, sizes[i], want[i])
		}
	}

	cancel()
	cancel()
	_ = store.Set("users/u1/projects/p4", map[string]any{"status": "Published"})
	if len(sizes) != len(want) {
		t.Errorf("received snapshot after cancel: %v", sizes)
	}
	if store.ActiveSubscriptions() != 0 {
		t.Errorf("ActiveSubscriptions() = %d, want 0", store.ActiveSubscriptions())
	}
}

func TestSubscribeDocument_TracksExistence(t *testing.T) {
	store := New()

	var snaps []secondary.DocumentSnapshot
	_, err := store.SubscribeDocument(context.Background(), "users/u1/projects/p1", secondary.DocumentListener{
		OnSnapshot: func(s secondary.DocumentSnapshot) { snaps = append(snaps, s) },
	})
	if err != nil {
		t.Fatalf("SubscribeDocument() error: %v", err)
	}

	_ = store.Set("users/u1/projects/p1", map[string]any{"status": "FiboShare"})
	store.Delete("users/u1/projects/p1")

	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snaps))
	}
	if snaps[0].Exists || !snaps[1].Exists || snaps[2].Exists {
		t.Errorf("existence sequence = %v %v %v", snaps[0].Exists, snaps[1].Exists, snaps[2].Exists)
	}
	if snaps[1].ID != "p1" || snaps[1].Data["status"] != "FiboShare" {
		t.Errorf("unexpected snapshot: %+v", snaps[1])
	}
}

func TestSubscribe_RejectsInvalidPaths(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.Subscribe(ctx, secondary.Query{Path: "users/u1"}, secondary.QueryListener{}); err == nil {
		t.Error("expected error for document path query")
	}
	if _, err := store.SubscribeDocument(ctx, "users", secondary.DocumentListener{}); err == nil {
		t.Error("expected error for collection path document subscription")
	}
	if err := store.Set("users", nil); err == nil {
		t.Error("expected error writing to a collection path")
	}
}

func TestFail_DeliversErrorAndCancels(t *testing.T) {
	store := New()
	boom := errors.New("permission denied")

	var gotErr error
	_, err := store.Subscribe(context.Background(), secondary.Query{Path: "users/u1/projects"}, secondary.QueryListener{
		OnSnapshot: func([]secondary.Document) {},
		OnError:    func(err error) { gotErr = err },
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	store.Fail("users/u1", boom)

	if !errors.Is(gotErr, boom) {
		t.Errorf("OnError got %v, want %v", gotErr, boom)
	}
	if store.ActiveSubscriptions() != 0 {
		t.Errorf("ActiveSubscriptions() = %d, want 0", store.ActiveSubscriptions())
	}
}

func TestGet(t *testing.T) {
	store := New()
	_ = store.Set("projects/a", map[string]any{"tags": []any{"x"}})
	_ = store.Set("projects/b", map[string]any{"tags": []any{"y"}})

	docs, err := store.Get(context.Background(), secondary.Query{
		Path:    "projects",
		Filters: []secondary.Filter{{Field: "tags", Op: secondary.OpArrayContains, Value: "y"}},
	})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b" {
		t.Errorf("Get() = %+v, want [b]", docs)
	}
}
