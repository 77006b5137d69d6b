package cli

import (
	"fmt"

	"github.com/example/fibo/internal/adapters/memstore"
)

// seedDemo fills store with a small data set for actor so every default
// counter has something to count.
func seedDemo(store *memstore.Store, actor string) error {
	docs := []struct {
		path string
		data map[string]any
	}{
		{fmt.Sprintf("users/%s/favorites/f1", actor), map[string]any{"title": "Sunset"}},
		{fmt.Sprintf("users/%s/favorites/f2", actor), map[string]any{"title": "Harbor"}},
		{"providers/acme", map[string]any{"members": []any{actor, "someone-else"}}},
		{"providers/globex", map[string]any{"members": []any{"someone-else"}}},
		{fmt.Sprintf("users/%s/projects/p1", actor), map[string]any{"status": "FiboShare", "published": true}},
		{fmt.Sprintf("users/%s/projects/p2", actor), map[string]any{"status": "Draft", "published": false}},
		{fmt.Sprintf("users/%s/projects/p3", actor), map[string]any{"status": "FiboShare", "published": false}},
	}

	for _, d := range docs {
		if err := store.Set(d.path, d.data); err != nil {
			return err
		}
	}
	return nil
}
