// Package filesystem contains filesystem-based adapter implementations.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/example/fibo/internal/ports/secondary"
)

// JSONCache implements secondary.LocalCache as a single JSON object on disk,
// mapping status labels to counts. Every call parses the whole file, so
// changes made by another process are seen. Writes replace the file atomically.
type JSONCache struct {
	path string
	mu   sync.Mutex
}

// NewJSONCache creates a cache backed by the file at path. The file is
// created on first Set.
func NewJSONCache(path string) *JSONCache {
	return &JSONCache{path: path}
}

// Get returns the cached count for key, or 0 if none has been stored.
func (c *JSONCache) Get(ctx context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts, err := c.load()
	if err != nil {
		return 0, err
	}
	return counts[key], nil
}

// Set re-reads the file, stores value for key and rewrites the whole object.
func (c *JSONCache) Set(ctx context.Context, key string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts, err := c.load()
	if err != nil {
		return err
	}
	counts[key] = value
	return c.write(counts)
}

// Keys returns the stored keys in sorted order.
func (c *JSONCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts, err := c.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// load parses the whole file. A missing file is an empty cache.
func (c *JSONCache) load() (map[string]int, error) {
	counts := make(map[string]int)

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return counts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &counts); err != nil {
			return nil, fmt.Errorf("failed to parse cache %s: %w", c.path, err)
		}
	}
	return counts, nil
}

func (c *JSONCache) write(counts map[string]int) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}

// Ensure JSONCache implements the interface
var _ secondary.LocalCache = (*JSONCache)(nil)
