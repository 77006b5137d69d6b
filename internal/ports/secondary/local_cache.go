package secondary

import "context"

// LocalCache defines the secondary port for the durable key -> count store.
// Keys are status labels. A key that was never written reads as 0.
type LocalCache interface {
	// Get returns the cached count for key.
	Get(ctx context.Context, key string) (int, error)

	// Set stores the count for key, replacing any previous value.
	Set(ctx context.Context, key string, value int) error
}
