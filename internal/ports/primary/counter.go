package primary

import (
	"context"

	"github.com/example/fibo/internal/ports/secondary"
)

// CounterService defines the primary port for live counters.
// Views sign an actor in, then watch counter definitions under that actor.
type CounterService interface {
	// SignIn makes actorID current. Every watch of the previous actor is
	// cancelled before the new actor becomes current.
	SignIn(ctx context.Context, actorID string) error

	// SignOut cancels every watch and clears the current actor.
	SignOut(ctx context.Context) error

	// CurrentActor returns the signed-in actor, or empty string.
	CurrentActor() string

	// Watch starts a live counter. The actor is taken from ctx and must be the
	// signed-in actor. The observer first receives the cached value (Stale),
	// then every live value.
	Watch(ctx context.Context, def CounterDefinition, observer CountObserver) (Watch, error)

	// CachedCount reads the last reconciled value for key from the local cache.
	CachedCount(ctx context.Context, key string) (int, error)
}

// Watch is a running counter.
type Watch interface {
	// Key returns the counter key.
	Key() string

	// Cancel stops the counter. No notification is delivered after it returns.
	// It waits for a notification in progress, so observers must not call it
	// from OnCount or OnError.
	Cancel()
}

// CounterDefinition describes one counter at the port boundary.
type CounterDefinition struct {
	Key     string // status label, also the cache key
	Mode    string // "query" or "cascade"
	Path    string // collection path, may contain {actor}
	Filters []secondary.Filter
	Match   string // refinement expression; required for cascade
	Panel   string // panel that renders this counter expanded, optional
}

// CountUpdate is one value delivered to an observer.
type CountUpdate struct {
	Key   string
	Value int
	// Stale marks the cold-start value read from the cache before the first
	// live aggregate has been reconciled.
	Stale bool
}

// CountObserver receives counter values and failures.
// Calls for one service are never concurrent.
type CountObserver interface {
	OnCount(update CountUpdate)
	OnError(key string, err error)
}

// CountObserverFuncs adapts plain functions to CountObserver. Nil fields are ignored.
type CountObserverFuncs struct {
	Count func(update CountUpdate)
	Error func(key string, err error)
}

// OnCount implements CountObserver.
func (f CountObserverFuncs) OnCount(update CountUpdate) {
	if f.Count != nil {
		f.Count(update)
	}
}

// OnError implements CountObserver.
func (f CountObserverFuncs) OnError(key string, err error) {
	if f.Error != nil {
		f.Error(key, err)
	}
}
