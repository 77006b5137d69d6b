package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/ctxutil"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/ports/primary"
	"github.com/example/fibo/internal/ports/secondary"
	"github.com/example/fibo/internal/refine"
)

// ErrActorMismatch is returned when a watch is requested for an actor other
// than the signed-in one.
var ErrActorMismatch = errors.New("actor mismatch")

// CounterServiceImpl implements the CounterService interface.
type CounterServiceImpl struct {
	store  secondary.RemoteStore
	cache  secondary.LocalCache
	events *eventloop.Queue
	writes *eventloop.Queue
	logger *slog.Logger

	// switchMu serializes actor changes.
	switchMu sync.Mutex

	mu      sync.Mutex
	actor   string
	watches map[*counterWatch]struct{}
}

// NewCounterService creates a new CounterService with injected dependencies.
// events runs subscription callbacks; writes runs cache reconciliation.
func NewCounterService(store secondary.RemoteStore, cache secondary.LocalCache, events, writes *eventloop.Queue, logger *slog.Logger) *CounterServiceImpl {
	return &CounterServiceImpl{
		store:   store,
		cache:   cache,
		events:  events,
		writes:  writes,
		logger:  logger,
		watches: make(map[*counterWatch]struct{}),
	}
}

// SignIn makes actorID current, cancelling every watch of the previous actor first.
func (s *CounterServiceImpl) SignIn(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ctxutil.ErrNoActor
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	released := s.detachAll()
	s.logger.Info("actor signed in", slog.String("actor", actorID), slog.Int("released_watches", released))

	s.mu.Lock()
	s.actor = actorID
	s.mu.Unlock()
	return nil
}

// SignOut cancels every watch and clears the current actor.
func (s *CounterServiceImpl) SignOut(ctx context.Context) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	released := s.detachAll()
	s.logger.Info("actor signed out", slog.Int("released_watches", released))
	return nil
}

// CurrentActor returns the signed-in actor.
func (s *CounterServiceImpl) CurrentActor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// Watch starts a live counter for the actor carried by ctx.
func (s *CounterServiceImpl) Watch(ctx context.Context, def primary.CounterDefinition, observer primary.CountObserver) (primary.Watch, error) {
	actorID := ctxutil.ActorFromContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	query := counter.ResolveQuery(def.Path, def.Filters, actorID)
	guard := counter.CanWatch(counter.WatchContext{
		Key:          def.Key,
		Mode:         counter.Mode(def.Mode),
		Path:         query.Path,
		HasMatch:     def.Match != "",
		ActorID:      actorID,
		SessionActor: s.actor,
	})
	if !guard.Allowed {
		if s.actor != "" && actorID != s.actor {
			return nil, fmt.Errorf("%w: %s", ErrActorMismatch, guard.Reason)
		}
		return nil, guard.Error()
	}

	var match counter.Predicate
	if def.Match != "" {
		compiled, err := refine.Compile(def.Match)
		if err != nil {
			return nil, fmt.Errorf("failed to compile match for counter %s: %w", def.Key, err)
		}
		match = compiled
	}

	logger := s.logger.With(slog.String("actor", actorID), slog.String("counter", def.Key))
	w := &counterWatch{
		svc:        s,
		key:        def.Key,
		reconciler: NewCacheReconciler(s.cache, s.writes, def.Key, observer, logger),
	}

	// Reconciliation must outlive the caller's request context.
	runCtx := context.WithoutCancel(ctx)
	w.reconciler.ColdStart(runCtx)

	emit := func(n int) {
		metrics.Emissions.WithLabelValues(def.Key).Inc()
		w.reconciler.Reconcile(runCtx, n)
	}
	fail := func(err error) {
		logger.Warn("counter subscription failed", slog.String("error", err.Error()))
		w.reconciler.Fail(err)
	}

	switch counter.Mode(def.Mode) {
	case counter.ModeCascade:
		agg := NewCascadingAggregator(s.store, s.events, CascadeConfig{
			Parents: query,
			Matches: match,
		}, logger)
		if err := agg.Start(runCtx, emit, fail); err != nil {
			w.reconciler.Stop()
			return nil, fmt.Errorf("failed to start counter %s: %w", def.Key, err)
		}
		w.stop = agg.Cancel
	default:
		sub, err := OpenAggregateSubscription(runCtx, s.store, s.events, AggregateSubscriptionConfig{
			Query:   query,
			Refine:  match,
			OnCount: emit,
			OnError: fail,
		}, logger)
		if err != nil {
			w.reconciler.Stop()
			return nil, fmt.Errorf("failed to start counter %s: %w", def.Key, err)
		}
		w.stop = sub.Cancel
	}

	s.watches[w] = struct{}{}
	logger.Debug("counter watch started", slog.String("mode", def.Mode), slog.String("path", query.Path))
	return w, nil
}

// CachedCount reads the cached value for key.
func (s *CounterServiceImpl) CachedCount(ctx context.Context, key string) (int, error) {
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		return 0, &counter.CacheIOError{Op: counter.CacheOpGet, Key: key, Err: err}
	}
	return value, nil
}

// Flush waits until every pending subscription callback and reconciliation has run.
func (s *CounterServiceImpl) Flush(ctx context.Context) error {
	if err := s.events.Flush(ctx); err != nil {
		return err
	}
	return s.writes.Flush(ctx)
}

// WatchCount returns the number of running watches.
func (s *CounterServiceImpl) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// detachAll clears the current actor and cancels every watch.
// It returns the number of watches cancelled.
func (s *CounterServiceImpl) detachAll() int {
	s.mu.Lock()
	s.actor = ""
	watches := make([]*counterWatch, 0, len(s.watches))
	for w := range s.watches {
		watches = append(watches, w)
	}
	s.watches = make(map[*counterWatch]struct{})
	s.mu.Unlock()

	for _, w := range watches {
		w.Cancel()
	}
	return len(watches)
}

func (s *CounterServiceImpl) forget(w *counterWatch) {
	s.mu.Lock()
	delete(s.watches, w)
	s.mu.Unlock()
}

// counterWatch is one running counter.
type counterWatch struct {
	svc        *CounterServiceImpl
	key        string
	reconciler *CacheReconciler
	stop       func()
	once       sync.Once
}

// Key returns the counter key.
func (w *counterWatch) Key() string {
	return w.key
}

// Cancel stops the counter. Idempotent.
func (w *counterWatch) Cancel() {
	w.once.Do(func() {
		w.reconciler.Stop()
		if w.stop != nil {
			w.stop()
		}
		w.svc.forget(w)
	})
}

// Ensure CounterServiceImpl implements the interface.
var _ primary.CounterService = (*CounterServiceImpl)(nil)
