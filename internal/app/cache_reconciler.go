package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/ports/primary"
	"github.com/example/fibo/internal/ports/secondary"
)

// CacheReconciler writes aggregate values through to the local cache for one
// key and forwards them to the observer. All work runs on the writes queue, so
// cache writes happen in emission order and observer calls never overlap.
type CacheReconciler struct {
	cache    secondary.LocalCache
	writes   *eventloop.Queue
	key      string
	observer primary.CountObserver
	logger   *slog.Logger

	// notifyMu is held across the stopped check and the observer call.
	notifyMu sync.Mutex
	stopped  atomic.Bool
}

// NewCacheReconciler creates a reconciler for key.
func NewCacheReconciler(cache secondary.LocalCache, writes *eventloop.Queue, key string, observer primary.CountObserver, logger *slog.Logger) *CacheReconciler {
	return &CacheReconciler{
		cache:    cache,
		writes:   writes,
		key:      key,
		observer: observer,
		logger:   logger.With(slog.String("key", key)),
	}
}

// ColdStart delivers the cached value, marked stale, ahead of any live value.
// An empty or unreadable cache yields 0.
func (r *CacheReconciler) ColdStart(ctx context.Context) {
	r.post(func() {
		value, err := r.cache.Get(ctx, r.key)
		if err != nil {
			r.cacheFailed(counter.CacheOpGet, err)
			value = 0
		}
		r.notify(primary.CountUpdate{Key: r.key, Value: value, Stale: true})
	})
}

// Reconcile queues value for write-through. The cache is written only when it
// differs; the observer is notified either way.
func (r *CacheReconciler) Reconcile(ctx context.Context, value int) {
	r.post(func() {
		r.apply(ctx, value)
	})
}

// Fail forwards a subscription error to the observer in order with values.
func (r *CacheReconciler) Fail(err error) {
	r.post(func() {
		r.notifyMu.Lock()
		defer r.notifyMu.Unlock()
		if !r.stopped.Load() {
			r.observer.OnError(r.key, err)
		}
	})
}

// Stop gates further observer notifications. Queued cache writes still run.
// It waits for a notification already in progress, so observers must not
// call it from OnCount or OnError.
func (r *CacheReconciler) Stop() {
	r.stopped.Store(true)
	r.notifyMu.Lock()
	r.notifyMu.Unlock()
}

func (r *CacheReconciler) apply(ctx context.Context, value int) {
	cached, err := r.cache.Get(ctx, r.key)
	switch {
	case err != nil:
		r.cacheFailed(counter.CacheOpGet, err)
		r.write(ctx, value)
	case cached != value:
		r.write(ctx, value)
	}

	r.notify(primary.CountUpdate{Key: r.key, Value: value})
}

func (r *CacheReconciler) write(ctx context.Context, value int) {
	if err := r.cache.Set(ctx, r.key, value); err != nil {
		r.cacheFailed(counter.CacheOpSet, err)
		return
	}
	metrics.CacheWrites.WithLabelValues(r.key).Inc()
}

func (r *CacheReconciler) cacheFailed(op counter.CacheOp, err error) {
	metrics.CacheErrors.WithLabelValues(string(op)).Inc()
	ioErr := &counter.CacheIOError{Op: op, Key: r.key, Err: err}
	r.logger.Warn("cache reconciliation degraded", slog.String("error", ioErr.Error()))
}

func (r *CacheReconciler) notify(update primary.CountUpdate) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if r.stopped.Load() {
		return
	}
	r.observer.OnCount(update)
}

func (r *CacheReconciler) post(fn func()) {
	if err := r.writes.Post(fn); err != nil {
		r.logger.Debug("dropping reconciliation", slog.String("error", err.Error()))
	}
}
