package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/ports/secondary"
)

// liveSubscription wraps one RemoteStore subscription. Store callbacks are
// moved onto the event queue and dropped once the subscription is inactive.
type liveSubscription struct {
	kind   string
	path   string
	queue  *eventloop.Queue
	logger *slog.Logger

	active atomic.Bool
	once   sync.Once

	// deliverMu is held across the active check and the callback.
	deliverMu sync.Mutex

	mu     sync.Mutex
	cancel secondary.CancelFunc
}

func newLiveSubscription(kind, path string, queue *eventloop.Queue, logger *slog.Logger) *liveSubscription {
	s := &liveSubscription{
		kind:   kind,
		path:   path,
		queue:  queue,
		logger: logger.With(slog.String("kind", kind), slog.String("path", path)),
	}
	s.active.Store(true)
	return s
}

// openQuerySubscription subscribes to q; onDocs and onErr run on the queue.
func openQuerySubscription(
	ctx context.Context,
	store secondary.RemoteStore,
	queue *eventloop.Queue,
	kind string,
	q secondary.Query,
	onDocs func(docs []secondary.Document),
	onErr func(err error),
	logger *slog.Logger,
) (*liveSubscription, error) {
	if r := counter.CanOpenQuery(q); !r.Allowed {
		return nil, &counter.SubscriptionError{Path: q.Path, Err: r.Error()}
	}

	s := newLiveSubscription(kind, q.Path, queue, logger)
	cancel, err := store.Subscribe(ctx, q, secondary.QueryListener{
		OnSnapshot: func(docs []secondary.Document) {
			s.post(func() { onDocs(docs) })
		},
		OnError: func(err error) {
			s.fail(err, onErr)
		},
	})
	if err != nil {
		s.active.Store(false)
		metrics.SubscriptionErrors.WithLabelValues(kind).Inc()
		return nil, &counter.SubscriptionError{Path: q.Path, Err: err}
	}

	s.attach(cancel)
	return s, nil
}

// openDocumentSubscription subscribes to one document; onSnap and onErr run on the queue.
func openDocumentSubscription(
	ctx context.Context,
	store secondary.RemoteStore,
	queue *eventloop.Queue,
	path string,
	onSnap func(snap secondary.DocumentSnapshot),
	onErr func(err error),
	logger *slog.Logger,
) (*liveSubscription, error) {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return nil, &counter.SubscriptionError{Path: path, Err: r.Error()}
	}

	s := newLiveSubscription(metrics.KindDocument, path, queue, logger)
	cancel, err := store.SubscribeDocument(ctx, path, secondary.DocumentListener{
		OnSnapshot: func(snap secondary.DocumentSnapshot) {
			s.post(func() { onSnap(snap) })
		},
		OnError: func(err error) {
			s.fail(err, onErr)
		},
	})
	if err != nil {
		s.active.Store(false)
		metrics.SubscriptionErrors.WithLabelValues(metrics.KindDocument).Inc()
		return nil, &counter.SubscriptionError{Path: path, Err: err}
	}

	s.attach(cancel)
	return s, nil
}

func (s *liveSubscription) attach(cancel secondary.CancelFunc) {
	metrics.SubscriptionsOpened.WithLabelValues(s.kind).Inc()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// Cancel may have raced with Subscribe returning.
	if !s.active.Load() {
		s.release()
	}
}

// post runs fn on the queue if the subscription is still active at that time.
func (s *liveSubscription) post(fn func()) {
	err := s.queue.Post(func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if s.active.Load() {
			fn()
		}
	})
	if err != nil {
		s.logger.Debug("dropping snapshot", slog.String("error", err.Error()))
	}
}

// fail delivers err once; a failed subscription emits nothing further.
func (s *liveSubscription) fail(err error, onErr func(error)) {
	metrics.SubscriptionErrors.WithLabelValues(s.kind).Inc()
	s.logger.Warn("subscription failed", slog.String("error", err.Error()))

	subErr := &counter.SubscriptionError{Path: s.path, Err: err}
	postErr := s.queue.Post(func() {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if s.active.CompareAndSwap(true, false) && onErr != nil {
			onErr(subErr)
		}
	})
	if postErr != nil {
		s.active.Store(false)
	}
}

// Cancel stops delivery and releases the store subscription. Idempotent and
// safe after the subscription has failed. It waits for a callback already in
// progress, so it must not be called from this subscription's own callbacks.
func (s *liveSubscription) Cancel() {
	s.active.Store(false)
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	s.release()
}

func (s *liveSubscription) release() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.once.Do(func() {
		cancel()
		metrics.SubscriptionsClosed.WithLabelValues(s.kind).Inc()
	})
}
