package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/ports/secondary"
)

// AggregateSubscriptionConfig describes one counted query.
type AggregateSubscriptionConfig struct {
	Query secondary.Query

	// Refine optionally narrows the result set per document.
	Refine counter.Predicate

	// OnCount receives the full size of the match set after every change.
	OnCount func(n int)

	// OnError receives a *counter.SubscriptionError when the store fails.
	// The subscription is not retried.
	OnError func(err error)
}

// AggregateSubscription reports the size of a query's match set.
// Every emission replaces the previous one; it is never a delta.
type AggregateSubscription struct {
	id  string
	sub *liveSubscription
}

// OpenAggregateSubscription subscribes to cfg.Query on store. Callbacks run on queue.
func OpenAggregateSubscription(
	ctx context.Context,
	store secondary.RemoteStore,
	queue *eventloop.Queue,
	cfg AggregateSubscriptionConfig,
	logger *slog.Logger,
) (*AggregateSubscription, error) {
	id := uuid.NewString()[:8]
	logger = logger.With(slog.String("subscription", id))

	sub, err := openQuerySubscription(ctx, store, queue, metrics.KindQuery, cfg.Query,
		func(docs []secondary.Document) {
			if cfg.OnCount != nil {
				cfg.OnCount(countMatches(docs, cfg.Refine))
			}
		},
		cfg.OnError,
		logger,
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("aggregate subscription opened", slog.String("path", cfg.Query.Path))
	return &AggregateSubscription{id: id, sub: sub}, nil
}

// ID returns the correlation id used in logs.
func (s *AggregateSubscription) ID() string {
	return s.id
}

// Cancel stops further emissions. Idempotent.
func (s *AggregateSubscription) Cancel() {
	s.sub.Cancel()
}

func countMatches(docs []secondary.Document, refine counter.Predicate) int {
	if refine == nil {
		return len(docs)
	}
	n := 0
	for _, d := range docs {
		if refine(d) {
			n++
		}
	}
	return n
}
