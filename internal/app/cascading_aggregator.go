package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/metrics"
	"github.com/example/fibo/internal/ports/secondary"
)

// CascadeConfig describes a count over a dynamic set of parent documents.
type CascadeConfig struct {
	// Parents selects the parent collection. It is used for membership only.
	Parents secondary.Query

	// ChildPath returns the document to watch for a parent id.
	// Defaults to the parent document itself.
	ChildPath func(parentID string) string

	// Matches decides whether a parent's latest document counts.
	Matches counter.Predicate
}

// handle owns the document subscription opened for one parent id.
type handle struct {
	parentID string
	sub      *liveSubscription
	matches  bool

	// seen is set once the child has reported, by snapshot or error.
	seen bool
}

// CascadingAggregator keeps one document subscription per parent and emits the
// number of parents whose latest document matches. A total is emitted only when
// every tracked parent has reported, so a parent that was just added never
// counts as a miss.
type CascadingAggregator struct {
	id     string
	store  secondary.RemoteStore
	queue  *eventloop.Queue
	cfg    CascadeConfig
	logger *slog.Logger

	ctx  context.Context
	emit func(int)
	fail func(error)

	started    atomic.Bool
	active     atomic.Bool
	cancelOnce sync.Once

	// emitMu is held across the active check and the emit or fail call.
	emitMu sync.Mutex

	mu       sync.Mutex
	parent   *liveSubscription
	handles  map[string]*handle
	tornDown bool
}

// NewCascadingAggregator creates an aggregator. Nothing is subscribed until Start.
func NewCascadingAggregator(store secondary.RemoteStore, queue *eventloop.Queue, cfg CascadeConfig, logger *slog.Logger) *CascadingAggregator {
	if cfg.ChildPath == nil {
		parents := cfg.Parents.Path
		cfg.ChildPath = func(parentID string) string {
			return counter.DocumentPath(parents, parentID)
		}
	}
	id := uuid.NewString()[:8]
	return &CascadingAggregator{
		id:      id,
		store:   store,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With(slog.String("aggregator", id)),
		handles: make(map[string]*handle),
	}
}

// ID returns the correlation id used in logs.
func (a *CascadingAggregator) ID() string {
	return a.id
}

// Start opens the parent subscription. emit receives every recomputed total and
// fail receives subscription errors; both run on the queue.
func (a *CascadingAggregator) Start(ctx context.Context, emit func(int), fail func(error)) error {
	if a.cfg.Matches == nil {
		return errors.New("cascading aggregator requires a match predicate")
	}
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("cascading aggregator already started")
	}

	a.ctx = ctx
	a.emit = emit
	a.fail = fail
	a.active.Store(true)

	parent, err := openQuerySubscription(ctx, a.store, a.queue, metrics.KindParent, a.cfg.Parents,
		a.onParents, a.onError, a.logger)
	if err != nil {
		a.active.Store(false)
		return err
	}

	a.mu.Lock()
	if a.tornDown {
		a.mu.Unlock()
		parent.Cancel()
		return nil
	}
	a.parent = parent
	a.mu.Unlock()

	a.logger.Debug("cascading aggregator started", slog.String("parents", a.cfg.Parents.Path))
	return nil
}

// Cancel tears the aggregator down. No emission happens after it returns and no
// handle is created once it has begun. Idempotent.
// It waits for an emission already in progress, so it must not be called from
// emit or fail.
func (a *CascadingAggregator) Cancel() {
	a.active.Store(false)
	a.emitMu.Lock()
	a.emitMu.Unlock()
	a.cancelOnce.Do(a.teardown)
}

// HandleCount returns the number of live per-parent subscriptions.
func (a *CascadingAggregator) HandleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

func (a *CascadingAggregator) teardown() {
	a.mu.Lock()
	a.tornDown = true
	parent := a.parent
	a.parent = nil
	released := make([]*liveSubscription, 0, len(a.handles))
	for id, h := range a.handles {
		if h.sub != nil {
			released = append(released, h.sub)
		}
		delete(a.handles, id)
	}
	a.mu.Unlock()

	if parent != nil {
		parent.Cancel()
	}
	for _, sub := range released {
		sub.Cancel()
	}
	metrics.SecondaryHandles.Sub(float64(len(released)))
	a.logger.Debug("cascading aggregator cancelled", slog.Int("released", len(released)))
}

// onParents reconciles the handle registry with a new parent snapshot.
func (a *CascadingAggregator) onParents(docs []secondary.Document) {
	if !a.active.Load() {
		return
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	a.mu.Lock()
	tracked := make(map[string]struct{}, len(a.handles))
	for id := range a.handles {
		tracked[id] = struct{}{}
	}
	removed, added := counter.MembershipDiff(tracked, ids)

	var released []*liveSubscription
	for _, id := range removed {
		if h := a.handles[id]; h.sub != nil {
			released = append(released, h.sub)
		}
		delete(a.handles, id)
	}
	a.mu.Unlock()

	for _, sub := range released {
		sub.Cancel()
	}
	metrics.SecondaryHandles.Sub(float64(len(released)))

	for _, id := range added {
		a.openHandle(id)
	}

	// Added parents emit through onChild once they report. Removals, and an
	// empty parent set, change the total without any child reporting.
	if len(removed) > 0 || a.HandleCount() == 0 {
		a.emitTotal()
	}
}

// openHandle registers a handle for parentID and opens its document subscription.
func (a *CascadingAggregator) openHandle(parentID string) {
	h := &handle{parentID: parentID}

	a.mu.Lock()
	if !a.active.Load() || a.tornDown {
		a.mu.Unlock()
		return
	}
	if _, exists := a.handles[parentID]; exists {
		a.mu.Unlock()
		return
	}
	a.handles[parentID] = h
	a.mu.Unlock()

	sub, err := openDocumentSubscription(a.ctx, a.store, a.queue, a.cfg.ChildPath(parentID),
		func(snap secondary.DocumentSnapshot) { a.onChild(h, snap) },
		func(err error) { a.onChildError(h, err) },
		a.logger.With(slog.String("parent", parentID)),
	)
	if err != nil {
		a.mu.Lock()
		if a.handles[parentID] == h {
			delete(a.handles, parentID)
		}
		a.mu.Unlock()
		a.logger.Warn("failed to open parent subscription", slog.String("parent", parentID), slog.String("error", err.Error()))
		a.onError(err)
		return
	}

	a.mu.Lock()
	if a.handles[parentID] != h {
		// Removed or torn down while subscribing.
		a.mu.Unlock()
		sub.Cancel()
		return
	}
	h.sub = sub
	a.mu.Unlock()
	metrics.SecondaryHandles.Inc()
}

// onChild records the latest match state of one parent and emits the new total.
func (a *CascadingAggregator) onChild(h *handle, snap secondary.DocumentSnapshot) {
	if !a.active.Load() {
		return
	}

	a.mu.Lock()
	if a.handles[h.parentID] != h {
		// Late event from a handle that has since been released.
		a.mu.Unlock()
		return
	}
	h.matches = snap.Exists && a.cfg.Matches(snap.Document)
	h.seen = true
	a.mu.Unlock()

	a.emitTotal()
}

// onChildError reports a failed child. The handle keeps its last match state
// and counts as reported so the remaining parents can still settle.
func (a *CascadingAggregator) onChildError(h *handle, err error) {
	a.mu.Lock()
	current := a.handles[h.parentID] == h
	if current {
		h.seen = true
	}
	a.mu.Unlock()
	if !current {
		return
	}

	a.onError(err)
	a.emitTotal()
}

func (a *CascadingAggregator) onError(err error) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.active.Load() && a.fail != nil {
		a.fail(err)
	}
}

// emitTotal emits the recomputed total unless some tracked parent has not
// reported yet.
func (a *CascadingAggregator) emitTotal() {
	a.mu.Lock()
	state := make(map[string]bool, len(a.handles))
	for id, h := range a.handles {
		if !h.seen {
			a.mu.Unlock()
			return
		}
		state[id] = h.matches
	}
	a.mu.Unlock()

	total := counter.Total(state)

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.active.Load() && a.emit != nil {
		a.emit(total)
	}
}
