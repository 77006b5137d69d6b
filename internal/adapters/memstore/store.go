// Package memstore contains an in-memory implementation of the RemoteStore port
// with push-based change notification. It backs tests and the demo mode of
// the CLI.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/ports/secondary"
)

// Store implements secondary.RemoteStore in memory.
type Store struct {
	// deliverMu serializes writes with their notifications so every
	// subscription observes changes in write order.
	deliverMu sync.Mutex

	mu     sync.Mutex
	docs   map[string]map[string]any // document path -> data
	subs   map[int64]*subscription
	nextID int64
}

type subscription struct {
	id        int64
	query     *secondary.Query
	docPath   string
	onQuery   secondary.QueryListener
	onDoc     secondary.DocumentListener
	cancelled atomic.Bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs: make(map[string]map[string]any),
		subs: make(map[int64]*subscription),
	}
}

// Set creates or replaces the document at path and notifies subscribers.
func (s *Store) Set(path string, data map[string]any) error {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return r.Error()
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.docs[normalize(path)] = copyData(data)
	pending := s.affected(normalize(path))
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	return nil
}

// Delete removes the document at path and notifies subscribers.
func (s *Store) Delete(path string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	delete(s.docs, normalize(path))
	pending := s.affected(normalize(path))
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Fail delivers err to every live subscription whose path is or lies under prefix,
// and cancels them, the way a remote permission revocation would.
func (s *Store) Fail(prefix string, err error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	var failed []*subscription
	for id, sub := range s.subs {
		path := sub.docPath
		if sub.query != nil {
			path = sub.query.Path
		}
		if hasPrefix(path, normalize(prefix)) {
			failed = append(failed, sub)
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	for _, sub := range failed {
		if sub.cancelled.Swap(true) {
			continue
		}
		if sub.query != nil && sub.onQuery.OnError != nil {
			sub.onQuery.OnError(err)
		}
		if sub.query == nil && sub.onDoc.OnError != nil {
			sub.onDoc.OnError(err)
		}
	}
}

// ActiveSubscriptions returns the number of subscriptions not yet cancelled.
func (s *Store) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscribe implements secondary.RemoteStore.
func (s *Store) Subscribe(ctx context.Context, q secondary.Query, l secondary.QueryListener) (secondary.CancelFunc, error) {
	if r := counter.CanOpenQuery(q); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Path, err)
	}

	query := secondary.Query{Path: normalize(q.Path), Filters: q.Filters}
	sub := &subscription{query: &query, onQuery: l}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.register(sub)
	initial := s.queryLocked(query)
	s.mu.Unlock()

	if l.OnSnapshot != nil {
		l.OnSnapshot(initial)
	}
	return s.cancelFunc(sub), nil
}

// SubscribeDocument implements secondary.RemoteStore.
func (s *Store) SubscribeDocument(ctx context.Context, path string, l secondary.DocumentListener) (secondary.CancelFunc, error) {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	sub := &subscription{docPath: normalize(path), onDoc: l}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.register(sub)
	initial := s.documentLocked(sub.docPath)
	s.mu.Unlock()

	if l.OnSnapshot != nil {
		l.OnSnapshot(initial)
	}
	return s.cancelFunc(sub), nil
}

// Get implements secondary.RemoteStore.
func (s *Store) Get(ctx context.Context, q secondary.Query) ([]secondary.Document, error) {
	if r := counter.CanOpenQuery(q); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(secondary.Query{Path: normalize(q.Path), Filters: q.Filters}), nil
}

func (s *Store) register(sub *subscription) {
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
}

func (s *Store) cancelFunc(sub *subscription) secondary.CancelFunc {
	return func() {
		if sub.cancelled.Swap(true) {
			return
		}
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
	}
}

// affected builds the notifications for a change at docPath. Caller holds mu.
func (s *Store) affected(docPath string) []func() {
	collection, _ := counter.ParentCollection(docPath)

	ids := make([]int64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var pending []func()
	for _, id := range ids {
		sub := s.subs[id]
		switch {
		case sub.query != nil && sub.query.Path == collection:
			docs := s.queryLocked(*sub.query)
			pending = append(pending, func() {
				if !sub.cancelled.Load() && sub.onQuery.OnSnapshot != nil {
					sub.onQuery.OnSnapshot(docs)
				}
			})
		case sub.query == nil && sub.docPath == docPath:
			snap := s.documentLocked(docPath)
			pending = append(pending, func() {
				if !sub.cancelled.Load() && sub.onDoc.OnSnapshot != nil {
					sub.onDoc.OnSnapshot(snap)
				}
			})
		}
	}
	return pending
}

func (s *Store) queryLocked(q secondary.Query) []secondary.Document {
	var docs []secondary.Document
	for path, data := range s.docs {
		collection, id := counter.ParentCollection(path)
		if collection != q.Path || !counter.MatchesFilters(data, q.Filters) {
			continue
		}
		docs = append(docs, secondary.Document{ID: id, Path: path, Data: copyData(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (s *Store) documentLocked(path string) secondary.DocumentSnapshot {
	_, id := counter.ParentCollection(path)
	data, ok := s.docs[path]
	return secondary.DocumentSnapshot{
		Document: secondary.Document{ID: id, Path: path, Data: copyData(data)},
		Exists:   ok,
	}
}

func normalize(path string) string {
	collection, id := counter.ParentCollection(path)
	if collection == "" {
		return id
	}
	return collection + "/" + id
}

func hasPrefix(path, prefix string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// copyData returns a shallow copy so listeners never alias store state.
func copyData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// Ensure Store implements the interface.
var _ secondary.RemoteStore = (*Store)(nil)
