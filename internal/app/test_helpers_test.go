package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/ports/primary"
	"github.com/example/fibo/internal/ports/secondary"
)

// ============================================================================
// Mock Implementations
// ============================================================================

type fakeQuerySub struct {
	query     secondary.Query
	listener  secondary.QueryListener
	cancelled bool
}

type fakeDocSub struct {
	path      string
	listener  secondary.DocumentListener
	cancelled bool
}

// fakeRemoteStore implements secondary.RemoteStore. Nothing is delivered
// until the test pushes it.
type fakeRemoteStore struct {
	mu           sync.Mutex
	querySubs    []*fakeQuerySub
	docSubs      []*fakeDocSub
	subscribeErr error
	docErr       map[string]error
}

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{docErr: make(map[string]error)}
}

func (f *fakeRemoteStore) Subscribe(ctx context.Context, q secondary.Query, l secondary.QueryListener) (secondary.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeQuerySub{query: q, listener: l}
	f.querySubs = append(f.querySubs, sub)
	return func() {
		f.mu.Lock()
		sub.cancelled = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeRemoteStore) SubscribeDocument(ctx context.Context, path string, l secondary.DocumentListener) (secondary.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.docErr[path]; err != nil {
		return nil, err
	}
	sub := &fakeDocSub{path: path, listener: l}
	f.docSubs = append(f.docSubs, sub)
	return func() {
		f.mu.Lock()
		sub.cancelled = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeRemoteStore) Get(ctx context.Context, q secondary.Query) ([]secondary.Document, error) {
	return nil, nil
}

// pushParents delivers a parent snapshot with the given ids to live query subscriptions on path.
func (f *fakeRemoteStore) pushParents(path string, ids ...string) {
	docs := make([]secondary.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, secondary.Document{ID: id, Path: counter.DocumentPath(path, id)})
	}
	f.pushDocs(path, docs)
}

func (f *fakeRemoteStore) pushDocs(path string, docs []secondary.Document) {
	for _, sub := range f.liveQuerySubs(path) {
		sub.listener.OnSnapshot(docs)
	}
}

// pushDoc delivers a document snapshot to live document subscriptions on path.
func (f *fakeRemoteStore) pushDoc(path string, data map[string]any) {
	_, id := counter.ParentCollection(path)
	snap := secondary.DocumentSnapshot{
		Document: secondary.Document{ID: id, Path: path, Data: data},
		Exists:   data != nil,
	}
	for _, sub := range f.docSubsFor(path, false) {
		sub.listener.OnSnapshot(snap)
	}
}

// pushLateDoc delivers a snapshot to subscriptions that were already cancelled,
// the way an in-flight transport event would arrive.
func (f *fakeRemoteStore) pushLateDoc(path string, data map[string]any) {
	_, id := counter.ParentCollection(path)
	snap := secondary.DocumentSnapshot{
		Document: secondary.Document{ID: id, Path: path, Data: data},
		Exists:   data != nil,
	}
	for _, sub := range f.docSubsFor(path, true) {
		sub.listener.OnSnapshot(snap)
	}
}

func (f *fakeRemoteStore) failQuery(path string, err error) {
	for _, sub := range f.liveQuerySubs(path) {
		sub.listener.OnError(err)
	}
}

func (f *fakeRemoteStore) failDoc(path string, err error) {
	for _, sub := range f.docSubsFor(path, false) {
		sub.listener.OnError(err)
	}
}

func (f *fakeRemoteStore) liveQuerySubs(path string) []*fakeQuerySub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeQuerySub
	for _, sub := range f.querySubs {
		if !sub.cancelled && sub.query.Path == path {
			out = append(out, sub)
		}
	}
	return out
}

func (f *fakeRemoteStore) docSubsFor(path string, cancelled bool) []*fakeDocSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeDocSub
	for _, sub := range f.docSubs {
		if sub.cancelled == cancelled && sub.path == path {
			out = append(out, sub)
		}
	}
	return out
}

func (f *fakeRemoteStore) liveDocSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.docSubs {
		if !sub.cancelled {
			n++
		}
	}
	return n
}

func (f *fakeRemoteStore) liveQueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.querySubs {
		if !sub.cancelled {
			n++
		}
	}
	return n
}

// eventLog records cache and observer activity in the order it happened.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// mockLocalCache implements secondary.LocalCache for testing.
type mockLocalCache struct {
	mu       sync.Mutex
	values   map[string]int
	setCalls int
	getErr   error
	setErr   error
	log      *eventLog
}

func newMockLocalCache(log *eventLog) *mockLocalCache {
	return &mockLocalCache{values: make(map[string]int), log: log}
}

func (m *mockLocalCache) Get(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.values[key], nil
}

func (m *mockLocalCache) Set(ctx context.Context, key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	m.log.add("set %s=%d", key, value)
	return nil
}

func (m *mockLocalCache) sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

func (m *mockLocalCache) value(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// recordingObserver implements primary.CountObserver for testing.
type recordingObserver struct {
	mu      sync.Mutex
	updates []primary.CountUpdate
	errs    []error
	log     *eventLog
}

func (o *recordingObserver) OnCount(update primary.CountUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, update)
	o.log.add("notify %s=%d", update.Key, update.Value)
}

func (o *recordingObserver) OnError(key string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) values() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]int, len(o.updates))
	for i, u := range o.updates {
		out[i] = u.Value
	}
	return out
}

func (o *recordingObserver) last() (primary.CountUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.updates) == 0 {
		return primary.CountUpdate{}, false
	}
	return o.updates[len(o.updates)-1], true
}

func (o *recordingObserver) errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

// emissions records aggregate values emitted on the event queue.
type emissions struct {
	mu     sync.Mutex
	values []int
	errs   []error
}

func (e *emissions) emit(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = append(e.values, n)
}

func (e *emissions) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

func (e *emissions) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.values)
}

func (e *emissions) snapshot() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.values...)
}

func (e *emissions) last(t *testing.T) int {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.values) == 0 {
		t.Fatal("no emissions")
	}
	return e.values[len(e.values)-1]
}

func (e *emissions) errors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

// ============================================================================
// Test Helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, name string) *eventloop.Queue {
	t.Helper()
	q := eventloop.New(name, testLogger())
	t.Cleanup(q.Stop)
	return q
}

func flush(t *testing.T, queues ...*eventloop.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, q := range queues {
		if err := q.Flush(ctx); err != nil {
			t.Fatalf("failed to flush %s: %v", q.Name(), err)
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
