package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/ports/secondary"
)

const projectsPath = "users/u1/projects"

func fiboShare(status string) map[string]any {
	return map[string]any{"status": status}
}

func newTestAggregator(t *testing.T) (*CascadingAggregator, *fakeRemoteStore, *emissions, func()) {
	t.Helper()
	store := newFakeRemoteStore()
	queue := newTestQueue(t, "events")
	agg := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())

	em := &emissions{}
	if err := agg.Start(context.Background(), em.emit, em.fail); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return agg, store, em, func() { flush(t, queue) }
}

func TestCascadingAggregator_RecomputesFromLatestState(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath, "A", "B", "C")
	settle()
	store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	store.pushDoc(projectsPath+"/B", fiboShare("Draft"))
	store.pushDoc(projectsPath+"/C", fiboShare("FiboShare"))
	settle()

	if got := em.last(t); got != 2 {
		t.Fatalf("total = %d, want 2", got)
	}

	store.pushDoc(projectsPath+"/B", fiboShare("FiboShare"))
	settle()
	if got := em.last(t); got != 3 {
		t.Fatalf("total after B matches = %d, want 3", got)
	}

	store.pushParents(projectsPath, "B", "C")
	settle()
	if got := em.last(t); got != 2 {
		t.Fatalf("total after A removed = %d, want 2", got)
	}
	if got := agg.HandleCount(); got != 2 {
		t.Errorf("HandleCount() = %d, want 2", got)
	}
}

func TestCascadingAggregator_DuplicateEventsDoNotDrift(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath, "A")
	settle()
	for i := 0; i < 5; i++ {
		store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	}
	settle()

	if got := em.last(t); got != 1 {
		t.Errorf("total after replayed events = %d, want 1", got)
	}

	store.pushDoc(projectsPath+"/A", nil)
	settle()
	if got := em.last(t); got != 0 {
		t.Errorf("total after delete = %d, want 0", got)
	}
}

func TestCascadingAggregator_NoDuplicateHandles(t *testing.T) {
	agg, store, _, settle := newTestAggregator(t)
	defer agg.Cancel()

	snapshots := [][]string{
		{"A", "B"},
		{"A", "B"},
		{"A", "B", "C"},
		{"C", "C"},
		{},
		{"A"},
		{"A", "D", "E"},
	}

	for i, ids := range snapshots {
		store.pushParents(projectsPath, ids...)
		settle()

		distinct := make(map[string]struct{})
		for _, id := range ids {
			distinct[id] = struct{}{}
		}
		if got := agg.HandleCount(); got != len(distinct) {
			t.Errorf("snapshot %d: HandleCount() = %d, want %d", i, got, len(distinct))
		}
		if got := store.liveDocSubs(); got != len(distinct) {
			t.Errorf("snapshot %d: live document subscriptions = %d, want %d", i, got, len(distinct))
		}
	}
}

func TestCascadingAggregator_IgnoresLateEventsFromReleasedHandle(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath, "A")
	settle()
	store.pushDoc(projectsPath+"/A", fiboShare("Draft"))
	settle()

	store.pushParents(projectsPath)
	settle()

	// In-flight event from the released subscription.
	store.pushLateDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()
	if got := em.last(t); got != 0 {
		t.Fatalf("total after late event = %d, want 0", got)
	}

	// A comes back with a fresh handle; the old late event still must not count.
	store.pushParents(projectsPath, "A")
	settle()
	store.pushLateDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()
	if got := em.last(t); got != 0 {
		t.Fatalf("total after late event on re-added parent = %d, want 0", got)
	}

	store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()
	if got := em.last(t); got != 1 {
		t.Fatalf("total after live event = %d, want 1", got)
	}
}

func TestCascadingAggregator_CancelIsIdempotent(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)

	store.pushParents(projectsPath, "A", "B")
	settle()
	store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()

	agg.Cancel()
	agg.Cancel()

	before := em.count()
	store.pushParents(projectsPath, "A", "B", "C")
	store.pushDoc(projectsPath+"/B", fiboShare("FiboShare"))
	store.pushLateDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()

	if got := em.count(); got != before {
		t.Errorf("emissions after cancel: got %d, want %d", got, before)
	}
	if got := agg.HandleCount(); got != 0 {
		t.Errorf("HandleCount() = %d, want 0", got)
	}
	if got := store.liveDocSubs(); got != 0 {
		t.Errorf("live document subscriptions = %d, want 0", got)
	}
	if got := store.liveQueryCount(); got != 0 {
		t.Errorf("live parent subscriptions = %d, want 0", got)
	}
}

func TestCascadingAggregator_CancelBeforeQueuedSnapshotRuns(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)

	// Delivered by the transport but not yet processed when Cancel is called.
	store.pushParents(projectsPath, "A", "B")
	agg.Cancel()
	settle()

	if got := em.count(); got != 0 {
		t.Errorf("emissions = %d, want 0", got)
	}
	if got := store.liveDocSubs(); got != 0 {
		t.Errorf("handles created after teardown: %d", got)
	}
}

func TestCascadingAggregator_ParentFailureSurfacesSubscriptionError(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	boom := errors.New("permission denied")
	store.failQuery(projectsPath, boom)
	settle()

	errs := em.errors()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	var subErr *counter.SubscriptionError
	if !errors.As(errs[0], &subErr) {
		t.Fatalf("error %T is not a SubscriptionError", errs[0])
	}
	if subErr.Path != projectsPath || !errors.Is(errs[0], boom) {
		t.Errorf("unexpected error: %v", errs[0])
	}

	// no auto-retry: no new parent subscription was opened
	if got := store.liveQueryCount(); got != 1 {
		t.Errorf("live parent subscriptions = %d, want 1 (the failed one, until cancelled)", got)
	}
}

func TestCascadingAggregator_ChildOpenFailureIsReported(t *testing.T) {
	store := newFakeRemoteStore()
	store.docErr[projectsPath+"/B"] = errors.New("not allowed")
	queue := newTestQueue(t, "events")

	agg := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())
	em := &emissions{}
	if err := agg.Start(context.Background(), em.emit, em.fail); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer agg.Cancel()

	store.pushParents(projectsPath, "A", "B")
	flush(t, queue)

	if got := agg.HandleCount(); got != 1 {
		t.Errorf("HandleCount() = %d, want 1", got)
	}
	if len(em.errors()) != 1 {
		t.Errorf("got %d errors, want 1", len(em.errors()))
	}
}

func TestCascadingAggregator_StartValidation(t *testing.T) {
	store := newFakeRemoteStore()
	queue := newTestQueue(t, "events")

	noMatch := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
	}, testLogger())
	if err := noMatch.Start(context.Background(), nil, nil); err == nil {
		t.Error("expected error without match predicate")
	}

	badPath := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: "users/u1"},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())
	err := badPath.Start(context.Background(), nil, nil)
	var subErr *counter.SubscriptionError
	if !errors.As(err, &subErr) {
		t.Errorf("expected SubscriptionError, got %v", err)
	}

	ok := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())
	if err := ok.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := ok.Start(context.Background(), nil, nil); err == nil {
		t.Error("expected error on second Start")
	}
	ok.Cancel()
}

func TestCascadingAggregator_CustomChildPath(t *testing.T) {
	store := newFakeRemoteStore()
	queue := newTestQueue(t, "events")

	agg := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
		ChildPath: func(parentID string) string {
			return "projects/" + parentID
		},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())
	em := &emissions{}
	if err := agg.Start(context.Background(), em.emit, em.fail); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer agg.Cancel()

	store.pushParents(projectsPath, "A")
	flush(t, queue)
	store.pushDoc("projects/A", fiboShare("FiboShare"))
	flush(t, queue)

	if got := em.last(t); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
}

func TestCascadingAggregator_WaitsForNewParentsToReport(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath, "A", "B")
	settle()
	if got := em.count(); got != 0 {
		t.Fatalf("emissions before children reported = %d, want 0", got)
	}

	store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	settle()
	if got := em.count(); got != 0 {
		t.Fatalf("emissions with B unreported = %d, want 0", got)
	}

	store.pushDoc(projectsPath+"/B", fiboShare("FiboShare"))
	settle()
	if got := em.snapshot(); !equalInts(got, []int{2}) {
		t.Fatalf("emissions = %v, want [2]", got)
	}

	// A new parent holds the total back until it reports.
	store.pushParents(projectsPath, "A", "B", "C")
	settle()
	if got := em.count(); got != 1 {
		t.Fatalf("emissions after C added = %d, want 1", got)
	}
	store.pushDoc(projectsPath+"/C", fiboShare("Draft"))
	settle()
	if got := em.snapshot(); !equalInts(got, []int{2, 2}) {
		t.Errorf("emissions = %v, want [2 2]", got)
	}
}

func TestCascadingAggregator_EmptyParentSetEmitsZero(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath)
	settle()
	if got := em.snapshot(); !equalInts(got, []int{0}) {
		t.Errorf("emissions = %v, want [0]", got)
	}
}

func TestCascadingAggregator_ChildErrorCountsAsReported(t *testing.T) {
	agg, store, em, settle := newTestAggregator(t)
	defer agg.Cancel()

	store.pushParents(projectsPath, "A", "B")
	settle()
	store.pushDoc(projectsPath+"/A", fiboShare("FiboShare"))
	store.failDoc(projectsPath+"/B", errors.New("permission denied"))
	settle()

	if got := len(em.errors()); got != 1 {
		t.Fatalf("got %d errors, want 1", got)
	}
	if got := em.last(t); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
	if got := agg.HandleCount(); got != 2 {
		t.Errorf("HandleCount() = %d, want 2", got)
	}
}

func TestCascadingAggregator_CancelWaitsForInFlightEmission(t *testing.T) {
	store := newFakeRemoteStore()
	queue := newTestQueue(t, "events")
	agg := NewCascadingAggregator(store, queue, CascadeConfig{
		Parents: secondary.Query{Path: projectsPath},
		Matches: counter.FieldEquals("status", "FiboShare"),
	}, testLogger())

	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	emit := func(int) {
		enterOnce.Do(func() { close(entered) })
		<-release
	}
	if err := agg.Start(context.Background(), emit, nil); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	store.pushParents(projectsPath)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("emission never started")
	}

	cancelled := make(chan struct{})
	go func() {
		agg.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while an emission was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("Cancel did not return after the emission finished")
	}
}
