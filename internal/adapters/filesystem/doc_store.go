package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/ports/secondary"
)

const docExt = ".json"

// DocumentStore implements secondary.RemoteStore over a directory tree.
// Directories are collections and <id>.json files are documents, so the
// document users/u1/projects/a lives at <root>/users/u1/projects/a.json.
// Changes made by any process are picked up through fsnotify.
type DocumentStore struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// deliverMu serializes initial snapshots with change notifications.
	deliverMu sync.Mutex

	mu      sync.Mutex
	subs    map[int64]*fileSubscription
	nextID  int64
	watched map[string]int // directory -> subscription refcount

	done     chan struct{}
	stopOnce sync.Once
}

type fileSubscription struct {
	id        int64
	dir       string
	query     *secondary.Query
	docPath   string
	onQuery   secondary.QueryListener
	onDoc     secondary.DocumentListener
	cancelled atomic.Bool
}

// NewDocumentStore creates a store rooted at root and starts watching for changes.
func NewDocumentStore(root string, logger *slog.Logger) (*DocumentStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	s := &DocumentStore{
		root:    root,
		watcher: watcher,
		logger:  logger.With(slog.String("store", root)),
		subs:    make(map[int64]*fileSubscription),
		watched: make(map[string]int),
		done:    make(chan struct{}),
	}
	go s.processEvents()
	return s, nil
}

// Close stops watching. Live subscriptions receive no further snapshots.
func (s *DocumentStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

// Put writes data as the document at path.
func (s *DocumentStore) Put(path string, data map[string]any) error {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return r.Error()
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", path, err)
	}

	file := s.filePath(path)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create collection dir: %w", err)
	}

	// Temp name without the document extension so watchers skip it.
	tmp := strings.TrimSuffix(file, docExt) + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace document %s: %w", path, err)
	}
	return nil
}

// Remove deletes the document at path. Removing a missing document is not an error.
func (s *DocumentStore) Remove(path string) error {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return r.Error()
	}
	if err := os.Remove(s.filePath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove document %s: %w", path, err)
	}
	return nil
}

// Subscribe implements secondary.RemoteStore.
func (s *DocumentStore) Subscribe(ctx context.Context, q secondary.Query, l secondary.QueryListener) (secondary.CancelFunc, error) {
	if r := counter.CanOpenQuery(q); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Path, err)
	}

	query := q
	sub := &fileSubscription{dir: s.dirPath(q.Path), query: &query, onQuery: l}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if err := s.register(sub); err != nil {
		return nil, err
	}
	initial, err := s.readCollection(query)
	if err != nil {
		s.unregister(sub)
		return nil, err
	}

	if l.OnSnapshot != nil {
		l.OnSnapshot(initial)
	}
	return s.cancelFunc(sub), nil
}

// SubscribeDocument implements secondary.RemoteStore.
func (s *DocumentStore) SubscribeDocument(ctx context.Context, path string, l secondary.DocumentListener) (secondary.CancelFunc, error) {
	if r := counter.CanOpenDocument(path); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	sub := &fileSubscription{dir: filepath.Dir(s.filePath(path)), docPath: strings.Trim(path, "/"), onDoc: l}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if err := s.register(sub); err != nil {
		return nil, err
	}
	initial, err := s.readDocument(path)
	if err != nil {
		s.unregister(sub)
		return nil, err
	}

	if l.OnSnapshot != nil {
		l.OnSnapshot(initial)
	}
	return s.cancelFunc(sub), nil
}

// Get implements secondary.RemoteStore.
func (s *DocumentStore) Get(ctx context.Context, q secondary.Query) ([]secondary.Document, error) {
	if r := counter.CanOpenQuery(q); !r.Allowed {
		return nil, r.Error()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readCollection(q)
}

func (s *DocumentStore) register(sub *fileSubscription) error {
	// A collection that does not exist yet is empty; create it so it can be watched.
	if err := os.MkdirAll(sub.dir, 0755); err != nil {
		return fmt.Errorf("failed to create collection dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watched[sub.dir] == 0 {
		if err := s.watcher.Add(sub.dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", sub.dir, err)
		}
	}
	s.watched[sub.dir]++
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	return nil
}

func (s *DocumentStore) unregister(sub *fileSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.id]; !ok {
		return
	}
	delete(s.subs, sub.id)
	s.watched[sub.dir]--
	if s.watched[sub.dir] <= 0 {
		delete(s.watched, sub.dir)
		// The directory may already be gone.
		_ = s.watcher.Remove(sub.dir)
	}
}

func (s *DocumentStore) cancelFunc(sub *fileSubscription) secondary.CancelFunc {
	return func() {
		if sub.cancelled.Swap(true) {
			return
		}
		s.unregister(sub)
	}
}

func (s *DocumentStore) processEvents() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, docExt) {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.deliver(event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.failAll(err)
		}
	}
}

// deliver notifies the subscriptions affected by a change to file.
func (s *DocumentStore) deliver(file string) {
	dir := filepath.Dir(file)
	docPath := s.docPathFor(file)

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	var affected []*fileSubscription
	for _, sub := range s.subs {
		if sub.dir != dir {
			continue
		}
		if sub.query != nil || sub.docPath == docPath {
			affected = append(affected, sub)
		}
	}
	s.mu.Unlock()
	sort.Slice(affected, func(i, j int) bool { return affected[i].id < affected[j].id })

	for _, sub := range affected {
		if sub.cancelled.Load() {
			continue
		}
		if sub.query != nil {
			docs, err := s.readCollection(*sub.query)
			if err != nil {
				s.logger.Warn("failed to read collection", slog.String("path", sub.query.Path), slog.String("error", err.Error()))
				continue
			}
			if sub.onQuery.OnSnapshot != nil {
				sub.onQuery.OnSnapshot(docs)
			}
			continue
		}

		snap, err := s.readDocument(sub.docPath)
		if err != nil {
			s.logger.Warn("failed to read document", slog.String("path", sub.docPath), slog.String("error", err.Error()))
			continue
		}
		if sub.onDoc.OnSnapshot != nil {
			sub.onDoc.OnSnapshot(snap)
		}
	}
}

// failAll reports a watcher failure to every subscription and drops them.
func (s *DocumentStore) failAll(err error) {
	s.logger.Error("watcher failed", slog.String("error", err.Error()))

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	failed := make([]*fileSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		failed = append(failed, sub)
	}
	s.mu.Unlock()

	for _, sub := range failed {
		if sub.cancelled.Swap(true) {
			continue
		}
		s.unregister(sub)
		if sub.query != nil && sub.onQuery.OnError != nil {
			sub.onQuery.OnError(err)
		}
		if sub.query == nil && sub.onDoc.OnError != nil {
			sub.onDoc.OnError(err)
		}
	}
}

func (s *DocumentStore) readCollection(q secondary.Query) ([]secondary.Document, error) {
	entries, err := os.ReadDir(s.dirPath(q.Path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", q.Path, err)
	}

	var docs []secondary.Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), docExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), docExt)
		path := counter.DocumentPath(q.Path, id)
		data, ok, err := s.readFile(s.filePath(path))
		if err != nil {
			s.logger.Warn("skipping unreadable document", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if !ok || !counter.MatchesFilters(data, q.Filters) {
			continue
		}
		docs = append(docs, secondary.Document{ID: id, Path: path, Data: data})
	}
	return docs, nil
}

func (s *DocumentStore) readDocument(path string) (secondary.DocumentSnapshot, error) {
	_, id := counter.ParentCollection(path)
	data, ok, err := s.readFile(s.filePath(path))
	if err != nil {
		return secondary.DocumentSnapshot{}, err
	}
	return secondary.DocumentSnapshot{
		Document: secondary.Document{ID: id, Path: path, Data: data},
		Exists:   ok,
	}, nil
}

func (s *DocumentStore) readFile(file string) (map[string]any, bool, error) {
	raw, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", file, err)
	}

	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return data, true, nil
}

func (s *DocumentStore) dirPath(collection string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.Trim(collection, "/")))
}

func (s *DocumentStore) filePath(docPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.Trim(docPath, "/"))) + docExt
}

func (s *DocumentStore) docPathFor(file string) string {
	rel, err := filepath.Rel(s.root, file)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), docExt)
}

// Ensure DocumentStore implements the interface
var _ secondary.RemoteStore = (*DocumentStore)(nil)
