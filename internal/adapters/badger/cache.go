// Package badger contains a BadgerDB implementation of the LocalCache port.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/example/fibo/internal/ports/secondary"
)

const keyPrefix = "count:"

// Config controls how the cache database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache implements secondary.LocalCache on BadgerDB. Each status label is
// stored under "count:<label>" as a decimal string.
type Cache struct {
	db *badger.DB
}

// Open opens or creates the cache database.
func Open(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached count for key, or 0 if none has been stored.
func (c *Cache) Get(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var value int
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			n, err := strconv.Atoi(string(raw))
			if err != nil {
				return fmt.Errorf("corrupt count for %s: %w", key, err)
			}
			value = n
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get count for %s: %w", key, err)
	}
	return value, nil
}

// Set stores value for key.
func (c *Cache) Set(ctx context.Context, key string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(strconv.Itoa(value)))
	})
	if err != nil {
		return fmt.Errorf("failed to set count for %s: %w", key, err)
	}
	return nil
}

// List returns every cached count keyed by status label.
func (c *Cache) List(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix), PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			label := strings.TrimPrefix(string(item.Key()), keyPrefix)
			err := item.Value(func(raw []byte) error {
				n, err := strconv.Atoi(string(raw))
				if err != nil {
					return fmt.Errorf("corrupt count for %s: %w", label, err)
				}
				counts[label] = n
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list counts: %w", err)
	}
	return counts, nil
}

// Ensure Cache implements the interface
var _ secondary.LocalCache = (*Cache)(nil)
