// Package wire provides dependency injection for the fibo application.
// It creates singleton services with lazy initialization.
package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"

	badgeradapter "github.com/example/fibo/internal/adapters/badger"
	cliadapter "github.com/example/fibo/internal/adapters/cli"
	"github.com/example/fibo/internal/adapters/filesystem"
	"github.com/example/fibo/internal/adapters/memstore"
	"github.com/example/fibo/internal/adapters/sqlite"
	"github.com/example/fibo/internal/app"
	"github.com/example/fibo/internal/config"
	"github.com/example/fibo/internal/db"
	"github.com/example/fibo/internal/eventloop"
	"github.com/example/fibo/internal/logging"
	"github.com/example/fibo/internal/ports/primary"
	"github.com/example/fibo/internal/ports/secondary"
)

// Options select how services are built. Set them with Configure before the
// first accessor is called.
type Options struct {
	// Dir holds .fibo/config.yaml. Defaults to the working directory.
	Dir string

	// Memory replaces the directory-backed store with an in-memory one.
	Memory bool

	// LogOutput receives log records. Defaults to stderr.
	LogOutput io.Writer
}

var (
	options Options

	cfg            *config.Config
	logger         *slog.Logger
	remoteStore    secondary.RemoteStore
	memoryStore    *memstore.Store
	documentStore  *filesystem.DocumentStore
	localCache     secondary.LocalCache
	events         *eventloop.Queue
	writes         *eventloop.Queue
	counterService *app.CounterServiceImpl
	panelRegistry  *app.PanelRegistryImpl
	closers        []func() error

	once    sync.Once
	initErr error
)

// Configure sets the options used on first initialization.
func Configure(opts Options) {
	options = opts
}

// Init builds every service and reports any configuration error.
// Accessors call it implicitly and exit on failure.
func Init() error {
	once.Do(func() { initErr = initServices() })
	return initErr
}

func mustInit() {
	if err := Init(); err != nil {
		log.Fatalf("failed to initialize fibo: %v", err)
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	mustInit()
	return cfg
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	mustInit()
	return logger
}

// CounterService returns the singleton CounterService instance.
func CounterService() primary.CounterService {
	mustInit()
	return counterService
}

// PanelRegistry returns the singleton PanelRegistry instance.
func PanelRegistry() primary.PanelRegistry {
	mustInit()
	return panelRegistry
}

// MemoryStore returns the in-memory store, or nil unless Options.Memory is set.
func MemoryStore() *memstore.Store {
	mustInit()
	return memoryStore
}

// DocumentStore returns the directory-backed store, or nil when Options.Memory is set.
func DocumentStore() *filesystem.DocumentStore {
	mustInit()
	return documentStore
}

// LocalCache returns the configured cache backing.
func LocalCache() secondary.LocalCache {
	mustInit()
	return localCache
}

// Flush waits for all pending subscription callbacks and cache writes.
func Flush() error {
	mustInit()
	return counterService.Flush(context.Background())
}

// CounterAdapter returns a new CounterAdapter writing to stdout.
// Each call creates a new adapter (adapters are stateless translators).
func CounterAdapter() *cliadapter.CounterAdapter {
	return CounterAdapterWithOutput(os.Stdout)
}

// CounterAdapterWithOutput returns a new CounterAdapter writing to the given output.
// This variant allows testing or alternate output destinations.
func CounterAdapterWithOutput(out io.Writer) *cliadapter.CounterAdapter {
	mustInit()
	return cliadapter.NewCounterAdapter(counterService, panelRegistry, out)
}

// Close stops the queues and releases the store and cache.
func Close() error {
	if cfg == nil {
		return nil
	}
	if counterService != nil {
		_ = counterService.SignOut(context.Background())
	}
	if events != nil {
		events.Stop()
	}
	if writes != nil {
		writes.Stop()
	}

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	closers = nil
	return errors.Join(errs...)
}

// initServices initializes all services and their dependencies.
// This is called once via sync.Once.
func initServices() error {
	dir := options.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	loaded, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}
	cfg = loaded

	out := options.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err = logging.New(cfg.Log, out)
	if err != nil {
		return err
	}

	// Create the remote store adapter (secondary port)
	if options.Memory {
		memoryStore = memstore.New()
		remoteStore = memoryStore
	} else {
		documentStore, err = filesystem.NewDocumentStore(config.Resolve(dir, cfg.Store.Root), logger)
		if err != nil {
			return err
		}
		remoteStore = documentStore
		closers = append(closers, documentStore.Close)
	}

	localCache, err = openCache(dir, cfg.Cache, logger)
	if err != nil {
		return err
	}

	events = eventloop.New("events", logger)
	writes = eventloop.New("writes", logger)

	// Create services (primary ports implementation)
	counterService = app.NewCounterService(remoteStore, localCache, events, writes, logger)
	panelRegistry = app.NewPanelRegistry()

	logger.Debug("services initialized",
		slog.String("cache", cfg.Cache.Backend),
		slog.Bool("memory_store", options.Memory),
	)
	return nil
}

// openCache builds the configured LocalCache backing.
func openCache(dir string, cc config.CacheConfig, logger *slog.Logger) (secondary.LocalCache, error) {
	path := config.Resolve(dir, cc.Path)

	switch cc.Backend {
	case config.BackendSQLite:
		database, err := db.Open(path)
		if err != nil {
			return nil, err
		}
		closers = append(closers, database.Close)
		return sqlite.NewCacheRepository(database), nil

	case config.BackendBadger:
		cache, err := badgeradapter.Open(badgeradapter.Config{
			Path:       path,
			SyncWrites: true,
			Logger:     logger.With(slog.String("component", "badger")),
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, cache.Close)
		return cache, nil

	case config.BackendJSON:
		return filesystem.NewJSONCache(path), nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
	}
}
