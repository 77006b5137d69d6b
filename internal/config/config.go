package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/fibo/internal/core/counter"
	"github.com/example/fibo/internal/core/panel"
	"github.com/example/fibo/internal/ports/primary"
	"github.com/example/fibo/internal/ports/secondary"
	"github.com/example/fibo/internal/refine"
)

// Cache backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Dir is the per-project configuration directory.
const Dir = ".fibo"

// Config represents the fibo configuration
type Config struct {
	Version  string          `yaml:"version"`
	Store    StoreConfig     `yaml:"store"`
	Cache    CacheConfig     `yaml:"cache"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics,omitempty"`
	Counters []CounterConfig `yaml:"counters"`
}

// StoreConfig locates the directory-backed document store.
type StoreConfig struct {
	Root string `yaml:"root"` // relative paths resolve against the config dir's parent
}

// CacheConfig selects the LocalCache backing.
type CacheConfig struct {
	Backend string `yaml:"backend"` // json, sqlite or badger
	Path    string `yaml:"path"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // empty disables the endpoint
}

// CounterConfig declares one status counter.
type CounterConfig struct {
	Key     string         `yaml:"key"`
	Mode    string         `yaml:"mode"` // query or cascade
	Path    string         `yaml:"path"` // collection path; {actor} is substituted
	Filters []FilterConfig `yaml:"filters,omitempty"`
	Match   string         `yaml:"match,omitempty"` // expr-lang expression
	Panel   string         `yaml:"panel,omitempty"`
}

// FilterConfig is one query filter.
type FilterConfig struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"` // "==" or "array-contains"
	Value any    `yaml:"value"`
}

// Default returns a working configuration with the four standard counters.
func Default() *Config {
	return &Config{
		Version: "1",
		Store:   StoreConfig{Root: filepath.Join(Dir, "store")},
		Cache:   CacheConfig{Backend: BackendJSON, Path: filepath.Join(Dir, "counts.json")},
		Log:     LogConfig{Level: "info", Format: "text"},
		Counters: []CounterConfig{
			{
				Key:   "Favorites",
				Mode:  string(counter.ModeQuery),
				Path:  "users/{actor}/favorites",
				Panel: string(panel.Favorites),
			},
			{
				Key:  "Provider",
				Mode: string(counter.ModeQuery),
				Path: "providers",
				Filters: []FilterConfig{
					{Field: "members", Op: string(secondary.OpArrayContains), Value: counter.ActorPlaceholder},
				},
				Panel: string(panel.Provider),
			},
			{
				Key:   "Shares",
				Mode:  string(counter.ModeCascade),
				Path:  "users/{actor}/projects",
				Match: `status == "FiboShare"`,
				Panel: string(panel.Shares),
			},
			{
				Key:   "Published",
				Mode:  string(counter.ModeCascade),
				Path:  "users/{actor}/projects",
				Match: `published == true`,
				Panel: string(panel.Published),
			},
		},
	}
}

// LoadConfig reads .fibo/config.yaml from the specified directory.
// Resolution order: cwd only (no home fallback).
// Missing fields take their Default() values, except counters.
func LoadConfig(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes config.yaml to directory
func SaveConfig(dir string, cfg *Config) error {
	fiboDir := filepath.Join(dir, Dir)
	if err := os.MkdirAll(fiboDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s dir: %w", Dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(Path(dir), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Path returns the config file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, Dir, "config.yaml")
}

// Resolve makes a configured path absolute relative to dir.
func Resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Store.Root == "" {
		c.Store.Root = def.Store.Root
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = def.Cache.Backend
	}
	if c.Cache.Path == "" {
		switch c.Cache.Backend {
		case BackendSQLite:
			c.Cache.Path = filepath.Join(Dir, "cache.db")
		case BackendBadger:
			c.Cache.Path = filepath.Join(Dir, "badger")
		default:
			c.Cache.Path = def.Cache.Path
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case BackendJSON, BackendSQLite, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	seen := make(map[string]bool)
	for i, cc := range c.Counters {
		if seen[cc.Key] {
			errs = append(errs, fmt.Errorf("counters[%d]: duplicate key %q", i, cc.Key))
		}
		seen[cc.Key] = true
		if err := cc.validate(); err != nil {
			errs = append(errs, fmt.Errorf("counters[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (cc CounterConfig) validate() error {
	// Placeholder stands in for any actor; only the shape of the path matters here.
	guard := counter.CanWatch(counter.WatchContext{
		Key:          cc.Key,
		Mode:         counter.Mode(cc.Mode),
		Path:         counter.ResolveQuery(cc.Path, nil, "actor").Path,
		HasMatch:     cc.Match != "",
		ActorID:      "actor",
		SessionActor: "actor",
	})
	if !guard.Allowed {
		return guard.Error()
	}

	for _, f := range cc.Filters {
		if f.Field == "" {
			return fmt.Errorf("counter %s: filter field is required", cc.Key)
		}
		switch secondary.FilterOp(f.Op) {
		case secondary.OpEqual, secondary.OpArrayContains:
		default:
			return fmt.Errorf("counter %s: unknown filter op %q", cc.Key, f.Op)
		}
	}

	if cc.Match != "" {
		if err := refine.Validate(cc.Match); err != nil {
			return fmt.Errorf("counter %s: %w", cc.Key, err)
		}
	}

	if cc.Panel != "" {
		if r := panel.CanActivate(panel.Panel(cc.Panel)); !r.Allowed {
			return fmt.Errorf("counter %s: %w", cc.Key, r.Error())
		}
	}
	return nil
}

// Definitions converts the configured counters to port definitions.
func (c *Config) Definitions() []primary.CounterDefinition {
	defs := make([]primary.CounterDefinition, 0, len(c.Counters))
	for _, cc := range c.Counters {
		filters := make([]secondary.Filter, 0, len(cc.Filters))
		for _, f := range cc.Filters {
			filters = append(filters, secondary.Filter{Field: f.Field, Op: secondary.FilterOp(f.Op), Value: f.Value})
		}
		defs = append(defs, primary.CounterDefinition{
			Key:     cc.Key,
			Mode:    cc.Mode,
			Path:    cc.Path,
			Filters: filters,
			Match:   cc.Match,
			Panel:   cc.Panel,
		})
	}
	return defs
}

// Counter returns the counter configured under key.
func (c *Config) Counter(key string) (CounterConfig, bool) {
	for _, cc := range c.Counters {
		if cc.Key == key {
			return cc, true
		}
	}
	return CounterConfig{}, false
}
