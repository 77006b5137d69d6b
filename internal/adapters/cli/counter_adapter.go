package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/example/fibo/internal/ports/primary"
)

// CounterAdapter is a thin adapter that translates CLI operations to
// CounterService calls and renders live counter values.
// The counter whose panel is active in the registry renders expanded.
type CounterAdapter struct {
	service primary.CounterService
	panels  primary.PanelRegistry
	out     io.Writer

	mu      sync.Mutex
	defs    []primary.CounterDefinition
	updates map[string]primary.CountUpdate
	errs    map[string]error
}

// NewCounterAdapter creates a new CounterAdapter with the given service and panel registry.
func NewCounterAdapter(service primary.CounterService, panels primary.PanelRegistry, out io.Writer) *CounterAdapter {
	return &CounterAdapter{
		service: service,
		panels:  panels,
		out:     out,
		updates: make(map[string]primary.CountUpdate),
		errs:    make(map[string]error),
	}
}

// Watch signs actorID in and starts every definition. Each update prints one line.
// If any counter fails to start, the ones already started are cancelled.
func (a *CounterAdapter) Watch(ctx context.Context, actorID string, defs []primary.CounterDefinition) ([]primary.Watch, error) {
	if err := a.service.SignIn(ctx, actorID); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	a.mu.Lock()
	a.defs = defs
	a.mu.Unlock()

	watches := make([]primary.Watch, 0, len(defs))
	for _, def := range defs {
		w, err := a.service.Watch(ctx, def, primary.CountObserverFuncs{
			Count: a.onCount,
			Error: a.onError,
		})
		if err != nil {
			for _, started := range watches {
				started.Cancel()
			}
			return nil, fmt.Errorf("failed to watch %s: %w", def.Key, err)
		}
		watches = append(watches, w)
	}
	return watches, nil
}

// Render prints the latest value of every watched counter.
func (a *CounterAdapter) Render() {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT\tPANEL")
	fmt.Fprintln(w, "------\t-----\t-----")
	for _, def := range a.defs {
		value := "-"
		if u, ok := a.updates[def.Key]; ok {
			value = fmt.Sprintf("%d", u.Value)
			if u.Stale {
				value += color.New(color.FgYellow).Sprint(" (cached)")
			}
		}
		if err, ok := a.errs[def.Key]; ok {
			value = color.New(color.FgRed).Sprintf("error: %v", err)
		}

		marker := def.Panel
		if a.panels.IsActive(def.Panel) {
			marker = color.New(color.FgHiMagenta).Sprintf("%s ←", def.Panel)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Key, value, marker)
	}
	w.Flush()
}

// ShowCached prints the cached value for key.
func (a *CounterAdapter) ShowCached(ctx context.Context, key string) (int, error) {
	value, err := a.service.CachedCount(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache: %w", err)
	}
	fmt.Fprintf(a.out, "%s: %d\n", key, value)
	return value, nil
}

// Value returns the latest update for key.
func (a *CounterAdapter) Value(key string) (primary.CountUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.updates[key]
	return u, ok
}

func (a *CounterAdapter) onCount(update primary.CountUpdate) {
	a.mu.Lock()
	a.updates[update.Key] = update
	delete(a.errs, update.Key)
	def, _ := a.definition(update.Key)
	a.mu.Unlock()

	if a.panels.IsActive(def.Panel) {
		a.printExpanded(def, update)
		return
	}

	suffix := ""
	if update.Stale {
		suffix = color.New(color.FgYellow).Sprint(" (cached)")
	}
	fmt.Fprintf(a.out, "%s: %d%s\n", update.Key, update.Value, suffix)
}

func (a *CounterAdapter) onError(key string, err error) {
	a.mu.Lock()
	a.errs[key] = err
	a.mu.Unlock()

	fmt.Fprintf(a.out, "%s: %s\n", key, color.New(color.FgRed).Sprintf("error: %v", err))
}

func (a *CounterAdapter) printExpanded(def primary.CounterDefinition, update primary.CountUpdate) {
	state := color.New(color.FgGreen).Sprint("live")
	if update.Stale {
		state = color.New(color.FgYellow).Sprint("cached")
	}

	fmt.Fprintln(a.out)
	fmt.Fprintf(a.out, "%s %s\n", color.New(color.FgHiMagenta).Sprint("▸"), color.New(color.Bold).Sprint(update.Key))
	fmt.Fprintf(a.out, "  Count:  %d\n", update.Value)
	fmt.Fprintf(a.out, "  State:  %s\n", state)
	fmt.Fprintf(a.out, "  Mode:   %s\n", def.Mode)
	fmt.Fprintf(a.out, "  Path:   %s\n", def.Path)
	if def.Match != "" {
		fmt.Fprintf(a.out, "  Match:  %s\n", def.Match)
	}
}

// definition looks up key. Caller holds mu.
func (a *CounterAdapter) definition(key string) (primary.CounterDefinition, bool) {
	for _, def := range a.defs {
		if def.Key == key {
			return def, true
		}
	}
	return primary.CounterDefinition{Key: key}, false
}
