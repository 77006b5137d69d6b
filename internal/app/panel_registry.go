package app

import (
	"sync"

	"github.com/example/fibo/internal/core/panel"
	"github.com/example/fibo/internal/ports/primary"
)

// PanelRegistryImpl implements the PanelRegistry interface.
// It holds the single exclusive panel selection for one view tree; inject the
// same instance into every consumer instead of sharing global state.
type PanelRegistryImpl struct {
	mu        sync.Mutex
	state     panel.Panel
	listeners []func(active string)
}

// NewPanelRegistry creates a registry with no panel active.
func NewPanelRegistry() *PanelRegistryImpl {
	return &PanelRegistryImpl{state: panel.InitialState()}
}

// Activate selects p, or deselects it when it is already active.
func (r *PanelRegistryImpl) Activate(p string) (string, error) {
	name := panel.Parse(p)
	if result := panel.CanActivate(name); !result.Allowed {
		return r.Active(), result.Error()
	}

	r.mu.Lock()
	r.state = panel.Activate(r.state, name)
	active := string(r.state)
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(active)
	}
	return active, nil
}

// HideAll deselects every panel.
func (r *PanelRegistryImpl) HideAll() {
	r.mu.Lock()
	changed := r.state != panel.None
	r.state = panel.HideAll()
	listeners := r.listeners
	r.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn("")
	}
}

// Active returns the active panel, or "" when none is active.
func (r *PanelRegistryImpl) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.state)
}

// IsActive reports whether p is the active panel.
func (r *PanelRegistryImpl) IsActive(p string) bool {
	name := panel.Parse(p)
	return name != panel.None && r.Active() == string(name)
}

// OnChange registers fn to be called after every change.
func (r *PanelRegistryImpl) OnChange(fn func(active string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners[:len(r.listeners):len(r.listeners)], fn)
}

// Ensure PanelRegistryImpl implements the interface.
var _ primary.PanelRegistry = (*PanelRegistryImpl)(nil)
