// Package panel contains the pure business logic for panel selection.
// Exactly one panel may be active at a time; this is the single source of truth
// for that rule.
package panel

import (
	"fmt"
	"strings"
)

// Panel names one of the fixed, expandable counter panels.
type Panel string

const (
	Favorites Panel = "favorites"
	Provider  Panel = "provider"
	Shares    Panel = "shares"
	Published Panel = "published"
)

// None is the state where no panel is active.
const None Panel = ""

// All returns the fixed panel set in display order.
func All() []Panel {
	return []Panel{Favorites, Provider, Shares, Published}
}

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// Parse normalises a user-supplied panel name. Names are case-insensitive.
func Parse(name string) Panel {
	return Panel(strings.ToLower(strings.TrimSpace(name)))
}

// CanActivate evaluates whether p is a known panel.
func CanActivate(p Panel) GuardResult {
	for _, known := range All() {
		if p == known {
			return GuardResult{Allowed: true}
		}
	}
	return GuardResult{
		Allowed: false,
		Reason:  fmt.Sprintf("unknown panel %q", p),
	}
}

// Activate returns the state after selecting p from current.
// Selecting the active panel again deselects it.
func Activate(current, p Panel) Panel {
	if current == p {
		return None
	}
	return p
}

// HideAll returns the state with no panel active.
func HideAll() Panel {
	return None
}

// InitialState returns the state of a freshly created register.
func InitialState() Panel {
	return None
}
