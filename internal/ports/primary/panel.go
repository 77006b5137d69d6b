package primary

// PanelRegistry defines the primary port for the exclusive panel selection.
type PanelRegistry interface {
	// Activate selects panel, or deselects it if it is already active.
	// It returns the active panel afterwards ("" for none).
	Activate(panel string) (string, error)

	// HideAll deselects every panel.
	HideAll()

	// Active returns the active panel, or "" when none is active.
	Active() string

	// IsActive reports whether panel is the active one.
	IsActive(panel string) bool

	// OnChange registers fn to be called with the new active panel after every change.
	OnChange(fn func(active string))
}
