// Package primary defines the primary ports (driving adapters) for the application.
// These are the interfaces through which views and the CLI drive the engine.
package primary
