// Package ctxutil provides context utilities that can be safely imported anywhere.
// This package has no internal dependencies to avoid import cycles.
package ctxutil

import (
	"context"
	"errors"
)

// ErrNoActor is returned when an operation needs an actor and the context has none.
var ErrNoActor = errors.New("no actor in context")

// ActorKey is the context key for actor ID.
// Exported so it can be used consistently across packages.
type ActorKey struct{}

// WithActorID returns a context with the actor ID embedded.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorKey{}, actorID)
}

// ActorFromContext returns the actor ID from context, or empty string if not set.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireActor returns the actor ID from context or ErrNoActor.
func RequireActor(ctx context.Context) (string, error) {
	actorID := ActorFromContext(ctx)
	if actorID == "" {
		return "", ErrNoActor
	}
	return actorID, nil
}
