package counter

import (
	"fmt"
	"strings"

	"github.com/example/fibo/internal/ports/secondary"
)

// Mode selects how a counter derives its aggregate.
type Mode string

const (
	// ModeQuery counts the result set of one predicate query.
	ModeQuery Mode = "query"
	// ModeCascade counts parent documents whose own state matches, using one
	// subscription per parent.
	ModeCascade Mode = "cascade"
)

// ActorPlaceholder is substituted with the current actor id in paths and filter values.
const ActorPlaceholder = "{actor}"

// WatchContext provides context for counter watch guards.
type WatchContext struct {
	Key          string
	Mode         Mode
	Path         string // after actor substitution
	HasMatch     bool
	ActorID      string // actor carried by the caller
	SessionActor string // actor currently signed in
}

// CanWatch evaluates whether a counter may start watching.
// Rules:
// - A signed-in actor is required and the caller's actor must be that actor
// - Key must be set (it is the cache key)
// - Mode must be query or cascade; cascade requires a match expression
// - Path must be a collection path
func CanWatch(ctx WatchContext) GuardResult {
	if ctx.SessionActor == "" {
		return GuardResult{Allowed: false, Reason: "no actor signed in"}
	}
	if ctx.ActorID != ctx.SessionActor {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("actor %q is not the signed-in actor", ctx.ActorID),
		}
	}
	if ctx.Key == "" {
		return GuardResult{Allowed: false, Reason: "counter key is required"}
	}

	switch ctx.Mode {
	case ModeQuery:
	case ModeCascade:
		if !ctx.HasMatch {
			return GuardResult{
				Allowed: false,
				Reason:  fmt.Sprintf("cascade counter %s requires a match expression", ctx.Key),
			}
		}
	default:
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("counter %s has unknown mode %q", ctx.Key, ctx.Mode),
		}
	}

	if !IsCollectionPath(ctx.Path) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("counter %s path %q is not a collection path", ctx.Key, ctx.Path),
		}
	}

	return GuardResult{Allowed: true}
}

// ResolveQuery substitutes the actor placeholder in the path and in string filter values.
func ResolveQuery(path string, filters []secondary.Filter, actorID string) secondary.Query {
	q := secondary.Query{Path: strings.ReplaceAll(path, ActorPlaceholder, actorID)}
	for _, f := range filters {
		if s, ok := f.Value.(string); ok {
			f.Value = strings.ReplaceAll(s, ActorPlaceholder, actorID)
		}
		q.Filters = append(q.Filters, f)
	}
	return q
}
