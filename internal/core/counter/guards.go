package counter

import (
	"fmt"
	"strings"

	"github.com/example/fibo/internal/ports/secondary"
)

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

// SplitPath splits a slash separated store path into its segments.
// Leading and trailing slashes are ignored.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// IsCollectionPath reports whether path addresses a collection
// (odd number of non-empty segments).
func IsCollectionPath(path string) bool {
	segs := SplitPath(path)
	return len(segs)%2 == 1 && !hasEmpty(segs)
}

// IsDocumentPath reports whether path addresses a document
// (even, non-zero number of non-empty segments).
func IsDocumentPath(path string) bool {
	segs := SplitPath(path)
	return len(segs) > 0 && len(segs)%2 == 0 && !hasEmpty(segs)
}

// DocumentPath joins a collection path and a document id.
func DocumentPath(collection, id string) string {
	return strings.Trim(collection, "/") + "/" + id
}

// ParentCollection returns the collection path and id of a document path.
func ParentCollection(docPath string) (collection, id string) {
	segs := SplitPath(docPath)
	if len(segs) == 0 {
		return "", ""
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1]
}

// CanOpenQuery evaluates whether a query may be subscribed to.
// Rules:
// - Path must reference exactly one collection
// - Every filter must name a field and use == or array-contains
func CanOpenQuery(q secondary.Query) GuardResult {
	if !IsCollectionPath(q.Path) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("query path %q is not a collection path", q.Path),
		}
	}

	for i, f := range q.Filters {
		if f.Field == "" {
			return GuardResult{
				Allowed: false,
				Reason:  fmt.Sprintf("filter %d on %s has no field", i, q.Path),
			}
		}
		if f.Op != secondary.OpEqual && f.Op != secondary.OpArrayContains {
			return GuardResult{
				Allowed: false,
				Reason:  fmt.Sprintf("filter %d on %s uses unsupported operator %q", i, q.Path, f.Op),
			}
		}
	}

	return GuardResult{Allowed: true}
}

// CanOpenDocument evaluates whether a document path may be subscribed to.
func CanOpenDocument(path string) GuardResult {
	if !IsDocumentPath(path) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("path %q is not a document path", path),
		}
	}
	return GuardResult{Allowed: true}
}

func hasEmpty(segs []string) bool {
	for _, s := range segs {
		if s == "" {
			return true
		}
	}
	return false
}
