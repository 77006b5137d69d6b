package secondary

import "context"

// FilterOp is a comparison supported by RemoteStore queries.
type FilterOp string

const (
	// OpEqual matches documents whose field equals the value.
	OpEqual FilterOp = "=="
	// OpArrayContains matches documents whose array field contains the value.
	OpArrayContains FilterOp = "array-contains"
)

// Filter is a single field condition of a Query.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Query selects documents of one collection. Filters are combined with AND.
type Query struct {
	// Path is a collection path such as "users/u1/projects".
	Path    string
	Filters []Filter
}

// Document is one document as delivered by a RemoteStore.
type Document struct {
	ID   string
	Path string // full document path, "users/u1/projects/p1"
	Data map[string]any
}

// DocumentSnapshot is the state of a single document subscription.
// Exists is false once the document has been deleted.
type DocumentSnapshot struct {
	Document
	Exists bool
}

// CancelFunc stops a subscription. Implementations must tolerate repeated calls.
type CancelFunc func()

// QueryListener receives the full current result set on every change.
type QueryListener struct {
	OnSnapshot func(docs []Document)
	OnError    func(err error)
}

// DocumentListener receives the current state of a single document on every change.
type DocumentListener struct {
	OnSnapshot func(snap DocumentSnapshot)
	OnError    func(err error)
}

// RemoteStore defines the secondary port for the real-time document store.
// Listeners may be invoked from any goroutine, but never concurrently for the
// same subscription, and always in change order for that subscription.
type RemoteStore interface {
	// Subscribe delivers the query's result set now and after every change.
	Subscribe(ctx context.Context, q Query, l QueryListener) (CancelFunc, error)

	// SubscribeDocument delivers the document at path now and after every change.
	SubscribeDocument(ctx context.Context, path string, l DocumentListener) (CancelFunc, error)

	// Get performs a one-shot read of the query's result set.
	Get(ctx context.Context, q Query) ([]Document, error)
}
