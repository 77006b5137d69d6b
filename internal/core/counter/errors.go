// Package counter contains the pure business logic for live counters.
// This is part of the Functional Core - no I/O, only pure functions and types.
package counter

import "fmt"

// SubscriptionError reports a transport or permission failure on a RemoteStore subscription.
type SubscriptionError struct {
	Path string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription on %s failed: %v", e.Path, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// CacheOp names the LocalCache operation that failed.
type CacheOp string

const (
	CacheOpGet CacheOp = "get"
	CacheOpSet CacheOp = "set"
)

// CacheIOError reports a failed read or write of the local cache.
type CacheIOError struct {
	Op  CacheOp
	Key string
	Err error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }
