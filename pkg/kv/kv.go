// Package kv provides the crash-durable key-value storage used for the task
// list, the sync queue and small pieces of sync state.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("kv: key not found")

// Store is a durable key-value store. Set must not return before the value
// survives a process restart. Several processes may share one store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Update runs fn on the value currently stored under key (nil when the
	// key is unset) and stores the result, with no other writer in between.
	// If fn fails nothing is written and its error is returned. A nil
	// result leaves the key as it is.
	Update(ctx context.Context, key string, fn func(value []byte) ([]byte, error)) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Open opens the store for the configured backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return OpenSQLite(path)
	case BackendJSON:
		return OpenFile(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
