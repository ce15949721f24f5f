// Package store persists opaque documents under string keys.
//
// The memory document and per-agent dialogue transcripts share one KV so a
// deployment has a single persistence location.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("store: key not found")

// KV is a keyed document store. Implementations are safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open returns the KV for a backend name ("sqlite" or "file").
func Open(backend, path string) (KV, error) {
	switch backend {
	case "file":
		return NewFileKV(path)
	default:
		return NewSQLite(path)
	}
}
