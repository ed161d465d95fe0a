// Package hotcache provides an optional, lossy, in-memory read-through
// accelerator that GlobalCache places in front of its content store
// (LocalCache has none). A hit here skips reading the content from the
// store; the sidecar is still read from the store first. A miss falls
// straight through to disk as if hotcache were absent. Disabling it (a nil
// Provider) never changes observable behavior, only performance — the
// persistent stores remain the single source of truth.
package hotcache

import (
	"context"
	"time"
)

// Provider is a minimal byte store with a TTL hint, implemented by
// Ristretto and BigCache in this package. Get must return exactly the
// bytes previously passed to Set for a key.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)
	Del(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
