// Package store defines the atomic read/write primitives the two HTTP
// cache backends (global and local/vendor) are built on, and the
// byte-for-byte-transparent Backend abstraction those primitives sit
// behind.
//
// Implementations MUST be byte-for-byte transparent: Read must return
// exactly the bytes previously passed to Write for a key. No
// prepending/appending metadata, no re-encoding.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read and ModTime when a key has no entry.
var ErrNotFound = errors.New("modcache/store: not found")

// Backend is a minimal, atomic byte store keyed by a relative path.
// Writes must be atomic: a reader never observes a partial value.
type Backend interface {
	// Read returns the bytes previously written at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether path has a value, without reading it.
	Exists(ctx context.Context, path string) (bool, error)

	// Write stores value at path atomically, creating parent directories
	// as needed. mode is advisory: backends without a POSIX mode concept
	// may ignore it.
	Write(ctx context.Context, path string, value []byte, mode uint32) error

	// ModTime returns the modification time of path as a Unix timestamp
	// (seconds), or ErrNotFound.
	ModTime(ctx context.Context, path string) (int64, error)

	// ReadOnly reports whether Write is expected to silently no-op.
	ReadOnly() bool
}
