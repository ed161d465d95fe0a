package modcache

import (
	"context"
	"sync"

	"github.com/depcache/modcache/store"
)

// memBackend is an in-memory store.Backend fake for tests, modeled on the
// teacher's memProvider test double: a mutex-guarded map is enough to
// exercise the cache logic without touching a real filesystem.
type memBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	readOnly bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

var _ store.Backend = (*memBackend)(nil)

func (m *memBackend) ReadOnly() bool { return m.readOnly }

func (m *memBackend) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *memBackend) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[path]
	return ok, nil
}

func (m *memBackend) Write(_ context.Context, path string, value []byte, _ uint32) error {
	if m.readOnly {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[path] = cp
	return nil
}

func (m *memBackend) ModTime(_ context.Context, path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[path]; !ok {
		return 0, store.ErrNotFound
	}
	return 0, nil
}
