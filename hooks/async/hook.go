// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/depcache/modcache"
//	"github.com/depcache/modcache/hooks/async"
//	"github.com/depcache/modcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    RetryEvery:    1,  // log every retry
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	fetcher := modcache.NewFetcher(modcache.FetcherOptions{
//	    ...
//	    Hooks: hooks, // or `raw` if you don't want async dispatch
//	})
package asynchook

import (
	"sync"

	"github.com/depcache/modcache"
)

// Hooks wraps an inner modcache.Hooks and dispatches every call on a
// bounded worker pool, so a slow sink (network logging, a metrics push)
// never adds latency to the cache's hot path. Events are dropped, not
// blocked on, when the queue is full.
type Hooks struct {
	inner modcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ modcache.Hooks = (*Hooks)(nil)

func New(inner modcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHealEntry(path, reason string) {
	h.try(func() { h.inner.SelfHealEntry(path, reason) })
}
func (h *Hooks) RedirectPersisted(from, to string) {
	h.try(func() { h.inner.RedirectPersisted(from, to) })
}
func (h *Hooks) RetryScheduled(url string, attempt int, backoff string, err error) {
	h.try(func() { h.inner.RetryScheduled(url, attempt, backoff, err) })
}
func (h *Hooks) ChecksumMismatch(url, expected, actual string) {
	h.try(func() { h.inner.ChecksumMismatch(url, expected, actual) })
}
func (h *Hooks) LocalCopyFromGlobal(url string) {
	h.try(func() { h.inner.LocalCopyFromGlobal(url) })
}
func (h *Hooks) ReadOnlySkip(path string) {
	h.try(func() { h.inner.ReadOnlySkip(path) })
}
