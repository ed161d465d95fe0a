package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/depcache/modcache"
)

type Options struct {
	// Sampling to avoid floods from noisy, high-frequency hooks; 0/1 = log all.
	SelfHealEvery int
	RetryEvery    int
	// Optional URL redactor. Defaults to a SHA-256 prefix, since cache keys
	// often embed upstream auth-bearing query strings.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	retryCtr    atomic.Uint64
}

var _ modcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(url string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(url)
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

func sample(n int, ctr *atomic.Uint64) bool {
	if n <= 1 {
		return true
	}
	return ctr.Add(1)%uint64(n) == 0
}

func (h *Hooks) SelfHealEntry(path, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("modcache.self_heal_entry", "path", h.redact(path), "reason", reason)
}

func (h *Hooks) RedirectPersisted(from, to string) {
	if h.l == nil {
		return
	}
	h.l.Debug("modcache.redirect_persisted", "from", h.redact(from), "to", h.redact(to))
}

func (h *Hooks) RetryScheduled(url string, attempt int, backoff string, err error) {
	if h.l == nil || !sample(h.opts.RetryEvery, &h.retryCtr) {
		return
	}
	h.l.Warn("modcache.retry_scheduled",
		"url", h.redact(url),
		"attempt", attempt,
		"backoff", backoff,
		"err", err)
}

func (h *Hooks) ChecksumMismatch(url, expected, actual string) {
	if h.l == nil {
		return
	}
	h.l.Error("modcache.checksum_mismatch",
		"url", h.redact(url),
		"expected", expected,
		"actual", actual)
}

func (h *Hooks) LocalCopyFromGlobal(url string) {
	if h.l == nil {
		return
	}
	h.l.Debug("modcache.local_copy_from_global", "url", h.redact(url))
}

func (h *Hooks) ReadOnlySkip(path string) {
	if h.l == nil {
		return
	}
	h.l.Debug("modcache.read_only_skip", "path", h.redact(path))
}
