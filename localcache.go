package modcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/depcache/modcache/store"
)

// localManifestEntry records, for one vendored sub-path, the data that
// path-decoding cannot reconstruct: the original URL exactly as it was
// passed in (query and any fragment included) and the exact response
// header map.
type localManifestEntry struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// LocalCacheOptions configures a LocalCache. Backend and Global are
// required.
type LocalCacheOptions struct {
	Backend store.Backend
	Global  *GlobalCache

	// AllowGlobalToLocalCopy enables the opportunistic copy-on-read from
	// the global cache. There is no implicit default: the zero value
	// (false) leaves the copy off, also for a writable Backend. It is
	// forced false when Backend.ReadOnly() is true.
	AllowGlobalToLocalCopy bool

	Logger Logger
	Hooks  Hooks
}

// LocalCache is a developer-facing, path-decoded overlay of GlobalCache,
// suitable for checking into a vendor directory. Path decoding is lossy
// (queries, fragments, non-path characters), so a manifest persists the
// original URL and header map alongside the decoded tree.
type LocalCache struct {
	backend   store.Backend
	global    *GlobalCache
	allowCopy bool
	log       Logger
	hooks     Hooks

	mu       sync.Mutex
	manifest map[string]localManifestEntry
	loaded   bool
}

const manifestPath = "vendor-manifest.json"

func NewLocalCache(opts LocalCacheOptions) *LocalCache {
	allow := opts.AllowGlobalToLocalCopy && !opts.Backend.ReadOnly()
	return &LocalCache{
		backend:   opts.Backend,
		global:    opts.Global,
		allowCopy: allow,
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:     coalesceHooks(opts.Hooks),
	}
}

func (l *LocalCache) ReadOnly() bool { return l.backend.ReadOnly() }

func (l *LocalCache) ensureManifest(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}
	l.manifest = make(map[string]localManifestEntry)
	raw, err := l.backend.Read(ctx, manifestPath)
	if errors.Is(err, store.ErrNotFound) {
		l.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &l.manifest); err != nil {
		l.log.Warn("discarding corrupt vendor manifest", Fields{"err": err})
		l.manifest = make(map[string]localManifestEntry)
	}
	l.loaded = true
	return nil
}

func (l *LocalCache) saveManifestLocked(ctx context.Context) error {
	raw, err := json.MarshalIndent(l.manifest, "", "  ")
	if err != nil {
		return err
	}
	return l.backend.Write(ctx, manifestPath, raw, 0o644)
}

// GetHeaders is the read-only variant of Get.
func (l *LocalCache) GetHeaders(ctx context.Context, rawURL string, dest Destination) (map[string]string, bool, error) {
	e, hit, err := l.Get(ctx, rawURL, dest, "")
	if !hit || err != nil {
		return nil, hit, err
	}
	return e.Headers, true, nil
}

// Get first looks up the local layout; a hit there returns trusted bytes
// (checksum is ignored for local hits). A miss falls through to the
// global cache when copy-on-read is enabled.
func (l *LocalCache) Get(ctx context.Context, rawURL string, dest Destination, checksum string) (*CacheEntry, bool, error) {
	sub, err := localSubPath(rawURL, dest)
	if err != nil {
		return nil, false, err
	}
	if err := l.ensureManifest(ctx); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	entry, ok := l.manifest[sub]
	l.mu.Unlock()
	if ok {
		content, err := l.backend.Read(ctx, sub)
		if err == nil {
			return &CacheEntry{Headers: entry.Headers, Content: content}, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
		l.hooks.SelfHealEntry(sub, "content_missing")
	}

	if !l.allowCopy {
		return nil, false, nil
	}

	ge, hit, err := l.global.Get(ctx, rawURL, dest, checksum)
	if err != nil || !hit {
		return nil, false, err
	}
	if err := l.writeLocal(ctx, sub, rawURL, ge.Headers, ge.Content); err != nil {
		return nil, false, err
	}
	l.hooks.LocalCopyFromGlobal(rawURL)
	return ge, true, nil
}

// Set writes directly to the local layout and records the manifest entry.
func (l *LocalCache) Set(ctx context.Context, rawURL string, dest Destination, headers map[string]string, content []byte) error {
	sub, err := localSubPath(rawURL, dest)
	if err != nil {
		return err
	}
	if l.backend.ReadOnly() {
		l.hooks.ReadOnlySkip(sub)
		return nil
	}
	return l.writeLocal(ctx, sub, rawURL, lowercaseHeaders(headers), content)
}

func (l *LocalCache) writeLocal(ctx context.Context, sub, rawURL string, headers map[string]string, content []byte) error {
	if err := l.backend.Write(ctx, sub, content, 0o644); err != nil {
		return err
	}
	if err := l.ensureManifest(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	l.manifest[sub] = localManifestEntry{URL: rawURL, Headers: headers}
	err := l.saveManifestLocked(ctx)
	l.mu.Unlock()
	return err
}

// localSubPath decodes a URL into a human-readable vendor tree path:
// <scheme>/<host-or-hostport>/<path segments...>. Segments that cannot be
// reproduced faithfully on a case-insensitive or POSIX-hostile filesystem
// (any ASCII uppercase letter, forbidden characters including a decoded
// "/", control characters, or empty after unescaping) are
// replaced wholesale by a short content hash bucket; the manifest is what
// makes the original URL recoverable in that case. A query string, which
// has no natural filesystem representation, is folded into a hash suffix
// on the final segment.
func localSubPath(rawURL string, dest Destination) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &UnsupportedURLError{URL: rawURL}
	}
	switch u.Scheme {
	case "http", "https", "data", "blob":
	default:
		return "", &UnsupportedURLError{URL: rawURL}
	}

	host := hostToken(u)
	trimmed := strings.TrimPrefix(u.EscapedPath(), "/")
	var segments []string
	if trimmed != "" {
		segments = strings.Split(trimmed, "/")
	}
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil || !isSafeSegment(decoded) {
			segments[i] = "#" + shortHash(seg)
		} else {
			segments[i] = decoded
		}
	}
	if len(segments) == 0 {
		segments = []string{"#" + shortHash("")}
	}
	if u.RawQuery != "" {
		last := len(segments) - 1
		segments[last] = segments[last] + "_" + shortHash(u.RawQuery)
	}
	if dest == DestinationJSON {
		last := len(segments) - 1
		segments[last] = segments[last] + ".json-dest"
	}

	parts := []string{u.Scheme}
	if host != "" {
		parts = append(parts, host)
	}
	parts = append(parts, segments...)
	return strings.Join(parts, "/"), nil
}

const forbiddenSegmentChars = `?<>:*|\"/`

func isSafeSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x20 {
			return false
		}
		if strings.ContainsRune(forbiddenSegmentChars, r) {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			return false
		}
	}
	return true
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
