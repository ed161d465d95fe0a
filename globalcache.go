package modcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/depcache/modcache/entrycodec"
	"github.com/depcache/modcache/hotcache"
	"github.com/depcache/modcache/store"
)

// CacheEntry is a stored (headers, content) pair for one cache key.
type CacheEntry struct {
	Headers map[string]string
	Content []byte
}

// GlobalCacheOptions configures a GlobalCache. Only Backend is required.
type GlobalCacheOptions struct {
	Backend store.Backend

	Logger Logger
	Hooks  Hooks

	// Hot is an optional in-memory read-through accelerator. When nil,
	// GlobalCache always reads through to Backend. HotCodec defaults to
	// CBOR when Hot is set.
	Hot      hotcache.Provider
	HotCodec entrycodec.Codec
}

// GlobalCache is the canonical, hash-keyed store: URL -> (headers, bytes).
type GlobalCache struct {
	backend store.Backend
	meta    *MetadataStore
	enc     PathEncoder
	log     Logger
	hooks   Hooks

	hot      hotcache.Provider
	hotCodec entrycodec.Codec
}

func NewGlobalCache(opts GlobalCacheOptions) *GlobalCache {
	if opts.Hot != nil && opts.HotCodec == nil {
		opts.HotCodec = entrycodec.MustCBOR()
	}
	return &GlobalCache{
		backend:  opts.Backend,
		meta:     NewMetadataStore(opts.Backend),
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesceHooks(opts.Hooks),
		hot:      opts.Hot,
		hotCodec: opts.HotCodec,
	}
}

func (g *GlobalCache) ReadOnly() bool { return g.backend.ReadOnly() }

// GetHeaders reads only the sidecar, without touching the content file.
func (g *GlobalCache) GetHeaders(ctx context.Context, url string, dest Destination) (map[string]string, bool, error) {
	path, err := g.enc.Encode(url, dest)
	if err != nil {
		return nil, false, err
	}
	md, err := g.meta.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			g.hooks.SelfHealEntry(path, "metadata_corrupt")
			return nil, false, nil
		}
		return nil, false, err
	}
	return md.Headers, true, nil
}

// Get reads the sidecar and content for url/dest. If checksum is non-empty
// it is compared case-insensitively against hex(sha256(content)); a
// mismatch returns ChecksumMismatchError.
func (g *GlobalCache) Get(ctx context.Context, url string, dest Destination, checksum string) (*CacheEntry, bool, error) {
	path, err := g.enc.Encode(url, dest)
	if err != nil {
		return nil, false, err
	}

	md, err := g.meta.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			g.hooks.SelfHealEntry(path, "metadata_corrupt")
			return nil, false, nil
		}
		return nil, false, err
	}

	// Redirect record: empty content, "location" header set.
	if loc, ok := md.Headers["location"]; ok && loc != "" {
		return &CacheEntry{Headers: md.Headers}, true, nil
	}

	content, hit, err := g.readContent(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if !hit {
		g.hooks.SelfHealEntry(path, "content_missing")
		return nil, false, nil
	}

	if checksum != "" {
		actual := hex.EncodeToString(sha256Sum(content))
		if !strings.EqualFold(actual, checksum) {
			g.hooks.ChecksumMismatch(url, checksum, actual)
			return nil, false, &ChecksumMismatchError{URL: url, Expected: checksum, Actual: actual}
		}
	}

	return &CacheEntry{Headers: md.Headers, Content: content}, true, nil
}

func (g *GlobalCache) readContent(ctx context.Context, path string) ([]byte, bool, error) {
	if g.hot != nil {
		if raw, ok, err := g.hot.Get(ctx, path); err == nil && ok {
			e, err := g.hotCodec.Decode(raw)
			if err == nil {
				return e.Content, true, nil
			}
			_ = g.hot.Del(ctx, path) // self-heal a corrupt hot entry
		}
	}

	content, err := g.backend.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if g.hot != nil {
		if headers, err := g.readHeadersForHotFill(ctx, path); err == nil {
			if raw, err := g.hotCodec.Encode(entrycodec.Entry{Headers: headers, Content: content}); err == nil {
				_, _ = g.hot.Set(ctx, path, raw, int64(len(raw)), 0)
			}
		}
	}
	return content, true, nil
}

func (g *GlobalCache) readHeadersForHotFill(ctx context.Context, path string) (map[string]string, error) {
	md, err := g.meta.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return md.Headers, nil
}

// Set persists content atomically under path(url,dest), plus its sidecar.
// A no-op in read-only mode.
func (g *GlobalCache) Set(ctx context.Context, url string, dest Destination, headers map[string]string, content []byte) error {
	path, err := g.enc.Encode(url, dest)
	if err != nil {
		return err
	}
	if g.backend.ReadOnly() {
		g.hooks.ReadOnlySkip(path)
		return nil
	}
	headers = lowercaseHeaders(headers)

	if err := g.backend.Write(ctx, path, content, 0o644); err != nil {
		return err
	}
	if err := g.meta.Write(ctx, path, &Metadata{URL: url, Headers: headers}); err != nil {
		return err
	}
	if g.hot != nil {
		if raw, err := g.hotCodec.Encode(entrycodec.Entry{Headers: headers, Content: content}); err == nil {
			_, _ = g.hot.Set(ctx, path, raw, int64(len(raw)), 0)
		}
	}
	return nil
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func coalesceHooks(h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	return h
}
