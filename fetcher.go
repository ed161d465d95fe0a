package modcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheSettingKind selects how the Fetcher's cache-mode policy treats a
// given specifier.
type CacheSettingKind int

const (
	// CacheUse reads the cache and populates it on miss (the default).
	CacheUse CacheSettingKind = iota
	// CacheOnly never talks to the network; a miss is NotFoundError.
	CacheOnly
	// CacheReload bypasses the cache unconditionally and rewrites it.
	CacheReload
	// CacheReloadMatching bypasses the cache only for specifiers matching
	// one of Prefixes at any path level.
	CacheReloadMatching
)

// CacheSetting is the Fetcher's per-call cache-mode policy.
type CacheSetting struct {
	Kind     CacheSettingKind
	Prefixes []string // only meaningful for CacheReloadMatching
}

func shouldUseCache(cs CacheSetting, specifier string) bool {
	switch cs.Kind {
	case CacheOnly, CacheUse:
		return true
	case CacheReload:
		return false
	case CacheReloadMatching:
		return !matchesAnyPrefixAtAnyLevel(specifier, cs.Prefixes)
	default:
		return true
	}
}

// matchesAnyPrefixAtAnyLevel walks the specifier's path from the full URL
// down to its root, checking the prefix list at every level, so that a
// reload prefix scoped to a directory also matches every file beneath it.
func matchesAnyPrefixAtAnyLevel(specifier string, prefixes []string) bool {
	s := specifier
	for {
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				return true
			}
		}
		idx := strings.LastIndexByte(s, '/')
		if idx <= 0 {
			return false
		}
		s = s[:idx]
	}
}

// LoadResponseKind tags the union returned by a fetch.
type LoadResponseKind int

const (
	LoadModule LoadResponseKind = iota
	LoadRedirect
	LoadExternal
)

// LoadResponse is the tagged-union result of a fetch: a Module with its
// bytes, a Redirect naming the next specifier to follow, or an External
// passthrough for non-module responses.
type LoadResponse struct {
	Kind      LoadResponseKind
	Specifier string
	Headers   map[string]string
	Content   []byte
}

// FetchOptions configures a single Fetcher.Fetch call.
type FetchOptions struct {
	IsDynamic    bool
	CacheSetting CacheSetting
	Checksum     string
}

// httpCache is satisfied by both *GlobalCache and *LocalCache, letting the
// Fetcher be agnostic to which backing store it was handed.
type httpCache interface {
	GetHeaders(ctx context.Context, url string, dest Destination) (map[string]string, bool, error)
	Get(ctx context.Context, url string, dest Destination, checksum string) (*CacheEntry, bool, error)
	Set(ctx context.Context, url string, dest Destination, headers map[string]string, content []byte) error
	ReadOnly() bool
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherOptions configures a Fetcher. CacheFactory is required.
type FetcherOptions struct {
	CacheFactory func() (httpCache, error)

	DefaultCacheSetting CacheSetting
	AllowRemote         bool
	AuthTokens          *AuthTokens
	HTTPClient          httpDoer

	Logger Logger
	Hooks  Hooks
}

// Fetcher orchestrates scheme dispatch, cache lookup, remote fetch with
// retries, redirect chasing, checksum verification and in-process
// memoization.
type Fetcher struct {
	defaultCacheSetting CacheSetting
	allowRemote         bool
	auth                *AuthTokens
	client              httpDoer
	log                 Logger
	hooks               Hooks

	cacheFactory func() (httpCache, error)
	cacheOnce    sync.Once
	cache        httpCache
	cacheErr     error

	// memo is never evicted: invariant 5 requires every caller to observe
	// the redirect edge recorded by the first completed fetch.
	memoMu sync.RWMutex
	memo   map[string]*LoadResponse

	// inflight deduplicates concurrent fetches of the same specifier.
	inflightMu sync.Mutex
	inflight   map[string]*sync.WaitGroup
	results    map[string]fetchResult
}

type fetchResult struct {
	resp *LoadResponse
	err  error
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	return &Fetcher{
		defaultCacheSetting: opts.DefaultCacheSetting,
		allowRemote:         opts.AllowRemote,
		auth:                opts.AuthTokens,
		client:              coalesceDoer(opts.HTTPClient),
		log:                 coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:               coalesceHooks(opts.Hooks),
		cacheFactory:        opts.CacheFactory,
		memo:                make(map[string]*LoadResponse),
		inflight:            make(map[string]*sync.WaitGroup),
		results:             make(map[string]fetchResult),
	}
}

func coalesceDoer(d httpDoer) httpDoer {
	if d != nil {
		return d
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// httpCacheOf lazily constructs the shared HttpCache exactly once, even
// under concurrent first callers.
func (f *Fetcher) httpCacheOf() (httpCache, error) {
	f.cacheOnce.Do(func() {
		f.cache, f.cacheErr = f.cacheFactory()
	})
	return f.cache, f.cacheErr
}

// Fetch resolves specifier to a LoadResponse, following redirects,
// validating checksums and consulting the in-process memo and the
// on-disk cache as configured.
func (f *Fetcher) Fetch(ctx context.Context, specifier string, opts FetchOptions) (*LoadResponse, error) {
	if v, ok := f.memoGet(specifier); ok {
		return v, nil
	}

	wg, done, loaded := f.claim(specifier)
	if loaded {
		wg.Wait()
		f.inflightMu.Lock()
		res := f.results[specifier]
		f.inflightMu.Unlock()
		return res.resp, res.err
	}
	defer done()

	resp, err := f.fetchUncached(ctx, specifier, opts)
	f.inflightMu.Lock()
	f.results[specifier] = fetchResult{resp: resp, err: err}
	f.inflightMu.Unlock()

	if err == nil {
		f.memoSet(specifier, resp)
	}
	return resp, err
}

func (f *Fetcher) claim(specifier string) (*sync.WaitGroup, func(), bool) {
	f.inflightMu.Lock()
	if wg, ok := f.inflight[specifier]; ok {
		f.inflightMu.Unlock()
		return wg, nil, true
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	f.inflight[specifier] = wg
	f.inflightMu.Unlock()
	return wg, func() {
		wg.Done()
		f.inflightMu.Lock()
		delete(f.inflight, specifier)
		delete(f.results, specifier)
		f.inflightMu.Unlock()
	}, false
}

func (f *Fetcher) memoGet(specifier string) (*LoadResponse, bool) {
	f.memoMu.RLock()
	defer f.memoMu.RUnlock()
	v, ok := f.memo[specifier]
	return v, ok
}

func (f *Fetcher) memoSet(specifier string, v *LoadResponse) {
	f.memoMu.Lock()
	defer f.memoMu.Unlock()
	f.memo[specifier] = v
}

func (f *Fetcher) fetchUncached(ctx context.Context, specifier string, opts FetchOptions) (*LoadResponse, error) {
	u, err := url.Parse(specifier)
	if err != nil {
		return nil, &UnsupportedSchemeError{Scheme: "", URL: specifier}
	}

	switch u.Scheme {
	case "file":
		return fetchFile(u, specifier)
	case "data", "blob":
		return f.fetchDataOrBlob(ctx, specifier, opts)
	case "http", "https":
		return f.fetchRemoteChasingRedirects(ctx, specifier, opts)
	default:
		return nil, &UnsupportedSchemeError{Scheme: u.Scheme, URL: specifier}
	}
}

// fetchFile reads a local file: URL. A hashbang line is stripped. A
// missing or unreadable file returns NotFoundError, which Loader turns
// into an absent (nil, nil) result.
func fetchFile(u *url.URL, specifier string) (*LoadResponse, error) {
	b, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, &NotFoundError{URL: specifier}
	}
	b = stripHashbang(b)
	return &LoadResponse{Kind: LoadModule, Specifier: specifier, Content: b}, nil
}

// stripHashbang removes a leading "#!...\n" line, idempotently.
func stripHashbang(b []byte) []byte {
	if len(b) < 2 || b[0] != '#' || b[1] != '!' {
		return b
	}
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b[:0]
}

func (f *Fetcher) fetchDataOrBlob(ctx context.Context, specifier string, opts FetchOptions) (*LoadResponse, error) {
	cache, err := f.httpCacheOf()
	if err != nil {
		return nil, err
	}
	dest := DestinationScript
	cs := f.effectiveCacheSetting(opts)

	if shouldUseCache(cs, specifier) {
		if e, hit, err := cache.Get(ctx, specifier, dest, opts.Checksum); err != nil {
			return nil, err
		} else if hit {
			return &LoadResponse{Kind: LoadModule, Specifier: specifier, Headers: e.Headers, Content: e.Content}, nil
		}
	}
	if cs.Kind == CacheOnly {
		return nil, &NotFoundError{URL: specifier}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specifier, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	headers := lowercaseHeaders(headerMap(resp.Header))
	if err := cache.Set(ctx, specifier, dest, headers, body); err != nil {
		return nil, err
	}
	return &LoadResponse{Kind: LoadModule, Specifier: specifier, Headers: headers, Content: body}, nil
}

func (f *Fetcher) effectiveCacheSetting(opts FetchOptions) CacheSetting {
	if opts.CacheSetting.Kind == CacheUse && len(opts.CacheSetting.Prefixes) == 0 {
		return f.defaultCacheSetting
	}
	return opts.CacheSetting
}

// fetchRemoteChasingRedirects runs fetchOnce up to 10 times, substituting
// the redirect target each iteration.
func (f *Fetcher) fetchRemoteChasingRedirects(ctx context.Context, specifier string, opts FetchOptions) (*LoadResponse, error) {
	if !f.allowRemote {
		return nil, &PermissionDeniedError{URL: specifier}
	}
	cache, err := f.httpCacheOf()
	if err != nil {
		return nil, err
	}
	cs := f.effectiveCacheSetting(opts)

	current := specifier
	for hop := 0; hop < 10; hop++ {
		resp, err := f.fetchOnce(ctx, cache, current, cs, opts.Checksum)
		if err != nil {
			return nil, err
		}
		if resp.Kind != LoadRedirect {
			return resp, nil
		}
		current = resp.Specifier
	}
	return nil, &TooManyRedirectsError{URL: specifier}
}

// fetchOnce implements the remote fetch protocol for one URL: cache probe,
// conditional revalidation, HTTP call, redirect persistence, and final
// persistence. It returns Module, Redirect, or an error.
func (f *Fetcher) fetchOnce(ctx context.Context, cache httpCache, requestURL string, cs CacheSetting, checksum string) (*LoadResponse, error) {
	dest := DestinationScript

	if shouldUseCache(cs, requestURL) {
		headers, hit, err := cache.GetHeaders(ctx, requestURL, dest)
		if err != nil {
			return nil, err
		}
		if hit {
			if loc := headers["location"]; loc != "" {
				abs, err := resolveAbsolute(requestURL, loc)
				if err != nil {
					return nil, err
				}
				return &LoadResponse{Kind: LoadRedirect, Specifier: abs}, nil
			}
			e, hit, err := cache.Get(ctx, requestURL, dest, checksum)
			if err != nil {
				return nil, err
			}
			if hit {
				return &LoadResponse{Kind: LoadModule, Specifier: requestURL, Headers: e.Headers, Content: e.Content}, nil
			}
		}
	}

	if cs.Kind == CacheOnly {
		return nil, &NotFoundError{URL: requestURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	if prior, _, err := cache.GetHeaders(ctx, requestURL, dest); err == nil && prior != nil {
		if etag := prior["etag"]; etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}
	if auth := f.auth.Get(requestURL); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := f.doWithRetries(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{URL: requestURL}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{Status: resp.StatusCode, StatusText: resp.Status, URL: requestURL}
	}

	finalURL := requestURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	headers := lowercaseHeaders(headerMap(resp.Header))

	if finalURL != requestURL {
		if err := cache.Set(ctx, requestURL, dest, map[string]string{"location": finalURL}, nil); err != nil {
			return nil, err
		}
		f.hooks.RedirectPersisted(requestURL, finalURL)
	}

	if err := cache.Set(ctx, finalURL, dest, headers, body); err != nil {
		return nil, err
	}

	if checksum != "" {
		actual := sha256HexString(body)
		if !strings.EqualFold(actual, checksum) {
			f.hooks.ChecksumMismatch(finalURL, checksum, actual)
			return nil, &ChecksumMismatchError{URL: finalURL, Expected: checksum, Actual: actual}
		}
	}

	if finalURL != requestURL {
		return &LoadResponse{Kind: LoadRedirect, Specifier: finalURL}, nil
	}
	return &LoadResponse{Kind: LoadModule, Specifier: finalURL, Headers: headers, Content: body}, nil
}

// doWithRetries retries network errors and 5xx responses up to 3 times
// with exponential backoff starting at 250ms, doubled each attempt and
// capped at 10s; each sleep is jittered to between half and all of the
// current backoff. 4xx responses are never retried.
func (f *Fetcher) doWithRetries(ctx context.Context, req *http.Request) (*http.Response, error) {
	const maxRetries = 3
	backoff := 250 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := f.client.Do(req)
		if err == nil && (resp.StatusCode < 500 || resp.StatusCode >= 600) {
			return resp, nil
		}
		if err == nil {
			lastErr = &HTTPStatusError{Status: resp.StatusCode, StatusText: resp.Status, URL: req.URL.String()}
			resp.Body.Close()
		} else {
			lastErr = err
		}
		if attempt == maxRetries {
			break
		}
		f.hooks.RetryScheduled(req.URL.String(), attempt+1, backoff.String(), lastErr)
		f.log.Warn("retrying after fetch error", Fields{"url": req.URL.String(), "attempt": attempt + 1, "backoff": backoff.String(), "err": lastErr})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, lastErr
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

func resolveAbsolute(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = strings.Join(h[k], ", ")
	}
	return out
}

func sha256HexString(b []byte) string {
	return fmt.Sprintf("%x", sha256Sum(b))
}
