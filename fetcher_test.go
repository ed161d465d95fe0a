package modcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeDoer replays a scripted list of responses (or an error) per call,
// recording every request it received.
type fakeDoer struct {
	mu       sync.Mutex
	handlers []func(*http.Request) (*http.Response, error)
	calls    []string
	next     int32
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL.String())
	f.mu.Unlock()
	i := int(atomic.AddInt32(&f.next, 1)) - 1
	if i >= len(f.handlers) {
		i = len(f.handlers) - 1
	}
	return f.handlers[i](req)
}

func textResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestFetcher(cache httpCache, doer httpDoer, allowRemote bool) *Fetcher {
	return NewFetcher(FetcherOptions{
		CacheFactory: func() (httpCache, error) { return cache, nil },
		AllowRemote:  allowRemote,
		HTTPClient:   doer,
	})
}

func TestFetcherRemoteFetchPopulatesCache(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			resp := textResponse(200, "console.log(1)", http.Header{"ETag": {`"v1"`}})
			resp.Request = r
			return resp, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	resp, err := f.Fetch(ctx, "https://example.com/mod.ts", FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Kind != LoadModule || string(resp.Content) != "console.log(1)" {
		t.Fatalf("got %+v", resp)
	}
	if len(doer.calls) != 1 {
		t.Fatalf("expected exactly one network call, got %d", len(doer.calls))
	}
	cached, hit, err := gc.Get(ctx, "https://example.com/mod.ts", DestinationScript, "")
	if err != nil || !hit || string(cached.Content) != "console.log(1)" || cached.Headers["etag"] != `"v1"` {
		t.Fatalf("expected the fetched entry in the cache, got %+v hit=%v err=%v", cached, hit, err)
	}

	// Second fetch of the same specifier is served from the in-process
	// memo, never touching the network again.
	resp2, err := f.Fetch(ctx, "https://example.com/mod.ts", FetchOptions{})
	if err != nil || resp2 != resp {
		t.Fatalf("expected memoized pointer identity, got %+v err=%v", resp2, err)
	}
	if len(doer.calls) != 1 {
		t.Fatalf("memo should have prevented a second network call, got %d calls", len(doer.calls))
	}
}

func TestFetcherCacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	url := "https://example.com/cached.ts"
	if err := gc.Set(ctx, url, DestinationScript, nil, []byte("cached")); err != nil {
		t.Fatal(err)
	}
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			t.Fatal("network should not be reached on a cache hit")
			return nil, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	resp, err := f.Fetch(ctx, url, FetchOptions{})
	if err != nil || resp.Kind != LoadModule || string(resp.Content) != "cached" {
		t.Fatalf("got %+v err=%v", resp, err)
	}
}

func TestFetcherRedirectChasedAndPersisted(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			final, _ := url.Parse("https://example.com/final.ts")
			resp := textResponse(200, "final body", nil)
			resp.Request = &http.Request{URL: final}
			return resp, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	resp, err := f.Fetch(ctx, "https://example.com/old.ts", FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if resp.Kind != LoadModule || resp.Specifier != "https://example.com/final.ts" {
		t.Fatalf("expected the caller to see the resolved final module, got %+v", resp)
	}

	headers, hit, err := gc.GetHeaders(ctx, "https://example.com/old.ts", DestinationScript)
	if err != nil || !hit || headers["location"] != "https://example.com/final.ts" {
		t.Fatalf("expected a persisted redirect record, got %+v hit=%v err=%v", headers, hit, err)
	}
}

func TestFetcherNotFoundOn404(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) { return textResponse(404, "", nil), nil },
	}}
	f := newTestFetcher(gc, doer, true)

	_, err := f.Fetch(ctx, "https://example.com/missing.ts", FetchOptions{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestFetcherPermissionDeniedWhenRemoteDisallowed(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, false)

	_, err := f.Fetch(ctx, "https://example.com/x.ts", FetchOptions{})
	var pd *PermissionDeniedError
	if !errors.As(err, &pd) {
		t.Fatalf("expected PermissionDeniedError, got %T: %v", err, err)
	}
}

func TestFetcherCacheOnlyMissIsNotFound(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, true)

	_, err := f.Fetch(ctx, "https://example.com/x.ts", FetchOptions{CacheSetting: CacheSetting{Kind: CacheOnly}})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestFetcherRetriesOn5xxThenSucceeds(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) { return textResponse(503, "", nil), nil },
		func(r *http.Request) (*http.Response, error) { return textResponse(502, "", nil), nil },
		func(r *http.Request) (*http.Response, error) {
			resp := textResponse(200, "ok", nil)
			resp.Request = r
			return resp, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	resp, err := f.Fetch(ctx, "https://example.com/flaky.ts", FetchOptions{})
	if err != nil || string(resp.Content) != "ok" {
		t.Fatalf("expected eventual success, got %+v err=%v", resp, err)
	}
	if len(doer.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(doer.calls))
	}
}

func TestFetcherNeverRetries4xx(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) { return textResponse(403, "", nil), nil },
	}}
	f := newTestFetcher(gc, doer, true)

	_, err := f.Fetch(ctx, "https://example.com/forbidden.ts", FetchOptions{})
	var he *HTTPStatusError
	if !errors.As(err, &he) || he.Status != 403 {
		t.Fatalf("got %T: %v", err, err)
	}
	if len(doer.calls) != 1 {
		t.Fatalf("expected no retries on a 4xx, got %d calls", len(doer.calls))
	}
}

func TestFetcherChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			resp := textResponse(200, "actual content", nil)
			resp.Request = r
			return resp, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	_, err := f.Fetch(ctx, "https://example.com/x.ts", FetchOptions{Checksum: "0000000000000000000000000000000000000000000000000000000000000000"})
	var cme *ChecksumMismatchError
	if !errors.As(err, &cme) {
		t.Fatalf("expected ChecksumMismatchError, got %T: %v", err, err)
	}
}

func TestFetcherChecksumMatchSucceeds(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	body := "known body"
	sum := sha256.Sum256([]byte(body))
	checksum := hex.EncodeToString(sum[:])

	doer := &fakeDoer{handlers: []func(*http.Request) (*http.Response, error){
		func(r *http.Request) (*http.Response, error) {
			resp := textResponse(200, body, nil)
			resp.Request = r
			return resp, nil
		},
	}}
	f := newTestFetcher(gc, doer, true)

	resp, err := f.Fetch(ctx, "https://example.com/x.ts", FetchOptions{Checksum: checksum})
	if err != nil || string(resp.Content) != body {
		t.Fatalf("got %+v err=%v", resp, err)
	}
}

func TestFetcherFileScheme(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := dir + "/mod.ts"
	if err := os.WriteFile(path, []byte("#!/usr/bin/env -S deno run\nexport const x = 1;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, false)

	resp, err := f.Fetch(ctx, "file://"+path, FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if strings.Contains(string(resp.Content), "#!") {
		t.Fatalf("expected hashbang stripped, got %q", resp.Content)
	}
}

func TestFetcherFileSchemeMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, false)

	_, err := f.Fetch(ctx, "file:///does/not/exist.ts", FetchOptions{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestFetcherUnsupportedScheme(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, true)

	_, err := f.Fetch(ctx, "ftp://example.com/x.ts", FetchOptions{})
	var us *UnsupportedSchemeError
	if !errors.As(err, &us) {
		t.Fatalf("expected UnsupportedSchemeError, got %T: %v", err, err)
	}
}

func TestCacheReloadMatchingBypassesOnlyMatchedPrefixes(t *testing.T) {
	cs := CacheSetting{Kind: CacheReloadMatching, Prefixes: []string{"https://example.com/pkg/"}}
	if shouldUseCache(cs, "https://example.com/pkg/sub/mod.ts") != false {
		t.Fatalf("expected a nested specifier under a reload prefix to bypass the cache")
	}
	if shouldUseCache(cs, "https://example.com/other/mod.ts") != true {
		t.Fatalf("expected an unrelated specifier to keep using the cache")
	}
}
