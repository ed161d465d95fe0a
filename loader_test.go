package modcache

import (
	"context"
	"errors"
	"testing"
)

func TestLoaderSwallowsNotFound(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, true)
	loader := NewLoader(f)

	resp, err := loader.Load(ctx, "https://example.com/missing.ts", false, CacheSetting{Kind: CacheOnly}, "")
	if err != nil || resp != nil {
		t.Fatalf("expected (nil, nil) for a not-found module, got %+v err=%v", resp, err)
	}
}

func TestLoaderPropagatesOtherErrors(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	f := newTestFetcher(gc, &fakeDoer{}, false) // remote disallowed
	loader := NewLoader(f)

	_, err := loader.Load(ctx, "https://example.com/x.ts", false, CacheSetting{}, "")
	var pd *PermissionDeniedError
	if !errors.As(err, &pd) {
		t.Fatalf("expected PermissionDeniedError to propagate, got %T: %v", err, err)
	}
}

func TestLoaderReturnsModuleOnHit(t *testing.T) {
	ctx := context.Background()
	gc := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	if err := gc.Set(ctx, "https://example.com/x.ts", DestinationScript, nil, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	f := newTestFetcher(gc, &fakeDoer{}, true)
	loader := NewLoader(f)

	resp, err := loader.Load(ctx, "https://example.com/x.ts", false, CacheSetting{}, "")
	if err != nil || resp == nil || string(resp.Content) != "payload" {
		t.Fatalf("got %+v err=%v", resp, err)
	}
}

