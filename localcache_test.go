package modcache

import (
	"context"
	"testing"
)

func TestLocalCacheMissWithoutCopyFlag(t *testing.T) {
	ctx := context.Background()
	global := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	local := NewLocalCache(LocalCacheOptions{Backend: newMemBackend(), Global: global, AllowGlobalToLocalCopy: false})

	url := "https://example.com/mod.ts"
	if err := global.Set(ctx, url, DestinationScript, nil, []byte("from global")); err != nil {
		t.Fatal(err)
	}
	_, hit, err := local.Get(ctx, url, DestinationScript, "")
	if err != nil || hit {
		t.Fatalf("expected miss with copy disabled, hit=%v err=%v", hit, err)
	}
}

func TestLocalCacheCopiesFromGlobal(t *testing.T) {
	ctx := context.Background()
	global := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	local := NewLocalCache(LocalCacheOptions{Backend: newMemBackend(), Global: global, AllowGlobalToLocalCopy: true})

	url := "https://deno.land/std/http/file_server.ts"
	if err := global.Set(ctx, url, DestinationScript, map[string]string{"etag": "v1"}, []byte("content")); err != nil {
		t.Fatal(err)
	}
	e, hit, err := local.Get(ctx, url, DestinationScript, "")
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if string(e.Content) != "content" {
		t.Fatalf("got %q", e.Content)
	}

	// Second read must be served from local without consulting global again
	// (global backend untouched, but we can at least assert local now holds it).
	e2, hit2, err := local.Get(ctx, url, DestinationScript, "")
	if err != nil || !hit2 || string(e2.Content) != "content" {
		t.Fatalf("expected local hit on second read, hit=%v err=%v", hit2, err)
	}
}

func TestLocalCacheReadOnlyNeverCopies(t *testing.T) {
	ctx := context.Background()
	global := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	url := "https://example.com/mod.ts"
	if err := global.Set(ctx, url, DestinationScript, nil, []byte("v")); err != nil {
		t.Fatal(err)
	}

	ro := newMemBackend()
	ro.readOnly = true
	local := NewLocalCache(LocalCacheOptions{Backend: ro, Global: global, AllowGlobalToLocalCopy: true})

	_, hit, err := local.Get(ctx, url, DestinationScript, "")
	if err != nil || hit {
		t.Fatalf("expected read-only local cache to never copy, hit=%v err=%v", hit, err)
	}
}

func TestLocalCacheIgnoresChecksumOnLocalHit(t *testing.T) {
	ctx := context.Background()
	global := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	local := NewLocalCache(LocalCacheOptions{Backend: newMemBackend(), Global: global, AllowGlobalToLocalCopy: true})

	url := "https://example.com/mod.ts"
	if err := local.Set(ctx, url, DestinationScript, nil, []byte("trusted bytes")); err != nil {
		t.Fatal(err)
	}
	e, hit, err := local.Get(ctx, url, DestinationScript, "not-a-real-checksum")
	if err != nil || !hit {
		t.Fatalf("expected local hit regardless of bogus checksum, hit=%v err=%v", hit, err)
	}
	if string(e.Content) != "trusted bytes" {
		t.Fatalf("got %q", e.Content)
	}
}

func TestLocalCacheManifestSurvivesUppercaseSegments(t *testing.T) {
	ctx := context.Background()
	global := NewGlobalCache(GlobalCacheOptions{Backend: newMemBackend()})
	local := NewLocalCache(LocalCacheOptions{Backend: newMemBackend(), Global: global, AllowGlobalToLocalCopy: true})

	url := "https://example.com/MixedCase/Path.ts"
	if err := local.Set(ctx, url, DestinationScript, map[string]string{"x": "y"}, []byte("data")); err != nil {
		t.Fatal(err)
	}
	e, hit, err := local.Get(ctx, url, DestinationScript, "")
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if string(e.Content) != "data" || e.Headers["x"] != "y" {
		t.Fatalf("manifest did not preserve original data: %+v", e)
	}
}
