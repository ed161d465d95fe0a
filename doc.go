// Package modcache implements a content-addressed on-disk cache for
// fetched HTTP resources, mirroring the module-cache layout used by
// source-distribution toolchains.
//
// Components:
//   - PathEncoder: maps a URL to a deterministic relative path (sha256
//     of path+query for http/https/data/blob, verbatim for wasm, and for
//     file a UNC- and drive-letter-aware mapping that is applied the same
//     way on every OS and keeps percent-escapes as they are).
//   - GlobalCache: the canonical hash-keyed store under <root>/remote/.
//   - LocalCache: an optional path-decoded vendor overlay with a
//     manifest recording the lossy reverse mapping.
//   - Fetcher: drives HTTP requests, redirect chasing, conditional
//     revalidation and retry/backoff on top of the two caches.
//   - Loader: the façade a module graph builder calls.
//
// Cache entries are persisted as a content file plus a ".metadata.json"
// sidecar holding response headers and the original URL, written with
// a temp-file-plus-rename protocol so readers never observe a partial
// write.
package modcache
