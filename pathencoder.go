package modcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// PathEncoder maps a (URL, Destination) pair to a deterministic relative
// path on disk. The fragment component of the URL is always ignored, and
// Destination is folded into the hash input so that Script and Json
// occupy disjoint entries for the same URL.
type PathEncoder struct{}

// Encode builds the cache-facing path used by GlobalCache and LocalCache.
// Only the schemes the HTTP cache actually manages (http, https, data,
// blob, file) are supported here; wasm: URLs are encoded to a path by a
// different part of the toolchain (EncodeWasmPath) and are always rejected
// by Encode, since the HTTP cache never stores them.
func (PathEncoder) Encode(rawURL string, dest Destination) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &UnsupportedURLError{URL: rawURL}
	}
	switch u.Scheme {
	case "http", "https", "data", "blob":
		return encodeHashed(u, dest), nil
	case "file":
		return encodeFile(u)
	default:
		return "", &UnsupportedURLError{URL: rawURL}
	}
}

// EncodeWasmPath implements the wasm: rule described alongside the other
// schemes: host-or-hostport directory, then the URL's path components
// appended verbatim (no hashing). Kept separate from Encode because the
// HTTP cache never manages wasm: entries.
func (PathEncoder) EncodeWasmPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "wasm" {
		return "", &UnsupportedURLError{URL: rawURL}
	}
	segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	return strings.Join(append([]string{"wasm", hostToken(u)}, segments...), "/"), nil
}

func encodeHashed(u *url.URL, dest Destination) string {
	host := hostToken(u)
	digest := hashHex(u, dest)
	if host == "" {
		return u.Scheme + "/" + digest
	}
	return u.Scheme + "/" + host + "/" + digest
}

// hashHex is the hex SHA-256 of path[+?query], with Destination folded in
// as a literal trailing string so Script and Json never collide: nothing
// for Script (sha256(path[+query]) alone), "json" for Json.
func hashHex(u *url.URL, dest Destination) string {
	s := pathOrOpaque(u)
	if u.RawQuery != "" {
		s += "?" + u.RawQuery
	}
	s += dest.hashSuffix()
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// pathOrOpaque returns EscapedPath(), falling back to Opaque for schemes
// like data: and blob: whose content doesn't start with "/" and so parses
// into URL.Opaque rather than URL.Path.
func pathOrOpaque(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return u.Opaque
}

// hostToken returns "host" or "host_PORTn" (literal string "PORT"), or ""
// when the URL has no host component (data:, blob:).
func hostToken(u *url.URL) string {
	host := u.Hostname()
	if host == "" {
		return ""
	}
	if port := u.Port(); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			return host + "_PORT" + port
		}
	}
	return host
}

// encodeFile decodes a file: URL to a relative filesystem path, handling
// UNC hosts and Windows drive letters.
func encodeFile(u *url.URL) (string, error) {
	if host := u.Hostname(); host != "" {
		unc := strings.ReplaceAll(host, ":", "_")
		p := strings.TrimPrefix(u.EscapedPath(), "/")
		if p == "" {
			return "", &UnsupportedURLError{URL: u.String()}
		}
		return "file/UNC/" + unc + "/" + p, nil
	}

	trimmed := strings.TrimPrefix(u.EscapedPath(), "/")
	if trimmed == "" {
		return "", &UnsupportedURLError{URL: u.String()}
	}
	segments := strings.Split(trimmed, "/")
	if isWindowsDriveLetter(segments[0]) {
		segments[0] = strings.TrimSuffix(segments[0], ":")
	}
	return "file/" + strings.Join(segments, "/"), nil
}

func isWindowsDriveLetter(s string) bool {
	if len(s) != 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
