package modcache

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the Fetcher and the two
// HttpCache backends call them on hot paths. Wrap a slow Hooks in
// hooks/async for anything that does real work (metrics export, alerting).
type Hooks interface {
	// A cached entry was treated as a miss because its sidecar failed to
	// parse or its content file is missing.
	// reason ∈ {"metadata_corrupt", "content_missing"}.
	SelfHealEntry(path, reason string)

	// A redirect hop was recorded at the requested URL.
	RedirectPersisted(from, to string)

	// A remote fetch attempt failed and is about to be retried.
	RetryScheduled(url string, attempt int, backoff string, err error)

	// A checksum supplied by the caller did not match the downloaded or
	// cached content.
	ChecksumMismatch(url, expected, actual string)

	// The local (vendor) cache opportunistically copied an entry in from
	// the global cache.
	LocalCopyFromGlobal(url string)

	// A write was skipped because the target cache is read-only.
	ReadOnlySkip(path string)
}

// NopHooks is the default no-op implementation.
type NopHooks struct{}

func (NopHooks) SelfHealEntry(string, string)              {}
func (NopHooks) RedirectPersisted(string, string)          {}
func (NopHooks) RetryScheduled(string, int, string, error) {}
func (NopHooks) ChecksumMismatch(string, string, string)   {}
func (NopHooks) LocalCopyFromGlobal(string)                {}
func (NopHooks) ReadOnlySkip(string)                       {}
