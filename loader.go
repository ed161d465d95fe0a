package modcache

import "context"

// Loader is the external-facing façade: a single Load call hides cache
// tiering, scheme dispatch and redirect chasing behind one request/response
// pair.
type Loader struct {
	fetcher *Fetcher
}

func NewLoader(f *Fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load resolves specifier to a LoadResponse. A NotFoundError is swallowed
// to (nil, nil) so that callers can treat "absent" and "error" distinctly
// from "missing module" without a type switch at every call site.
func (l *Loader) Load(ctx context.Context, specifier string, isDynamic bool, cacheSetting CacheSetting, checksum string) (*LoadResponse, error) {
	resp, err := l.fetcher.Fetch(ctx, specifier, FetchOptions{
		IsDynamic:    isDynamic,
		CacheSetting: cacheSetting,
		Checksum:     checksum,
	})
	if err != nil {
		if _, ok := err.(*NotFoundError); ok {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}
