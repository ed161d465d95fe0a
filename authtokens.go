package modcache

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// authToken is a single parsed entry from DENO_AUTH_TOKENS: either a
// bearer token or a username/password pair, scoped to a host.
type authToken struct {
	host   string
	bearer string // non-empty for "token@host" entries
	user   string // non-empty for "user:pass@host" entries
	pass   string
}

func (t authToken) headerValue() string {
	if t.bearer != "" {
		return "Bearer " + t.bearer
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(t.user+":"+t.pass))
}

// AuthTokens parses DENO_AUTH_TOKENS and answers Authorization header
// lookups by (lenient, no-dot-boundary) host suffix match.
type AuthTokens struct {
	tokens []authToken
}

// NewAuthTokens parses raw, a ";"-separated list of "token@host" or
// "user:pass@host" entries. Malformed entries (no "@") are discarded with
// a warning logged to log.
func NewAuthTokens(raw string, log Logger) *AuthTokens {
	if log == nil {
		log = NopLogger{}
	}
	at := &AuthTokens{}
	if raw == "" {
		return at
	}
	for _, entry := range strings.Split(raw, ";") {
		if entry == "" {
			continue
		}
		tok, ok := parseAuthToken(entry)
		if !ok {
			log.Warn("discarding malformed DENO_AUTH_TOKENS entry", Fields{"entry": entry})
			continue
		}
		at.tokens = append(at.tokens, tok)
	}
	return at
}

// parseAuthToken splits on the last "@" (host boundary), then, within the
// user-info portion, on the last ":" (to tolerate literal ":"/"@" in
// secrets).
func parseAuthToken(entry string) (authToken, bool) {
	at := strings.LastIndexByte(entry, '@')
	if at < 0 {
		return authToken{}, false
	}
	userinfo, host := entry[:at], entry[at+1:]
	if host == "" || userinfo == "" {
		return authToken{}, false
	}
	if colon := strings.LastIndexByte(userinfo, ':'); colon >= 0 {
		return authToken{host: host, user: userinfo[:colon], pass: userinfo[colon+1:]}, true
	}
	return authToken{host: host, bearer: userinfo}, true
}

// Get returns the Authorization header value for rawURL's host, or "" if
// no token matches. The match is a lenient host suffix check with no "."
// boundary requirement, preserved for compatibility with existing token
// lists even though it also matches "evilexample.com" for a token scoped
// to "example.com".
func (a *AuthTokens) Get(rawURL string) string {
	if a == nil || len(a.tokens) == 0 {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	for _, t := range a.tokens {
		if strings.HasSuffix(host, t.host) {
			return t.headerValue()
		}
	}
	return ""
}
