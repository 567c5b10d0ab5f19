package manifold

import (
	"net/url"
	"strings"
)

// SlugFromURL extracts the market slug from a market URL such as
// https://manifold.markets/alice/will-it-rain. A bare slug is returned as is.
// It reports false when nothing usable is found.
func SlugFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "", false
	}
	return path, true
}
