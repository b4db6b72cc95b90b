package websocket

import (
	"log/slog"
	"net/url"
	"strings"
)

// OriginPolicy decides which Origin headers may open a connection. An empty
// allow list or a "*" entry admits every origin.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	if len(origins) == 0 {
		return &OriginPolicy{allowAll: true}
	}

	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		norm, ok := normalizeOrigin(trimmed)
		if !ok {
			slog.Warn("ignoring invalid origin in allow list", "origin", raw)
			continue
		}
		p.allowed[norm] = struct{}{}
	}
	return p
}

// Allow reports whether the given Origin header value is acceptable. An
// absent header means a non-browser client and is let through; browsers
// always send one.
func (p *OriginPolicy) Allow(origin string) bool {
	if p.allowAll || origin == "" {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := p.allowed[norm]
	return allowed
}

// normalizeOrigin reduces an origin to scheme://host[:port] with default
// ports stripped, so "https://example.com:443" and "https://example.com"
// compare equal.
func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host, true
}
