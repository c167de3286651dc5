package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a relay connection.
// Requests without an Origin header come from non-browser clients and are
// always accepted.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy normalises the configured origins. "*" allows any origin; an
// empty list allows only the request's own host.
func newOriginPolicy(origins []string, logger *zap.Logger) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{})}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
		default:
			normalized, ok := normalizeOrigin(trimmed)
			if !ok {
				logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
				continue
			}
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	u, ok := parseOrigin(origin)
	if !ok {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func parseOrigin(origin string) (*url.URL, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

func (p originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	u, ok := parseOrigin(header)
	if !ok {
		return false
	}
	if len(p.allowed) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	_, exists := p.allowed[strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host)]
	return exists
}
