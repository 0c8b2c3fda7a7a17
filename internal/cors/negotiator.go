// Package cors computes Access-Control headers for gateway responses. The
// allow-list is resolved per request (per-key override or global), so this
// runs inside the pipeline instead of as static router middleware.
package cors

import (
	"net/http"
	"strings"
)

const (
	allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowHeaders = "Content-Type, X-API-Key, X-API-Secret, Authorization"
	maxAge       = "3600"
)

// Decision is the outcome of negotiating one request's CORS headers.
type Decision struct {
	Emit        bool
	AllowOrigin string
}

// Negotiate decides whether to emit allow headers. allowedOrigins is the
// effective newline-delimited list; a literal "*" entry matches any origin.
// When the request carries no Origin header, a wildcard grant is emitted as
// "*", otherwise the request origin is echoed back.
func Negotiate(origin string, enabled bool, allowedOrigins string) Decision {
	if !enabled {
		return Decision{}
	}

	matched := false
	wildcard := false
	for _, allowed := range strings.Split(allowedOrigins, "\n") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			wildcard = true
		}
		if allowed == origin {
			matched = true
		}
	}

	if !matched && !wildcard {
		return Decision{}
	}

	allowOrigin := origin
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return Decision{Emit: true, AllowOrigin: allowOrigin}
}

// Apply makes the response headers match the decision. A negative decision
// clears any allow headers a previous negotiation emitted, so re-running
// with a per-key override replaces the global outcome either way.
func (d Decision) Apply(h http.Header) {
	if !d.Emit {
		h.Del("Access-Control-Allow-Origin")
		h.Del("Access-Control-Allow-Methods")
		h.Del("Access-Control-Allow-Headers")
		h.Del("Access-Control-Max-Age")
		return
	}
	h.Set("Access-Control-Allow-Origin", d.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Max-Age", maxAge)
}
