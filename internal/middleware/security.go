package middleware

import (
	"net/http"
	"strings"
)

const (
	// JSON endpoints never render, so nothing may load from them.
	apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	// The bundled UI loads its own scripts and stylesheets, sets inline
	// styles, and draws challenge tiles from data: and blob: URLs.
	uiCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: blob:; font-src 'self' data:; connect-src 'self'; " +
		"object-src 'none'; base-uri 'self'; form-action 'self'; frame-ancestors 'none'"
	hstsValue = "max-age=63072000; includeSubDomains"
)

// isAPIPath reports whether the path is served as JSON rather than as part
// of the static UI.
func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/") || p == "/health" || p == "/version"
}

// SecureHeaders adds security headers. The content security policy depends
// on whether the request targets the JSON API or the static UI; HSTS is only
// sent over HTTPS, directly or behind a TLS-terminating proxy.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), interest-cohort=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		if isAPIPath(r.URL.Path) {
			h.Set("Content-Security-Policy", apiCSP)
		} else {
			h.Set("Content-Security-Policy", uiCSP)
		}
		if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}
