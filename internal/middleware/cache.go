package middleware

import (
	"net/http"
	"strings"
)

// CachePolicy sets Cache-Control per route class. API responses carry
// session data and decrypted results and are never stored. Fingerprinted
// build assets under /assets/ are immutable; other UI files are revalidated
// on every load so a deploy takes effect immediately.
func CachePolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		switch p := r.URL.Path; {
		case isAPIPath(p):
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		case strings.HasPrefix(p, "/assets/"):
			h.Set("Cache-Control", "public, max-age=31536000, immutable")
		default:
			h.Set("Cache-Control", "no-cache")
		}
		next.ServeHTTP(w, r)
	})
}
