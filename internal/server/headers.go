// internal/server/headers.go
//
// Response-header middleware for the operational listener.
//
// Scrapes and probes carry live counters, so responses are never cached,
// never framed, and never MIME-sniffed.  Headers are set before the handler
// runs; a handler may still override any of them.

package server

import "net/http"

// NoStore sets defensive headers on every response.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
