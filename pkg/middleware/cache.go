package middleware

import "net/http"

// NoStore marks every response as uncacheable. Cart and checkout state is
// per-session and must never be served from a browser or proxy cache.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}
