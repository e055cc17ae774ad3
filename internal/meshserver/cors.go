package meshserver

import "net/http"

// loopbackOrigins are the only Origin values this service reflects back in
// Access-Control-Allow-Origin, per spec section 6.
var loopbackOrigins = map[string]bool{
	"http://localhost":  true,
	"http://127.0.0.1":  true,
}

// corsMiddleware answers CORS preflight requests and, for actual
// same-origin-restricted requests, reflects the Origin header only when
// it is one of the loopback origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if loopbackOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
