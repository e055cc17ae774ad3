package meshserver

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// requestLogger logs method, path, and latency for every request this
// server handles, grounded on the teacher's middleware.Logger.
func requestLogger(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Infof("%s %s %s", r.Method, r.RequestURI, time.Since(start))
		})
	}
}
