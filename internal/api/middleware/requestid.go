package middleware

import (
	"net/http"

	"github.com/pysugar/food-log-nexus/internal/logging"
)

// RequestIDHeader echoes the request id in the X-Request-ID response header
// and makes it available to logging. It runs after chi's RequestID.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logging.GetRequestID(r.Context())
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
