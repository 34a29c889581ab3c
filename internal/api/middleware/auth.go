package middleware

import (
	"net/http"
	"strings"

	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
	"github.com/pysugar/food-log-nexus/internal/logging"
)

// RequireIdentity verifies the bearer ID token and stores the local identity
// in the request context.
func RequireIdentity(verifier identity.Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				render.Error(w, r, apperr.Authentication("Unauthorized: Authorization header is missing or invalid."))
				return
			}

			uid, err := verifier.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				logging.Printf(r.Context(), "⚠️ ID token rejected: %v", err)
				render.Error(w, r, apperr.Authentication("Invalid ID token.").Wrap(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithLocalIdentity(r.Context(), uid)))
		})
	}
}
