// Package render writes JSON responses and maps tagged errors to them.
package render

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/logging"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ Failed to encode response: %v", err)
	}
}

// Error writes {error} or {error, details} with the status of err's kind.
// Untagged errors are logged and answered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	if apperr.KindOf(err) == apperr.KindInternal {
		logging.Printf(r.Context(), "❌ Unhandled error on %s %s: %v", r.Method, r.URL.Path, err)
	}

	body := map[string]any{"error": apperr.PublicMessage(err)}
	if details := apperr.DetailsOf(err); details != nil {
		body["details"] = details
	}
	JSON(w, status, body)
}
