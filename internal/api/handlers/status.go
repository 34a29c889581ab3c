package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
	"github.com/pysugar/food-log-nexus/internal/db/models"
	"github.com/pysugar/food-log-nexus/internal/version"
)

// HealthHandler handles GET /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, http.StatusOK, map[string]string{
			"status":    "OK",
			"function":  "healthChecker",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// VersionHandler handles GET /api/version
func VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, http.StatusOK, version.Get())
	}
}

// SubmissionHistory reads one identity's audit entries and totals.
type SubmissionHistory interface {
	Recent(localIdentity string, limit int) []models.SubmissionLog
	StatsFor(localIdentity string) models.SubmissionStats
}

// SubmissionsHandler handles GET /api/submissions?limit=N for the caller.
func SubmissionsHandler(history SubmissionHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := identity.FromContext(r.Context())
		if !ok {
			render.Error(w, r, apperr.Authentication("Unauthorized: Authorization header is missing or invalid."))
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				render.Error(w, r, apperr.Validation("Invalid limit %q.", v))
				return
			}
			limit = n
		}

		logs := history.Recent(uid, limit)
		if logs == nil {
			logs = []models.SubmissionLog{}
		}
		render.JSON(w, http.StatusOK, map[string]any{
			"submissions": logs,
			"stats":       history.StatsFor(uid),
		})
	}
}
