package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
	"github.com/pysugar/food-log-nexus/internal/auth/token"
	"github.com/pysugar/food-log-nexus/internal/db/models"
	"github.com/pysugar/food-log-nexus/internal/foodlog"
	"github.com/pysugar/food-log-nexus/internal/logging"
)

const (
	maxFoodLogBody = 1 << 20
	logDateLayout  = "2006-01-02"

	invalidBodyMessage = `Invalid JSON body. Required: meal_type, log_date, log_time, and a non-empty "foods" array.`
	allLoggedMessage   = "All foods logged successfully to Fitbit."
)

// AccessTokens yields a usable Fitbit access token for a local identity.
type AccessTokens interface {
	EnsureFresh(ctx context.Context, localIdentity string) (token.AccessGrant, error)
}

// MealLogger submits every item of a request.
type MealLogger interface {
	LogMeal(ctx context.Context, accessToken, userID string, req foodlog.LogRequest) (*foodlog.Result, error)
}

// SubmissionRecorder stores the audit entry of a submission.
type SubmissionRecorder interface {
	Record(entry models.SubmissionLog)
}

type foodLogResponse struct {
	Message         string             `json:"message"`
	LoggedData      foodlog.LogRequest `json:"loggedData"`
	FitbitResponses []foodlog.Outcome  `json:"fitbitResponses"`
}

// FoodLogHandler handles POST /api/foodlog. The caller's local identity must
// already be in the request context. audit may be nil.
func FoodLogHandler(tokens AccessTokens, meals MealLogger, audit SubmissionRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			render.Error(w, r, apperr.MethodNotAllowed())
			return
		}

		ctx := r.Context()
		uid, ok := identity.FromContext(ctx)
		if !ok {
			render.Error(w, r, apperr.Authentication("Unauthorized: Authorization header is missing or invalid."))
			return
		}

		start := time.Now()
		entry := models.SubmissionLog{
			RequestID:     logging.GetRequestID(ctx),
			LocalIdentity: uid,
		}
		finish := func(status int, err error) {
			if audit == nil {
				return
			}
			entry.Status = status
			entry.Duration = time.Since(start).Milliseconds()
			if err != nil {
				entry.Error = err.Error()
			}
			audit.Record(entry)
		}
		fail := func(err error) {
			finish(apperr.StatusOf(err), err)
			render.Error(w, r, err)
		}

		var req foodlog.LogRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFoodLogBody)).Decode(&req); err != nil || req.Foods == nil {
			verr := apperr.Validation(invalidBodyMessage)
			if err != nil {
				verr = verr.Wrap(err)
			}
			fail(verr)
			return
		}
		entry.MealType = req.MealType
		entry.LogDate = req.LogDate
		entry.ItemsTotal = len(req.Foods)

		if _, err := time.Parse(logDateLayout, req.LogDate); err != nil {
			fail(apperr.Validation("Invalid log_date %q. Expected format YYYY-MM-DD.", req.LogDate))
			return
		}

		grant, err := tokens.EnsureFresh(ctx, uid)
		if err != nil {
			fail(err)
			return
		}

		result, err := meals.LogMeal(ctx, grant.AccessToken, grant.ExternalAccountID, req)
		if result != nil {
			entry.ItemsLogged = len(result.Successes)
			entry.ItemsFailed = len(result.Failures)
		}
		if err != nil {
			fail(err)
			return
		}

		// Failed items stay out of the response body; they are logged and audited.
		if len(result.Failures) > 0 {
			logging.Printf(ctx, "⚠️ Logged %d of %d foods for %s", len(result.Successes), len(req.Foods), uid)
		}

		finish(http.StatusOK, nil)
		render.JSON(w, http.StatusOK, foodLogResponse{
			Message:         allLoggedMessage,
			LoggedData:      req,
			FitbitResponses: result.Successes,
		})
	}
}
