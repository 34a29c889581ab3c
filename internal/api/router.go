// Package api assembles the HTTP surface of the food-log service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pysugar/food-log-nexus/internal/api/handlers"
	"github.com/pysugar/food-log-nexus/internal/api/middleware"
	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/auth/fitbit"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
)

// TokenService covers the credential operations the routes need.
type TokenService interface {
	handlers.AccessTokens
	handlers.CodeExchanger
	handlers.ConsentURLBuilder
}

// AuditLog records and lists submissions.
type AuditLog interface {
	handlers.SubmissionRecorder
	handlers.SubmissionHistory
}

// Deps are the collaborators wired into the router. BotScorer may be nil to
// disable the bot gate.
type Deps struct {
	Tokens    TokenService
	Meals     handlers.MealLogger
	Audit     AuditLog
	Verifier  identity.Verifier
	Redirects *fitbit.RedirectPolicy
	States    *fitbit.StateSigner

	BotScorer             middleware.Scorer
	ThresholdAuthenticate float64
	ThresholdWriteLog     float64
}

// NewRouter returns the service's routes behind the shared middleware stack.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestIDHeader)
	r.Use(middleware.CORS)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", handlers.HealthHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/oauth/fitbit/callback", handlers.OAuthCallbackHandler(d.Tokens, d.States, d.Redirects))
	r.With(
		middleware.RequireIdentity(d.Verifier),
		middleware.BotGuard(d.BotScorer, middleware.ActionAuthenticate, d.ThresholdAuthenticate),
	).Get("/oauth/fitbit/authorize", handlers.AuthorizeHandler(d.Tokens, d.States, d.Redirects))

	r.Route("/api", func(r chi.Router) {
		r.MethodNotAllowed(methodNotAllowed)
		r.Get("/version", handlers.VersionHandler())

		// Method routing happens before the group's middleware, so a wrong
		// method answers 405 without authenticating.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity(d.Verifier))
			r.With(middleware.BotGuard(d.BotScorer, middleware.ActionWriteLog, d.ThresholdWriteLog)).
				Post("/foodlog", handlers.FoodLogHandler(d.Tokens, d.Meals, d.Audit))
			r.Get("/submissions", handlers.SubmissionsHandler(d.Audit))
		})
	})

	return r
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	render.Error(w, r, apperr.MethodNotAllowed())
}
