package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/auth/fitbit"
	"github.com/pysugar/food-log-nexus/internal/auth/identity"
	"github.com/pysugar/food-log-nexus/internal/credentials"
	"github.com/pysugar/food-log-nexus/internal/logging"
)

// CodeExchanger links a Fitbit account to a local identity.
type CodeExchanger interface {
	Exchange(ctx context.Context, code, localIdentity string) (*credentials.TokenPayload, error)
}

// ConsentURLBuilder builds the Fitbit consent page URL.
type ConsentURLBuilder interface {
	AuthCodeURL(state string) string
}

// OAuthCallbackHandler handles GET /oauth/fitbit/callback. Only states issued
// by AuthorizeHandler with the same signer are accepted.
func OAuthCallbackHandler(exchanger CodeExchanger, states *fitbit.StateSigner, policy *fitbit.RedirectPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			render.Error(w, r, apperr.MethodNotAllowed())
			return
		}

		q := r.URL.Query()
		rawState := q.Get("state")
		if rawState == "" {
			render.Error(w, r, apperr.Validation("Invalid request: state parameter is missing."))
			return
		}
		code := q.Get("code")
		if code == "" {
			render.Error(w, r, apperr.Validation("Invalid request: code parameter is missing."))
			return
		}

		state, err := states.Verify(rawState)
		if errors.Is(err, fitbit.ErrMissingIdentity) {
			render.Error(w, r, apperr.Validation("Invalid state: Firebase UID is missing."))
			return
		}
		if errors.Is(err, fitbit.ErrInvalidState) {
			logging.Printf(r.Context(), "⚠️ Rejected OAuth state: %v", err)
			render.Error(w, r, apperr.Validation("Invalid state: signature is invalid or expired.").Wrap(err))
			return
		}
		if err != nil {
			render.Error(w, r, apperr.Validation("Invalid state: %v", err))
			return
		}

		// Checked before the exchange so a rejected redirect never consumes the code.
		if state.RedirectURI != "" && (policy == nil || !policy.Allowed(state.RedirectURI)) {
			logging.Printf(r.Context(), "⚠️ Rejected OAuth redirect %q for %s", state.RedirectURI, state.LocalIdentity)
			render.Error(w, r, apperr.Validation("Invalid redirect URI."))
			return
		}

		if _, err := exchanger.Exchange(r.Context(), code, state.LocalIdentity); err != nil {
			render.Error(w, r, err)
			return
		}

		if state.RedirectURI != "" {
			target, err := fitbit.WithIdentity(state.RedirectURI, state.LocalIdentity)
			if err != nil {
				render.Error(w, r, apperr.Validation("Invalid redirect URI.").Wrap(err))
				return
			}
			http.Redirect(w, r, target, http.StatusFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Authorization successful! User UID: %s. You can close this page.", state.LocalIdentity)
	}
}

// AuthorizeHandler handles GET /oauth/fitbit/authorize. It returns the consent
// URL for the authenticated caller, optionally returning to redirect_uri.
func AuthorizeHandler(consent ConsentURLBuilder, states *fitbit.StateSigner, policy *fitbit.RedirectPolicy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := identity.FromContext(r.Context())
		if !ok {
			render.Error(w, r, apperr.Authentication("Unauthorized: Authorization header is missing or invalid."))
			return
		}

		redirectURI := r.URL.Query().Get("redirect_uri")
		if redirectURI != "" && (policy == nil || !policy.Allowed(redirectURI)) {
			render.Error(w, r, apperr.Validation("Invalid redirect URI."))
			return
		}

		state, err := states.Sign(fitbit.State{LocalIdentity: uid, RedirectURI: redirectURI})
		if err != nil {
			render.Error(w, r, err)
			return
		}
		render.JSON(w, http.StatusOK, map[string]string{"url": consent.AuthCodeURL(state)})
	}
}
