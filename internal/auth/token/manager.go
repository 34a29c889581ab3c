package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/credentials"
	"github.com/pysugar/food-log-nexus/internal/logging"
	"github.com/pysugar/food-log-nexus/internal/metrics"
	"github.com/pysugar/food-log-nexus/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	FindByLocalIdentity(ctx context.Context, id string) (*credentials.Record, error)
	Upsert(ctx context.Context, localIdentity, externalAccountID string, payload credentials.TokenPayload) (*credentials.Record, error)
}

// AccessGrant is a usable access token and the Fitbit account it belongs to.
type AccessGrant struct {
	AccessToken       string
	ExternalAccountID string
}

// Manager handles the Fitbit token lifecycle: code exchange, expiry checks
// and refresh. It keeps no token state of its own.
type Manager struct {
	store      CredentialStore
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	refreshes  singleflight.Group
}

// NewManager creates a manager. httpClient carries the per-call timeout for
// token endpoint requests; nil uses http.DefaultClient.
func NewManager(store CredentialStore, config *oauth2.Config, httpClient *http.Client) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		store:      store,
		config:     config,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (m *Manager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and links the resulting
// Fitbit account to localIdentity.
func (m *Manager) Exchange(ctx context.Context, code, localIdentity string) (*credentials.TokenPayload, error) {
	tok, err := m.config.Exchange(m.clientContext(ctx), code)
	if err != nil {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		logging.Printf(ctx, "❌ Fitbit token exchange failed for %s: %v", localIdentity, err)
		return nil, upstreamError(ctx, err, "Failed to exchange code for tokens: %s", remoteDetail(err))
	}

	payload := m.payloadFromToken(tok)
	if payload.UserID == "" {
		metrics.TokenExchanges.WithLabelValues("error").Inc()
		return nil, apperr.UpstreamAPI("Fitbit user ID not found in token response.")
	}

	if _, err := m.store.Upsert(ctx, localIdentity, payload.UserID, payload); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}
	metrics.TokenExchanges.WithLabelValues("ok").Inc()
	logging.Printf(ctx, "✅ Code exchanged for tokens (identity: %s, fitbit user: %s)", localIdentity, payload.UserID)
	return &payload, nil
}

// EnsureFresh returns a usable access token for localIdentity, refreshing it
// when the stored one has expired.
func (m *Manager) EnsureFresh(ctx context.Context, localIdentity string) (AccessGrant, error) {
	rec, err := m.lookup(ctx, localIdentity, "No tokens found for user %s. Please complete the OAuth flow.")
	if err != nil {
		return AccessGrant{}, err
	}

	if !rec.Expired(m.now()) {
		return AccessGrant{AccessToken: rec.AccessToken, ExternalAccountID: rec.ExternalAccountID}, nil
	}

	logging.Printf(ctx, "⚠️ Token for %s has expired. Refreshing...", localIdentity)
	accessToken, err := m.refresh(ctx, localIdentity, rec, false)
	if err != nil {
		return AccessGrant{}, err
	}
	return AccessGrant{AccessToken: accessToken, ExternalAccountID: rec.ExternalAccountID}, nil
}

// Refresh obtains a new access token with the stored refresh token and
// persists it under the record's existing Fitbit account.
func (m *Manager) Refresh(ctx context.Context, localIdentity string) (string, error) {
	rec, err := m.lookup(ctx, localIdentity, "No refresh token found for user %s. Please re-authenticate.")
	if err != nil {
		return "", err
	}
	return m.refresh(ctx, localIdentity, rec, true)
}

func (m *Manager) lookup(ctx context.Context, localIdentity, notFound string) (*credentials.Record, error) {
	rec, err := m.store.FindByLocalIdentity(ctx, localIdentity)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, apperr.Authentication(notFound, localIdentity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return rec, nil
}

// refresh collapses concurrent refreshes of one account into a single call.
// The flight re-reads the record, so a caller holding a snapshot taken before
// another refresh rotated the single-use refresh token gets the stored token
// instead of replaying the spent one. force skips the expiry check.
func (m *Manager) refresh(ctx context.Context, localIdentity string, rec *credentials.Record, force bool) (string, error) {
	if rec.RefreshToken == "" {
		return "", apperr.Authentication("No refresh token found for user %s. Please re-authenticate.", localIdentity)
	}

	// Joined callers must not fail because the leader's client went away.
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := m.refreshes.Do(rec.ExternalAccountID, func() (any, error) {
		current, err := m.lookup(flightCtx, localIdentity, "No refresh token found for user %s. Please re-authenticate.")
		if err != nil {
			return "", err
		}
		if current.RefreshToken == "" {
			return "", apperr.Authentication("No refresh token found for user %s. Please re-authenticate.", localIdentity)
		}
		if current.RefreshToken != rec.RefreshToken || (!force && !current.Expired(m.now())) {
			logging.Printf(ctx, "🔄 Token for fitbit user %s was already refreshed", current.ExternalAccountID)
			return current.AccessToken, nil
		}
		return m.doRefresh(flightCtx, localIdentity, current)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logging.Printf(ctx, "🔄 Joined in-flight refresh for fitbit user %s", rec.ExternalAccountID)
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, localIdentity string, rec *credentials.Record) (string, error) {
	src := m.config.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: rec.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		logging.Printf(ctx, "❌ Refresh token failed for fitbit user %s: %v", rec.ExternalAccountID, err)
		return "", upstreamError(ctx, err, "Fitbit API Refresh Error: %s", remoteDetail(err))
	}

	payload := m.payloadFromToken(tok)
	if payload.RefreshToken != "" && payload.RefreshToken != rec.RefreshToken {
		logging.Printf(ctx, "🔄 Rotating refresh token for fitbit user %s", rec.ExternalAccountID)
	}
	if _, err := m.store.Upsert(ctx, localIdentity, rec.ExternalAccountID, payload); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to save refreshed token: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("ok").Inc()
	logging.Printf(ctx, "✅ Refreshed token for fitbit user %s (token: %s)", rec.ExternalAccountID, util.MaskToken(tok.AccessToken))
	return tok.AccessToken, nil
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) payloadFromToken(tok *oauth2.Token) credentials.TokenPayload {
	return credentials.TokenPayload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    m.expiresIn(tok),
		UserID:       extraString(tok, "user_id"),
		Scope:        extraString(tok, "scope"),
		TokenType:    tok.TokenType,
	}
}

// expiresIn prefers the raw expires_in field and falls back to the parsed expiry.
func (m *Manager) expiresIn(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int64(tok.Expiry.Sub(m.now()).Seconds())
}

func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}

// remoteDetail pulls the most specific message out of a token endpoint failure.
func remoteDetail(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return "Unknown"
	}
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(re.Body, &body) == nil && len(body.Errors) > 0 && body.Errors[0].Message != "" {
		return body.Errors[0].Message
	}
	if re.ErrorDescription != "" {
		return re.ErrorDescription
	}
	return "Unknown"
}

func upstreamError(ctx context.Context, err error, format string, args ...any) error {
	e := apperr.UpstreamAPI(format, args...).Wrap(err)
	if isTimeout(ctx, err) {
		e = e.WithStatus(http.StatusGatewayTimeout)
	}
	return e
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
