package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pysugar/food-log-nexus/internal/api/render"
	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/logging"
	"github.com/pysugar/food-log-nexus/internal/metrics"
)

// Bot gate actions.
const (
	ActionAuthenticate = "AUTHENTICATE"
	ActionWriteLog     = "WRITE_LOG"
)

// maxPeekBody bounds how much of a request body the gate reads.
const maxPeekBody = 1 << 20

// Scorer rates how likely a client token belongs to a human (0..1).
type Scorer interface {
	Score(ctx context.Context, token, action string) (float64, error)
}

// RecaptchaClient scores tokens with the reCAPTCHA siteverify API.
type RecaptchaClient struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

func NewRecaptchaClient(secret, verifyURL string, httpClient *http.Client) *RecaptchaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RecaptchaClient{secret: secret, verifyURL: verifyURL, httpClient: httpClient}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Score returns 0 for tokens the provider rejects or that were minted for a
// different action. Transport and protocol failures are returned as errors.
func (c *RecaptchaClient) Score(ctx context.Context, token, action string) (float64, error) {
	form := url.Values{"secret": {c.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var out siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode siteverify response: %w", err)
	}
	if !out.Success {
		logging.Printf(ctx, "⚠️ reCAPTCHA token rejected: %v", out.ErrorCodes)
		return 0, nil
	}
	if out.Action != "" && !strings.EqualFold(out.Action, action) {
		logging.Printf(ctx, "⚠️ reCAPTCHA action mismatch: got %q, want %q", out.Action, action)
		return 0, nil
	}
	return out.Score, nil
}

// BotGuard checks an optional recaptchaToken field of the JSON body before
// the request reaches next. Requests without a token pass through, and so do
// requests whose score could not be fetched. A nil scorer disables the gate.
func BotGuard(scorer Scorer, action string, threshold float64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if scorer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := peekToken(r)
			if err != nil {
				render.Error(w, r, apperr.Validation("Failed to read request body.").Wrap(err))
				return
			}
			if token == "" {
				metrics.BotVerdicts.WithLabelValues(action, "skip").Inc()
				logging.Printf(r.Context(), "No reCAPTCHA token provided, skipping verification (action: %s)", action)
				next.ServeHTTP(w, r)
				return
			}

			score, err := scorer.Score(r.Context(), token, action)
			if err != nil {
				metrics.BotVerdicts.WithLabelValues(action, "fail_open").Inc()
				logging.Printf(r.Context(), "⚠️ reCAPTCHA verification unavailable, allowing request (action: %s): %v", action, err)
				next.ServeHTTP(w, r)
				return
			}
			if score < threshold {
				metrics.BotVerdicts.WithLabelValues(action, "block").Inc()
				logging.Printf(r.Context(), "⚠️ reCAPTCHA verification failed for action: %s (score %.2f < %.2f)", action, score, threshold)
				render.Error(w, r, apperr.Forbidden("Forbidden: reCAPTCHA verification failed."))
				return
			}

			metrics.BotVerdicts.WithLabelValues(action, "pass").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// peekToken reads recaptchaToken from a JSON body (or the query for bodiless
// requests) and leaves the body readable for the next handler.
func peekToken(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return r.URL.Query().Get("recaptchaToken"), nil
	}

	orig := r.Body
	body, err := io.ReadAll(io.LimitReader(orig, maxPeekBody+1))
	if err != nil {
		return "", err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), orig), orig}

	var peeked struct {
		RecaptchaToken string `json:"recaptchaToken"`
	}
	if len(body) > maxPeekBody || json.Unmarshal(body, &peeked) != nil {
		return "", nil
	}
	return peeked.RecaptchaToken, nil
}
