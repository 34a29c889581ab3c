// Package identity verifies the bearer ID tokens presented by the front end
// and carries the resulting local identity through request contexts.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("ID token is required")
	ErrInvalidToken   = errors.New("invalid ID token")
	ErrMissingSubject = errors.New("ID token has no subject")
)

// Verifier turns a bearer token into a local identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Claims are the ID token claims this service reads.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed ID tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. issuer and audience are enforced when non-empty.
func NewJWTVerifier(secret, issuer, audience string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWTVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify checks the signature and registered claims and returns the subject,
// falling back to the user_id claim.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	var claims Claims
	if _, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", ErrMissingSubject
}

type contextKey struct{}

// WithLocalIdentity stores the verified identity in ctx.
func WithLocalIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the verified identity, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
