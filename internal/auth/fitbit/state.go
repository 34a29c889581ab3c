package fitbit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL bounds how long a consent round trip may take.
const DefaultStateTTL = 10 * time.Minute

const stateAudience = "fitbit-oauth-state"

// State is carried through the consent page in the OAuth state parameter.
type State struct {
	LocalIdentity string `json:"firebaseUid"`
	RedirectURI   string `json:"redirectUri,omitempty"`
}

var (
	ErrMissingIdentity = errors.New("Firebase UID is missing")
	ErrInvalidState    = errors.New("state signature is invalid or expired")
)

type stateClaims struct {
	State
	jwt.RegisteredClaims
}

// StateSigner issues and checks HS256-signed state parameters, so the
// callback only links accounts for identities this service authenticated.
type StateSigner struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewStateSigner creates a signer. ttl <= 0 selects DefaultStateTTL.
func NewStateSigner(key string, ttl time.Duration) (*StateSigner, error) {
	if key == "" {
		return nil, errors.New("fitbit: state signing key is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	s := &StateSigner{key: []byte(key), ttl: ttl, now: time.Now}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// Sign serializes st for use as the state parameter.
func (s *StateSigner) Sign(st State) (string, error) {
	now := s.now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		State: st,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return tok, nil
}

// Verify checks the signature and expiry of a state parameter and returns
// its contents.
func (s *StateSigner) Verify(state string) (State, error) {
	var claims stateClaims
	_, err := s.parser.ParseWithClaims(strings.TrimSpace(state), &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return State{}, fmt.Errorf("could not decode state parameter: %w", err)
	}
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.LocalIdentity == "" {
		return claims.State, ErrMissingIdentity
	}
	return claims.State, nil
}
