package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "uid-123",
		Issuer:    "https://issuer.example.com",
		Audience:  jwt.ClaimStrings{"food-logger"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
}

func TestVerify_Subject(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "https://issuer.example.com", "food-logger")
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "uid-123", id)
}

func TestVerify_UserIDFallback(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "", "")
	require.NoError(t, err)

	claims := validClaims()
	claims.Subject = ""
	claims.UserID = "uid-legacy"
	id, err := v.Verify(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	require.NoError(t, err)
	assert.Equal(t, "uid-legacy", id)
}

func TestVerify_Rejects(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, "https://issuer.example.com", "food-logger")
	require.NoError(t, err)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"other"}

	noExp := validClaims()
	noExp.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims()), ErrInvalidToken},
		{"wrong alg", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()), ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired), ErrInvalidToken},
		{"audience", sign(t, jwt.SigningMethodHS256, []byte(testSecret), wrongAud), ErrInvalidToken},
		{"no exp", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExp), ErrInvalidToken},
		{"no subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject), ErrMissingSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier("", "", "")
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id, ok := FromContext(WithLocalIdentity(context.Background(), "uid-9"))
	assert.True(t, ok)
	assert.Equal(t, "uid-9", id)
}
