// Package logging provides request ID context propagation and request-scoped log lines.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const requestIDKey contextKey = "requestId"

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context, falling back to the
// one assigned by chi's RequestID middleware. Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return chimiddleware.GetReqID(ctx)
}

// Printf logs with the request ID of ctx as a prefix when one is present.
func Printf(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if id := GetRequestID(ctx); id != "" {
		log.Printf("[%s] %s", id, msg)
		return
	}
	log.Print(msg)
}
