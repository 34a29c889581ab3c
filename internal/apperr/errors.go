// Package apperr defines the tagged error kinds shared by the food-log pipeline
// and the HTTP boundary that maps them to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthentication   Kind = "authentication"
	KindForbidden        Kind = "forbidden"
	KindUpstreamAPI      Kind = "upstream_api"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindInternal         Kind = "internal"
)

// GenericMessage is returned to clients for errors that carry no kind.
const GenericMessage = "An internal server error occurred."

var defaultStatus = map[Kind]int{
	KindValidation:       http.StatusBadRequest,
	KindAuthentication:   http.StatusUnauthorized,
	KindForbidden:        http.StatusForbidden,
	KindUpstreamAPI:      http.StatusInternalServerError,
	KindMethodNotAllowed: http.StatusMethodNotAllowed,
	KindInternal:         http.StatusInternalServerError,
}

// Error is a kind-tagged error with an HTTP status and optional details.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// WithStatus overrides the default status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithDetails attaches a payload rendered next to the message.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Status:  defaultStatus[kind],
	}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return newError(KindAuthentication, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

// UpstreamAPI marks a failure reported by (or while talking to) a remote API.
func UpstreamAPI(format string, args ...any) *Error {
	return newError(KindUpstreamAPI, format, args...)
}

func MethodNotAllowed() *Error {
	return newError(KindMethodNotAllowed, "Method Not Allowed")
}

func Internal(format string, args ...any) *Error {
	return newError(KindInternal, format, args...)
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show a client. Tagged errors expose
// their own message (without the wrapped cause); untagged errors are generalized.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return GenericMessage
}

// DetailsOf returns the details payload of a tagged error, if any.
func DetailsOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
