// Package apperr implements the error taxonomy (kinds, not types) that every
// handler in this backend maps to an HTTP status and JSON envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error into one of the taxonomy buckets.
type Kind string

const (
	Validation    Kind = "validation_error"
	NotConfigured Kind = "not_configured"
	Auth          Kind = "auth_error"
	MFARequired   Kind = "mfa_required"
	RateLimited   Kind = "rate_limited"
	UpstreamAPI   Kind = "upstream_api_error"
	NotFound      Kind = "not_found"
	Conflict      Kind = "conflict"
	Internal      Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	Validation:    http.StatusBadRequest,
	NotConfigured: http.StatusPreconditionFailed,
	Auth:          http.StatusUnauthorized,
	MFARequired:   http.StatusUnauthorized,
	RateLimited:   http.StatusTooManyRequests,
	UpstreamAPI:   http.StatusBadGateway,
	NotFound:      http.StatusNotFound,
	Conflict:      http.StatusConflict,
	Internal:      http.StatusInternalServerError,
}

// Error is a domain error carrying a Kind that the HTTP layer maps to a
// status code and JSON body. RetryAfter is populated only for RateLimited.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, only meaningful when Kind == RateLimited
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return newErr(kind, fmt.Sprintf(format, args...), nil)
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return newErr(kind, msg, cause)
}

func ValidationErr(format string, args ...any) *Error { return Newf(Validation, format, args...) }
func NotConfiguredErr(format string, args ...any) *Error {
	return Newf(NotConfigured, format, args...)
}
func AuthErr(format string, args ...any) *Error { return Newf(Auth, format, args...) }
func NotFoundErr(format string, args ...any) *Error { return Newf(NotFound, format, args...) }
func ConflictErr(format string, args ...any) *Error { return Newf(Conflict, format, args...) }
func InternalErr(cause error, msg string) *Error   { return Wrap(Internal, cause, msg) }
func UpstreamErr(cause error, msg string) *Error   { return Wrap(UpstreamAPI, cause, msg) }

// RateLimitedErr builds a RateLimited error carrying retryAfter seconds.
func RateLimitedErr(retryAfter int) *Error {
	return &Error{Kind: RateLimited, Message: "rate limited", RetryAfter: retryAfter}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
