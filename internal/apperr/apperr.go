// Package apperr defines the gateway's error taxonomy. Every failure that
// reaches a caller is one of a small set of kinds, each with an HTTP-style
// status and a machine-readable code. Use errors.Is(err, apperr.ErrForbidden)
// to check the kind, errors.As to reach the *Error for details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind sentinels. An *Error unwraps to exactly one of these.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternal        = errors.New("internal error")
)

// Error is a typed gateway error. Message is safe to show to callers;
// Err (the cause) is logged but never serialized.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause, so
// errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}

	return []error{e.Kind}
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	return StatusOf(e.Kind)
}

// WithDetail returns the error with one more detail entry. The receiver is
// modified in place and returned for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}

	e.Details[key] = value

	return e
}

// StatusOf maps a kind sentinel to its HTTP status.
func StatusOf(kind error) int {
	switch kind {
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// defaultCodes are the machine-readable codes used when a constructor is
// not given a more specific one.
var defaultCodes = map[error]string{
	ErrUnauthorized:    "unauthorized",
	ErrForbidden:       "forbidden",
	ErrNotFound:        "not_found",
	ErrValidation:      "validation_error",
	ErrConflict:        "conflict",
	ErrTooManyRequests: "too_many_requests",
	ErrInternal:        "internal_error",
}

func newError(kind error, code, msg string, cause error) *Error {
	if code == "" {
		code = defaultCodes[kind]
	}

	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

// Unauthorized reports a missing, invalid or expired credential.
func Unauthorized(code, msg string, cause error) *Error {
	return newError(ErrUnauthorized, code, msg, cause)
}

// Forbidden reports an authenticated caller that is not allowed to proceed.
func Forbidden(code, msg string, cause error) *Error {
	return newError(ErrForbidden, code, msg, cause)
}

// NotFound reports a missing or expired resource.
func NotFound(code, msg string, cause error) *Error {
	return newError(ErrNotFound, code, msg, cause)
}

// Validation reports malformed caller input.
func Validation(code, msg string, cause error) *Error {
	return newError(ErrValidation, code, msg, cause)
}

// Conflict reports a naming collision or version mismatch.
func Conflict(code, msg string, cause error) *Error {
	return newError(ErrConflict, code, msg, cause)
}

// TooManyRequests reports an exhausted upstream retry budget.
func TooManyRequests(code, msg string, cause error) *Error {
	return newError(ErrTooManyRequests, code, msg, cause)
}

// Internal reports misconfiguration or an unexpected integration failure.
func Internal(code, msg string, cause error) *Error {
	return newError(ErrInternal, code, msg, cause)
}

// From converts any error into an *Error. Errors that are not already typed
// become InternalError with a generic message so no internal detail leaks.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	return Internal("", "internal error", err)
}
