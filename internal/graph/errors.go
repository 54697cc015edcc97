// Package graph provides an HTTP client for the Microsoft Graph drive API
// with throttling-aware retry and error classification.
package graph

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/minutes-gateway/internal/apperr"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrGone         = errors.New("graph: resource gone")
	ErrThrottled    = errors.New("graph: throttled")
	ErrLocked       = errors.New("graph: resource locked")
	ErrServerError  = errors.New("graph: server error")
	ErrUnexpected   = errors.New("graph: unexpected status")
	ErrTooLarge     = errors.New("graph: content exceeds size limit")
	ErrNotAFolder   = errors.New("graph: item is not a folder")
)

// GraphError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type GraphError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *GraphError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpected
	}
}

// ToAppError translates a client error into the gateway taxonomy. Upstream
// message bodies stay in the cause and never reach callers.
func ToAppError(err error) error {
	if err == nil {
		return nil
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}

	var ge *GraphError

	status := 0
	if errors.As(err, &ge) {
		status = ge.StatusCode
	}

	var out *apperr.Error

	switch {
	case errors.Is(err, ErrThrottled):
		out = apperr.TooManyRequests("upstream_throttled", "document service is throttling requests, retry later", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrGone):
		out = apperr.NotFound("", "item not found", err)
	case errors.Is(err, ErrForbidden):
		out = apperr.Forbidden("upstream_forbidden", "document service denied access", err)
	case errors.Is(err, ErrUnauthorized):
		out = apperr.Unauthorized("upstream_unauthorized", "document service rejected the delegated credential", err)
	case errors.Is(err, ErrConflict), errors.Is(err, ErrLocked):
		out = apperr.Conflict("", "item conflicts with an existing item", err)
	case errors.Is(err, ErrNotAFolder):
		out = apperr.Conflict("not_a_folder", "a non-folder item occupies a folder path", err)
	case errors.Is(err, ErrNoDownloadURL):
		out = apperr.Validation("not_a_file", "item has no downloadable content", err)
	case errors.Is(err, ErrTooLarge):
		out = apperr.Validation("content_too_large", "item content exceeds the size limit", err)
	default:
		out = apperr.Internal("upstream_error", "document service request failed", err)
	}

	if status != 0 {
		out.WithDetail("upstreamStatus", status)
	}

	if ge != nil && ge.RequestID != "" {
		out.WithDetail("upstreamRequestId", ge.RequestID)
	}

	return out
}
