package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrUnauthenticated is returned when no access token is available.
// Callers treat it as local-only mode rather than a failure.
var ErrUnauthenticated = errors.New("not authenticated")

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// IsRetryable reports whether err is worth retrying. Transport failures
// (no StatusError in the chain) are retryable; so are 5xx and throttling
// responses. Missing authentication is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthenticated) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// IsUnreachable reports whether err means the server could not be reached at
// all: the request failed in the transport without a response. A cancelled
// context is not a connectivity problem.
func IsUnreachable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
