// Package errors defines the sentinel error taxonomy shared by the crawler,
// indexer, and search engine, plus an AppError carrying an HTTP status.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransientFetch marks a fetch failure worth retrying: timeouts,
	// connection errors, 5xx and 429 responses.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrPermanentFetch marks a fetch failure that is not retried.
	ErrPermanentFetch = errors.New("permanent fetch error")
	// ErrParse marks a page that was fetched but could not be parsed.
	ErrParse = errors.New("parse error")
	// ErrPreprocess marks a document that could not be normalized.
	ErrPreprocess = errors.New("preprocess error")
	// ErrIndexLoad marks a persisted index that is missing or corrupt.
	ErrIndexLoad = errors.New("index load error")
	// ErrIndexUnavailable is returned to search callers when no index
	// snapshot is loaded.
	ErrIndexUnavailable = fmt.Errorf("index unavailable: %w", ErrIndexLoad)
	// ErrIndexWrite marks a failed atomic index replace.
	ErrIndexWrite = errors.New("index write error")
	// ErrNoSeedsReachable is returned when a crawl produces no documents.
	ErrNoSeedsReachable = errors.New("no seeds reachable")

	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsPermanent reports whether err should abandon the operation without retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFetch) || errors.Is(err, ErrParse)
}

// HTTPStatusCode maps err onto the status the search API answers with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTransientFetch), errors.Is(err, ErrPermanentFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Code is the stable machine-readable name of err's class, sent alongside
// error messages in API responses.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrIndexLoad):
		return "index_load"
	case errors.Is(err, ErrIndexWrite):
		return "index_write"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrNoSeedsReachable):
		return "no_seeds_reachable"
	case errors.Is(err, ErrTransientFetch), errors.Is(err, ErrPermanentFetch):
		return "fetch_failed"
	}
	return "internal"
}

// Public is what an API response may reveal about err: client errors keep
// their message, server-side failures get a generic one.
func Public(err error) (status int, code, message string) {
	status, code = HTTPStatusCode(err), Code(err)
	switch {
	case status < http.StatusInternalServerError:
		message = err.Error()
	case code == "index_unavailable" || code == "index_load":
		message = "search index unavailable"
	case code == "timeout":
		message = "request timed out"
	default:
		message = "internal error"
	}
	return status, code, message
}
