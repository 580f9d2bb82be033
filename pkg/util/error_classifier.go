package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ClassifiedError carries an explicit retry decision made by the caller.
type ClassifiedError struct {
	Err       error
	Retryable bool
	Type      string
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable marks err as retryable with the given type label.
func Retryable(err error, errorType string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retryable: true, Type: errorType}
}

// Permanent marks err as not retryable with the given type label.
func Permanent(err error, errorType string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retryable: false, Type: errorType}
}

// IsRetryableError determines if an error is retryable.
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Retryable, classified.Type
	}

	errStr := err.Error()

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || strings.Contains(errStr, "json:") {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return false, "duplicate_key"
	}

	// Context errors are checked before net.Error: a deadline exceeded also satisfies net.Error.
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, "connection_error"
	}

	return false, "unknown_error"
}

// ShouldRetry reports whether another attempt is allowed.
func ShouldRetry(retryCount, maxRetries int, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount < maxRetries
}
