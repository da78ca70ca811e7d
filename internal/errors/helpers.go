package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Common error creators for frequent use cases

// NewInvalidArgumentError creates a caller error with field context. These
// fail fast, before any network attempt is made.
func NewInvalidArgumentError(field, message string) *AppError {
	return New(ErrCodeInvalidArgument, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewStoreError creates an offline-store error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("offline store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Local storage operation failed")
}

// NewHTTPError creates an error for a candidate that reached the server but
// got a non-2xx (or a 2xx whose body could not be parsed).
func NewHTTPError(statusCode int, body string) *AppError {
	retryable := statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := New(ErrCodeHTTPError, fmt.Sprintf("backend returned status %d", statusCode)).
		WithContext("status_code", statusCode).
		WithContext("body", body)
	appErr.Retryable = retryable

	return appErr
}

// NewParseError creates an HTTP_ERROR for a 2xx whose body failed to parse
// as a canonical message. The dispatcher treats it like any other candidate
// failure and advances.
func NewParseError(err error) *AppError {
	return Wrap(err, ErrCodeHTTPError, "response body could not be parsed").
		WithContext("parse_failure", true)
}

// ClassifyTransportError maps a transport-level failure to TIMEOUT or
// NETWORK_ERROR. Both are retryable against the next candidate.
func ClassifyTransportError(err error) *AppError {
	if IsTimeout(err) {
		return WrapRetryable(err, ErrCodeTimeout, "request timed out")
	}
	return WrapRetryable(err, ErrCodeNetworkError, "transport failure")
}

// IsTimeout reports whether err is a deadline/timeout style failure rather
// than a generic network failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes for the
// diagnostics server.
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeInvalidArgument, ErrCodeInvalidConfig, ErrCodeMissingConfig:
		return 400 // Bad Request
	case ErrCodeNotFound:
		return 404 // Not Found
	case ErrCodeTimeout:
		return 408 // Request Timeout
	case ErrCodeHTTPError, ErrCodeNetworkError:
		return 502 // Bad Gateway
	case ErrCodeStoreConnection, ErrCodeStoreQuery:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}
