package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUpstreamError    = errors.New("upstream error")
	ErrRateLimited      = errors.New("rate limited")
	ErrNetwork          = errors.New("network error")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrExpired          = errors.New("expired")
	ErrInvalidLink      = errors.New("invalid recovery link")
	ErrMissingCartData  = errors.New("missing cart data")
	ErrAccountCancelled = errors.New("account cancelled")
	ErrNotConfigured    = errors.New("not configured")
	ErrNotImplemented   = errors.New("not implemented")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewBadRequestError creates a 400 error with a caller-supplied message.
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewExpiredError creates a 422 error for stale signed requests.
func NewExpiredError(reason string) *APIError {
	return &APIError{
		Code:       "EXPIRED",
		Message:    reason,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        ErrExpired,
	}
}

// NewNotConfiguredError creates a 503 error used before the shop is linked.
func NewNotConfiguredError(reason string) *APIError {
	return &APIError{
		Code:       "NOT_CONFIGURED",
		Message:    reason,
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrNotConfigured,
	}
}

// NewNotImplementedError creates a 501 error for unknown method/resource pairs.
func NewNotImplementedError(method, resource string) *APIError {
	return &APIError{
		Code:       "NOT_IMPLEMENTED",
		Message:    fmt.Sprintf("Don't know how to %s %s", method, resource),
		StatusCode: http.StatusNotImplemented,
		Err:        ErrNotImplemented,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewNetworkError wraps a transport failure or timeout talking to service.
func NewNetworkError(service string, err error) *APIError {
	return &APIError{
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("%s unreachable", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewRemoteError builds the error for a non-2xx remote response.
// StatusCode carries the remote status so callers can branch on it.
// 404 unwraps to ErrNotFound and 410 to ErrAccountCancelled.
func NewRemoteError(status int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("HTTP code %d - %s", status, http.StatusText(status))
	}
	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusGone:
		sentinel = ErrAccountCancelled
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrUnauthorized
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrUpstreamError
	}
	return &APIError{
		Code:       "REMOTE_ERROR",
		Message:    message,
		StatusCode: status,
		Err:        sentinel,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}
