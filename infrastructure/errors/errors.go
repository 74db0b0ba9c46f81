// Package errors provides unified error handling for the orchestrator.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired ErrorCode = "AUTH_1003"

	// Authorization errors (2xxx)
	ErrCodeForbidden ErrorCode = "AUTHZ_2001"

	// Validation errors (3xxx)
	ErrCodeInvalidInput  ErrorCode = "VAL_3001"
	ErrCodeInvalidFormat ErrorCode = "VAL_3003"

	// Resource errors (4xxx)
	ErrCodeNotFound ErrorCode = "RES_4001"

	// Service errors (5xxx)
	ErrCodeInternal    ErrorCode = "SVC_5001"
	ErrCodeConfig      ErrorCode = "SVC_5002"
	ErrCodeTimeout     ErrorCode = "SVC_5005"
	ErrCodeRateLimited ErrorCode = "SVC_5006"
)

// ServiceError is a structured error with a code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Unauthorized builds the error the observability API returns when a token
// is missing, invalid, expired, or under-scoped.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// InvalidToken wraps a JWT parse/verify failure.
func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "could not validate credentials", http.StatusUnauthorized, err)
}

// TokenExpired indicates an expired bearer token.
func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "token has expired", http.StatusUnauthorized)
}

// Forbidden indicates a caller lacked a required scope.
func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// InvalidInput indicates a malformed request payload.
func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusUnprocessableEntity).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// InvalidFormat indicates a path/query parameter failed validation (e.g. the
// drone_uuid regex).
func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "invalid format", http.StatusUnprocessableEntity).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

// NotFound indicates a registry miss.
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Drone not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// Config indicates a fatal missing-configuration error. Never caught locally
// by callers; it is meant to abort startup of the subsystem that needs it.
func Config(message string) *ServiceError {
	return New(ErrCodeConfig, message, http.StatusInternalServerError)
}

// RateLimitExceeded indicates a caller exceeded the per-client request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Timeout indicates an agent call exceeded its deadline.
func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code associated with err, defaulting
// to 500 for errors that aren't ServiceErrors.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
