package errors

import (
	stderrors "errors"
	"fmt"
)

// APIError represents a standardized API error response
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Details string    `json:"details,omitempty"`
	Status  int       `json:"-"`

	cause error
}

// New builds an APIError whose HTTP status is derived from the code
func New(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Status:  code.StatusCode(),
	}
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *APIError) Unwrap() error {
	return e.cause
}

// Wrap attaches an underlying error without exposing it to clients
func (e *APIError) Wrap(cause error) *APIError {
	e.cause = cause
	return e
}

// WithDetails adds additional details to an error
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// WithField marks the request field the error refers to
func (e *APIError) WithField(field string) *APIError {
	e.Field = field
	return e
}

// As extracts an *APIError from an error chain
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// NotFound creates a NOT_FOUND error
func NotFound(resource string) *APIError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// Unauthorized creates an UNAUTHORIZED error
func Unauthorized(message string) *APIError {
	return New(ErrUnauthorized, message)
}

// Forbidden creates a FORBIDDEN error
func Forbidden(message string) *APIError {
	return New(ErrForbidden, message)
}

// Conflict creates a CONFLICT error
func Conflict(resource string) *APIError {
	return New(ErrConflict, fmt.Sprintf("%s already exists or is in an invalid state", resource))
}

// ValidationError creates a VALIDATION_ERROR
func ValidationError(field, message string) *APIError {
	return New(ErrValidation, message).WithField(field)
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *APIError {
	return New(ErrBadRequest, message)
}

// InternalError creates an INTERNAL_ERROR
func InternalError(message string) *APIError {
	return New(ErrInternalError, message)
}

// AlreadyExists creates an ALREADY_EXISTS error
func AlreadyExists(resource string) *APIError {
	return New(ErrAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

// RateLimited creates a RATE_LIMITED error
func RateLimited(message string) *APIError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return New(ErrRateLimited, message)
}

// ServiceUnavailable creates a SERVICE_UNAVAILABLE error
func ServiceUnavailable(service string) *APIError {
	return New(ErrServiceUnavail, fmt.Sprintf("%s is temporarily unavailable", service))
}

// Timeout creates a TIMEOUT error
func Timeout(operation string) *APIError {
	return New(ErrTimeout, fmt.Sprintf("%s timed out", operation))
}

// PaymentRequired is returned when content needs an active subscription
func PaymentRequired(message string) *APIError {
	return New(ErrPaymentRequired, message)
}

// Gone is returned for resources that existed but can no longer be used,
// such as revoked or expired share links
func Gone(message string) *APIError {
	return New(ErrGone, message)
}
