package errors

import (
	"fmt"
	"net/http"

	"geoquery/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.details != "" {
		return e.message + ": " + e.details
	}

	return e.message
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// Is matches any BaseError carrying the same error code, so WithDetails copies
// still satisfy errors.Is against the predefined values.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}

	return t.errorCode == e.errorCode
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
	}
}

// Predefined error types
var (
	ErrLocationNotFound = NewBaseError(
		http.StatusNotFound,
		"LOCATION_NOT_FOUND",
		"location not found",
		"",
	)

	ErrWatchNotFound = NewBaseError(
		http.StatusNotFound,
		"WATCH_NOT_FOUND",
		"watch not found",
		"",
	)

	ErrQueryClosed = NewBaseError(
		http.StatusGone,
		"QUERY_CLOSED",
		"query is no longer live",
		"",
	)

	ErrStoreClosed = NewBaseError(
		http.StatusServiceUnavailable,
		"STORE_CLOSED",
		"location store is closed",
		"",
	)

	ErrInternalError = NewBaseError(
		http.StatusInternalServerError,
		"INTERNAL_ERROR",
		"internal error",
		"",
	)
)

// ValidationError reports malformed criteria, event types, callbacks, keys or
// locations. It is always returned synchronously to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a validation error for field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) HTTPCode() int     { return http.StatusBadRequest }
func (e *ValidationError) ErrorCode() string { return "VALIDATION_FAILED" }
func (e *ValidationError) Message() string   { return e.Error() }
func (e *ValidationError) Details() string   { return e.Field }

// InternalConsistencyError signals a broken engine invariant. It is never
// retried; the query that raised it stops.
type InternalConsistencyError struct {
	Reason string
	Key    string
}

// NewInternalConsistencyError creates an internal consistency error
func NewInternalConsistencyError(reason, key string) *InternalConsistencyError {
	return &InternalConsistencyError{Reason: reason, Key: key}
}

func (e *InternalConsistencyError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("internal state error: %s (key=%s)", e.Reason, e.Key)
	}

	return "internal state error: " + e.Reason
}

func (e *InternalConsistencyError) HTTPCode() int     { return http.StatusInternalServerError }
func (e *InternalConsistencyError) ErrorCode() string { return "INTERNAL_CONSISTENCY" }
func (e *InternalConsistencyError) Message() string   { return "internal state error" }
func (e *InternalConsistencyError) Details() string   { return e.Reason }

// ExternalOperationError wraps a failed call into the backing store.
type ExternalOperationError struct {
	Op  string
	Err error
}

// NewExternalOperationError creates an external operation error
func NewExternalOperationError(op string, err error) *ExternalOperationError {
	return &ExternalOperationError{Op: op, Err: err}
}

func (e *ExternalOperationError) Error() string {
	return errors.Wrap(e.Err, e.Op).Error()
}

func (e *ExternalOperationError) Unwrap() error     { return e.Err }
func (e *ExternalOperationError) HTTPCode() int     { return http.StatusBadGateway }
func (e *ExternalOperationError) ErrorCode() string { return "EXTERNAL_OPERATION_FAILED" }
func (e *ExternalOperationError) Message() string   { return "backing store operation failed" }
func (e *ExternalOperationError) Details() string   { return e.Op }

// CallbackError records a panic raised by a registered event callback.
type CallbackError struct {
	EventType string
	Key       string
	Recovered any
}

// NewCallbackError creates a callback error
func NewCallbackError(eventType, key string, recovered any) *CallbackError {
	return &CallbackError{EventType: eventType, Key: key, Recovered: recovered}
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback for key %q panicked: %v", e.EventType, e.Key, e.Recovered)
}

func (e *CallbackError) HTTPCode() int     { return http.StatusInternalServerError }
func (e *CallbackError) ErrorCode() string { return "CALLBACK_FAILED" }
func (e *CallbackError) Message() string   { return "event callback failed" }
func (e *CallbackError) Details() string   { return e.EventType }

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError

	return errors.As(err, &target)
}

// IsInternalConsistency reports whether err carries an InternalConsistencyError
func IsInternalConsistency(err error) bool {
	var target *InternalConsistencyError

	return errors.As(err, &target)
}
