package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Run kinds. These are the only values a failed verification reports.
	ErrorTypeDecode      ErrorType = "decode_error"
	ErrorTypeAnalyzer    ErrorType = "analyzer_error"
	ErrorTypeTimeout     ErrorType = "timeout_error"
	ErrorTypeCancelled   ErrorType = "cancelled"
	ErrorTypeAggregation ErrorType = "aggregation_error"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeBusy       ErrorType = "unavailable"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewDecodeError reports malformed or unsupported image input.
func NewDecodeError(message string, cause error) *AppError {
	return newError(ErrorTypeDecode, http.StatusUnprocessableEntity, message, cause)
}

// NewAnalyzerError reports a single detector failure.
func NewAnalyzerError(message string, cause error) *AppError {
	return newError(ErrorTypeAnalyzer, http.StatusInternalServerError, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewCancelledError reports a caller-initiated cancellation.
func NewCancelledError(message string, cause error) *AppError {
	return newError(ErrorTypeCancelled, 499, message, cause)
}

// NewAggregationError reports inconsistent detector outputs.
func NewAggregationError(message string, cause error) *AppError {
	return newError(ErrorTypeAggregation, http.StatusInternalServerError, message, cause)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return newError(ErrorTypeNetwork, http.StatusBadGateway, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// NewConflictError reports an operation that does not fit the current
// state of a resource.
func NewConflictError(message string, cause error) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message, cause)
}

// NewBusyError reports that no capacity is left to accept work.
func NewBusyError(message string, cause error) *AppError {
	return newError(ErrorTypeBusy, http.StatusServiceUnavailable, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, cause)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// KindOf returns the type of the first AppError in the chain, or internal.
func KindOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsRunFatal reports whether an error kind terminates a verification run.
// Analyzer failures are recovered inside the run.
func IsRunFatal(t ErrorType) bool {
	return t != ErrorTypeAnalyzer
}

// IsRetryable reports whether a failed run may be resubmitted as-is.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// StatusFor maps an error kind to the HTTP status its constructor uses.
func StatusFor(t ErrorType) int {
	switch t {
	case ErrorTypeDecode:
		return http.StatusUnprocessableEntity
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeCancelled:
		return 499
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNetwork:
		return http.StatusBadGateway
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
