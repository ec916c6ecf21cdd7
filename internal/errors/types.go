package errors

import (
	"fmt"
	"net/http"
)

// ErrorType defines the category of the error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound       ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeRateLimit      ErrorType = "RATE_LIMIT_ERROR"
	ErrorTypeCheckExecution ErrorType = "CHECK_EXECUTION_ERROR"
	ErrorTypeQueue          ErrorType = "QUEUE_ERROR"
	ErrorTypeInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError represents a structured error for the application
type AppError struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	StatusCode    int       `json:"statusCode"`
	ErrorCode     string    `json:"errorCode"`
	IsOperational bool      `json:"isOperational"`
	Recovery      string    `json:"recoverySuggestion,omitempty"`
	Err           error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// Code returns the application-specific error code
func (e *AppError) Code() string {
	return e.ErrorCode
}

// RecoverySuggestion returns the suggestion on how to recover from the error
func (e *AppError) RecoverySuggestion() string {
	return e.Recovery
}

// IsRetryable determines if the operation that caused the error should be retried
func (e *AppError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit:
		return true
	case ErrorTypeCheckExecution, ErrorTypeQueue:
		// Backend hiccups surface as 5xx and are worth another attempt
		return e.StatusCode >= 500
	default:
		return false
	}
}

// NewValidationError creates a new validation error (400)
func NewValidationError(message string, errorCode string, suggestion string) *AppError {
	return &AppError{
		Type:          ErrorTypeValidation,
		Message:       message,
		StatusCode:    http.StatusBadRequest,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      suggestion,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string, errorCode string, suggestion string) *AppError {
	return &AppError{
		Type:          ErrorTypeNotFound,
		Message:       message,
		StatusCode:    http.StatusNotFound,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      suggestion,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(message string, errorCode string, suggestion string) *AppError {
	return &AppError{
		Type:          ErrorTypeRateLimit,
		Message:       message,
		StatusCode:    http.StatusTooManyRequests,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      suggestion,
	}
}

// NewCheckExecutionError creates a new check execution error (500)
func NewCheckExecutionError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeCheckExecution,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "Inspect the check failure details and rerun the assessment.",
		Err:           err,
	}
}

// NewQueueError creates a new queue error (500)
func NewQueueError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeQueue,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     errorCode,
		IsOperational: true,
		Recovery:      "Verify the queue backend is reachable and retry the request.",
		Err:           err,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, errorCode string, err error) *AppError {
	return &AppError{
		Type:          ErrorTypeInternal,
		Message:       message,
		StatusCode:    http.StatusInternalServerError,
		ErrorCode:     errorCode,
		IsOperational: false,
		Err:           err,
	}
}
