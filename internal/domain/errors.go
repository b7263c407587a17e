package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrEmptySymptoms      = "EMPTY_SYMPTOM_SET"
	ErrKnowledgeBase      = "KNOWLEDGE_BASE_ERROR"
	ErrNotFoundCode       = "NOT_FOUND"
	ErrRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrRequestTimeoutCode = "REQUEST_TIMEOUT"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// LoadError reports a knowledge-base source that is missing, unreadable or
// structurally invalid. No partial knowledge base accompanies it.
type LoadError struct {
	Source string
	Err    error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	return fmt.Sprintf("loading knowledge base from %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewLoadError wraps err as a LoadError for source
func NewLoadError(source string, err error) *LoadError {
	return &LoadError{Source: source, Err: err}
}

// APIErrorFrom maps a service error onto the public error codes.
func APIErrorFrom(err error, requestID string) *APIError {
	var apiErr *APIError
	var validationErr *ValidationError
	var loadErr *LoadError

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrEmptySymptomSet):
		return NewAPIError(ErrEmptySymptoms, "No known symptom provided", err.Error(), requestID)
	case errors.Is(err, ErrInvalidMode):
		return NewAPIError(ErrInvalidInput, "Invalid inference mode", err.Error(), requestID)
	case errors.As(err, &validationErr):
		return NewAPIError(ErrValidation, validationErr.Message, validationErr.Error(), requestID)
	case errors.Is(err, ErrNotFound):
		return NewAPIError(ErrNotFoundCode, "Resource not found", err.Error(), requestID)
	case errors.As(err, &loadErr):
		return NewAPIError(ErrKnowledgeBase, "Knowledge base unavailable", loadErr.Error(), requestID)
	case errors.Is(err, ErrNotLoaded):
		return NewAPIError(ErrKnowledgeBase, "Knowledge base not loaded", "", requestID)
	default:
		return NewAPIError(ErrInternalServer, "Internal server error", "", requestID)
	}
}
