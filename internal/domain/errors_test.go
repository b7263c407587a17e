package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrInvalidInput,
			message:   "Invalid request body",
			details:   "symptoms must be a list of strings",
			requestID: "req-123",
		},
		{
			name:      "Empty symptom set",
			code:      ErrEmptySymptoms,
			message:   "No valid symptom",
			details:   "all provided codes were unknown",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}

			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}

			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}

			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}

			// Check that timestamp is recent (within last minute)
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "String validation error",
			field:   "mode",
			message: "must be forward or backward",
			value:   "sideways",
		},
		{
			name:    "Integer validation error",
			field:   "top_k",
			message: "Must be positive",
			value:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			if err.Value != tt.value {
				t.Errorf("Expected value %v, got %v", tt.value, err.Value)
			}

			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestLoadError(t *testing.T) {
	err := NewLoadError("kb.json", fs.ErrNotExist)

	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected LoadError to unwrap to fs.ErrNotExist")
	}

	var loadErr *LoadError
	if !errors.As(error(err), &loadErr) {
		t.Fatalf("Expected errors.As to find *LoadError")
	}
	if loadErr.Source != "kb.json" {
		t.Errorf("Expected source kb.json, got %s", loadErr.Source)
	}

	expected := "loading knowledge base from kb.json: file does not exist"
	if err.Error() != expected {
		t.Errorf("Expected error string %q, got %q", expected, err.Error())
	}
}

func TestErrorConstants(t *testing.T) {
	constants := map[string]string{
		"ErrInvalidInput":   ErrInvalidInput,
		"ErrEmptySymptoms":  ErrEmptySymptoms,
		"ErrKnowledgeBase":  ErrKnowledgeBase,
		"ErrRateLimit":      ErrRateLimit,
		"ErrInternalServer": ErrInternalServer,
		"ErrValidation":     ErrValidation,
	}

	expectedValues := map[string]string{
		"ErrInvalidInput":   "INVALID_INPUT",
		"ErrEmptySymptoms":  "EMPTY_SYMPTOM_SET",
		"ErrKnowledgeBase":  "KNOWLEDGE_BASE_ERROR",
		"ErrRateLimit":      "RATE_LIMIT_EXCEEDED",
		"ErrInternalServer": "INTERNAL_SERVER_ERROR",
		"ErrValidation":     "VALIDATION_ERROR",
	}

	for name, actual := range constants {
		expected := expectedValues[name]
		if actual != expected {
			t.Errorf("Expected %s to be %s, got %s", name, expected, actual)
		}
	}
}

func TestAPIErrorFrom(t *testing.T) {
	existing := NewAPIError(ErrRateLimit, "slow down", "", "req-1")

	tests := []struct {
		name string
		err  error
		code string
	}{
		{"api error passes through", existing, ErrRateLimit},
		{"empty symptom set", fmt.Errorf("%w: 2 code(s) given", ErrEmptySymptomSet), ErrEmptySymptoms},
		{"invalid mode", fmt.Errorf("%w: \"sideways\"", ErrInvalidMode), ErrInvalidInput},
		{"validation", NewValidationError("top_k", "must be positive", -1), ErrValidation},
		{"not found", fmt.Errorf("rule R_X: %w", ErrNotFound), ErrNotFoundCode},
		{"load error", NewLoadError("kb.json", errors.New("bad")), ErrKnowledgeBase},
		{"knowledge base not loaded", fmt.Errorf("diagnose: %w", ErrNotLoaded), ErrKnowledgeBase},
		{"anything else", errors.New("boom"), ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := APIErrorFrom(tt.err, "req-1")
			if apiErr.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, apiErr.Code)
			}
			if apiErr.RequestID != "req-1" {
				t.Errorf("Expected request id req-1, got %s", apiErr.RequestID)
			}
		})
	}

	internal := APIErrorFrom(errors.New("password=secret"), "")
	if internal.Details != "" {
		t.Errorf("Internal errors must not leak details, got %q", internal.Details)
	}
}
