package errors

import (
	"fmt"
)

// RecallError is the structured error type for recall.
// It provides context for error handling, logging, and user presentation.
type RecallError struct {
	// Code is the unique error code (e.g., "ERR_303_BACKEND_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RecallError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecallError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RecallError.
func (e *RecallError) Is(target error) bool {
	if t, ok := target.(*RecallError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RecallError) WithDetail(key, value string) *RecallError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *RecallError) WithSuggestion(suggestion string) *RecallError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RecallError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RecallError {
	return &RecallError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RecallError from an existing error.
// The error's message becomes the RecallError message.
func Wrap(code string, err error) *RecallError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RecallError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RecallError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InvalidQuery creates a query-validation error, rejected before any
// backend call is made.
func InvalidQuery(message string) *RecallError {
	return New(ErrCodeInvalidQuery, message, nil)
}

// BackendUnavailable marks a single retrieval backend as unreachable.
// These are absorbed by the orchestrator and surface only in diagnostics.
func BackendUnavailable(backend string, cause error) *RecallError {
	return New(ErrCodeBackendUnavailable, fmt.Sprintf("backend %s unavailable", backend), cause).
		WithDetail("backend", backend)
}

// AllBackendsFailed is the only fatal retrieval condition: every backend
// errored or timed out, distinct from a legitimate empty result.
func AllBackendsFailed(cause error) *RecallError {
	return New(ErrCodeAllBackendsFailed, "all retrieval backends failed", cause).
		WithSuggestion("check that the index exists (run 'recall index') and Ollama is running")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RecallError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a RecallError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RecallError); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RecallError); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RecallError.
// Returns empty string if not a RecallError.
func GetCode(err error) string {
	if re, ok := err.(*RecallError); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RecallError.
// Returns empty string if not a RecallError.
func GetCategory(err error) Category {
	if re, ok := err.(*RecallError); ok {
		return re.Category
	}
	return ""
}
