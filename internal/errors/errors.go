// Package errors provides a lightweight structured error type (EdgedError)
// for category-based classification and retry semantics across the runtime.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an edged error for classification.
type ErrorCategory string

const (
	// Validation-time errors surfaced synchronously to the submitter.
	CategoryConfig     ErrorCategory = "config"
	CategoryRecipe     ErrorCategory = "recipe"
	CategoryDependency ErrorCategory = "dependency"

	// Runtime errors handled by local retry/backoff or deployment policy.
	CategoryLifecycle  ErrorCategory = "lifecycle"
	CategoryBootstrap  ErrorCategory = "bootstrap"
	CategoryDeployment ErrorCategory = "deployment"

	// Infrastructure errors.
	CategoryStorage  ErrorCategory = "storage"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the activation
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// EdgedError is a structured error with category, retryability, and context.
type EdgedError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for EdgedError.
type ContextFields map[string]any

// Error implements the error interface.
func (e *EdgedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling.
func (e *EdgedError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *EdgedError) WithContext(key string, value any) *EdgedError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new EdgedError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *EdgedError {
	return &EdgedError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new EdgedError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *EdgedError {
	return &EdgedError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// Retryable creates a new retryable EdgedError.
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *EdgedError {
	return &EdgedError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}
