package errors

import (
	"fmt"
)

// QuiverError is the structured error type for quiver.
// It provides rich context for error handling, logging, and user presentation.
type QuiverError struct {
	// Code is the unique error code (e.g., "ERR_402_DIMENSION_MISMATCH").
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
func (e *QuiverError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QuiverError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with QuiverError.
func (e *QuiverError) Is(target error) bool {
	if t, ok := target.(*QuiverError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *QuiverError) WithDetail(key, value string) *QuiverError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *QuiverError) WithSuggestion(suggestion string) *QuiverError {
	e.Suggestion = suggestion
	return e
}

// New creates a new QuiverError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QuiverError {
	return &QuiverError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new QuiverError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *QuiverError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a QuiverError from an existing error.
// The error's message becomes the QuiverError message.
func Wrap(code string, err error) *QuiverError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IsCode reports whether err is a QuiverError carrying the given code
// anywhere in its chain.
func IsCode(err error, code string) bool {
	for err != nil {
		if qe, ok := err.(*QuiverError); ok && qe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a QuiverError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QuiverError); ok {
		return qe.Retryable
	}
	return false
}

// GetCode extracts the error code from a QuiverError.
// Returns empty string if not a QuiverError.
func GetCode(err error) string {
	if qe, ok := err.(*QuiverError); ok {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category from a QuiverError.
// Returns empty string if not a QuiverError.
func GetCategory(err error) Category {
	if qe, ok := err.(*QuiverError); ok {
		return qe.Category
	}
	return ""
}
