package errors

import (
	stderrors "errors"
	"fmt"
)

// LoupeError is the structured error type for loupe.
// It provides rich context for error handling, logging, and user presentation.
type LoupeError struct {
	// Code is the unique error code (e.g., "ERR_210_PARSE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Predictor, etc.).
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
func (e *LoupeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LoupeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LoupeError.
func (e *LoupeError) Is(target error) bool {
	if t, ok := target.(*LoupeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LoupeError) WithDetail(key, value string) *LoupeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LoupeError) WithSuggestion(suggestion string) *LoupeError {
	e.Suggestion = suggestion
	return e
}

// Sentinel errors for errors.Is checks. Matching is by code, so any
// LoupeError carrying the same code satisfies Is against these.
var (
	ErrNotFound  = New(ErrCodeNotFound, "not found", nil)
	ErrConflict  = New(ErrCodeConflict, "conflicting operation in progress", nil)
	ErrCancelled = New(ErrCodeCancelled, "stopped", nil)
)

// New creates a new LoupeError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LoupeError {
	return &LoupeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LoupeError from an existing error.
// The error's message becomes the LoupeError message.
func Wrap(code string, err error) *LoupeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Config creates a configuration-related error.
func Config(message string, cause error) *LoupeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// Validation creates a validation error for bad API input.
func Validation(message string, cause error) *LoupeError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFound creates a not-found error for a missing record.
func NotFound(kind string, id int64) *LoupeError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %d not found", kind, id), nil)
}

// Conflict creates a conflict error. The caller attaches the identifier of
// the already-running operation as a detail.
func Conflict(message string) *LoupeError {
	return New(ErrCodeConflict, message, nil)
}

// Parse creates a per-file parse error. Parse errors are recorded on the
// file record and never fail the surrounding job.
func Parse(message string, cause error) *LoupeError {
	return New(ErrCodeParseFailed, message, cause)
}

// Predictor creates an external-predictor error. Predictor errors are
// retryable and surface as service-unavailable at the API boundary.
func Predictor(message string, cause error) *LoupeError {
	return New(ErrCodePredictorUnavailable, message, cause)
}

// IndexWrite creates an error for a failed vector or full-text write.
// The file-level transaction is rolled back and the file stays pending.
func IndexWrite(message string, cause error) *LoupeError {
	return New(ErrCodeIndexWrite, message, cause)
}

// Cancelled creates the quiet cancellation error. Jobs interrupted by a
// stop request terminate with status failed and this message.
func Cancelled() *LoupeError {
	return New(ErrCodeCancelled, "stopped", nil)
}

// Fatal creates an unrecoverable error that aborts the runner.
func Fatal(code string, message string, cause error) *LoupeError {
	e := New(code, message, cause)
	e.Severity = SeverityFatal
	return e
}

// Internal creates an internal error.
func Internal(message string, cause error) *LoupeError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable. Wrapped LoupeErrors are
// unwrapped first.
func IsRetryable(err error) bool {
	var le *LoupeError
	if stderrors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current job rather than being isolated per file.
func IsFatal(err error) bool {
	var le *LoupeError
	if stderrors.As(err, &le) {
		return le.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a LoupeError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var le *LoupeError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ""
}

// GetCategory extracts the category from a LoupeError anywhere in the
// chain. Returns empty string if there is none.
func GetCategory(err error) Category {
	var le *LoupeError
	if stderrors.As(err, &le) {
		return le.Category
	}
	return ""
}
