package errors

import (
	stderrors "errors"
	"fmt"
)

// RepoError is the structured error type for AmanRepo.
// It provides rich context for error handling, logging, and user presentation.
type RepoError struct {
	// Code is the unique error code (e.g., "ERR_506_INDEX_MERGE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
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
func (e *RepoError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RepoError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RepoError.
func (e *RepoError) Is(target error) bool {
	if t, ok := target.(*RepoError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RepoError) WithDetail(key, value string) *RepoError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RepoError) WithSuggestion(suggestion string) *RepoError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RepoError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RepoError {
	return &RepoError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RepoError from an existing error.
// The error's message becomes the RepoError message.
func Wrap(code string, err error) *RepoError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel returns a RepoError carrying only a code, for use as an errors.Is target.
func Sentinel(code string) *RepoError {
	return &RepoError{Code: code}
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RepoError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *RepoError {
	return New(ErrCodeFileNotFound, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RepoError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RepoError {
	return New(ErrCodeInternal, message, cause)
}

// MergeFailed creates the error surfaced by a failed group index merge.
// The group and cause are attached so a caller can log and retry.
func MergeFailed(groupID string, cause error) *RepoError {
	msg := fmt.Sprintf("index merge failed for group %q", groupID)
	if cause != nil {
		msg = fmt.Sprintf("index merge failed for group %q: %s", groupID, cause.Error())
	}
	return New(ErrCodeIndexMergeFailed, msg, cause).WithDetail("group_id", groupID)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains a RepoError with Retryable set.
func IsRetryable(err error) bool {
	if ae, ok := as(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if ae, ok := as(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first RepoError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ae, ok := as(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first RepoError in the chain.
func GetCategory(err error) Category {
	if ae, ok := as(err); ok {
		return ae.Category
	}
	return ""
}

func as(err error) (*RepoError, bool) {
	if err == nil {
		return nil, false
	}
	var ae *RepoError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
