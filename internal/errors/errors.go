package errors

import (
	"fmt"
)

// VaultError is the structured error type for vaultrag.
// It provides rich context for error handling, logging, and user presentation.
type VaultError struct {
	// Code is the unique error code (e.g., "ERR_205_REGISTRY_CORRUPT").
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
func (e *VaultError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with VaultError.
func (e *VaultError) Is(target error) bool {
	if t, ok := target.(*VaultError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VaultError) WithDetail(key, value string) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *VaultError) WithSuggestion(suggestion string) *VaultError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VaultError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VaultError from an existing error.
// The error's message becomes the VaultError message.
func Wrap(code string, err error) *VaultError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VaultError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *VaultError {
	return New(ErrCodeFileNotFound, message, cause)
}

// RegistryCorruptionError creates a sync-registry corruption error.
// These are fatal for the running sync; callers fall back to a full resync.
func RegistryCorruptionError(message string, cause error) *VaultError {
	return New(ErrCodeRegistryCorrupt, message, cause)
}

// VectorStoreError creates a vector-store operation error.
func VectorStoreError(message string, cause error) *VaultError {
	return New(ErrCodeStoreFailed, message, cause)
}

// EmbeddingError creates an embedding-provider error.
// Embedding errors are typically retryable.
func EmbeddingError(message string, cause error) *VaultError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// LLMError creates a language-model provider error.
// LLM errors are typically retryable.
func LLMError(message string, cause error) *VaultError {
	return New(ErrCodeLLMFailed, message, cause)
}

// ParseError creates an error for unparseable model output.
// Callers usually recover with a fallback rather than fail.
func ParseError(message string, cause error) *VaultError {
	return New(ErrCodeParseFailed, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *VaultError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *VaultError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VaultError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a VaultError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ve, ok := err.(*VaultError); ok {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ve, ok := err.(*VaultError); ok {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a VaultError.
// Returns empty string if not a VaultError.
func GetCode(err error) string {
	if ve, ok := err.(*VaultError); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from a VaultError.
// Returns empty string if not a VaultError.
func GetCategory(err error) Category {
	if ve, ok := err.(*VaultError); ok {
		return ve.Category
	}
	return ""
}
