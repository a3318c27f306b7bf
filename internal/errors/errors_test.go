package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with VaultError
	vaultErr := New(ErrCodeFileNotFound, "file not found: note.md", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, vaultErr)
	assert.Equal(t, originalErr, errors.Unwrap(vaultErr))
	assert.True(t, errors.Is(vaultErr, originalErr))
}

func TestVaultError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "registry error",
			code:     ErrCodeRegistryCorrupt,
			message:  "registry is corrupt",
			expected: "[ERR_205_REGISTRY_CORRUPT] registry is corrupt",
		},
		{
			name:     "network error",
			code:     ErrCodeNetworkTimeout,
			message:  "request timed out",
			expected: "[ERR_301_NETWORK_TIMEOUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestVaultError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeFileNotFound, "file A not found", nil)
	err2 := New(ErrCodeFileNotFound, "file B not found", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
}

func TestVaultError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	// Given: two errors with different codes
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	// Then: they don't match
	assert.False(t, errors.Is(err1, err2))
}

func TestVaultError_WithDetails_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeFileNotFound, "file not found", nil)

	// When: adding details
	err = err.WithDetail("path", "notes/daily.md")
	err = err.WithDetail("size", "1024")

	// Then: details are available
	assert.Equal(t, "notes/daily.md", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestVaultError_WithSuggestion_AddsSuggestion(t *testing.T) {
	// Given: a network error
	err := New(ErrCodeNetworkTimeout, "connection timed out", nil)

	// When: adding suggestion
	err = err.WithSuggestion("Check that ollama is running")

	// Then: suggestion is available
	assert.Equal(t, "Check that ollama is running", err.Suggestion)
}

func TestVaultError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeAPIKeyInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeRegistryCorrupt, CategoryIO},
		{ErrCodeNetworkTimeout, CategoryNetwork},
		{ErrCodeEmbeddingFailed, CategoryNetwork},
		{ErrCodeLLMFailed, CategoryNetwork},
		{ErrCodeInvalidWeights, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeParseFailed, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestVaultError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeRegistryCorrupt, SeverityFatal},
		{ErrCodeStoreCorrupt, SeverityFatal},
		{ErrCodeFileNotFound, SeverityError},
		{ErrCodeNetworkTimeout, SeverityWarning}, // Retryable, so warning
		{ErrCodeEmbeddingFailed, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestVaultError_RetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeNetworkTimeout, true},
		{ErrCodeServiceUnavailable, true},
		{ErrCodeModelDownload, true},
		{ErrCodeEmbeddingFailed, true},
		{ErrCodeLLMFailed, true},
		{ErrCodeFileNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeRegistryCorrupt, false},
		{ErrCodeParseFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesVaultErrorFromError(t *testing.T) {
	// Given: a standard error
	originalErr := errors.New("something went wrong")

	// When: wrapping with a code
	vaultErr := Wrap(ErrCodeInternal, originalErr)

	// Then: creates proper VaultError
	require.NotNil(t, vaultErr)
	assert.Equal(t, ErrCodeInternal, vaultErr.Code)
	assert.Equal(t, "something went wrong", vaultErr.Message)
	assert.Equal(t, originalErr, vaultErr.Cause)
}

func TestWrap_NilError_ReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConstructors_ProduceExpectedCategories(t *testing.T) {
	tests := []struct {
		name          string
		err           *VaultError
		wantCategory  Category
		wantRetryable bool
	}{
		{"config", ConfigError("invalid yaml syntax", nil), CategoryConfig, false},
		{"io", IOError("cannot read file", nil), CategoryIO, false},
		{"registry corruption", RegistryCorruptionError("bad json", nil), CategoryIO, false},
		{"vector store", VectorStoreError("upsert failed", nil), CategoryInternal, false},
		{"embedding", EmbeddingError("embed failed", nil), CategoryNetwork, true},
		{"llm", LLMError("generation failed", nil), CategoryNetwork, true},
		{"parse", ParseError("bad model output", nil), CategoryInternal, false},
		{"network", NetworkError("connection refused", nil), CategoryNetwork, true},
		{"validation", ValidationError("query cannot be empty", nil), CategoryValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCategory, tt.err.Category)
			assert.Equal(t, tt.wantRetryable, tt.err.Retryable)
		})
	}
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable VaultError",
			err:      New(ErrCodeNetworkTimeout, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable VaultError",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeNetworkTimeout, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "registry corruption",
			err:      New(ErrCodeRegistryCorrupt, "registry corrupt", nil),
			expected: true,
		},
		{
			name:     "store corruption",
			err:      New(ErrCodeStoreCorrupt, "sidecar missing", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
