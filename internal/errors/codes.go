// Package errors provides structured error handling for vaultrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, registry)
//   - 3XX: Network errors (embedding, LLM, vector store services)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeAPIKeyInvalid  = "ERR_103_API_KEY_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound    = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission  = "ERR_202_FILE_PERMISSION"
	ErrCodeVaultNotFound   = "ERR_203_VAULT_NOT_FOUND"
	ErrCodeFileTooLarge    = "ERR_204_FILE_TOO_LARGE"
	ErrCodeRegistryCorrupt = "ERR_205_REGISTRY_CORRUPT"
	ErrCodeStoreCorrupt    = "ERR_206_STORE_CORRUPT"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeServiceUnavailable = "ERR_302_SERVICE_UNAVAILABLE"
	ErrCodeModelDownload      = "ERR_303_MODEL_DOWNLOAD"
	ErrCodeEmbeddingFailed    = "ERR_304_EMBEDDING_FAILED"
	ErrCodeLLMFailed          = "ERR_305_LLM_FAILED"
	ErrCodeRerankFailed       = "ERR_306_RERANK_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidWeights    = "ERR_403_INVALID_WEIGHTS"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath       = "ERR_405_INVALID_PATH"
	ErrCodeSyncInProgress    = "ERR_406_SYNC_IN_PROGRESS"
	ErrCodeSessionNotFound   = "ERR_407_SESSION_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodeParseFailed    = "ERR_502_PARSE_FAILED"
	ErrCodeSearchFailed   = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed = "ERR_504_CHUNKING_FAILED"
	ErrCodeStoreFailed    = "ERR_505_STORE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "205" from "ERR_205_REGISTRY_CORRUPT")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Corruption must abort the operation that found it.
	switch code {
	case ErrCodeRegistryCorrupt, ErrCodeStoreCorrupt:
		return SeverityFatal
	}

	// Retryable network errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeServiceUnavailable, ErrCodeModelDownload,
		ErrCodeEmbeddingFailed, ErrCodeLLMFailed, ErrCodeRerankFailed:
		return true
	default:
		return false
	}
}
