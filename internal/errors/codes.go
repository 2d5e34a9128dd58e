// Package errors provides structured error handling for loupe.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, parse, index writes)
//   - 3XX: Predictor/network errors
//   - 4XX: Validation errors (bad input, not found, conflict)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, parse, and index I/O errors.
	CategoryIO Category = "IO"
	// CategoryPredictor indicates external predictor and network errors.
	CategoryPredictor Category = "PREDICTOR"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeDataRoot       = "ERR_103_DATA_ROOT_UNREACHABLE"

	// IO errors (200-299)
	ErrCodeFileUnreadable = "ERR_201_FILE_UNREADABLE"
	ErrCodeFileTooLarge   = "ERR_202_FILE_TOO_LARGE"
	ErrCodeParseFailed    = "ERR_210_PARSE_FAILED"
	ErrCodeIndexWrite     = "ERR_220_INDEX_WRITE_FAILED"
	ErrCodeCorruptIndex   = "ERR_230_CORRUPT_INDEX"
	ErrCodeSchemaMismatch = "ERR_231_SCHEMA_MISMATCH"

	// Predictor errors (300-399)
	ErrCodePredictorTimeout     = "ERR_301_PREDICTOR_TIMEOUT"
	ErrCodePredictorUnavailable = "ERR_302_PREDICTOR_UNAVAILABLE"
	ErrCodeEmbeddingFailed      = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeNotFound          = "ERR_404_NOT_FOUND"
	ErrCodeConflict          = "ERR_405_CONFLICT"
	ErrCodeInvalidPath       = "ERR_406_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal  = "ERR_501_INTERNAL"
	ErrCodeCancelled = "ERR_510_CANCELLED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
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
		return CategoryPredictor
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeSchemaMismatch, ErrCodeDataRoot:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodePredictorTimeout, ErrCodePredictorUnavailable, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
