// Package errors provides structured error handling for AmanRepo.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, locks)
//   - 4XX: Validation errors
//   - 5XX: Internal errors (merge, pack, cleanup)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and lock errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates failures of the merge pipeline itself.
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

	// IO errors (200-299)
	ErrCodeFileNotFound       = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission     = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull           = "ERR_203_DISK_FULL"
	ErrCodeCorruptIndex       = "ERR_205_CORRUPT_INDEX"
	ErrCodePathOutsideStorage = "ERR_207_PATH_OUTSIDE_STORAGE"
	ErrCodeLockFailed         = "ERR_208_LOCK_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidRequest     = "ERR_407_INVALID_REQUEST"
	ErrCodeRepositoryNotFound = "ERR_408_REPOSITORY_NOT_FOUND"
	ErrCodeUnsupportedType    = "ERR_409_UNSUPPORTED_TYPE"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeIndexMergeFailed = "ERR_506_INDEX_MERGE_FAILED"
	ErrCodePackFailed       = "ERR_507_PACK_FAILED"
	ErrCodeCleanupFailed    = "ERR_508_CLEANUP_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// First digit of the numeric portion (e.g., "1" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull:
		return SeverityFatal
	case ErrCodeCleanupFailed:
		// Cleanup is best-effort; the temporary index is retired on a later pass.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// A failed merge releases its group, so the same request may be submitted again.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexMergeFailed, ErrCodeLockFailed:
		return true
	default:
		return false
	}
}
