package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("original error")

	// When: wrapping with RepoError
	repoErr := New(ErrCodeFileNotFound, "file not found: index_meta.json", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, repoErr)
	assert.Equal(t, originalErr, errors.Unwrap(repoErr))
	assert.True(t, errors.Is(repoErr, originalErr))
}

func TestRepoError_Error_ReturnsFormattedMessage(t *testing.T) {
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
			name:     "merge error",
			code:     ErrCodeIndexMergeFailed,
			message:  "index merge failed",
			expected: "[ERR_506_INDEX_MERGE_FAILED] index merge failed",
		},
		{
			name:     "storage error",
			code:     ErrCodePathOutsideStorage,
			message:  "path navigation out of allowed scope: ../etc",
			expected: "[ERR_207_PATH_OUTSIDE_STORAGE] path navigation out of allowed scope: ../etc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestRepoError_Is_MatchesByCode(t *testing.T) {
	// Given: two errors with same code
	err1 := New(ErrCodeIndexMergeFailed, "group a failed", nil)
	err2 := New(ErrCodeIndexMergeFailed, "group b failed", nil)

	// Then: they match by code
	assert.True(t, errors.Is(err1, err2))
	assert.True(t, errors.Is(err1, Sentinel(ErrCodeIndexMergeFailed)))
}

func TestRepoError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeIndexMergeFailed, "merge failed", nil)
	err2 := New(ErrCodePackFailed, "pack failed", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestRepoError_Is_MatchesThroughFmtWrapping(t *testing.T) {
	// Given: a RepoError wrapped by fmt.Errorf
	inner := New(ErrCodeLockFailed, "lock busy", nil)
	outer := fmt.Errorf("write descriptor: %w", inner)

	// Then: code helpers see through the wrapping
	assert.True(t, errors.Is(outer, Sentinel(ErrCodeLockFailed)))
	assert.Equal(t, ErrCodeLockFailed, GetCode(outer))
	assert.Equal(t, CategoryIO, GetCategory(outer))
	assert.True(t, IsRetryable(outer))
}

func TestRepoError_WithDetails_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil)

	err = err.WithDetail("path", "/data/merged/g1")
	err = err.WithDetail("index_id", "g1")

	assert.Equal(t, "/data/merged/g1", err.Details["path"])
	assert.Equal(t, "g1", err.Details["index_id"])
}

func TestRepoError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "unknown repository type", nil)

	err = err.WithSuggestion("Use one of: maven, npm, generic")

	assert.Equal(t, "Use one of: maven, npm, generic", err.Suggestion)
}

func TestRepoError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodePathOutsideStorage, CategoryIO},
		{ErrCodeLockFailed, CategoryIO},
		{ErrCodeInvalidRequest, CategoryValidation},
		{ErrCodeUnsupportedType, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeIndexMergeFailed, CategoryInternal},
		{ErrCodeCleanupFailed, CategoryInternal},
		{"BAD", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestRepoError_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeCorruptIndex, SeverityFatal},
		{ErrCodeDiskFull, SeverityFatal},
		{ErrCodeFileNotFound, SeverityError},
		{ErrCodePackFailed, SeverityError},
		{ErrCodeCleanupFailed, SeverityWarning},
		{ErrCodeIndexMergeFailed, SeverityWarning}, // Retryable, so warning
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestWrap_CreatesRepoErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	repoErr := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, repoErr)
	assert.Equal(t, ErrCodeInternal, repoErr.Code)
	assert.Equal(t, "something went wrong", repoErr.Message)
	assert.Equal(t, originalErr, repoErr.Cause)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestMergeFailed_CarriesGroupAndCause(t *testing.T) {
	// Given: an I/O cause
	cause := errors.New("disk quota exceeded")

	// When: building the merge failure
	err := MergeFailed("g1", cause)

	// Then: it is retryable, carries the group and unwraps to the cause
	assert.Equal(t, ErrCodeIndexMergeFailed, err.Code)
	assert.Equal(t, "g1", err.Details["group_id"])
	assert.Contains(t, err.Message, "disk quota exceeded")
	assert.Contains(t, err.Error(), `group "g1"`)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, err.Retryable)
}

func TestMergeFailed_NilCauseNamesGroup(t *testing.T) {
	err := MergeFailed("com.acme", nil)

	assert.Equal(t, `index merge failed for group "com.acme"`, err.Message)
}

func TestHelpers_CreateExpectedCategories(t *testing.T) {
	assert.Equal(t, CategoryConfig, ConfigError("invalid yaml syntax", nil).Category)
	assert.Equal(t, CategoryIO, IOError("cannot read file", nil).Category)
	assert.Equal(t, CategoryValidation, ValidationError("group id is empty", nil).Category)
	assert.Equal(t, CategoryInternal, InternalError("unexpected", nil).Category)
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"corrupt index", New(ErrCodeCorruptIndex, "index corrupt", nil), true},
		{"disk full", New(ErrCodeDiskFull, "no space left", nil), true},
		{"non-fatal", New(ErrCodeFileNotFound, "not found", nil), false},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
