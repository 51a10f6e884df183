package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")
	keepErr := New(KindIO, "file not found: test.txt", originalErr)

	require.NotNil(t, keepErr)
	assert.Equal(t, originalErr, errors.Unwrap(keepErr))
	assert.True(t, errors.Is(keepErr, originalErr))
}

func TestKeepError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(KindNotFound, "document not found", nil)
	assert.Equal(t, "[ERR_KEEP_NOT_FOUND] document not found", err.Error())
}

func TestKeepError_Is_MatchesByCode(t *testing.T) {
	err1 := New(KindNotFound, "doc A not found", nil)
	err2 := New(KindNotFound, "doc B not found", nil)
	assert.True(t, errors.Is(err1, err2))
}

func TestKeepError_Is_DoesNotMatchDifferentKinds(t *testing.T) {
	err1 := New(KindNotFound, "not found", nil)
	err2 := New(KindInvalid, "invalid", nil)
	assert.False(t, errors.Is(err1, err2))
}

func TestKeepError_WithDetails_AddsContext(t *testing.T) {
	err := New(KindIO, "file not found", nil)
	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestKeepError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(KindProviderTransient, "connection timed out", nil)
	err = err.WithSuggestion("Check your network connection")
	assert.Equal(t, "Check your network connection", err.Suggestion)
}

func TestKeepError_WithValidValues(t *testing.T) {
	err := Constrained("status", "bogus", []string{"open", "closed"})
	assert.Equal(t, []string{"open", "closed"}, err.ValidValues)
	assert.Equal(t, KindConstrained, err.Kind)
}

func TestKeepError_SeverityByKind(t *testing.T) {
	tests := []struct {
		kind         Kind
		wantSeverity Severity
	}{
		{KindCorruption, SeverityFatal},
		{KindNotFound, SeverityError},
		{KindProviderTransient, SeverityWarning},
		{KindRemoteRejected, SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestKeepError_RetryableByKind(t *testing.T) {
	tests := []struct {
		kind          Kind
		wantRetryable bool
	}{
		{KindProviderTransient, true},
		{KindNotFound, false},
		{KindCorruption, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesKeepErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")
	wrapped := Wrap(KindIO, originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, "something went wrong", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
}

func TestNotFound_CarriesID(t *testing.T) {
	err := NotFound("doc-1")
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, "doc-1", err.Details["id"])
}

func TestProviderTransient_IsRetryable(t *testing.T) {
	err := ProviderTransient("connection refused", nil)
	assert.True(t, err.Retryable)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable KeepError", New(KindProviderTransient, "timeout", nil), true},
		{"non-retryable KeepError", New(KindNotFound, "not found", nil), false},
		{"wrapped retryable error", Wrap(KindProviderTransient, errors.New("wrapped")), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
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
		{"fatal error", New(KindCorruption, "db corrupt", nil), true},
		{"non-fatal error", New(KindNotFound, "not found", nil), false},
		{"standard error", errors.New("standard error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}
