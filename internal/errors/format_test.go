package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_FormatsMessage(t *testing.T) {
	err := New(KindCorruption, "index is corrupted", nil).
		WithSuggestion("Run 'keep reconcile --fix' to rebuild")

	result := FormatForCLI(err)

	assert.Contains(t, result, "index is corrupted")
	assert.Contains(t, result, "ERR_KEEP_CORRUPTION")
	assert.Contains(t, result, "reconcile --fix")
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := New(KindNotFound, "document not found", nil)
	result := FormatForCLI(err)

	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "should be concise")
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(KindIO, "file not found", nil).
		WithDetail("path", "/foo/bar.txt").
		WithSuggestion("Check the file path")

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "ERR_KEEP_IO", result["code"])
	assert.Equal(t, "file not found", result["message"])
	assert.Equal(t, string(KindIO), result["kind"])
	assert.Equal(t, "Check the file path", result["suggestion"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/foo/bar.txt", details["path"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)
	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(KindIO, "operation failed", cause)

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForLog_IncludesDetails(t *testing.T) {
	err := New(KindInvalid, "bad tag key", nil).WithDetail("key", "1bad")
	attrs := FormatForLog(err)

	assert.Equal(t, "ERR_KEEP_INVALID", attrs["error_code"])
	assert.Equal(t, "1bad", attrs["detail_key"])
}
