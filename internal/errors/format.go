package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output: a clean one-line message
// plus a hint and the error code, matching the CLI error-surface design
// ("clean one-line error plus a reference to a rotating error log").
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ke, ok := err.(*KeepError)
	if !ok {
		ke = Wrap(KindInvalid, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ke.Message))
	if ke.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ke.Suggestion))
	}
	if len(ke.ValidValues) > 0 {
		sb.WriteString(fmt.Sprintf("  Valid values: %s\n", strings.Join(ke.ValidValues, ", ")))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ke.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Kind        string            `json:"kind"`
	Severity    string            `json:"severity"`
	Details     map[string]string `json:"details,omitempty"`
	Suggestion  string            `json:"suggestion,omitempty"`
	ValidValues []string          `json:"valid_values,omitempty"`
	Cause       string            `json:"cause,omitempty"`
	Retryable   bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, for MCP/daemon
// machine consumption.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ke, ok := err.(*KeepError)
	if !ok {
		ke = Wrap(KindInvalid, err)
	}

	je := jsonError{
		Code:        ke.Code,
		Message:     ke.Message,
		Kind:        string(ke.Kind),
		Severity:    string(ke.Severity),
		Details:     ke.Details,
		Suggestion:  ke.Suggestion,
		ValidValues: ke.ValidValues,
		Retryable:   ke.Retryable,
	}
	if ke.Cause != nil {
		je.Cause = ke.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging as slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ke, ok := err.(*KeepError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": ke.Code,
		"message":    ke.Message,
		"kind":       string(ke.Kind),
		"severity":   string(ke.Severity),
		"retryable":  ke.Retryable,
	}
	if ke.Cause != nil {
		result["cause"] = ke.Cause.Error()
	}
	if ke.Suggestion != "" {
		result["suggestion"] = ke.Suggestion
	}
	for k, v := range ke.Details {
		result["detail_"+k] = v
	}
	return result
}
