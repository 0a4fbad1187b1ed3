// Package tools defines the capability surface the model can call: the
// builtin file/shell/preview tools, the provider-kind registry merging
// builtin, skill, and bridge tools, and the dispatcher that routes tool-use
// blocks through the safety gate to their providers.
package tools

import (
	"context"

	"google.golang.org/genai"
)

// Tool is the uniform provider contract. Tools return descriptive errors as
// data inside ToolResult; an error from Execute means the provider itself
// broke, not that the operation failed.
type Tool interface {
	Name() string
	Description() string
	Declaration() *genai.FunctionDeclaration
	Validate(args map[string]any) error
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Content string
	Data    any
	Error   string
	Success bool
}

// NewSuccessResult creates a successful result with text content.
func NewSuccessResult(content string) ToolResult {
	return ToolResult{Content: content, Success: true}
}

// NewSuccessResultWithData attaches structured data to a successful result.
func NewSuccessResultWithData(content string, data any) ToolResult {
	return ToolResult{Content: content, Data: data, Success: true}
}

// NewErrorResult creates a failed result carrying an error message.
func NewErrorResult(errMsg string) ToolResult {
	return ToolResult{Error: errMsg, Success: false}
}

// ToMap converts the result into the function-response payload.
func (r ToolResult) ToMap() map[string]any {
	out := make(map[string]any)
	if r.Success {
		out["success"] = true
		if r.Content != "" {
			out["content"] = r.Content
		}
		if r.Data != nil {
			out["data"] = r.Data
		}
	} else {
		out["success"] = false
		out["error"] = r.Error
	}
	return out
}

// ValidationError reports a bad tool argument.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// GetString extracts a string argument.
func GetString(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// GetStringDefault extracts a string argument with a fallback.
func GetStringDefault(args map[string]any, key, fallback string) string {
	if v, ok := GetString(args, key); ok && v != "" {
		return v
	}
	return fallback
}

// GetInt extracts an integer argument. JSON decoding delivers numbers as
// float64, so both forms are accepted.
func GetInt(args map[string]any, key string) (int, bool) {
	val, ok := args[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// GetIntDefault extracts an integer argument with a fallback.
func GetIntDefault(args map[string]any, key string, fallback int) int {
	if v, ok := GetInt(args, key); ok {
		return v
	}
	return fallback
}

// GetBool extracts a boolean argument.
func GetBool(args map[string]any, key string) (bool, bool) {
	val, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}
