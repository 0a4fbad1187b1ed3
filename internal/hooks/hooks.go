// Package hooks runs user-configured shell commands around tool
// dispatches, e.g. a formatter after every write_file.
package hooks

import (
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Type says when a hook fires.
type Type string

const (
	// PreTool runs before a tool executes.
	PreTool Type = "pre_tool"
	// PostTool runs after a tool executes successfully.
	PostTool Type = "post_tool"
	// OnError runs when a tool fails.
	OnError Type = "on_error"
	// OnStart runs when the runtime starts.
	OnStart Type = "on_start"
	// OnExit runs when the runtime shuts down.
	OnExit Type = "on_exit"
)

// ParseType validates a config string.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case PreTool, PostTool, OnError, OnStart, OnExit:
		return Type(s), true
	}
	return "", false
}

// Hook is one configured hook.
type Hook struct {
	Name    string `yaml:"name"`
	Type    Type   `yaml:"type"`
	Match   string `yaml:"match,omitempty"` // tool name glob, empty matches all
	Command string `yaml:"command"`
	Enabled bool   `yaml:"enabled"`
}

// Matches reports whether the hook fires for this event. Match supports
// globs so "bridge__*" can target every tool from one bridge server.
func (h *Hook) Matches(hookType Type, toolName string) bool {
	if !h.Enabled || h.Type != hookType {
		return false
	}
	if h.Match == "" {
		return true
	}
	ok, err := doublestar.Match(h.Match, toolName)
	return err == nil && ok
}

// Context carries the dispatch data a hook command can reference.
type Context struct {
	ToolName   string
	ToolArgs   map[string]any
	ToolResult string
	ToolError  string
	WorkDir    string
	TaskID     string
}

// ExpandCommand substitutes dispatch variables into the hook command.
// Supported: ${TOOL_NAME}, ${TASK_ID}, ${WORK_DIR}, ${FILE} (the path
// argument), ${COMMAND}, ${PATTERN}, ${RESULT}, ${ERROR}, plus any
// environment variable.
func (c *Context) ExpandCommand(command string) string {
	result := command

	result = strings.ReplaceAll(result, "${TOOL_NAME}", c.ToolName)
	result = strings.ReplaceAll(result, "${TASK_ID}", c.TaskID)
	result = strings.ReplaceAll(result, "${WORK_DIR}", c.WorkDir)
	result = strings.ReplaceAll(result, "${RESULT}", c.ToolResult)
	result = strings.ReplaceAll(result, "${ERROR}", c.ToolError)

	if path, ok := c.ToolArgs["path"].(string); ok {
		result = strings.ReplaceAll(result, "${FILE}", path)
	}
	if cmd, ok := c.ToolArgs["command"].(string); ok {
		result = strings.ReplaceAll(result, "${COMMAND}", cmd)
	}
	if pattern, ok := c.ToolArgs["pattern"].(string); ok {
		result = strings.ReplaceAll(result, "${PATTERN}", pattern)
	}

	result = os.Expand(result, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return ""
	})

	return result
}
