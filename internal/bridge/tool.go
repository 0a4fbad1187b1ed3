package bridge

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"baton/internal/tools"
)

// serverTool exposes one remote tool under its namespaced name.
type serverTool struct {
	conn        *Conn
	remoteName  string // name on the server side
	displayName string // <server>__<tool>, sanitized
	description string
	schema      *Schema
	declaration *genai.FunctionDeclaration
}

func newServerTool(conn *Conn, info *ToolInfo) *serverTool {
	display := tools.SanitizeName(fmt.Sprintf("%s__%s", conn.Server(), info.Name))
	return &serverTool{
		conn:        conn,
		remoteName:  info.Name,
		displayName: display,
		description: info.Description,
		schema:      info.InputSchema,
		declaration: &genai.FunctionDeclaration{
			Name:        display,
			Description: info.Description,
			Parameters:  toGenaiSchema(info.InputSchema),
		},
	}
}

func (t *serverTool) Name() string        { return t.displayName }
func (t *serverTool) Description() string { return t.description }

func (t *serverTool) Declaration() *genai.FunctionDeclaration { return t.declaration }

// Validate checks required fields and primitive types against the
// server's advertised schema before anything crosses the pipe.
func (t *serverTool) Validate(args map[string]any) error {
	if t.schema == nil {
		return nil
	}
	for _, name := range t.schema.Required {
		if _, ok := args[name]; !ok {
			return tools.NewValidationError(name, "is required")
		}
	}
	for name, prop := range t.schema.Properties {
		val, ok := args[name]
		if !ok {
			continue
		}
		if err := checkType(name, val, prop); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, val any, schema *Schema) error {
	switch schema.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return tools.NewValidationError(name, "must be a string")
		}
	case "number", "integer":
		switch val.(type) {
		case int, int64, float64:
		default:
			return tools.NewValidationError(name, "must be a number")
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return tools.NewValidationError(name, "must be a boolean")
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return tools.NewValidationError(name, "must be an array")
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return tools.NewValidationError(name, "must be an object")
		}
	}
	return nil
}

func (t *serverTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	result, err := t.conn.CallTool(ctx, t.remoteName, args)
	if err != nil {
		return tools.NewErrorResult(err.Error()), nil
	}
	text := result.Text()
	if result.IsError {
		return tools.NewErrorResult(text), nil
	}
	return tools.NewSuccessResultWithData(text, map[string]any{
		"bridge_server": t.conn.Server(),
		"bridge_tool":   t.remoteName,
	}), nil
}

// toGenaiSchema maps the wire schema onto the declaration type the
// backend understands. Unknown types degrade to string.
func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	out := &genai.Schema{Description: s.Description}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
		out.Enum = s.Enum
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		out.Items = toGenaiSchema(s.Items)
	case "object":
		out.Type = genai.TypeObject
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				out.Properties[name] = toGenaiSchema(prop)
			}
		}
		out.Required = s.Required
	default:
		out.Type = genai.TypeString
	}
	return out
}
