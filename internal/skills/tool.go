package skills

import (
	"context"

	"google.golang.org/genai"

	"baton/internal/tools"
)

// skillTool exposes one skill as an invocable tool. Execution returns the
// skill's instruction body; there is nothing to run locally.
type skillTool struct {
	skill Skill
}

func (t *skillTool) Name() string        { return t.skill.Name }
func (t *skillTool) Description() string { return t.skill.Description }

func (t *skillTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.skill.Name,
		Description: t.skill.Description,
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"task": {
					Type:        genai.TypeString,
					Description: "What the skill is being applied to, for context",
				},
			},
		},
	}
}

func (t *skillTool) Validate(args map[string]any) error { return nil }

func (t *skillTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	return tools.NewSuccessResult(t.skill.Instructions), nil
}
