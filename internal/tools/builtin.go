package tools

import (
	"time"

	"baton/internal/safety"
	"baton/internal/task"
	"baton/internal/workspace"
)

// BuiltinConfig carries the collaborators the builtin providers need.
type BuiltinConfig struct {
	FS             workspace.FS
	Auth           *safety.Authorizer
	Procs          *task.ProcRegistry
	WorkDir        string
	CommandTimeout time.Duration
	MaxResultChars int
	Headless       bool // disables launching external browsers
}

// Builtins assembles the builtin tool set. Order is the declaration
// order exposed to the model.
func Builtins(cfg BuiltinConfig) Set {
	return Set{
		Kind: KindBuiltin,
		Tools: []Tool{
			NewReadFileTool(cfg.FS),
			NewWriteFileTool(cfg.FS),
			NewListDirTool(cfg.FS),
			NewRunCommandTool(cfg.WorkDir, cfg.Auth, cfg.Procs, cfg.CommandTimeout, cfg.MaxResultChars),
			NewOpenBrowserPreviewTool(cfg.Headless),
			NewValidatePageTool(),
			NewGlobTool(cfg.FS, cfg.WorkDir),
		},
	}
}
