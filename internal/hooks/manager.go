package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"baton/internal/logging"
)

// Result is one hook execution's outcome.
type Result struct {
	Hook    *Hook
	Output  string
	Err     error
	Elapsed time.Duration
}

// Manager holds the configured hooks and executes the matching ones.
type Manager struct {
	mu      sync.RWMutex
	enabled bool
	hooks   []*Hook
	workDir string
	timeout time.Duration
}

// NewManager builds a manager. Hooks are added separately so the
// runtime can reload them on config changes.
func NewManager(enabled bool, workDir string) *Manager {
	return &Manager{
		enabled: enabled,
		workDir: workDir,
		timeout: 30 * time.Second,
	}
}

// SetTimeout overrides the per-hook execution timeout.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.timeout = d
	}
}

// Replace swaps the hook set atomically.
func (m *Manager) Replace(hooks []*Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = hooks
}

// Add appends a hook.
func (m *Manager) Add(hook *Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Hooks returns a copy of the current set.
func (m *Manager) Hooks() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Hook, len(m.hooks))
	copy(out, m.hooks)
	return out
}

// Run executes every enabled hook matching the event. Hook failures are
// logged, never propagated; a broken formatter must not fail the tool
// dispatch that triggered it.
func (m *Manager) Run(ctx context.Context, hookType Type, hctx *Context) []Result {
	m.mu.RLock()
	enabled, hooks, timeout := m.enabled, m.hooks, m.timeout
	m.mu.RUnlock()
	if !enabled {
		return nil
	}
	if hctx.WorkDir == "" {
		hctx.WorkDir = m.workDir
	}

	var results []Result
	for _, hook := range hooks {
		if !hook.Matches(hookType, hctx.ToolName) {
			continue
		}
		res := m.execute(ctx, hook, hctx, timeout)
		if res.Err != nil {
			logging.Warn("hook failed", "hook", hook.Name, "error", res.Err)
		}
		results = append(results, res)
	}
	return results
}

// RunPreTool fires pre_tool hooks for a dispatch.
func (m *Manager) RunPreTool(ctx context.Context, taskID, toolName string, args map[string]any) []Result {
	return m.Run(ctx, PreTool, &Context{ToolName: toolName, ToolArgs: args, TaskID: taskID})
}

// RunPostTool fires post_tool hooks after a successful dispatch.
func (m *Manager) RunPostTool(ctx context.Context, taskID, toolName string, args map[string]any, result string) []Result {
	return m.Run(ctx, PostTool, &Context{ToolName: toolName, ToolArgs: args, TaskID: taskID, ToolResult: result})
}

// RunOnError fires on_error hooks after a failed dispatch.
func (m *Manager) RunOnError(ctx context.Context, taskID, toolName string, args map[string]any, errMsg string) []Result {
	return m.Run(ctx, OnError, &Context{ToolName: toolName, ToolArgs: args, TaskID: taskID, ToolError: errMsg})
}

// RunOnStart fires on_start hooks.
func (m *Manager) RunOnStart(ctx context.Context) []Result {
	return m.Run(ctx, OnStart, &Context{})
}

// RunOnExit fires on_exit hooks.
func (m *Manager) RunOnExit(ctx context.Context) []Result {
	return m.Run(ctx, OnExit, &Context{})
}

func (m *Manager) execute(ctx context.Context, hook *Hook, hctx *Context, timeout time.Duration) Result {
	start := time.Now()
	command := hctx.ExpandCommand(hook.Command)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = hctx.WorkDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return Result{
			Hook:    hook,
			Err:     fmt.Errorf("cannot start hook %q: %w", hook.Name, err),
			Elapsed: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-execCtx.Done():
		terminate(cmd, 2*time.Second)
		<-done
		return Result{
			Hook:    hook,
			Output:  out.String(),
			Err:     fmt.Errorf("hook %q cancelled: %w", hook.Name, execCtx.Err()),
			Elapsed: time.Since(start),
		}
	}

	if waitErr != nil {
		waitErr = fmt.Errorf("hook %q failed: %w", hook.Name, waitErr)
	}
	return Result{
		Hook:    hook,
		Output:  out.String(),
		Err:     waitErr,
		Elapsed: time.Since(start),
	}
}

// terminate asks the process to exit with SIGTERM, escalating to SIGKILL
// after the grace period.
func terminate(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		return
	}
	time.Sleep(grace)
	cmd.Process.Kill()
}
