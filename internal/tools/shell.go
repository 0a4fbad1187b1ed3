package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"baton/internal/logging"
	"baton/internal/safety"
	"baton/internal/task"
)

const defaultCommandTimeout = 2 * time.Minute

// safeEnvVars is the allow-list of environment variables passed to spawned
// commands, so API keys and other secrets never leak into child processes.
var safeEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM", "LANG", "LC_ALL", "LC_CTYPE",
	"TMPDIR", "TMP", "TEMP", "EDITOR", "PAGER",
	"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME", "XDG_RUNTIME_DIR",
	"GOPATH", "GOROOT", "GOPROXY", "GOFLAGS",
	"NODE_PATH", "NPM_CONFIG_PREFIX",
	"PYTHONPATH", "VIRTUAL_ENV",
	"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL",
}

// serverPatterns detect commands that start a long-running dev server.
var serverPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bnpm\s+(run\s+)?(dev|start|serve)\b`),
	regexp.MustCompile(`\b(yarn|pnpm|bun)\s+(run\s+)?(dev|start|serve)\b`),
	regexp.MustCompile(`\bvite(\s|$)`),
	regexp.MustCompile(`\bnext\s+dev\b`),
	regexp.MustCompile(`\bnode\s+\S*serv`),
	regexp.MustCompile(`\bpython3?\s+-m\s+http\.server\b`),
	regexp.MustCompile(`\bflask\s+run\b`),
	regexp.MustCompile(`\brails\s+s(erver)?\b`),
}

var portFlagRe = regexp.MustCompile(`(?:--port[ =]|-p )(\d{2,5})`)

// defaultServerPorts maps server tooling to its conventional port when the
// command does not name one.
var defaultServerPorts = []struct {
	marker string
	port   int
}{
	{"vite", 5173},
	{"next", 3000},
	{"npm", 3000},
	{"yarn", 3000},
	{"pnpm", 3000},
	{"http.server", 8000},
	{"flask", 5000},
	{"rails", 3000},
}

// RunCommandTool executes shell commands inside the workspace. Commands that
// look like dev servers are started detached, registered in the process
// registry, and left running; everything else runs to completion under the
// tool timeout.
type RunCommandTool struct {
	workDir string
	auth    *safety.Authorizer
	procs   *task.ProcRegistry
	timeout time.Duration
	maxOut  int

	// stabilization window for captured server output before returning
	serverWindow time.Duration
}

// NewRunCommandTool creates a run_command tool rooted at workDir.
func NewRunCommandTool(workDir string, auth *safety.Authorizer, procs *task.ProcRegistry, timeout time.Duration, maxOut int) *RunCommandTool {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if maxOut <= 0 {
		maxOut = 30000
	}
	return &RunCommandTool{
		workDir:      workDir,
		auth:         auth,
		procs:        procs,
		timeout:      timeout,
		maxOut:       maxOut,
		serverWindow: 1500 * time.Millisecond,
	}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Executes a shell command in the workspace and returns its combined output. " +
		"Dev-server commands are started in the background and reported with their port."
}

func (t *RunCommandTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"command": {
					Type:        genai.TypeString,
					Description: "The shell command to execute",
				},
				"cwd": {
					Type:        genai.TypeString,
					Description: "Working directory for the command. Optional.",
				},
			},
			Required: []string{"command"},
		},
	}
}

func (t *RunCommandTool) Validate(args map[string]any) error {
	if c, ok := GetString(args, "command"); !ok || strings.TrimSpace(c) == "" {
		return NewValidationError("command", "is required")
	}
	return nil
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	command, _ := GetString(args, "command")
	cwd, err := t.resolveCwd(args)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}

	if IsServerCommand(command) {
		return t.startServer(ctx, command, cwd)
	}
	return t.runForeground(ctx, command, cwd)
}

func (t *RunCommandTool) resolveCwd(args map[string]any) (string, error) {
	cwd := GetStringDefault(args, "cwd", t.workDir)
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(t.workDir, cwd)
	}
	resolved, err := t.auth.Authorize(cwd)
	if err != nil {
		return "", fmt.Errorf("working directory not authorized: %s", err)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("working directory does not exist: %s", cwd)
	}
	return resolved, nil
}

func (t *RunCommandTool) runForeground(ctx context.Context, command, cwd string) (ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	cmd.Dir = cwd
	cmd.Env = buildSafeEnv()
	setProcAttr(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	started := time.Now()
	err := cmd.Run()
	output := truncateOutput(out.String(), t.maxOut)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		return NewErrorResult(fmt.Sprintf("command timed out after %s\n%s", t.timeout, output)), nil
	case ctx.Err() != nil:
		return NewErrorResult("command cancelled"), nil
	case err != nil:
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		msg := fmt.Sprintf("command failed (exit %d)", exitCode)
		if output != "" {
			msg += "\n" + output
		}
		return NewErrorResult(msg), nil
	}

	logging.Debug("command finished", "command", command, "elapsed", time.Since(started).Round(time.Millisecond))
	if output == "" {
		output = "(no output)"
	}
	return NewSuccessResultWithData(output, map[string]any{"exit_code": 0}), nil
}

// startServer launches a dev server detached, captures a short stabilization
// window of output, and registers the process for later signalling.
func (t *RunCommandTool) startServer(ctx context.Context, command, cwd string) (ToolResult, error) {
	// Deliberately not CommandContext: the server must outlive this
	// dispatch and is stopped through the process registry instead.
	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = cwd
	cmd.Env = buildSafeEnv()
	setProcAttr(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return NewErrorResult(fmt.Sprintf("cannot start server: %s", err)), nil
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		output := truncateOutput(out.String(), t.maxOut)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("server exited immediately: %s\n%s", err, output)), nil
		}
		return NewErrorResult(fmt.Sprintf("server exited immediately\n%s", output)), nil
	case <-ctx.Done():
		cmd.Process.Kill()
		return NewErrorResult("command cancelled"), nil
	case <-time.After(t.serverWindow):
	}

	port := DetectPort(command)
	taskID := TaskIDFromContext(ctx)
	t.procs.Register(taskID, cmd.Process, port, command)
	go func() {
		// Reap the process when it eventually exits.
		<-exited
		t.procs.Unregister(cmd.Process.Pid)
	}()

	url := ""
	if port > 0 {
		url = fmt.Sprintf("http://localhost:%d", port)
	}
	summary := fmt.Sprintf("Dev server started (pid %d", cmd.Process.Pid)
	if url != "" {
		summary += fmt.Sprintf(", %s", url)
	}
	summary += ")"
	if captured := strings.TrimSpace(out.String()); captured != "" {
		summary += "\n" + truncateOutput(captured, 2000)
	}

	return NewSuccessResultWithData(summary, map[string]any{
		"server": true,
		"pid":    cmd.Process.Pid,
		"port":   port,
		"url":    url,
	}), nil
}

// IsServerCommand reports whether command matches a known dev-server shape.
func IsServerCommand(command string) bool {
	for _, re := range serverPatterns {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// DetectPort extracts the port a server command will listen on, falling back
// to the tooling's conventional default. Returns 0 when unknown.
func DetectPort(command string) int {
	if m := portFlagRe.FindStringSubmatch(command); m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil {
			return p
		}
	}
	for _, d := range defaultServerPorts {
		if strings.Contains(command, d.marker) {
			return d.port
		}
	}
	return 0
}

func buildSafeEnv() []string {
	env := make([]string, 0, len(safeEnvVars))
	hasPath, hasTerm := false, false
	for _, key := range safeEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
			switch key {
			case "PATH":
				hasPath = true
			case "TERM":
				hasTerm = true
			}
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	return env
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n...(output truncated, %d of %d chars shown)", max, len(s))
}

// taskIDKey carries the dispatching task id to tools that need it.
type taskIDKey struct{}

// ContextWithTaskID tags ctx with the id of the task driving the dispatch.
func ContextWithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext returns the dispatching task id, if any.
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
