package tools

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"baton/internal/safety"
	"baton/internal/task"
)

func newCommandTool(t *testing.T, timeout time.Duration) (*RunCommandTool, *task.ProcRegistry, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash not available")
	}
	root := t.TempDir()
	auth, err := safety.NewAuthorizer([]string{root}, safety.TrustStandard, nil)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	procs := task.NewProcRegistry()
	return NewRunCommandTool(root, auth, procs, timeout, 0), procs, root
}

func TestRunCommandCapturesOutput(t *testing.T) {
	tool, _, _ := newCommandTool(t, 0)

	res, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello; echo world >&2"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("command failed: %s", res.Error)
	}
	if !strings.Contains(res.Content, "hello") || !strings.Contains(res.Content, "world") {
		t.Errorf("combined output missing streams:\n%s", res.Content)
	}
	data, _ := res.Data.(map[string]any)
	if data["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", data["exit_code"])
	}
}

func TestRunCommandReportsExitCode(t *testing.T) {
	tool, _, _ := newCommandTool(t, 0)

	res, _ := tool.Execute(context.Background(), map[string]any{"command": "echo oops; exit 3"})
	if res.Success {
		t.Fatal("failing command reported success")
	}
	if !strings.Contains(res.Error, "exit 3") {
		t.Errorf("exit code missing from %q", res.Error)
	}
	if !strings.Contains(res.Error, "oops") {
		t.Errorf("output missing from %q", res.Error)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	tool, _, _ := newCommandTool(t, 100*time.Millisecond)

	start := time.Now()
	res, _ := tool.Execute(context.Background(), map[string]any{"command": "sleep 10"})
	if res.Success {
		t.Fatal("timed-out command reported success")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want timeout message", res.Error)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("command ran %v past its 100ms budget", time.Since(start))
	}
}

func TestRunCommandCancelled(t *testing.T) {
	tool, _, _ := newCommandTool(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, _ := tool.Execute(ctx, map[string]any{"command": "sleep 10"})
	if res.Success || res.Error != "command cancelled" {
		t.Errorf("result = %+v, want cancelled error", res)
	}
}

func TestRunCommandRejectsOutsideCwd(t *testing.T) {
	tool, _, _ := newCommandTool(t, 0)

	res, _ := tool.Execute(context.Background(), map[string]any{
		"command": "ls", "cwd": "/etc",
	})
	if res.Success {
		t.Fatal("cwd outside the workspace accepted")
	}
	if !strings.Contains(res.Error, "not authorized") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunCommandHidesUnlistedEnv(t *testing.T) {
	tool, _, _ := newCommandTool(t, 0)
	t.Setenv("BATON_SECRET_TOKEN", "do-not-leak")

	res, _ := tool.Execute(context.Background(), map[string]any{
		"command": "echo value:${BATON_SECRET_TOKEN:-unset}",
	})
	if !res.Success {
		t.Fatalf("command failed: %s", res.Error)
	}
	if !strings.Contains(res.Content, "value:unset") {
		t.Errorf("unlisted env var leaked into child: %q", res.Content)
	}
}

func TestIsServerCommand(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"npm run dev", true},
		{"npm start", true},
		{"yarn dev", true},
		{"pnpm run serve", true},
		{"vite", true},
		{"next dev", true},
		{"python3 -m http.server 8080", true},
		{"flask run", true},
		{"rails s", true},
		{"npm install", false},
		{"ls -la", false},
		{"git status", false},
		{"echo vite", true}, // substring heuristic, documented behavior
	}
	for _, tt := range tests {
		if got := IsServerCommand(tt.command); got != tt.want {
			t.Errorf("IsServerCommand(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestDetectPort(t *testing.T) {
	tests := []struct {
		command string
		want    int
	}{
		{"vite --port 4000", 4000},
		{"next dev -p 4001", 4001},
		{"vite", 5173},
		{"npm run dev", 3000},
		{"python3 -m http.server", 8000},
		{"flask run", 5000},
		{"unknown-tool serve", 0},
	}
	for _, tt := range tests {
		if got := DetectPort(tt.command); got != tt.want {
			t.Errorf("DetectPort(%q) = %d, want %d", tt.command, got, tt.want)
		}
	}
}

func TestServerStartRegistersProcess(t *testing.T) {
	tool, procs, _ := newCommandTool(t, 0)
	tool.serverWindow = 200 * time.Millisecond

	// Matches the npm dev-server pattern but only sleeps, so the test
	// does not need npm installed.
	ctx := ContextWithTaskID(context.Background(), "task-server")
	res, err := tool.Execute(ctx, map[string]any{"command": "sleep 30 # npm run dev"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("server start failed: %s", res.Error)
	}

	data, _ := res.Data.(map[string]any)
	if data["server"] != true {
		t.Fatalf("result not marked as server: %v", data)
	}
	if data["port"] != 3000 {
		t.Errorf("port = %v, want npm default 3000", data["port"])
	}

	servers := procs.Servers()
	if len(servers) != 1 {
		t.Fatalf("registry has %d servers, want 1", len(servers))
	}
	if servers[0].TaskID != "task-server" {
		t.Errorf("server registered under %q", servers[0].TaskID)
	}

	if n := procs.SignalTask("task-server"); n != 1 {
		t.Errorf("SignalTask stopped %d processes, want 1", n)
	}
}

func TestServerImmediateExitIsError(t *testing.T) {
	tool, procs, _ := newCommandTool(t, 0)
	tool.serverWindow = 2 * time.Second

	res, _ := tool.Execute(context.Background(), map[string]any{"command": "false # vite"})
	if res.Success {
		t.Fatal("instantly-exiting server reported success")
	}
	if !strings.Contains(res.Error, "exited immediately") {
		t.Errorf("error = %q", res.Error)
	}
	if len(procs.Servers()) != 0 {
		t.Error("dead server left registered")
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := truncateOutput(long, 10)
	if !strings.HasPrefix(got, "xxxxxxxxxx") || !strings.Contains(got, "truncated") {
		t.Errorf("truncateOutput = %q", got)
	}
	if truncateOutput("short", 10) != "short" {
		t.Error("short output modified")
	}
}

func TestTaskIDContext(t *testing.T) {
	ctx := ContextWithTaskID(context.Background(), "task-42")
	if got := TaskIDFromContext(ctx); got != "task-42" {
		t.Errorf("TaskIDFromContext = %q", got)
	}
	if got := TaskIDFromContext(context.Background()); got != "" {
		t.Errorf("untagged context returned %q", got)
	}
}
