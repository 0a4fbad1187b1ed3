package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"baton/internal/safety"
	"baton/internal/workspace"
)

func newTestFS(t *testing.T) (workspace.FS, string) {
	t.Helper()
	root := t.TempDir()
	auth, err := safety.NewAuthorizer([]string{root}, safety.TrustStandard, nil)
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	return workspace.NewLocal(auth), root
}

func TestReadFileNumbersLines(t *testing.T) {
	fs, root := newTestFS(t)
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool(fs)
	res, err := tool.Execute(context.Background(), map[string]any{"path": path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if !strings.Contains(res.Content, "1\tpackage main") {
		t.Errorf("missing numbered first line:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "3\tfunc main() {}") {
		t.Errorf("missing numbered third line:\n%s", res.Content)
	}
}

func TestReadFileOffsetAndLimit(t *testing.T) {
	fs, root := newTestFS(t)
	path := filepath.Join(root, "list.txt")
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line")
	}
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)

	tool := NewReadFileTool(fs)
	res, _ := tool.Execute(context.Background(), map[string]any{
		"path": path, "offset": 4, "limit": 2,
	})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if strings.Contains(res.Content, "3\tline") || strings.Contains(res.Content, "6\tline") {
		t.Errorf("window leaked outside offset/limit:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "4\tline") || !strings.Contains(res.Content, "5\tline") {
		t.Errorf("window missing requested lines:\n%s", res.Content)
	}
}

func TestReadFileMissing(t *testing.T) {
	fs, root := newTestFS(t)
	tool := NewReadFileTool(fs)
	res, err := tool.Execute(context.Background(), map[string]any{
		"path": filepath.Join(root, "nope.txt"),
	})
	if err != nil {
		t.Fatalf("missing file must be a result, not an error: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "file not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestReadFileOutsideRoot(t *testing.T) {
	fs, _ := newTestFS(t)
	tool := NewReadFileTool(fs)
	res, err := tool.Execute(context.Background(), map[string]any{"path": "/etc/passwd"})
	if err != nil {
		t.Fatalf("violation must be a result, not an error: %v", err)
	}
	if res.Success {
		t.Error("read outside the root succeeded")
	}
}

func TestWriteFileCreateCarriesArtifact(t *testing.T) {
	fs, root := newTestFS(t)
	path := filepath.Join(root, "sub", "new.txt")

	tool := NewWriteFileTool(fs)
	res, err := tool.Execute(context.Background(), map[string]any{
		"path": path, "content": "hello\n",
	})
	if err != nil || !res.Success {
		t.Fatalf("write failed: err=%v res=%+v", err, res)
	}

	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data is %T, want map", res.Data)
	}
	meta, ok := data["artifact"].(map[string]any)
	if !ok {
		t.Fatalf("no artifact metadata in %v", data)
	}
	if meta["operation"] != "create" {
		t.Errorf("operation = %v, want create", meta["operation"])
	}
	if meta["bytes"] != 6 {
		t.Errorf("bytes = %v, want 6", meta["bytes"])
	}
	if got, _ := os.ReadFile(path); string(got) != "hello\n" {
		t.Errorf("file content = %q", got)
	}
}

func TestWriteFileOverwriteHasDiff(t *testing.T) {
	fs, root := newTestFS(t)
	path := filepath.Join(root, "config.yaml")
	os.WriteFile(path, []byte("port: 3000\n"), 0o644)

	tool := NewWriteFileTool(fs)
	res, _ := tool.Execute(context.Background(), map[string]any{
		"path": path, "content": "port: 8080\n",
	})
	if !res.Success {
		t.Fatalf("overwrite failed: %s", res.Error)
	}

	meta := res.Data.(map[string]any)["artifact"].(map[string]any)
	if meta["operation"] != "overwrite" {
		t.Errorf("operation = %v, want overwrite", meta["operation"])
	}
	diff, _ := meta["diff"].(string)
	if !strings.Contains(diff, "-") || !strings.Contains(diff, "+") {
		t.Errorf("diff preview missing change markers:\n%s", diff)
	}
	if !strings.Contains(diff, "--- "+path) {
		t.Errorf("diff preview missing header:\n%s", diff)
	}
}

func TestWriteFileValidation(t *testing.T) {
	tool := NewWriteFileTool(nil)
	if err := tool.Validate(map[string]any{"content": "x"}); err == nil {
		t.Error("missing path accepted")
	}
	if err := tool.Validate(map[string]any{"path": "/x"}); err == nil {
		t.Error("missing content accepted")
	}
	if err := tool.Validate(map[string]any{"path": "/x", "content": ""}); err != nil {
		t.Errorf("empty content rejected: %v", err)
	}
}

func TestListDirMarksTypes(t *testing.T) {
	fs, root := newTestFS(t)
	os.Mkdir(filepath.Join(root, "src"), 0o755)
	os.WriteFile(filepath.Join(root, "go.sum"), []byte("abc"), 0o644)

	tool := NewListDirTool(fs)
	res, err := tool.Execute(context.Background(), map[string]any{"path": root})
	if err != nil || !res.Success {
		t.Fatalf("list failed: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "src/") {
		t.Errorf("directory not marked with slash:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "go.sum  (3 bytes)") {
		t.Errorf("file size missing:\n%s", res.Content)
	}
}

func TestGlobFindsNestedMatches(t *testing.T) {
	fs, root := newTestFS(t)
	os.MkdirAll(filepath.Join(root, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(root, "top.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "a", "b", "deep.go"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "a", "note.md"), nil, 0o644)

	tool := NewGlobTool(fs, root)
	res, err := tool.Execute(context.Background(), map[string]any{"pattern": "**/*.go"})
	if err != nil || !res.Success {
		t.Fatalf("glob failed: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "top.go") || !strings.Contains(res.Content, "deep.go") {
		t.Errorf("matches missing:\n%s", res.Content)
	}
	if strings.Contains(res.Content, "note.md") {
		t.Errorf("non-matching file listed:\n%s", res.Content)
	}
}
