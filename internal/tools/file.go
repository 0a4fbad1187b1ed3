package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"google.golang.org/genai"

	"baton/internal/workspace"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
	maxGlobMatches   = 500
	maxDiffPreview   = 4000
)

// ReadFileTool returns file contents with line numbers.
type ReadFileTool struct {
	fs workspace.FS
}

// NewReadFileTool creates a read_file tool over fs.
func NewReadFileTool(fs workspace.FS) *ReadFileTool {
	return &ReadFileTool{fs: fs}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Reads a file from the workspace and returns its contents with line numbers. " +
		"Use offset and limit to page through large files."
}

func (t *ReadFileTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path to the file to read",
				},
				"offset": {
					Type:        genai.TypeInteger,
					Description: "Line number to start from (1-indexed). Optional.",
				},
				"limit": {
					Type:        genai.TypeInteger,
					Description: "Maximum number of lines to return. Optional, defaults to 2000.",
				},
			},
			Required: []string{"path"},
		},
	}
}

func (t *ReadFileTool) Validate(args map[string]any) error {
	if p, ok := GetString(args, "path"); !ok || p == "" {
		return NewValidationError("path", "is required")
	}
	return nil
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	path, _ := GetString(args, "path")
	offset := GetIntDefault(args, "offset", 1)
	limit := GetIntDefault(args, "limit", defaultReadLimit)
	if offset < 1 {
		offset = 1
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	data, err := t.fs.ReadFile(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorResult(fmt.Sprintf("file not found: %s", path)), nil
		}
		return NewErrorResult(fmt.Sprintf("cannot read %s: %s", path, err)), nil
	}

	lines := strings.Split(string(data), "\n")
	// Split leaves a trailing empty element when the file ends with \n.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	total := len(lines)

	if offset > total {
		if total == 0 {
			return NewSuccessResult("(empty file)"), nil
		}
		return NewSuccessResult(fmt.Sprintf("(offset %d is beyond end of file, file has %d lines)", offset, total)), nil
	}

	end := offset - 1 + limit
	if end > total {
		end = total
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	content := b.String()
	if end < total {
		content += fmt.Sprintf("\n[showing lines %d-%d of %d, use offset=%d to continue]\n", offset, end, total, end+1)
	}
	return NewSuccessResult(content), nil
}

// WriteFileTool creates or overwrites a file. Successful writes carry
// artifact metadata (with a diff preview for overwrites) for the dispatcher
// to surface.
type WriteFileTool struct {
	fs workspace.FS
}

// NewWriteFileTool creates a write_file tool over fs.
func NewWriteFileTool(fs workspace.FS) *WriteFileTool {
	return &WriteFileTool{fs: fs}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Writes content to a file in the workspace, creating it and any parent " +
		"directories if needed, or overwriting the existing file."
}

func (t *WriteFileTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path of the file to write",
				},
				"content": {
					Type:        genai.TypeString,
					Description: "Full content to write",
				},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Validate(args map[string]any) error {
	if p, ok := GetString(args, "path"); !ok || p == "" {
		return NewValidationError("path", "is required")
	}
	if _, ok := GetString(args, "content"); !ok {
		return NewValidationError("content", "is required")
	}
	return nil
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	path, _ := GetString(args, "path")
	content, _ := GetString(args, "content")

	operation := "create"
	var diff string
	if old, err := t.fs.ReadFile(ctx, path); err == nil {
		operation = "overwrite"
		diff = unifiedDiff(path, string(old), content)
	}

	if err := t.fs.WriteFile(ctx, path, []byte(content)); err != nil {
		return NewErrorResult(fmt.Sprintf("cannot write %s: %s", path, err)), nil
	}

	summary := fmt.Sprintf("Wrote %d bytes to %s", len(content), path)
	return NewSuccessResultWithData(summary, map[string]any{
		"artifact": map[string]any{
			"path":      path,
			"operation": operation,
			"bytes":     len(content),
			"diff":      diff,
		},
	}), nil
}

// unifiedDiff renders a compact unified-style preview of an overwrite.
func unifiedDiff(path, oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldContent, newContent, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(d.Text, "\n") {
			if line == "" {
				continue
			}
			if d.Type == diffmatchpatch.DiffEqual {
				// Unchanged regions are elided to keep previews small.
				continue
			}
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
			if b.Len() > maxDiffPreview {
				b.WriteString("...(diff truncated)\n")
				return b.String()
			}
		}
	}
	return b.String()
}

// ListDirTool lists a directory.
type ListDirTool struct {
	fs workspace.FS
}

// NewListDirTool creates a list_dir tool over fs.
func NewListDirTool(fs workspace.FS) *ListDirTool {
	return &ListDirTool{fs: fs}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "Lists the entries of a workspace directory with sizes. Directories end with a slash."
}

func (t *ListDirTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"path": {
					Type:        genai.TypeString,
					Description: "Path of the directory to list",
				},
			},
			Required: []string{"path"},
		},
	}
}

func (t *ListDirTool) Validate(args map[string]any) error {
	if p, ok := GetString(args, "path"); !ok || p == "" {
		return NewValidationError("path", "is required")
	}
	return nil
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	path, _ := GetString(args, "path")

	infos, err := t.fs.ReadDir(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorResult(fmt.Sprintf("directory not found: %s", path)), nil
		}
		return NewErrorResult(fmt.Sprintf("cannot list %s: %s", path, err)), nil
	}
	if len(infos) == 0 {
		return NewSuccessResult("(empty directory)"), nil
	}

	var b strings.Builder
	for _, info := range infos {
		if info.IsDir() {
			fmt.Fprintf(&b, "%s/\n", info.Name())
		} else {
			fmt.Fprintf(&b, "%s  (%d bytes)\n", info.Name(), info.Size())
		}
	}
	return NewSuccessResult(b.String()), nil
}

// GlobTool finds files matching a pattern.
type GlobTool struct {
	fs      workspace.FS
	workDir string
}

// NewGlobTool creates a glob tool over fs rooted at workDir.
func NewGlobTool(fs workspace.FS, workDir string) *GlobTool {
	return &GlobTool{fs: fs, workDir: workDir}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Finds workspace files matching a glob pattern such as **/*.go. " +
		"Searches under path when given, otherwise under the working directory."
}

func (t *GlobTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"pattern": {
					Type:        genai.TypeString,
					Description: "Glob pattern, ** matches across directories",
				},
				"path": {
					Type:        genai.TypeString,
					Description: "Directory to search under. Optional.",
				},
			},
			Required: []string{"pattern"},
		},
	}
}

func (t *GlobTool) Validate(args map[string]any) error {
	if p, ok := GetString(args, "pattern"); !ok || p == "" {
		return NewValidationError("pattern", "is required")
	}
	return nil
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	pattern, _ := GetString(args, "pattern")
	base := GetStringDefault(args, "path", t.workDir)

	matches, err := t.fs.Glob(ctx, base, pattern)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("glob failed: %s", err)), nil
	}
	if len(matches) == 0 {
		return NewSuccessResult(fmt.Sprintf("no files match %q under %s", pattern, base)), nil
	}

	truncated := false
	if len(matches) > maxGlobMatches {
		matches = matches[:maxGlobMatches]
		truncated = true
	}
	content := strings.Join(matches, "\n")
	if truncated {
		content += fmt.Sprintf("\n[%d+ matches, list truncated]", maxGlobMatches)
	}
	return NewSuccessResult(content), nil
}
