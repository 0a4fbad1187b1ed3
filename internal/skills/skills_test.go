package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"baton/internal/tools"
)

func writeSkill(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const reviewSkill = `---
name: code-review
description: Review changed files for common mistakes
---
# Code review

1. Read the diff.
2. Check error handling on every new call.
`

func TestLoadFlatAndNestedLayouts(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review.md"), reviewSkill)
	writeSkill(t, filepath.Join(dir, "deploy", "SKILL.md"), `---
name: deploy
description: Ship to staging
---
Run the staging pipeline and watch the smoke tests.
`)

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	skills := p.Skills()
	if len(skills) != 2 {
		t.Fatalf("loaded %d skills, want 2", len(skills))
	}
	if skills[0].Name != "code-review" || skills[1].Name != "deploy" {
		t.Errorf("names = %q, %q", skills[0].Name, skills[1].Name)
	}
	if skills[0].Description != "Review changed files for common mistakes" {
		t.Errorf("description = %q", skills[0].Description)
	}
	if want := "# Code review"; skills[0].Instructions[:len(want)] != want {
		t.Errorf("instructions start = %q", skills[0].Instructions[:len(want)])
	}
}

func TestLoadSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "good.md"), reviewSkill)
	writeSkill(t, filepath.Join(dir, "no-frontmatter.md"), "just text\n")
	writeSkill(t, filepath.Join(dir, "empty-body.md"), "---\nname: hollow\n---\n")
	writeSkill(t, filepath.Join(dir, "notes.txt"), "not a skill\n")

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skills := p.Skills(); len(skills) != 1 || skills[0].Name != "code-review" {
		t.Errorf("skills = %+v", skills)
	}
}

func TestLoadMissingDirectoryYieldsEmptySet(t *testing.T) {
	p := NewProvider(filepath.Join(t.TempDir(), "absent"))
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Skills()) != 0 {
		t.Error("skills from a missing directory")
	}
}

func TestNameFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "refactor.md"), "---\ndescription: d\n---\nbody\n")
	writeSkill(t, filepath.Join(dir, "migrate", "SKILL.md"), "---\ndescription: d\n---\nbody\n")

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range p.Skills() {
		names = append(names, s.Name)
	}
	if len(names) != 2 || names[0] != "migrate" || names[1] != "refactor" {
		t.Errorf("names = %v", names)
	}
}

func TestSkillToolReturnsInstructions(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review.md"), reviewSkill)

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}

	set := p.Set()
	if set.Kind != tools.KindSkill || len(set.Tools) != 1 {
		t.Fatalf("set = %+v", set)
	}

	tool := set.Tools[0]
	if tool.Name() != "code-review" {
		t.Errorf("name = %q", tool.Name())
	}
	result, err := tool.Execute(context.Background(), map[string]any{"task": "pr 42"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Content == "" {
		t.Fatalf("result = %+v", result)
	}
	if result.Content[:len("# Code review")] != "# Code review" {
		t.Errorf("content start = %q", result.Content[:20])
	}
}

func TestRegistryMergesSkillTools(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review.md"), reviewSkill)

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}

	r := tools.Merge(tools.Set{Kind: tools.KindBuiltin}, p.Set())
	_, kind, ok := r.Resolve("code-review")
	if !ok || kind != tools.KindSkill {
		t.Errorf("Resolve(code-review) = kind %q ok %v", kind, ok)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "review.md"), reviewSkill)

	p := NewProvider(dir)
	if err := p.Load(); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan int, 4)
	w, err := NewWatcher(p, func(count int) { reloaded <- count })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 50 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeSkill(t, filepath.Join(dir, "extra.md"), "---\nname: extra\ndescription: d\n---\nmore\n")

	select {
	case count := <-reloaded:
		if count != 2 {
			t.Errorf("reload count = %d, want 2", count)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}
}

func TestSplitFrontmatter(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ok   bool
		meta string
		body string
	}{
		{"normal", "---\nname: a\n---\nbody\n", true, "name: a", "body\n"},
		{"no frontmatter", "body only\n", false, "", ""},
		{"unterminated", "---\nname: a\n", false, "", ""},
		{"bare marker", "---", false, "", ""},
		{"empty body", "---\nname: a\n---\n", true, "name: a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body, err := splitFrontmatter(tt.doc)
			if tt.ok != (err == nil) {
				t.Fatalf("err = %v", err)
			}
			if !tt.ok {
				return
			}
			if meta != tt.meta || body != tt.body {
				t.Errorf("meta = %q body = %q", meta, body)
			}
		})
	}
}
