// Package skills loads declarative skill files and exposes each as a tool.
// A skill is a markdown document with YAML frontmatter; invoking its tool
// returns the document body, instructions the model folds into its next
// steps. Two layouts are recognized: flat files `<dir>/*.md` and
// per-skill directories `<dir>/<name>/SKILL.md`.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"baton/internal/logging"
	"baton/internal/tools"
)

const (
	skillFileName = "SKILL.md"
	maxSkillBytes = 1 << 20
)

// Meta is the YAML frontmatter of a skill file.
type Meta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Skill is one loaded skill definition.
type Skill struct {
	Name         string
	Description  string
	Instructions string
	Path         string
}

// Provider scans a directory of skill files and adapts them into a tool
// set. Load replaces the whole set atomically; the loop re-merges the
// registry every iteration, so a reload becomes visible on the next one.
type Provider struct {
	dir string

	mu     sync.RWMutex
	skills map[string]Skill
}

// NewProvider creates a provider over dir. The directory may not exist
// yet; Load then yields an empty set.
func NewProvider(dir string) *Provider {
	return &Provider{dir: dir, skills: make(map[string]Skill)}
}

// Dir returns the watched skill directory.
func (p *Provider) Dir() string { return p.dir }

// Load rescans the skill directory. Unparseable files are skipped with a
// warning; they never fail the scan.
func (p *Provider) Load() error {
	loaded := make(map[string]Skill)

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			p.replace(loaded)
			return nil
		}
		return fmt.Errorf("reading skill directory: %w", err)
	}

	for _, e := range entries {
		path := filepath.Join(p.dir, e.Name())
		if e.IsDir() {
			path = filepath.Join(path, skillFileName)
		} else if !strings.HasSuffix(e.Name(), ".md") {
			continue
		}

		skill, err := parseSkillFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Warn("skipping skill file", "path", path, "error", err)
			}
			continue
		}
		if prev, dup := loaded[skill.Name]; dup {
			logging.Warn("duplicate skill name", "name", skill.Name, "kept", prev.Path, "skipped", path)
			continue
		}
		loaded[skill.Name] = skill
	}

	p.replace(loaded)
	logging.Debug("skills loaded", "dir", p.dir, "count", len(loaded))
	return nil
}

func (p *Provider) replace(skills map[string]Skill) {
	p.mu.Lock()
	p.skills = skills
	p.mu.Unlock()
}

// Skills returns the loaded skills sorted by name.
func (p *Provider) Skills() []Skill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Skill, 0, len(p.skills))
	for _, s := range p.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Set adapts the current skills into a tool set for registry merging.
func (p *Provider) Set() tools.Set {
	list := p.Skills()
	ts := make([]tools.Tool, 0, len(list))
	for _, s := range list {
		ts = append(ts, &skillTool{skill: s})
	}
	return tools.Set{Kind: tools.KindSkill, Tools: ts}
}

// parseSkillFile reads one skill document. The frontmatter must carry at
// least a name; a missing description falls back to the first body line.
func parseSkillFile(path string) (Skill, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Skill{}, err
	}
	if info.Size() > maxSkillBytes {
		return Skill{}, fmt.Errorf("skill file too large (%d bytes)", info.Size())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	meta, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return Skill{}, err
	}

	var m Meta
	if err := yaml.Unmarshal([]byte(meta), &m); err != nil {
		return Skill{}, fmt.Errorf("frontmatter: %w", err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), ".md")
		if m.Name == strings.TrimSuffix(skillFileName, ".md") {
			m.Name = filepath.Base(filepath.Dir(path))
		}
	}
	if m.Description == "" {
		m.Description = firstLine(body)
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return Skill{}, fmt.Errorf("skill %q has no instructions", m.Name)
	}
	return Skill{Name: m.Name, Description: m.Description, Instructions: body, Path: path}, nil
}

// splitFrontmatter separates the leading `--- ... ---` block from the
// document body.
func splitFrontmatter(doc string) (meta, body string, err error) {
	const marker = "---"
	trimmed := strings.TrimLeft(doc, "\uFEFF\n\r ")
	if !strings.HasPrefix(trimmed, marker+"\n") {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	rest := trimmed[len(marker)+1:]
	end := strings.Index(rest, "\n"+marker)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	meta = rest[:end]
	body = rest[end+len("\n"+marker):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return meta, body, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	return "Skill instructions"
}
