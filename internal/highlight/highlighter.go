// Package highlight renders code and unified diffs for terminal display.
package highlight

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// Highlighter applies ANSI syntax colouring via chroma.
type Highlighter struct {
	style     string
	formatter chroma.Formatter
}

// New creates a Highlighter using the named chroma style ("" means monokai).
func New(style string) *Highlighter {
	if style == "" {
		style = "monokai"
	}
	return &Highlighter{
		style:     style,
		formatter: formatters.Get("terminal256"),
	}
}

// Highlight colours code for the given language. Unknown languages and
// tokenizer failures return the code unchanged.
func (h *Highlighter) Highlight(code, lang string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(h.style)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

var (
	diffAdd     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	diffDel     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	diffHunk    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	diffContext = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// Diff colours a unified diff line by line.
func (h *Highlighter) Diff(diff string) string {
	lines := strings.Split(diff, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			out[i] = diffHunk.Render(line)
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			out[i] = diffContext.Render(line)
		case strings.HasPrefix(line, "+"):
			out[i] = diffAdd.Render(line)
		case strings.HasPrefix(line, "-"):
			out[i] = diffDel.Render(line)
		default:
			out[i] = diffContext.Render(line)
		}
	}
	return strings.Join(out, "\n")
}

// extLanguages maps file extensions to chroma lexer names for the file
// types the agent commonly writes.
var extLanguages = map[string]string{
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".js":   "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".jsx":  "jsx",
	".tsx":  "tsx",
	".json": "json",
	".svg":  "xml",
	".xml":  "xml",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".sh":   "bash",
	".py":   "python",
	".go":   "go",
	".sql":  "sql",
	".txt":  "text",
}

// DetectLanguage guesses the lexer name from a filename, falling back to
// chroma's own matcher and then "text".
func (h *Highlighter) DetectLanguage(filename string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(filename))]; ok {
		return lang
	}
	if lexer := lexers.Match(filename); lexer != nil {
		return lexer.Config().Name
	}
	return "text"
}
