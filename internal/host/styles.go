package host

import "github.com/charmbracelet/lipgloss"

// Color palette shared across the host views.
var (
	colorPrimary = lipgloss.Color("#A78BFA") // soft purple
	colorAccent  = lipgloss.Color("#22D3EE") // cyan
	colorSuccess = lipgloss.Color("#059669") // emerald
	colorWarning = lipgloss.Color("#D97706") // amber
	colorError   = lipgloss.Color("#DC2626") // red
	colorMuted   = lipgloss.Color("#9CA3AF") // gray
	colorDim     = lipgloss.Color("#6B7280") // darker gray
)

// Styles holds the lipgloss styles used by the host.
type Styles struct {
	UserPrompt lipgloss.Style
	ToolCall   lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Error      lipgloss.Style
	Dim        lipgloss.Style
	Accent     lipgloss.Style
	Spinner    lipgloss.Style
	StatusBar  lipgloss.Style
	Input      lipgloss.Style
	CodeHeader lipgloss.Style

	ConfirmBox   lipgloss.Style
	ConfirmTitle lipgloss.Style
	ConfirmKey   lipgloss.Style
}

// DefaultStyles returns the default host styles.
func DefaultStyles() *Styles {
	return &Styles{
		UserPrompt: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true),

		ToolCall: lipgloss.NewStyle().
			Foreground(colorWarning).
			Italic(true),

		Success: lipgloss.NewStyle().
			Foreground(colorSuccess),

		Warning: lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true),

		Dim: lipgloss.NewStyle().
			Foreground(colorDim),

		Accent: lipgloss.NewStyle().
			Foreground(colorAccent),

		Spinner: lipgloss.NewStyle().
			Foreground(colorPrimary),

		StatusBar: lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1),

		Input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1),

		CodeHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent),

		ConfirmBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWarning).
			Padding(0, 1).
			MarginTop(1),

		ConfirmTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWarning),

		ConfirmKey: lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent),
	}
}
