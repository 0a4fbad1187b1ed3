package host

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"baton/internal/highlight"
)

// outputState is heap-allocated so the model can be copied by Bubble Tea
// without tripping the strings.Builder copy check.
type outputState struct {
	content strings.Builder

	// Incremental wrap cache. Only the content appended since the last
	// refresh is wrapped; a resize clears the cache and re-wraps fully.
	wrapped    string
	wrappedLen int
	width      int
	ready      bool
}

// outputModel renders the conversation transcript in a scrollable viewport.
// All mutation happens on the program goroutine; events reach it through
// program.Send, never directly.
type outputModel struct {
	viewport viewport.Model
	styles   *Styles
	renderer *glamour.TermRenderer
	stream   *streamParser
	hl       *highlight.Highlighter
	state    *outputState
}

func newOutputModel(styles *Styles) outputModel {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(0),
	)
	return outputModel{
		styles:   styles,
		renderer: renderer,
		stream:   &streamParser{},
		hl:       highlight.New(""),
		state:    &outputState{},
	}
}

func (o *outputModel) setSize(width, height int) {
	if !o.state.ready {
		o.viewport = viewport.New(width, height)
		o.viewport.MouseWheelEnabled = true
		o.state.ready = true
	} else {
		o.viewport.Width = width
		o.viewport.Height = height
	}
	if w := width - 2; w != o.state.width {
		o.state.width = w
		o.state.wrapped = ""
		o.state.wrappedLen = 0
	}
	o.refresh()
}

func (o outputModel) update(msg tea.Msg) (outputModel, tea.Cmd) {
	var cmd tea.Cmd
	o.viewport, cmd = o.viewport.Update(msg)
	return o, cmd
}

func (o outputModel) view() string {
	if !o.state.ready {
		return "loading..."
	}
	return o.viewport.View()
}

// appendLine appends one finished line to the transcript.
func (o *outputModel) appendLine(text string) {
	o.state.content.WriteString(text)
	o.state.content.WriteString("\n")
	o.refresh()
}

// appendStream feeds a streamed fragment through the markdown splitter.
// Completed code fences come back highlighted; plain lines pass through.
func (o *outputModel) appendStream(fragment string) {
	o.appendBlocks(o.stream.feed(fragment))
}

// flushStream drains the splitter, closing an unterminated fence. Called
// before any non-stream line so interleaved output keeps its order.
func (o *outputModel) flushStream() {
	o.appendBlocks(o.stream.flush())
}

func (o *outputModel) appendBlocks(blocks []block) {
	if len(blocks) == 0 {
		return
	}
	for _, b := range blocks {
		if b.code {
			o.state.content.WriteString(renderCode(o.styles, o.hl, b, o.state.width))
		} else {
			o.state.content.WriteString(b.text)
		}
	}
	o.refresh()
}

// resetStream discards splitter state from a previous turn.
func (o *outputModel) resetStream() {
	o.stream.reset()
}

// clear empties the transcript.
func (o *outputModel) clear() {
	o.state.content.Reset()
	o.state.wrapped = ""
	o.state.wrappedLen = 0
	o.refresh()
}

// appendMarkdown renders text through glamour before appending.
func (o *outputModel) appendMarkdown(text string) {
	if o.renderer != nil {
		if rendered, err := o.renderer.Render(text); err == nil {
			text = rendered
		}
	}
	o.state.content.WriteString(text)
	o.state.content.WriteString("\n")
	o.refresh()
}

func (o *outputModel) refresh() {
	if !o.state.ready {
		return
	}
	content := o.state.content.String()
	if len(content) > o.state.wrappedLen && o.state.wrapped != "" {
		o.state.wrapped += wrapText(content[o.state.wrappedLen:], o.state.width)
	} else {
		o.state.wrapped = wrapText(content, o.state.width)
	}
	o.state.wrappedLen = len(content)
	o.viewport.SetContent(o.state.wrapped)
	o.viewport.GotoBottom()
}

// wrapText wraps text to width, ANSI-aware. Lines already shorter than the
// width skip the style pass entirely.
func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	style := lipgloss.NewStyle().Width(width)

	var out strings.Builder
	out.Grow(len(text))
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteString("\n")
		}
		if len(line) <= width {
			out.WriteString(line)
			continue
		}
		if lipgloss.Width(line) > width {
			out.WriteString(style.Render(line))
		} else {
			out.WriteString(line)
		}
	}
	return out.String()
}
