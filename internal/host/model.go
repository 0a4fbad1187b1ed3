package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"baton/internal/config"
	"baton/internal/notify"
	"baton/internal/runtime"
)

const escHintAfter = 2 * time.Second

// Model is the Bubble Tea model for the interactive session.
type Model struct {
	agent  Agent
	styles *Styles
	input  textarea.Model
	output outputModel
	spin   spinner.Model

	state  State
	width  int
	height int

	workDir string
	project string
	taskID  string
	model   string

	confirm   *notify.ConfirmRequest
	tool      string
	thinking  bool
	artifacts int
	startedAt time.Time

	// reply collects the streamed text of the turn in flight; lastReply
	// holds the previous finished turn for /copy.
	reply     *strings.Builder
	lastReply string

	quitting bool
}

// NewModel creates the session model. The working directory and backend
// model name are display-only; commands go through the agent.
func NewModel(agent Agent, workDir string) Model {
	styles := DefaultStyles()

	ta := textarea.New()
	ta.Placeholder = "Describe what to build, or /help"
	ta.Focus()
	ta.CharLimit = 8000
	ta.ShowLineNumbers = false
	ta.SetHeight(1)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	out := newOutputModel(styles)
	out.appendLine(styles.Dim.Render("baton · " + agent.Backend().Model + " · " + workDir))
	out.appendLine(styles.Dim.Render("type an instruction, /help for commands"))
	out.appendLine("")

	return Model{
		agent:   agent,
		styles:  styles,
		input:   ta,
		output:  out,
		spin:    sp,
		state:   stateInput,
		workDir: workDir,
		model:   agent.Backend().Model,
		reply:   &strings.Builder{},
	}
}

// Init starts the cursor blink and spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick)
}

// Update handles one event.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		m.output.setSize(msg.Width, msg.Height-6)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		// A confirmation the table has already expired server-side is
		// dropped here too, so the prompt does not outlive its answer
		// window.
		if m.state == stateConfirm && m.confirm != nil &&
			!m.confirm.ExpiresAt.IsZero() && time.Now().After(m.confirm.ExpiresAt) {
			m.confirm = nil
			m.state = stateBusy
			m.output.appendLine(m.styles.Warning.Render("confirmation expired, command denied"))
		}
		return m, cmd

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.output, cmd = m.output.update(msg)
		return m, cmd

	case notificationMsg:
		return m, m.handleNotification(notify.Notification(msg))

	case busClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case submitResultMsg:
		if msg.err != nil {
			m.output.appendLine(m.styles.Error.Render("✗ " + msg.err.Error()))
			m.resetTurn()
			return m, m.input.Focus()
		}
		m.taskID = msg.taskID
		return m, nil

	case confirmResultMsg:
		if msg.err != nil {
			m.output.appendLine(m.styles.Warning.Render("confirmation not delivered: " + msg.err.Error()))
		}
		return m, nil

	case backendResultMsg:
		if msg.err != nil {
			m.output.appendLine(m.styles.Error.Render("✗ model switch failed: " + msg.err.Error()))
		} else {
			m.model = msg.model
			m.output.appendLine(m.styles.Success.Render("✓ switched to " + msg.model))
		}
		return m, nil

	case bridgeResultMsg:
		if msg.err != nil {
			m.output.appendLine(m.styles.Error.Render("✗ bridge refresh failed: " + msg.err.Error()))
		} else {
			m.output.appendLine(m.styles.Success.Render("✓ refreshed tools from " + msg.server))
		}
		return m, nil

	case clipboardResultMsg:
		if msg.err != nil {
			m.output.appendLine(m.styles.Warning.Render("copy failed: " + msg.err.Error()))
		} else {
			m.output.appendLine(m.styles.Dim.Render("copied last reply"))
		}
		return m, nil
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey routes a key press by state. Keys not consumed here reach the
// input textarea only while new instructions are accepted.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.state == stateConfirm && m.confirm != nil {
		return m.handleConfirmKey(msg)
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.state == stateBusy || m.state == stateStreaming {
			m.agent.Abort(m.taskID)
		}
		m.quitting = true
		return tea.Quit

	case tea.KeyEscape:
		if m.state == stateBusy || m.state == stateStreaming {
			if m.agent.Abort(m.taskID) {
				m.output.appendLine(m.styles.Warning.Render("interrupting..."))
			} else {
				m.resetTurn()
				return m.input.Focus()
			}
		}
		return nil

	case tea.KeyEnter:
		if m.state != stateInput {
			return nil
		}
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return nil
		}
		m.input.Reset()
		if strings.HasPrefix(value, "/") {
			return m.handleCommand(value)
		}
		return m.submit(value)

	case tea.KeyCtrlL:
		if m.state == stateInput {
			m.output.clear()
		}
		return nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.output, cmd = m.output.update(msg)
		return cmd
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return cmd
	}
	return nil
}

// handleConfirmKey answers a pending gated-command confirmation.
func (m *Model) handleConfirmKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "y", "enter":
		return m.decide(true, false)
	case "a":
		return m.decide(true, true)
	case "n", "esc":
		m.output.appendLine(m.styles.Warning.Render("command denied"))
		return m.decide(false, false)
	}
	return nil
}

func (m *Model) decide(approved, remember bool) tea.Cmd {
	req := m.confirm
	m.confirm = nil
	m.state = stateBusy
	agent := m.agent
	return func() tea.Msg {
		return confirmResultMsg{err: agent.Confirm(req.ID, approved, remember)}
	}
}

// submit echoes the instruction and hands it to the agent.
func (m *Model) submit(text string) tea.Cmd {
	m.output.appendLine(m.styles.UserPrompt.Render("> " + text))
	m.output.appendLine("")
	m.output.resetStream()
	m.reply.Reset()
	m.state = stateBusy
	m.startedAt = time.Now()
	m.thinking = false
	m.tool = ""

	agent, taskID, project := m.agent, m.taskID, m.project
	return func() tea.Msg {
		id, err := agent.Submit(runtime.Submission{Text: text, TaskID: taskID, Project: project})
		return submitResultMsg{taskID: id, err: err}
	}
}

// handleCommand runs a slash command.
func (m *Model) handleCommand(value string) tea.Cmd {
	name, arg, _ := strings.Cut(strings.TrimPrefix(value, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "help":
		m.output.appendMarkdown(helpText)

	case "model":
		if arg == "" {
			m.output.appendLine(m.styles.Dim.Render("usage: /model <name>"))
			return nil
		}
		agent := m.agent
		return func() tea.Msg {
			return backendResultMsg{model: arg, err: agent.UpdateBackend(config.Runtime{Model: arg})}
		}

	case "project":
		m.project = arg
		if arg == "" {
			m.output.appendLine(m.styles.Dim.Render("project cleared, files go to the workspace root"))
		} else {
			m.output.appendLine(m.styles.Dim.Render("files now go to " + arg + "/"))
		}

	case "bridge":
		servers := m.agent.BridgeServers()
		if arg == "" {
			if len(servers) == 0 {
				m.output.appendLine(m.styles.Dim.Render("no bridge servers connected"))
			} else {
				m.output.appendLine(m.styles.Dim.Render("bridge servers: " + strings.Join(servers, ", ")))
				m.output.appendLine(m.styles.Dim.Render("usage: /bridge <server> to re-scan its tools"))
			}
			return nil
		}
		agent := m.agent
		return func() tea.Msg {
			return bridgeResultMsg{server: arg, err: agent.RefreshBridge(arg)}
		}

	case "copy":
		if m.lastReply == "" {
			m.output.appendLine(m.styles.Dim.Render("nothing to copy yet"))
			return nil
		}
		text := m.lastReply
		return func() tea.Msg {
			return clipboardResultMsg{err: clipboard.WriteAll(text)}
		}

	case "quit", "exit":
		m.quitting = true
		return tea.Quit

	default:
		m.output.appendLine(m.styles.Dim.Render("unknown command: /" + name))
	}
	return nil
}

// handleNotification applies one bus notification to the view.
func (m *Model) handleNotification(n notify.Notification) tea.Cmd {
	switch n.Kind {
	case notify.KindStreamToken:
		if n.Token == nil {
			return nil
		}
		m.thinking = false
		m.state = stateStreaming
		m.output.appendStream(n.Token.Text)
		m.reply.WriteString(n.Token.Text)

	case notify.KindStreamThinking:
		m.thinking = true

	case notify.KindHistoryUpdate:
		if n.History == nil {
			return nil
		}
		switch p := n.History.Preview; {
		case strings.HasPrefix(p, "[tool call: "):
			m.tool = strings.TrimSuffix(strings.TrimPrefix(p, "[tool call: "), "]")
			m.thinking = false
			m.output.flushStream()
			m.output.appendLine(m.styles.ToolCall.Render("• " + m.tool))
		case strings.HasPrefix(p, "[tool result: "):
			m.tool = ""
		}

	case notify.KindArtifactCreated:
		if n.Artifact == nil {
			return nil
		}
		m.artifacts++
		verb := "wrote"
		if n.Artifact.Operation == "overwrite" {
			verb = "updated"
		}
		m.output.flushStream()
		m.output.appendLine(m.styles.Success.Render(
			fmt.Sprintf("✓ %s %s (%d bytes)", verb, n.Artifact.Path, n.Artifact.Bytes)))
		if n.Artifact.Diff != "" {
			m.output.appendLine(m.output.hl.Diff(n.Artifact.Diff))
		}

	case notify.KindConfirmRequest:
		if n.Confirm == nil {
			return nil
		}
		c := *n.Confirm
		m.confirm = &c
		m.state = stateConfirm

	case notify.KindContextSwitched:
		if n.Switch == nil {
			return nil
		}
		m.taskID = n.Switch.To
		m.output.flushStream()
		m.output.appendLine(m.styles.Warning.Render("context moved to a fresh task (" + n.Switch.Reason + ")"))

	case notify.KindDone:
		m.output.flushStream()
		m.output.appendLine("")
		if m.reply.Len() > 0 {
			m.lastReply = m.reply.String()
		}
		m.resetTurn()
		return m.input.Focus()

	case notify.KindError:
		m.output.flushStream()
		if n.Failure != nil {
			m.output.appendLine(m.styles.Error.Render("✗ " + n.Failure.Message))
			if n.Failure.Cause != "" {
				m.output.appendLine(m.styles.Dim.Render("  cause: " + n.Failure.Cause))
			}
		}
		m.resetTurn()
		return m.input.Focus()

	case notify.KindAborted:
		m.output.flushStream()
		m.output.appendLine(m.styles.Warning.Render("aborted"))
		m.resetTurn()
		return m.input.Focus()
	}
	return nil
}

func (m *Model) resetTurn() {
	m.state = stateInput
	m.confirm = nil
	m.tool = ""
	m.thinking = false
	m.startedAt = time.Time{}
}

// View renders the whole screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.output.view())
	b.WriteString("\n")

	if m.state == stateBusy || m.state == stateStreaming {
		b.WriteString(m.statusLine())
		b.WriteString("\n")
	}
	if m.state == stateConfirm && m.confirm != nil {
		b.WriteString(m.confirmView())
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Input.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}

func (m Model) statusLine() string {
	label := "working"
	switch {
	case m.tool != "":
		label = "running " + m.tool
	case m.thinking:
		label = "thinking"
	case m.state == stateStreaming:
		label = "writing"
	}

	status := m.spin.View() + " " + m.styles.Accent.Render(label)
	if !m.startedAt.IsZero() {
		elapsed := time.Since(m.startedAt)
		if elapsed >= escHintAfter {
			status += " " + m.styles.Dim.Render(elapsed.Truncate(time.Second).String())
			status += "  " + m.styles.Dim.Render("(esc to cancel)")
		}
	}
	return status
}

func (m Model) confirmView() string {
	req := m.confirm

	var lines []string
	lines = append(lines, m.styles.ConfirmTitle.Render("Approve "+req.Tool+"?"))
	if req.Description != "" {
		lines = append(lines, req.Description)
	}
	if cmd, ok := req.Args["command"].(string); ok && cmd != "" {
		lines = append(lines, m.styles.Dim.Render("$ "+cmd))
	}
	lines = append(lines, "")
	lines = append(lines,
		m.styles.ConfirmKey.Render("y")+" allow   "+
			m.styles.ConfirmKey.Render("a")+" always   "+
			m.styles.ConfirmKey.Render("n")+" deny")

	return m.styles.ConfirmBox.Render(strings.Join(lines, "\n"))
}

func (m Model) statusBar() string {
	parts := []string{m.model}
	if m.project != "" {
		parts = append(parts, "project "+m.project)
	}
	if m.taskID != "" {
		parts = append(parts, "task "+shortID(m.taskID))
	}
	if m.artifacts > 0 {
		parts = append(parts, fmt.Sprintf("%d files", m.artifacts))
	}
	parts = append(parts, m.workDir)
	return m.styles.StatusBar.Render(strings.Join(parts, " │ "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const helpText = `# baton

Builds small web projects from plain instructions.

## Commands

- ` + "`/model <name>`" + ` switch the backend model
- ` + "`/project <dir>`" + ` scope file writes to a subdirectory
- ` + "`/bridge [server]`" + ` list bridge servers, or re-scan one server's tools
- ` + "`/copy`" + ` copy the last reply to the clipboard
- ` + "`/quit`" + ` exit

## Keys

- **enter** submit, **esc** interrupt the running task
- **y** / **a** / **n** answer a command confirmation (a remembers it)
- **pgup** / **pgdn** scroll, **ctrl+l** clear the transcript
`
