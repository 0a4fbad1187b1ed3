// Package loop drives one submission through the conversation state
// machine: send accumulated history, assemble the streamed response,
// dispatch requested tool calls, repeat until the model stops asking for
// tools or a cap forces the end. Backend failures route through the
// recovery controller, which condenses history onto a fresh task id
// rather than giving up.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"baton/internal/client"
	"baton/internal/heal"
	"baton/internal/logging"
	"baton/internal/notify"
	"baton/internal/summary"
	"baton/internal/task"
	"baton/internal/tools"
)

// State is the loop's position in an iteration.
type State int

const (
	StateRequesting State = iota
	StateStreaming
	StateDispatching
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateDispatching:
		return "dispatching"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher executes tool calls on behalf of the loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string, call *genai.FunctionCall) *tools.Report
	SetRegistry(r *tools.Registry)
	ResetTask(taskID string)
}

// Options wires a Loop's collaborators. Client and Tools are funcs so
// runtime-config swaps and provider reloads take effect between
// iterations without touching a live exchange.
type Options struct {
	Client     func() client.Client
	Tools      func() *tools.Registry
	Dispatcher Dispatcher
	Bus        *notify.Bus
	Registry   *task.Registry
	Procs      *task.ProcRegistry // optional
	Strategy   summary.Strategy
	Healer     *heal.Healer // optional
	Intent     IntentFunc   // optional, defaults to ProjectCreationIntent

	MaxIterations int
	MaxReminders  int
	MaxRecoveries int

	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Loop runs a single submission. Create a new Loop per Run; per-run state
// lives on the struct and is not reusable.
type Loop struct {
	opts   Options
	bus    *notify.Bus
	parent context.Context

	task    *task.Task
	history []*genai.Content
	state   State

	revision   uint64
	request    string // text of the submission, for the intent heuristic
	reminders  int
	recoveries int
	durable    bool
	wroteFiles bool
}

// New builds a Loop, filling option defaults.
func New(opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 30
	}
	if opts.MaxReminders <= 0 {
		opts.MaxReminders = 2
	}
	if opts.MaxRecoveries <= 0 {
		opts.MaxRecoveries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 20 * time.Second
	}
	if opts.Strategy == nil {
		opts.Strategy = summary.Default()
	}
	if opts.Intent == nil {
		opts.Intent = ProjectCreationIntent
	}
	return &Loop{opts: opts, bus: opts.Bus}
}

// Run drives the submission to a terminal outcome and returns the
// effective task id, which differs from t.ID after a recovery rebind. The
// task is released on every outcome; notifications carry the result to
// the host, so the returned error is for logging only.
func (l *Loop) Run(parent context.Context, t *task.Task, parts []*genai.Part) (string, error) {
	l.parent = parent
	l.task = t
	l.history = t.History

	userContent := &genai.Content{Role: genai.RoleUser, Parts: parts}
	l.request = textOf(parts)
	l.appendHistory(userContent)

	defer func() {
		l.opts.Dispatcher.ResetTask(l.task.ID)
		l.opts.Registry.Release(l.task.ID)
	}()

	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		l.task.Touch()
		if l.ctx().Err() != nil {
			return l.abort()
		}

		resp, err := l.exchange(iteration)
		if err != nil {
			if l.cancelled(err) {
				return l.abort()
			}
			switch l.recoverFrom(err) {
			case recoverResume:
				continue
			case recoverCaveat:
				return l.task.ID, nil
			default:
				return l.task.ID, err
			}
		}

		if len(resp.FunctionCalls) == 0 {
			if l.shouldRemind(resp) {
				l.remind()
				continue
			}
			return l.finish()
		}

		l.setState(StateDispatching)
		if aborted := l.dispatchCalls(resp.FunctionCalls); aborted {
			return l.abort()
		}
	}

	logging.Warn("iteration cap reached", "task", l.task.ID, "cap", l.opts.MaxIterations)
	return l.finish()
}

// History returns the final transcript. Valid only after Run has
// returned; callers persisting the conversation read it from here
// because a rebound task object is already released.
func (l *Loop) History() []*genai.Content {
	return l.history
}

// exchange performs one Requesting/Streaming round: send the history,
// drain the stream, and append the model turn. The returned error is the
// backend failure, with any partial output already preserved in history.
func (l *Loop) exchange(iteration int) (*client.Response, error) {
	l.setState(StateRequesting)

	backend := l.opts.Client()
	if backend == nil {
		return nil, errors.New("no backend client configured")
	}

	if l.opts.Tools != nil {
		registry := l.opts.Tools()
		l.opts.Dispatcher.SetRegistry(registry)
		backend.SetTools([]*genai.Tool{{FunctionDeclarations: registry.Declarations()}})
	}

	logging.Debug("backend exchange", "task", l.task.ID, "iteration", iteration, "history", len(l.history))
	sr, err := backend.SendContents(l.ctx(), l.history)
	if err != nil {
		return nil, err
	}

	l.setState(StateStreaming)
	resp, streamErr := l.drain(sr)

	if len(resp.Parts) > 0 {
		l.appendHistory(&genai.Content{Role: genai.RoleModel, Parts: resp.Parts})
	}
	return resp, streamErr
}

// drain consumes the stream, forwarding deltas to the host as they
// arrive. Mirrors StreamingResponse.Collect plus token fan-out.
func (l *Loop) drain(sr *client.StreamingResponse) (*client.Response, error) {
	resp := &client.Response{}
	var streamErr error

	for chunk := range sr.Chunks {
		if chunk.Text != "" {
			l.bus.StreamToken(l.task.ID, chunk.Text)
		}
		if chunk.Thinking != "" {
			l.bus.StreamThinking(l.task.ID, chunk.Thinking)
			resp.Thinking += chunk.Thinking
		}
		if chunk.Error != nil && streamErr == nil {
			streamErr = chunk.Error
		}
		if chunk.Done {
			resp.Parts = chunk.Parts
			resp.FunctionCalls = chunk.FunctionCalls
			resp.Stop = chunk.Stop
			resp.Interrupted = chunk.Stop == client.StopInterrupted
			resp.InputTokens = chunk.InputTokens
			resp.OutputTokens = chunk.OutputTokens
		}
	}

	for _, p := range resp.Parts {
		if p != nil && p.Text != "" {
			if resp.Text != "" {
				resp.Text += "\n"
			}
			resp.Text += p.Text
		}
	}
	return resp, streamErr
}

// dispatchCalls executes the model's tool calls in order and appends the
// result turn. Reports true when the task was cancelled partway; every
// undispatched call still gets a cancelled result so no ToolUse is left
// unanswered.
func (l *Loop) dispatchCalls(calls []*genai.FunctionCall) (aborted bool) {
	parts := make([]*genai.Part, 0, len(calls))
	var healNote string

	for i, call := range calls {
		if l.ctx().Err() != nil {
			for _, rest := range calls[i:] {
				parts = append(parts, tools.CancelledPart(rest))
			}
			aborted = true
			break
		}

		report := l.opts.Dispatcher.Dispatch(l.ctx(), l.task.ID, call)
		parts = append(parts, report.Part)
		l.task.Touch()

		if report.Durable {
			l.durable = true
		}
		if report.Tool == "write_file" && report.Result.Success {
			l.wroteFiles = true
		}
		if report.ServerStarted && report.ServerURL != "" && l.opts.Healer != nil {
			healNote = l.runHeal(report.ServerURL)
		}
	}

	if healNote != "" {
		parts = append(parts, genai.NewPartFromText(healNote))
	}
	l.appendHistory(&genai.Content{Role: genai.RoleUser, Parts: parts})
	return aborted
}

// runHeal validates and repairs a newly started dev server, returning a
// note for the model about what happened.
func (l *Loop) runHeal(url string) string {
	outcome, err := l.opts.Healer.Heal(l.ctx(), url)
	if err != nil {
		if l.ctx().Err() != nil {
			return ""
		}
		logging.Warn("auto-heal failed", "url", url, "error", err)
		return fmt.Sprintf("Auto-heal: preview at %s could not be validated: %v", url, err)
	}
	return "Auto-heal: " + outcome.Describe()
}

// shouldRemind decides whether a toolless final answer to a
// project-creation request earns a nudge instead of Done.
func (l *Loop) shouldRemind(resp *client.Response) bool {
	if l.reminders >= l.opts.MaxReminders || l.wroteFiles {
		return false
	}
	if resp.Stop != client.StopEndTurn && resp.Stop != client.StopUnknown {
		return false
	}
	return l.opts.Intent(l.request, resp.Text)
}

func (l *Loop) remind() {
	l.reminders++
	logging.Info("injecting project-creation reminder", "task", l.task.ID, "count", l.reminders)
	l.appendHistory(genai.NewContentFromText(reminderNote, genai.RoleUser))
}

func (l *Loop) finish() (string, error) {
	l.setState(StateDone)
	l.bus.Done(l.task.ID)
	logging.Info("submission done", "task", l.task.ID, "entries", len(l.history))
	return l.task.ID, nil
}

// abort finalizes a cancelled run: dev servers are signalled, partial
// output stays in history, and the host gets exactly one aborted
// notification.
func (l *Loop) abort() (string, error) {
	l.setState(StateDone)
	if l.opts.Procs != nil {
		if n := l.opts.Procs.SignalTask(l.task.ID); n > 0 {
			logging.Info("servers signalled on abort", "task", l.task.ID, "count", n)
		}
	}
	l.bus.Aborted(l.task.ID)
	logging.Info("submission aborted", "task", l.task.ID)
	return l.task.ID, context.Canceled
}

func (l *Loop) cancelled(err error) bool {
	return l.ctx().Err() != nil || errors.Is(err, context.Canceled)
}

func (l *Loop) ctx() context.Context {
	return l.task.Ctx
}

func (l *Loop) setState(s State) {
	if l.state != s {
		logging.Debug("loop state", "task", l.task.ID, "from", l.state.String(), "to", s.String())
		l.state = s
	}
}

// appendHistory appends one content to the task history and publishes the
// history-update. The loop is the sole writer of its task's history.
func (l *Loop) appendHistory(content *genai.Content) {
	l.history = append(l.history, content)
	l.task.History = l.history
	l.revision++
	l.bus.HistoryUpdate(l.task.ID, notify.HistoryUpdate{
		Revision: l.revision,
		Role:     roleName(content.Role),
		Preview:  previewOf(content),
		Entries:  len(l.history),
	})
}

func roleName(role string) string {
	if role == genai.RoleModel {
		return "assistant"
	}
	return "user"
}

const previewLimit = 96

// previewOf renders the first line of a content for history-update
// notifications.
func previewOf(c *genai.Content) string {
	for _, p := range c.Parts {
		switch {
		case p == nil:
		case p.Text != "":
			line := p.Text
			if idx := strings.IndexByte(line, '\n'); idx >= 0 {
				line = line[:idx]
			}
			if len(line) > previewLimit {
				line = line[:previewLimit] + "..."
			}
			return line
		case p.FunctionCall != nil:
			return "[tool call: " + p.FunctionCall.Name + "]"
		case p.FunctionResponse != nil:
			return "[tool result: " + p.FunctionResponse.Name + "]"
		case p.InlineData != nil:
			return "[image]"
		}
	}
	return ""
}

// textOf joins the text parts of a submission, for the intent heuristic.
func textOf(parts []*genai.Part) string {
	var out []string
	for _, p := range parts {
		if p != nil && p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return strings.Join(out, "\n")
}
