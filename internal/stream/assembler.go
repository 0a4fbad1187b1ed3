// Package stream reduces the incremental backend event stream into an
// ordered list of finished content blocks. The reducer is a small explicit
// state machine so protocol violations (stray deltas, unclosed blocks,
// malformed tool input) are ordinary states rather than panics.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"baton/internal/logging"
)

// Phase is the assembler's position in the stream protocol.
type Phase int

const (
	PhaseIdle     Phase = iota // before message_start
	PhaseOpen                  // inside a message, between blocks
	PhaseText                  // inside a text block
	PhaseThinking              // inside a thinking block
	PhaseToolUse               // inside a tool_use block
	PhaseDone                  // terminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOpen:
		return "open"
	case PhaseText:
		return "text"
	case PhaseThinking:
		return "thinking"
	case PhaseToolUse:
		return "tool_use"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Marker keys placed into a tool call's args when its input JSON could not
// be parsed. The dispatcher turns these into an error result instead of
// invoking the tool.
const (
	MalformedInputKey = "__malformed_input"
	RawInputKey       = "__raw_input"
)

// InterruptedMarker is appended to trailing text when a stream ends before
// the backend finished the message.
const InterruptedMarker = "[interrupted]"

// StopInterrupted is the stop reason recorded for interrupted streams.
const StopInterrupted = "interrupted"

// Assembler reduces events into finished blocks. Blocks appear in Parts in
// the order their block-start events arrived.
type Assembler struct {
	phase Phase

	parts []*genai.Part
	calls []*genai.FunctionCall

	text      strings.Builder
	thinking  strings.Builder
	toolID    string
	toolName  string
	toolInput strings.Builder

	stopReason   string
	inputTokens  int
	outputTokens int
	err          error

	// OnText and OnThinking observe deltas as they arrive, for streaming
	// them onward before the message completes.
	OnText     func(string)
	OnThinking func(string)
}

// New returns an assembler at PhaseIdle.
func New() *Assembler {
	return &Assembler{phase: PhaseIdle}
}

// Phase returns the current machine phase.
func (a *Assembler) Phase() Phase { return a.phase }

// Parts returns the finished blocks in block-start order.
func (a *Assembler) Parts() []*genai.Part { return a.parts }

// Calls returns the finished tool calls in block-start order.
func (a *Assembler) Calls() []*genai.FunctionCall { return a.calls }

// Thinking returns the accumulated thinking text. Thinking is surfaced to
// observers but never becomes a history block.
func (a *Assembler) Thinking() string { return a.thinking.String() }

// StopReason returns the backend stop reason, or StopInterrupted after
// FinishInterrupted.
func (a *Assembler) StopReason() string { return a.stopReason }

// Usage returns the input and output token counts reported by the backend.
func (a *Assembler) Usage() (in, out int) { return a.inputTokens, a.outputTokens }

// Err returns the terminal error carried by an error event, if any.
func (a *Assembler) Err() error { return a.err }

// Done reports whether the machine reached its terminal phase.
func (a *Assembler) Done() bool { return a.phase == PhaseDone }

// Feed advances the machine by one event. Events that are invalid in the
// current phase are dropped with a log line; Feed never panics on
// malformed input.
func (a *Assembler) Feed(ev Event) {
	if a.phase == PhaseDone {
		logging.Debug("stream event after terminal phase dropped", "type", ev.Type)
		return
	}

	switch ev.Type {
	case EventPing:
		// Keep-alive, no state change.

	case EventMessageStart:
		if a.phase != PhaseIdle {
			logging.Warn("unexpected message_start", "phase", a.phase.String())
			return
		}
		if ev.Message != nil && ev.Message.Usage != nil {
			a.inputTokens = ev.Message.Usage.InputTokens
		}
		a.phase = PhaseOpen

	case EventBlockStart:
		a.openBlock(ev.ContentBlock)

	case EventBlockDelta:
		a.applyDelta(ev.Delta)

	case EventBlockStop:
		if a.phase == PhaseOpen || a.phase == PhaseIdle {
			logging.Debug("stray content_block_stop dropped", "phase", a.phase.String())
			return
		}
		a.closeBlock()

	case EventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			a.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil && ev.Usage.OutputTokens > 0 {
			a.outputTokens = ev.Usage.OutputTokens
		}

	case EventMessageStop:
		// A block left open here is a protocol violation; the backend said
		// the message is complete, so finalize with what arrived.
		if a.inBlock() {
			logging.Warn("message_stop with open block", "phase", a.phase.String())
			a.closeBlock()
		}
		a.phase = PhaseDone

	case EventError:
		msg := "backend stream error"
		if ev.Error != nil {
			msg = fmt.Sprintf("backend stream error (%s): %s", ev.Error.Type, ev.Error.Message)
		}
		a.err = fmt.Errorf("%s", msg)
		a.phase = PhaseDone

	default:
		logging.Debug("unknown stream event dropped", "type", ev.Type)
	}
}

func (a *Assembler) inBlock() bool {
	return a.phase == PhaseText || a.phase == PhaseThinking || a.phase == PhaseToolUse
}

func (a *Assembler) openBlock(b *Block) {
	if a.phase == PhaseIdle {
		// Tolerate backends that skip message_start.
		a.phase = PhaseOpen
	}
	if a.inBlock() {
		logging.Warn("content_block_start without stop, closing previous block", "phase", a.phase.String())
		a.closeBlock()
	}
	if b == nil {
		logging.Warn("content_block_start missing content_block")
		return
	}

	switch b.Type {
	case "text":
		a.text.Reset()
		if b.Text != "" {
			a.text.WriteString(b.Text)
			if a.OnText != nil {
				a.OnText(b.Text)
			}
		}
		a.phase = PhaseText
	case "thinking":
		a.phase = PhaseThinking
	case "tool_use":
		a.toolID = b.ID
		a.toolName = b.Name
		a.toolInput.Reset()
		a.phase = PhaseToolUse
	default:
		logging.Debug("unknown content block type dropped", "type", b.Type)
	}
}

func (a *Assembler) applyDelta(d *Delta) {
	if d == nil {
		return
	}
	switch d.Type {
	case DeltaText:
		if a.phase != PhaseText {
			logging.Debug("stray text_delta dropped", "phase", a.phase.String())
			return
		}
		a.text.WriteString(d.Text)
		if a.OnText != nil && d.Text != "" {
			a.OnText(d.Text)
		}
	case DeltaThinking:
		if a.phase != PhaseThinking {
			logging.Debug("stray thinking_delta dropped", "phase", a.phase.String())
			return
		}
		a.thinking.WriteString(d.Thinking)
		if a.OnThinking != nil && d.Thinking != "" {
			a.OnThinking(d.Thinking)
		}
	case DeltaInputJSON:
		if a.phase != PhaseToolUse {
			logging.Debug("stray input_json_delta dropped", "phase", a.phase.String())
			return
		}
		a.toolInput.WriteString(d.PartialJSON)
	default:
		logging.Debug("unknown delta type dropped", "type", d.Type)
	}
}

// closeBlock finalizes the open block into a part.
func (a *Assembler) closeBlock() {
	switch a.phase {
	case PhaseText:
		if text := a.text.String(); text != "" {
			a.parts = append(a.parts, &genai.Part{Text: text})
		}
		a.text.Reset()
	case PhaseThinking:
		// Accumulated in a.thinking already; thinking never enters history.
	case PhaseToolUse:
		call := &genai.FunctionCall{
			ID:   a.toolID,
			Name: a.toolName,
			Args: a.parseToolInput(),
		}
		a.calls = append(a.calls, call)
		a.parts = append(a.parts, &genai.Part{FunctionCall: call})
		a.toolID = ""
		a.toolName = ""
		a.toolInput.Reset()
	}
	a.phase = PhaseOpen
}

// parseToolInput decodes the buffered input JSON. Malformed input yields an
// args map carrying an explicit error marker instead of failing the stream.
func (a *Assembler) parseToolInput() map[string]any {
	raw := a.toolInput.String()
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		logging.Warn("malformed tool input JSON", "tool", a.toolName, "error", err)
		return map[string]any{
			MalformedInputKey: fmt.Sprintf("tool input was not valid JSON: %v", err),
			RawInputKey:       raw,
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

// FinishInterrupted finalizes a stream that ended before message_stop,
// either because the user cancelled or the connection dropped. An open
// tool_use block is discarded (its input never completed) and the trailing
// text is marked interrupted.
func (a *Assembler) FinishInterrupted() {
	if a.phase == PhaseDone {
		return
	}

	switch a.phase {
	case PhaseToolUse:
		logging.Info("dropping incomplete tool call", "tool", a.toolName)
		a.toolID = ""
		a.toolName = ""
		a.toolInput.Reset()
		a.markTrailingText()
	case PhaseText:
		a.text.WriteString(InterruptedMarker)
		a.parts = append(a.parts, &genai.Part{Text: a.text.String()})
		a.text.Reset()
	default:
		a.markTrailingText()
	}

	a.stopReason = StopInterrupted
	a.phase = PhaseDone
}

// markTrailingText appends the interrupted marker to the last finished text
// block, or adds a marker-only block when there is none.
func (a *Assembler) markTrailingText() {
	for i := len(a.parts) - 1; i >= 0; i-- {
		if a.parts[i].Text != "" {
			a.parts[i] = &genai.Part{Text: a.parts[i].Text + InterruptedMarker}
			return
		}
	}
	a.parts = append(a.parts, &genai.Part{Text: InterruptedMarker})
}

// Interrupted reports whether the stream was finalized by FinishInterrupted.
func (a *Assembler) Interrupted() bool { return a.stopReason == StopInterrupted }
