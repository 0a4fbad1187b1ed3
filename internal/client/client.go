// Package client talks to LLM backends. All providers speak the same
// currency: genai content for history, genai declarations for tools, and a
// channel of ResponseChunks for streaming output.
package client

import (
	"context"

	"google.golang.org/genai"
)

// StopReason records why a response ended.
type StopReason string

const (
	StopEndTurn     StopReason = "end_turn"
	StopToolUse     StopReason = "tool_use"
	StopMaxTokens   StopReason = "max_tokens"
	StopInterrupted StopReason = "interrupted"
	StopUnknown     StopReason = ""
)

// Client is a conversation backend.
type Client interface {
	// SendMessage sends a bare user message with no history.
	SendMessage(ctx context.Context, message string) (*StreamingResponse, error)

	// SendMessageWithHistory sends a new user message after the given
	// history.
	SendMessageWithHistory(ctx context.Context, history []*genai.Content, message string) (*StreamingResponse, error)

	// SendFunctionResponse returns tool results to the model. Each result's
	// ID must match the FunctionCall it answers.
	SendFunctionResponse(ctx context.Context, history []*genai.Content, results []*genai.FunctionResponse) (*StreamingResponse, error)

	// SendContents sends a history whose final content already is the next
	// user turn; nothing is appended. Callers that build mixed text/image
	// turns or inject notes use this form.
	SendContents(ctx context.Context, history []*genai.Content) (*StreamingResponse, error)

	// SetTools sets the tool declarations offered on subsequent requests.
	SetTools(tools []*genai.Tool)

	// SetSystemInstruction sets the system prompt for subsequent requests.
	SetSystemInstruction(instruction string)

	// GetModel returns the current model identifier.
	GetModel() string

	// SetModel switches the model for subsequent requests.
	SetModel(name string)

	// Close releases transport resources.
	Close() error
}

// StreamingResponse is a live response being assembled.
type StreamingResponse struct {
	// Chunks receives incremental output and, last, a final chunk with
	// Done set. The channel is closed after the final chunk.
	Chunks <-chan ResponseChunk

	// Done is closed when streaming ends.
	Done <-chan struct{}
}

// ResponseChunk is one unit of streamed output. Intermediate chunks carry
// Text or Thinking deltas; the final chunk carries the canonical block
// list, stop reason and usage.
type ResponseChunk struct {
	Text     string
	Thinking string

	// Parts is the finished block list in block-start order. Set on the
	// final chunk only.
	Parts []*genai.Part

	// FunctionCalls are the finished tool calls. Set on the final chunk.
	FunctionCalls []*genai.FunctionCall

	// Error is the failure that ended the stream, if any. Partial Parts
	// may accompany it.
	Error error

	Done bool
	Stop StopReason

	InputTokens  int
	OutputTokens int
}

// Response is a fully collected response.
type Response struct {
	Text     string
	Thinking string

	Parts         []*genai.Part
	FunctionCalls []*genai.FunctionCall

	Stop        StopReason
	Interrupted bool

	InputTokens  int
	OutputTokens int
}

// Collect drains the stream into a Response. When the stream failed partway
// the partial response is returned together with the error, so callers can
// preserve output already produced.
func (sr *StreamingResponse) Collect() (*Response, error) {
	resp := &Response{}
	var streamErr error

	for chunk := range sr.Chunks {
		if chunk.Error != nil && streamErr == nil {
			streamErr = chunk.Error
		}
		resp.Thinking += chunk.Thinking

		if chunk.Done {
			resp.Parts = chunk.Parts
			resp.FunctionCalls = chunk.FunctionCalls
			resp.Stop = chunk.Stop
			resp.Interrupted = chunk.Stop == StopInterrupted
			if chunk.InputTokens > 0 {
				resp.InputTokens = chunk.InputTokens
			}
			if chunk.OutputTokens > 0 {
				resp.OutputTokens = chunk.OutputTokens
			}
		}
	}

	// Canonical text comes from the finished blocks, which already carry
	// any interruption marker.
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
