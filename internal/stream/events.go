package stream

import (
	"encoding/json"
	"fmt"
)

// Backend stream event types, mirroring the Anthropic Messages API.
const (
	EventMessageStart = "message_start"
	EventBlockStart   = "content_block_start"
	EventBlockDelta   = "content_block_delta"
	EventBlockStop    = "content_block_stop"
	EventMessageDelta = "message_delta"
	EventMessageStop  = "message_stop"
	EventPing         = "ping"
	EventError        = "error"
)

// Delta types inside content_block_delta events.
const (
	DeltaText      = "text_delta"
	DeltaThinking  = "thinking_delta"
	DeltaInputJSON = "input_json_delta"
)

// Event is one decoded stream event.
type Event struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock *Block       `json:"content_block,omitempty"`
	Delta        *Delta       `json:"delta,omitempty"`
	Message      *MessageInfo `json:"message,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Error        *ErrorInfo   `json:"error,omitempty"`
}

// Block is the content_block payload of a block-start event.
type Block struct {
	Type string `json:"type"` // "text", "thinking" or "tool_use"
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

// Delta carries the incremental payload of a block-delta or message-delta
// event.
type Delta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// MessageInfo is the message payload of a message-start event.
type MessageInfo struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage carries token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ErrorInfo is the payload of an error event.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decode parses one SSE data payload into an Event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding stream event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("stream event missing type")
	}
	return ev, nil
}
