package client

import (
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestCollectKeepsPartialsOnError(t *testing.T) {
	chunks := make(chan ResponseChunk, 4)
	done := make(chan struct{})
	sr := &StreamingResponse{Chunks: chunks, Done: done}

	streamErr := errors.New("stream read failed")
	chunks <- ResponseChunk{Text: "hel"}
	chunks <- ResponseChunk{Text: "lo"}
	chunks <- ResponseChunk{
		Done:  true,
		Error: streamErr,
		Stop:  StopInterrupted,
		Parts: []*genai.Part{{Text: "hello[interrupted]"}},
	}
	close(chunks)
	close(done)

	resp, err := sr.Collect()
	if !errors.Is(err, streamErr) {
		t.Errorf("err = %v, want stream error", err)
	}
	if resp == nil {
		t.Fatal("resp = nil, want partial response")
	}
	if resp.Text != "hello[interrupted]" {
		t.Errorf("text = %q, want marked partial", resp.Text)
	}
	if !resp.Interrupted {
		t.Error("Interrupted = false")
	}
}

func TestCollectUsesFinalChunkAsCanonical(t *testing.T) {
	chunks := make(chan ResponseChunk, 4)
	done := make(chan struct{})
	sr := &StreamingResponse{Chunks: chunks, Done: done}

	call := &genai.FunctionCall{ID: "toolu_1", Name: "read_file", Args: map[string]any{"path": "x"}}
	chunks <- ResponseChunk{Text: "reading"}
	chunks <- ResponseChunk{
		Done:          true,
		Stop:          StopToolUse,
		Parts:         []*genai.Part{{Text: "reading"}, {FunctionCall: call}},
		FunctionCalls: []*genai.FunctionCall{call},
		InputTokens:   3,
		OutputTokens:  7,
	}
	close(chunks)
	close(done)

	resp, err := sr.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(resp.FunctionCalls) != 1 || resp.FunctionCalls[0].ID != "toolu_1" {
		t.Errorf("calls = %+v", resp.FunctionCalls)
	}
	if resp.InputTokens != 3 || resp.OutputTokens != 7 {
		t.Errorf("usage = (%d, %d)", resp.InputTokens, resp.OutputTokens)
	}
	if resp.Stop != StopToolUse {
		t.Errorf("stop = %q", resp.Stop)
	}
}
