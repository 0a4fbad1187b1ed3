package bridge

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"
)

// fakeTransport answers requests through a handler func, standing in for
// a server process.
type fakeTransport struct {
	handler func(*Message) *Message

	mu       sync.Mutex
	sent     []*Message
	incoming chan *Message
	closed   sync.Once
}

func newFakeTransport(handler func(*Message) *Message) *fakeTransport {
	return &fakeTransport{handler: handler, incoming: make(chan *Message, 16)}
}

func (t *fakeTransport) Send(msg *Message) error {
	t.mu.Lock()
	t.sent = append(t.sent, msg)
	t.mu.Unlock()

	if msg.ID == "" || t.handler == nil {
		return nil
	}
	if resp := t.handler(msg); resp != nil {
		resp.ID = msg.ID
		t.incoming <- resp
	}
	return nil
}

func (t *fakeTransport) Receive() (*Message, error) {
	msg, ok := <-t.incoming
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (t *fakeTransport) Close() error {
	t.closed.Do(func() { close(t.incoming) })
	return nil
}

func (t *fakeTransport) sentMethods() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, m := range t.sent {
		out = append(out, m.Method)
	}
	return out
}

func TestConnCallToolRoundTrip(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		if req.Method != methodCallTool {
			t.Errorf("method = %q", req.Method)
		}
		return &Message{Result: map[string]any{
			"content": []map[string]any{{"type": "text", "text": "42 stars"}},
		}}
	})
	conn := newConn("github", transport, 0)
	defer conn.Close()

	result, err := conn.CallTool(context.Background(), "star-count", map[string]any{"repo": "a/b"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError || result.Text() != "42 stars" {
		t.Errorf("result = %+v", result)
	}
}

func TestConnListTools(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		return &Message{Result: map[string]any{
			"tools": []map[string]any{
				{"name": "search", "description": "Find things"},
				{"name": "fetch"},
			},
		}}
	})
	conn := newConn("web", transport, 0)
	defer conn.Close()

	infos, err := conn.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "search" || infos[1].Name != "fetch" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestConnServerErrorSurfaces(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		return &Message{Error: &RPCError{Code: -32601, Message: "method not found"}}
	})
	conn := newConn("broken", transport, 0)
	defer conn.Close()

	_, err := conn.ListTools(context.Background())
	if err == nil || !strings.Contains(err.Error(), "method not found") {
		t.Errorf("err = %v", err)
	}
}

func TestConnRequestTimeout(t *testing.T) {
	transport := newFakeTransport(nil) // never answers
	conn := newConn("slow", transport, 0)
	conn.timeout = 50 * time.Millisecond
	defer conn.Close()

	_, err := conn.ListTools(context.Background())
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}

func TestConnTransportLossFailsPending(t *testing.T) {
	transport := newFakeTransport(nil)
	conn := newConn("dying", transport, 0)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ListTools(context.Background())
		errCh <- err
	}()

	// Let the request register, then kill the pipe.
	time.Sleep(20 * time.Millisecond)
	transport.Close()

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "connection lost") {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed on transport loss")
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, defaultRPCTimeout},
		{5 * time.Second, minRPCTimeout},
		{30 * time.Second, maxRPCTimeout},
		{12 * time.Second, 12 * time.Second},
	}
	for _, tt := range tests {
		if got := clampTimeout(tt.in); got != tt.want {
			t.Errorf("clampTimeout(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestServerToolNamespacing(t *testing.T) {
	conn := &Conn{server: "github"}
	tool := newServerTool(conn, &ToolInfo{Name: "create-issue", Description: "Open an issue"})

	if tool.Name() != "github__create-issue" {
		t.Errorf("name = %q", tool.Name())
	}
	if tool.Declaration().Name != "github__create-issue" {
		t.Errorf("declaration name = %q", tool.Declaration().Name)
	}

	// Characters the backend rejects are replaced.
	odd := newServerTool(&Conn{server: "my server"}, &ToolInfo{Name: "do it!"})
	if odd.Name() != "my_server__do_it_" {
		t.Errorf("sanitized name = %q", odd.Name())
	}
}

func TestServerToolValidate(t *testing.T) {
	tool := newServerTool(&Conn{server: "s"}, &ToolInfo{
		Name: "t",
		InputSchema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"query": {Type: "string"},
				"limit": {Type: "integer"},
			},
			Required: []string{"query"},
		},
	})

	if err := tool.Validate(map[string]any{"query": "x", "limit": 3}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := tool.Validate(map[string]any{"limit": 3}); err == nil {
		t.Error("missing required field accepted")
	}
	if err := tool.Validate(map[string]any{"query": 7}); err == nil {
		t.Error("wrong type accepted")
	}
}

func TestServerToolExecute(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		return &Message{Result: map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "line one"},
				{"type": "image", "mimeType": "image/png"},
			},
		}}
	})
	conn := newConn("cam", transport, 0)
	defer conn.Close()

	tool := newServerTool(conn, &ToolInfo{Name: "snap"})
	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Content != "line one\n[image: image/png]" {
		t.Errorf("content = %q", result.Content)
	}
	data := result.Data.(map[string]any)
	if data["bridge_server"] != "cam" || data["bridge_tool"] != "snap" {
		t.Errorf("data = %v", data)
	}
}

func TestServerToolExecuteError(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		return &Message{Result: map[string]any{
			"content": []map[string]any{{"type": "text", "text": "no such repo"}},
			"isError": true,
		}}
	})
	conn := newConn("github", transport, 0)
	defer conn.Close()

	tool := newServerTool(conn, &ToolInfo{Name: "clone"})
	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Error != "no such repo" {
		t.Errorf("result = %+v", result)
	}
}

func TestToGenaiSchema(t *testing.T) {
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"tags": {Type: "array", Items: &Schema{Type: "string", Enum: []string{"a", "b"}}},
			"n":    {Type: "integer", Description: "how many"},
		},
		Required: []string{"n"},
	}

	got := toGenaiSchema(schema)
	if got.Type != genai.TypeObject || len(got.Required) != 1 {
		t.Fatalf("got = %+v", got)
	}
	tags := got.Properties["tags"]
	if tags.Type != genai.TypeArray || tags.Items.Type != genai.TypeString || len(tags.Items.Enum) != 2 {
		t.Errorf("tags = %+v", tags)
	}
	if got.Properties["n"].Description != "how many" {
		t.Errorf("n = %+v", got.Properties["n"])
	}

	if nilCase := toGenaiSchema(nil); nilCase.Type != genai.TypeObject {
		t.Errorf("nil schema type = %v", nilCase.Type)
	}
}

func TestCallResultText(t *testing.T) {
	empty := &CallResult{}
	if empty.Text() != "(no output)" {
		t.Errorf("empty = %q", empty.Text())
	}

	mixed := &CallResult{Content: []*ContentBlock{
		{Type: "text", Text: "hello"},
		{Type: "resource", URI: "file:///a"},
	}}
	if mixed.Text() != "hello\n[resource: file:///a]" {
		t.Errorf("mixed = %q", mixed.Text())
	}
}

func TestMessageIDAcceptsNumbers(t *testing.T) {
	// Some servers issue numeric ids on their own requests; both forms
	// must survive decoding.
	var numeric Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`), &numeric); err != nil {
		t.Fatalf("numeric id: %v", err)
	}
	if numeric.ID != "7" {
		t.Errorf("id = %q", numeric.ID)
	}

	var str Message
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","result":{}}`), &str); err != nil {
		t.Fatalf("string id: %v", err)
	}
	if str.ID != "abc" {
		t.Errorf("id = %q", str.ID)
	}
}

func TestInitializeHandshake(t *testing.T) {
	transport := newFakeTransport(func(req *Message) *Message {
		if req.Method == methodInitialize {
			return &Message{Result: map[string]any{
				"protocolVersion": protocolVersion,
				"serverInfo":      map[string]any{"name": "test-server", "version": "0.1"},
			}}
		}
		return &Message{Result: map[string]any{}}
	})
	conn := newConn("t", transport, 0)
	defer conn.Close()

	if err := conn.initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	methods := transport.sentMethods()
	if len(methods) != 2 || methods[0] != methodInitialize || methods[1] != methodInitialized {
		t.Errorf("methods = %v", methods)
	}
}
