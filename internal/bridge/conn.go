package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"baton/internal/logging"
)

// Bridge calls are bounded so a wedged plugin server cannot stall a loop
// iteration indefinitely.
const (
	minRPCTimeout     = 10 * time.Second
	maxRPCTimeout     = 15 * time.Second
	defaultRPCTimeout = 12 * time.Second
)

// Transport carries JSON-RPC messages to and from one server.
type Transport interface {
	Send(msg *Message) error
	// Receive blocks for the next message; io.EOF means the server is gone.
	Receive() (*Message, error)
	Close() error
}

// Conn is an initialized JSON-RPC session with one plugin-tool server.
// Responses are correlated to requests by uuid, so calls from concurrent
// loop iterations can interleave on one pipe.
type Conn struct {
	transport Transport
	server    string
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan *Message
	closed  bool

	done chan struct{}
}

// clampTimeout keeps a configured per-call timeout inside the supported
// band; zero selects the default.
func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultRPCTimeout
	case d < minRPCTimeout:
		return minRPCTimeout
	case d > maxRPCTimeout:
		return maxRPCTimeout
	default:
		return d
	}
}

// newConn wraps a transport. Used directly by tests; production code goes
// through Dial.
func newConn(server string, transport Transport, timeout time.Duration) *Conn {
	c := &Conn{
		transport: transport,
		server:    server,
		timeout:   clampTimeout(timeout),
		pending:   make(map[string]chan *Message),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Dial spawns the server process and performs the initialize handshake.
func Dial(ctx context.Context, server, command string, args []string, env map[string]string, timeout time.Duration) (*Conn, error) {
	transport, err := startStdio(command, args, env)
	if err != nil {
		return nil, err
	}
	c := newConn(server, transport, timeout)
	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Server returns the configured server name, the tool namespace.
func (c *Conn) Server() string { return c.server }

func (c *Conn) receiveLoop() {
	defer close(c.done)
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			if err != io.EOF {
				logging.Warn("bridge receive failed", "server", c.server, "error", err)
			}
			c.failPending(err)
			return
		}
		if !msg.IsResponse() {
			logging.Debug("bridge notification", "server", c.server, "method", msg.Method)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[string(msg.ID)]
		if ok {
			delete(c.pending, string(msg.ID))
		}
		c.mu.Unlock()
		if !ok {
			logging.Warn("bridge response for unknown request", "server", c.server, "id", msg.ID)
			continue
		}
		ch <- msg
	}
}

// failPending wakes every waiter after the transport dies so no call
// blocks out its full timeout.
func (c *Conn) failPending(err error) {
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	waiters := c.pending
	c.pending = make(map[string]chan *Message)
	c.mu.Unlock()

	for id, ch := range waiters {
		ch <- &Message{ID: msgID(id), Error: &RPCError{Code: -32603, Message: fmt.Sprintf("server connection lost: %v", err)}}
	}
}

func (c *Conn) request(ctx context.Context, method string, params any) (*Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge %s: connection closed", c.server)
	}
	id := uuid.NewString()
	ch := make(chan *Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(&Message{ID: msgID(id), Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("bridge %s: send: %w", c.server, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("bridge %s: %w", c.server, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("bridge %s: %s timed out after %s", c.server, method, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) notify(method string, params any) error {
	return c.transport.Send(&Message{Method: method, Params: params})
}

func (c *Conn) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "baton", Version: "1.0.0"},
		Capabilities:    map[string]any{},
	}
	resp, err := c.request(ctx, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify(methodInitialized, nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	logging.Info("bridge server connected", "server", c.server, "remote", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	return nil
}

// ListTools fetches the server's current tool list.
func (c *Conn) ListTools(ctx context.Context) ([]*ToolInfo, error) {
	resp, err := c.request(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool executes one tool on the server.
func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	resp, err := c.request(ctx, methodCallTool, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close tears the session down and waits briefly for the receive loop.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.transport.Close()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		logging.Warn("bridge receive loop slow to stop", "server", c.server)
	}
	return err
}

// decodeResult re-marshals the anonymous Result field into a typed value.
func decodeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// stdioTransport runs the server as a child process speaking
// newline-delimited JSON on stdin/stdout.
type stdioTransport struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *json.Encoder
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// bridgeEnvVars is the allow-list of variables passed to server processes,
// the same policy run_command applies to spawned shells.
var bridgeEnvVars = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM", "LANG", "LC_ALL",
	"TMPDIR", "XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_CACHE_HOME",
	"NODE_PATH", "NPM_CONFIG_PREFIX", "PYTHONPATH", "VIRTUAL_ENV",
}

func bridgeEnv(extra map[string]string) []string {
	env := make([]string, 0, len(bridgeEnvVars)+len(extra))
	hasPath := false
	for _, key := range bridgeEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
			if key == "PATH" {
				hasPath = true
			}
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	for k, v := range extra {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func startStdio(command string, args []string, env map[string]string) (*stdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = bridgeEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logging.Debug("bridge server stderr", "command", command, "line", sc.Text())
		}
	}()

	t := &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		scanner: bufio.NewScanner(stdout),
	}
	t.scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	logging.Debug("bridge server started", "command", command, "pid", cmd.Process.Pid)
	return t, nil
}

func (t *stdioTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	msg.JSONRPC = "2.0"
	return t.encoder.Encode(msg)
}

func (t *stdioTransport) Receive() (*Message, error) {
	for {
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := strings.TrimSpace(t.scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("malformed message: %w", err)
		}
		return &msg, nil
	}
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Closing stdin asks the server to exit; escalate if it lingers.
	t.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Warn("bridge server unresponsive, killing", "pid", t.cmd.Process.Pid)
		t.cmd.Process.Kill()
		<-done
	}
	return nil
}
