package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"baton/internal/logging"
	"baton/internal/stream"
)

const defaultAnthropicURL = "https://api.anthropic.com"

// AnthropicConfig holds settings for the Anthropic-compatible Messages API.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string // empty = api.anthropic.com
	Model       string
	MaxTokens   int
	HTTPTimeout time.Duration
}

// AnthropicClient implements Client against the streaming Messages API.
// Failed requests are returned classified, not retried here; retry policy
// belongs to the recovery controller driving the loop.
type AnthropicClient struct {
	mu         sync.RWMutex
	config     AnthropicConfig
	httpClient *http.Client
	tools      []*genai.Tool
	system     string
}

// NewAnthropicClient creates a client for an Anthropic-compatible endpoint.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultAnthropicURL
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q: must start with http:// or https://", config.BaseURL)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}
	if config.HTTPTimeout < time.Second {
		return nil, fmt.Errorf("HTTP timeout too short: %v", config.HTTPTimeout)
	}

	return &AnthropicClient{
		config:     config,
		httpClient: newHTTPClient(config.HTTPTimeout),
	}, nil
}

// SendMessage sends a bare user message with no history.
func (c *AnthropicClient) SendMessage(ctx context.Context, message string) (*StreamingResponse, error) {
	return c.SendMessageWithHistory(ctx, nil, message)
}

// SendMessageWithHistory sends a new user message after the given history.
func (c *AnthropicClient) SendMessageWithHistory(ctx context.Context, history []*genai.Content, message string) (*StreamingResponse, error) {
	messages := c.convertHistory(history)
	if message == "" {
		message = "Continue."
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": message,
	})
	return c.streamRequest(ctx, c.buildRequest(messages))
}

// SendFunctionResponse returns tool results to the model.
func (c *AnthropicClient) SendFunctionResponse(ctx context.Context, history []*genai.Content, results []*genai.FunctionResponse) (*StreamingResponse, error) {
	messages := c.convertHistory(history)

	blocks := make([]map[string]any, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, toolResultBlock(result))
	}
	messages = append(messages, map[string]any{
		"role":    "user",
		"content": blocks,
	})
	return c.streamRequest(ctx, c.buildRequest(messages))
}

// SendContents sends a history that already ends with the user turn.
func (c *AnthropicClient) SendContents(ctx context.Context, history []*genai.Content) (*StreamingResponse, error) {
	return c.streamRequest(ctx, c.buildRequest(c.convertHistory(history)))
}

// SetTools sets the tool declarations offered on subsequent requests.
func (c *AnthropicClient) SetTools(tools []*genai.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// SetSystemInstruction sets the system prompt, sent via the API's native
// system parameter.
func (c *AnthropicClient) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = instruction
}

// GetModel returns the current model identifier.
func (c *AnthropicClient) GetModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Model
}

// SetModel switches the model for subsequent requests.
func (c *AnthropicClient) SetModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Model = name
}

// Close releases idle transport connections.
func (c *AnthropicClient) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func (c *AnthropicClient) buildRequest(messages []map[string]any) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	body := map[string]any{
		"model":      c.config.Model,
		"max_tokens": c.config.MaxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if c.system != "" {
		body["system"] = c.system
	}
	if len(c.tools) > 0 {
		if tools := convertTools(c.tools); len(tools) > 0 {
			body["tools"] = tools
		}
	}
	return body
}

func (c *AnthropicClient) streamRequest(ctx context.Context, body map[string]any) (*StreamingResponse, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	c.mu.RLock()
	baseURL, apiKey, model := c.config.BaseURL, c.config.APIKey, c.config.Model
	c.mu.RUnlock()

	url := strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	logging.Debug("backend request", "url", url, "model", model, "bytes", len(jsonData))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if readErr != nil {
			raw = []byte("(unreadable response body)")
		}
		apiErr := parseAPIError(resp.StatusCode, raw)
		logging.Warn("backend error", "status", resp.StatusCode, "type", apiErr.Type)
		return nil, apiErr
	}

	chunks := make(chan ResponseChunk, 16)
	done := make(chan struct{})
	go c.consumeStream(ctx, resp.Body, chunks, done)

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

// consumeStream scans SSE lines, feeds them through the assembler state
// machine and forwards chunks. It always emits a terminal chunk carrying
// the finished (possibly partial) block list.
func (c *AnthropicClient) consumeStream(ctx context.Context, rc io.ReadCloser, chunks chan<- ResponseChunk, done chan struct{}) {
	defer close(done)
	defer close(chunks)
	defer rc.Close()

	asm := stream.New()
	asm.OnText = func(text string) {
		select {
		case chunks <- ResponseChunk{Text: text}:
		case <-ctx.Done():
		}
	}
	asm.OnThinking = func(thinking string) {
		select {
		case chunks <- ResponseChunk{Thinking: thinking}:
		case <-ctx.Done():
		}
	}

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var scanErr error
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		data, ok := cutDataPrefix(line)
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		ev, err := stream.Decode([]byte(data))
		if err != nil {
			logging.Warn("undecodable stream event skipped", "error", err)
			continue
		}
		asm.Feed(ev)
		if asm.Done() {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		scanErr = err
	}

	final := ResponseChunk{Done: true}
	switch {
	case ctx.Err() != nil && !asm.Done():
		asm.FinishInterrupted()
		final.Error = ctx.Err()
	case scanErr != nil && !asm.Done():
		asm.FinishInterrupted()
		final.Error = fmt.Errorf("stream read failed: %w", scanErr)
	case !asm.Done():
		// EOF before message_stop: the connection dropped mid-message.
		asm.FinishInterrupted()
		final.Error = fmt.Errorf("stream ended early: %w", io.ErrUnexpectedEOF)
	case asm.Err() != nil:
		final.Error = asm.Err()
	}

	final.Parts = asm.Parts()
	final.FunctionCalls = asm.Calls()
	final.Stop = mapStopReason(asm.StopReason())
	final.InputTokens, final.OutputTokens = asm.Usage()
	chunks <- final
}

func cutDataPrefix(line string) (string, bool) {
	if rest, ok := strings.CutPrefix(line, "data: "); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return rest, true
	}
	return "", false
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "end_turn":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case stream.StopInterrupted:
		return StopInterrupted
	default:
		return StopUnknown
	}
}

func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: status, Type: envelope.Error.Type, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

// convertHistory renders genai history as Messages API messages.
func (c *AnthropicClient) convertHistory(history []*genai.Content) []map[string]any {
	messages := make([]map[string]any, 0, len(history))
	for _, content := range history {
		if content == nil {
			continue
		}
		switch content.Role {
		case genai.RoleUser:
			messages = append(messages, buildUserMessage(content.Parts))
		case genai.RoleModel:
			messages = append(messages, buildAssistantMessage(content.Parts))
		}
	}
	return messages
}

func buildUserMessage(parts []*genai.Part) map[string]any {
	content := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == nil:
		case part.Text != "":
			content = append(content, map[string]any{
				"type": "text",
				"text": part.Text,
			})
		case part.InlineData != nil:
			content = append(content, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": part.InlineData.MIMEType,
					"data":       base64.StdEncoding.EncodeToString(part.InlineData.Data),
				},
			})
		case part.FunctionResponse != nil:
			content = append(content, toolResultBlock(part.FunctionResponse))
		}
	}

	// The API rejects empty content arrays.
	if len(content) == 0 {
		content = append(content, map[string]any{"type": "text", "text": "Continue."})
	}
	return map[string]any{"role": "user", "content": content}
}

func buildAssistantMessage(parts []*genai.Part) map[string]any {
	content := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch {
		case part == nil:
		case part.Text != "":
			content = append(content, map[string]any{
				"type": "text",
				"text": part.Text,
			})
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				// A tool_use block without an id cannot be paired with its
				// result; generate one rather than dropping the block.
				id = RandomToolID()
				logging.Warn("function call missing ID", "tool", part.FunctionCall.Name, "generated", id)
			}
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  part.FunctionCall.Name,
				"input": part.FunctionCall.Args,
			})
		}
	}
	if len(content) == 0 {
		content = append(content, map[string]any{"type": "text", "text": " "})
	}
	return map[string]any{"role": "assistant", "content": content}
}

// toolResultBlock renders a FunctionResponse as a tool_result block. The
// result's ID must be the id of the tool_use it answers.
func toolResultBlock(result *genai.FunctionResponse) map[string]any {
	toolUseID := result.ID
	if toolUseID == "" {
		logging.Warn("tool result missing ID, falling back to name", "name", result.Name)
		toolUseID = result.Name
	}

	var text string
	isError := false
	if resp := result.Response; resp != nil {
		if s, ok := resp["content"].(string); ok {
			text = s
		} else if data, ok := resp["data"]; ok {
			if raw, err := json.Marshal(data); err == nil {
				text = string(raw)
			}
		}
		if errStr, ok := resp["error"].(string); ok && errStr != "" {
			text = errStr
			isError = true
		}
	}
	if text == "" {
		text = "Operation completed"
	}

	block := map[string]any{
		"type":        "tool_result",
		"tool_use_id": toolUseID,
		"content":     text,
	}
	if isError {
		block["is_error"] = true
	}
	return block
}

// convertSchema renders a genai schema as JSON Schema. genai spells types
// uppercase; the API wants lowercase.
func convertSchema(schema *genai.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	result := make(map[string]any)
	if schema.Type != "" {
		result["type"] = strings.ToLower(string(schema.Type))
	}
	if schema.Description != "" {
		result["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		result["enum"] = schema.Enum
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for name, prop := range schema.Properties {
			props[name] = convertSchema(prop)
		}
		result["properties"] = props
	}
	if len(schema.Required) > 0 {
		result["required"] = schema.Required
	}
	if schema.Items != nil {
		result["items"] = convertSchema(schema.Items)
	}
	return result
}

func convertTools(tools []*genai.Tool) []map[string]any {
	out := make([]map[string]any, 0)
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		for _, decl := range tool.FunctionDeclarations {
			schema := convertSchema(decl.Parameters)
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			out = append(out, map[string]any{
				"name":         decl.Name,
				"description":  decl.Description,
				"input_schema": schema,
			})
		}
	}
	return out
}

// RandomToolID generates a fresh tool_use id.
func RandomToolID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("toolu_%d", time.Now().UnixNano())
	}
	return "toolu_" + hex.EncodeToString(b)
}
