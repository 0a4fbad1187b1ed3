package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"google.golang.org/genai"

	"baton/internal/logging"
	"baton/internal/stream"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaConfig holds settings for a local or remote Ollama server.
type OllamaConfig struct {
	BaseURL     string // empty = localhost:11434
	APIKey      string // only for proxied remote servers
	Model       string
	MaxTokens   int
	HTTPTimeout time.Duration
}

// OllamaClient implements Client against an Ollama server.
type OllamaClient struct {
	mu     sync.RWMutex
	client *api.Client
	config OllamaConfig
	tools  []*genai.Tool
	system string
}

// NewOllamaClient creates a client for an Ollama server.
func NewOllamaClient(config OllamaConfig) (*OllamaClient, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 120 * time.Second
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL %q: %w", config.BaseURL, err)
	}

	httpClient := &http.Client{Timeout: config.HTTPTimeout}
	if config.APIKey != "" {
		httpClient.Transport = &authTransport{base: http.DefaultTransport, apiKey: config.APIKey}
	}

	return &OllamaClient{
		client: api.NewClient(baseURL, httpClient),
		config: config,
	}, nil
}

// SendMessage sends a bare user message with no history.
func (c *OllamaClient) SendMessage(ctx context.Context, message string) (*StreamingResponse, error) {
	return c.SendMessageWithHistory(ctx, nil, message)
}

// SendMessageWithHistory sends a new user message after the given history.
func (c *OllamaClient) SendMessageWithHistory(ctx context.Context, history []*genai.Content, message string) (*StreamingResponse, error) {
	messages := c.convertHistory(history)
	if message != "" {
		messages = append(messages, api.Message{Role: "user", Content: message})
	}
	return c.chat(ctx, messages)
}

// SendFunctionResponse returns tool results to the model as tool messages.
func (c *OllamaClient) SendFunctionResponse(ctx context.Context, history []*genai.Content, results []*genai.FunctionResponse) (*StreamingResponse, error) {
	messages := c.convertHistory(history)
	for _, result := range results {
		messages = append(messages, api.Message{
			Role:       "tool",
			Content:    resultText(result),
			ToolName:   result.Name,
			ToolCallID: result.ID,
		})
	}
	return c.chat(ctx, messages)
}

// SendContents sends a history that already ends with the user turn.
func (c *OllamaClient) SendContents(ctx context.Context, history []*genai.Content) (*StreamingResponse, error) {
	return c.chat(ctx, c.convertHistory(history))
}

// SetTools sets the tool declarations offered on subsequent requests.
func (c *OllamaClient) SetTools(tools []*genai.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// SetSystemInstruction sets the system prompt, prepended as a system
// message.
func (c *OllamaClient) SetSystemInstruction(instruction string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system = instruction
}

// GetModel returns the current model identifier.
func (c *OllamaClient) GetModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Model
}

// SetModel switches the model for subsequent requests.
func (c *OllamaClient) SetModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Model = name
}

// Close releases transport resources.
func (c *OllamaClient) Close() error { return nil }

func (c *OllamaClient) chat(ctx context.Context, messages []api.Message) (*StreamingResponse, error) {
	c.mu.RLock()
	req := &api.ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   ptr(true),
		Options:  map[string]any{},
	}
	if c.config.MaxTokens > 0 {
		req.Options["num_predict"] = c.config.MaxTokens
	}
	if len(c.tools) > 0 {
		req.Tools = c.convertTools()
	}
	c.mu.RUnlock()

	chunks := make(chan ResponseChunk, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(chunks)

		var (
			text         strings.Builder
			calls        []*genai.FunctionCall
			inputTokens  int
			outputTokens int
		)

		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				text.WriteString(resp.Message.Content)
				select {
				case chunks <- ResponseChunk{Text: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				calls = append(calls, toGenaiCall(tc))
			}
			if resp.Done {
				inputTokens = resp.PromptEvalCount
				outputTokens = resp.EvalCount
			}
			return nil
		})

		final := ResponseChunk{Done: true}
		interrupted := false
		if err != nil {
			if errors.Is(err, context.Canceled) {
				interrupted = true
				final.Error = err
			} else {
				final.Error = wrapOllamaError(err)
			}
		}

		// Assemble the canonical block list: text first, then tool calls,
		// matching the order the server produced them.
		var parts []*genai.Part
		if s := text.String(); s != "" || interrupted {
			if interrupted {
				s += stream.InterruptedMarker
			}
			parts = append(parts, &genai.Part{Text: s})
		}
		if interrupted {
			// Tool calls from a cancelled exchange are never dispatched.
			calls = nil
		}
		for _, call := range calls {
			parts = append(parts, &genai.Part{FunctionCall: call})
		}

		final.Parts = parts
		final.FunctionCalls = calls
		final.InputTokens = inputTokens
		final.OutputTokens = outputTokens
		switch {
		case interrupted:
			final.Stop = StopInterrupted
		case len(calls) > 0:
			final.Stop = StopToolUse
		default:
			final.Stop = StopEndTurn
		}
		chunks <- final
	}()

	return &StreamingResponse{Chunks: chunks, Done: done}, nil
}

func (c *OllamaClient) convertHistory(history []*genai.Content) []api.Message {
	c.mu.RLock()
	system := c.system
	c.mu.RUnlock()

	messages := make([]api.Message, 0, len(history)+1)
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}

	for _, content := range history {
		if content == nil {
			continue
		}
		role := "user"
		if content.Role == genai.RoleModel {
			role = "assistant"
		}

		var textParts []string
		var toolCalls []api.ToolCall
		var images []api.ImageData
		for _, part := range content.Parts {
			switch {
			case part == nil:
			case part.Text != "":
				textParts = append(textParts, part.Text)
			case part.FunctionCall != nil:
				toolCalls = append(toolCalls, toOllamaCall(part.FunctionCall))
			case part.FunctionResponse != nil:
				messages = append(messages, api.Message{
					Role:       "tool",
					Content:    resultText(part.FunctionResponse),
					ToolName:   part.FunctionResponse.Name,
					ToolCallID: part.FunctionResponse.ID,
				})
			case part.InlineData != nil:
				images = append(images, api.ImageData(part.InlineData.Data))
			}
		}

		if len(textParts) == 0 && len(toolCalls) == 0 && len(images) == 0 {
			continue
		}
		messages = append(messages, api.Message{
			Role:      role,
			Content:   strings.Join(textParts, "\n"),
			ToolCalls: toolCalls,
			Images:    images,
		})
	}
	return messages
}

func (c *OllamaClient) convertTools() []api.Tool {
	tools := make([]api.Tool, 0)
	for _, tool := range c.tools {
		if tool == nil {
			continue
		}
		for _, decl := range tool.FunctionDeclarations {
			params := api.ToolFunctionParameters{
				Type:       "object",
				Properties: api.NewToolPropertiesMap(),
			}
			if decl.Parameters != nil {
				params.Required = decl.Parameters.Required
				for name, schema := range decl.Parameters.Properties {
					prop := api.ToolProperty{Description: schema.Description}
					if schema.Type != "" {
						prop.Type = api.PropertyType{strings.ToLower(string(schema.Type))}
					}
					if len(schema.Enum) > 0 {
						enumVals := make([]any, len(schema.Enum))
						for i, v := range schema.Enum {
							enumVals[i] = v
						}
						prop.Enum = enumVals
					}
					params.Properties.Set(name, prop)
				}
			}
			tools = append(tools, api.Tool{
				Type: "function",
				Function: api.ToolFunction{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  params,
				},
			})
		}
	}
	return tools
}

func toGenaiCall(tc api.ToolCall) *genai.FunctionCall {
	id := tc.ID
	if id == "" {
		// Ollama often omits call ids; synthesize one so the call/result
		// pairing stays unique across iterations.
		id = RandomToolID()
	}
	return &genai.FunctionCall{
		ID:   id,
		Name: tc.Function.Name,
		Args: tc.Function.Arguments.ToMap(),
	}
}

func toOllamaCall(fc *genai.FunctionCall) api.ToolCall {
	args := api.NewToolCallFunctionArguments()
	for k, v := range fc.Args {
		args.Set(k, v)
	}
	return api.ToolCall{
		ID: fc.ID,
		Function: api.ToolCallFunction{
			Name:      fc.Name,
			Arguments: args,
		},
	}
}

func resultText(result *genai.FunctionResponse) string {
	if result.Response != nil {
		if s, ok := result.Response["content"].(string); ok && s != "" {
			return s
		}
		if errStr, ok := result.Response["error"].(string); ok && errStr != "" {
			return "Error: " + errStr
		}
		if data, ok := result.Response["data"]; ok {
			if raw, err := json.Marshal(data); err == nil {
				return string(raw)
			}
		}
	}
	return "Operation completed"
}

func wrapOllamaError(err error) error {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return &APIError{StatusCode: statusErr.StatusCode, Message: statusErr.ErrorMessage}
	}
	if strings.Contains(err.Error(), "connection refused") {
		logging.Warn("ollama server unreachable", "error", err)
		return fmt.Errorf("ollama server unreachable (is it running?): %w", err)
	}
	return err
}

func ptr[T any](v T) *T { return &v }
