// Package bridge connects plugin-tool servers over a stdio JSON-RPC
// contract. Each server advertises tools via ListTools and executes them
// via CallTool; everything else about the server is its own business.
// Bridge tools surface in the registry namespaced `<server>__<tool>`.
package bridge

import (
	"encoding/json"
	"fmt"
)

const protocolVersion = "2024-11-05"

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodListTools   = "tools/list"
	methodCallTool    = "tools/call"
)

// msgID is a JSON-RPC id. We always send uuids, but servers issuing their
// own requests may use numbers, so decoding tolerates both.
type msgID string

func (id *msgID) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		*id = msgID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = msgID(n.String())
	return nil
}

// Message is a JSON-RPC 2.0 request, response, or notification.
type Message struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      msgID     `json:"id,omitempty"` // empty for notifications
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// IsResponse reports whether the message answers one of our requests.
func (m *Message) IsResponse() bool { return m.ID != "" && m.Method == "" }

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Schema is the JSON-Schema subset bridge servers use to describe tool
// input.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// ToolInfo is one advertised tool.
type ToolInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema *Schema `json:"inputSchema,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      clientInfo     `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []*ToolInfo `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallResult is the outcome of one tool call.
type CallResult struct {
	Content []*ContentBlock `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image", "resource"
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Text flattens content blocks into the string handed back to the model.
func (r *CallResult) Text() string {
	var parts []string
	for _, b := range r.Content {
		switch b.Type {
		case "image":
			parts = append(parts, fmt.Sprintf("[image: %s]", b.MIMEType))
		case "resource":
			parts = append(parts, fmt.Sprintf("[resource: %s]", b.URI))
		default:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n" + p
	}
	return out
}
