// ABOUTME: MCP method names and payload types used on the provider stdio channel.
// ABOUTME: Shared by the handshake manager, the router and the test providers.

package protocol

import "encoding/json"

// Method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// DefaultProtocolVersion is the MCP revision the hub announces in initialize.
const DefaultProtocolVersion = "2024-11-05"

// Default client identity announced during the handshake.
const (
	DefaultClientName    = "mcp-integration-hub"
	DefaultClientVersion = "1.0.0"
)

// JSON-RPC error codes providers commonly return.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation identifies a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams are sent by the hub as the first request to a provider.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// NewInitializeParams builds the handshake payload announcing tool support.
func NewInitializeParams(version string, client Implementation) InitializeParams {
	if version == "" {
		version = DefaultProtocolVersion
	}
	return InitializeParams{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ClientInfo:      client,
	}
}

// InitializeResult is what a provider answers to initialize. Only the fields
// the hub reports are decoded.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Implementation  `json:"serverInfo"`
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolInfo describes one tool in a tools/list result.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the conventional MCP tools/call result. The hub passes
// provider results through untouched; this type is used by the test providers
// and the MCP facade.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult wraps text as a single-item CallToolResult.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}
