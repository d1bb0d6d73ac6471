// ABOUTME: Tests for the MCP HTTP server including sessions, tool listing and execution.
// ABOUTME: Uses a stub hub so results and failures are deterministic.

package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/hub"
)

type stubHub struct {
	lastCall   hub.ToolCall
	lastFacade string
}

func (s *stubHub) Execute(ctx context.Context, call hub.ToolCall) hub.ToolResult {
	s.lastCall = call
	s.lastFacade = hub.FacadeFrom(ctx)
	switch call.Name {
	case "ping":
		return hub.Success(json.RawMessage(`"pong"`))
	case "echo":
		b, _ := json.Marshal(map[string]any{"echo": call.Arguments})
		return hub.Success(b)
	case "shaped":
		return hub.Success(json.RawMessage(`{"content":[{"type":"text","text":"already shaped"}]}`))
	case "slow":
		return hub.Failure(fault.New(fault.Timeout, "no response to tools/call within 10s"))
	default:
		return hub.Failure(&fault.Error{Kind: fault.UnsupportedTool, Detail: call.Name})
	}
}

func (s *stubHub) Tools() []hub.ToolDefinition {
	return []hub.ToolDefinition{
		{Name: "ping", Description: "Ping", InputSchema: json.RawMessage(`{"type":"object","properties":{}}`)},
		{Name: "echo", Description: "Echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func setupTestServer(t *testing.T) (*Server, *stubHub, *http.ServeMux) {
	t.Helper()
	stub := &stubHub{}
	server, err := NewServer(Config{Hub: stub})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return server, stub, mux
}

func post(mux *http.ServeMux, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func initialize(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test","version":"1"}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d", rr.Code)
	}
	sessionID := rr.Header().Get(SessionHeader)
	if sessionID == "" {
		t.Fatal("initialize: missing session id header")
	}
	return sessionID
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("expected error without hub")
	}
}

func TestInitialize(t *testing.T) {
	server, _, mux := setupTestServer(t)

	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get(SessionHeader) == "" {
		t.Error("expected session id header")
	}

	resp := decode(t, rr)
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.ProtocolVersion != "2025-03-26" {
		t.Errorf("expected negotiated version 2025-03-26, got %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != ServerName || result.ServerInfo.Version != hub.Version {
		t.Errorf("unexpected server info: %+v", result.ServerInfo)
	}
	if server.sessions.len() != 1 {
		t.Errorf("expected 1 session, got %d", server.sessions.len())
	}

	t.Run("unknown version gets latest", func(t *testing.T) {
		rr := post(mux, "", `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)
		resp := decode(t, rr)
		if !strings.Contains(string(resp.Result), latestProtocolVersion) {
			t.Errorf("expected latest version in %s", resp.Result)
		}
	})
}

func TestSessionRequired(t *testing.T) {
	_, _, mux := setupTestServer(t)

	rr := post(mux, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing session: expected 400, got %d", rr.Code)
	}

	rr = post(mux, "no-such-session", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", rr.Code)
	}
}

func TestToolsList(t *testing.T) {
	_, _, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	resp := decode(t, post(mux, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].Name != "ping" || len(result.Tools[0].InputSchema) == 0 {
		t.Errorf("unexpected first tool: %+v", result.Tools[0])
	}
}

func TestToolsCall(t *testing.T) {
	_, stub, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	tests := []struct {
		name      string
		body      string
		wantText  string
		wantError bool
	}{
		{
			name:     "string result unwrapped",
			body:     `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ping"}}`,
			wantText: "pong",
		},
		{
			name:     "object result as json text",
			body:     `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"a":1}}}`,
			wantText: `{"echo":{"a":1}}`,
		},
		{
			name:     "shaped result passed through",
			body:     `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"shaped"}}`,
			wantText: "already shaped",
		},
		{
			name:      "unknown tool is a tool error",
			body:      `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"unknown_tool"}}`,
			wantText:  "UnsupportedTool: unknown_tool",
			wantError: true,
		},
		{
			name:      "timeout is a tool error",
			body:      `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"slow"}}`,
			wantText:  "Timeout: no response to tools/call within 10s",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode(t, post(mux, sessionID, tt.body))
			if resp.Error != nil {
				t.Fatalf("unexpected JSON-RPC error: %+v", resp.Error)
			}
			var result struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
				IsError bool `json:"isError"`
			}
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				t.Fatalf("failed to decode result: %v", err)
			}
			if len(result.Content) != 1 {
				t.Fatalf("expected 1 content item, got %d", len(result.Content))
			}
			if result.Content[0].Text != tt.wantText {
				t.Errorf("expected text %q, got %q", tt.wantText, result.Content[0].Text)
			}
			if result.IsError != tt.wantError {
				t.Errorf("expected isError=%v", tt.wantError)
			}
		})
	}

	if stub.lastFacade != "mcp" {
		t.Errorf("expected facade mcp, got %q", stub.lastFacade)
	}
}

func TestToolsCallInvalidParams(t *testing.T) {
	_, _, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	for _, body := range []string{
		`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{}}`,
		`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":"nope"}`,
	} {
		resp := decode(t, post(mux, sessionID, body))
		if resp.Error == nil || resp.Error.Code != -32602 {
			t.Errorf("expected invalid params for %s, got %+v", body, resp.Error)
		}
	}
}

func TestProtocolErrors(t *testing.T) {
	_, _, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	t.Run("invalid json", func(t *testing.T) {
		resp := decode(t, post(mux, sessionID, `{bad`))
		if resp.Error == nil || resp.Error.Code != -32700 {
			t.Errorf("expected parse error, got %+v", resp.Error)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		resp := decode(t, post(mux, sessionID, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`))
		if resp.Error == nil || resp.Error.Code != -32600 {
			t.Errorf("expected invalid request, got %+v", resp.Error)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := decode(t, post(mux, sessionID, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))
		if resp.Error == nil || resp.Error.Code != -32601 {
			t.Errorf("expected method not found, got %+v", resp.Error)
		}
	})

	t.Run("ping", func(t *testing.T) {
		resp := decode(t, post(mux, sessionID, `{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if resp.Error != nil || string(resp.Result) != "{}" {
			t.Errorf("expected empty result, got %s / %+v", resp.Result, resp.Error)
		}
	})

	t.Run("unsupported protocol header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		req.Header.Set(SessionHeader, sessionID)
		req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		big := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":"` + strings.Repeat("x", MaxRequestBodySize) + `"}`
		resp := decode(t, post(mux, sessionID, big))
		if resp.Error == nil || resp.Error.Code != -32600 {
			t.Errorf("expected invalid request, got %+v", resp.Error)
		}
	})
}

func TestNotificationAccepted(t *testing.T) {
	_, _, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	rr := post(mux, sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestDeleteSession(t *testing.T) {
	server, _, mux := setupTestServer(t)
	sessionID := initialize(t, mux)

	del := func(id string) int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		if id != "" {
			req.Header.Set(SessionHeader, id)
		}
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := del(""); code != http.StatusBadRequest {
		t.Errorf("expected 400 without session, got %d", code)
	}
	if code := del(sessionID); code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", code)
	}
	if code := del(sessionID); code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted session, got %d", code)
	}
	if server.sessions.len() != 0 {
		t.Errorf("expected no sessions, got %d", server.sessions.len())
	}

	rr := post(mux, sessionID, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, mux := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != "POST, DELETE" {
		t.Errorf("unexpected Allow header %q", rr.Header().Get("Allow"))
	}
}

func TestClose(t *testing.T) {
	server, _, mux := setupTestServer(t)
	initialize(t, mux)
	initialize(t, mux)
	server.Close()
	if server.sessions.len() != 0 {
		t.Errorf("expected sessions cleared, got %d", server.sessions.len())
	}
}
