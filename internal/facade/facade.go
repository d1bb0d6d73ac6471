// ABOUTME: HTTP handler wiring for the tool facades and operational endpoints.
// ABOUTME: Handlers depend on the Hub interface so tests can inject a fake.

package facade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/mcp-hub/internal/hub"
	"github.com/2389/mcp-hub/internal/replay"
	"github.com/2389/mcp-hub/internal/store"
)

// MaxRequestBodySize is the maximum allowed size for execute bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Hub is the subset of *hub.Hub the facades use.
type Hub interface {
	Execute(ctx context.Context, call hub.ToolCall) hub.ToolResult
	Tools() []hub.ToolDefinition
	Servers() []hub.ServerInfo
	Running() []string
	Restart(ctx context.Context, name string) error
	RecentCalls(ctx context.Context, filter store.CallFilter) ([]*store.CallRecord, error)
	CallStats(ctx context.Context, since *time.Time) ([]*store.ToolStats, error)
	ServerEvents(ctx context.Context, server string, limit int) ([]*store.ServerEvent, error)
}

// Config configures the facade handlers.
type Config struct {
	Hub    Hub
	Replay *replay.Cache[hub.ToolResult]
	Logger *slog.Logger
}

// Handler serves the facade endpoints.
type Handler struct {
	hub    Hub
	replay *replay.Cache[hub.ToolResult]
	logger *slog.Logger
}

// New creates a Handler. Replay may be nil, which disables vLLM id replay.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    cfg.Hub,
		replay: cfg.Replay,
		logger: logger,
	}
}

// RegisterRoutes registers every facade endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.HandleFunc("GET /servers", h.handleServers)
	mux.HandleFunc("POST /servers/{name}/restart", h.handleRestart)
	mux.HandleFunc("GET /servers/{name}/events", h.handleServerEvents)
	mux.HandleFunc("GET /calls", h.handleCalls)
	mux.HandleFunc("GET /calls/stats", h.handleCallStats)

	mux.Handle("/openwebui/", withCORS(h.openWebUIRoutes()))
	mux.Handle("/vllm/", withCORS(h.vllmRoutes()))
}

func (h *Handler) openWebUIRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /openwebui/functions", h.handleOpenWebUIFunctions)
	mux.HandleFunc("POST /openwebui/execute", h.handleOpenWebUIExecute)
	return mux
}

func (h *Handler) vllmRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vllm/tools", h.handleVLLMTools)
	mux.HandleFunc("POST /vllm/execute", h.handleVLLMExecute)
	return mux
}

// withCORS allows browser clients such as OpenWebUI to call the facades.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FunctionDefinition is a tool in the OpenAI function calling shape.
type FunctionDefinition struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the inner object of a FunctionDefinition.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (h *Handler) functionDefinitions() []FunctionDefinition {
	tools := h.hub.Tools()
	defs := make([]FunctionDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, FunctionDefinition{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return defs
}

func (h *Handler) execute(ctx context.Context, facade string, call hub.ToolCall) hub.ToolResult {
	res := h.hub.Execute(hub.WithFacade(ctx, facade), call)
	if res.Success {
		h.logger.Debug("tool executed", "facade", facade, "tool_name", call.Name)
	} else {
		h.logger.Info("tool execution failed", "facade", facade, "tool_name", call.Name, "error", *res.Error)
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
