// ABOUTME: Hub owns the provider processes and executes tool calls for the facades.
// ABOUTME: Executions and provider state changes are journaled when a store is configured.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/mcp-hub/internal/config"
	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/handshake"
	"github.com/2389/mcp-hub/internal/protocol"
	"github.com/2389/mcp-hub/internal/router"
	"github.com/2389/mcp-hub/internal/rpc"
	"github.com/2389/mcp-hub/internal/store"
	"github.com/2389/mcp-hub/internal/supervisor"
)

// Version is reported by the facades.
const Version = "1.0.0"

// ErrNoStore is returned by journal queries when no store is configured.
var ErrNoStore = errors.New("call journal not configured")

// storeTimeout bounds journal writes made on behalf of a call.
const storeTimeout = 2 * time.Second

// ToolCall is the input of the tool execution contract.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the output of the tool execution contract. Exactly one of
// Result and Error is set.
type ToolResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *string         `json:"error"`
}

// ErrorKind returns the failure kind encoded in Error, or "" on success.
func (r ToolResult) ErrorKind() fault.Kind {
	if r.Error == nil {
		return ""
	}
	msg := *r.Error
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return fault.Kind(msg[:i])
		}
	}
	return fault.Kind(msg)
}

// Success wraps a provider result.
func Success(result json.RawMessage) ToolResult {
	if result == nil {
		result = json.RawMessage("null")
	}
	return ToolResult{Success: true, Result: result}
}

// Failure renders err into a failed result.
func Failure(err error) ToolResult {
	msg := fault.Render(err)
	return ToolResult{Success: false, Error: &msg}
}

// ToolDefinition describes a routed tool for facades.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Server      string          `json:"server"`
	Category    router.Category `json:"category"`
}

// ServerInfo is a provider's status plus the tools routed to it.
type ServerInfo struct {
	supervisor.Status
	Category string   `json:"category"`
	Tools    []string `json:"tools"`
	Provider string   `json:"provider,omitempty"`
}

// Options configures optional collaborators.
type Options struct {
	Logger *slog.Logger
	Store  store.Store
}

// Hub executes tool calls against supervised providers.
type Hub struct {
	cfg       *config.Config
	sup       *supervisor.Supervisor
	channel   *rpc.Channel
	handshake *handshake.Manager
	router    *router.Router
	store     store.Store
	logger    *slog.Logger
}

// New builds a Hub from configuration. No process is started until Start.
func New(cfg *config.Config, opts Options) (*Hub, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table, err := cfg.RouteTable()
	if err != nil {
		return nil, fmt.Errorf("building routing table: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		Servers:      cfg.LaunchSpecs(),
		StartupGrace: cfg.Hub.StartupGrace,
		StopTimeout:  cfg.Hub.StopTimeout,
		CallTimeout:  cfg.Hub.CallTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating supervisor: %w", err)
	}

	channel := rpc.NewChannel(sup)
	hs := handshake.New(channel, sup, handshake.Config{
		ProtocolVersion: cfg.Hub.Handshake.ProtocolVersion,
		Client: protocol.Implementation{
			Name:    cfg.Hub.Handshake.ClientName,
			Version: cfg.Hub.Handshake.ClientVersion,
		},
		SendInitialized: cfg.Hub.Handshake.SendInitializedEnabled(),
		Timeout:         cfg.Hub.CallTimeout,
		Logger:          logger,
	})

	h := &Hub{
		cfg:       cfg,
		sup:       sup,
		channel:   channel,
		handshake: hs,
		router: router.NewRouter(router.Config{
			Table:       table,
			Caller:      channel,
			Initializer: hs,
			Logger:      logger,
		}),
		store:  opts.Store,
		logger: logger.With("component", "hub"),
	}

	if h.store != nil {
		sup.OnStateChange(h.recordEvent)
	}
	return h, nil
}

// Start starts every provider. Providers that fail to start are logged and
// left Dead; the joined failures are returned for reporting only.
func (h *Hub) Start(ctx context.Context) error {
	err := h.sup.StartAll(ctx)
	running := h.sup.Running()
	h.logger.Info("providers started",
		"running", len(running),
		"configured", len(h.sup.Names()),
		"tools", h.router.Table().Len(),
	)
	return err
}

// Execute runs one tool call. It never returns a Go error.
func (h *Hub) Execute(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()
	result, err := h.router.Execute(ctx, call.Name, call.Arguments)

	var res ToolResult
	if err != nil {
		res = Failure(err)
	} else {
		res = Success(result)
	}
	h.journal(ctx, call.Name, res, err, time.Since(start))
	return res
}

func (h *Hub) journal(ctx context.Context, tool string, res ToolResult, err error, elapsed time.Duration) {
	if h.store == nil {
		return
	}
	rec := &store.CallRecord{
		Tool:       tool,
		Facade:     FacadeFrom(ctx),
		Success:    res.Success,
		DurationMs: elapsed.Milliseconds(),
	}
	if route, ok := h.router.Table().Lookup(tool); ok {
		rec.Server = route.Server
	}
	if err != nil {
		rec.ErrorKind = string(fault.KindOf(err))
		rec.Error = *res.Error
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := h.store.RecordCall(sctx, rec); err != nil {
		h.logger.Warn("failed to journal tool call", "tool_name", tool, "error", err)
	}
}

func (h *Hub) recordEvent(ev supervisor.Event) {
	rec := &store.ServerEvent{
		Server:     ev.Server,
		FromState:  ev.From.String(),
		ToState:    ev.To.String(),
		PID:        ev.PID,
		Generation: ev.Generation,
		CreatedAt:  ev.At,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.store.RecordServerEvent(ctx, rec); err != nil {
		h.logger.Warn("failed to journal server event", "server", ev.Server, "error", err)
	}
}

// Tools lists every routed tool in configuration order.
func (h *Hub) Tools() []ToolDefinition {
	routes := h.router.Table().Routes()
	defs := make([]ToolDefinition, 0, len(routes))
	for _, r := range routes {
		defs = append(defs, ToolDefinition{
			Name:        r.Tool,
			Description: r.Description,
			InputSchema: r.InputSchema,
			Server:      r.Server,
			Category:    r.Category,
		})
	}
	return defs
}

// Servers returns the status of every provider in configuration order.
func (h *Hub) Servers() []ServerInfo {
	categories := make(map[string]string, len(h.cfg.Servers))
	for _, s := range h.cfg.Servers {
		c, _ := router.ParseCategory(s.Category)
		categories[s.Name] = string(c)
	}

	snapshot := h.sup.Snapshot()
	out := make([]ServerInfo, 0, len(snapshot))
	for _, st := range snapshot {
		info := ServerInfo{
			Status:   st,
			Category: categories[st.Name],
			Tools:    h.router.Table().ToolsFor(st.Name),
		}
		if init, ok := h.handshake.ServerInfo(st.Name); ok && init.ServerInfo.Name != "" {
			info.Provider = init.ServerInfo.Name + " " + init.ServerInfo.Version
		}
		out = append(out, info)
	}
	return out
}

// Running returns the names of Running providers.
func (h *Hub) Running() []string {
	return h.sup.Running()
}

// Restart restarts one provider.
func (h *Hub) Restart(ctx context.Context, name string) error {
	h.logger.Info("restarting provider", "server", name)
	return h.sup.Restart(ctx, name)
}

// OnStateChange registers an observer of provider state transitions.
func (h *Hub) OnStateChange(fn func(supervisor.Event)) {
	h.sup.OnStateChange(fn)
}

// RecentCalls returns journaled calls, newest first.
func (h *Hub) RecentCalls(ctx context.Context, filter store.CallFilter) ([]*store.CallRecord, error) {
	if h.store == nil {
		return nil, ErrNoStore
	}
	return h.store.ListCalls(ctx, filter)
}

// CallStats returns per-tool aggregates from the journal, limited to calls
// started at or after since when it is set.
func (h *Hub) CallStats(ctx context.Context, since *time.Time) ([]*store.ToolStats, error) {
	if h.store == nil {
		return nil, ErrNoStore
	}
	return h.store.CallStats(ctx, since)
}

// ServerEvents returns journaled provider transitions, newest first.
func (h *Hub) ServerEvents(ctx context.Context, server string, limit int) ([]*store.ServerEvent, error) {
	if h.store == nil {
		return nil, ErrNoStore
	}
	return h.store.ListServerEvents(ctx, server, limit)
}

// Close stops every provider. Every provider is attempted; failures are joined.
func (h *Hub) Close(ctx context.Context) error {
	h.logger.Info("stopping providers")
	return h.sup.StopAll(ctx)
}
