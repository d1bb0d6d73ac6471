// ABOUTME: Router resolves a tool to its server, ensures the handshake and performs tools/call.
// ABOUTME: Failures keep their kind and gain the tool and server as context.

package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/handshake"
	"github.com/2389/mcp-hub/internal/protocol"
)

// Caller performs one request against a named server.
type Caller interface {
	Call(ctx context.Context, server, method string, params any) (json.RawMessage, error)
}

// Initializer runs the handshake for a server if it has not happened yet.
type Initializer interface {
	EnsureInitialized(ctx context.Context, server string) handshake.Outcome
}

// Config contains the Router's collaborators.
type Config struct {
	Table       *Table
	Caller      Caller
	Initializer Initializer
	Logger      *slog.Logger
}

// Router executes tool calls.
type Router struct {
	table  *Table
	caller Caller
	init   Initializer
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := cfg.Table
	if table == nil {
		table, _ = NewTable(nil)
	}
	return &Router{
		table:  table,
		caller: cfg.Caller,
		init:   cfg.Initializer,
		logger: logger.With("component", "router"),
	}
}

// Table returns the routing table.
func (r *Router) Table() *Table {
	return r.table
}

// Execute routes tool to its server and returns the provider's result
// verbatim. Unknown tools fail with UnsupportedTool before any process is
// contacted.
func (r *Router) Execute(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	route, ok := r.table.Lookup(tool)
	if !ok {
		r.logger.Warn("unsupported tool", "tool_name", tool)
		return nil, &fault.Error{Kind: fault.UnsupportedTool, Detail: tool}
	}

	if r.init != nil {
		if out := r.init.EnsureInitialized(ctx, route.Server); out.Degraded() {
			r.logger.Debug("calling tool without handshake",
				"tool_name", tool,
				"server", route.Server,
				"reason", out.Reason,
			)
		}
	}

	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	r.logger.Info("→ routing tool call", "tool_name", tool, "server", route.Server)

	result, err := r.caller.Call(ctx, route.Server, protocol.MethodToolsCall, protocol.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		err = fault.WithContext(err, tool, route.Server)
		r.logger.Warn("tool call failed",
			"tool_name", tool,
			"server", route.Server,
			"kind", fault.KindOf(err),
			"error", err,
			"duration", time.Since(start),
		)
		return nil, err
	}

	r.logger.Info("← tool call complete",
		"tool_name", tool,
		"server", route.Server,
		"duration", time.Since(start),
	)
	return result, nil
}
