// ABOUTME: Manager performs the MCP initialize handshake once per process generation.
// ABOUTME: Concurrent callers for the same process share one in-flight handshake.

package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/protocol"
)

// Status is the result of an EnsureInitialized call.
type Status int

const (
	AlreadyInitialized Status = iota
	Initialized
	InitializationFailed
)

func (s Status) String() string {
	switch s {
	case AlreadyInitialized:
		return "already_initialized"
	case Initialized:
		return "initialized"
	case InitializationFailed:
		return "initialization_failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome reports what EnsureInitialized did.
type Outcome struct {
	Server string
	Status Status
	Reason string
}

// Degraded reports whether tool calls will proceed without a handshake.
func (o Outcome) Degraded() bool {
	return o.Status == InitializationFailed
}

// Caller sends requests to a named server.
type Caller interface {
	Call(ctx context.Context, server, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, server, method string, params any) error
}

// Tracker holds the per-process initialized flag.
type Tracker interface {
	Initialized(server string) (bool, uint64, error)
	MarkInitialized(server string, generation uint64) bool
}

// Config configures a Manager.
type Config struct {
	ProtocolVersion string
	Client          protocol.Implementation
	// SendInitialized sends notifications/initialized after a successful
	// initialize response.
	SendInitialized bool
	// Timeout bounds a shared handshake, which outlives any single caller's
	// context. Zero leaves the bound to the Caller.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Manager runs handshakes.
type Manager struct {
	caller          Caller
	tracker         Tracker
	params          protocol.InitializeParams
	sendInitialized bool
	timeout         time.Duration
	logger          *slog.Logger
	group           singleflight.Group

	mu   sync.RWMutex
	info map[string]protocol.InitializeResult
}

// New creates a Manager.
func New(caller Caller, tracker Tracker, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client.Name == "" {
		client.Name = protocol.DefaultClientName
	}
	if client.Version == "" {
		client.Version = protocol.DefaultClientVersion
	}
	return &Manager{
		caller:          caller,
		tracker:         tracker,
		params:          protocol.NewInitializeParams(cfg.ProtocolVersion, client),
		sendInitialized: cfg.SendInitialized,
		timeout:         cfg.Timeout,
		logger:          logger.With("component", "handshake"),
		info:            make(map[string]protocol.InitializeResult),
	}
}

// EnsureInitialized sends initialize to server unless its current process
// already completed the handshake. It never returns an error; failures are
// logged and reported as InitializationFailed.
func (m *Manager) EnsureInitialized(ctx context.Context, server string) Outcome {
	done, gen, err := m.tracker.Initialized(server)
	if err != nil {
		return m.failed(server, err)
	}
	if done {
		return Outcome{Server: server, Status: AlreadyInitialized}
	}

	// The handshake is shared, so it runs detached from this caller's
	// cancellation; a caller that gives up only stops waiting for it.
	ch := m.group.DoChan(fmt.Sprintf("%s#%d", server, gen), func() (any, error) {
		hctx := context.WithoutCancel(ctx)
		if m.timeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(hctx, m.timeout)
			defer cancel()
		}
		return m.initialize(hctx, server, gen), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Outcome)
	case <-ctx.Done():
		return m.failed(server, fault.FromContext(ctx.Err()).WithServer(server))
	}
}

func (m *Manager) initialize(ctx context.Context, server string, gen uint64) Outcome {
	// Another caller may have finished while this one waited to enter.
	if done, cur, err := m.tracker.Initialized(server); err == nil && done && cur == gen {
		return Outcome{Server: server, Status: AlreadyInitialized}
	}

	raw, err := m.caller.Call(ctx, server, protocol.MethodInitialize, m.params)
	if err != nil {
		return m.failed(server, err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		m.logger.Debug("initialize result not understood", "server", server, "error", err)
	}
	m.mu.Lock()
	m.info[server] = result
	m.mu.Unlock()

	if m.sendInitialized {
		if err := m.caller.Notify(ctx, server, protocol.MethodInitialized, nil); err != nil {
			m.logger.Warn("initialized notification failed", "server", server, "error", err)
		}
	}

	if !m.tracker.MarkInitialized(server, gen) {
		return m.failed(server, fault.New(fault.ServerNotAvailable, "process replaced during handshake"))
	}

	m.logger.Info("✓ provider initialized",
		"server", server,
		"generation", gen,
		"provider", result.ServerInfo.Name,
		"provider_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return Outcome{Server: server, Status: Initialized}
}

func (m *Manager) failed(server string, err error) Outcome {
	reason := fault.Render(err)
	m.logger.Warn("handshake failed, continuing without it", "server", server, "error", reason)
	return Outcome{Server: server, Status: InitializationFailed, Reason: reason}
}

// ServerInfo returns what server reported in its last initialize response.
func (m *Manager) ServerInfo(server string) (protocol.InitializeResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.info[server]
	return info, ok
}
