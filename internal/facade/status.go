// ABOUTME: Operational endpoints: service info, liveness, readiness and provider status.
// ABOUTME: Also exposes provider restart, lifecycle events and the call journal with per-tool stats.

package facade

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/hub"
	"github.com/2389/mcp-hub/internal/store"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "MCP Integration Hub"

// Integrations lists the facades served by this process.
var Integrations = []string{"openwebui", "vllm", "mcp"}

// ServiceInfo is the JSON response for GET /.
type ServiceInfo struct {
	Service       string   `json:"service"`
	Version       string   `json:"version"`
	Integrations  []string `json:"integrations"`
	ActiveServers []string `json:"active_servers"`
	Servers       []string `json:"servers"`
	Tools         int      `json:"tools"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ServersResponse is the JSON response for GET /servers.
type ServersResponse struct {
	Servers []hub.ServerInfo `json:"servers"`
}

// CallsResponse is the JSON response for GET /calls.
type CallsResponse struct {
	Calls []*store.CallRecord `json:"calls"`
}

// CallStatsResponse is the JSON response for GET /calls/stats.
type CallStatsResponse struct {
	Since *time.Time         `json:"since,omitempty"`
	Tools []*store.ToolStats `json:"tools"`
}

// ServerEventsResponse is the JSON response for GET /servers/{name}/events.
type ServerEventsResponse struct {
	Server string               `json:"server"`
	Events []*store.ServerEvent `json:"events"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	servers := h.hub.Servers()
	names := make([]string, 0, len(servers))
	for _, s := range servers {
		names = append(names, s.Name)
	}
	active := h.hub.Running()
	if active == nil {
		active = []string{}
	}
	writeJSON(w, http.StatusOK, ServiceInfo{
		Service:       ServiceName,
		Version:       hub.Version,
		Integrations:  Integrations,
		ActiveServers: active,
		Servers:       names,
		Tools:         len(h.hub.Tools()),
	})
}

// handleHealth reports liveness of the hub process itself.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleReady returns 200 when at least one provider is running.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	running := h.hub.Running()
	if len(running) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no providers running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d providers)", len(running))
}

func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServersResponse{Servers: h.hub.Servers()})
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.hub.Restart(r.Context(), name)
	switch {
	case err == nil:
	case fault.KindOf(err) == fault.ServerNotConfigured:
		sendJSONError(w, http.StatusNotFound, fault.Render(err))
		return
	default:
		h.logger.Warn("provider restart failed", "server", name, "error", err)
		sendJSONError(w, http.StatusBadGateway, fault.Render(err))
		return
	}

	for _, s := range h.hub.Servers() {
		if s.Name == name {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CallFilter{
		Tool:         q.Get("tool"),
		Server:       q.Get("server"),
		FailuresOnly: q.Get("failures") == "true",
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	calls, err := h.hub.RecentCalls(r.Context(), filter)
	if errors.Is(err, hub.ErrNoStore) {
		sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to list calls", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if calls == nil {
		calls = []*store.CallRecord{}
	}
	writeJSON(w, http.StatusOK, CallsResponse{Calls: calls})
}

func (h *Handler) handleCallStats(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	stats, err := h.hub.CallStats(r.Context(), since)
	if errors.Is(err, hub.ErrNoStore) {
		sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to aggregate calls", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to aggregate calls")
		return
	}
	if stats == nil {
		stats = []*store.ToolStats{}
	}
	writeJSON(w, http.StatusOK, CallStatsResponse{Since: since, Tools: stats})
}

func (h *Handler) handleServerEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.configured(name) {
		sendJSONError(w, http.StatusNotFound, fault.Render(&fault.Error{Kind: fault.ServerNotConfigured, Server: name}))
		return
	}
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}

	events, err := h.hub.ServerEvents(r.Context(), name, limit)
	if errors.Is(err, hub.ErrNoStore) {
		sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to list server events", "server", name, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list server events")
		return
	}
	if events == nil {
		events = []*store.ServerEvent{}
	}
	writeJSON(w, http.StatusOK, ServerEventsResponse{Server: name, Events: events})
}

func (h *Handler) configured(name string) bool {
	for _, s := range h.hub.Servers() {
		if s.Name == name {
			return true
		}
	}
	return false
}

// parseLimit reads an optional non-negative limit, writing a 400 when it is
// malformed.
func parseLimit(w http.ResponseWriter, v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
