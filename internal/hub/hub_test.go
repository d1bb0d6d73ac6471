// ABOUTME: End-to-end tests for the hub against scripted provider processes.
// ABOUTME: The test binary re-executes itself as the provider via providertest.

package hub

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-hub/internal/config"
	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/providertest"
	"github.com/2389/mcp-hub/internal/store"
	"github.com/2389/mcp-hub/internal/supervisor"
)

func TestMain(m *testing.M) {
	providertest.MaybeRun()
	os.Exit(m.Run())
}

func providerServer(name string, mode providertest.Mode, tools ...string) config.ServerEntry {
	path, args, env := providertest.Command(mode)
	entries := make([]config.ToolEntry, 0, len(tools))
	for _, tool := range tools {
		entries = append(entries, config.ToolEntry{Name: tool})
	}
	return config.ServerEntry{
		Name:     name,
		Command:  path,
		Args:     args,
		Env:      env,
		Category: "custom",
		Tools:    entries,
	}
}

func setupHubTest(t *testing.T, st store.Store, servers ...config.ServerEntry) *Hub {
	t.Helper()
	cfg := &config.Config{Servers: servers}
	cfg.ApplyDefaults()
	cfg.Hub.StartupGrace = 500 * time.Millisecond
	cfg.Hub.StopTimeout = time.Second
	cfg.Hub.CallTimeout = 2 * time.Second

	h, err := New(cfg, Options{Store: st})
	require.NoError(t, err)
	_ = h.Start(context.Background())
	t.Cleanup(func() {
		_ = h.Close(context.Background())
	})
	return h
}

func requireSuccess(t *testing.T, res ToolResult) {
	t.Helper()
	if !res.Success {
		require.NotNil(t, res.Error)
		t.Fatalf("expected success, got error %q", *res.Error)
	}
	assert.Nil(t, res.Error)
}

func requireFailure(t *testing.T, res ToolResult, kind fault.Kind) string {
	t.Helper()
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Nil(t, res.Result)
	assert.Equal(t, kind, res.ErrorKind(), "error was %q", *res.Error)
	return *res.Error
}

func TestExecutePing(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "ping"))

	res := h.Execute(context.Background(), ToolCall{Name: "ping", Arguments: map[string]any{}})
	requireSuccess(t, res)
	assert.JSONEq(t, `"pong"`, string(res.Result))
}

func TestExecuteEchoRoundTrip(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "echo"))

	args := map[string]any{
		"text":   "hello",
		"n":      float64(42),
		"nested": map[string]any{"list": []any{"a", "b"}},
	}
	res := h.Execute(context.Background(), ToolCall{Name: "echo", Arguments: args})
	requireSuccess(t, res)

	var got struct {
		Echo map[string]any `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &got))
	assert.Equal(t, args, got.Echo)
}

func TestExecuteNilArgumentsSendsEmptyObject(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "echo"))

	res := h.Execute(context.Background(), ToolCall{Name: "echo"})
	requireSuccess(t, res)
	assert.JSONEq(t, `{"echo":{}}`, string(res.Result))
}

func TestExecuteUnknownTool(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "ping"))

	res := h.Execute(context.Background(), ToolCall{Name: "unknown_tool"})
	msg := requireFailure(t, res, fault.UnsupportedTool)
	assert.Equal(t, "UnsupportedTool: unknown_tool", msg)
}

func TestExecuteFailedProviderIsolated(t *testing.T) {
	h := setupHubTest(t, nil,
		providerServer("broken", providertest.ModeExit, "broken_tool"),
		providerServer("healthy", providertest.ModeServe, "ping"),
	)

	assert.Equal(t, []string{"healthy"}, h.Running())

	res := h.Execute(context.Background(), ToolCall{Name: "broken_tool"})
	requireFailure(t, res, fault.ServerNotAvailable)

	res = h.Execute(context.Background(), ToolCall{Name: "ping"})
	requireSuccess(t, res)
}

func TestExecuteHandshakeOnce(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "ping", "init_count"))

	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))
	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))

	res := h.Execute(context.Background(), ToolCall{Name: "init_count"})
	requireSuccess(t, res)
	assert.JSONEq(t, `{"initialize":1}`, string(res.Result))
}

func TestExecuteConcurrentHandshakeOnce(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "echo", "init_count"))

	var wg sync.WaitGroup
	results := make([]ToolResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Execute(context.Background(), ToolCall{Name: "echo", Arguments: map[string]any{"i": float64(i)}})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		requireSuccess(t, res)
		var got struct {
			Echo struct {
				I int `json:"i"`
			} `json:"echo"`
		}
		require.NoError(t, json.Unmarshal(res.Result, &got))
		assert.Equal(t, i, got.Echo.I)
	}

	res := h.Execute(context.Background(), ToolCall{Name: "init_count"})
	requireSuccess(t, res)
	assert.JSONEq(t, `{"initialize":1}`, string(res.Result))
}

func TestExecuteHandshakeFailureIsBestEffort(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeNoInit, "echo"))

	res := h.Execute(context.Background(), ToolCall{Name: "echo", Arguments: map[string]any{"x": "y"}})
	requireSuccess(t, res)
	assert.JSONEq(t, `{"echo":{"x":"y"}}`, string(res.Result))
}

func TestExecuteRemoteError(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "fail"))

	res := h.Execute(context.Background(), ToolCall{Name: "fail"})
	msg := requireFailure(t, res, fault.RemoteError)
	assert.Contains(t, msg, "tool failed")
	assert.Contains(t, msg, "alpha")
}

func TestExecuteMalformedResponse(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "garbage", "ping"))

	requireFailure(t, h.Execute(context.Background(), ToolCall{Name: "garbage"}), fault.MalformedResponse)

	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))
}

func TestExecuteTimeoutThenNextCallGetsOwnResponse(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "sleep", "echo"))
	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "echo"}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res := h.Execute(ctx, ToolCall{Name: "sleep", Arguments: map[string]any{"ms": 400}})
	requireFailure(t, res, fault.Timeout)

	res = h.Execute(context.Background(), ToolCall{Name: "echo", Arguments: map[string]any{"after": "timeout"}})
	requireSuccess(t, res)
	assert.JSONEq(t, `{"echo":{"after":"timeout"}}`, string(res.Result))

	st, err := h.sup.Status("alpha")
	require.NoError(t, err)
	assert.Equal(t, supervisor.Running, st.State)
}

func TestExecuteCrashAndRestart(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "crash", "ping"))
	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))

	requireFailure(t, h.Execute(context.Background(), ToolCall{Name: "crash"}), fault.NoResponse)

	require.Eventually(t, func() bool {
		return len(h.Running()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	requireFailure(t, h.Execute(context.Background(), ToolCall{Name: "ping"}), fault.ServerNotAvailable)

	require.NoError(t, h.Restart(context.Background(), "alpha"))
	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))
}

func TestExecuteAnswerBeforeExit(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "goodbye"))

	res := h.Execute(context.Background(), ToolCall{Name: "goodbye"})
	requireSuccess(t, res)
	assert.JSONEq(t, `"bye"`, string(res.Result))

	require.Eventually(t, func() bool {
		return len(h.Running()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	requireFailure(t, h.Execute(context.Background(), ToolCall{Name: "goodbye"}), fault.ServerNotAvailable)
}

func TestToolsAndServers(t *testing.T) {
	h := setupHubTest(t, nil,
		providerServer("alpha", providertest.ModeServe, "ping", "echo"),
		providerServer("beta", providertest.ModeExit, "other"),
	)

	tools := h.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "ping", tools[0].Name)
	assert.Equal(t, "alpha", tools[0].Server)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tools[0].InputSchema))

	assert.Equal(t, "other", tools[2].Name)
	assert.Equal(t, "beta", tools[2].Server)

	servers := h.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)
	assert.Equal(t, supervisor.Running, servers[0].State)
	assert.Equal(t, []string{"echo", "ping"}, servers[0].Tools)
	assert.Equal(t, "custom", servers[0].Category)
	assert.Equal(t, supervisor.Dead, servers[1].State)
	assert.Contains(t, servers[1].LastError, providertest.ExitMessage)

	requireSuccess(t, h.Execute(context.Background(), ToolCall{Name: "ping"}))
	servers = h.Servers()
	assert.True(t, servers[0].Initialized)
	assert.Equal(t, "scripted-provider 0.1.0", servers[0].Provider)
}

func TestExecuteJournalsCalls(t *testing.T) {
	st := store.NewMockStore()
	h := setupHubTest(t, st, providerServer("alpha", providertest.ModeServe, "ping"))

	ctx := WithFacade(context.Background(), "vllm")
	requireSuccess(t, h.Execute(ctx, ToolCall{Name: "ping"}))
	requireFailure(t, h.Execute(ctx, ToolCall{Name: "nope"}), fault.UnsupportedTool)

	calls, err := h.RecentCalls(context.Background(), store.CallFilter{})
	require.NoError(t, err)
	require.Len(t, calls, 2)

	assert.Equal(t, "nope", calls[0].Tool)
	assert.False(t, calls[0].Success)
	assert.Equal(t, string(fault.UnsupportedTool), calls[0].ErrorKind)
	assert.Empty(t, calls[0].Server)

	assert.Equal(t, "ping", calls[1].Tool)
	assert.Equal(t, "alpha", calls[1].Server)
	assert.Equal(t, "vllm", calls[1].Facade)
	assert.True(t, calls[1].Success)

	events, err := h.ServerEvents(context.Background(), "alpha", 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "running", events[0].ToState)
	assert.Equal(t, "starting", events[1].ToState)

	stats, err := h.CallStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestJournalQueriesWithoutStore(t *testing.T) {
	h := setupHubTest(t, nil, providerServer("alpha", providertest.ModeServe, "ping"))

	_, err := h.RecentCalls(context.Background(), store.CallFilter{})
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = h.CallStats(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = h.ServerEvents(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestNewRejectsCollidingTools(t *testing.T) {
	cfg := &config.Config{Servers: []config.ServerEntry{
		providerServer("alpha", providertest.ModeServe, "ping"),
		providerServer("beta", providertest.ModeServe, "ping"),
	}}
	cfg.ApplyDefaults()

	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestToolResultJSON(t *testing.T) {
	b, err := json.Marshal(Success(json.RawMessage(`{"a":1}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":{"a":1},"error":null}`, string(b))

	b, err = json.Marshal(Failure(fault.New(fault.Timeout, "slow")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"result":null,"error":"Timeout: slow"}`, string(b))

	assert.Equal(t, fault.Kind(""), Success(nil).ErrorKind())
	assert.JSONEq(t, `null`, string(Success(nil).Result))
}

func TestFacadeContext(t *testing.T) {
	assert.Equal(t, "", FacadeFrom(context.Background()))
	assert.Equal(t, "mcp", FacadeFrom(WithFacade(context.Background(), "mcp")))
}
