// ABOUTME: Tests for the mcp-hub command tree using temp configs and scripted providers
// ABOUTME: The test binary re-executes itself as a provider for the call command

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-hub/internal/config"
	"github.com/2389/mcp-hub/internal/providertest"
)

func TestMain(m *testing.M) {
	providertest.MaybeRun()
	color.NoColor = true
	os.Exit(m.Run())
}

// writeConfig writes a config with one scripted provider serving ping and echo.
func writeConfig(t *testing.T, httpAddr, command string) string {
	t.Helper()
	path, args, env := providertest.Command(providertest.ModeServe)
	if command == "" {
		command = path
	}
	argsJSON, err := json.Marshal(args)
	require.NoError(t, err)

	content := fmt.Sprintf(`
server:
  http_addr: %q
hub:
  startup_grace: 300ms
  stop_timeout: 1s
servers:
  - name: alpha
    command: %q
    args: %s
    env:
      %s: %s
    category: custom
    tools:
      - name: ping
        description: Answers pong
      - name: echo
logging:
  level: error
`, httpAddr, command, argsJSON, providertest.EnvMode, env[providertest.EnvMode])

	file := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestCheckCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfgPath := writeConfig(t, ":0", "")
		out, _, err := run(t, "check", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
		assert.Contains(t, out, "✓ alpha")
	})

	t.Run("missing command", func(t *testing.T) {
		cfgPath := writeConfig(t, ":0", "definitely-not-a-real-provider-binary")
		out, _, err := run(t, "check", "--config", cfgPath)
		assert.ErrorContains(t, err, "1 provider command(s) not found")
		assert.Contains(t, out, "✗ alpha")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := run(t, "check", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "loading config")
	})
}

func TestToolsCommand(t *testing.T) {
	cfgPath := writeConfig(t, ":0", "")

	out, _, err := run(t, "tools", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "TOOL")
	assert.Contains(t, out, "ping")
	assert.Contains(t, out, "Answers pong")

	out, _, err = run(t, "tools", "--json", "--config", cfgPath)
	require.NoError(t, err)
	var routes []struct {
		Tool   string `json:"tool"`
		Server string `json:"server"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	require.Len(t, routes, 2)
	assert.Equal(t, "ping", routes[0].Tool)
	assert.Equal(t, "alpha", routes[0].Server)
}

func TestCallCommand(t *testing.T) {
	cfgPath := writeConfig(t, ":0", "")

	t.Run("ping", func(t *testing.T) {
		out, _, err := run(t, "call", "ping", "--config", cfgPath)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"result":"pong","error":null}`, out)
	})

	t.Run("echo with arguments", func(t *testing.T) {
		out, _, err := run(t, "call", "echo", `{"text":"hi"}`, "--config", cfgPath)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"result":{"echo":{"text":"hi"}},"error":null}`, out)
	})

	t.Run("unknown tool", func(t *testing.T) {
		out, _, err := run(t, "call", "unknown_tool", "--config", cfgPath)
		assert.ErrorIs(t, err, errToolFailed)
		assert.JSONEq(t, `{"success":false,"result":null,"error":"UnsupportedTool: unknown_tool"}`, out)
	})

	t.Run("bad arguments", func(t *testing.T) {
		_, _, err := run(t, "call", "echo", `{not json`, "--config", cfgPath)
		assert.ErrorContains(t, err, "parsing arguments")
	})
}

func TestHealthCommand(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/health/ready":
			if !ready.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ready (1 providers)"))
		}
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, strings.TrimPrefix(srv.URL, "http://"), "")

	out, _, err := run(t, "health", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "healthy\n", out)

	_, _, err = run(t, "health", "--ready", "--config", cfgPath)
	assert.ErrorContains(t, err, "status 503")

	ready.Store(true)
	out, _, err = run(t, "health", "--ready", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "ready (1 providers)\n", out)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "server", "alpha")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "alpha", entry["server"])

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug"}, &buf)
	logger.With("component", "hub").WithGroup("call").Debug("routing", "tool", "ping")
	assert.Contains(t, buf.String(), "routing")
	assert.Contains(t, buf.String(), "component=hub")
	assert.Contains(t, buf.String(), "call.tool=ping")
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:11010", localAddr(&config.Config{Server: config.ServerConfig{HTTPAddr: ":11010"}}))
	assert.Equal(t, "10.0.0.5:80", localAddr(&config.Config{Server: config.ServerConfig{HTTPAddr: "10.0.0.5:80"}}))
}
