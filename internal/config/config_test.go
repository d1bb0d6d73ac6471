// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, routes and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/mcp-hub/internal/router"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "hub.yaml", `
server:
  http_addr: "127.0.0.1:9000"
  grpc_addr: "127.0.0.1:9001"

database:
  path: "./hub.db"

hub:
  call_timeout: "2s"
  startup_grace: "250ms"
  stop_timeout: "1s"

servers:
  - name: filesystem
    category: filesystem
    command: node
    args: ["index.js", "/tmp"]
    working_dir: /srv/fs
    env:
      DEBUG: "1"
  - name: custom
    category: custom
    command: ./provider
    tools:
      - name: lookup
        description: Look something up
        input_schema:
          type: object
          properties:
            q:
              type: string

logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:9001" {
		t.Errorf("GRPCAddr = %q", cfg.Server.GRPCAddr)
	}
	if cfg.Hub.CallTimeout != 2*time.Second {
		t.Errorf("CallTimeout = %v", cfg.Hub.CallTimeout)
	}
	if cfg.Hub.StartupGrace != 250*time.Millisecond {
		t.Errorf("StartupGrace = %v", cfg.Hub.StartupGrace)
	}
	if cfg.Hub.ReplayTTL != DefaultReplayTTL {
		t.Errorf("ReplayTTL = %v, want default", cfg.Hub.ReplayTTL)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("len(Servers) = %d", len(cfg.Servers))
	}
	if cfg.Servers[0].Env["DEBUG"] != "1" {
		t.Errorf("env not loaded: %v", cfg.Servers[0].Env)
	}

	specs := cfg.LaunchSpecs()
	if specs[0].Command != "node" || specs[0].WorkingDir != "/srv/fs" || len(specs[0].Args) != 2 {
		t.Errorf("unexpected launch spec: %+v", specs[0])
	}

	table, err := cfg.RouteTable()
	if err != nil {
		t.Fatalf("RouteTable() error = %v", err)
	}
	if got := table.ToolsFor("filesystem"); strings.Join(got, ",") != "list_directory,read_file,write_file" {
		t.Errorf("filesystem tools = %v", got)
	}
	route, ok := table.Lookup("lookup")
	if !ok {
		t.Fatal("lookup not routed")
	}
	if route.Server != "custom" || route.Category != router.CategoryCustom {
		t.Errorf("lookup route = %+v", route)
	}
	if !strings.Contains(string(route.InputSchema), `"q"`) {
		t.Errorf("input schema = %s", route.InputSchema)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "hub.toml", `
[server]
http_addr = ":9100"

[hub]
call_timeout = "3s"

[hub.handshake]
client_name = "toml-hub"
send_initialized = false

[[servers]]
name = "memory"
category = "memory"
command = "node"
args = ["memory/index.js"]

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Hub.CallTimeout != 3*time.Second {
		t.Errorf("CallTimeout = %v", cfg.Hub.CallTimeout)
	}
	if cfg.Hub.Handshake.ClientName != "toml-hub" {
		t.Errorf("ClientName = %q", cfg.Hub.Handshake.ClientName)
	}
	if cfg.Hub.Handshake.SendInitializedEnabled() {
		t.Error("send_initialized = false not honored")
	}
	routes, err := cfg.Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}
	if len(routes) != 3 || routes[0].Server != "memory" {
		t.Errorf("routes = %+v", routes)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("servers: []\n"), false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Hub.CallTimeout != 10*time.Second {
		t.Errorf("CallTimeout = %v", cfg.Hub.CallTimeout)
	}
	if cfg.Hub.StartupGrace != 500*time.Millisecond {
		t.Errorf("StartupGrace = %v", cfg.Hub.StartupGrace)
	}
	if cfg.Hub.StopTimeout != 3*time.Second {
		t.Errorf("StopTimeout = %v", cfg.Hub.StopTimeout)
	}
	hs := cfg.Hub.Handshake
	if hs.ProtocolVersion != "2024-11-05" || hs.ClientName != "mcp-integration-hub" || hs.ClientVersion != "1.0.0" {
		t.Errorf("handshake defaults = %+v", hs)
	}
	if !hs.SendInitializedEnabled() {
		t.Error("send_initialized should default to true")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HUB_COMMAND", "/usr/bin/provider")
	t.Setenv("TEST_HUB_DB", "/var/lib/hub.db")

	cfg, err := Parse([]byte(`
database:
  path: "${TEST_HUB_DB}"
servers:
  - name: fs
    category: filesystem
    command: "${TEST_HUB_COMMAND}"
    env:
      TOKEN: "${TEST_HUB_UNSET_VARIABLE}"
`), false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Database.Path != "/var/lib/hub.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Servers[0].Command != "/usr/bin/provider" {
		t.Errorf("Command = %q", cfg.Servers[0].Command)
	}
	if cfg.Servers[0].Env["TOKEN"] != "" {
		t.Errorf("unset var should expand to empty, got %q", cfg.Servers[0].Env["TOKEN"])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidContent(t *testing.T) {
	if _, err := Parse([]byte("servers: [unclosed"), false); err == nil {
		t.Error("expected YAML parse error")
	}
	if _, err := Parse([]byte("[server\nhttp_addr ="), true); err == nil {
		t.Error("expected TOML parse error")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("hub:\n  call_timeout: soon\n"), false)
	if err == nil || !strings.Contains(err.Error(), "call_timeout") {
		t.Fatalf("expected call_timeout error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "duplicate server",
			content: `
servers:
  - {name: a, command: x, category: memory}
  - {name: a, command: y, category: filesystem}
`,
			wantErr: "duplicate server name",
		},
		{
			name:    "missing command",
			content: "servers:\n  - {name: a, category: memory}\n",
			wantErr: "command is required",
		},
		{
			name:    "missing name",
			content: "servers:\n  - {command: x, category: memory}\n",
			wantErr: "name is required",
		},
		{
			name:    "unknown category",
			content: "servers:\n  - {name: a, command: x, category: database}\n",
			wantErr: "unknown server category",
		},
		{
			name:    "custom without tools",
			content: "servers:\n  - {name: a, command: x}\n",
			wantErr: "must list their tools",
		},
		{
			name: "tool routed twice",
			content: `
servers:
  - {name: a, command: x, category: filesystem}
  - {name: b, command: y, category: custom, tools: [{name: read_file}]}
`,
			wantErr: "tool name collision",
		},
		{
			name:    "bad log level",
			content: "logging: {level: loud}\n",
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			content: "logging: {format: xml}\n",
			wantErr: "logging.format",
		},
		{
			name:    "negative duration",
			content: "hub: {call_timeout: -1s}\n",
			wantErr: "must not be negative",
		},
		{
			name:    "tailscale without hostname",
			content: "tailscale: {enabled: true}\n",
			wantErr: "tailscale.hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), false)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollisionIsSentinel(t *testing.T) {
	cfg := &Config{Servers: []ServerEntry{
		{Name: "a", Command: "x", Category: "memory"},
		{Name: "b", Command: "y", Category: "memory"},
	}}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); !errors.Is(err, router.ErrToolCollision) {
		t.Errorf("Validate() = %v, want ErrToolCollision", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HUB_A", "alpha")
	got := expandEnvVars("x=${HUB_A} y=${HUB_MISSING_VALUE} z=$HUB_A")
	if got != "x=alpha y= z=$HUB_A" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("MCPHUB_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	if got := ResolvePath("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("explicit: %q", got)
	}

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ResolvePath(""); got != filepath.Join("/xdg", "mcp-hub", "hub.yaml") {
		t.Errorf("xdg: %q", got)
	}

	t.Setenv("MCPHUB_CONFIG", "/env.toml")
	if got := ResolvePath(""); got != "/env.toml" {
		t.Errorf("env: %q", got)
	}
}
