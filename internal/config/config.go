// ABOUTME: Configuration loading and parsing for mcp-hub
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/mcp-hub/internal/protocol"
	"github.com/2389/mcp-hub/internal/router"
	"github.com/2389/mcp-hub/internal/supervisor"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHTTPAddr     = ":11010"
	DefaultCallTimeout  = 10 * time.Second
	DefaultStartupGrace = 500 * time.Millisecond
	DefaultStopTimeout  = 3 * time.Second
	DefaultReplayTTL    = 5 * time.Minute
)

// Config represents the complete mcp-hub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Servers   []ServerEntry   `yaml:"servers" toml:"servers"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener address configuration. An empty GRPCAddr
// disables the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration. An empty path disables the
// call journal.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// HubConfig holds timing and handshake settings for the provider processes
type HubConfig struct {
	CallTimeout  time.Duration `yaml:"-" toml:"-"`
	StartupGrace time.Duration `yaml:"-" toml:"-"`
	StopTimeout  time.Duration `yaml:"-" toml:"-"`
	ReplayTTL    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	CallTimeoutRaw  string `yaml:"call_timeout" toml:"call_timeout"`
	StartupGraceRaw string `yaml:"startup_grace" toml:"startup_grace"`
	StopTimeoutRaw  string `yaml:"stop_timeout" toml:"stop_timeout"`
	ReplayTTLRaw    string `yaml:"replay_ttl" toml:"replay_ttl"`

	Handshake HandshakeConfig `yaml:"handshake" toml:"handshake"`
}

// HandshakeConfig holds the values announced in initialize
type HandshakeConfig struct {
	ProtocolVersion string `yaml:"protocol_version" toml:"protocol_version"`
	ClientName      string `yaml:"client_name" toml:"client_name"`
	ClientVersion   string `yaml:"client_version" toml:"client_version"`
	SendInitialized *bool  `yaml:"send_initialized" toml:"send_initialized"`
}

// ServerEntry configures one tool provider process
type ServerEntry struct {
	Name       string            `yaml:"name" toml:"name"`
	Command    string            `yaml:"command" toml:"command"`
	Args       []string          `yaml:"args" toml:"args"`
	WorkingDir string            `yaml:"working_dir" toml:"working_dir"`
	Env        map[string]string `yaml:"env" toml:"env"`
	Category   string            `yaml:"category" toml:"category"`
	Tools      []ToolEntry       `yaml:"tools" toml:"tools"`
}

// ToolEntry declares a tool served by a provider. When a server lists no
// tools, its category's default tools are routed to it.
type ToolEntry struct {
	Name        string         `yaml:"name" toml:"name"`
	Description string         `yaml:"description" toml:"description"`
	InputSchema map[string]any `yaml:"input_schema" toml:"input_schema"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse parses configuration content, as TOML when isTOML is set.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Hub.CallTimeout == 0 {
		c.Hub.CallTimeout = DefaultCallTimeout
	}
	if c.Hub.StartupGrace == 0 {
		c.Hub.StartupGrace = DefaultStartupGrace
	}
	if c.Hub.StopTimeout == 0 {
		c.Hub.StopTimeout = DefaultStopTimeout
	}
	if c.Hub.ReplayTTL == 0 {
		c.Hub.ReplayTTL = DefaultReplayTTL
	}
	hs := &c.Hub.Handshake
	if hs.ProtocolVersion == "" {
		hs.ProtocolVersion = protocol.DefaultProtocolVersion
	}
	if hs.ClientName == "" {
		hs.ClientName = protocol.DefaultClientName
	}
	if hs.ClientVersion == "" {
		hs.ClientVersion = protocol.DefaultClientVersion
	}
	if hs.SendInitialized == nil {
		send := true
		hs.SendInitialized = &send
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	for name, d := range map[string]time.Duration{
		"hub.call_timeout":  c.Hub.CallTimeout,
		"hub.startup_grace": c.Hub.StartupGrace,
		"hub.stop_timeout":  c.Hub.StopTimeout,
		"hub.replay_ttl":    c.Hub.ReplayTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Command == "" {
			return fmt.Errorf("servers[%d] (%s): command is required", i, s.Name)
		}
		category, err := router.ParseCategory(s.Category)
		if err != nil {
			return fmt.Errorf("servers[%d] (%s): %w", i, s.Name, err)
		}
		if category == router.CategoryCustom && len(s.Tools) == 0 {
			return fmt.Errorf("servers[%d] (%s): custom servers must list their tools", i, s.Name)
		}
		for j, tool := range s.Tools {
			if tool.Name == "" {
				return fmt.Errorf("servers[%d] (%s): tools[%d].name is required", i, s.Name, j)
			}
		}
	}

	if _, err := c.RouteTable(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"call_timeout", cfg.Hub.CallTimeoutRaw, &cfg.Hub.CallTimeout},
		{"startup_grace", cfg.Hub.StartupGraceRaw, &cfg.Hub.StartupGrace},
		{"stop_timeout", cfg.Hub.StopTimeoutRaw, &cfg.Hub.StopTimeout},
		{"replay_ttl", cfg.Hub.ReplayTTLRaw, &cfg.Hub.ReplayTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// LaunchSpecs converts the server entries for the supervisor.
func (c *Config) LaunchSpecs() []supervisor.LaunchSpec {
	specs := make([]supervisor.LaunchSpec, 0, len(c.Servers))
	for _, s := range c.Servers {
		specs = append(specs, supervisor.LaunchSpec{
			Name:       s.Name,
			Command:    s.Command,
			Args:       s.Args,
			WorkingDir: s.WorkingDir,
			Env:        s.Env,
		})
	}
	return specs
}

// Routes builds the tool routes: each server's listed tools, or its
// category's defaults when it lists none.
func (c *Config) Routes() ([]router.Route, error) {
	var routes []router.Route
	for _, s := range c.Servers {
		category, err := router.ParseCategory(s.Category)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", s.Name, err)
		}
		tools := router.DefaultTools(category)
		if len(s.Tools) > 0 {
			tools = tools[:0]
			for _, t := range s.Tools {
				spec := router.ToolSpec{Name: t.Name, Description: t.Description}
				if t.InputSchema != nil {
					schema, err := json.Marshal(t.InputSchema)
					if err != nil {
						return nil, fmt.Errorf("server %s tool %s: encoding input_schema: %w", s.Name, t.Name, err)
					}
					spec.InputSchema = schema
				}
				tools = append(tools, spec)
			}
		}
		routes = append(routes, router.RoutesFor(s.Name, category, tools)...)
	}
	return routes, nil
}

// RouteTable builds and validates the routing table.
func (c *Config) RouteTable() (*router.Table, error) {
	routes, err := c.Routes()
	if err != nil {
		return nil, err
	}
	return router.NewTable(routes)
}

// SendInitializedEnabled reports whether the handshake sends notifications/initialized.
func (h HandshakeConfig) SendInitializedEnabled() bool {
	return h.SendInitialized == nil || *h.SendInitialized
}

// ResolvePath picks the configuration file: the explicit path if given,
// then $MCPHUB_CONFIG, then $XDG_CONFIG_HOME/mcp-hub/hub.yaml, then
// ~/.config/mcp-hub/hub.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("MCPHUB_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mcp-hub", "hub.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hub.yaml"
	}
	return filepath.Join(home, ".config", "mcp-hub", "hub.yaml")
}
