// ABOUTME: Operator commands: config check, tool listing, one-shot tool calls and health checks
// ABOUTME: call runs the hub in-process; health talks to a running server over HTTP

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mcp-hub/internal/config"
	"github.com/2389/mcp-hub/internal/hub"
)

// errToolFailed is returned by call when the tool execution fails.
var errToolFailed = errors.New("tool call failed")

func newCheckCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and report provider commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, path, err := load()
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			red := color.New(color.FgRed)

			fmt.Fprintf(out, "config %s is valid\n\n", path)

			var missing int
			for _, s := range cfg.Servers {
				if _, err := exec.LookPath(s.Command); err != nil {
					missing++
					red.Fprint(out, "  ✗ ")
					fmt.Fprintf(out, "%s: command %q not found\n", s.Name, s.Command)
					continue
				}
				green.Fprint(out, "  ✓ ")
				fmt.Fprintf(out, "%s: %s\n", s.Name, s.Command)
			}

			if missing > 0 {
				return fmt.Errorf("%d provider command(s) not found", missing)
			}
			return nil
		},
	}
}

func newToolsCmd(load configLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the routed tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			table, err := cfg.RouteTable()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			routes := table.Routes()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(routes)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tSERVER\tCATEGORY\tDESCRIPTION")
			for _, r := range routes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Tool, r.Server, r.Category, r.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print routes as JSON")
	return cmd
}

func newCallCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Start the providers, run one tool call and print the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}

			call := hub.ToolCall{Name: args[0], Arguments: map[string]any{}}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &call.Arguments); err != nil {
					return fmt.Errorf("parsing arguments: %w", err)
				}
			}

			// Logs go to stderr so stdout carries only the result.
			logCfg := cfg.Logging
			if logCfg.Level == "info" {
				logCfg.Level = "warn"
			}
			logger := setupLogger(logCfg, cmd.ErrOrStderr())

			h, err := hub.New(cfg, hub.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer func() {
				if err := h.Close(cmd.Context()); err != nil {
					logger.Warn("provider shutdown", "error", err)
				}
			}()
			if err := h.Start(cmd.Context()); err != nil {
				logger.Warn("some providers failed to start", "error", err)
			}

			res := h.Execute(hub.WithFacade(cmd.Context(), "cli"), call)
			if err := writeResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errToolFailed
			}
			return nil
		},
	}
}

func writeResult(w io.Writer, res hub.ToolResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func newHealthCmd(load configLoader) *cobra.Command {
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running hub's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}

			path := "/health"
			if ready {
				path = "/health/ready"
			}
			url := "http://" + localAddr(cfg) + path
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			if ready {
				body, _ := io.ReadAll(resp.Body)
				fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "Check readiness (at least one provider running)")
	return cmd
}

// localAddr turns a listen address like ":11010" into a dialable one.
func localAddr(cfg *config.Config) string {
	addr := cfg.Server.HTTPAddr
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
