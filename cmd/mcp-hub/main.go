// ABOUTME: Entry point for the mcp-hub integration server
// ABOUTME: Wires the cobra command tree: serve, check, tools, call and health

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/mcp-hub/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                 _           _
  _ __ ___   ___ _ __        | |__  _   _| |__
 | '_ ' _ \ / __| '_ \ _____| '_ \| | | | '_ \
 | | | | | | (__| |_) |_____| | | | |_| | |_) |
 |_| |_| |_|\___| .__/      |_| |_|\__,_|_.__/
                |_|
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd wires the cobra tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mcp-hub",
		Short:         "Supervise MCP tool providers and expose them over HTTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $MCPHUB_CONFIG or ~/.config/mcp-hub/hub.yaml)")

	load := func() (*config.Config, string, error) {
		path := config.ResolvePath(configPath)
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newCheckCmd(load),
		newToolsCmd(load),
		newCallCmd(load),
		newHealthCmd(load),
	)
	return root
}

// configLoader resolves and loads the configuration for a command.
type configLoader func() (*config.Config, string, error)
