// ABOUTME: serve command: prints the startup banner and runs the gateway
// ABOUTME: Blocks until SIGINT/SIGTERM, then shuts down providers and listeners

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mcp-hub/internal/gateway"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub and its HTTP facades",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			cyan.Fprint(out, banner)
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, configPath, err := load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, out)

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:    %s\n", configPath)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
			green.Fprint(out, "    ▶ ")
			if cfg.Server.GRPCAddr != "" {
				fmt.Fprintf(out, "gRPC:      %s\n", cfg.Server.GRPCAddr)
			} else {
				fmt.Fprint(out, "gRPC:      ")
				gray.Fprintln(out, "disabled")
			}
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Providers: %d\n", len(cfg.Servers))
			if cfg.Database.Path == "" {
				green.Fprint(out, "    ▶ ")
				fmt.Fprint(out, "Journal:   ")
				yellow.Fprintln(out, "disabled")
			}

			if cfg.Tailscale.Enabled {
				green.Fprint(out, "    ▶ ")
				fmt.Fprint(out, "Tailscale: ")
				cyan.Fprint(out, cfg.Tailscale.Hostname)
				if cfg.Tailscale.Ephemeral {
					gray.Fprint(out, " (ephemeral)")
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out)

			logger.Info("starting mcp-hub",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
				"providers", len(cfg.Servers),
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
