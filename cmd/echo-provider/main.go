// ABOUTME: Stdio tool provider with deterministic tools for smoke testing a hub config
// ABOUTME: Speaks line-delimited JSON-RPC on stdin/stdout; diagnostics go to stderr

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/2389/mcp-hub/internal/providertest"
)

func main() {
	mode := flag.String("mode", string(providertest.ModeServe), "provider mode: serve, exit, noinit or silent")
	list := flag.Bool("list", false, "print the served tool names and exit")
	flag.Parse()

	if *list {
		for _, t := range providertest.Tools {
			fmt.Printf("%-12s %s\n", t.Name, t.Description)
		}
		return
	}

	os.Exit(providertest.Serve(os.Stdin, os.Stdout, os.Stderr, providertest.Mode(*mode)))
}
