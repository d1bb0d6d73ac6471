// Package providertest is a scripted MCP tool provider speaking
// newline-delimited JSON-RPC on stdio.
//
// Tests run it as a real child process by re-executing the test binary:
// TestMain calls MaybeRun before m.Run, and Command returns the executable,
// arguments and environment that make the re-executed binary act as a
// provider in the requested Mode instead of running tests. The echo-provider
// command serves the same tools for local experiments.
package providertest
