// Package hub ties the provider supervisor, RPC channel, handshake manager
// and tool router into the single value facades talk to.
//
// A Hub is created with New, started with Start and released with Close.
// Execute implements the tool execution contract: it never returns a Go
// error, and every failure is rendered into ToolResult.Error as
// "<Kind>: <detail>".
package hub
