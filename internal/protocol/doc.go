// Package protocol holds the MCP message shapes the hub exchanges with tool
// providers: method names, the initialize handshake payloads and the
// tools/call request and result.
package protocol
