// Package mcp exposes the hub's routed tools over the Model Context Protocol
// Streamable HTTP transport, so MCP clients can use every configured
// provider through one endpoint.
//
// # Protocol
//
// JSON-RPC 2.0 messages are POSTed to /mcp, one per request:
//
//   - initialize creates a session and returns its id in the
//     Mcp-Session-Id response header
//   - tools/list returns the routing table as MCP tool definitions
//   - tools/call executes a tool through the hub
//   - notifications are accepted with 202 and no body
//
// Every request after initialize must carry Mcp-Session-Id. DELETE /mcp
// with the header ends the session. Server-initiated streams (GET) are not
// offered.
//
// # Tool Results
//
// A provider result that already has the MCP CallToolResult shape (a
// "content" array) is passed through verbatim. Any other result is returned
// as a single text content item holding its JSON. Failed executions become
// results with isError set and the "<Kind>: <detail>" message as text, so
// the calling model can see what went wrong.
//
// # Integration with Claude Desktop
//
//	{
//	  "mcpServers": {
//	    "hub": {
//	      "url": "http://localhost:11010/mcp"
//	    }
//	  }
//	}
package mcp
