// Package fault defines the error taxonomy shared by the hub core.
//
// Every failure produced by the supervisor, the RPC channel, the handshake
// manager or the router is a *Error carrying a Kind. Facades never inspect
// error strings; they call KindOf or errors.Is against a Kind:
//
//	if errors.Is(err, fault.Timeout) {
//	    // provider did not answer within the call deadline
//	}
//
// The rendered form of an error is always "<Kind>: <detail>", which is what
// the tool execution contract reports in its error field:
//
//	UnsupportedTool: unknown_tool
//	Timeout: tool read_file on server filesystem: no response within 10s
//
// No kind is fatal to the hub. A failed call or a dead provider only affects
// the tools routed to that provider.
package fault
