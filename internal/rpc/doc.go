// Package rpc exchanges JSON-RPC 2.0 messages with a tool provider over
// newline-delimited text on its stdio pipes.
//
// A Conn owns both directions of one provider's pipes and serves calls one at
// a time from a queue. Only the Conn's own loop goroutine writes requests or
// consumes response lines, so a response can never be handed to the wrong
// caller. Lines that arrive while no call is waiting, and late answers to
// calls that already timed out, are discarded instead of being read by the
// next call.
//
// Channel resolves a server name to its Conn through a Resolver (normally the
// process supervisor) and is what the handshake manager and the router call.
package rpc
