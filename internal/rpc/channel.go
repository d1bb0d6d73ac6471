// ABOUTME: Channel routes a call for a named server to that server's Conn.
// ABOUTME: Resolution failures come from the Resolver (normally the process supervisor).

package rpc

import (
	"context"
	"encoding/json"
)

// Resolver returns the live Conn for a server. It fails with
// ServerNotConfigured for unknown names and ServerNotAvailable when the
// server is not Running.
type Resolver interface {
	Conn(server string) (*Conn, error)
}

// Channel performs JSON-RPC calls against named servers.
type Channel struct {
	resolver Resolver
}

// NewChannel creates a Channel backed by resolver.
func NewChannel(resolver Resolver) *Channel {
	return &Channel{resolver: resolver}
}

// Call sends one request to server and returns its result.
func (ch *Channel) Call(ctx context.Context, server, method string, params any) (json.RawMessage, error) {
	conn, err := ch.resolver.Conn(server)
	if err != nil {
		return nil, err
	}
	return conn.Call(ctx, method, params)
}

// Notify sends a notification to server.
func (ch *Channel) Notify(ctx context.Context, server, method string, params any) error {
	conn, err := ch.resolver.Conn(server)
	if err != nil {
		return err
	}
	return conn.Notify(ctx, method, params)
}
