// Package handshake makes sure each provider process receives exactly one
// initialize request before tools are called on it.
//
// The handshake is best effort. A provider that rejects or ignores
// initialize is reported as InitializationFailed and tool calls still go
// ahead; callers can observe the degraded state through the Outcome.
package handshake
