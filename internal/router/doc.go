// Package router maps tool names to the provider that serves them and
// executes calls.
//
// The mapping is a Table of Routes, loaded from configuration. Tools are
// grouped by provider category (filesystem, memory, everything,
// sequentialthinking); adding a tool means adding a Route, never touching
// Execute. Execute presents one uniform error surface: every failure is a
// *fault.Error naming the tool and the server.
package router
