// Package replay provides a TTL, size-bounded cache of tool results keyed by
// a client-supplied call id. The vLLM facade uses it so that a client
// retrying a function call with the same id gets the original result back
// instead of executing the tool twice.
package replay
