// Package facade exposes the hub's tool execution contract over HTTP for
// OpenWebUI and vLLM style clients, plus the operational endpoints
// (service info, health, provider status, restart, provider events, call
// journal and per-tool call stats).
//
// Both tool facades publish definitions in the OpenAI function calling
// shape and accept {"name", "arguments"} bodies. The vLLM facade also
// accepts arguments encoded as a JSON string and an optional tool call id;
// repeated ids within the replay window are answered from cache.
package facade
