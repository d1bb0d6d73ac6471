// Package gateway orchestrates the mcp-hub server components.
//
// # Overview
//
// The gateway owns everything outside the hub core: the call journal store,
// the HTTP listener carrying the facades, the optional gRPC health service
// and the optional Tailscale node. It owns the hub itself as well, so one
// value is created at startup and released at shutdown.
//
// # HTTP Endpoints
//
//   - GET / - service info
//   - GET /health, GET /health/ready - liveness and readiness
//   - GET /servers, POST /servers/{name}/restart - provider status and control
//   - GET /calls - recent call journal
//   - /openwebui/* and /vllm/* - tool facades
//   - POST /mcp, DELETE /mcp - MCP Streamable HTTP
//
// # gRPC Health
//
// When enabled, the standard grpc.health.v1.Health service is served.
// Service "" reports the hub as a whole and every provider has an entry
// under its server name that follows its Running state.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx)
//
// Run starts the providers, serves until ctx is canceled, then shuts down
// the listeners, the providers and the store in that order.
package gateway
