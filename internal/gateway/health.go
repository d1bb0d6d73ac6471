// ABOUTME: gRPC health service mirroring provider state transitions.
// ABOUTME: Service "" is the hub; one entry per provider name follows its Running state.

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/mcp-hub/internal/supervisor"
)

// newGRPCServer creates the gRPC server hosting the health service.
func newGRPCServer(hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// newHealthServer creates a health server with every provider NOT_SERVING.
func newHealthServer(servers []string) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, name := range servers {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return hs
}

// onStateChange mirrors a provider transition into the health server.
func (g *Gateway) onStateChange(ev supervisor.Event) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ev.To == supervisor.Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ev.Server, status)
}
