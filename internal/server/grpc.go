package server

import (
	"fmt"
	"net"

	"VaultLedger/internal/observability"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the standard gRPC health service for infrastructure
// probes, with reflection enabled. The command and query surface is served
// over HTTP; this endpoint exists for orchestrators that probe gRPC.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
}

func NewGRPCServer(checker *observability.HealthChecker) *GRPCServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)

	gs := &GRPCServer{server: s, health: h}
	gs.SetServing(checker.IsReady())
	return gs
}

// SetServing flips the reported health status.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Serve blocks on the listener until Stop is called.
func (g *GRPCServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return g.server.Serve(lis)
}

// Stop drains in-flight RPCs and shuts the server down.
func (g *GRPCServer) Stop() {
	g.server.GracefulStop()
}
