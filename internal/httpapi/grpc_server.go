package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"rotasave.org/internal/ledger"
	"rotasave.org/internal/ledger/remote"
	"rotasave.org/internal/obs"
)

// LedgerServiceName is the health service name reported for the ledger.
const LedgerServiceName = "rotasave.ledger.v1.LedgerService"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer hosts the ledger service and standard gRPC health checks
// driven by the readiness check.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer registers health and, when led is non-nil, the ledger.
func NewGRPCServer(r readinessChecker, led ledger.Service, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		server:    grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: r,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	if led != nil {
		remote.Register(s.server, led)
	}
	s.refresh(context.Background())
	return s
}

// Serve blocks serving lis until Stop.
func (s *GRPCServer) Serve(lis net.Listener) error { return s.server.Serve(lis) }

// Stop drains in-flight calls.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// WatchReadiness re-runs the readiness check every interval until ctx ends.
func (s *GRPCServer) WatchReadiness(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *GRPCServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(LedgerServiceName, status)
}
