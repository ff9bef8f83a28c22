package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCReporter publishes the Manager's readiness over the standard gRPC
// health protocol.
type GRPCReporter struct {
	manager *Manager
	server  *grpchealth.Server
	service string
}

func NewGRPCReporter(m *Manager, service string) *GRPCReporter {
	return &GRPCReporter{manager: m, server: grpchealth.NewServer(), service: service}
}

func (r *GRPCReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Sync evaluates readiness and the dependency checks once. The overall ("")
// and the named service entries always agree.
func (r *GRPCReporter) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if r.manager.IsReady() && len(r.manager.Run(ctx)) == 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", status)
	if r.service != "" {
		r.server.SetServingStatus(r.service, status)
	}
	return status
}

// Run syncs every interval until ctx is done, then reports NOT_SERVING for
// good.
func (r *GRPCReporter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	r.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			r.Sync(ctx)
		}
	}
}
