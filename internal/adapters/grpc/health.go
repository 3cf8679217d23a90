package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SettlementServiceName is the health service name callers probe for this service.
const SettlementServiceName = "settlement.v1.OrderSettlement"

type ReadinessCheck func(ctx context.Context) error

// HealthReporter publishes the gRPC health status from the same readiness
// check the HTTP /readyz endpoint uses.
type HealthReporter struct {
	server   *health.Server
	ready    ReadinessCheck
	interval time.Duration
	logger   *slog.Logger
}

func NewHealthReporter(logger *slog.Logger, ready ReadinessCheck, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{
		server:   health.NewServer(),
		ready:    ready,
		interval: interval,
		logger:   logger.With("module", "grpc", "layer", "adapter"),
	}
}

func (h *HealthReporter) Register(server grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(server, h.server)
}

// Refresh runs the readiness check once and updates both the overall and the
// named service status.
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.ready != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := h.ready(checkCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.logger.WarnContext(ctx, "readiness check failed",
				"operation", "health_refresh",
				"outcome", "failure",
				"error", err,
			)
		}
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(SettlementServiceName, status)
	return status
}

// Run refreshes the status until ctx ends, then marks the service as shutting down.
func (h *HealthReporter) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
