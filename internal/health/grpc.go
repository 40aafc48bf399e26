package health

import (
	"context"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName — имя сервиса в gRPC health protocol.
const ServiceName = "storefront"

// SyncGRPC периодически переносит результат проверок в gRPC health server.
// Пустое имя сервиса и ServiceName получают одинаковый статус. При отмене
// ctx статус переводится в NOT_SERVING.
func (h *Handler) SyncGRPC(ctx context.Context, srv *grpchealth.Server, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	update := func() {
		overall, _ := h.Evaluate(ctx)
		status := healthpb.HealthCheckResponse_SERVING
		if overall == StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus("", status)
		srv.SetServingStatus(ServiceName, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			update()
		}
	}
}
