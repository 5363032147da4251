package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a server exposing only the standard health service.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// WatchHealth flips the overall serving status from check every interval until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, interval time.Duration, check func(context.Context) error, logger *slog.Logger) {
	set := func() {
		if err := check(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("health.check.failed", "error", err)
			}
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
	set()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			set()
		}
	}
}
