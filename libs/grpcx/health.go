package grpcx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for a service. Readiness mirrors the service's
// own dependency checks.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	name   string
}

func NewHealthServer(service string) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{srv: srv, health: h, name: service}
}

func (s *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.name, status)
	s.health.SetServingStatus("", status)
}

// Serve blocks until ctx is done.
func (s *HealthServer) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()
	logger.Info("grpc health listening", "addr", addr)
	return s.srv.Serve(lis)
}

// HealthCheck returns a readiness check that asks a remote service over grpc.health.v1.
func HealthCheck(conn grpc.ClientConnInterface, service string) func(context.Context) error {
	client := healthpb.NewHealthClient(conn)
	return func(ctx context.Context) error {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", service, resp.GetStatus())
		}
		return nil
	}
}

// Watch runs check every interval and publishes the result as the serving status.
func (s *HealthServer) Watch(ctx context.Context, every time.Duration, check func(context.Context) error) {
	if every <= 0 {
		every = 10 * time.Second
	}
	refresh := func() {
		checkCtx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		s.SetServing(check(checkCtx) == nil)
	}
	refresh()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
