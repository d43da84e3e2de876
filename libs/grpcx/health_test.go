package grpcx

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/igabaycare/carebook/libs/httpx"
)

func TestHealthCheckFollowsServingState(t *testing.T) {
	hs := NewHealthServer("booking-service")
	lis := bufconn.Listen(1 << 20)
	go func() { _ = hs.srv.Serve(lis) }()
	defer hs.srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	check := HealthCheck(conn, "booking-service")
	if err := check(context.Background()); err == nil {
		t.Fatal("expected NOT_SERVING before SetServing(true)")
	}
	hs.SetServing(true)
	if err := check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
}

func TestServerInterceptorEchoesRequestID(t *testing.T) {
	interceptor := UnaryServerRequestIDInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))

	var got string
	_, err := interceptor(ctx, &healthpb.HealthCheckRequest{}, &grpc.UnaryServerInfo{FullMethod: "/x"}, func(ctx context.Context, _ any) (any, error) {
		got = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if got != "req-42" {
		t.Fatalf("request id = %q", got)
	}
}

func TestWatchPublishesCheckResult(t *testing.T) {
	hs := NewHealthServer("billing-service")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthy atomic.Bool
	healthy.Store(true)
	go hs.Watch(ctx, 10*time.Millisecond, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("db down")
	})

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "billing-service"})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}
	waitFor(t, func() bool { return status() == healthpb.HealthCheckResponse_SERVING })
	healthy.Store(false)
	waitFor(t, func() bool { return status() == healthpb.HealthCheckResponse_NOT_SERVING })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
