package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/grpc"

	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/grpcx"
	"github.com/igabaycare/carebook/libs/runtime"
)

func loadUpstreams() (upstreamSet, error) {
	load := func(name, urlKey, fallback, grpcKey string) (upstream, error) {
		raw := config.String(urlKey, fallback)
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return upstream{}, fmt.Errorf("%s: invalid url %q", urlKey, raw)
		}
		return upstream{Name: name, URL: u, GRPCAddr: config.String(grpcKey, "")}, nil
	}
	var (
		set upstreamSet
		err error
	)
	if set.Booking, err = load("booking-service", "BOOKING_URL", "http://booking-service:8083", "BOOKING_GRPC_ADDR"); err != nil {
		return upstreamSet{}, err
	}
	if set.Billing, err = load("billing-service", "BILLING_URL", "http://billing-service:8084", "BILLING_GRPC_ADDR"); err != nil {
		return upstreamSet{}, err
	}
	if set.Notifications, err = load("notification-service", "NOTIFICATION_URL", "http://notification-service:8086", "NOTIFICATION_GRPC_ADDR"); err != nil {
		return upstreamSet{}, err
	}
	return set, nil
}

// upstreamChecks checks each upstream over grpc.health.v1 when a gRPC address is
// configured and over HTTP /readyz otherwise.
func upstreamChecks(set upstreamSet) ([]runtime.ReadyCheck, func(), error) {
	var (
		checks []runtime.ReadyCheck
		conns  []*grpc.ClientConn
	)
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for _, up := range set.all() {
		if up.GRPCAddr != "" {
			conn, err := grpcx.Dial(up.GRPCAddr, grpcx.DialOptions{})
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("dial %s: %w", up.Name, err)
			}
			conns = append(conns, conn)
			checks = append(checks, runtime.ReadyCheck{Name: up.Name, Check: grpcx.HealthCheck(conn, up.Name)})
			continue
		}
		checks = append(checks, runtime.ReadyCheck{Name: up.Name, Check: httpReady(client, up.URL.JoinPath("/readyz").String())})
	}
	return checks, closeAll, nil
}

func httpReady(client *http.Client, target string) func(context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("readyz returned %d", resp.StatusCode)
		}
		return nil
	}
}
