package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/grpcx"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/kafkax"
	"github.com/igabaycare/carebook/libs/metrics"
	otelx "github.com/igabaycare/carebook/libs/otel"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/libs/runtime"
	"github.com/igabaycare/carebook/services/billing-service/internal/handlers"
	"github.com/igabaycare/carebook/services/billing-service/internal/payments"
	"github.com/igabaycare/carebook/services/billing-service/internal/reconcile"
	"github.com/igabaycare/carebook/services/billing-service/internal/storage"
)

func main() {
	_ = config.LoadDotenv()
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	registry := metrics.NewRegistry()
	pipeline := metrics.NewPipelineMetrics(registry)

	outboxRepo := outbox.NewRepository()
	repo := storage.NewRepository(pool, outboxRepo)
	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	tolerance, err := config.Duration("WEBHOOK_TOLERANCE", paygateway.DefaultWebhookTolerance)
	if err != nil {
		panic(err)
	}
	h := handlers.New(payments.NewService(pool, repo, logger, pipeline), repo, logger, handlers.Config{
		StripeWebhookSecret:   config.String("STRIPE_WEBHOOK_SECRET", ""),
		PayMongoWebhookSecret: config.String("PAYMONGO_WEBHOOK_SECRET", ""),
		WebhookTolerance:      tolerance,
	})

	if addr := config.String("GRPC_HEALTH_ADDR", ""); addr != "" {
		hs := grpcx.NewHealthServer(service)
		go hs.Watch(ctx, 10*time.Second, db.ReadyCheck(pool))
		go func() {
			if err := hs.Serve(ctx, addr, logger); err != nil {
				logger.Error("grpc health server error", "err", err)
			}
		}()
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", metrics.Handler(registry))
	h.Register(mux)

	// Reconciliation re-emits paid checkouts whose booking never landed.
	if config.Bool("RECONCILE_ENABLED", true) {
		gateway, err := paygateway.New(paygateway.Config{
			Provider:      config.String("PAYMENT_PROVIDER", "paymongo"),
			SecretKey:     config.String("PAYMENT_SECRET_KEY", ""),
			BaseURL:       config.String("PAYMENT_API_BASE_URL", ""),
			PublicBaseURL: config.String("PUBLIC_BASE_URL", "http://localhost:8080"),
			HTTPClient:    &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		})
		if err != nil {
			logger.Warn("reconcile disabled: payment gateway init failed", "err", err)
		} else {
			interval, err := config.Duration("RECONCILE_INTERVAL", 5*time.Minute)
			if err != nil {
				panic(err)
			}
			grace, err := config.Duration("RECONCILE_GRACE", 2*time.Minute)
			if err != nil {
				panic(err)
			}
			lockKey, err := config.Int64("RECONCILE_LOCK_KEY", 4242001)
			if err != nil {
				panic(err)
			}
			rec := reconcile.New(repo, gateway, reconcile.NewAdvisoryLock(pool, lockKey), logger, pipeline, reconcile.Config{
				Interval:    interval,
				Grace:       grace,
				MaxAttempts: 5,
			})
			go rec.Run(ctx)
		}
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
	logger.Info("http server stopped")
}
