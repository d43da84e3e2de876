package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/kafkax"
	"github.com/igabaycare/carebook/libs/metrics"
	otelx "github.com/igabaycare/carebook/libs/otel"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/runtime"
	"github.com/igabaycare/carebook/services/scheduler-service/internal/jobs"
)

func main() {
	_ = config.LoadDotenv()
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
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

	interval, err := config.Duration("REMINDER_SCAN_INTERVAL", 5*time.Minute)
	if err != nil {
		panic(err)
	}
	lead, err := config.Duration("REMINDER_LEAD", 24*time.Hour)
	if err != nil {
		panic(err)
	}
	batch, err := config.Int("REMINDER_BATCH", 100)
	if err != nil {
		panic(err)
	}
	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "Asia/Manila"))
	if err != nil {
		panic(err)
	}

	registry := metrics.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)
	outboxRepo := outbox.NewRepository()

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	worker := jobs.NewWorker(pool, jobs.NewRepository(), outboxRepo, logger, pipelineMetrics, jobs.WorkerConfig{
		Interval:  interval,
		BatchSize: batch,
		Lead:      lead,
		Location:  loc,
	})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.Handle("/metrics", metrics.Handler(registry))
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
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
