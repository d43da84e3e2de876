package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/grpcx"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/inbox"
	"github.com/igabaycare/carebook/libs/kafkax"
	"github.com/igabaycare/carebook/libs/metrics"
	otelx "github.com/igabaycare/carebook/libs/otel"
	"github.com/igabaycare/carebook/libs/runtime"
	"github.com/igabaycare/carebook/services/notification-service/internal/delivery"
	"github.com/igabaycare/carebook/services/notification-service/internal/email"
	"github.com/igabaycare/carebook/services/notification-service/internal/handlers"
	"github.com/igabaycare/carebook/services/notification-service/internal/sms"
	"github.com/igabaycare/carebook/services/notification-service/internal/storage"
)

func main() {
	_ = config.LoadDotenv()
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8086")
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

	emailSender, err := newEmailSender(logger)
	if err != nil {
		logger.Error("email sender init failed", "err", err)
		panic(err)
	}
	var smsSender sms.Sender = sms.NewNoopSender()
	if strings.EqualFold(config.String("SMS_PROVIDER", ""), "webhook") {
		smsSender = sms.NewWebhookSender(sms.WebhookConfig{
			URL:      config.String("SMS_WEBHOOK_URL", ""),
			Token:    config.String("SMS_WEBHOOK_TOKEN", ""),
			SenderID: config.String("SMS_SENDER_ID", "IGABAYCARE"),
		})
	}
	logger.Info("delivery providers", "email", emailSender.ProviderID(), "sms", smsSender.ProviderID())

	registry := metrics.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)
	repo := storage.NewRepository(pool)

	attempts, err := config.Int("DELIVERY_ATTEMPTS", 3)
	if err != nil {
		panic(err)
	}
	brokers := config.String("KAFKA_BROKERS", "")
	deliveryTopic := config.String("KAFKA_DELIVERY_TOPIC", kafkax.TopicDeliveryRequested)
	consumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool, service), kafkax.ConsumerConfig{
		Brokers:         brokers,
		GroupID:         config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:           deliveryTopic,
		Attempts:        attempts,
		DeadLetterTopic: config.String("KAFKA_DLQ_TOPIC", ""),
	}, delivery.NewHandler(repo, emailSender, smsSender, logger, pipelineMetrics).Handle)
	go consumer.Run(ctx)

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
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, deliveryTopic)},
	)
	mux.Handle("/metrics", metrics.Handler(registry))
	handlers.New(repo, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notifications")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
	logger.Info("http server stopped")
}

func newEmailSender(logger *slog.Logger) (email.Sender, error) {
	switch provider := strings.ToLower(config.String("EMAIL_PROVIDER", "log")); provider {
	case "sendgrid":
		return email.NewSendGridSender(email.SendGridConfig{
			APIKey:    config.String("SENDGRID_API_KEY", ""),
			FromEmail: config.String("EMAIL_FROM", "no-reply@igabaycare.com"),
			FromName:  config.String("EMAIL_FROM_NAME", "IgabayCare"),
		})
	case "smtp":
		return email.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("EMAIL_FROM", "no-reply@igabaycare.local"),
		), nil
	case "log", "":
		return email.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", provider)
	}
}
