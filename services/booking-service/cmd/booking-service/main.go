package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/db"
	"github.com/igabaycare/carebook/libs/grpcx"
	"github.com/igabaycare/carebook/libs/httpx"
	"github.com/igabaycare/carebook/libs/inbox"
	"github.com/igabaycare/carebook/libs/kafkax"
	"github.com/igabaycare/carebook/libs/metrics"
	otelx "github.com/igabaycare/carebook/libs/otel"
	"github.com/igabaycare/carebook/libs/outbox"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/libs/runtime"
	"github.com/igabaycare/carebook/services/booking-service/internal/assignment"
	"github.com/igabaycare/carebook/services/booking-service/internal/booking"
	"github.com/igabaycare/carebook/services/booking-service/internal/handlers"
	"github.com/igabaycare/carebook/services/booking-service/internal/intent"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/records"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

func main() {
	_ = config.LoadDotenv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	redisOpts, err := redis.ParseURL(config.String("REDIS_URL", "redis://localhost:6379/0"))
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	intentTTL, err := config.Duration("INTENT_TTL", 24*time.Hour)
	if err != nil {
		panic(err)
	}
	backoff, err := config.DurationList("VERIFY_BACKOFF", []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second})
	if err != nil {
		panic(err)
	}
	attempts, err := config.Int("VERIFY_ATTEMPTS", 3)
	if err != nil {
		panic(err)
	}
	bookingFee, err := config.Float("BOOKING_FEE", 50)
	if err != nil {
		panic(err)
	}
	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", "Asia/Manila"))
	if err != nil {
		panic(err)
	}

	gateway, err := paygateway.New(paygateway.Config{
		Provider:      config.String("PAYMENT_PROVIDER", "paymongo"),
		SecretKey:     config.String("PAYMENT_SECRET_KEY", ""),
		BaseURL:       config.String("PAYMENT_API_BASE_URL", ""),
		PublicBaseURL: config.String("PUBLIC_BASE_URL", "http://localhost:8080"),
		HTTPClient:    &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
	if err != nil {
		logger.Error("payment gateway init failed", "err", err)
		panic(err)
	}

	registry := metrics.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	appointments := storage.NewAppointmentRepository(pool)
	directory := storage.NewDirectoryRepository(pool)
	mirrors := storage.NewDoctorAppointmentRepository(pool)
	notifier := notify.NewFanout(pool)

	orch := booking.New(booking.Config{
		Currency:           config.String("CURRENCY", "PHP"),
		BookingFee:         &bookingFee,
		SuccessURL:         config.String("PAYMENT_SUCCESS_URL", "http://localhost:8080/payment/return?status=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          config.String("PAYMENT_CANCEL_URL", "http://localhost:8080/payment/return?status=cancelled"),
		PaymentMethodTypes: config.CSV("PAYMENT_METHOD_TYPES", []string{"gcash"}),
		MaxAttempts:        attempts,
		Backoff:            backoff,
		Location:           loc,
	}, booking.Deps{
		Gateway:      gateway,
		Intents:      intent.NewRedisStore(rdb, intentTTL),
		Appointments: appointments,
		Directory:    directory,
		Mirrors:      mirrors,
		Notifier:     notifier,
		Logger:       logger,
		Metrics:      bookingMetrics,
	})
	assigner := assignment.NewService(appointments, directory, mirrors, notifier, logger, bookingMetrics)
	clinical := records.NewService(nil, records.Deps{
		Appointments:  appointments,
		Records:       storage.NewMedicalRecordRepository(pool),
		Prescriptions: storage.NewPrescriptionRepository(pool),
		Mirrors:       mirrors,
		Notifier:      notifier,
		Logger:        logger,
		Observer:      bookingMetrics,
	})

	brokers := config.String("KAFKA_BROKERS", "")
	paidTopic := config.String("KAFKA_CHECKOUT_PAID_TOPIC", kafkax.TopicCheckoutPaid)
	outboxPublisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Paid checkouts reported by billing webhooks finalize bookings the browser never returned for.
	paidConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool, service), kafkax.ConsumerConfig{
		Brokers:         brokers,
		GroupID:         config.String("KAFKA_GROUP_ID", "booking-service"),
		Topic:           paidTopic,
		DeadLetterTopic: config.String("KAFKA_DLQ_TOPIC", ""),
	}, orch.HandleCheckoutPaid)
	go paidConsumer.Run(ctx)

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
		runtime.ReadyCheck{Name: "redis", Check: intent.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, paidTopic)},
	)
	mux.Handle("/metrics", metrics.Handler(registry))
	handlers.New(orch, assigner, clinical, logger).Register(mux)
	if fake, ok := gateway.(*paygateway.Memory); ok {
		mux.Handle(paygateway.FakeCheckoutPath, fake.CheckoutHandler())
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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
