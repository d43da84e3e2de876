package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/config"
	"github.com/igabaycare/carebook/libs/httpx"
	otelx "github.com/igabaycare/carebook/libs/otel"
	"github.com/igabaycare/carebook/libs/runtime"
)

func main() {
	_ = config.LoadDotenv()
	service := config.String("SERVICE_NAME", "gateway-service")
	port, err := config.Port("PORT", "8080")
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

	verifier, err := newVerifier()
	if err != nil {
		logger.Error("jwt verifier init failed", "err", err)
		panic(err)
	}

	upstreams, err := loadUpstreams()
	if err != nil {
		panic(err)
	}
	checks, closeChecks, err := upstreamChecks(upstreams)
	if err != nil {
		logger.Error("upstream health check setup failed", "err", err)
		panic(err)
	}
	defer closeChecks()

	mux := runtime.NewBaseMuxWithReady(checks...)
	registerRoutes(mux, upstreams, verifier, returnPages{
		AppScheme:    config.String("APP_SCHEME", "igabaycare"),
		ContinueURL:  config.String("APP_CONTINUE_URL", "/appointments"),
		StatusPath:   "/api/v1/payments/transactions",
		PollInterval: 2 * time.Second,
	})

	bodyLimit, err := config.Int64("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		panic(err)
	}
	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		panic(err)
	}
	limitPerMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}

	var rateLimitMW httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	corsMaxAge, err := config.Duration("CORS_MAX_AGE", 10*time.Minute)
	if err != nil {
		panic(err)
	}
	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.CSV("CORS_ALLOWED_ORIGINS", nil),
			AllowedMethods:   config.CSV("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "OPTIONS"}),
			AllowedHeaders:   config.CSV("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-Id"}),
			ExposedHeaders:   config.CSV("CORS_EXPOSED_HEADERS", []string{httpx.RequestIDHeader}),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           corsMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		withStrippedActor,
		httpx.WithBodyLimit(bodyLimit),
		httpx.WithTimeout(requestTimeout),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "gateway")
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

func newVerifier() (*auth.Verifier, error) {
	cfg := auth.VerifierConfig{
		HS256Secret: config.String("AUTH_JWT_SECRET", ""),
		Issuer:      config.String("AUTH_JWT_ISSUER", ""),
		Leeway:      30 * time.Second,
	}
	if pem := config.String("AUTH_JWT_PUBLIC_KEY", ""); pem != "" {
		key, err := auth.ParseRSAPublicKey(pem)
		if err != nil {
			return nil, err
		}
		cfg.RSAPublicKey = key
	}
	if jwksURL := config.String("AUTH_JWKS_URL", ""); jwksURL != "" {
		ttl, err := config.Duration("AUTH_JWKS_CACHE_TTL", 5*time.Minute)
		if err != nil {
			return nil, err
		}
		cfg.JWKS = auth.NewJWKSClient(jwksURL, ttl)
	}
	return auth.NewVerifier(cfg)
}
