package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/paywall/libs/auth"
	"github.com/md-rashed-zaman/paywall/libs/config"
	"github.com/md-rashed-zaman/paywall/libs/db"
	"github.com/md-rashed-zaman/paywall/libs/httpx"
	"github.com/md-rashed-zaman/paywall/libs/kafkax"
	otelx "github.com/md-rashed-zaman/paywall/libs/otel"
	"github.com/md-rashed-zaman/paywall/libs/runtime"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/events"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/handlers"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/idempotency"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/linking"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/metrics"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/outbox"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/payments"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/provider"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/reconcile"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/subscriptions"
	"github.com/md-rashed-zaman/paywall/services/billing-service/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
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

	prices, err := priceTableFromEnv()
	if err != nil {
		fatal(logger, "invalid price table", err)
	}
	webhookSecret, err := config.RequiredString("STRIPE_WEBHOOK_SECRET")
	if err != nil {
		fatal(logger, "webhook secret missing", err)
	}
	ingress, err := webhook.NewIngress(webhookSecret, config.Seconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", webhook.DefaultTolerance))
	if err != nil {
		fatal(logger, "webhook ingress", err)
	}
	stripeKey, err := config.RequiredString("STRIPE_SECRET_KEY")
	if err != nil {
		fatal(logger, "stripe key missing", err)
	}
	stripeClient, err := provider.NewStripe(stripeKey)
	if err != nil {
		fatal(logger, "stripe client", err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	if config.Bool("MIGRATE_ON_START", false) {
		if err := db.Migrate(ctx, dbURL, storage.Migrations, storage.MigrationsDir); err != nil {
			fatal(logger, "migrations failed", err)
		}
		logger.Info("migrations applied")
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		fatal(logger, "db connection failed", err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
	}

	store := storage.NewPostgres(pool)
	guard := idempotencyGuard(logger, pool, rdb)
	subSvc := subscriptions.New(store, prices, stripeClient, logger)
	recorder := payments.NewRecorder(store, subSvc, logger)
	processor := events.NewProcessor(guard, events.NewBillingRouter(logger, subSvc, recorder), logger)
	resolver := linking.NewResolver(store, logger, config.Int("LINKAGE_BATCH_SIZE", 100))

	go outbox.NewPublisher(pool, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	}).Run(ctx)
	go idempotency.NewPruner(guard, logger,
		config.Seconds("IDEMPOTENCY_RETENTION_SECONDS", idempotency.DefaultRetention),
		config.Seconds("IDEMPOTENCY_PRUNE_INTERVAL_SECONDS", time.Hour),
	).Run(ctx)
	go resolver.Run(ctx, config.Seconds("LINKAGE_RESOLVE_INTERVAL_SECONDS", time.Minute))

	// Self-heal subscription state when webhooks were missed.
	if config.Bool("BILLING_STRIPE_RECONCILE_ENABLED", false) {
		rec := reconcile.NewStripeReconciler(store, stripeClient, subSvc, pool, logger, reconcile.StripeReconcilerConfig{
			BatchSize:       config.Int("BILLING_STRIPE_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("BILLING_STRIPE_RECONCILE_LOCK_KEY", 4242101)),
		})
		go rec.Run(ctx, config.Seconds("BILLING_STRIPE_RECONCILE_INTERVAL_SECONDS", 5*time.Minute))
	}

	var jwks *auth.JWKSClient
	if u := config.String("AUTH_JWKS_URL", ""); u != "" {
		jwks = auth.NewJWKSClient(u, config.Seconds("AUTH_JWKS_TTL_SECONDS", 5*time.Minute))
	}
	h := handlers.New(ingress, processor, subSvc, resolver, stripeClient, prices, logger, handlers.Config{
		CheckoutSuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
		JWTSecret:          config.String("JWT_SECRET", ""),
		JWKS:               jwks,
		CheckoutLimit:      checkoutLimiter(logger, rdb),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/", h.Routes())

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS")}),
		httpx.WithBodyLimit(2*webhook.MaxBodyBytes),
		httpx.WithTimeout(config.Seconds("HTTP_HANDLER_TIMEOUT_SECONDS", 15*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, subSvc); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func priceTableFromEnv() (*entitlements.PriceTable, error) {
	entries, err := entitlements.ParsePriceTable(config.String("PRICE_TABLE", ""))
	if err != nil {
		return nil, err
	}
	fallback, ok := entitlements.ParseTier(config.String("TIER_FALLBACK", string(entitlements.TierStarter)))
	if !ok || !fallback.Paid() {
		return nil, errors.New("TIER_FALLBACK must be starter, pro or enterprise")
	}
	return entitlements.NewPriceTable(fallback, entries), nil
}

// idempotencyGuard picks the processed-event store. Positive answers are cached in
// process either way.
func idempotencyGuard(logger *slog.Logger, pool *db.Pool, rdb *redis.Client) idempotency.Guard {
	var base idempotency.Guard = idempotency.NewPostgres(pool)
	backend := strings.ToLower(config.String("IDEMPOTENCY_BACKEND", "postgres"))
	if backend == "redis" {
		if rdb == nil {
			logger.Warn("IDEMPOTENCY_BACKEND=redis without REDIS_ADDR, using postgres")
		} else {
			base = idempotency.NewRedis(rdb, "billing:evt", config.Seconds("IDEMPOTENCY_RETENTION_SECONDS", idempotency.DefaultRetention))
		}
	}
	return idempotency.NewCached(base,
		config.Int("IDEMPOTENCY_CACHE_SIZE", 10000),
		config.Seconds("IDEMPOTENCY_CACHE_TTL_SECONDS", 10*time.Minute),
	)
}

func checkoutLimiter(logger *slog.Logger, rdb *redis.Client) httpx.Middleware {
	perMinute := config.Int("CHECKOUT_RATE_LIMIT_PER_MINUTE", 10)
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, "billing:checkout").
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	return httpx.NewRateLimiter(perMinute, time.Minute).Middleware()
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
