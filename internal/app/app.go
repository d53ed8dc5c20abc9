package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway/mercadopago"
	"github.com/xenking/storefront-checkout/internal/handler"
	"github.com/xenking/storefront-checkout/internal/repository"
	"github.com/xenking/storefront-checkout/pkg/health"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
	"github.com/xenking/storefront-checkout/pkg/idempotency"
	"github.com/xenking/storefront-checkout/pkg/outbox"
)

const serviceName = "storefront-api"

// Telemetry provides tracing and metrics; *app.Telemetry implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, int32(cfg.Database.MaxConns))
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	tx := repository.NewTransactor(pool)
	productRepo := repository.NewProductRepository(pool)
	offerRepo := repository.NewOfferRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	intentRepo := repository.NewIntentRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool, cfg.Kafka.MaxRetries)

	// Domain services.
	resolver := offer.NewResolver(offerRepo)
	builderOpts := []order.Option{order.WithMeterProvider(m.MeterProvider())}
	if len(cfg.Kafka.Brokers) > 0 {
		builderOpts = append(builderOpts, order.WithEvents(outboxRepo))
	}
	builder := order.NewBuilder(tx, productRepo, resolver, orderRepo, builderOpts...)

	managerOpts := []payment.Option{payment.WithMeterProvider(m.MeterProvider())}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		dedupe := idempotency.NewStore(rdb, cfg.Redis.DedupeTTL, "shop:payment:")
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(dedupe))
		managerOpts = append(managerOpts, payment.WithDeduper(dedupe))
	}

	gateway := mercadopago.New(mercadopago.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		AccessToken: cfg.Gateway.AccessToken,
		Timeout:     cfg.Gateway.Timeout,
	})
	payments := payment.NewManager(intentRepo, gateway, builder, tx, payment.Config{
		CurrencyID: cfg.Gateway.Currency,
		BackURLs: payment.BackURLs{
			Success: cfg.Checkout.SuccessURL,
			Failure: cfg.Checkout.FailureURL,
			Pending: cfg.Checkout.PendingURL,
		},
		NotificationURL: cfg.Checkout.NotificationURL,
	}, managerOpts...)

	h := handler.New(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		resolver,
		builder,
		orderRepo,
		payments,
		auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)

	// Route-aware middlewares run inside chi so the matched pattern is known.
	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(humachi.New(router, handler.APIConfig("1.0.0")), router)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           24 * time.Hour,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.APIKeyOrIP(handler.APIKeyHeader),
				Skip:    skipRateLimit,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		writer := outbox.NewWriter(cfg.Kafka.Brokers)
		defer func() { _ = writer.Close() }()

		relay := outbox.NewRelay(lg.Named("outbox"), outboxRepo,
			outbox.NewDispatcher(lg.Named("outbox"), writer, cfg.Kafka.Topic),
			relayID(),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
			outbox.WithInterval(cfg.Kafka.Interval),
			outbox.WithLease(cfg.Kafka.Lease),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer healthSvc.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// skipRateLimit exempts probes and gateway callbacks.
func skipRateLimit(r *http.Request) bool {
	switch r.URL.Path {
	case "/livez", "/readyz", "/api/payments/webhook":
		return true
	}
	return false
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + uuid.NewString()[:8]
}
