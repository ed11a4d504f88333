package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bakery-inventory/internal/domain/auth"
	"github.com/xenking/bakery-inventory/internal/domain/order"
	"github.com/xenking/bakery-inventory/internal/httpapi"
	"github.com/xenking/bakery-inventory/internal/notify"
	"github.com/xenking/bakery-inventory/internal/payment"
	"github.com/xenking/bakery-inventory/pkg/health"
	"github.com/xenking/bakery-inventory/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := openDB(ctx, lg, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Notifications outlive the server by one drain, so the producer gets a
	// context that is cancelled only after the server has stopped.
	prodCtx, stopProducer := context.WithCancel(context.WithoutCancel(ctx))
	defer stopProducer()

	var notifier order.Notifier = notify.Log{}
	if len(cfg.Kafka.Brokers) > 0 {
		w := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Named("kafka"))
		producer := notify.NewProducer(w, cfg.Kafka.Buffer)
		notifier = producer
		g.Go(func() error {
			return producer.Run(zctx.Base(prodCtx, lg.Named("notify")))
		})
		lg.Info("Publishing notifications to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	svc, err := newServices(pool, m, cfg, notifier)
	if err != nil {
		return err
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))

	// Redis backs the webhook dedup and the shared rate limiter. Without it
	// both fall back to process-local behavior.
	var (
		dedup   payment.Deduplicator
		limiter httpmiddleware.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		d := payment.NewDedup(rdb)
		dedup = d
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.Add(health.Readiness, "redis", health.PingCheck(d), health.WithThresholds(3, 1))
	} else {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		limiter = mem
		g.Go(func() error { return mem.Run(gctx) })
	}

	deps := httpapi.Deps{
		Products:     svc.db.Products(),
		Ledger:       svc.ledger,
		Reservations: svc.reservations,
		Validator:    svc.validator,
		Orders:       svc.orders,
		Tokens:       tokens,
		Sweeper:      svc.reaper,
	}
	if cfg.Gateway.AccessToken != "" {
		client, err := payment.NewClient(payment.ClientConfig{
			BaseURL:     cfg.Gateway.BaseURL,
			AccessToken: cfg.Gateway.AccessToken,
			Currency:    cfg.Gateway.Currency,
			Timeout:     cfg.Gateway.Timeout,
		})
		if err != nil {
			return errors.Wrap(err, "create payment client")
		}
		deps.Checkout = client
		deps.Payments = payment.NewProcessor(client, svc.orders, dedup, m.TracerProvider())
		deps.Verifier = payment.NewVerifier(cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureAge)
	} else {
		lg.Warn("Payment gateway not configured, online payments disabled")
	}

	api, err := httpapi.New(deps, httpapi.Config{PublicURL: cfg.PublicURL})
	if err != nil {
		return errors.Wrap(err, "create api")
	}

	if cfg.Reaper.Enabled {
		healthSvc.Add(health.Liveness, "reaper", svc.reaper.HeartbeatCheck(3*cfg.Reaper.Interval))
		g.Go(func() error {
			return svc.reaper.Run(zctx.Base(gctx, lg.Named("reaper")), cfg.Reaper.Interval)
		})
	}

	healthSvc.Start(gctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Router: health endpoints + API routes on one server.
	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	api.Register(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bakery-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimit(limiter, httpmiddleware.ClientIP),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		stopProducer()
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
