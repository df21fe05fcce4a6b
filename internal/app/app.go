package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/giftbox-api/internal/domain/auth"
	"github.com/xenking/giftbox-api/internal/domain/checkout"
	"github.com/xenking/giftbox-api/internal/domain/coupon"
	"github.com/xenking/giftbox-api/internal/domain/intent"
	"github.com/xenking/giftbox-api/internal/domain/order"
	"github.com/xenking/giftbox-api/internal/domain/pricing"
	"github.com/xenking/giftbox-api/internal/events/kafka"
	"github.com/xenking/giftbox-api/internal/handler"
	"github.com/xenking/giftbox-api/internal/razorpay"
	"github.com/xenking/giftbox-api/internal/storage/postgres"
	redislock "github.com/xenking/giftbox-api/internal/storage/redis"
	"github.com/xenking/giftbox-api/pkg/health"
	"github.com/xenking/giftbox-api/pkg/httpmiddleware"
)

// Telemetry provides the tracer and meter providers used for
// instrumentation. *app.Telemetry satisfies it.
type Telemetry = httpmiddleware.Telemetry

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	c, err := build(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Confirmation may wait on gateway refunds.
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        c.handler,
	}

	c.health.Start(ctx, 10*time.Second)
	c.health.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.index.Run(gCtx, cfg.CouponIndex.Refresh)
	})
	g.Go(func() error {
		return c.sweeper.Run(gCtx, cfg.Intent.SweepInterval)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		c.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		c.health.Stop()
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

// components is the wired application without its listener and workers.
type components struct {
	handler http.Handler
	health  *health.Health
	index   *coupon.CodeIndex
	sweeper *intent.Sweeper
	closers []func()
}

// Close releases connections in reverse order of acquisition.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func build(ctx context.Context, lg *zap.Logger, t Telemetry, cfg *Config) (_ *components, rerr error) {
	fees, err := cfg.Delivery.Fees()
	if err != nil {
		return nil, err
	}

	c := &components{health: health.New()}
	defer func() {
		if rerr != nil {
			c.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	c.closers = append(c.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	c.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	c.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	c.health.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	intentRepo := postgres.NewIntentRepository(pool)
	counterRepo := postgres.NewCounterRepository(pool)
	webhookRepo := postgres.NewWebhookEventRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Optional infrastructure.
	var locker checkout.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		l := redislock.NewLocker(rdb, "giftbox:", cfg.Redis.LockTTL)
		c.health.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", l))
		locker = l
	} else {
		lg.Warn("Redis not configured, confirmation lock disabled")
	}

	var events order.EventPublisher = order.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, errors.Wrap(err, "connect kafka")
		}
		c.closers = append(c.closers, func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Kafka producer close", zap.Error(err))
			}
		})
		events = pub
	}

	// Domain services.
	c.index = coupon.NewCodeIndex(couponRepo, cfg.CouponIndex.FPRate)
	c.sweeper = intent.NewSweeper(intentRepo)
	pricer := pricing.NewValidator(productRepo, coupon.NewRepoValidator(couponRepo, c.index))
	tracker := intent.NewTracker(intentRepo, intent.Config{TTL: cfg.Intent.TTL, Fees: fees})
	gateway := razorpay.New(razorpay.Config{
		BaseURL:   cfg.Razorpay.BaseURL,
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		Timeout:   cfg.Razorpay.Timeout,
	})

	checkoutSvc, err := checkout.NewService(checkout.Config{
		KeyID:         cfg.Razorpay.KeyID,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
	}, checkout.Deps{
		Pricer:         pricer,
		Intents:        tracker,
		Orders:         orderRepo,
		IDs:            order.NewAllocator(counterRepo),
		Stock:          productRepo,
		Coupons:        couponRepo,
		Gateway:        gateway,
		Webhooks:       gateway,
		Processed:      webhookRepo,
		Locker:         locker,
		Events:         events,
		MeterProvider:  t.MeterProvider(),
		TracerProvider: t.TracerProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}

	// HTTP handlers.
	api := handler.NewHandler(handler.Deps{
		Products: productRepo,
		Checkout: checkoutSvc,
		Orders:   order.NewService(orderRepo, events),
		Tokens:   auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret)),
		Keys:     auth.NewKeyAuthenticator(apikeyRepo, []byte(cfg.Auth.APIKeyPepper)),
	}).Router()

	routeFinder := httpmiddleware.MakeRouteFinder(api)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", c.health.LiveEndpoint)
	mux.HandleFunc("/readyz", c.health.ReadyEndpoint)
	mux.Handle("/api/", api)

	c.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   httpmiddleware.SkipPathPrefix("/api/webhook/", "/livez", "/readyz"),
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("giftbox-api", routeFinder, t),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return c, nil
}
