package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/promo"
	"github.com/xenking/kart-checkout/internal/events/kafka"
	"github.com/xenking/kart-checkout/internal/gateway"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/session"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
	"github.com/xenking/kart-checkout/pkg/ratelimit"
)

const serviceName = "checkout-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("gateway", cfg.Gateway.Provider),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadiness(health.Check{
		Name:    "postgres",
		Timeout: 5 * time.Second,
		Run:     health.PingCheck(pool),
	})
	healthSvc.AddLiveness(health.Check{
		Name: "goroutines",
		Run:  health.GoroutineCountCheck(10000),
	})
	healthSvc.AddLiveness(health.Check{
		Name: "gc-pause",
		Run:  health.GCMaxPauseCheck(time.Second),
	})

	// Rate limit store: Redis when configured so that budgets are shared
	// between replicas.
	var (
		limitStore  ratelimit.Store
		memoryStore *ratelimit.MemoryStore
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadiness(health.Check{
			Name: "redis",
			Run: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		limitStore = ratelimit.NewRedisStore(rdb, cfg.Redis.Prefix)
	} else {
		memoryStore = ratelimit.NewMemoryStore()
		limitStore = memoryStore
	}

	// Order events.
	var publisher order.Publisher = order.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Warn("Close kafka producer", zap.Error(err))
			}
		}()
		publisher = producer
	}

	// Payment gateway.
	gw, err := newGateway(cfg, m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	h, promoStore, err := newHandler(ctx, lg, cfg, pool, gw, publisher, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	router, err := newRouter(ctx, cfg, h, healthSvc, limitStore, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		promoStore.Run(gCtx, cfg.Promo.RefreshInterval, lg)
		return nil
	})
	if memoryStore != nil {
		g.Go(func() error {
			memoryStore.Run(gCtx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
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

// newHandler builds the repositories and domain services behind the
// checkout endpoints. The returned promocode store must be refreshed
// periodically by the caller.
func newHandler(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	pool *pgxpool.Pool,
	gw paymentGateway,
	publisher order.Publisher,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*handler.Handler, *promo.BloomStore, error) {
	taxRate, err := cfg.TaxRate()
	if err != nil {
		return nil, nil, err
	}
	taxMode, err := checkout.ParseTaxMode(cfg.TaxMode)
	if err != nil {
		return nil, nil, errors.Wrap(err, "tax mode")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	promoStore := promo.NewBloomStore(promoRepo)
	if err := promoStore.Refresh(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "load promocodes")
	}

	// Domain services.
	checkoutSvc := checkout.NewService(
		checkout.NewResolver(productRepo, taxRate, cfg.MaxCartQuantity),
		promo.NewEvaluator(promoStore, orderRepo),
		gw.orders,
		orderRepo,
		checkout.Config{
			Policy: checkout.Policy{
				FreeShippingThreshold: cfg.FreeShippingThreshold,
				FlatShippingFee:       cfg.FlatShippingFee,
				TaxMode:               taxMode,
			},
			Currency:       cfg.Currency,
			GatewayTimeout: cfg.GatewayTimeout,
		},
	)
	reconciler, err := order.NewReconciler(orderRepo, order.ReconcilerOptions{
		Callbacks:      gw.callbacks,
		Webhooks:       gw.webhooks,
		Publisher:      publisher,
		MeterProvider:  mp,
		TracerProvider: tp,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "create reconciler")
	}

	var sessions auth.SessionProvider
	if cfg.Session.Secret != "" {
		sessions = session.NewJWTProvider(cfg.Session.Secret, cfg.Session.CookieName)
	} else {
		lg.Warn("Session secret is not set, all requests are anonymous")
	}

	h := handler.NewHandler(
		handler.Config{MaxQuantity: cfg.MaxCartQuantity},
		checkoutSvc,
		reconciler,
		sessions,
	)
	return h, promoStore, nil
}

// newRouter mounts the health checks and the checkout API behind the
// server-wide middleware chain.
func newRouter(
	ctx context.Context,
	cfg *Config,
	h *handler.Handler,
	healthSvc *health.Health,
	limitStore ratelimit.Store,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, error) {
	clientIP, err := httpmiddleware.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "trusted proxies")
	}

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api/checkout", h.Routes(handler.RouteConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitStore: limitStore,
		ClientKey:      clientIP.ClientIP,
		QuoteLimit:     cfg.RateLimit.Quote(),
		OrderLimit:     cfg.RateLimit.Order(),
		VerifyLimit:    cfg.RateLimit.Verify(),
		WebhookLimit:   cfg.RateLimit.Webhook(),
	}))

	return httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       cfg.CORS.MaxAge,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
	), nil
}

// paymentGateway bundles the order API of a payment provider with the way
// its payments are confirmed.
type paymentGateway struct {
	orders    checkout.Gateway
	callbacks order.CallbackVerifier
	webhooks  order.WebhookDecoder
}

func newGateway(cfg *Config, tp trace.TracerProvider) (paymentGateway, error) {
	switch cfg.Gateway.Provider {
	case GatewayStripe:
		s, err := gateway.NewStripe(gateway.StripeConfig{APIKey: cfg.Gateway.StripeAPIKey})
		if err != nil {
			return paymentGateway{}, err
		}
		return paymentGateway{
			orders:    s,
			callbacks: s,
			webhooks:  gateway.StripeWebhooks{Secret: cfg.WebhookSecret},
		}, nil
	default:
		rzp, err := gateway.NewRazorpay(gateway.RazorpayConfig{
			KeyID:          cfg.Gateway.RazorpayKeyID,
			KeySecret:      cfg.Gateway.RazorpayKeySecret,
			BaseURL:        cfg.Gateway.RazorpayBaseURL,
			TracerProvider: tp,
		})
		if err != nil {
			return paymentGateway{}, err
		}
		return paymentGateway{
			orders:    rzp,
			callbacks: order.HMACCallbacks{Secret: []byte(cfg.ClientCallbackSecret)},
			webhooks:  order.HMACWebhooks{Secret: []byte(cfg.WebhookSecret)},
		}, nil
	}
}
