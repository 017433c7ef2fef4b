package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/payment"
	"github.com/xenking/rop-settlement/internal/domain/settlement"
	"github.com/xenking/rop-settlement/internal/gateway/bogus"
	"github.com/xenking/rop-settlement/internal/gateway/square"
	"github.com/xenking/rop-settlement/internal/handler"
	"github.com/xenking/rop-settlement/internal/lock"
	"github.com/xenking/rop-settlement/internal/repository"
	"github.com/xenking/rop-settlement/pkg/health"
	"github.com/xenking/rop-settlement/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingFunc("postgres", pool.Ping))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Order lock: Redis when configured, in-process otherwise.
	var locker settlement.Locker
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if err := ping(ctx); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingFunc("redis", ping))
		locker = lock.NewRedis(rdb, lock.RedisOptions{TTL: cfg.Redis.LockTTL, Wait: cfg.Redis.LockWait})
	} else {
		lg.Warn("Redis not configured, order lock is process-local")
		locker = lock.NewLocalWait(cfg.Redis.LockWait)
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	gateways, err := NewGateways(cfg.Gateways, lg)
	if err != nil {
		return errors.Wrap(err, "init gateways")
	}

	store := repository.NewStore(pool)
	engine, err := NewEngine(cfg.Settlement, store, gateways,
		settlement.WithLocker(locker),
		settlement.WithMeterProvider(m.MeterProvider()),
		settlement.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "init settlement engine")
	}

	// Mux: health endpoints unauthenticated, settlement API behind API keys.
	api := http.NewServeMux()
	handler.NewHandler(engine).Register(api)
	authn := handler.NewAuthenticator(store, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(api,
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
		}),
		authn.Middleware,
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Settlement calls wait on the order lock and then on gateways.
		WriteTimeout:   cfg.Redis.LockWait + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("rop-settlement", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewGateways builds the gateway registry from configuration.
func NewGateways(cfg GatewaysConfig, lg *zap.Logger) (*payment.Registry, error) {
	reg := payment.NewRegistry(cfg.Default)
	if cfg.Bogus.Enabled {
		reg.Register(bogus.Name, bogus.New(cfg.Bogus.CaptureAmount))
	}
	if cfg.Square.AccessToken != "" {
		gw, err := square.New(cfg.Square, lg)
		if err != nil {
			return nil, errors.Wrap(err, "square gateway")
		}
		reg.Register(square.Name, gw)
	}
	return reg, nil
}

// NewEngine builds the settlement engine from configuration.
func NewEngine(cfg SettlementConfig, store settlement.Store, gateways settlement.Gateways, opts ...settlement.Option) (*settlement.Engine, error) {
	costs, err := settlement.ResolveCostModel(cfg.CostModel)
	if err != nil {
		return nil, err
	}
	valuer, err := settlement.ResolveValuer(cfg.ShortShipValuation)
	if err != nil {
		return nil, err
	}
	opts = append([]settlement.Option{
		settlement.WithCostModel(costs),
		settlement.WithShortShipValuer(valuer),
	}, opts...)

	return settlement.New(store, gateways, settlement.Config{
		ShipmentPrefix:    cfg.ShipmentPrefix,
		MethodName:        cfg.MethodName,
		AutoCreateMethods: cfg.AutoCreateMethods,
	}, opts...)
}
