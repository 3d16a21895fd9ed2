// Jilt connector - syncs storefront carts and orders to Jilt and serves
// recovery links and signed Jilt requests.
// Designed for Cloud Run deployment; durable state lives in Postgres and Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jilt-connector/internal/binding"
	"jilt-connector/internal/cartsync"
	"jilt-connector/internal/config"
	"jilt-connector/internal/handler"
	"jilt-connector/internal/integration"
	"jilt-connector/internal/jilt"
	"jilt-connector/internal/metrics"
	"jilt-connector/internal/middleware"
	"jilt-connector/internal/ordersync"
	"jilt-connector/internal/platform"
	"jilt-connector/internal/recovery"
	"jilt-connector/internal/store/postgres"
	redisstore "jilt-connector/internal/store/redis"
	"jilt-connector/internal/woocommerce"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores groups the storefront state backends.
type stores struct {
	options   platform.OptionStore
	orderMeta platform.MetaStore
	userMeta  platform.MetaStore
	sessions  platform.SessionStore
	orders    platform.OrderStore
	users     platform.UserDirectory
	coupons   platform.CouponValidator
	close     func()
}

func run() error {
	// Initialize structured logger
	logger := initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("shop_domain", cfg.Store.Domain),
		slog.String("plugin_version", cfg.PluginVersion),
		slog.Bool("postgres", cfg.DatabaseURL != ""),
		slog.Bool("redis", cfg.RedisURL != ""),
	)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	metrics.RegisterDefault()

	// The integration owns the secret key; the client reads it per request.
	var integ *integration.Service
	client, err := jilt.New(jilt.Config{
		BaseURL:    cfg.Jilt.APIBaseURL,
		KeySource:  func(ctx context.Context) string { return integ.SecretKey(ctx) },
		ShopDomain: cfg.Store.Domain,
		Timeout:    cfg.Jilt.Timeout,
		ChromeTLS:  cfg.Jilt.ChromeTLS,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating jilt client: %w", err)
	}

	integ = integration.New(st.options, client, integration.Config{
		SecretKey:     cfg.Jilt.SecretKey,
		ShopDomain:    cfg.Store.Domain,
		PluginVersion: cfg.PluginVersion,
		Shop:          cfg.ShopData(),
	}, logger)

	if err := integ.Upgrade(ctx); err != nil {
		return fmt.Errorf("upgrading: %w", err)
	}

	bindings := binding.New(st.userMeta)

	carts := cartsync.New(integ, client, bindings, st.users, cartsync.Config{
		HomeURL:          cfg.Store.HomeURL,
		PrettyPermalinks: cfg.Store.PrettyPermalinks,
	}, logger)

	orders := ordersync.New(integ, client, st.orders, st.orderMeta, bindings, st.coupons, ordersync.Config{
		HomeURL:          cfg.Store.HomeURL,
		PrettyPermalinks: cfg.Store.PrettyPermalinks,
		AdminURL:         cfg.Store.AdminURL,
	}, logger)

	recoverer := recovery.New(integ, client, recovery.Deps{
		Sessions:  st.sessions,
		Orders:    st.orders,
		OrderMeta: st.orderMeta,
		UserMeta:  st.userMeta,
		Users:     st.users,
		Coupons:   st.coupons,
		Bindings:  bindings,
	}, recovery.Config{CheckoutURL: cfg.Store.CheckoutURL}, logger)

	h, err := handler.New(handler.Deps{
		Integration: integ,
		Carts:       carts,
		Orders:      orders,
		Recovery:    recoverer,
		Sessions:    st.sessions,
	}, handler.Config{
		PluginVersion:    cfg.PluginVersion,
		HomeURL:          cfg.Store.HomeURL,
		PrettyPermalinks: cfg.Store.PrettyPermalinks,
		HookToken:        cfg.HookToken,
		MaxRequestAge:    cfg.Jilt.MaxRequestAge,
		SecureCookie:     cfg.Store.SupportsSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating handler: %w", err)
	}

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	// Apply middleware chain: recovery → logging → metrics → rate limit → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Metrics(),
		middleware.RateLimit(cfg.RateLimit, cfg.RateLimitBurst, logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go integ.RunShopPush(ctx, integration.DefaultShopPushInterval)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// openStores connects the configured backends. Postgres and Redis are used
// when their URLs are set; otherwise state is kept in memory, which only
// suits a single development instance.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{close: func() {}}
	var closers []func()

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating: %w", err)
		}
		st.options = postgres.NewOptionStore(pool)
		st.orderMeta = postgres.NewOrderMetaStore(pool)
		st.userMeta = postgres.NewUserMetaStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, options and meta are kept in memory")
		st.options = platform.NewMemoryOptionStore()
		st.orderMeta = platform.NewMemoryMetaStore()
		st.userMeta = platform.NewMemoryMetaStore()
	}

	if cfg.RedisURL != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
		st.sessions = redisstore.NewSessionStore(rdb, redisstore.DefaultTTL)
	} else {
		logger.Warn("REDIS_URL not set, sessions are kept in memory")
		st.sessions = platform.NewMemorySessionStore()
	}

	if cfg.HasWooCommerceAPI() {
		wc, err := woocommerce.New(woocommerce.Config{
			StoreURL:       cfg.Store.HomeURL,
			AdminURL:       cfg.Store.AdminURL,
			ConsumerKey:    cfg.Store.ConsumerKey,
			ConsumerSecret: cfg.Store.ConsumerSecret,
			Timeout:        cfg.Jilt.Timeout,
			ChromeTLS:      cfg.Jilt.ChromeTLS,
			Logger:         logger,
		})
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("creating woocommerce client: %w", err)
		}
		st.orders, st.users, st.coupons = wc, wc, wc
	} else {
		logger.Warn("WooCommerce REST credentials not set, orders and users are kept in memory")
		st.orders = platform.NewMemoryOrderStore()
		st.users = platform.MemoryUsers{}
		st.coupons = platform.MemoryCoupons{}
	}

	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return st, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
