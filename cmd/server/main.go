/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payout engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env + environment, apply command-line overrides
  2. Open the store (SQLite or PostgreSQL)
  3. Connect Redis for idempotency keys (memory fallback)
  4. Create API handler, rate limiter and router
  5. Start the drift sweep scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port, overrides APP_ADDR
  -db      SQLite database path, overrides SQLITE_PATH
           Use ":memory:" for in-memory database
  -env     Environment name, overrides APP_ENV

ENVIRONMENT:
  See config/config.go for the full list. The common ones:
  DB_DRIVER=sqlite|postgres, DATABASE_URL, REDIS_ADDR, LOG_LEVEL,
  LOG_FORMAT=json|text, RECONCILE_ENABLED, RECONCILE_REPAIR.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the drift sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payout.db"

  # Run against PostgreSQL with JSON logs
  DB_DRIVER=postgres DATABASE_URL=postgres://... LOG_FORMAT=json ./server

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/store/postgres"
	"github.com/warp/payout-engine/store/sqlite"
)

// appStore is what the server needs from a concrete store.
type appStore interface {
	payout.TxStore
	payout.Seeder
}

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides APP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	env := flag.String("env", "", "Environment name (overrides APP_ENV)")
	flag.Parse()

	cfg := config.Load()
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	if *env != "" {
		cfg.Environment = *env
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database", "driver", cfg.DBDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("store ready", "driver", cfg.DBDriver)

	// Initialize handler
	handler := api.NewHandler(store, logger)
	handler.ReceiptCurrency = cfg.ReceiptCurrency
	if cfg.ScenariosEnabled {
		handler.Seeder = store
	}

	handler.Idempotency = api.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	if cfg.RedisEnabled() {
		client, err := config.ConnectRedis(ctx, cfg)
		if err != nil {
			logger.Warn("redis unavailable, idempotency keys are process-local", "err", err)
		} else {
			defer client.Close()
			handler.Idempotency = api.NewRedisIdempotencyStore(client, cfg.IdempotencyTTL)
			logger.Info("idempotency keys stored in redis", "addr", cfg.RedisAddr)
		}
	}

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:    api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitIdleTTL),
	})

	// Background drift sweep
	scheduler := api.NewReconciliationScheduler(handler.Reconciler, logger)
	scheduler.Enabled = cfg.ReconcileEnabled
	scheduler.CheckInterval = cfg.ReconcileInterval
	scheduler.Repair = cfg.ReconcileRepair
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "scenarios", cfg.ScenariosEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (appStore, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
