/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize JSON logger
  3. Seed the rule store (embedded defaults or rules file)
  4. Open the SQLite calculation history
  5. Create service, metrics, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite history path (default: commission.db)
                 Use ":memory:" for an in-memory ledger, "" to disable stats
  -log-level     debug, info, warn, error (default: info)
  -rules         Rule pack file replacing the embedded defaults
  -stats-ttl     Stats cache TTL (default: 1m)
  -rate-limit    API requests per second (default: 50)
  -cors-origins  Comma-separated allowed origins (default: *)

ENVIRONMENT:
  Every flag has a COMMISSION_* variable; see config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/commission.db"
  ./server -db=":memory:" -log-level=debug
  COMMISSION_RULES_FILE=rules.yaml ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
  - factory/defaults.yaml: Default rules
*/
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/factory"
	"github.com/warp/commission-engine/metrics"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	// Rules
	seed := factory.DefaultRules()
	if cfg.RulesFile != "" {
		var err error
		seed, err = factory.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return err
		}
	}
	rules := store.NewMemory(store.WithSeed(seed...))
	logger.Info("Rule store seeded",
		slog.Int("rules", len(seed)),
		slog.String("source", rulesSource(cfg.RulesFile)))

	// Service
	collector := metrics.NewCollector(logger)
	opts := []commission.Option{
		commission.WithLogger(logger),
		commission.WithRecorder(collector),
		commission.WithStatsTTL(cfg.StatsTTL),
	}
	if cfg.DBPath != "" {
		history, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer history.Close()
		opts = append(opts, commission.WithHistory(history))
	} else {
		logger.Warn("No history database configured; stats are disabled")
	}
	svc := commission.NewService(rules, commission.SystemClock{}, opts...)

	// HTTP
	handler := api.NewHandler(svc, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		Metrics:     collector,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", slog.String("addr", server.Addr), slog.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}

func rulesSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
