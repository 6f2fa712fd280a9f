/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rate engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (defaults, YAML file, .env, environment, flags)
  3. Build the structured logger
  4. Initialize SQLite store
  5. Create rates service, preview cache and API handler
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: rate-engine.yaml, optional)
  -env     .env file (default: .env, optional)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/rates.db"

  # Run with in-memory database and text logs
  RATE_ENGINE_LOG_FORMAT=text ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration layers and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/rate-engine/api"
	"github.com/warp/rate-engine/config"
	"github.com/warp/rate-engine/rates"
	"github.com/warp/rate-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "rate-engine.yaml", "YAML config file")
	envFile := flag.String("env", ".env", "dotenv file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *envFile, *port, *dbPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string, port int, dbPath string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	table, err := cfg.MultiplierTable()
	if err != nil {
		return fmt.Errorf("multipliers: %w", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	svc := rates.NewService(store, rates.ServiceConfig{
		Table:      table,
		SampleSize: cfg.Bulk.SampleSize,
	}, logger)
	handler := api.NewHandler(svc, store, api.NewPreviewCache(cfg.Bulk.PreviewTTL()), logger)

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		BulkRatePerSec: cfg.Server.BulkRatePerSec,
		BulkBurst:      cfg.Server.BulkBurst,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"db", cfg.Database.Path,
			"preview_ttl", cfg.Bulk.PreviewTTL().String(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}
