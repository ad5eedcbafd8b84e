package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hookbox/internal/audit"
	"hookbox/internal/config"
	"hookbox/internal/metrics"
	"hookbox/internal/server"
)

// ShutdownTimeout bounds how long serve waits for in-flight deliveries.
const ShutdownTimeout = 5 * time.Minute

var (
	logFile string
	dbPath  string
	host    string
	port    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub webhook deliveries.

Deliveries are verified, stored in the audit database and dispatched to the
handlers configured for their event type.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("HOOKBOX_LOG_FILE", ""), "Path to log file (stdout only when empty)")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("HOOKBOX_DB_PATH", ""), "Path to SQLite database (overrides audit.db_path)")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("HOOKBOX_HOST", ""), "Host to bind to (overrides http.host)")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("HOOKBOX_PORT", 0), "Port to listen on (overrides http.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logFileHandle, err := setupLogging(logFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if logFileHandle != nil {
		defer logFileHandle.Close()
	}

	logger.Info("Starting hookbox", "version", version, "config", path)
	warnings := config.Warnings(cfg)
	if data, err := os.ReadFile(path); err == nil {
		warnings = append(warnings, configFileWarnings(path, data)...)
	}
	for _, warning := range warnings {
		logger.Warn("Configuration warning", "warning", warning)
	}

	if dbPath != "" {
		cfg.Audit.DBPath = dbPath
	}
	if host != "" {
		cfg.HTTP.Host = host
	}
	if port != 0 {
		cfg.HTTP.Port = port
	}

	store, err := openStore(cfg.Audit.DBPath, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	a, err := newApp(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to initialize handlers", "error", err)
		return err
	}
	defer a.Close()

	logger.Info("Handlers registered", "count", a.registry.Count(), "events", a.registry.Patterns())

	if store != nil && cfg.Audit.RetentionDays > 0 {
		retention, err := audit.NewRetention(store, cfg.Audit.RetentionDays, cfg.Audit.PruneInterval, logger)
		if err != nil {
			return err
		}
		retention.Start()
		defer retention.Stop()
	}

	srv := server.NewServer(cfg, a.router, store, logger)
	srv.Metrics = a.recorder
	srv.Events = a.events
	if a.metricsRegistry != nil {
		srv.MetricsHandler = metrics.HTTPHandler(a.metricsRegistry)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.HTTP.Host, cfg.HTTP.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down, waiting for in-flight deliveries")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
