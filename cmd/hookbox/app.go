package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"hookbox/internal/audit"
	"hookbox/internal/config"
	"hookbox/internal/deployment"
	"hookbox/internal/dispatch"
	"hookbox/internal/handlers"
	"hookbox/internal/metrics"
	"hookbox/internal/notify"
	"hookbox/internal/security"
	"hookbox/pkg/fileutil"
)

const defaultConfigName = "hookbox.yaml"

// app holds everything a delivery needs, built once from configuration and
// shared by serve and webhooks reprocess.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *audit.Store
	registry *dispatch.Registry
	router   *dispatch.Router
	service  *deployment.Service
	syncer   *deployment.GitSyncer

	metricsRegistry *prometheus.Registry
	recorder        metrics.Recorder

	// events receives webhook_received events. Only the message bus gets
	// one per delivery; chat and commit statuses stay deployment-only.
	events notify.Sink

	closers []func() error
}

// resolveConfigPath loads the dotenv file and returns path, or the first
// configuration file found in the default locations when path is empty.
func resolveConfigPath(path string) (string, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return "", err
	}
	if path != "" {
		return path, nil
	}

	searchPaths := fileutil.DefaultConfigPaths(defaultConfigName)
	if found := fileutil.SearchPathsOptional(searchPaths); found != "" {
		return found, nil
	}
	return "", fmt.Errorf("no configuration file found in: %s (use --config to specify one)",
		strings.Join(searchPaths, ", "))
}

// loadConfig resolves, loads and validates the configuration.
func loadConfig(path string) (*config.Config, string, error) {
	path, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// setupLogging configures a JSON slog logger writing to stdout and, when
// logPath is set, to that file as well. The returned file may be nil.
func setupLogging(logPath, level string) (*slog.Logger, *os.File, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	var file *os.File
	if logPath != "" {
		if err := ensureDir(filepath.Dir(logPath)); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		w = io.MultiWriter(os.Stdout, f)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), file, nil
}

// newApp wires the deployment service, notification sinks and handler
// registry. store may be nil.
func newApp(cfg *config.Config, store *audit.Store, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		recorder: metrics.NoopRecorder{},
	}

	if cfg.Metrics.Enabled {
		a.metricsRegistry = prometheus.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.metricsRegistry)
	}

	a.syncer = deployment.NewGitSyncer(
		cfg.Deployment.Remote,
		cfg.Deployment.HardReset,
		cfg.Notifications.GitHubStatus.Token,
		deployment.NewRetryPolicy(cfg.Deployment.Retry),
		logger,
	)

	pipeline, err := deployment.NewPipeline(cfg, a.syncer, deployment.NewExecutor(cfg.SecretsForRedaction()), logger)
	if err != nil {
		return nil, err
	}
	pipeline.Metrics = a.recorder

	var history deployment.History
	if store != nil {
		history = store
	}
	a.service = deployment.NewService(pipeline, history, logger)
	a.service.Metrics = a.recorder

	if cfg.Lock.Backend == "redis" {
		locker, err := deployment.NewRedisLocker(cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB, cfg.Lock.TTL, logger)
		if err != nil {
			return nil, err
		}
		a.service.Locker = locker
		a.closers = append(a.closers, locker.Close)
	}

	sink, err := a.buildSinks()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	deps := handlers.Dependencies{
		Config:   cfg,
		Deployer: a.service,
		Mirror:   a.syncer,
		Sink:     sink,
		Logger:   logger,
	}

	a.registry = dispatch.NewRegistry()
	if err := a.registry.Load(cfg.HandlerBindings(), handlers.Factories(deps)); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.router = dispatch.NewRouter(a.registry, cfg.ContinueOnHandlerFailure, logger)
	a.router.Metrics = a.recorder

	return a, nil
}

func (a *app) buildSinks() (notify.Sink, error) {
	n := a.cfg.Notifications
	sinks := notify.Multi{notify.LogSink{Logger: a.logger}}

	if n.Slack.WebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(n.Slack.WebhookURL, n.Slack.Channel, n.Slack.Username))
	}
	if n.NATS.URL != "" {
		natsSink, err := notify.NewNATSSink(n.NATS.URL, n.NATS.Subject, a.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsSink)
		a.events = natsSink
		a.closers = append(a.closers, natsSink.Close)
	}
	if n.GitHubStatus.Token != "" {
		statusSink, err := notify.NewGitHubStatusSink(n.GitHubStatus.Token, n.GitHubStatus.Context, n.GitHubStatus.TargetURL, n.GitHubStatus.BaseURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, statusSink)
	}

	a.logger.Info("Notification sinks configured", "count", len(sinks))
	return sinks, nil
}

// Close releases connections opened by newApp. The store is owned by the
// caller.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the audit database, or returns nil when path is empty.
func openStore(path string, logger *slog.Logger) (*audit.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Info("Opening audit database", "db", path)
	store, err := audit.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := os.Chmod(path, security.PermDBFile); err != nil {
		logger.Warn("Could not restrict audit database permissions", "db", path, "error", err)
	}
	return store, nil
}

// ensureDir creates dir with restricted permissions. Existing directories
// are left untouched.
func ensureDir(dir string) error {
	if fileutil.DirExists(dir) {
		return nil
	}
	return security.CreateSecureDir(dir, security.PermDirectory)
}

// configFileWarnings reports a configuration file that others can read while
// it holds the webhook secret.
func configFileWarnings(path string, data []byte) []string {
	if !bytes.Contains(data, []byte("secret:")) {
		return nil
	}
	if err := security.ValidateSecurePermissions(path); err != nil {
		return []string{fmt.Sprintf("%v; it contains the webhook secret, use mode %04o", err, security.PermConfigFile)}
	}
	return nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
