package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hookbox/internal/audit"
	"hookbox/internal/config"
	"hookbox/internal/dispatch"
	"hookbox/internal/metrics"
	"hookbox/internal/notify"
)

const (
	// HTTP server timeouts. Deliveries run deployments inside the request,
	// so the write timeout has to cover a full pipeline.
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 20 * time.Minute
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for the monitoring routes
	RequestTimeout = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	Config         *config.Config
	Registry       *dispatch.Registry
	Dispatcher     *dispatch.Router
	Store          *audit.Store // nil disables the audit log and /status
	Metrics        metrics.Recorder
	MetricsHandler http.Handler // nil disables /metrics
	Events         notify.Sink  // receives a webhook_received event per processed delivery; may be nil
	Logger         *slog.Logger

	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, dispatcher *dispatch.Router, store *audit.Store, logger *slog.Logger) *Server {
	return &Server{
		Config:     cfg,
		Registry:   dispatcher.Registry,
		Dispatcher: dispatcher,
		Store:      store,
		Metrics:    metrics.NoopRecorder{},
		Logger:     logger,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	for _, mw := range s.configuredMiddleware() {
		r.Use(mw)
	}

	r.Post(s.Config.WebhookPath(), s.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Get("/health", s.HandleHealth)
		r.Get("/status", s.HandleStatusAll)
		r.Get("/status/{owner}/{repo}", s.HandleStatus)
		if s.MetricsHandler != nil {
			r.Method(http.MethodGet, s.metricsPath(), s.MetricsHandler)
		}
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// configuredMiddleware turns the middleware list into handlers. Only
// throttle entries are understood; anything else is logged and skipped.
func (s *Server) configuredMiddleware() []func(http.Handler) http.Handler {
	var out []func(http.Handler) http.Handler
	for _, entry := range s.Config.Middleware {
		name, args, _ := strings.Cut(strings.TrimSpace(entry), ":")
		if name != "throttle" {
			s.Logger.Warn("ignoring unsupported middleware", "middleware", entry)
			continue
		}
		throttle, err := config.ParseThrottle(args)
		if err != nil {
			s.Logger.Warn("ignoring invalid throttle middleware", "middleware", entry, "error", err)
			continue
		}
		out = append(out, NewThrottleMiddleware(throttle, s.Logger))
	}
	return out
}

func (s *Server) metricsPath() string {
	if s.Config.Metrics.Path == "" {
		return "/metrics"
	}
	return s.Config.Metrics.Path
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "webhook_path", s.Config.WebhookPath())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting deliveries and waits for in-flight requests,
// including any deployment they are running.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
