package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hookbox/internal/metrics"
	"hookbox/internal/security"
	"hookbox/internal/webhook"
)

const (
	MaxPayloadBytes        = 1_000_000 // 1 MB
	RecentDeploymentsLimit = 10        // Number of recent deployments to return in status endpoint
)

// Terse response bodies. Causes are only logged.
const (
	respOK               = "OK"
	respUnauthorized     = "Unauthorized"
	respMissingEvent     = "Missing event type"
	respInvalidPayload   = "Invalid payload"
	respPayloadTooLarge  = "Payload too large"
	respInternalError    = "Internal Server Error"
	respStoreUnavailable = "Deployment history not available"
)

// HandleWebhook handles GitHub deliveries
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventName := r.Header.Get(webhook.EventHeader)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err)
		s.respond(w, eventName, http.StatusBadRequest, respInvalidPayload)
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respond(w, eventName, http.StatusRequestEntityTooLarge, respPayloadTooLarge)
		return
	}

	if s.Config.Secret != "" {
		if err := webhook.Verify(body, r.Header.Get(webhook.SignatureHeader), s.Config.Secret); err != nil {
			s.Logger.Warn("Rejected delivery", "event", eventName, "remote", r.RemoteAddr, "error", err)
			s.respond(w, eventName, http.StatusUnauthorized, respUnauthorized)
			return
		}
	}

	event, err := webhook.FromRequest(r.Header, body, time.Now())
	if err != nil {
		s.respond(w, eventName, http.StatusBadRequest, respMissingEvent)
		return
	}

	payload, err := event.Payload()
	if err != nil {
		s.Logger.Warn("Rejected delivery", "event", event.Name(), "delivery", event.DeliveryID(), "error", err)
		s.respond(w, eventName, http.StatusBadRequest, respInvalidPayload)
		return
	}

	var recordID int64
	if s.Config.StoreWebhooks && s.Store != nil {
		recordID, err = s.Store.RecordWebhook(ctx, event.Name(), event.DeliveryID(), body, event.Headers())
		if err != nil {
			// The audit log is best effort; the delivery is still processed.
			s.Logger.Error("Failed to record webhook", "event", event.Name(), "delivery", event.DeliveryID(), "error", err)
		}
	}

	s.Logger.Info("Webhook received", "event", event.Name(), "delivery", event.DeliveryID(), "record_id", recordID)

	outcomes, err := s.Dispatcher.Dispatch(ctx, event, payload)
	if err != nil {
		s.Logger.Error("Webhook dispatch failed", "event", event.Name(), "delivery", event.DeliveryID(), "error", err)
		s.respond(w, eventName, http.StatusInternalServerError, respInternalError)
		return
	}

	if recordID > 0 {
		if err := s.Store.MarkProcessed(ctx, recordID); err != nil {
			s.Logger.Error("Failed to mark webhook processed", "record_id", recordID, "error", err)
		}
	}

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	s.Logger.Info("Webhook processed",
		"event", event.Name(),
		"delivery", event.DeliveryID(),
		"handlers", len(outcomes),
		"failed", failed)
	s.publishReceived(ctx, event, payload, recordID, len(outcomes), failed)

	s.respond(w, eventName, http.StatusOK, respOK)
}

// EventWebhookReceived is the kind of event published after a delivery is
// processed.
const EventWebhookReceived = "webhook_received"

// publishReceived tells outside consumers a delivery went through the
// handlers. Publishing failures are logged only.
func (s *Server) publishReceived(ctx context.Context, event *webhook.Event, payload map[string]any, recordID int64, handlerCount, failed int) {
	if s.Events == nil {
		return
	}
	metadata := map[string]any{
		"kind":     EventWebhookReceived,
		"event":    event.Name(),
		"delivery": event.DeliveryID(),
		"handlers": handlerCount,
		"failed":   failed,
	}
	if recordID > 0 {
		metadata["record_id"] = recordID
	}
	if action, ok := payload["action"].(string); ok {
		metadata["action"] = action
	}
	if repo, ok := payload["repository"].(map[string]any); ok {
		if name, ok := repo["full_name"].(string); ok {
			metadata["repository"] = name
		}
	}
	if err := s.Events.Notify(context.WithoutCancel(ctx), "GitHub webhook received", metadata); err != nil {
		s.Logger.Warn("Failed to publish webhook event", "event", event.Name(), "delivery", event.DeliveryID(), "error", err)
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":        "ok",
		"handlers":      s.Registry.Patterns(),
		"handler_count": s.Registry.Count(),
	}

	if s.Store != nil {
		if err := s.Store.Ping(r.Context()); err != nil {
			s.Logger.Error("Audit store unreachable", "error", err)
			response["status"] = "degraded"
			response["store"] = "unavailable"
			s.respondJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["store"] = "ok"
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatusAll returns the latest deployment of every repository.
func (s *Server) HandleStatusAll(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": respStoreUnavailable})
		return
	}

	statuses, err := s.Store.GetAllRepositoriesStatus(r.Context())
	if err != nil {
		s.Logger.Error("Failed to get repository statuses", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"repositories": statuses})
}

// HandleStatus handles deployment status requests for one repository
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")

	if err := security.ValidateRepositoryName(repository); err != nil {
		s.Logger.Warn("Invalid repository in status request", "repository", repository, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid repository name"})
		return
	}

	if s.Store == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": respStoreUnavailable})
		return
	}

	latest, err := s.Store.GetLatestDeployment(r.Context(), repository)
	if err != nil {
		s.Logger.Error("Failed to get latest deployment", "error", err, "repository", repository)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	recent, err := s.Store.GetDeploymentHistory(r.Context(), repository, RecentDeploymentsLimit)
	if err != nil {
		s.Logger.Error("Failed to get deployment history", "error", err, "repository", repository)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"repository":         repository,
		"latest_deployment":  latest,
		"recent_deployments": recent,
	})
}

// respond writes a plain status string and counts the delivery.
func (s *Server) respond(w http.ResponseWriter, event string, statusCode int, message string) {
	if event == "" {
		event = "unknown"
	}
	metrics.OrNoop(s.Metrics).IncDelivery(event, statusCode)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	if _, err := io.WriteString(w, message); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.Logger.Debug("Failed to write response", "error", err)
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
