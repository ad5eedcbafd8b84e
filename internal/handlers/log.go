package handlers

import (
	"context"
	"log/slog"

	"hookbox/internal/webhook"
)

// LogResult is returned by LogHandler.
type LogResult struct {
	Logged bool   `json:"logged"`
	Event  string `json:"event"`
}

// LogHandler records every event it sees. It is meant for the "*" pattern.
type LogHandler struct {
	logger *slog.Logger
}

func NewLogHandler(deps Dependencies) (*LogHandler, error) {
	return &LogHandler{logger: deps.logger()}, nil
}

func (h *LogHandler) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	action, _ := payload["action"].(string)
	h.logger.InfoContext(ctx, "webhook event",
		"event", event.Name(),
		"delivery", event.DeliveryID(),
		"repository", repositoryName(payload),
		"action", action,
		"size", len(event.RawBody()))
	return &LogResult{Logged: true, Event: event.Name()}, nil
}
