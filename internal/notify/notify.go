// Package notify delivers human-readable event notifications to chat,
// message buses and GitHub commit statuses.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sort"
)

// Sink receives one notification. Metadata carries the structured fields
// the message was built from.
type Sink interface {
	Notify(ctx context.Context, message string, metadata map[string]any) error
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, message string, metadata map[string]any) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, len(metadata)*2)
	for _, key := range sortedKeys(metadata) {
		args = append(args, key, metadata[key])
	}
	logger.InfoContext(ctx, message, args...)
	return nil
}

// Multi fans a notification out to every sink. All sinks are tried; their
// errors are joined.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, message string, metadata map[string]any) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, message, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
