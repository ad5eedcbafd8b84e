package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON document published for each notification.
type Envelope struct {
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NATSSink publishes notifications on a NATS subject.
type NATSSink struct {
	Publisher Publisher
	Subject   string

	conn *nats.Conn
}

// NewNATSSink connects to url and publishes on subject.
func NewNATSSink(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	conn, err := nats.Connect(url, nats.Name("hookbox"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if logger != nil {
		logger.Info("NATS notification sink connected", "url", conn.ConnectedUrlRedacted(), "subject", subject)
	}
	return &NATSSink{Publisher: conn, Subject: subject, conn: conn}, nil
}

func (s *NATSSink) Notify(_ context.Context, message string, metadata map[string]any) error {
	data, err := json.Marshal(Envelope{
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.Publisher.Publish(s.Subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close drains the connection opened by NewNATSSink.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
