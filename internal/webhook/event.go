// Package webhook holds the inbound delivery model and its authentication.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	EventHeader    = "X-GitHub-Event"
	DeliveryHeader = "X-GitHub-Delivery"

	// Wildcard is the handler pattern matching every event.
	Wildcard = "*"
)

// Event is one received delivery. It is immutable after NewEvent; accessors
// return copies.
type Event struct {
	name       string
	deliveryID string
	rawBody    []byte
	headers    http.Header
	receivedAt time.Time
}

// NewEvent builds an Event from request parts. The header and body are
// copied so later mutation by the caller cannot leak in.
func NewEvent(name, deliveryID string, rawBody []byte, headers http.Header, receivedAt time.Time) *Event {
	return &Event{
		name:       name,
		deliveryID: deliveryID,
		rawBody:    bytes.Clone(rawBody),
		headers:    headers.Clone(),
		receivedAt: receivedAt.UTC(),
	}
}

// FromRequest builds an Event from the GitHub delivery headers.
// It fails with ErrMissingEventType when the event header is absent.
func FromRequest(headers http.Header, body []byte, receivedAt time.Time) (*Event, error) {
	name := headers.Get(EventHeader)
	if name == "" {
		return nil, ErrMissingEventType
	}
	return NewEvent(name, headers.Get(DeliveryHeader), body, headers, receivedAt), nil
}

func (e *Event) Name() string          { return e.name }
func (e *Event) DeliveryID() string    { return e.deliveryID }
func (e *Event) ReceivedAt() time.Time { return e.receivedAt }
func (e *Event) RawBody() []byte       { return bytes.Clone(e.rawBody) }
func (e *Event) Headers() http.Header  { return e.headers.Clone() }

// Header returns the first value of a request header.
func (e *Event) Header(key string) string {
	return e.headers.Get(key)
}

// Payload decodes the body as a JSON object. An empty body yields an empty
// map; anything other than an object wraps ErrInvalidPayload.
func (e *Event) Payload() (map[string]any, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(e.rawBody)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload == nil {
		return map[string]any{}, nil
	}
	return payload, nil
}
