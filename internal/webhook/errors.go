package webhook

import "errors"

var (
	// ErrInvalidSignature is an authentication failure (HTTP 401).
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingEventType is a delivery without an X-GitHub-Event header (HTTP 400).
	ErrMissingEventType = errors.New("missing event type")

	// ErrInvalidPayload is a body that is not a JSON object (HTTP 400).
	ErrInvalidPayload = errors.New("invalid payload")
)
