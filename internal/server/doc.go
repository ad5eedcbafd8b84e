// Package server implements the HTTP surface of the hookbox webhook receiver.
//
// This package provides:
//   - The GitHub delivery endpoint at /{route_prefix}/github
//   - Health and deployment status endpoints for monitoring
//   - The Prometheus /metrics endpoint when metrics are enabled
//   - Structured logging of all HTTP requests
//
// A delivery is handled synchronously: the body is read (1MB max), the
// X-Hub-Signature-256 header is checked when a secret is configured, the
// event is recorded in the audit store, dispatched to the registered
// handlers and finally marked processed. Responses are terse status
// strings; details go to the log.
//
// The server integrates with other packages:
//   - internal/webhook: signature verification and the delivery model
//   - internal/dispatch: handler resolution and the failure policy
//   - internal/audit: SQLite delivery log and deployment history
//
// Per-client throttling is configured through "throttle:N,M" entries in the
// middleware list.
package server
