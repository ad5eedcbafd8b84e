package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"hookbox/internal/metrics"
	"hookbox/internal/webhook"
)

// Outcome is the result of one handler invocation.
type Outcome struct {
	HandlerID string `json:"handler"`
	Result    any    `json:"result,omitempty"`
	Err       error  `json:"-"`
}

// Failed reports whether the handler returned an error.
func (o Outcome) Failed() bool { return o.Err != nil }

// Router invokes the registered handlers for an event.
type Router struct {
	Registry          *Registry
	ContinueOnFailure bool
	Logger            *slog.Logger
	Metrics           metrics.Recorder
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, continueOnFailure bool, logger *slog.Logger) *Router {
	return &Router{
		Registry:          registry,
		ContinueOnFailure: continueOnFailure,
		Logger:            logger,
		Metrics:           metrics.NoopRecorder{},
	}
}

// Dispatch runs every resolved handler sequentially. A failing handler is
// recorded as a failed Outcome when ContinueOnFailure is set; otherwise
// dispatch stops and returns the *HandlerError with no outcomes. An event
// with no handlers returns an empty slice.
func (r *Router) Dispatch(ctx context.Context, event *webhook.Event, payload map[string]any) ([]Outcome, error) {
	registrations := r.Registry.Resolve(event.Name())
	outcomes := make([]Outcome, 0, len(registrations))

	for _, reg := range registrations {
		start := time.Now()
		result, err := invoke(ctx, reg.Handler, event, payload)
		elapsed := time.Since(start)

		if err != nil {
			r.Metrics.ObserveHandler(reg.ID, elapsed, metrics.ResultFailed)
			herr := &HandlerError{HandlerID: reg.ID, Event: event.Name(), Err: err}
			r.Logger.Error("webhook handler failed",
				"event", event.Name(),
				"delivery", event.DeliveryID(),
				"handler", reg.ID,
				"duration_ms", elapsed.Milliseconds(),
				"error", err)

			if !r.ContinueOnFailure {
				return nil, herr
			}
			outcomes = append(outcomes, Outcome{HandlerID: reg.ID, Err: herr})
			continue
		}

		r.Metrics.ObserveHandler(reg.ID, elapsed, metrics.ResultSuccess)
		r.Logger.Debug("webhook handler completed",
			"event", event.Name(),
			"delivery", event.DeliveryID(),
			"handler", reg.ID,
			"duration_ms", elapsed.Milliseconds())
		outcomes = append(outcomes, Outcome{HandlerID: reg.ID, Result: result})
	}

	return outcomes, nil
}

// invoke turns a handler panic into an error so one broken handler is
// subject to the same failure policy as any other.
func invoke(ctx context.Context, h Handler, event *webhook.Event, payload map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return h.Handle(ctx, event, payload)
}
