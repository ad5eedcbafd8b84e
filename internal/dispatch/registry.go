package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hookbox/internal/webhook"
)

// Handler processes one event. The payload is the decoded JSON body; the
// event carries the raw body and request headers.
type Handler interface {
	Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	return f(ctx, event, payload)
}

// Registration binds a handler to an event pattern.
type Registration struct {
	Pattern string
	ID      string
	Handler Handler
}

// Factory constructs the handler for one identifier.
type Factory func() (Handler, error)

// Factories maps handler identifiers to their constructors.
type Factories map[string]Factory

// Registry maps event names to handlers. Registrations are append-only.
type Registry struct {
	mu        sync.RWMutex
	byPattern map[string][]Registration
	instances map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPattern: make(map[string][]Registration),
		instances: make(map[string]Handler),
	}
}

// Register appends h under pattern. The same handler may be registered
// under several patterns and will run once per matching registration.
func (r *Registry) Register(pattern, id string, h Handler) error {
	if pattern == "" {
		return &RegistrationError{Event: pattern, HandlerID: id, Err: fmt.Errorf("%w: empty event pattern", ErrInvalidHandler)}
	}
	if h == nil {
		return &RegistrationError{Event: pattern, HandlerID: id, Err: ErrInvalidHandler}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPattern[pattern] = append(r.byPattern[pattern], Registration{Pattern: pattern, ID: id, Handler: h})
	return nil
}

// Resolve returns the handlers for event: exact registrations first, then
// wildcard registrations, each in registration order.
func (r *Registry) Resolve(event string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exact := r.byPattern[event]
	var wildcard []Registration
	if event != webhook.Wildcard {
		wildcard = r.byPattern[webhook.Wildcard]
	}

	resolved := make([]Registration, 0, len(exact)+len(wildcard))
	resolved = append(resolved, exact...)
	resolved = append(resolved, wildcard...)
	return resolved
}

// Load registers the configured handlers. Each identifier is constructed
// once through factories and the instance is reused for every event that
// lists it. Events are processed in sorted order so registration order is
// stable across runs.
func (r *Registry) Load(handlers map[string][]string, factories Factories) error {
	events := make([]string, 0, len(handlers))
	for event := range handlers {
		events = append(events, event)
	}
	sort.Strings(events)

	for _, event := range events {
		for _, id := range handlers[event] {
			h, err := r.instance(event, id, factories)
			if err != nil {
				return err
			}
			if err := r.Register(event, id, h); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) instance(event, id string, factories Factories) (Handler, error) {
	r.mu.RLock()
	h, ok := r.instances[id]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	factory, ok := factories[id]
	if !ok || factory == nil {
		return nil, &RegistrationError{Event: event, HandlerID: id, Err: ErrHandlerNotFound}
	}

	h, err := factory()
	if err != nil {
		return nil, &RegistrationError{Event: event, HandlerID: id, Err: fmt.Errorf("%w: %v", ErrInvalidHandler, err)}
	}
	if h == nil {
		return nil, &RegistrationError{Event: event, HandlerID: id, Err: ErrInvalidHandler}
	}

	r.mu.Lock()
	r.instances[id] = h
	r.mu.Unlock()
	return h, nil
}

// Patterns returns the registered event patterns with their handler ids.
func (r *Registry) Patterns() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.byPattern))
	for pattern, regs := range r.byPattern {
		ids := make([]string, len(regs))
		for i, reg := range regs {
			ids[i] = reg.ID
		}
		out[pattern] = ids
	}
	return out
}

// Count returns the number of registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, regs := range r.byPattern {
		n += len(regs)
	}
	return n
}
