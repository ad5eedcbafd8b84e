package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrHandlerNotFound means a configured handler id has no factory.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrInvalidHandler means a factory produced no usable handler.
	ErrInvalidHandler = errors.New("invalid handler")
)

// RegistrationError reports a configuration problem found while loading
// handlers. It wraps ErrHandlerNotFound or ErrInvalidHandler.
type RegistrationError struct {
	Event     string
	HandlerID string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("handler %q for event %q: %v", e.HandlerID, e.Event, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// HandlerError is a failure raised by one handler during dispatch.
type HandlerError struct {
	HandlerID string
	Event     string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed for event %q: %v", e.HandlerID, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
