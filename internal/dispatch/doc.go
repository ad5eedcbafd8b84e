// Package dispatch routes a verified delivery to the handlers registered for
// its event.
//
// A Registry is built once at startup, from configuration through a table of
// handler factories, and passed to the Router. Resolution order is exact
// event registrations followed by wildcard ("*") registrations, each in the
// order they were added. The Router invokes handlers one at a time in that
// order and applies the continue-on-failure policy.
package dispatch
