// Package metrics defines the observability hooks used across hookbox.
// Components hold a Recorder and default to NoopRecorder, so metrics stay
// optional and no call site needs a nil check.
package metrics

import "time"

// ResultLabel enumerates outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess    ResultLabel = "success"
	ResultFailed     ResultLabel = "failed"
	ResultBestEffort ResultLabel = "best_effort"
	ResultSkipped    ResultLabel = "skipped"
)

// Recorder defines the metrics emitted by the delivery and deployment paths.
type Recorder interface {
	IncDelivery(event string, status int)
	ObserveHandler(handler string, d time.Duration, result ResultLabel)
	ObserveStep(step string, d time.Duration, result ResultLabel)
	ObserveDeployment(d time.Duration, result ResultLabel)
	IncLockRejected()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are disabled).
type NoopRecorder struct{}

func (NoopRecorder) IncDelivery(string, int)                           {}
func (NoopRecorder) ObserveHandler(string, time.Duration, ResultLabel) {}
func (NoopRecorder) ObserveStep(string, time.Duration, ResultLabel)    {}
func (NoopRecorder) ObserveDeployment(time.Duration, ResultLabel)      {}
func (NoopRecorder) IncLockRejected()                                  {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
