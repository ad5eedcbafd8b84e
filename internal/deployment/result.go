package deployment

import (
	"math"
	"time"
)

// Status is the terminal state of a deployment.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSuccess    StepStatus = "success"
	StepFailed     StepStatus = "failed"
	StepBestEffort StepStatus = "best_effort"
	StepSkipped    StepStatus = "skipped"
)

// StepResult records what one step did.
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Note     string        `json:"note,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a deployment run. It is returned alongside the
// error when a run aborts, so Duration and the steps that did run are
// always available.
type Result struct {
	DeploymentID string        `json:"deployment_id"`
	Repository   string        `json:"repository"`
	Branch       string        `json:"branch"`
	Environment  string        `json:"environment"`
	Commit       string        `json:"commit,omitempty"`
	Status       Status        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Steps        []StepResult  `json:"steps"`
}

// Step returns the result recorded under name.
func (r *Result) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// DurationSeconds returns the duration rounded to two decimals.
func (r *Result) DurationSeconds() float64 {
	return math.Round(r.Duration.Seconds()*100) / 100
}

// Succeeded reports whether the run reached the end of the pipeline.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
