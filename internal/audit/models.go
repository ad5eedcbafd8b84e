package audit

import (
	"encoding/json"
	"time"
)

// WebhookRecord is one stored delivery.
type WebhookRecord struct {
	ID          int64           `json:"id"`
	EventType   string          `json:"event_type"`
	DeliveryID  *string         `json:"delivery_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Headers     json.RawMessage `json:"headers"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Processed reports whether the delivery was fully dispatched.
func (r *WebhookRecord) Processed() bool {
	return r.ProcessedAt != nil
}

// Deployment statuses stored in the deployments table.
const (
	DeploymentSuccess  = "success"
	DeploymentFailure  = "failure"
	DeploymentRejected = "rejected"
)

// DeploymentRecord represents a single deployment run in the database
type DeploymentRecord struct {
	ID              int64      `json:"id"`
	DeploymentID    string     `json:"deployment_id"`
	Repository      string     `json:"repository"`
	Branch          string     `json:"branch"`
	Environment     string     `json:"environment"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	CommitHash      *string    `json:"commit_hash,omitempty"`
	FailedStep      *string    `json:"failed_step,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// RepositoryStatus is the latest deployment of a repository plus recent runs.
type RepositoryStatus struct {
	Repository       string             `json:"repository"`
	LatestDeployment *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory    []DeploymentRecord `json:"recent_history"`
}
