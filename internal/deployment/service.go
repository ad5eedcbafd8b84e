package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hookbox/internal/audit"
	"hookbox/internal/metrics"
)

// History persists deployment runs.
type History interface {
	RecordDeployment(ctx context.Context, record *audit.DeploymentRecord) (int64, error)
}

// Deployer runs deployments. Handlers depend on this rather than on
// Service directly.
type Deployer interface {
	Deploy(ctx context.Context, target Target) (*Result, error)
}

// Service serialises deployments into the pipeline's working tree and
// records every run.
type Service struct {
	Pipeline *Pipeline
	Locker   Locker
	History  History // optional
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// NewService creates a service with the in-process lock manager.
func NewService(pipeline *Pipeline, history History, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Pipeline: pipeline,
		Locker:   NewLockManager(),
		History:  history,
		Logger:   logger,
		Metrics:  metrics.NoopRecorder{},
	}
}

// Deploy takes the working tree lease and runs the pipeline. A busy lease
// returns ErrDeploymentInProgress without running anything. The pipeline
// runs detached from ctx cancellation: once started, a deployment is only
// bounded by its step timeouts.
func (s *Service) Deploy(ctx context.Context, target Target) (*Result, error) {
	if target.Branch == "" {
		target.Branch = s.Pipeline.Branch
	}
	if target.Environment == "" {
		target.Environment = s.Pipeline.Environment
	}

	key := LockKey(s.Pipeline.Dir)
	release, err := s.Locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, ErrDeploymentInProgress) {
			metrics.OrNoop(s.Metrics).IncLockRejected()
			s.Logger.Warn("deployment rejected, another run holds the lease", "key", key)
			s.record(ctx, rejectedRecord(target, err))
			return nil, err
		}
		return nil, fmt.Errorf("acquire deployment lease: %w", err)
	}
	defer release()

	result, err := s.Pipeline.Deploy(context.WithoutCancel(ctx), target)
	s.record(ctx, recordFromResult(result, err))
	return result, err
}

func (s *Service) record(ctx context.Context, rec *audit.DeploymentRecord) {
	if s.History == nil {
		return
	}
	if _, err := s.History.RecordDeployment(context.WithoutCancel(ctx), rec); err != nil {
		s.Logger.Error("failed to record deployment", "deployment_id", rec.DeploymentID, "error", err)
	}
}

func recordFromResult(result *Result, err error) *audit.DeploymentRecord {
	completed := result.StartedAt.Add(result.Duration)
	duration := result.DurationSeconds()
	rec := &audit.DeploymentRecord{
		DeploymentID:    result.DeploymentID,
		Repository:      result.Repository,
		Branch:          result.Branch,
		Environment:     result.Environment,
		Status:          audit.DeploymentSuccess,
		StartedAt:       result.StartedAt,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
	}
	if result.Commit != "" {
		commit := result.Commit
		rec.CommitHash = &commit
	}
	if err != nil {
		rec.Status = audit.DeploymentFailure
		msg := err.Error()
		rec.ErrorMessage = &msg
		var derr *Error
		if errors.As(err, &derr) && derr.Step != "" {
			step := derr.Step
			rec.FailedStep = &step
		}
	}
	return rec
}

func rejectedRecord(target Target, err error) *audit.DeploymentRecord {
	now := time.Now()
	msg := err.Error()
	return &audit.DeploymentRecord{
		Repository:   target.Repository,
		Branch:       target.Branch,
		Environment:  target.Environment,
		Status:       audit.DeploymentRejected,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}
}
