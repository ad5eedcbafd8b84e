package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hookbox/internal/deployment"
	"hookbox/internal/notify"
)

// DeployOutcome is the deployment part of a handler result.
type DeployOutcome struct {
	Deployed     bool    `json:"deployed"`
	DeploymentID string  `json:"deployment_id,omitempty"`
	Environment  string  `json:"environment,omitempty"`
	Commit       string  `json:"commit,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// trigger runs deployments for handlers and reports the outcome to the
// notification sink.
type trigger struct {
	deployer deployment.Deployer
	sink     notify.Sink
	logger   *slog.Logger
}

func newTrigger(deps Dependencies) (trigger, error) {
	if deps.Deployer == nil {
		return trigger{}, errNoDeployer
	}
	return trigger{deployer: deps.Deployer, sink: deps.sink(), logger: deps.logger()}, nil
}

// deploy runs target. A busy lease is a non-fatal outcome; pipeline failures
// are returned so the router policy applies.
func (t trigger) deploy(ctx context.Context, target deployment.Target) (DeployOutcome, error) {
	result, err := t.deployer.Deploy(ctx, target)
	if errors.Is(err, deployment.ErrDeploymentInProgress) {
		return DeployOutcome{Reason: "deployment already in progress"}, nil
	}

	t.report(ctx, target, result, err)
	if err != nil {
		return DeployOutcome{}, err
	}

	return DeployOutcome{
		Deployed:     true,
		DeploymentID: result.DeploymentID,
		Environment:  result.Environment,
		Commit:       result.Commit,
		Duration:     result.DurationSeconds(),
	}, nil
}

func (t trigger) report(ctx context.Context, target deployment.Target, result *deployment.Result, err error) {
	metadata := map[string]any{
		"repository":  target.Repository,
		"branch":      target.Branch,
		"environment": target.Environment,
		"state":       "success",
	}
	if result != nil {
		metadata["branch"] = result.Branch
		metadata["environment"] = result.Environment
		metadata["deployment_id"] = result.DeploymentID
		if result.Commit != "" {
			metadata["commit"] = result.Commit
		}
	}

	message := fmt.Sprintf("Deployment of %s (%s) to %s succeeded", target.Repository, metadata["branch"], metadata["environment"])
	if err != nil {
		metadata["state"] = "failure"
		metadata["error"] = err.Error()
		message = fmt.Sprintf("Deployment of %s (%s) to %s failed", target.Repository, metadata["branch"], metadata["environment"])
		var derr *deployment.Error
		if errors.As(err, &derr) && derr.Step != "" {
			metadata["step"] = derr.Step
		}
	}

	if nerr := t.sink.Notify(ctx, message, metadata); nerr != nil {
		t.logger.Warn("failed to send deployment notification", "repository", target.Repository, "error", nerr)
	}
}
