package handlers

import (
	"context"
	"log/slog"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/deployment"
	"hookbox/internal/security"
	"hookbox/internal/webhook"
)

// ProductionEnvironment is the environment published releases deploy to.
const ProductionEnvironment = "production"

// ReleaseResult is returned by ReleaseDeploymentHandler.
type ReleaseResult struct {
	Action        string `json:"action"`
	ReleaseAction string `json:"release_action"`
	Repository    string `json:"repository,omitempty"`
	Release       string `json:"release,omitempty"`
	DeployOutcome
}

// ReleaseDeploymentHandler deploys published releases to production. The
// release target branch is synced; the default branch is used when the
// release has none or targets a commit.
type ReleaseDeploymentHandler struct {
	Branch  string
	trigger trigger
	logger  *slog.Logger
}

func NewReleaseDeploymentHandler(deps Dependencies) (*ReleaseDeploymentHandler, error) {
	t, err := newTrigger(deps)
	if err != nil {
		return nil, err
	}
	return &ReleaseDeploymentHandler{Branch: deps.config().Branch, trigger: t, logger: deps.logger()}, nil
}

func (h *ReleaseDeploymentHandler) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	if event.Name() != "release" {
		return nil, nil
	}
	ev, err := parseEvent[github.ReleaseEvent](event)
	if err != nil {
		return nil, err
	}

	action := orUnknown(ev.GetAction())
	if action != "published" {
		return &ReleaseResult{Action: "release_handled", ReleaseAction: action}, nil
	}

	release := ev.GetRelease()
	res := &ReleaseResult{
		Action:        "production_deployment_triggered",
		ReleaseAction: action,
		Repository:    orUnknown(ev.GetRepo().GetFullName()),
		Release:       orUnknown(release.GetTagName()),
	}

	branch := release.GetTargetCommitish()
	switch {
	case security.IsCommitHash(branch):
		h.logger.Info("release targets a commit, deploying the configured branch",
			"commit", branch, "branch", h.Branch)
		branch = h.Branch
	case branch == "" || security.ValidateBranchName(branch) != nil:
		branch = h.Branch
	}

	h.logger.Info("release published, triggering production deployment",
		"repository", res.Repository,
		"tag", res.Release,
		"name", release.GetName(),
		"branch", branch)

	res.DeployOutcome, err = h.trigger.deploy(ctx, deployment.Target{
		Repository:  res.Repository,
		Branch:      branch,
		Environment: ProductionEnvironment,
		Payload:     payload,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
