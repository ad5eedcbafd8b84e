package handlers

import (
	"context"
	"log/slog"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/deployment"
	"hookbox/internal/webhook"
)

// PullRequestResult is returned by PullRequestHandler.
type PullRequestResult struct {
	Processed  bool   `json:"processed"`
	Action     string `json:"action"`
	Repository string `json:"repository"`
	Number     int    `json:"pr_number"`
	Merged     bool   `json:"merged"`
	DeployOutcome
}

// PullRequestHandler deploys when a pull request is merged into the
// configured branch.
type PullRequestHandler struct {
	Branch  string
	trigger trigger
	logger  *slog.Logger
}

func NewPullRequestHandler(deps Dependencies) (*PullRequestHandler, error) {
	t, err := newTrigger(deps)
	if err != nil {
		return nil, err
	}
	return &PullRequestHandler{Branch: deps.config().Branch, trigger: t, logger: deps.logger()}, nil
}

func (h *PullRequestHandler) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	if event.Name() != "pull_request" {
		return nil, nil
	}
	ev, err := parseEvent[github.PullRequestEvent](event)
	if err != nil {
		return nil, err
	}

	pr := ev.GetPullRequest()
	res := &PullRequestResult{
		Processed:  true,
		Action:     orUnknown(ev.GetAction()),
		Repository: orUnknown(ev.GetRepo().GetFullName()),
		Number:     pr.GetNumber(),
		Merged:     pr.GetMerged(),
	}
	base := pr.GetBase().GetRef()

	h.logger.Info("pull request event received",
		"action", res.Action,
		"repository", res.Repository,
		"pr_number", res.Number,
		"pr_title", pr.GetTitle(),
		"author", orUnknown(pr.GetUser().GetLogin()))

	switch {
	case res.Action != "closed" || !res.Merged:
		res.Reason = "pull request not merged"
	case base != h.Branch:
		res.Reason = "base branch not configured for deployment"
	default:
		h.logger.Info("pull request merged", "repository", res.Repository, "pr_number", res.Number, "base", base)
		res.DeployOutcome, err = h.trigger.deploy(ctx, deployment.Target{
			Repository: res.Repository,
			Branch:     base,
			Payload:    payload,
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
