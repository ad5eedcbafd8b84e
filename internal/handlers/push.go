package handlers

import (
	"context"
	"log/slog"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/deployment"
	"hookbox/internal/webhook"
)

// PushResult is returned by PushHandler.
type PushResult struct {
	Processed  bool   `json:"processed"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Commits    int    `json:"commits"`
	DeployOutcome
}

// PushHandler deploys pushes to the configured branch.
type PushHandler struct {
	Branch  string
	trigger trigger
	logger  *slog.Logger
}

func NewPushHandler(deps Dependencies) (*PushHandler, error) {
	t, err := newTrigger(deps)
	if err != nil {
		return nil, err
	}
	return &PushHandler{Branch: deps.config().Branch, trigger: t, logger: deps.logger()}, nil
}

func (h *PushHandler) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	if event.Name() != "push" {
		return nil, nil
	}
	push, err := parseEvent[github.PushEvent](event)
	if err != nil {
		return nil, err
	}

	res := &PushResult{
		Processed:  true,
		Repository: orUnknown(push.GetRepo().GetFullName()),
		Branch:     BranchFromRef(push.GetRef()),
		Commits:    len(push.Commits),
	}

	h.logger.Info("push event received",
		"repository", res.Repository,
		"branch", res.Branch,
		"commits", res.Commits,
		"pusher", orUnknown(push.GetPusher().GetName()))

	switch {
	case res.Branch != h.Branch:
		res.Reason = "branch not configured for deployment"
	case push.GetDeleted():
		res.Reason = "branch deleted"
	default:
		res.DeployOutcome, err = h.trigger.deploy(ctx, deployment.Target{
			Repository: res.Repository,
			Branch:     res.Branch,
			Payload:    payload,
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
