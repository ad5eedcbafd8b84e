package handlers

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/security"
	"hookbox/internal/webhook"
)

// Repository update triggers.
const (
	TriggerPush              = "push"
	TriggerPullRequestMerged = "pull_request_merged"
)

// RepositoryUpdateResult is returned by RepositoryUpdateHandler. Failures to
// update the mirror are reported here, not as handler errors.
type RepositoryUpdateResult struct {
	Updated    bool   `json:"updated"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
	Action     string `json:"action,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RepositoryUpdateHandler keeps a local mirror of each repository under the
// storage path, updated on pushes to auto-update branches and on merged
// pull requests.
type RepositoryUpdateHandler struct {
	StoragePath string
	Branches    []string
	mirror      Mirror
	logger      *slog.Logger
}

func NewRepositoryUpdateHandler(deps Dependencies) (*RepositoryUpdateHandler, error) {
	if deps.Mirror == nil {
		return nil, errors.New("no repository mirror configured")
	}
	cfg := deps.config()
	return &RepositoryUpdateHandler{
		StoragePath: cfg.RepositoryStoragePath,
		Branches:    cfg.AutoUpdateBranches,
		mirror:      deps.Mirror,
		logger:      deps.logger(),
	}, nil
}

func (h *RepositoryUpdateHandler) Handle(ctx context.Context, event *webhook.Event, _ map[string]any) (any, error) {
	switch event.Name() {
	case "push":
		push, err := parseEvent[github.PushEvent](event)
		if err != nil {
			return nil, err
		}
		return h.handlePush(ctx, push), nil
	case "pull_request":
		pr, err := parseEvent[github.PullRequestEvent](event)
		if err != nil {
			return nil, err
		}
		return h.handlePullRequest(ctx, pr), nil
	default:
		return nil, nil
	}
}

func (h *RepositoryUpdateHandler) handlePush(ctx context.Context, push *github.PushEvent) *RepositoryUpdateResult {
	repository := orUnknown(push.GetRepo().GetFullName())
	branch := BranchFromRef(push.GetRef())

	if !contains(h.Branches, branch) {
		h.logger.Info("push ignored, branch not configured for auto-update",
			"repository", repository,
			"branch", branch,
			"allowed_branches", h.Branches)
		return &RepositoryUpdateResult{Reason: "branch not configured for auto-update", Branch: branch}
	}
	return h.update(ctx, repository, branch, push.GetRepo().GetCloneURL(), TriggerPush)
}

func (h *RepositoryUpdateHandler) handlePullRequest(ctx context.Context, ev *github.PullRequestEvent) *RepositoryUpdateResult {
	action := orUnknown(ev.GetAction())
	pr := ev.GetPullRequest()
	if action != "closed" || !pr.GetMerged() {
		return &RepositoryUpdateResult{Reason: "pull request not merged", Action: action}
	}

	branch := pr.GetBase().GetRef()
	if branch == "" {
		branch = "main"
	}
	repository := orUnknown(ev.GetRepo().GetFullName())
	h.logger.Info("pull request merged, updating repository",
		"repository", repository,
		"branch", branch,
		"pr_number", pr.GetNumber())

	return h.update(ctx, repository, branch, ev.GetRepo().GetCloneURL(), TriggerPullRequestMerged)
}

func (h *RepositoryUpdateHandler) update(ctx context.Context, repository, branch, cloneURL, trigger string) *RepositoryUpdateResult {
	res := &RepositoryUpdateResult{Repository: repository, Branch: branch, Trigger: trigger}

	dirName, err := security.MirrorDirName(repository)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := security.ValidateBranchName(branch); err != nil {
		res.Error = err.Error()
		return res
	}
	if cloneURL == "" {
		res.Error = "payload has no clone url"
		return res
	}
	if err := security.ValidateCloneURL(cloneURL); err != nil {
		res.Error = err.Error()
		return res
	}

	dir := filepath.Join(h.StoragePath, dirName)
	h.logger.Info("updating repository mirror", "repository", repository, "branch", branch, "trigger", trigger, "path", dir)

	action, commit, err := h.mirror.CloneOrUpdate(ctx, cloneURL, dir, branch)
	if err != nil {
		h.logger.Error("repository update failed", "repository", repository, "branch", branch, "trigger", trigger, "error", err)
		res.Error = err.Error()
		return res
	}

	h.logger.Info("repository mirror updated", "repository", repository, "branch", branch, "action", action, "commit", commit)
	res.Updated = true
	res.Action = action
	res.Commit = commit
	return res
}
