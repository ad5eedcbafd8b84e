package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/notify"
	"hookbox/internal/webhook"
)

// NotificationResult is returned by NotificationHandler.
type NotificationResult struct {
	Notified bool   `json:"notified"`
	Event    string `json:"event,omitempty"`
	Action   string `json:"action,omitempty"`
	Number   int    `json:"number,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Commits  int    `json:"commits,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// NotificationHandler turns pull request, issue and push activity into
// messages for the notification sink.
type NotificationHandler struct {
	ImportantBranches []string
	sink              notify.Sink
	logger            *slog.Logger
}

func NewNotificationHandler(deps Dependencies) (*NotificationHandler, error) {
	return &NotificationHandler{
		ImportantBranches: deps.config().Notifications.ImportantBranches,
		sink:              deps.sink(),
		logger:            deps.logger(),
	}, nil
}

func (h *NotificationHandler) Handle(ctx context.Context, event *webhook.Event, payload map[string]any) (any, error) {
	switch event.Name() {
	case "pull_request":
		ev, err := parseEvent[github.PullRequestEvent](event)
		if err != nil {
			return nil, err
		}
		return h.pullRequest(ctx, ev)
	case "issues":
		ev, err := parseEvent[github.IssuesEvent](event)
		if err != nil {
			return nil, err
		}
		return h.issue(ctx, ev)
	case "push":
		ev, err := parseEvent[github.PushEvent](event)
		if err != nil {
			return nil, err
		}
		return h.push(ctx, ev)
	default:
		h.logger.Info("event received", "event", event.Name(), "repository", repositoryName(payload))
		return &NotificationResult{Event: event.Name()}, nil
	}
}

func (h *NotificationHandler) pullRequest(ctx context.Context, ev *github.PullRequestEvent) (*NotificationResult, error) {
	action := orUnknown(ev.GetAction())
	repository := orUnknown(ev.GetRepo().GetFullName())
	pr := ev.GetPullRequest()

	var message string
	switch action {
	case "opened":
		message = "New pull request opened in " + repository
	case "closed":
		if pr.GetMerged() {
			message = "Pull request merged in " + repository
		} else {
			message = "Pull request closed in " + repository
		}
	case "review_requested":
		message = "Review requested on a pull request in " + repository
	case "ready_for_review":
		message = "Pull request ready for review in " + repository
	default:
		message = fmt.Sprintf("Pull request %s in %s", action, repository)
	}

	err := h.send(ctx, message, map[string]any{
		"repository": repository,
		"pr_number":  pr.GetNumber(),
		"pr_title":   untitled(pr.GetTitle()),
		"author":     orUnknown(pr.GetUser().GetLogin()),
		"action":     action,
	})
	if err != nil {
		return nil, err
	}
	return &NotificationResult{Notified: true, Action: action, Number: pr.GetNumber()}, nil
}

func (h *NotificationHandler) issue(ctx context.Context, ev *github.IssuesEvent) (*NotificationResult, error) {
	action := orUnknown(ev.GetAction())
	repository := orUnknown(ev.GetRepo().GetFullName())
	issue := ev.GetIssue()

	var message string
	switch action {
	case "opened":
		message = "New issue opened in " + repository
	case "closed":
		message = "Issue closed in " + repository
	case "reopened":
		message = "Issue reopened in " + repository
	case "labeled":
		message = "Label added to an issue in " + repository
	default:
		message = fmt.Sprintf("Issue %s in %s", action, repository)
	}

	err := h.send(ctx, message, map[string]any{
		"repository":   repository,
		"issue_number": issue.GetNumber(),
		"issue_title":  untitled(issue.GetTitle()),
		"author":       orUnknown(issue.GetUser().GetLogin()),
		"action":       action,
	})
	if err != nil {
		return nil, err
	}
	return &NotificationResult{Notified: true, Action: action, Number: issue.GetNumber()}, nil
}

func (h *NotificationHandler) push(ctx context.Context, ev *github.PushEvent) (*NotificationResult, error) {
	branch := BranchFromRef(ev.GetRef())
	if !contains(h.ImportantBranches, branch) {
		return &NotificationResult{Reason: "branch not important", Branch: branch}, nil
	}

	repository := orUnknown(ev.GetRepo().GetFullName())
	count := len(ev.Commits)
	lastCommit := "unknown"
	if count > 0 {
		lastCommit = ev.Commits[count-1].GetMessage()
	}

	err := h.send(ctx, fmt.Sprintf("%d commit(s) pushed to %s in %s", count, branch, repository), map[string]any{
		"repository":  repository,
		"branch":      branch,
		"commits":     count,
		"pusher":      orUnknown(ev.GetPusher().GetName()),
		"last_commit": lastCommit,
	})
	if err != nil {
		return nil, err
	}
	return &NotificationResult{Notified: true, Branch: branch, Commits: count}, nil
}

func (h *NotificationHandler) send(ctx context.Context, message string, metadata map[string]any) error {
	if err := h.sink.Notify(ctx, message, metadata); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func untitled(title string) string {
	if title == "" {
		return "untitled"
	}
	return title
}
