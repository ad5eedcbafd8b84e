package handlers

import (
	"context"
	"log/slog"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/webhook"
)

// IssuesResult is returned by IssuesHandler.
type IssuesResult struct {
	Processed  bool   `json:"processed"`
	Action     string `json:"action"`
	Repository string `json:"repository"`
	Number     int    `json:"issue_number"`
}

// IssuesHandler logs and summarises issue activity.
type IssuesHandler struct {
	logger *slog.Logger
}

func NewIssuesHandler(deps Dependencies) (*IssuesHandler, error) {
	return &IssuesHandler{logger: deps.logger()}, nil
}

func (h *IssuesHandler) Handle(_ context.Context, event *webhook.Event, _ map[string]any) (any, error) {
	if event.Name() != "issues" {
		return nil, nil
	}
	ev, err := parseEvent[github.IssuesEvent](event)
	if err != nil {
		return nil, err
	}

	issue := ev.GetIssue()
	res := &IssuesResult{
		Processed:  true,
		Action:     orUnknown(ev.GetAction()),
		Repository: orUnknown(ev.GetRepo().GetFullName()),
		Number:     issue.GetNumber(),
	}

	h.logger.Info("issue event received",
		"action", res.Action,
		"repository", res.Repository,
		"issue_number", res.Number,
		"issue_title", issue.GetTitle(),
		"author", orUnknown(issue.GetUser().GetLogin()))

	return res, nil
}
