package notify

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/githubapi"
)

// GitHubStatusSink sets a commit status for notifications that carry a
// repository, commit and state. Other notifications are ignored.
type GitHubStatusSink struct {
	Client    *github.Client
	Context   string
	TargetURL string
}

// NewGitHubStatusSink authenticates with a static token. baseURL is only
// needed for GitHub Enterprise.
func NewGitHubStatusSink(token, statusContext, targetURL, baseURL string) (*GitHubStatusSink, error) {
	client, err := githubapi.NewClient(token, baseURL)
	if err != nil {
		return nil, err
	}

	if statusContext == "" {
		statusContext = "hookbox/deploy"
	}
	return &GitHubStatusSink{Client: client, Context: statusContext, TargetURL: targetURL}, nil
}

func (s *GitHubStatusSink) Notify(ctx context.Context, message string, metadata map[string]any) error {
	repository := stringField(metadata, "repository")
	commit := stringField(metadata, "commit")
	state := stringField(metadata, "state")
	if repository == "" || commit == "" || state == "" {
		return nil
	}

	owner, name, err := githubapi.SplitRepository(repository)
	if err != nil {
		return err
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Context:     github.String(s.Context),
		Description: github.String(truncate(message, 140)),
	}
	if target := stringField(metadata, "target_url"); target != "" {
		status.TargetURL = github.String(target)
	} else if s.TargetURL != "" {
		status.TargetURL = github.String(s.TargetURL)
	}

	if _, _, err := s.Client.Repositories.CreateStatus(ctx, owner, name, commit, status); err != nil {
		return fmt.Errorf("create commit status for %s@%s: %w", repository, commit, err)
	}
	return nil
}

// truncate shortens s to at most n runes; GitHub rejects longer descriptions.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
