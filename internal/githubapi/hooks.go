package githubapi

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// DefaultHookEvents are the events the built-in handlers understand.
var DefaultHookEvents = []string{"push", "pull_request", "issues", "release"}

// HookSpec describes the repository webhook pointing at hookbox.
type HookSpec struct {
	URL    string
	Secret string
	Events []string
}

// EnsureHook creates the repository webhook unless one with the same URL
// already exists. It reports whether a hook was created and its id.
func EnsureHook(ctx context.Context, client *github.Client, repository string, spec HookSpec) (bool, int64, error) {
	owner, repo, err := SplitRepository(repository)
	if err != nil {
		return false, 0, err
	}
	if spec.URL == "" {
		return false, 0, fmt.Errorf("webhook url is required")
	}

	hooks, _, err := client.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return false, 0, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.Config != nil {
			if url, ok := hook.Config["url"].(string); ok && url == spec.URL {
				return false, hook.GetID(), nil
			}
		}
	}

	events := spec.Events
	if len(events) == 0 {
		events = DefaultHookEvents
	}

	hookConfig := map[string]interface{}{
		"url":          spec.URL,
		"content_type": "json",
		"insecure_ssl": "0",
	}
	if spec.Secret != "" {
		hookConfig["secret"] = spec.Secret
	}

	active := true
	created, _, err := client.Repositories.CreateHook(ctx, owner, repo, &github.Hook{
		Events: events,
		Active: &active,
		Config: hookConfig,
	})
	if err != nil {
		return false, 0, fmt.Errorf("creating webhook: %w", err)
	}
	return true, created.GetID(), nil
}
