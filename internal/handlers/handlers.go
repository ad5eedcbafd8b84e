// Package handlers contains the built-in webhook handlers and the factory
// table that maps configured handler identifiers onto them.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/go-github/v57/github"

	"hookbox/internal/config"
	"hookbox/internal/deployment"
	"hookbox/internal/dispatch"
	"hookbox/internal/notify"
	"hookbox/internal/webhook"
)

// Handler identifiers accepted in the handlers section of the config.
const (
	IDPush              = "push"
	IDPullRequest       = "pull_request"
	IDIssues            = "issues"
	IDRepositoryUpdate  = "repository_update"
	IDNotification      = "notification"
	IDReleaseDeployment = "release_deployment"
	IDLog               = "log"
)

// Mirror keeps a local clone of a remote repository up to date.
type Mirror interface {
	CloneOrUpdate(ctx context.Context, url, dir, branch string) (action, commit string, err error)
}

// Dependencies are the collaborators injected into handlers at construction.
type Dependencies struct {
	Config   *config.Config
	Deployer deployment.Deployer
	Mirror   Mirror
	Sink     notify.Sink
	Logger   *slog.Logger
}

func (d Dependencies) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Dependencies) config() *config.Config {
	if d.Config == nil {
		return config.Default()
	}
	return d.Config
}

func (d Dependencies) sink() notify.Sink {
	if d.Sink == nil {
		return notify.LogSink{Logger: d.logger()}
	}
	return d.Sink
}

// Factories returns the constructor table for every built-in handler.
func Factories(deps Dependencies) dispatch.Factories {
	return dispatch.Factories{
		IDPush:              factory(NewPushHandler, deps),
		IDPullRequest:       factory(NewPullRequestHandler, deps),
		IDIssues:            factory(NewIssuesHandler, deps),
		IDRepositoryUpdate:  factory(NewRepositoryUpdateHandler, deps),
		IDNotification:      factory(NewNotificationHandler, deps),
		IDReleaseDeployment: factory(NewReleaseDeploymentHandler, deps),
		IDLog:               factory(NewLogHandler, deps),
	}
}

func factory[H dispatch.Handler](build func(Dependencies) (H, error), deps Dependencies) dispatch.Factory {
	return func() (dispatch.Handler, error) {
		h, err := build(deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

var errNoDeployer = errors.New("no deployer configured")

// parseEvent decodes the raw body into the go-github type for the event.
// An empty body decodes as an empty object.
func parseEvent[T any](event *webhook.Event) (*T, error) {
	body := event.RawBody()
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	parsed, err := github.ParseWebHook(event.Name(), body)
	if err != nil {
		return nil, fmt.Errorf("parse %s event: %w", event.Name(), err)
	}
	typed, ok := parsed.(*T)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for %s event", parsed, event.Name())
	}
	return typed, nil
}

// BranchFromRef strips the refs/heads/ prefix. Other refs are returned as is.
func BranchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func contains(list []string, s string) bool {
	return slices.Contains(list, s)
}

// repositoryName reads repository.full_name from a decoded payload.
func repositoryName(payload map[string]any) string {
	repo, _ := payload["repository"].(map[string]any)
	name, _ := repo["full_name"].(string)
	return orUnknown(name)
}
