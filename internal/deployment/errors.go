package deployment

import (
	"errors"
	"fmt"

	"hookbox/internal/config"
)

// ErrDeploymentInProgress is returned when another deployment holds the
// lease for the same repository and branch.
var ErrDeploymentInProgress = errors.New("deployment already in progress")

// Kind classifies a failed deployment.
type Kind string

const (
	KindBuildFailed       Kind = "build_failed"
	KindTestsFailed       Kind = "tests_failed"
	KindDeployFailed      Kind = "deploy_failed"
	KindRollbackFailed    Kind = "rollback_failed"
	KindHealthCheckFailed Kind = "health_check_failed"
)

// KindForCategory maps a custom step category to the error kind reported
// when the step is required and fails. Uncategorised steps are deploy
// failures.
func KindForCategory(category string) Kind {
	switch category {
	case config.CategoryBuild:
		return KindBuildFailed
	case config.CategoryTests:
		return KindTestsFailed
	case config.CategoryHealthCheck:
		return KindHealthCheckFailed
	default:
		return KindDeployFailed
	}
}

// Error is a fatal deployment failure. It carries enough context to be
// logged without the Result it came with.
type Error struct {
	Kind         Kind
	Repository   string
	Branch       string
	Environment  string
	DeploymentID string
	Step         string
	StepOutput   string
	Cause        error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindBuildFailed:
		msg = fmt.Sprintf("build failed for %s (%s) in %s", e.Repository, e.Branch, e.Environment)
	case KindTestsFailed:
		msg = fmt.Sprintf("tests failed for %s (%s) in %s", e.Repository, e.Branch, e.Environment)
	case KindRollbackFailed:
		msg = fmt.Sprintf("rollback failed for %s (%s) in %s", e.Repository, e.Branch, e.Environment)
	case KindHealthCheckFailed:
		msg = fmt.Sprintf("health check failed for %s (%s) in %s", e.Repository, e.Branch, e.Environment)
	default:
		msg = fmt.Sprintf("deployment failed for %s (%s) to %s", e.Repository, e.Branch, e.Environment)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(" at step %s", e.Step)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// RepositoryErrorKind classifies source sync failures.
type RepositoryErrorKind string

const (
	RepoNotFound         RepositoryErrorKind = "not_found"
	RepoCloneFailed      RepositoryErrorKind = "clone_failed"
	RepoUpdateFailed     RepositoryErrorKind = "update_failed"
	RepoPermissionDenied RepositoryErrorKind = "permission_denied"
	RepoBranchNotFound   RepositoryErrorKind = "branch_not_found"
)

// RepositoryError reports a failed clone, fetch or checkout.
type RepositoryError struct {
	Kind       RepositoryErrorKind
	Repository string
	Branch     string
	Path       string
	Cause      error
}

func (e *RepositoryError) Error() string {
	subject := e.Repository
	if subject == "" {
		subject = e.Path
	}
	var msg string
	switch e.Kind {
	case RepoNotFound:
		msg = fmt.Sprintf("repository not found: %s", subject)
	case RepoCloneFailed:
		msg = fmt.Sprintf("failed to clone repository %s into %s", subject, e.Path)
	case RepoPermissionDenied:
		msg = fmt.Sprintf("permission denied for repository %s", subject)
	case RepoBranchNotFound:
		msg = fmt.Sprintf("branch %q not found in repository %s", e.Branch, subject)
	default:
		msg = fmt.Sprintf("failed to update repository %s (branch %s)", subject, e.Branch)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RepositoryError) Unwrap() error { return e.Cause }

// Permanent reports whether retrying cannot help.
func (e *RepositoryError) Permanent() bool {
	switch e.Kind {
	case RepoNotFound, RepoPermissionDenied, RepoBranchNotFound:
		return true
	}
	return false
}
