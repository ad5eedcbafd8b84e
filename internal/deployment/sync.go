package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"hookbox/pkg/fileutil"
)

// DefaultGitTimeout bounds a single sync attempt.
const DefaultGitTimeout = 120 * time.Second

// SourceSyncer brings a working tree to the tip of a remote branch and
// returns the resulting commit hash.
type SourceSyncer interface {
	Sync(ctx context.Context, dir, branch string) (string, error)
}

// GitSyncer syncs working trees in-process with go-git.
type GitSyncer struct {
	Remote string

	// HardReset discards local commits when the branch has diverged from
	// the remote. Without it divergence is an UpdateFailed error.
	HardReset bool

	Auth    transport.AuthMethod
	Retry   RetryPolicy
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewGitSyncer creates a syncer for remote. A non-empty token is sent as
// HTTP basic auth the way GitHub accepts installation and personal tokens.
func NewGitSyncer(remote string, hardReset bool, token string, retry RetryPolicy, logger *slog.Logger) *GitSyncer {
	if remote == "" {
		remote = "origin"
	}
	s := &GitSyncer{
		Remote:    remote,
		HardReset: hardReset,
		Retry:     retry,
		Timeout:   DefaultGitTimeout,
		Logger:    logger,
	}
	if token != "" {
		s.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
	}
	return s
}

// Sync fetches the remote and moves the local branch in dir to the remote
// tip, retrying transient failures.
func (s *GitSyncer) Sync(ctx context.Context, dir, branch string) (string, error) {
	var commit string
	err := s.Retry.Do(ctx, func() error {
		var err error
		commit, err = s.syncOnce(ctx, dir, branch)
		return err
	}, s.logRetry("sync", dir))
	return commit, err
}

// CloneOrUpdate clones url into dir, or syncs dir when it already holds a
// repository. It reports which of the two happened.
func (s *GitSyncer) CloneOrUpdate(ctx context.Context, url, dir, branch string) (string, string, error) {
	if fileutil.DirExists(filepath.Join(dir, ".git")) {
		commit, err := s.Sync(ctx, dir, branch)
		return "updated", commit, err
	}

	var commit string
	err := s.Retry.Do(ctx, func() error {
		var err error
		commit, err = s.cloneOnce(ctx, url, dir, branch)
		return err
	}, s.logRetry("clone", url))
	return "cloned", commit, err
}

func (s *GitSyncer) syncOnce(ctx context.Context, dir, branch string) (string, error) {
	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	repoErr := func(kind RepositoryErrorKind, err error) error {
		return &RepositoryError{Kind: kind, Branch: branch, Path: dir, Cause: err}
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", repoErr(RepoNotFound, err)
		}
		return "", repoErr(RepoUpdateFailed, fmt.Errorf("open: %w", err))
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: s.Remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", s.Remote))},
		Tags:       git.NoTags,
		Auth:       s.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", repoErr(classifyGitError(err, RepoUpdateFailed), fmt.Errorf("fetch: %w", err))
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(s.Remote, branch), true)
	if err != nil {
		return "", repoErr(RepoBranchNotFound, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", repoErr(RepoUpdateFailed, fmt.Errorf("worktree: %w", err))
	}

	localName := plumbing.NewBranchReferenceName(branch)
	localRef, err := repo.Reference(localName, true)
	if err != nil {
		err = wt.Checkout(&git.CheckoutOptions{Branch: localName, Hash: remoteRef.Hash(), Create: true, Force: true})
		if err != nil {
			return "", repoErr(RepoUpdateFailed, fmt.Errorf("checkout new branch: %w", err))
		}
		return remoteRef.Hash().String(), nil
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: localName, Force: s.HardReset}); err != nil {
		return "", repoErr(RepoUpdateFailed, fmt.Errorf("checkout: %w", err))
	}

	if !s.HardReset {
		ff, err := isAncestor(repo, localRef.Hash(), remoteRef.Hash())
		if err != nil {
			return "", repoErr(RepoUpdateFailed, fmt.Errorf("ancestor check: %w", err))
		}
		if !ff {
			return "", repoErr(RepoUpdateFailed, errors.New("local branch diverged from remote (enable hard_reset to override)"))
		}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return "", repoErr(RepoUpdateFailed, fmt.Errorf("reset: %w", err))
	}

	if s.Logger != nil {
		s.Logger.Info("working tree synced",
			"path", dir,
			"branch", branch,
			"from", shortHash(localRef.Hash().String()),
			"to", shortHash(remoteRef.Hash().String()))
	}
	return remoteRef.Hash().String(), nil
}

func (s *GitSyncer) cloneOnce(ctx context.Context, url, dir, branch string) (string, error) {
	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           url,
		RemoteName:    s.Remote,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          s.Auth,
	})
	if err != nil {
		return "", &RepositoryError{
			Kind:       classifyGitError(err, RepoCloneFailed),
			Repository: url,
			Branch:     branch,
			Path:       dir,
			Cause:      err,
		}
	}

	commit, err := headCommit(repo)
	if err != nil {
		return "", &RepositoryError{
			Kind:       RepoCloneFailed,
			Repository: url,
			Branch:     branch,
			Path:       dir,
			Cause:      err,
		}
	}
	if s.Logger != nil {
		s.Logger.Info("repository cloned", "url", url, "path", dir, "commit", shortHash(commit))
	}
	return commit, nil
}

func headCommit(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	return head.Hash().String(), nil
}

func (s *GitSyncer) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *GitSyncer) logRetry(op, target string) func(int, error) {
	return func(attempt int, err error) {
		if s.Logger != nil {
			s.Logger.Warn("retrying git operation", "operation", op, "target", target, "attempt", attempt, "error", err)
		}
	}
}

// classifyGitError maps go-git failures onto repository error kinds.
func classifyGitError(err error, fallback RepositoryErrorKind) RepositoryErrorKind {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return RepoNotFound
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return RepoPermissionDenied
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return RepoBranchNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "couldn't find remote ref"):
		return RepoBranchNotFound
	case strings.Contains(msg, "permission denied"):
		return RepoPermissionDenied
	}
	return fallback
}

// isAncestor reports whether a is reachable from b.
func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	ca, err := repo.CommitObject(a)
	if err != nil {
		return false, err
	}
	cb, err := repo.CommitObject(b)
	if err != nil {
		return false, err
	}
	return ca.IsAncestor(cb)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
