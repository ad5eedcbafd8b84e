package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	cloneURLPattern   = regexp.MustCompile(`^https://github\.com/[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+(?:\.git)?$`)
	branchPattern     = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	repositoryPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)
	commitHashPattern = regexp.MustCompile(`^(?:[0-9a-f]{40}|[0-9a-f]{64})$`)
)

// IsCommitHash reports whether ref is a full SHA-1 or SHA-256 object name
// rather than a branch.
func IsCommitHash(ref string) bool {
	return commitHashPattern.MatchString(ref)
}

// ValidateCloneURL accepts only HTTPS GitHub repository URLs. Clone URLs
// come from delivery payloads and are handed to git.
func ValidateCloneURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" || u.Host != "github.com" {
		return fmt.Errorf("only GitHub HTTPS URLs allowed, got %s://%s", u.Scheme, u.Host)
	}
	if !cloneURLPattern.MatchString(rawURL) || strings.Contains(u.Path, "..") {
		return fmt.Errorf("URL contains invalid characters or format")
	}
	return nil
}

// ValidateBranchName ensures a branch name is safe to hand to git and to use
// in lock keys and log lines.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateRepositoryName checks an "owner/name" repository identifier as it
// appears in the repository.full_name field of a delivery.
func ValidateRepositoryName(fullName string) error {
	if fullName == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if !repositoryPattern.MatchString(fullName) {
		return fmt.Errorf("repository name must look like owner/name, got %q", fullName)
	}
	for _, part := range strings.Split(fullName, "/") {
		if part == "." || part == ".." || strings.HasPrefix(part, "-") {
			return fmt.Errorf("repository name contains an unsafe segment %q", part)
		}
	}
	return nil
}

// MirrorDirName maps a validated "owner/name" identifier onto a single path
// segment for the local mirror directory.
func MirrorDirName(fullName string) (string, error) {
	if err := ValidateRepositoryName(fullName); err != nil {
		return "", err
	}
	return strings.Replace(fullName, "/", "_", 1), nil
}
