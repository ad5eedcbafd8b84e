package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLinkExists is returned by LinkDir when the link path is already taken.
var ErrLinkExists = errors.New("link already exists")

// LinkDir creates linkPath pointing at the existing directory targetPath.
// Unlike a forced replace it never removes what is already at linkPath:
// an existing entry yields ErrLinkExists.
func LinkDir(linkPath, targetPath string) error {
	if !DirExists(targetPath) {
		return fmt.Errorf("link target is not a directory: %s", targetPath)
	}

	if _, err := os.Lstat(linkPath); err == nil {
		return fmt.Errorf("%w: %s", ErrLinkExists, linkPath)
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return fmt.Errorf("failed to create link parent: %w", err)
	}

	if err := os.Symlink(targetPath, linkPath); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}

	return nil
}

// IsSymlink checks if a path is a symlink.
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// ValidateSymlink checks if a symlink exists and points to an existing target.
func ValidateSymlink(path string) error {
	if !IsSymlink(path) {
		return fmt.Errorf("path is not a symlink: %s", path)
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("symlink is broken: %w", err)
	}

	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("symlink target does not exist: %s", target)
	}

	return nil
}
