package deployment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"

	"hookbox/pkg/fileutil"
)

// MirrorInfo describes one local repository mirror.
type MirrorInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Branch  string `json:"branch"`
	Commit  string `json:"commit"`
	Subject string `json:"subject"`
	Changes int    `json:"changes"`
	Error   string `json:"error,omitempty"`
}

// Clean reports whether the mirror has no local modifications.
func (m MirrorInfo) Clean() bool {
	return m.Error == "" && m.Changes == 0
}

// ListMirrors inspects the git repositories directly under root. root
// itself is listed when it is a repository. A missing root yields no
// mirrors; directories that are not repositories are skipped.
func ListMirrors(root string) ([]MirrorInfo, error) {
	if !fileutil.DirExists(root) {
		return nil, nil
	}

	if info, ok := inspectMirror(root); ok {
		return []MirrorInfo{info}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var mirrors []MirrorInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if info, ok := inspectMirror(filepath.Join(root, entry.Name())); ok {
			mirrors = append(mirrors, info)
		}
	}
	sort.Slice(mirrors, func(i, j int) bool { return mirrors[i].Name < mirrors[j].Name })
	return mirrors, nil
}

// inspectMirror returns false when dir is not a git repository. Other
// failures are reported on the returned info.
func inspectMirror(dir string) (MirrorInfo, bool) {
	info := MirrorInfo{Name: filepath.Base(dir), Path: dir, Branch: "unknown", Commit: "unknown"}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return info, false
		}
		info.Error = err.Error()
		return info, true
	}

	head, err := repo.Head()
	if err != nil {
		info.Error = fmt.Sprintf("head: %v", err)
		return info, true
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	} else {
		info.Branch = "detached"
	}
	info.Commit = head.Hash().String()

	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		info.Subject, _, _ = strings.Cut(strings.TrimSpace(commit.Message), "\n")
	}

	wt, err := repo.Worktree()
	if err != nil {
		info.Error = fmt.Sprintf("worktree: %v", err)
		return info, true
	}
	status, err := wt.Status()
	if err != nil {
		info.Error = fmt.Sprintf("status: %v", err)
		return info, true
	}
	for _, s := range status {
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			info.Changes++
		}
	}
	return info, true
}
