// Package gitinfo reads the git metadata recorded on project rows: the
// repository root, current branch, origin URL and HEAD commit.
//
// Detection walks up from the project path looking for a .git directory
// or worktree file. The git binary is only used for the ref lookups, and
// every lookup is best effort: a missing binary or an empty repository
// yields empty fields, not an error.
package gitinfo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotInRepo is returned when no repository encloses the path.
var ErrNotInRepo = errors.New("not in a git repository")

// Info is the git metadata of a project.
type Info struct {
	RepoRoot   string `json:"repo_root"`
	GitDir     string `json:"git_dir"`
	IsWorktree bool   `json:"is_worktree,omitempty"`
	Branch     string `json:"branch,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
	Commit     string `json:"commit,omitempty"`
}

// commandTimeout bounds each git invocation.
const commandTimeout = 5 * time.Second

// Detect finds the repository enclosing path and reads its refs.
func Detect(ctx context.Context, path string) (*Info, error) {
	info, err := findRepo(path)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("git"); err != nil {
		return info, nil
	}

	info.Branch = gitOutput(ctx, info.RepoRoot, "symbolic-ref", "--short", "HEAD")
	info.RemoteURL = gitOutput(ctx, info.RepoRoot, "config", "--get", "remote.origin.url")
	info.Commit = gitOutput(ctx, info.RepoRoot, "rev-parse", "--verify", "--quiet", "HEAD")
	return info, nil
}

// findRepo walks up from path to the first directory holding .git.
func findRepo(path string) (*Info, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for {
		gitPath := filepath.Join(current, ".git")
		if fi, err := os.Stat(gitPath); err == nil {
			switch {
			case fi.IsDir():
				return &Info{RepoRoot: current, GitDir: gitPath}, nil
			case fi.Mode().IsRegular():
				return &Info{RepoRoot: current, GitDir: worktreeGitDir(current, gitPath), IsWorktree: true}, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInRepo
		}
		current = parent
	}
}

// worktreeGitDir resolves the "gitdir: <path>" line of a worktree's .git
// file.
func worktreeGitDir(worktree, gitFile string) string {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return gitFile
	}
	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return gitFile
	}
	dir := strings.TrimPrefix(line, "gitdir: ")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(worktree, dir)
	}
	return filepath.Clean(dir)
}

// gitOutput runs a git command in dir and returns its trimmed stdout, or
// "" on failure.
func gitOutput(ctx context.Context, dir string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
