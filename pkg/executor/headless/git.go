package headless

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/entrhq/evocode/pkg/config"
)

// DirtyTreeCommitMessage is used when uncommitted changes are saved before
// the first cycle.
const DirtyTreeCommitMessage = "chore: save uncommitted changes before EvoCode run"

// ErrDirtyWorkspace is returned by Preflight when the tree has uncommitted
// changes and auto-committing them is disabled.
var ErrDirtyWorkspace = errors.New("workspace has uncommitted changes; commit or stash them, or set git.auto_commit_dirty")

// gitExcludes are EvoCode's own files. They are never staged, reported as
// changes or removed by a rollback.
var gitExcludes = []string{".evocode", ".evocode.lock"}

const gitTimeout = 30 * time.Second

// GitManager runs the git operations that bracket each cycle: a checkpoint
// before, a commit on success and a hard reset on failure.
type GitManager struct {
	workspaceDir string
	config       config.GitConfig
}

// NewGitManager creates a git manager for the repository at workspaceDir.
func NewGitManager(workspaceDir string, cfg config.GitConfig) *GitManager {
	return &GitManager{
		workspaceDir: workspaceDir,
		config:       cfg,
	}
}

// IsRepository reports whether the workspace is inside a git work tree.
func (g *GitManager) IsRepository(ctx context.Context) bool {
	out, err := g.execGit(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// ChangedFiles lists modified, staged and untracked paths, excluding
// EvoCode's own state.
func (g *GitManager) ChangedFiles(ctx context.Context) ([]string, error) {
	args := append([]string{"status", "--porcelain", "--untracked-files=all", "--", "."}, excludePathspecs()...)
	output, err := g.execGit(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}

	var files []string
	for _, line := range strings.Split(output, "\n") {
		// "XY path" or "XY old -> new"
		if len(line) <= 3 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files, nil
}

// IsDirty reports whether ChangedFiles is non-empty.
func (g *GitManager) IsDirty(ctx context.Context) (bool, error) {
	files, err := g.ChangedFiles(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// Preflight prepares the tree for the first cycle: a dirty tree is
// committed when auto_commit_dirty is set and refused otherwise.
func (g *GitManager) Preflight(ctx context.Context) (committed bool, err error) {
	dirty, err := g.IsDirty(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	if !g.config.AutoCommitDirty {
		return false, ErrDirtyWorkspace
	}
	if _, err := g.Commit(ctx, DirtyTreeCommitMessage); err != nil {
		return false, fmt.Errorf("failed to save uncommitted changes: %w", err)
	}
	return true, nil
}

// Head returns the current commit hash.
func (g *GitManager) Head(ctx context.Context) (string, error) {
	output, err := g.execGit(ctx, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD (the repository needs at least one commit): %w", err)
	}
	return strings.TrimSpace(output), nil
}

// Commit stages every change except EvoCode's own files and commits with
// the configured author. It returns the new HEAD.
func (g *GitManager) Commit(ctx context.Context, message string) (string, error) {
	args := append([]string{"add", "-A", "--", "."}, excludePathspecs()...)
	if _, err := g.execGit(ctx, args...); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	args = []string{"commit", "-m", message}
	if g.config.AuthorName != "" && g.config.AuthorEmail != "" {
		// Set the committer too, so commits work where no identity is configured.
		args = append([]string{
			"-c", "user.name=" + g.config.AuthorName,
			"-c", "user.email=" + g.config.AuthorEmail,
		}, args...)
		args = append(args, "--author", fmt.Sprintf("%s <%s>", g.config.AuthorName, g.config.AuthorEmail))
	}
	if _, err := g.execGit(ctx, args...); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return g.Head(ctx)
}

// Rollback resets the tree to checkpoint and removes untracked files.
func (g *GitManager) Rollback(ctx context.Context, checkpoint string) error {
	if checkpoint == "" {
		checkpoint = "HEAD"
	}
	if _, err := g.execGit(ctx, "reset", "--hard", checkpoint); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", checkpoint, err)
	}

	args := []string{"clean", "-fd"}
	for _, e := range gitExcludes {
		args = append(args, "-e", e)
	}
	if _, err := g.execGit(ctx, args...); err != nil {
		return fmt.Errorf("failed to clean untracked files: %w", err)
	}
	return nil
}

func excludePathspecs() []string {
	specs := make([]string, 0, len(gitExcludes))
	for _, e := range gitExcludes {
		specs = append(specs, ":(exclude)"+e)
	}
	return specs
}

// execGit executes a git command and returns its output
func (g *GitManager) execGit(ctx context.Context, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "git", args...)
	cmd.Dir = g.workspaceDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
