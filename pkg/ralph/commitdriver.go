package ralph

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommitDriver is the black-box commit/push contract of spec.md §6,
// implemented by invoking git with standard arguments, grounded on
// orchestrator/pkg/exec/local.go's exec.CommandContext usage.
type CommitDriver interface {
	Commit(ctx context.Context, cwd, message string) (commitRef string, err error)
	Push(ctx context.Context, cwd, branch string) (ok bool, err error)
}

// GitCommitDriver shells out to the git binary.
type GitCommitDriver struct{}

// NewGitCommitDriver constructs a GitCommitDriver.
func NewGitCommitDriver() *GitCommitDriver { return &GitCommitDriver{} }

func (d *GitCommitDriver) run(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// Commit runs `git add -A && git commit -m message` and returns the new
// commit ref.
func (d *GitCommitDriver) Commit(ctx context.Context, cwd, message string) (string, error) {
	if _, err := d.run(ctx, cwd, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := d.run(ctx, cwd, "commit", "-m", message); err != nil {
		return "", err
	}
	ref, err := d.run(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(ref), nil
}

// Push runs `git push -u origin <branch>`.
func (d *GitCommitDriver) Push(ctx context.Context, cwd, branch string) (bool, error) {
	if _, err := d.run(ctx, cwd, "push", "-u", "origin", branch); err != nil {
		return false, err
	}
	return true, nil
}
