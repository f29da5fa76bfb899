// Package workspace prepares per-task git checkouts. Each task gets an
// isolated directory containing the target repo at its pinned base commit;
// nothing is shared between tasks.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/retry"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// Manager creates and tears down task workspaces.
type Manager interface {
	// Prepare clones the repo into a fresh directory under the workspace
	// root and checks out the base commit. Transient git failures are
	// retried with backoff.
	Prepare(ctx context.Context, taskID, repoURL, baseCommit string) (string, error)

	// Cleanup removes a workspace directory. Best effort; failures are
	// logged, never fatal.
	Cleanup(dir string)

	// HeadCommit returns the current HEAD of a prepared workspace.
	HeadCommit(ctx context.Context, dir string) (string, error)
}

type manager struct {
	root   string
	runner sfcli.Runner
}

// New returns a workspace manager rooted at dir, creating it if needed.
func New(root string, runner sfcli.Runner) (Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &manager{root: root, runner: runner}, nil
}

func (m *manager) Prepare(ctx context.Context, taskID, repoURL, baseCommit string) (string, error) {
	dir := filepath.Join(m.root, taskID)

	// A stale directory from an interrupted run is unusable; start clean.
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to clear stale workspace %s: %w", dir, err)
		}
	}

	gitTimeout := time.Duration(config.Get().TimeoutGit()) * time.Second
	policy := retry.Policy{
		MaxAttempts:  config.Get().MaxRetries(),
		InitialDelay: time.Duration(config.Get().InitialDelay() * float64(time.Second)),
		Factor:       2,
	}

	err := retry.Do(ctx, policy, isPermanentGitError, func(attempt int) error {
		if attempt > 1 {
			color.Yellow("Retrying clone of %s (attempt %d)", repoURL, attempt)
			os.RemoveAll(dir)
		}
		_, err := m.runner.RunChecked(ctx, types.FailureGit, sfcli.Options{
			Args:    []string{"git", "clone", repoURL, dir},
			Timeout: gitTimeout,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	err = retry.Do(ctx, policy, isPermanentGitError, func(attempt int) error {
		if attempt > 1 {
			color.Yellow("Retrying checkout of %s (attempt %d)", baseCommit, attempt)
		}
		_, err := m.runner.RunChecked(ctx, types.FailureGit, sfcli.Options{
			Args:    []string{"git", "checkout", baseCommit},
			Dir:     dir,
			Timeout: gitTimeout,
		})
		return err
	})
	if err != nil {
		m.Cleanup(dir)
		return "", fmt.Errorf("checking out %s: %w", baseCommit, err)
	}

	return dir, nil
}

func (m *manager) Cleanup(dir string) {
	if dir == "" || dir == "/" {
		return
	}
	// Never remove anything outside our root.
	if rel, err := filepath.Rel(m.root, dir); err != nil || strings.HasPrefix(rel, "..") {
		color.Yellow("Warning: refusing to clean up %s outside workspace root", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		color.Yellow("Warning: failed to clean up workspace %s: %v", dir, err)
	}
}

func (m *manager) HeadCommit(ctx context.Context, dir string) (string, error) {
	res, err := m.runner.RunChecked(ctx, types.FailureGit, sfcli.Options{
		Args:    []string{"git", "rev-parse", "HEAD"},
		Dir:     dir,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// isPermanentGitError distinguishes failures that no retry will fix:
// missing repos, auth rejections, and unknown commits.
func isPermanentGitError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"repository not found",
		"authentication failed",
		"could not read from remote repository",
		"pathspec",
		"unknown revision",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
