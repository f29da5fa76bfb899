package patch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/retry"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// strategy is one rung of the apply ladder.
type strategy struct {
	name string
	args []string
}

// The ladder runs strictest-first. Each rung feeds the patch on stdin.
var strategies = []strategy{
	{"git apply", []string{"git", "apply", "--whitespace=fix", "--ignore-whitespace"}},
	{"git apply --reject", []string{"git", "apply", "--whitespace=fix", "--ignore-whitespace", "--reject"}},
	{"git apply --3way", []string{"git", "apply", "--3way", "--whitespace=fix"}},
	{"patch --fuzz=5", []string{"patch", "--batch", "--fuzz=5", "-p1"}},
}

// Applier runs the full patch pipeline against a workspace.
type Applier interface {
	// Apply cleans, validates, and applies raw diff text in dir. It returns
	// the name of the strategy that succeeded.
	Apply(ctx context.Context, dir, raw string, logw io.Writer) (string, error)
}

type applier struct {
	runner sfcli.Runner
}

// NewApplier returns the standard pipeline applier.
func NewApplier(runner sfcli.Runner) Applier {
	return &applier{runner: runner}
}

func (a *applier) Apply(ctx context.Context, dir, raw string, logw io.Writer) (string, error) {
	prepared, err := Prepare(raw)
	if err != nil {
		return "", err
	}

	policy := retry.Policy{
		MaxAttempts:  config.Get().MaxRetries(),
		InitialDelay: 1 * time.Second,
		Factor:       2,
	}

	var winner string
	err = retry.Do(ctx, policy, types.ModelAttributable, func(attempt int) error {
		if attempt > 1 {
			color.Yellow("Retrying patch application (attempt %d)", attempt)
		}
		name, err := a.runLadder(ctx, dir, prepared, logw)
		winner = name
		return err
	})
	if err != nil {
		return "", err
	}
	return winner, nil
}

func (a *applier) runLadder(ctx context.Context, dir, prepared string, logw io.Writer) (string, error) {
	timeout := time.Duration(config.Get().TimeoutPatch()) * time.Second

	// Non-mutating probe. A failure here is informational; several patches
	// that fail --check still land through the later rungs.
	probe, err := a.runner.Run(ctx, sfcli.Options{
		Args:      []string{"git", "apply", "--check"},
		Dir:       dir,
		Stdin:     prepared,
		Timeout:   timeout,
		LogWriter: logw,
	})
	if err == nil && probe.ExitCode != 0 {
		color.Blue("git apply --check failed, proceeding through the strategy ladder")
	}

	timeouts := 0
	for _, s := range strategies {
		res, err := a.runner.Run(ctx, sfcli.Options{
			Args:      s.args,
			Dir:       dir,
			Stdin:     prepared,
			Timeout:   timeout,
			LogWriter: logw,
		})
		if err != nil {
			if types.IsTimeout(err) {
				timeouts++
				continue
			}
			return "", fmt.Errorf("running %s: %w", s.name, err)
		}
		if res.ExitCode == 0 {
			return s.name, nil
		}
	}

	// Every rung timing out points at the patch itself (pathological input
	// looping the tools); a partial timeout is tool trouble.
	if timeouts > 0 && timeouts < len(strategies) {
		return "", types.NewToolError(types.FailureTimeout,
			fmt.Sprintf("%d of %d patch strategies timed out", timeouts, len(strategies)), -1, "")
	}
	return "", types.NewToolError(types.FailurePatchApplication,
		"patch could not be applied by any strategy", 1, "")
}
