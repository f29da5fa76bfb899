package runner

import (
	"context"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/tasklogs"
	"github.com/sfbench/sfbench/internal/types"
)

// lwcRunner evaluates LWC tasks. Setup is clone plus npm install; the org
// is provisioned only when the task carries a functional recipe that needs
// one.
type lwcRunner struct {
	Base
}

func newLWCRunner(task *types.Task, diff string, deps Deps) Runner {
	return &lwcRunner{Base: NewBase(task, diff, deps)}
}

func (r *lwcRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}

	r.Logf("installing npm dependencies")
	_, err := r.D.Runner.RunChecked(ctx, types.FailureCommand, sfcli.Options{
		Args:      []string{"npm", "install", "--no-audit", "--no-fund"},
		Dir:       r.Dir,
		Timeout:   r.setupTimeout(),
		LogWriter: r.phaseLog(tasklogs.RunInstance),
	})
	if err != nil {
		return err
	}

	if r.needsOrg() {
		return r.SetupOrg(ctx)
	}
	return nil
}

func (r *lwcRunner) needsOrg() bool {
	return r.Spec.Functional != nil && r.Spec.Functional.ControllerTestScript != ""
}

func (r *lwcRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}

	res, err := r.RunValidation(ctx)
	if err != nil {
		return types.StatusError, err
	}
	// Jest-style runs have no JSON status field; the exit code decides.
	breakdown.UnitTestsPass = res.Succeeded()
	r.SetDetail("exit_code", res.ExitCode)

	if r.needsOrg() {
		if _, err := r.Deploy(ctx); err != nil {
			return types.StatusFail, err
		}
		breakdown.DeploymentSuccess = true

		v := r.newValidator()
		v.ValidateLWC(ctx, r.Spec.Functional, &breakdown)
		r.SetDetail("functional_steps", v.Steps)
	} else {
		breakdown.DeploymentSuccess = breakdown.UnitTestsPass
		breakdown.FunctionalOutcome = breakdown.UnitTestsPass
	}

	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if breakdown.UnitTestsPass && (!r.needsOrg() || breakdown.FunctionalOutcome) {
		return types.StatusPass, nil
	}
	return types.StatusFail, nil
}
