package runner

import (
	"context"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/types"
)

// deployRunner evaluates DEPLOY tasks (and the profile and permission-set
// metadata types, which reduce to a deployment check).
type deployRunner struct {
	Base
}

func newDeployRunner(task *types.Task, diff string, deps Deps) Runner {
	return &deployRunner{Base: NewBase(task, diff, deps)}
}

func (r *deployRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}
	return r.SetupOrg(ctx)
}

func (r *deployRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}

	inner, err := r.Deploy(ctx)
	if err != nil {
		return types.StatusFail, err
	}
	breakdown.DeploymentSuccess = true
	breakdown.UnitTestsPass = true

	// Inspect the deploy payload beyond the status field.
	success := true
	if s, ok := inner["success"].(bool); ok {
		success = s
	}
	if n, ok := inner["numberComponentsDeployed"].(float64); ok {
		r.SetDetail("components_deployed", int(n))
		if n == 0 {
			success = false
		}
	}
	breakdown.FunctionalOutcome = success

	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if !success {
		return types.StatusFail, nil
	}
	return types.StatusPass, nil
}
