package runner

import (
	"context"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// apexRunner evaluates APEX tasks: deploy, run apex tests, then the
// functional validation flow.
type apexRunner struct {
	Base
}

func newApexRunner(task *types.Task, diff string, deps Deps) Runner {
	return &apexRunner{Base: NewBase(task, diff, deps)}
}

func (r *apexRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}
	return r.SetupOrg(ctx)
}

func (r *apexRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}

	if _, err := r.Deploy(ctx); err != nil {
		return types.StatusFail, err
	}
	breakdown.DeploymentSuccess = true

	res, err := r.RunValidation(ctx)
	if err != nil {
		return types.StatusError, err
	}
	summary := apexTestSummary(res)
	for k, v := range summary {
		r.SetDetail(k, v)
	}
	passed := res.Succeeded()
	if outcome, ok := summary["outcome"].(string); ok {
		passed = outcome == "Passed"
	}
	if failing, ok := summary["failing"].(float64); ok && failing > 0 {
		passed = false
	}
	breakdown.UnitTestsPass = passed

	if r.Spec.Functional != nil {
		v := r.newValidator()
		v.ValidateApex(ctx, r.Spec.Functional, &breakdown)
		r.SetDetail("functional_steps", v.Steps)
	} else {
		// No functional recipe: the unit-test verdict carries the outcome.
		breakdown.FunctionalOutcome = passed
	}

	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if !passed {
		return types.StatusFail, nil
	}
	if r.Spec.Functional != nil && !breakdown.FunctionalOutcome {
		return types.StatusFail, nil
	}
	return types.StatusPass, nil
}

// apexTestSummary extracts the test summary block from an apex test run's
// JSON output.
func apexTestSummary(res *sfcli.Result) map[string]interface{} {
	inner, err := res.JSONResult()
	if err != nil {
		return nil
	}
	summary, ok := inner["summary"].(map[string]interface{})
	if !ok {
		return nil
	}
	out := map[string]interface{}{}
	for _, k := range []string{"outcome", "testsRan", "passing", "failing"} {
		if v, ok := summary[k]; ok {
			key := k
			if k == "testsRan" {
				key = "tests_run"
			}
			out[key] = v
		}
	}
	return out
}
