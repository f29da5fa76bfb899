package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/tasklogs"
	"github.com/sfbench/sfbench/internal/types"
)

// flowRunner evaluates FLOW tasks: the deployed flow must exist in the org
// as an Active version under its developer name.
type flowRunner struct {
	Base
}

func newFlowRunner(task *types.Task, diff string, deps Deps) Runner {
	return &flowRunner{Base: NewBase(task, diff, deps)}
}

func (r *flowRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}
	return r.SetupOrg(ctx)
}

func (r *flowRunner) flowName() string {
	if r.Spec.Functional != nil && r.Spec.Functional.FlowName != "" {
		return r.Spec.Functional.FlowName
	}
	return r.Spec.Metadata["flow_name"]
}

func (r *flowRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}

	if _, err := r.Deploy(ctx); err != nil {
		return types.StatusFail, err
	}
	breakdown.DeploymentSuccess = true
	breakdown.UnitTestsPass = true

	name := r.flowName()
	if name == "" {
		return types.StatusError, fmt.Errorf("flow task %s names no flow", r.Spec.InstanceID)
	}

	active, err := r.flowIsActive(ctx, name)
	if err != nil {
		return types.StatusError, err
	}
	r.SetDetail("flow_name", name)
	r.SetDetail("flow_active", active)
	if !active {
		r.SetDetail("resolved", false)
		return types.StatusFail, nil
	}

	if r.Spec.Functional != nil {
		v := r.newValidator()
		v.ValidateFlow(ctx, r.Spec.Functional, &breakdown)
		r.SetDetail("functional_steps", v.Steps)
	} else {
		breakdown.FunctionalOutcome = true
	}

	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if !breakdown.FunctionalOutcome {
		return types.StatusFail, nil
	}
	return types.StatusPass, nil
}

// flowIsActive queries the tooling API for an Active flow version under the
// developer name.
func (r *flowRunner) flowIsActive(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT Id, Status FROM Flow WHERE Status = 'Active' AND Definition.DeveloperName = '%s'", name)
	res, err := r.D.Runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "data", "query",
			"--query", query,
			"--use-tooling-api",
			"--target-org", r.OrgTarget(), "--json",
		},
		Dir:       r.Dir,
		Timeout:   time.Duration(config.Get().TimeoutRun()) * time.Second,
		LogWriter: r.phaseLog(tasklogs.TestOutput),
	})
	if err != nil {
		return false, fmt.Errorf("querying flow status: %w", err)
	}
	r.auditCommand("sf data query (flow status)", res)

	inner, err := res.JSONResult()
	if err != nil {
		return false, fmt.Errorf("parsing flow query result: %w", err)
	}
	records, _ := inner["records"].([]interface{})
	return len(records) > 0, nil
}
