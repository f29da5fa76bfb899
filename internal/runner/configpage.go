package runner

import (
	"context"
	"time"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/tasklogs"
	"github.com/sfbench/sfbench/internal/types"
)

// configPageRunner evaluates declarative-metadata tasks: lightning pages,
// page layouts, and community/experience sites. Evaluation is a dry-run
// deploy plus an outcome match against the expected description.
type configPageRunner struct {
	Base
}

func newConfigPageRunner(task *types.Task, diff string, deps Deps) Runner {
	return &configPageRunner{Base: NewBase(task, diff, deps)}
}

func (r *configPageRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}
	return r.SetupOrg(ctx)
}

func (r *configPageRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}

	if _, err := r.Deploy(ctx); err != nil {
		return types.StatusFail, err
	}
	breakdown.DeploymentSuccess = true
	breakdown.UnitTestsPass = true

	// Dry-run validation surfaces metadata problems the real deploy may
	// have papered over with partial success.
	res, err := r.D.Runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "project", "deploy", "validate",
			"--target-org", r.OrgTarget(),
			"--wait", "10", "--json",
		},
		Dir:       r.Dir,
		Timeout:   time.Duration(config.Get().TimeoutRun()) * time.Second,
		LogWriter: r.phaseLog(tasklogs.Deployment),
	})
	if err != nil {
		return types.StatusError, err
	}
	r.auditCommand("sf project deploy validate", res)
	dryRunOK := res.Succeeded()
	r.SetDetail("dry_run_ok", dryRunOK)

	// Outcome match: enough of the expected description must show up in
	// the deploy output.
	match := functional.MatchScore(r.Spec.Validation.ExpectedOutcome, res.Stdout)
	r.SetDetail("outcome_match", match)
	breakdown.FunctionalOutcome = dryRunOK && match >= functional.OutcomeThreshold

	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if !breakdown.FunctionalOutcome {
		return types.StatusFail, nil
	}
	return types.StatusPass, nil
}
