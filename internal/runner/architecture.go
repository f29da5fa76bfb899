package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/types"
)

// passThreshold is the composite score an architecture task must reach.
const passThreshold = 0.7

// Composite weights for architecture scoring.
const (
	weightPlanDoc    = 0.2
	weightDeploy     = 0.3
	weightValidation = 0.3
	weightOutcome    = 0.2
)

// architectureRunner evaluates ARCHITECTURE tasks and the cloud-specific
// types that route to it. The verdict is a weighted composite: the solution
// must document its design, deploy, satisfy the validation command, and
// match the expected outcome.
type architectureRunner struct {
	Base
}

func newArchitectureRunner(task *types.Task, diff string, deps Deps) Runner {
	return &architectureRunner{Base: NewBase(task, diff, deps)}
}

func (r *architectureRunner) Setup(ctx context.Context) error {
	if err := r.SetupWorkspace(ctx); err != nil {
		return err
	}
	return r.SetupOrg(ctx)
}

func (r *architectureRunner) Evaluate(ctx context.Context) (types.TaskStatus, error) {
	breakdown := functional.Breakdown{NoManualIntervention: true}
	score := 0.0

	hasPlan := r.hasPlanDoc()
	r.SetDetail("plan_doc_present", hasPlan)
	if hasPlan {
		score += weightPlanDoc
	}

	deployOK := false
	if _, err := r.Deploy(ctx); err == nil {
		deployOK = true
		score += weightDeploy
	} else if types.IsTimeout(err) {
		return types.StatusTimeout, err
	}
	breakdown.DeploymentSuccess = deployOK
	breakdown.UnitTestsPass = deployOK

	res, err := r.RunValidation(ctx)
	if err != nil {
		return types.StatusError, err
	}
	validationOK := res.Succeeded()
	if validationOK {
		score += weightValidation
	}
	r.SetDetail("validation_ok", validationOK)

	match := functional.MatchScore(r.Spec.Validation.ExpectedOutcome, res.Stdout)
	r.SetDetail("outcome_match", match)
	if match >= functional.OutcomeThreshold {
		score += weightOutcome
	}
	breakdown.FunctionalOutcome = validationOK && match >= functional.OutcomeThreshold

	r.SetDetail("composite_score", score)
	r.SetDetail("functional_score", breakdown.Score())
	r.SetDetail("functional_breakdown", breakdown)
	r.SetDetail("resolved", breakdown.Resolved())

	if score >= passThreshold {
		return types.StatusPass, nil
	}
	return types.StatusFail, nil
}

// hasPlanDoc looks for a markdown design document the patch should have
// added: anything under docs/, or a top-level file whose name suggests a
// design or architecture writeup.
func (r *architectureRunner) hasPlanDoc() bool {
	matches, err := doublestar.Glob(os.DirFS(r.Dir), "docs/**/*.md")
	if err == nil && len(matches) > 0 {
		return true
	}
	topLevel, err := doublestar.Glob(os.DirFS(r.Dir), "*.md")
	if err != nil {
		return false
	}
	for _, m := range topLevel {
		name := strings.ToLower(filepath.Base(m))
		for _, marker := range []string{"architecture", "design", "plan", "solution"} {
			if strings.Contains(name, marker) {
				return true
			}
		}
	}
	return false
}
