// Package functional computes the 100-point score that separates "the code
// deployed" from "the code does the thing". Deployment and unit tests are
// diagnostic; the functional-outcome gate is the primary signal.
package functional

// Weights of the scoring rubric. Fixed.
const (
	WeightDeployment = 10
	WeightUnitTests  = 20
	WeightOutcome    = 50
	WeightBulk       = 10
	WeightNoTweaks   = 10
)

// Breakdown records which rubric components passed.
type Breakdown struct {
	DeploymentSuccess    bool `json:"deployment_success"`
	UnitTestsPass        bool `json:"unit_tests_pass"`
	FunctionalOutcome    bool `json:"functional_outcome"`
	BulkOperation        bool `json:"bulk_operation"`
	NoManualIntervention bool `json:"no_manual_intervention"`
}

// Score totals the weighted components.
func (b Breakdown) Score() int {
	score := 0
	if b.DeploymentSuccess {
		score += WeightDeployment
	}
	if b.UnitTestsPass {
		score += WeightUnitTests
	}
	if b.FunctionalOutcome {
		score += WeightOutcome
	}
	if b.BulkOperation {
		score += WeightBulk
	}
	if b.NoManualIntervention {
		score += WeightNoTweaks
	}
	return score
}

// Resolved reports binary task resolution: deployment, unit tests, and the
// functional outcome must all pass. Bulk and no-tweaks affect score only.
func (b Breakdown) Resolved() bool {
	return b.DeploymentSuccess && b.UnitTestsPass && b.FunctionalOutcome
}
