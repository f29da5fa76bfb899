package functional

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// asyncSettleDelay gives record-triggered automation time to run before
// outcome queries.
const asyncSettleDelay = 5 * time.Second

// Step is one validation step's outcome, kept for the result details.
type Step struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Validator drives functional validation against a provisioned org.
type Validator struct {
	runner   sfcli.Runner
	org      string
	dir      string
	logw     io.Writer
	sleepFor func(time.Duration)

	// TestTimeout, when positive, overrides the configured run timeout for
	// every validation step. Tasks set it through timeouts.functional_test.
	TestTimeout time.Duration

	Steps []Step
}

// NewValidator targets org (username or alias) from workspace dir.
func NewValidator(runner sfcli.Runner, orgTarget, dir string, logw io.Writer) *Validator {
	return &Validator{
		runner:   runner,
		org:      orgTarget,
		dir:      dir,
		logw:     logw,
		sleepFor: time.Sleep,
	}
}

func (v *Validator) record(name string, passed bool, detail string) {
	v.Steps = append(v.Steps, Step{Name: name, Passed: passed, Detail: detail})
}

func (v *Validator) timeout() time.Duration {
	if v.TestTimeout > 0 {
		return v.TestTimeout
	}
	return time.Duration(config.Get().TimeoutRun()) * time.Second
}

// runScript executes an anonymous apex script file against the org.
func (v *Validator) runScript(ctx context.Context, name, scriptPath string) bool {
	res, err := v.runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "apex", "run",
			"--file", scriptPath,
			"--target-org", v.org, "--json",
		},
		Dir:       v.dir,
		Timeout:   v.timeout(),
		LogWriter: v.logw,
	})
	if err != nil {
		v.record(name, false, err.Error())
		return false
	}
	ok := res.Succeeded()
	detail := ""
	if !ok {
		detail = types.TailString(res.Stderr, 500)
	}
	v.record(name, ok, detail)
	return ok
}

// VerifyQuery runs one SOQL query and checks it against the expectation.
// record_count must equal the number of returned records; field_value
// requires every record's field to equal the given value.
func (v *Validator) VerifyQuery(ctx context.Context, name, query string, expected types.SOQLExpectation) error {
	res, err := v.runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "data", "query",
			"--query", query,
			"--target-org", v.org, "--json",
		},
		Dir:       v.dir,
		Timeout:   v.timeout(),
		LogWriter: v.logw,
	})
	if err != nil {
		v.record(name, false, err.Error())
		return fmt.Errorf("running verification query: %w", err)
	}

	inner, err := (&sfcli.Result{Stdout: res.Stdout}).JSONResult()
	if err != nil {
		v.record(name, false, "query output was not valid JSON")
		return fmt.Errorf("parsing query result: %w", err)
	}
	records, _ := inner["records"].([]interface{})

	if expected.RecordCount != nil && len(records) != *expected.RecordCount {
		detail := fmt.Sprintf("expected %d records, got %d", *expected.RecordCount, len(records))
		v.record(name, false, detail)
		return fmt.Errorf("%s: %s", name, detail)
	}

	if fv := expected.FieldValue; fv != nil {
		for i, r := range records {
			rec, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			got := fmt.Sprintf("%v", rec[fv.Field])
			if got != fv.Value {
				detail := fmt.Sprintf("record %d: field %s = %q, expected %q", i, fv.Field, got, fv.Value)
				v.record(name, false, detail)
				return fmt.Errorf("%s: %s", name, detail)
			}
		}
	}

	v.record(name, true, "")
	return nil
}

// ValidateApex runs the apex functional flow: optional test-data script,
// optional verification query, optional bulk script. Deployment and unit
// tests were already judged by the runner and come in through the breakdown.
func (v *Validator) ValidateApex(ctx context.Context, fv *types.FunctionalValidation, b *Breakdown) {
	if fv == nil {
		return
	}

	if fv.TestDataScript != "" {
		if !v.runScript(ctx, "test_data_script", fv.TestDataScript) {
			return
		}
	}

	outcome := true
	if fv.VerificationQuery != "" {
		if err := v.VerifyQuery(ctx, "verification_query", fv.VerificationQuery, fv.ExpectedValues); err != nil {
			outcome = false
		}
	}
	b.FunctionalOutcome = outcome

	if fv.BulkTestScript != "" {
		b.BulkOperation = v.runScript(ctx, "bulk_test_script", fv.BulkTestScript)
	}
}

// ValidateFlow runs the flow functional sequence: trigger a matching record,
// wait for async automation, then require every declared outcome
// verification to match. Bulk and negative tests follow.
func (v *Validator) ValidateFlow(ctx context.Context, fv *types.FunctionalValidation, b *Breakdown) {
	if fv == nil {
		return
	}

	if fv.TestDataScript != "" {
		if !v.runScript(ctx, "test_data_script", fv.TestDataScript) {
			return
		}
	}
	if fv.TriggerTestScript != "" {
		if !v.runScript(ctx, "trigger_test_script", fv.TriggerTestScript) {
			return
		}
		v.sleepFor(asyncSettleDelay)
	}

	outcome := true
	for i, ov := range fv.OutcomeVerifications {
		name := ov.Name
		if name == "" {
			name = fmt.Sprintf("outcome_verification_%d", i+1)
		}
		if err := v.VerifyQuery(ctx, name, ov.Query, ov.Expected); err != nil {
			outcome = false
		}
	}
	if fv.VerificationQuery != "" {
		if err := v.VerifyQuery(ctx, "verification_query", fv.VerificationQuery, fv.ExpectedValues); err != nil {
			outcome = false
		}
	}
	b.FunctionalOutcome = outcome

	if fv.BulkTestScript != "" {
		b.BulkOperation = v.runScript(ctx, "bulk_test_script", fv.BulkTestScript)
	}
	if fv.NegativeTestScript != "" {
		// Negative path feeds the no-tweaks component: automation firing
		// when entry conditions are unmet means manual cleanup.
		b.NoManualIntervention = v.runScript(ctx, "negative_test_script", fv.NegativeTestScript)
	}
}

// ValidateLWC runs the optional controller-level apex script after the
// jest/deploy phases the runner already executed.
func (v *Validator) ValidateLWC(ctx context.Context, fv *types.FunctionalValidation, b *Breakdown) {
	if fv == nil {
		return
	}
	if fv.ControllerTestScript != "" {
		b.FunctionalOutcome = v.runScript(ctx, "controller_test_script", fv.ControllerTestScript)
	}
}

// MatchScore measures how much of the expected description's vocabulary
// appears in the observed output, as a ratio in [0, 1]. Used for outcome
// checks that have no SOQL contract.
func MatchScore(expected, output string) float64 {
	tokens := strings.Fields(strings.ToLower(expected))
	if len(tokens) == 0 {
		return 1
	}
	haystack := strings.ToLower(output)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, strings.Trim(tok, ".,:;()\"'")) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// OutcomeThreshold is the minimum MatchScore accepted by the generic
// outcome validator.
const OutcomeThreshold = 0.8
