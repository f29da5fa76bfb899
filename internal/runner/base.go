// Package runner implements the per-task evaluation lifecycle. A runner is
// polymorphic over task type; every variant moves through the same phases:
// setup, patch injection, evaluation, teardown. Teardown runs on every exit
// path, including panics, so no scratch org or workspace is leaked.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sfbench/sfbench/internal/audit"
	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/org"
	"github.com/sfbench/sfbench/internal/patch"
	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/tasklogs"
	"github.com/sfbench/sfbench/internal/types"
	"github.com/sfbench/sfbench/internal/workspace"
)

// Deps bundles the shared infrastructure every runner uses.
type Deps struct {
	Workspace workspace.Manager
	Orgs      org.Provider
	Patches   patch.Applier
	Runner    sfcli.Runner
	Audit     *audit.Logger
	Logs      *tasklogs.Set
	// SharedOrgAlias, when set, is an externally owned org injected into
	// the run; runners address it but never delete it.
	SharedOrgAlias string
}

// Runner is one task evaluation. Implementations embed Base.
type Runner interface {
	Task() *types.Task
	Setup(ctx context.Context) error
	InjectPatch(ctx context.Context) error
	Evaluate(ctx context.Context) (types.TaskStatus, error)
	Teardown(ctx context.Context)
	// Details returns the accumulated result details after Evaluate.
	Details() map[string]interface{}
	// ExecutionLog returns the phase-by-phase log lines.
	ExecutionLog() []string
}

// Execute drives one runner through its lifecycle and maps the outcome to a
// task result. Evaluate never runs if Setup failed; Teardown always runs.
func Execute(ctx context.Context, r Runner) (result *types.TaskResult) {
	start := time.Now()
	taskID := r.Task().InstanceID

	finish := func(status types.TaskStatus, errMsg string) *types.TaskResult {
		res := types.NewTaskResult(taskID, status, time.Since(start))
		res.ErrorMessage = errMsg
		res.Details = r.Details()
		res.ExecutionLog = r.ExecutionLog()
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			result = finish(types.StatusError, fmt.Sprintf("runner panic: %v", p))
		}
	}()
	defer r.Teardown(ctx)

	if err := r.Setup(ctx); err != nil {
		return finish(statusForError(err), err.Error())
	}
	if err := r.InjectPatch(ctx); err != nil {
		return finish(statusForError(err), err.Error())
	}
	status, err := r.Evaluate(ctx)
	if err != nil {
		return finish(statusForError(err), err.Error())
	}
	return finish(status, "")
}

// statusForError applies the attribution rule: timeouts are TIMEOUT,
// model-attributable failures are FAIL, everything else is ERROR.
func statusForError(err error) types.TaskStatus {
	if types.IsTimeout(err) {
		return types.StatusTimeout
	}
	if types.ModelAttributable(err) {
		return types.StatusFail
	}
	return types.StatusError
}

// Base carries the state and shared steps common to all runner variants.
type Base struct {
	Spec *types.Task
	Diff string
	D    Deps

	Dir     string
	Org     *org.Org
	details map[string]interface{}
	log     []string
}

// NewBase wires a base runner for a task.
func NewBase(task *types.Task, diff string, deps Deps) Base {
	return Base{Spec: task, Diff: diff, D: deps, details: map[string]interface{}{}}
}

func (b *Base) Task() *types.Task { return b.Spec }

func (b *Base) Details() map[string]interface{} { return b.details }

func (b *Base) ExecutionLog() []string { return b.log }

// SetDetail records a result detail.
func (b *Base) SetDetail(key string, value interface{}) { b.details[key] = value }

// Logf appends to the execution log, the run_instance log file, and the
// audit trail.
func (b *Base) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	b.log = append(b.log, line)
	if b.D.Logs != nil {
		b.D.Logs.Printf(tasklogs.RunInstance, "%s", line)
	}
	if b.D.Audit != nil {
		b.D.Audit.Logf(b.Spec.InstanceID, "%s", line)
	}
}

// phaseLog returns the io.Writer for a named phase log, or nil when no log
// set is attached.
func (b *Base) phaseLog(name string) io.Writer {
	if b.D.Logs == nil {
		return nil
	}
	return b.D.Logs.Writer(name)
}

// SetupWorkspace clones the task repo at its base commit.
func (b *Base) SetupWorkspace(ctx context.Context) error {
	b.Logf("cloning %s at %s", b.Spec.RepoURL, b.Spec.BaseCommit)
	dir, err := b.D.Workspace.Prepare(ctx, b.Spec.InstanceID, b.Spec.RepoURL, b.Spec.BaseCommit)
	if err != nil {
		return err
	}
	b.Dir = dir
	if b.D.Audit != nil {
		b.D.Audit.LogGitOp(b.Spec.InstanceID, "clone", b.Spec.RepoURL)
		b.D.Audit.LogGitOp(b.Spec.InstanceID, "checkout", b.Spec.BaseCommit)
	}
	return nil
}

// setupTimeout is the budget for setup-phase commands: the task's own
// setting when present, the configured default otherwise.
func (b *Base) setupTimeout() time.Duration {
	if b.Spec.Timeouts.Setup > 0 {
		return time.Duration(b.Spec.Timeouts.Setup) * time.Second
	}
	return time.Duration(config.Get().TimeoutSetup()) * time.Second
}

// SetupOrg provisions (or resolves) the task's scratch org within the
// task's setup budget.
func (b *Base) SetupOrg(ctx context.Context) error {
	b.Logf("provisioning scratch org")
	ctx, cancel := context.WithTimeout(ctx, b.setupTimeout())
	defer cancel()
	o, err := b.D.Orgs.Create(ctx, b.Spec.InstanceID, org.DefaultDuration, b.phaseLog(tasklogs.ScratchOrg))
	if err != nil {
		return err
	}
	b.Org = o
	if b.D.Audit != nil && o.OrgID != "" {
		b.D.Audit.SetOrgID(b.Spec.InstanceID, o.OrgID)
	}
	b.Logf("org ready: %s", o.Username)
	return nil
}

// InjectPatch applies the model's diff to the workspace. An empty diff is a
// model failure.
func (b *Base) InjectPatch(ctx context.Context) error {
	if strings.TrimSpace(b.Diff) == "" {
		b.SetDetail("empty_patch", true)
		return types.NewToolError(types.FailurePatchApplication,
			"model produced an empty patch", 0, "")
	}
	b.Logf("applying patch")
	winner, err := b.D.Patches.Apply(ctx, b.Dir, b.Diff, b.phaseLog(tasklogs.RunInstance))
	if err != nil {
		return fmt.Errorf("injecting patch: %w", err)
	}
	b.SetDetail("patch_strategy", winner)
	b.Logf("patch applied via %s", winner)
	return nil
}

// Teardown releases the org and workspace. Every step is best effort.
func (b *Base) Teardown(ctx context.Context) {
	if b.Org != nil {
		b.D.Orgs.Delete(ctx, b.Org, b.phaseLog(tasklogs.ScratchOrg))
		b.Org = nil
	}
	if b.Dir != "" {
		b.D.Workspace.Cleanup(b.Dir)
		b.Dir = ""
	}
	if b.D.Logs != nil {
		b.D.Logs.Close()
	}
}

// OrgTarget returns the username (preferred) or alias addressing the org.
func (b *Base) OrgTarget() string {
	if b.Org == nil {
		return ""
	}
	if b.Org.Username != "" {
		return b.Org.Username
	}
	return b.Org.Alias
}

// Deploy pushes the workspace's source to the org and returns the parsed
// deploy result.
func (b *Base) Deploy(ctx context.Context) (map[string]interface{}, error) {
	b.Logf("deploying source to %s", b.OrgTarget())
	res, err := b.D.Runner.Run(ctx, sfcli.Options{
		Args: []string{
			"sf", "project", "deploy", "start",
			"--target-org", b.OrgTarget(),
			"--wait", "10", "--json",
		},
		Dir:       b.Dir,
		Timeout:   b.setupTimeout(),
		LogWriter: b.phaseLog(tasklogs.Deployment),
	})
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	b.auditCommand("sf project deploy start", res)
	if !res.Succeeded() {
		b.SetDetail("deploy_status", "failed")
		return nil, types.NewToolError(types.FailureCommand,
			"deployment failed", res.ExitCode, res.Stderr)
	}
	b.SetDetail("deploy_status", "succeeded")
	inner, _ := res.JSONResult()
	return inner, nil
}

// newValidator builds a functional validator carrying the task's
// functional-test budget.
func (b *Base) newValidator() *functional.Validator {
	v := functional.NewValidator(b.D.Runner, b.OrgTarget(), b.Dir,
		b.phaseLog(tasklogs.FunctionalValidation))
	if b.Spec.Timeouts.FunctionalTest > 0 {
		v.TestTimeout = time.Duration(b.Spec.Timeouts.FunctionalTest) * time.Second
	}
	return v
}

// RunValidation executes the task's validation command in the workspace,
// targeting the org when one exists.
func (b *Base) RunValidation(ctx context.Context) (*sfcli.Result, error) {
	cmd := b.validationCommand()
	b.Logf("running validation: %s", cmd)
	timeout := time.Duration(b.Spec.Timeouts.Run) * time.Second
	res, err := b.D.Runner.Run(ctx, sfcli.Options{
		Args:      []string{"sh", "-c", cmd},
		Dir:       b.Dir,
		Timeout:   timeout,
		LogWriter: b.phaseLog(tasklogs.TestOutput),
	})
	if err != nil {
		return res, fmt.Errorf("validation command: %w", err)
	}
	b.auditCommand(cmd, res)
	return res, nil
}

// validationCommand substitutes the org target into the task's command. An
// {org} placeholder is replaced; bare sf commands get --target-org appended.
func (b *Base) validationCommand() string {
	cmd := b.Spec.Validation.Command
	target := b.OrgTarget()
	if target == "" {
		return cmd
	}
	if strings.Contains(cmd, "{org}") {
		return strings.ReplaceAll(cmd, "{org}", target)
	}
	if strings.HasPrefix(cmd, "sf ") && !strings.Contains(cmd, "--target-org") {
		cmd += " --target-org " + target
	}
	if strings.HasPrefix(cmd, "sf ") && !strings.Contains(cmd, "--json") {
		cmd += " --json"
	}
	return cmd
}

func (b *Base) auditCommand(argv string, res *sfcli.Result) {
	if b.D.Audit == nil || res == nil {
		return
	}
	b.D.Audit.LogCommand(b.Spec.InstanceID, argv, res.ExitCode,
		[]byte(res.Stdout+res.Stderr))
}
