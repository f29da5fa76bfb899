package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func validTask() *Task {
	return &Task{
		InstanceID:         "sf-apex-001",
		TaskType:           TaskTypeApex,
		RepoURL:            "https://github.com/example/sf-repo",
		BaseCommit:         "abc1234",
		ProblemDescription: "Fix the trigger",
		Validation: ValidationConfig{
			Command:         "sf apex run test --wait 10",
			ExpectedOutcome: "all tests pass",
		},
		Timeouts: TimeoutConfig{Setup: 600, Run: 300},
	}
}

func TestTaskValidate(t *testing.T) {
	if errs := validTask().Validate(); len(errs) != 0 {
		t.Fatalf("expected valid task, got errors: %v", errs)
	}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantSub string
	}{
		{"empty instance id", func(tk *Task) { tk.InstanceID = "" }, "instance_id"},
		{"bad instance id chars", func(tk *Task) { tk.InstanceID = "bad id!" }, "alphanumeric"},
		{"unknown task type", func(tk *Task) { tk.TaskType = "KOTLIN" }, "invalid task_type"},
		{"bad repo url", func(tk *Task) { tk.RepoURL = "ftp://nope" }, "repo_url"},
		{"missing base commit", func(tk *Task) { tk.BaseCommit = "" }, "base_commit"},
		{"missing command", func(tk *Task) { tk.Validation.Command = "" }, "validation.command"},
		{"zero setup timeout", func(tk *Task) { tk.Timeouts.Setup = 0 }, "timeouts.setup"},
		{"negative run timeout", func(tk *Task) { tk.Timeouts.Run = -1 }, "timeouts.run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(task)
			errs := task.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.wantSub) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error containing %q, got %v", tt.wantSub, errs)
			}
		})
	}
}

func TestTaskValidateSSHURL(t *testing.T) {
	task := validTask()
	task.RepoURL = "git@github.com:example/sf-repo.git"
	if errs := task.Validate(); len(errs) != 0 {
		t.Fatalf("SSH URLs should validate, got: %v", errs)
	}
}

func TestFailureClassification(t *testing.T) {
	patchErr := NewToolError(FailurePatchApplication, "patch does not contain valid diff content", 1, "")
	wrapped := fmt.Errorf("injecting patch: %w", patchErr)

	kind, ok := KindOf(wrapped)
	if !ok || kind != FailurePatchApplication {
		t.Fatalf("expected patch_application kind through wrapping, got %v %v", kind, ok)
	}
	if !ModelAttributable(wrapped) {
		t.Error("patch application failures are model-attributable")
	}

	gitErr := NewToolError(FailureGit, "clone failed", 128, "fatal: repository not found")
	if ModelAttributable(gitErr) {
		t.Error("git failures are tool trouble, not model failures")
	}

	if ModelAttributable(errors.New("plain error")) {
		t.Error("unclassified errors must not be model-attributable")
	}

	timeoutErr := NewToolError(FailureTimeout, "command timed out after 120 seconds", -1, "")
	if !IsTimeout(timeoutErr) {
		t.Error("expected timeout classification")
	}
}

func TestIsPlatformLimitation(t *testing.T) {
	cases := map[string]bool{
		"The ancestorVersion specified is invalid":    true,
		"unknown field: Package ID missing":           true,
		"feature Collections is not enabled":          true,
		"AC - unsupported org shape":                  true,
		"INVALID_LOGIN: authentication failure":       false,
		"connection reset by peer during org create":  false,
	}
	for msg, want := range cases {
		if got := IsPlatformLimitation(msg); got != want {
			t.Errorf("IsPlatformLimitation(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestToolErrorBoundsStderr(t *testing.T) {
	long := strings.Repeat("x", 2000) + "TAIL"
	err := NewToolError(FailureCommand, "command failed", 1, long)
	msg := err.Error()
	if len(msg) > 600 {
		t.Errorf("error message should bound stderr to 500 chars, got %d", len(msg))
	}
	if !strings.HasSuffix(msg, "TAIL") {
		t.Error("error message should keep the tail of stderr")
	}
}

func TestCalculatePassRate(t *testing.T) {
	results := []*TaskResult{
		{TaskID: "a", Status: StatusPass},
		{TaskID: "b", Status: StatusPass},
		{TaskID: "c", Status: StatusFail},
		{TaskID: "d", Status: StatusTimeout},
		{TaskID: "e", Status: StatusError},
	}
	stats := CalculatePassRate(results)
	if stats.Total != 5 || stats.Passed != 2 || stats.Failed != 1 || stats.Timeout != 1 || stats.Error != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.PassRate != 40.0 {
		t.Errorf("expected pass rate 40.0, got %v", stats.PassRate)
	}

	empty := CalculatePassRate(nil)
	if empty.Total != 0 || empty.PassRate != 0 {
		t.Errorf("empty result set should produce zeroes: %+v", empty)
	}
}
