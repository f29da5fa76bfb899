package types

import (
	"fmt"
	"regexp"
	"strings"
)

// TaskType identifies which runner evaluates a task.
type TaskType string

const (
	// Development tasks
	TaskTypeApex   TaskType = "APEX"
	TaskTypeLWC    TaskType = "LWC"
	TaskTypeFlow   TaskType = "FLOW"
	TaskTypeDeploy TaskType = "DEPLOY"

	// Configuration tasks
	TaskTypeLightningPage TaskType = "LIGHTNING_PAGE"
	TaskTypePageLayout    TaskType = "PAGE_LAYOUT"
	TaskTypeCommunity     TaskType = "COMMUNITY"
	TaskTypeExperience    TaskType = "EXPERIENCE"
	TaskTypeProfile       TaskType = "PROFILE"
	TaskTypePermissionSet TaskType = "PERMISSION_SET"

	// Cloud-specific tasks (routed to the architecture runner)
	TaskTypeSalesCloud     TaskType = "SALES_CLOUD"
	TaskTypeServiceCloud   TaskType = "SERVICE_CLOUD"
	TaskTypeMarketingCloud TaskType = "MARKETING_CLOUD"
	TaskTypeCommerceCloud  TaskType = "COMMERCE_CLOUD"
	TaskTypePlatformCloud  TaskType = "PLATFORM_CLOUD"

	// Architecture tasks
	TaskTypeArchitecture TaskType = "ARCHITECTURE"
	TaskTypeIntegration  TaskType = "INTEGRATION"
	TaskTypeDataModel    TaskType = "DATA_MODEL"
	TaskTypeSecurity     TaskType = "SECURITY"
)

// ValidTaskTypes is the closed set accepted by task validation.
var ValidTaskTypes = map[TaskType]bool{
	TaskTypeApex:           true,
	TaskTypeLWC:            true,
	TaskTypeFlow:           true,
	TaskTypeDeploy:         true,
	TaskTypeLightningPage:  true,
	TaskTypePageLayout:     true,
	TaskTypeCommunity:      true,
	TaskTypeExperience:     true,
	TaskTypeProfile:        true,
	TaskTypePermissionSet:  true,
	TaskTypeSalesCloud:     true,
	TaskTypeServiceCloud:   true,
	TaskTypeMarketingCloud: true,
	TaskTypeCommerceCloud:  true,
	TaskTypePlatformCloud:  true,
	TaskTypeArchitecture:   true,
	TaskTypeIntegration:    true,
	TaskTypeDataModel:      true,
	TaskTypeSecurity:       true,
}

// ValidationConfig describes how a task's solution is validated.
type ValidationConfig struct {
	Command          string            `json:"command"`
	ExpectedOutcome  string            `json:"expected_outcome"`
	CodeChecks       []string          `json:"code_checks,omitempty"`
	AdditionalChecks map[string]string `json:"additional_checks,omitempty"`
}

// TimeoutConfig holds per-task timeout budgets in seconds.
type TimeoutConfig struct {
	Setup          int `json:"setup"`
	Run            int `json:"run"`
	FunctionalTest int `json:"functional_test,omitempty"`
}

// SOQLExpectation describes the expected shape of a verification query result.
type SOQLExpectation struct {
	RecordCount *int            `json:"record_count,omitempty"`
	FieldValue  *FieldValueSpec `json:"field_value,omitempty"`
}

// FieldValueSpec requires every returned record's Field to equal Value.
type FieldValueSpec struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// OutcomeVerification is one named SOQL check the functional validator runs.
type OutcomeVerification struct {
	Name     string          `json:"name,omitempty"`
	Query    string          `json:"query"`
	Expected SOQLExpectation `json:"expected"`
}

// FunctionalValidation is the recipe the functional validator consumes.
// All fields are optional; absent scripts skip their step.
type FunctionalValidation struct {
	FlowName             string                `json:"flow_name,omitempty"`
	TestDataScript       string                `json:"test_data_script,omitempty"`
	TriggerTestScript    string                `json:"trigger_test_script,omitempty"`
	VerificationQuery    string                `json:"verification_query,omitempty"`
	ExpectedValues       SOQLExpectation       `json:"expected_values,omitempty"`
	OutcomeVerifications []OutcomeVerification `json:"outcome_verifications,omitempty"`
	BulkTestScript       string                `json:"bulk_test_script,omitempty"`
	NegativeTestScript   string                `json:"negative_test_script,omitempty"`
	ControllerTestScript string                `json:"controller_test_script,omitempty"`
}

// Task is the immutable description of one evaluation instance.
type Task struct {
	InstanceID         string                `json:"instance_id"`
	TaskType           TaskType              `json:"task_type"`
	RepoURL            string                `json:"repo_url"`
	BaseCommit         string                `json:"base_commit"`
	ProblemDescription string                `json:"problem_description"`
	Validation         ValidationConfig      `json:"validation"`
	Timeouts           TimeoutConfig         `json:"timeouts"`
	Functional         *FunctionalValidation `json:"functional_validation,omitempty"`
	GoldenPatch        string                `json:"golden_patch,omitempty"`
	Metadata           map[string]string     `json:"metadata,omitempty"`
}

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the task against the schema invariants and returns every
// violation found, not just the first.
func (t *Task) Validate() []string {
	var errs []string

	if t.InstanceID == "" {
		errs = append(errs, "instance_id must be a non-empty string")
	} else if !instanceIDPattern.MatchString(t.InstanceID) {
		errs = append(errs, "instance_id must contain only alphanumeric characters, hyphens, and underscores")
	}

	if !ValidTaskTypes[t.TaskType] {
		errs = append(errs, fmt.Sprintf("invalid task_type: %s", t.TaskType))
	}

	if t.RepoURL == "" {
		errs = append(errs, "repo_url must be a non-empty string")
	} else if !strings.HasPrefix(t.RepoURL, "http://") &&
		!strings.HasPrefix(t.RepoURL, "https://") &&
		!strings.HasPrefix(t.RepoURL, "git@") {
		errs = append(errs, "repo_url must be a valid HTTP(S) or git SSH URL")
	}

	if t.BaseCommit == "" {
		errs = append(errs, "base_commit must be a non-empty string")
	}
	if t.ProblemDescription == "" {
		errs = append(errs, "problem_description must be a non-empty string")
	}
	if t.Validation.Command == "" {
		errs = append(errs, "validation.command is required")
	}
	if t.Validation.ExpectedOutcome == "" {
		errs = append(errs, "validation.expected_outcome is required")
	}
	if t.Timeouts.Setup <= 0 {
		errs = append(errs, "timeouts.setup must be a positive integer")
	}
	if t.Timeouts.Run <= 0 {
		errs = append(errs, "timeouts.run must be a positive integer")
	}
	if t.Timeouts.FunctionalTest < 0 {
		errs = append(errs, "timeouts.functional_test must be positive when set")
	}

	return errs
}
