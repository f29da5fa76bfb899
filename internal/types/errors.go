package types

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies how an operation failed. The kind decides both the
// retry policy and whether the failure is attributed to the model (FAIL) or
// the tooling (ERROR); conflating the two invalidates the scoreboard.
type FailureKind string

const (
	// FailureTimeout: the gateway killed a child process at its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureOrgCreation: scratch-org provisioning failed.
	FailureOrgCreation FailureKind = "org_creation"
	// FailurePlatformLimitation: org creation failed because the solution
	// requires platform features the provided workspace cannot grant.
	// Attributed to the model; never retried.
	FailurePlatformLimitation FailureKind = "platform_limitation"
	// FailurePatchApplication: the model's diff survived no apply strategy.
	FailurePatchApplication FailureKind = "patch_application"
	// FailureCommand: a validation or tool command exited non-zero with no
	// JSON success indicator.
	FailureCommand FailureKind = "command"
	// FailureGit: clone/checkout trouble. Transient; retried with backoff.
	FailureGit FailureKind = "git"
)

// ToolError is the structured failure carried through the runner lifecycle.
type ToolError struct {
	Kind     FailureKind
	Message  string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Message, TailString(e.Stderr, 500))
	}
	return e.Message
}

// NewToolError builds a ToolError with a stderr excerpt attached.
func NewToolError(kind FailureKind, message string, exitCode int, stderr string) *ToolError {
	return &ToolError{Kind: kind, Message: message, ExitCode: exitCode, Stderr: stderr}
}

// KindOf extracts the failure kind from an error chain. Returns false for
// unclassified errors, which surface as ERROR per the attribution rule.
func KindOf(err error) (FailureKind, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == FailureTimeout
}

// ModelAttributable reports whether the failure is the model's
// responsibility and must surface as FAIL rather than ERROR.
func ModelAttributable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case FailurePatchApplication, FailurePlatformLimitation, FailureCommand:
		return true
	}
	return false
}

// platformLimitMarkers are the substrings that distinguish "the solution
// needs unavailable platform features" from a transient provisioning error.
var platformLimitMarkers = []string{
	"package id",
	"ancestorversion",
	"collections",
	"ac -",
}

// IsPlatformLimitation reports whether an org-creation error message points
// at a platform feature gap rather than transient provider trouble.
func IsPlatformLimitation(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range platformLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// TailString returns at most the last n characters of s. Used to bound the
// stderr excerpts included in user-visible failure messages.
func TailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
