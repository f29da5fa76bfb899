// Package sfcli is the single gateway through which every external command
// runs: sf CLI invocations, git operations, and arbitrary validation
// commands. Callers never shell out directly; the gateway owns timeouts,
// process-group cleanup, output capture, and success interpretation.
package sfcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sfbench/sfbench/internal/types"
)

// updateWarningPrefix marks the noise line the sf CLI prints on stdout when
// a newer release exists. It corrupts JSON parsing and must be stripped
// before interpretation.
const updateWarningPrefix = "Warning: @salesforce/cli update available"

// killGracePeriod is how long a timed-out process group gets between
// SIGTERM and SIGKILL.
const killGracePeriod = 5 * time.Second

// Result captures everything a completed command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Options controls a single command execution.
type Options struct {
	// Args is the argv; Args[0] is the binary.
	Args []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// Env is appended to the parent environment. Values are never logged.
	Env []string
	// Timeout bounds the execution. Zero means no deadline.
	Timeout time.Duration
	// Stdin, if non-empty, is fed to the process.
	Stdin string
	// LogWriter receives the command line and captured output. Nil discards.
	LogWriter io.Writer
}

// Runner executes external commands on behalf of the rest of the engine.
type Runner interface {
	// Run executes a command and returns its captured result. The error is
	// non-nil only for failures to start or a hit deadline; a non-zero exit
	// is reported through Result, not through the error.
	Run(ctx context.Context, opts Options) (*Result, error)

	// RunChecked is Run plus success interpretation: it returns a
	// classified error when the command did not succeed.
	RunChecked(ctx context.Context, kind types.FailureKind, opts Options) (*Result, error)
}

type runner struct{}

// New returns the standard command runner.
func New() Runner {
	return &runner{}
}

func (r *runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(opts.Args) == 0 {
		return nil, fmt.Errorf("no command given")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, opts.Args[0], opts.Args[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Children of sf and git spawn their own subprocesses. Put the whole
	// tree in its own process group so a timeout kills all of it, then give
	// it a grace period before the hard kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	if opts.LogWriter != nil {
		fmt.Fprintf(opts.LogWriter, "$ %s\n", strings.Join(opts.Args, " "))
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if opts.LogWriter != nil {
		if result.Stdout != "" {
			fmt.Fprintln(opts.LogWriter, result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprintf(opts.LogWriter, "[stderr] %s\n", result.Stderr)
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, types.NewToolError(types.FailureTimeout,
			fmt.Sprintf("command timed out after %s: %s", opts.Timeout, opts.Args[0]),
			-1, result.Stderr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to start %s: %w", opts.Args[0], err)
	}

	result.ExitCode = 0
	return result, nil
}

func (r *runner) RunChecked(ctx context.Context, kind types.FailureKind, opts Options) (*Result, error) {
	result, err := r.Run(ctx, opts)
	if err != nil {
		return result, err
	}
	if !result.Succeeded() {
		return result, types.NewToolError(kind,
			fmt.Sprintf("command failed with exit code %d: %s", result.ExitCode, opts.Args[0]),
			result.ExitCode, result.Stderr)
	}
	return result, nil
}

// FilterWarnings strips CLI update-warning lines from raw output so that
// what remains is parseable JSON.
func FilterWarnings(output string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), updateWarningPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ParseJSON filters warnings out of stdout and decodes the remainder.
// Returns nil with an error when the output is not a JSON object.
func ParseJSON(stdout string) (map[string]interface{}, error) {
	cleaned := FilterWarnings(stdout)
	if cleaned == "" {
		return nil, fmt.Errorf("empty output")
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	return parsed, nil
}

// Succeeded decides whether the command succeeded. When stdout carries a
// JSON envelope (a "status" field or a "result" field), the JSON is
// authoritative in both directions: status 0 or the presence of a result
// object means success, anything else means failure, and the process exit
// code is ignored. Non-envelope output falls back to the exit code.
func (res *Result) Succeeded() bool {
	if res.TimedOut {
		return false
	}
	if parsed, err := ParseJSON(res.Stdout); err == nil {
		status, hasStatus := parsed["status"].(float64)
		_, hasResult := parsed["result"]
		if hasStatus || hasResult {
			return (hasStatus && status == 0) || hasResult
		}
	}
	return res.ExitCode == 0
}

// JSONResult returns the "result" object of a successful sf CLI JSON
// response.
func (res *Result) JSONResult() (map[string]interface{}, error) {
	parsed, err := ParseJSON(res.Stdout)
	if err != nil {
		return nil, err
	}
	inner, ok := parsed["result"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("response has no result object")
	}
	return inner, nil
}
