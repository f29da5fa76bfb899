package patch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sfbench/sfbench/internal/sfcli"
	"github.com/sfbench/sfbench/internal/types"
)

// scriptedRunner returns canned results keyed by the first few argv words.
type scriptedRunner struct {
	results map[string]*sfcli.Result
	errs    map[string]error
	calls   []string
}

func (s *scriptedRunner) key(args []string) string {
	n := len(args)
	if n > 4 {
		n = 4
	}
	return strings.Join(args[:n], " ")
}

func (s *scriptedRunner) Run(_ context.Context, opts sfcli.Options) (*sfcli.Result, error) {
	k := s.key(opts.Args)
	s.calls = append(s.calls, k)
	if err, ok := s.errs[k]; ok {
		return &sfcli.Result{TimedOut: types.IsTimeout(err), ExitCode: -1}, err
	}
	if res, ok := s.results[k]; ok {
		return res, nil
	}
	return &sfcli.Result{ExitCode: 1}, nil
}

func (s *scriptedRunner) RunChecked(ctx context.Context, kind types.FailureKind, opts sfcli.Options) (*sfcli.Result, error) {
	res, err := s.Run(ctx, opts)
	if err != nil {
		return res, err
	}
	if !res.Succeeded() {
		return res, types.NewToolError(kind, "command failed", res.ExitCode, res.Stderr)
	}
	return res, nil
}

func TestApplyLadderFallsThrough(t *testing.T) {
	// Strict apply and --reject fail; --3way lands it.
	r := &scriptedRunner{results: map[string]*sfcli.Result{
		"git apply --3way --whitespace=fix": {ExitCode: 0},
	}}
	a := NewApplier(r)
	winner, err := a.Apply(context.Background(), t.TempDir(), simpleDiff, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if winner != "git apply --3way" {
		t.Errorf("winner = %q", winner)
	}
}

func TestApplyExhaustionIsModelFailure(t *testing.T) {
	r := &scriptedRunner{}
	a := NewApplier(r)
	_, err := a.Apply(context.Background(), t.TempDir(), simpleDiff, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	kind, ok := types.KindOf(err)
	if !ok || kind != types.FailurePatchApplication {
		t.Errorf("expected patch_application, got %v", err)
	}
	if !types.ModelAttributable(err) {
		t.Error("ladder exhaustion is the model's failure")
	}
}

func TestApplyInvalidPatchSkipsLadder(t *testing.T) {
	r := &scriptedRunner{}
	a := NewApplier(r)
	_, err := a.Apply(context.Background(), t.TempDir(), "```diff\n```", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(r.calls) != 0 {
		t.Errorf("invalid patches must not reach the ladder, saw calls: %v", r.calls)
	}
}

func TestApplyRealGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out)
		}
	}
	run("git", "init", "-q")
	path := filepath.Join(dir, "force-app", "main", "default", "classes")
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "Foo.cls"), []byte("public class Foo {\n    public Integer n = 1;\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("git", "add", ".")
	run("git", "commit", "-q", "-m", "base")

	a := NewApplier(sfcli.New())
	raw := "```diff\n" + simpleDiff + "\n```"
	winner, err := a.Apply(context.Background(), dir, raw, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if winner == "" {
		t.Error("expected a winning strategy")
	}
	data, err := os.ReadFile(filepath.Join(path, "Foo.cls"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "n = 2") {
		t.Errorf("patch not applied:\n%s", data)
	}
}
