package solution

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sfbench/sfbench/internal/types"
)

func task(id string) *types.Task {
	return &types.Task{
		InstanceID:         id,
		TaskType:           types.TaskTypeApex,
		RepoURL:            "https://github.com/example/repo",
		BaseCommit:         "abc",
		ProblemDescription: "do the thing",
		Validation:         types.ValidationConfig{Command: "sf apex run test", ExpectedOutcome: "tests pass"},
	}
}

func TestDirSourcePatchBeatsDiff(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "apex-001.patch"), []byte("from patch"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "apex-001.diff"), []byte("from diff"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DiffFor(context.Background(), task("apex-001"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "from patch" {
		t.Errorf("expected .patch to win, got %q", got)
	}
}

func TestDirSourceFindsNestedSolutions(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "model-a", "batch-2")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "flow-007.diff"), []byte("nested diff"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DiffFor(context.Background(), task("flow-007"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "nested diff" {
		t.Errorf("got %q", got)
	}
}

func TestDirSourceMissingSolutionIsEmpty(t *testing.T) {
	s, err := NewDirSource(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DiffFor(context.Background(), task("nope-001"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("missing solution should yield empty diff, got %q", got)
	}
}

func TestNewDirSourceRejectsFiles(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDirSource(f); err == nil {
		t.Error("expected rejection of non-directory path")
	}
}

func TestJSONSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solutions.json")
	if err := os.WriteFile(path, []byte(`{"apex-001": "the diff", "lwc-002": ""}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewJSONSource(path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.DiffFor(context.Background(), task("apex-001"))
	if got != "the diff" {
		t.Errorf("got %q", got)
	}
	got, _ = s.DiffFor(context.Background(), task("unknown"))
	if got != "" {
		t.Errorf("unknown instance should be empty, got %q", got)
	}
}

type fixedProducer struct {
	prompt string
}

func (f *fixedProducer) Generate(_ context.Context, _, prompt string) (string, error) {
	f.prompt = prompt
	return "generated diff", nil
}

func TestProducerSourceBuildsPrompt(t *testing.T) {
	p := &fixedProducer{}
	s := NewProducerSource(p)
	got, err := s.DiffFor(context.Background(), task("apex-001"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "generated diff" {
		t.Errorf("got %q", got)
	}
	for _, want := range []string{"do the thing", "tests pass", "unified diff", "APEX"} {
		if !strings.Contains(p.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, p.prompt)
		}
	}
}

func TestHTTPClientPoolSizing(t *testing.T) {
	t.Setenv("SF_BENCH_POOL_CONNECTIONS", "4")
	t.Setenv("SF_BENCH_POOL_MAXSIZE", "9")

	c := newHTTPClient()
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T", c.Transport)
	}
	if tr.MaxIdleConnsPerHost != 4 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 4", tr.MaxIdleConnsPerHost)
	}
	if tr.MaxIdleConns != 9 || tr.MaxConnsPerHost != 9 {
		t.Errorf("pool max = %d/%d, want 9", tr.MaxIdleConns, tr.MaxConnsPerHost)
	}
}

func TestAPIKeyFor(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	key, err := APIKeyFor("anthropic")
	if err != nil || key != "sk-test" {
		t.Errorf("key = %q, err = %v", key, err)
	}

	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	key, err = APIKeyFor("google")
	if err != nil || key != "gm-test" {
		t.Errorf("gemini fallback: key = %q, err = %v", key, err)
	}

	os.Unsetenv("NOPROVIDER_API_KEY")
	if _, err := APIKeyFor("noprovider"); err == nil {
		t.Error("expected an error for missing key")
	} else if strings.Contains(err.Error(), "sk-") {
		t.Error("error must not contain key material")
	}
}
