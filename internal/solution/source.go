// Package solution supplies the diff text evaluated for each task. Diffs
// come from a directory of patch files, a JSON map, or a live patch
// producer backed by an AI provider.
package solution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sfbench/sfbench/internal/types"
)

// Source resolves the diff for a task. An empty string with a nil error
// means the task runs without modification.
type Source interface {
	DiffFor(ctx context.Context, task *types.Task) (string, error)
}

// dirSource reads {instance_id}.patch or {instance_id}.diff files. When
// both exist, .patch wins.
type dirSource struct {
	dir string
}

// NewDirSource reads solutions from a directory tree.
func NewDirSource(dir string) (Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("solution directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("solution path %s is not a directory", dir)
	}
	return &dirSource{dir: dir}, nil
}

func (s *dirSource) DiffFor(_ context.Context, task *types.Task) (string, error) {
	// Solutions may be nested (one directory per model or per batch), so
	// search the whole tree.
	for _, ext := range []string{".patch", ".diff"} {
		pattern := "**/" + task.InstanceID + ext
		matches, err := doublestar.Glob(os.DirFS(s.dir), pattern)
		if err != nil {
			return "", fmt.Errorf("searching solutions: %w", err)
		}
		if len(matches) == 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, matches[0]))
		if err != nil {
			return "", fmt.Errorf("reading solution %s: %w", matches[0], err)
		}
		return string(data), nil
	}
	return "", nil
}

// mapSource holds an in-memory {instance_id: diff} map.
type mapSource struct {
	diffs map[string]string
}

// NewJSONSource loads a JSON map of instance id to diff text.
func NewJSONSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading solution map: %w", err)
	}
	diffs := map[string]string{}
	if err := json.Unmarshal(data, &diffs); err != nil {
		return nil, fmt.Errorf("parsing solution map: %w", err)
	}
	return &mapSource{diffs: diffs}, nil
}

func (s *mapSource) DiffFor(_ context.Context, task *types.Task) (string, error) {
	return s.diffs[task.InstanceID], nil
}

// producerSource generates diffs on demand through a patch producer.
type producerSource struct {
	producer Producer
}

// NewProducerSource wraps a live patch producer as a solution source.
func NewProducerSource(p Producer) Source {
	return &producerSource{producer: p}
}

func (s *producerSource) DiffFor(ctx context.Context, task *types.Task) (string, error) {
	prompt := buildPrompt(task)
	diff, err := s.producer.Generate(ctx, task.InstanceID, prompt)
	if err != nil {
		return "", fmt.Errorf("generating patch for %s: %w", task.InstanceID, err)
	}
	return diff, nil
}

func buildPrompt(task *types.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s at %s\n\n", task.RepoURL, task.BaseCommit)
	fmt.Fprintf(&b, "Task (%s):\n%s\n\n", task.TaskType, task.ProblemDescription)
	fmt.Fprintf(&b, "Expected outcome: %s\n\n", task.Validation.ExpectedOutcome)
	b.WriteString("Produce a unified diff against the repository root that solves the task. " +
		"Output only the diff, no explanation.")
	return b.String()
}
