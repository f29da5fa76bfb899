package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sfbench/sfbench/internal/types"
)

// taskSchema is the structural contract for task files. Semantic checks
// (closed task-type set, URL shape, positive timeouts) run afterwards in
// Task.Validate.
const taskSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["instance_id", "task_type", "repo_url", "base_commit", "problem_description", "validation", "timeouts"],
  "properties": {
    "instance_id": {"type": "string", "minLength": 1},
    "task_type": {"type": "string"},
    "repo_url": {"type": "string"},
    "base_commit": {"type": "string"},
    "problem_description": {"type": "string"},
    "validation": {
      "type": "object",
      "required": ["command", "expected_outcome"],
      "properties": {
        "command": {"type": "string"},
        "expected_outcome": {"type": "string"},
        "code_checks": {"type": "array", "items": {"type": "string"}},
        "additional_checks": {"type": "object"}
      }
    },
    "timeouts": {
      "type": "object",
      "required": ["setup", "run"],
      "properties": {
        "setup": {"type": "integer"},
        "run": {"type": "integer"},
        "functional_test": {"type": "integer"}
      }
    },
    "functional_validation": {"type": "object"},
    "golden_patch": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

var compiledTaskSchema = jsonschema.MustCompileString("task.schema.json", taskSchema)

// LoadTasks reads a task file holding either a JSON array or a single task
// object. Every entry is validated; any violation aborts the load with a
// report naming each bad entry.
func LoadTasks(path string) ([]*types.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	var rawTasks []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '{' {
		rawTasks = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &rawTasks); err != nil {
		return nil, fmt.Errorf("tasks file is neither a JSON array nor an object: %w", err)
	}

	var tasks []*types.Task
	var violations []string
	seen := map[string]bool{}
	for i, raw := range rawTasks {
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			violations = append(violations, fmt.Sprintf("entry %d: invalid JSON: %v", i, err))
			continue
		}
		if err := compiledTaskSchema.Validate(generic); err != nil {
			violations = append(violations, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}

		var task types.Task
		if err := json.Unmarshal(raw, &task); err != nil {
			violations = append(violations, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		if errs := task.Validate(); len(errs) > 0 {
			violations = append(violations,
				fmt.Sprintf("entry %d (%s): %s", i, task.InstanceID, strings.Join(errs, "; ")))
			continue
		}
		if seen[task.InstanceID] {
			violations = append(violations, fmt.Sprintf("entry %d: duplicate instance_id %s", i, task.InstanceID))
			continue
		}
		seen[task.InstanceID] = true
		tasks = append(tasks, &task)
	}

	if len(violations) > 0 {
		return nil, fmt.Errorf("task validation failed:\n  %s", strings.Join(violations, "\n  "))
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("tasks file %s contains no tasks", path)
	}
	return tasks, nil
}
