// Package tasklogs manages the per-task log files written under
// logs/<run_id>/<model>/<instance_id>/. Each lifecycle phase gets its own
// file so a failed task can be diagnosed without grepping a combined log.
package tasklogs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Standard log names, one per phase.
const (
	RunInstance          = "run_instance"
	ScratchOrg           = "scratch_org"
	Deployment           = "deployment"
	TestOutput           = "test_output"
	FunctionalValidation = "functional_validation"
)

// Set is the open log files for one task. Writers are safe for use from the
// single worker goroutine that owns the task.
type Set struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewSet creates the log directory for a task.
func NewSet(root, runID, model, instanceID string) (*Set, error) {
	dir := filepath.Join(root, runID, model, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return &Set{dir: dir, files: map[string]*os.File{}}, nil
}

// Dir returns the task's log directory.
func (s *Set) Dir() string { return s.dir }

// Writer returns the writer for a named log, creating the file on first
// use. Failures degrade to a discard writer; logging never fails a task.
func (s *Set) Writer(name string) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[name]; ok {
		return f
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name+".log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return io.Discard
	}
	s.files[name] = f
	return f
}

// Printf appends a formatted line to a named log.
func (s *Set) Printf(name, format string, args ...interface{}) {
	fmt.Fprintf(s.Writer(name), format+"\n", args...)
}

// Close flushes and closes every open file.
func (s *Set) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		f.Close()
	}
	s.files = map[string]*os.File{}
}
