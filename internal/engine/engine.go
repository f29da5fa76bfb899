// Package engine is the scheduler: it loads tasks, resumes from a prior
// checkpoint when one verifies, fans the remaining tasks out over a bounded
// worker pool, persists every result as it lands, and emits the end-of-run
// report.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sfbench/sfbench/internal/audit"
	"github.com/sfbench/sfbench/internal/checkpoint"
	"github.com/sfbench/sfbench/internal/config"
	"github.com/sfbench/sfbench/internal/history"
	"github.com/sfbench/sfbench/internal/report"
	"github.com/sfbench/sfbench/internal/runner"
	"github.com/sfbench/sfbench/internal/solution"
	"github.com/sfbench/sfbench/internal/tasklogs"
	"github.com/sfbench/sfbench/internal/types"
)

// Options configures one evaluation run.
type Options struct {
	// EvaluationID keys the checkpoint. Defaults to model + tasks file
	// basename, so reruns of the same pairing resume automatically.
	EvaluationID string
	ModelName    string
	Dataset      string
	TasksFile    string

	OutputDir string

	Source solution.Source
	Deps   runner.Deps

	// MaxWorkers overrides the configured pool size when positive.
	MaxWorkers int

	// HistoryPath, when set, records the finished run in the local run
	// history database.
	HistoryPath string
}

// Engine runs evaluations.
type Engine struct {
	opts  Options
	runID string

	mu      sync.Mutex
	results map[string]*types.TaskResult
}

// New validates options and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.TasksFile == "" {
		return nil, fmt.Errorf("tasks file is required")
	}
	if opts.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("solution source is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "results"
	}
	if opts.EvaluationID == "" {
		opts.EvaluationID = opts.ModelName + "-" + filepath.Base(opts.TasksFile)
	}
	return &Engine{
		opts:    opts,
		runID:   ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		results: map[string]*types.TaskResult{},
	}, nil
}

// RunID returns the generated, time-sortable run identifier.
func (e *Engine) RunID() string { return e.runID }

// Run executes the evaluation and returns the report. Task failures do not
// fail the run; only unloadable inputs do.
func (e *Engine) Run(ctx context.Context) (*report.EvaluationReport, error) {
	start := time.Now()

	tasks, err := LoadTasks(e.opts.TasksFile)
	if err != nil {
		return nil, err
	}

	resultsDir := filepath.Join(e.opts.OutputDir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}

	auditLog, err := audit.NewLogger(
		filepath.Join(e.opts.OutputDir, "logs", e.runID, "audit", "audit.json"),
		e.opts.EvaluationID, e.opts.ModelName)
	if err != nil {
		return nil, err
	}
	e.opts.Deps.Audit = auditLog

	cpManager, err := checkpoint.NewManager(filepath.Join(e.opts.OutputDir, "checkpoints"))
	if err != nil {
		return nil, err
	}
	cp := cpManager.Load(e.opts.EvaluationID)
	if cp == nil {
		cp = &checkpoint.Checkpoint{
			EvaluationID: e.opts.EvaluationID,
			ModelName:    e.opts.ModelName,
		}
	} else {
		color.Green("Resuming from checkpoint: %d tasks already complete", len(cp.CompletedTasks))
		for id, r := range cp.Results {
			e.results[id] = r
		}
	}

	evalHash, err := checkpoint.EvaluationHash(e.opts.ModelName, e.opts.TasksFile, config.Get().Snapshot())
	if err != nil {
		return nil, err
	}

	var pending []*types.Task
	for _, t := range tasks {
		if cp.IsCompleted(t.InstanceID) {
			continue
		}
		pending = append(pending, t)
	}
	color.Cyan("Evaluating %d tasks (%d resumed) with model %s", len(pending),
		len(tasks)-len(pending), e.opts.ModelName)

	workers := e.opts.MaxWorkers
	if workers <= 0 {
		workers = config.Get().MaxWorkers()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range pending {
		task := task
		g.Go(func() error {
			result := e.runTask(gctx, task)
			e.persist(task.InstanceID, result, cp, cpManager, resultsDir)
			return nil
		})
	}
	g.Wait()

	instances := e.collect(tasks)
	rep := report.Build(e.runID, e.opts.ModelName, e.opts.Dataset,
		config.Get().Snapshot(), evalHash, start, time.Now(), instances)
	if err := rep.Write(e.opts.OutputDir); err != nil {
		return nil, err
	}
	if err := e.writeSummaryJSON(); err != nil {
		return nil, err
	}

	if e.opts.HistoryPath != "" {
		if store, herr := history.Open(e.opts.HistoryPath); herr != nil {
			color.Yellow("Warning: run history unavailable: %v", herr)
		} else {
			if herr := store.RecordRun(rep); herr != nil {
				color.Yellow("Warning: failed to record run history: %v", herr)
			}
			store.Close()
		}
	}

	return rep, nil
}

// runTask builds and executes the runner for one task, converting every
// panic or construction failure into a result rather than an error.
func (e *Engine) runTask(ctx context.Context, task *types.Task) *types.TaskResult {
	diff, err := e.opts.Source.DiffFor(ctx, task)
	if err != nil {
		r := types.NewTaskResult(task.InstanceID, types.StatusError, 0)
		r.ErrorMessage = err.Error()
		return r
	}
	if e.opts.Deps.Audit != nil {
		taskJSON, merr := json.Marshal(task)
		if merr == nil {
			e.opts.Deps.Audit.LogInput(task.InstanceID, append(taskJSON, diff...))
		}
	}

	deps := e.opts.Deps
	logs, err := tasklogs.NewSet(filepath.Join(e.opts.OutputDir, "logs"),
		e.runID, e.opts.ModelName, task.InstanceID)
	if err == nil {
		deps.Logs = logs
	}

	r, err := runner.New(task, diff, deps)
	if err != nil {
		res := types.NewTaskResult(task.InstanceID, types.StatusError, 0)
		res.ErrorMessage = err.Error()
		return res
	}
	return runner.Execute(ctx, r)
}

// persist writes one result to disk and updates the checkpoint, both under
// the result-write mutex so parallel workers never tear a file.
func (e *Engine) persist(taskID string, result *types.TaskResult,
	cp *checkpoint.Checkpoint, cpManager *checkpoint.Manager, resultsDir string) {

	e.mu.Lock()
	defer e.mu.Unlock()

	e.results[taskID] = result

	data, err := json.MarshalIndent(result, "", "  ")
	if err == nil {
		path := filepath.Join(resultsDir, taskID+".json")
		if werr := os.WriteFile(path, data, 0o644); werr != nil {
			color.Yellow("Warning: failed to write result for %s: %v", taskID, werr)
		}
	}

	cp.MarkCompleted(taskID, result)
	if err := cpManager.Save(cp); err != nil {
		color.Yellow("Warning: failed to save checkpoint: %v", err)
	}

	if e.opts.Deps.Audit != nil {
		if payload, err := json.Marshal(result); err == nil {
			e.opts.Deps.Audit.Finalize(taskID, string(result.Status), result.Details, payload)
		}
	}

	progressLine(result)
}

func progressLine(r *types.TaskResult) {
	line := fmt.Sprintf("%-30s %-8s %6.1fs", r.TaskID, r.Status, r.Duration)
	switch r.Status {
	case types.StatusPass:
		color.Green("%s", line)
	case types.StatusFail:
		color.Red("%s", line)
	case types.StatusTimeout:
		color.Yellow("%s", line)
	default:
		color.Magenta("%s", line)
	}
}

// collect orders results by the task file's order, converting to report
// instances.
func (e *Engine) collect(tasks []*types.Task) []report.InstanceResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var instances []report.InstanceResult
	for _, t := range tasks {
		if r, ok := e.results[t.InstanceID]; ok {
			instances = append(instances, report.FromTaskResult(r))
		}
	}
	return instances
}

func (e *Engine) writeSummaryJSON() error {
	e.mu.Lock()
	results := make([]*types.TaskResult, 0, len(e.results))
	for _, r := range e.results {
		results = append(results, r)
	}
	e.mu.Unlock()

	stats := types.CalculatePassRate(results)
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	path := filepath.Join(e.opts.OutputDir, "results", "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
