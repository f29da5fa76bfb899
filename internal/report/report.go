// Package report emits the end-of-run artifacts: report.json (the canonical,
// schema-versioned document) and summary.md (a human-readable rendering).
// It also migrates v1-era flat result records when reading historical runs.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/types"
)

// SchemaVersion of the emitted report.
const SchemaVersion = "2.0"

// InstanceResult is one task's entry in the report.
type InstanceResult struct {
	InstanceID      string               `json:"instance_id"`
	Status          types.TaskStatus     `json:"status"`
	Resolved        bool                 `json:"resolved"`
	EmptyPatch      bool                 `json:"empty_patch"`
	DurationSeconds float64              `json:"duration_seconds"`
	FunctionalScore int                  `json:"functional_score"`
	Breakdown       functional.Breakdown `json:"validation_breakdown"`
	PatchStrategy   string               `json:"patch_strategy,omitempty"`
	ErrorMessage    string               `json:"error_message,omitempty"`
}

// ScoreStats is a distribution summary.
type ScoreStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary aggregates the run.
type Summary struct {
	Total           int        `json:"total"`
	Resolved        int        `json:"resolved"`
	Unresolved      int        `json:"unresolved"`
	Errors          int        `json:"errors"`
	EmptyPatches    int        `json:"empty_patches"`
	ResolutionRate  float64    `json:"resolution_rate"`
	ResolutionPct   float64    `json:"resolution_pct"`
	Scores          ScoreStats `json:"scores"`
	FunctionalScore ScoreStats `json:"functional_scores"`
	// ComponentPassRates maps rubric component to the fraction of
	// instances that passed it.
	ComponentPassRates map[string]float64 `json:"component_pass_rates"`
	TotalDuration      float64            `json:"total_duration_seconds"`
	MeanDuration       float64            `json:"mean_duration_seconds"`
}

// EvaluationReport is the top-level schema v2 artifact.
type EvaluationReport struct {
	SchemaVersion string                 `json:"schema_version"`
	RunID         string                 `json:"run_id"`
	ModelName     string                 `json:"model_name"`
	Dataset       string                 `json:"dataset"`
	Config        map[string]interface{} `json:"config"`
	Environment   map[string]string      `json:"environment"`
	StartTime     string                 `json:"start_time"`
	EndTime       string                 `json:"end_time"`
	// EvaluationHash ties the report to its inputs for provenance checks.
	EvaluationHash string           `json:"evaluation_hash,omitempty"`
	Instances      []InstanceResult `json:"instances"`
	Summary        Summary          `json:"summary"`
	ResolvedIDs    []string         `json:"resolved_ids"`
	UnresolvedIDs  []string         `json:"unresolved_ids"`
	ErrorIDs       []string         `json:"error_ids"`
	EmptyPatchIDs  []string         `json:"empty_patch_ids"`
	CompletedIDs   []string         `json:"completed_ids"`
}

// FromTaskResult converts a runner's result into a report instance.
func FromTaskResult(r *types.TaskResult) InstanceResult {
	inst := InstanceResult{
		InstanceID:      r.TaskID,
		Status:          r.Status,
		DurationSeconds: r.Duration,
		ErrorMessage:    r.ErrorMessage,
	}
	if r.Details == nil {
		return inst
	}
	if v, ok := r.Details["resolved"].(bool); ok {
		inst.Resolved = v
	}
	if v, ok := r.Details["empty_patch"].(bool); ok {
		inst.EmptyPatch = v
	}
	if v, ok := r.Details["patch_strategy"].(string); ok {
		inst.PatchStrategy = v
	}
	switch s := r.Details["functional_score"].(type) {
	case int:
		inst.FunctionalScore = s
	case float64:
		inst.FunctionalScore = int(s)
	}
	switch b := r.Details["functional_breakdown"].(type) {
	case functional.Breakdown:
		inst.Breakdown = b
	case map[string]interface{}:
		// Details round-tripped through JSON (checkpoint resume).
		data, err := json.Marshal(b)
		if err == nil {
			json.Unmarshal(data, &inst.Breakdown)
		}
	}
	return inst
}

// Build assembles the report document from instances.
func Build(runID, modelName, dataset string, cfg map[string]interface{}, evalHash string,
	start, end time.Time, instances []InstanceResult) *EvaluationReport {

	rep := &EvaluationReport{
		SchemaVersion:  SchemaVersion,
		RunID:          runID,
		ModelName:      modelName,
		Dataset:        dataset,
		Config:         cfg,
		Environment:    environmentInfo(),
		StartTime:      start.Format(time.RFC3339),
		EndTime:        end.Format(time.RFC3339),
		EvaluationHash: evalHash,
		Instances:      instances,
		ResolvedIDs:    []string{},
		UnresolvedIDs:  []string{},
		ErrorIDs:       []string{},
		EmptyPatchIDs:  []string{},
		CompletedIDs:   []string{},
	}

	var scores, fnScores, durations []float64
	componentPass := map[string]int{}
	for _, inst := range rep.Instances {
		rep.CompletedIDs = append(rep.CompletedIDs, inst.InstanceID)
		switch {
		case inst.Status == types.StatusError:
			rep.ErrorIDs = append(rep.ErrorIDs, inst.InstanceID)
		case inst.Resolved:
			rep.ResolvedIDs = append(rep.ResolvedIDs, inst.InstanceID)
		default:
			rep.UnresolvedIDs = append(rep.UnresolvedIDs, inst.InstanceID)
		}
		if inst.EmptyPatch {
			rep.EmptyPatchIDs = append(rep.EmptyPatchIDs, inst.InstanceID)
		}

		score := float64(inst.FunctionalScore)
		scores = append(scores, score)
		fnScores = append(fnScores, score)
		durations = append(durations, inst.DurationSeconds)

		b := inst.Breakdown
		for name, passed := range map[string]bool{
			"deployment":     b.DeploymentSuccess,
			"unit_tests":     b.UnitTestsPass,
			"functional":     b.FunctionalOutcome,
			"bulk":           b.BulkOperation,
			"no_manual":      b.NoManualIntervention,
		} {
			if passed {
				componentPass[name]++
			}
		}
	}
	sort.Strings(rep.ResolvedIDs)
	sort.Strings(rep.UnresolvedIDs)
	sort.Strings(rep.ErrorIDs)
	sort.Strings(rep.EmptyPatchIDs)
	sort.Strings(rep.CompletedIDs)

	s := Summary{
		Total:              len(rep.Instances),
		Resolved:           len(rep.ResolvedIDs),
		Unresolved:         len(rep.UnresolvedIDs),
		Errors:             len(rep.ErrorIDs),
		EmptyPatches:       len(rep.EmptyPatchIDs),
		Scores:             statsOf(scores),
		FunctionalScore:    statsOf(fnScores),
		ComponentPassRates: map[string]float64{},
	}
	if s.Total > 0 {
		s.ResolutionRate = round4(float64(s.Resolved) / float64(s.Total))
		s.ResolutionPct = round2(s.ResolutionRate * 100)
		for name, count := range componentPass {
			s.ComponentPassRates[name] = round4(float64(count) / float64(s.Total))
		}
		for _, d := range durations {
			s.TotalDuration += d
		}
		s.MeanDuration = round2(s.TotalDuration / float64(s.Total))
		s.TotalDuration = round2(s.TotalDuration)
	}
	rep.Summary = s
	return rep
}

// Write emits report.json and summary.md into dir.
func (rep *EvaluationReport) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing report.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(rep.Markdown()), 0o644); err != nil {
		return fmt.Errorf("writing summary.md: %w", err)
	}
	return nil
}

// Markdown renders the human-readable summary. The JSON stays canonical;
// this is a view.
func (rep *EvaluationReport) Markdown() string {
	var b strings.Builder
	s := rep.Summary
	fmt.Fprintf(&b, "# Evaluation Report: %s\n\n", rep.ModelName)
	fmt.Fprintf(&b, "Run `%s` on dataset `%s` (%s to %s)\n\n", rep.RunID, rep.Dataset, rep.StartTime, rep.EndTime)
	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total instances | %d |\n", s.Total)
	fmt.Fprintf(&b, "| Resolved | %d |\n", s.Resolved)
	fmt.Fprintf(&b, "| Unresolved | %d |\n", s.Unresolved)
	fmt.Fprintf(&b, "| Errors | %d |\n", s.Errors)
	fmt.Fprintf(&b, "| Empty patches | %d |\n", s.EmptyPatches)
	fmt.Fprintf(&b, "| Resolution rate | %.2f%% |\n", s.ResolutionPct)
	fmt.Fprintf(&b, "| Mean functional score | %.1f |\n\n", s.FunctionalScore.Mean)

	fmt.Fprintf(&b, "## Component pass rates\n\n")
	names := make([]string, 0, len(s.ComponentPassRates))
	for name := range s.ComponentPassRates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %.1f%%\n", name, s.ComponentPassRates[name]*100)
	}

	fmt.Fprintf(&b, "\n## Instances\n\n")
	fmt.Fprintf(&b, "| Instance | Status | Resolved | Score | Duration (s) |\n")
	fmt.Fprintf(&b, "|----------|--------|----------|-------|--------------|\n")
	for _, inst := range rep.Instances {
		fmt.Fprintf(&b, "| %s | %s | %v | %d | %.1f |\n",
			inst.InstanceID, inst.Status, inst.Resolved, inst.FunctionalScore, inst.DurationSeconds)
	}
	return b.String()
}

func statsOf(values []float64) ScoreStats {
	if len(values) == 0 {
		return ScoreStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return ScoreStats{
		Mean:   round2(sum / float64(n)),
		Median: round2(median),
		Min:    sorted[0],
		Max:    sorted[n-1],
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
func round4(f float64) float64 { return math.Round(f*10000) / 10000 }

func environmentInfo() map[string]string {
	host, _ := os.Hostname()
	return map[string]string{
		"hostname": host,
	}
}
