package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/types"
)

func sampleInstances() []InstanceResult {
	return []InstanceResult{
		{
			InstanceID: "apex-001", Status: types.StatusPass, Resolved: true,
			FunctionalScore: 100, DurationSeconds: 120,
			Breakdown: functional.Breakdown{DeploymentSuccess: true, UnitTestsPass: true, FunctionalOutcome: true, BulkOperation: true, NoManualIntervention: true},
		},
		{
			InstanceID: "flow-002", Status: types.StatusFail, Resolved: false,
			FunctionalScore: 30, DurationSeconds: 90,
			Breakdown: functional.Breakdown{DeploymentSuccess: true, UnitTestsPass: true},
		},
		{
			InstanceID: "lwc-003", Status: types.StatusError,
			FunctionalScore: 0, DurationSeconds: 10,
			ErrorMessage: "tool trouble",
		},
		{
			InstanceID: "deploy-004", Status: types.StatusFail, EmptyPatch: true,
			FunctionalScore: 0, DurationSeconds: 5,
		},
	}
}

func TestBuildSummary(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	rep := Build("run-1", "claude-sonnet-4", "sf-bench-lite", map[string]interface{}{"max_workers": 3},
		"abc123", start, time.Now(), sampleInstances())

	s := rep.Summary
	if s.Total != 4 || s.Resolved != 1 || s.Unresolved != 2 || s.Errors != 1 || s.EmptyPatches != 1 {
		t.Fatalf("counts wrong: %+v", s)
	}
	if s.ResolutionRate != 0.25 || s.ResolutionPct != 25.0 {
		t.Errorf("resolution rate: %v / %v", s.ResolutionRate, s.ResolutionPct)
	}
	if s.Scores.Max != 100 || s.Scores.Min != 0 {
		t.Errorf("score stats: %+v", s.Scores)
	}
	if s.Scores.Median != 15 {
		t.Errorf("median = %v, want 15", s.Scores.Median)
	}
	if got := s.ComponentPassRates["deployment"]; got != 0.5 {
		t.Errorf("deployment pass rate = %v", got)
	}

	if rep.SchemaVersion != "2.0" {
		t.Errorf("schema version = %s", rep.SchemaVersion)
	}
	if len(rep.ResolvedIDs) != 1 || rep.ResolvedIDs[0] != "apex-001" {
		t.Errorf("resolved ids: %v", rep.ResolvedIDs)
	}
	if len(rep.ErrorIDs) != 1 || rep.ErrorIDs[0] != "lwc-003" {
		t.Errorf("error ids: %v", rep.ErrorIDs)
	}
	if len(rep.EmptyPatchIDs) != 1 || rep.EmptyPatchIDs[0] != "deploy-004" {
		t.Errorf("empty patch ids: %v", rep.EmptyPatchIDs)
	}
	if len(rep.CompletedIDs) != 4 {
		t.Errorf("completed ids: %v", rep.CompletedIDs)
	}
}

func TestWriteEmitsBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	rep := Build("run-1", "m", "d", nil, "", time.Now(), time.Now(), sampleInstances())
	if err := rep.Write(dir); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded EvaluationReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report.json is not valid JSON: %v", err)
	}
	if decoded.SchemaVersion != SchemaVersion || len(decoded.Instances) != 4 {
		t.Errorf("round trip lost data: %+v", decoded.Summary)
	}

	md, err := os.ReadFile(filepath.Join(dir, "summary.md"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"apex-001", "Resolution rate", "25.00%"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("summary.md missing %q", want)
		}
	}
}

func TestFromTaskResult(t *testing.T) {
	r := &types.TaskResult{
		TaskID:   "apex-001",
		Status:   types.StatusPass,
		Duration: 42.5,
		Details: map[string]interface{}{
			"resolved":         true,
			"functional_score": 80,
			"patch_strategy":   "git apply",
			"functional_breakdown": functional.Breakdown{
				DeploymentSuccess: true, UnitTestsPass: true, FunctionalOutcome: true,
			},
		},
	}
	inst := FromTaskResult(r)
	if !inst.Resolved || inst.FunctionalScore != 80 || inst.PatchStrategy != "git apply" {
		t.Errorf("instance: %+v", inst)
	}
	if !inst.Breakdown.Resolved() {
		t.Error("breakdown lost")
	}
}

func TestFromTaskResultAfterJSONRoundTrip(t *testing.T) {
	// Checkpoint resume hands back details that went through JSON; the
	// breakdown arrives as a generic map.
	r := &types.TaskResult{TaskID: "t", Status: types.StatusPass}
	data, _ := json.Marshal(map[string]interface{}{
		"resolved":         true,
		"functional_score": float64(70),
		"functional_breakdown": map[string]interface{}{
			"deployment_success": true,
			"unit_tests_pass":    true,
			"functional_outcome": true,
		},
	})
	json.Unmarshal(data, &r.Details)

	inst := FromTaskResult(r)
	if inst.FunctionalScore != 70 || !inst.Breakdown.Resolved() {
		t.Errorf("instance after round trip: %+v", inst)
	}
}

func TestMigrateV1PreservesInstanceSet(t *testing.T) {
	records := []V1Record{
		{InstanceID: "a", Resolved: true, Score: 90, Duration: 10},
		{InstanceID: "b", Resolved: false, Duration: 20},
		{InstanceID: "c", Status: "ERROR", Error: "boom"},
	}
	rep := MigrateV1("old-model", records)

	if len(rep.Instances) != 3 {
		t.Fatalf("instances = %d", len(rep.Instances))
	}
	ids := map[string]bool{}
	for _, inst := range rep.Instances {
		ids[inst.InstanceID] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !ids[want] {
			t.Errorf("migrated report lost instance %s", want)
		}
	}

	var a, b InstanceResult
	for _, inst := range rep.Instances {
		switch inst.InstanceID {
		case "a":
			a = inst
		case "b":
			b = inst
		}
	}
	if a.FunctionalScore != 90 || !a.Breakdown.Resolved() {
		t.Errorf("resolved record migrated wrong: %+v", a)
	}
	if b.FunctionalScore != 0 || b.Breakdown != (functional.Breakdown{}) {
		t.Errorf("unresolved record must zero-fill: %+v", b)
	}
	if rep.Summary.Resolved != 1 || rep.Summary.Errors != 1 {
		t.Errorf("summary: %+v", rep.Summary)
	}
}

func TestLoadV1(t *testing.T) {
	records, err := LoadV1([]byte(`[{"instance_id": "x", "resolved": true, "score": 55}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Score != 55 {
		t.Errorf("records: %+v", records)
	}
	if _, err := LoadV1([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestStatsOf(t *testing.T) {
	s := statsOf([]float64{10, 20, 30, 40})
	if s.Mean != 25 || s.Median != 25 || s.Min != 10 || s.Max != 40 {
		t.Errorf("stats: %+v", s)
	}
	odd := statsOf([]float64{1, 100, 3})
	if odd.Median != 3 {
		t.Errorf("odd median = %v", odd.Median)
	}
	if z := statsOf(nil); z != (ScoreStats{}) {
		t.Errorf("empty stats should zero: %+v", z)
	}
}
