package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRedactHeaders(t *testing.T) {
	headers := map[string]string{
		"Authorization":   "Bearer sk-secret",
		"X-Api-Key":       "sk-ant-12345",
		"X-Session-Token": "tok_99",
		"Content-Type":    "application/json",
	}
	got := RedactHeaders(headers)
	for _, k := range []string{"Authorization", "X-Api-Key", "X-Session-Token"} {
		if got[k] != Redacted {
			t.Errorf("%s not redacted: %q", k, got[k])
		}
	}
	if got["Content-Type"] != "application/json" {
		t.Error("benign headers must pass through")
	}
	if headers["Authorization"] != "Bearer sk-secret" {
		t.Error("input map must not be mutated")
	}
}

func TestLoggerNeverStoresSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	l, err := NewLogger(path, "eval-1", "claude-sonnet-4")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.LogAPICall("task-1", "anthropic", "claude-sonnet-4",
		map[string]string{"x-api-key": "sk-ant-supersecret"},
		[]byte(`{"prompt": "fix the trigger"}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.LogCommand("task-1", "sf org create scratch", 0, []byte("output")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "supersecret") {
		t.Fatal("secret leaked into the audit file")
	}
	if strings.Contains(string(data), "fix the trigger") {
		t.Error("payloads must be hashed, not stored verbatim")
	}
	if !strings.Contains(string(data), Redacted) {
		t.Error("expected the redaction marker in stored headers")
	}
}

func TestLoggerAccumulatesPerTask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	l, err := NewLogger(path, "eval-1", "claude-sonnet-4")
	if err != nil {
		t.Fatal(err)
	}
	l.LogGitOp("task-1", "clone", "https://github.com/example/repo")
	l.LogGitOp("task-1", "checkout", "abc1234")
	l.Logf("task-2", "setup started for %s", "task-2")

	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(records))
	}
	if records[0].TaskID != "task-1" || len(records[0].GitOps) != 2 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if len(records[1].ExecutionLog) != 1 {
		t.Errorf("unexpected second record: %+v", records[1])
	}

	summary := l.Summary()
	if summary["task-1"] != 2 || summary["task-2"] != 1 {
		t.Errorf("unexpected summary: %v", summary)
	}
}

func TestAuditFileIsValidJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	l, err := NewLogger(path, "eval-1", "claude-sonnet-4")
	if err != nil {
		t.Fatal(err)
	}
	l.Logf("t", "one line")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var arr []map[string]interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("audit file is not a JSON array: %v", err)
	}
}

func TestRecordCarriesEvaluationIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	l, err := NewLogger(path, "eval-42", "claude-opus-4")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.LogInput("task-1", []byte(`{"instance_id": "task-1"}diff`)); err != nil {
		t.Fatal(err)
	}
	if err := l.SetOrgID("task-1", "00D000000000001"); err != nil {
		t.Fatal(err)
	}
	if err := l.Finalize("task-1", "PASS",
		map[string]interface{}{"functional_score": 100.0},
		[]byte(`{"status": "PASS"}`)); err != nil {
		t.Fatal(err)
	}

	records, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.EvaluationID != "eval-42" || r.ModelName != "claude-opus-4" {
		t.Errorf("identity not stamped: %+v", r)
	}
	if r.Timestamp == "" {
		t.Error("expected a timestamp on the record")
	}
	if r.OrgID != "00D000000000001" {
		t.Errorf("org id = %q", r.OrgID)
	}
	if r.FinalStatus != "PASS" {
		t.Errorf("final status = %q", r.FinalStatus)
	}
	if r.ValidationResults["functional_score"] != 100.0 {
		t.Errorf("validation results = %v", r.ValidationResults)
	}
	if r.InputHash != HashPayload([]byte(`{"instance_id": "task-1"}diff`)) {
		t.Errorf("input hash mismatch: %q", r.InputHash)
	}
	if r.OutputHash != HashPayload([]byte(`{"status": "PASS"}`)) {
		t.Errorf("output hash mismatch: %q", r.OutputHash)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "instance_id") {
		t.Error("input payload must be hashed, not stored verbatim")
	}
}

func TestSummarizeRollsUpTrail(t *testing.T) {
	records := []*Record{
		{TaskID: "a", FinalStatus: "PASS",
			Commands: []Command{{}, {}}, GitOps: []GitOp{{}}},
		{TaskID: "b", FinalStatus: "FAIL",
			APICalls: []APICall{{}}, ExecutionLog: []string{"x", "y"}},
		{TaskID: "c"},
	}
	s := Summarize(records)
	if s.Tasks != 3 {
		t.Fatalf("tasks = %d", s.Tasks)
	}
	if s.ByStatus["PASS"] != 1 || s.ByStatus["FAIL"] != 1 || s.ByStatus["UNKNOWN"] != 1 {
		t.Errorf("by status = %v", s.ByStatus)
	}
	if s.APICalls != 1 || s.Commands != 2 || s.GitOps != 1 || s.LogLines != 2 {
		t.Errorf("unexpected rollup: %+v", s)
	}
}

func TestHashPayloadStable(t *testing.T) {
	a := HashPayload([]byte("same"))
	b := HashPayload([]byte("same"))
	if a != b || len(a) != 64 {
		t.Errorf("hash not stable hex sha256: %q %q", a, b)
	}
}
