// Package audit keeps an append-only trail of everything an evaluation did:
// API calls, subprocess commands, git operations, and free-form execution
// log lines. Payloads are stored as SHA-256 hashes, never verbatim, and
// secret-bearing request headers are redacted before hashing.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Redacted replaces the value of any header whose key contains key, token,
// or authorization.
const Redacted = "***REDACTED***"

// APICall is one provider request, payload hashed.
type APICall struct {
	Timestamp   string            `json:"timestamp"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Headers     map[string]string `json:"headers,omitempty"`
	PayloadHash string            `json:"payload_hash"`
}

// Command is one subprocess invocation, output hashed.
type Command struct {
	Timestamp  string `json:"timestamp"`
	Argv       string `json:"argv"`
	ExitCode   int    `json:"exit_code"`
	OutputHash string `json:"output_hash"`
}

// GitOp is one git operation against the task workspace.
type GitOp struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Detail    string `json:"detail,omitempty"`
}

// Record accumulates the audit trail for one task. InputHash covers the
// task definition plus the candidate patch; OutputHash covers the final
// result document.
type Record struct {
	EvaluationID      string                 `json:"evaluation_id,omitempty"`
	ModelName         string                 `json:"model_name,omitempty"`
	Timestamp         string                 `json:"timestamp"`
	TaskID            string                 `json:"task_id"`
	InputHash         string                 `json:"input_hash,omitempty"`
	OutputHash        string                 `json:"output_hash,omitempty"`
	OrgID             string                 `json:"org_id,omitempty"`
	APICalls          []APICall              `json:"api_calls"`
	Commands          []Command              `json:"commands"`
	GitOps            []GitOp                `json:"git_operations"`
	ExecutionLog      []string               `json:"execution_log"`
	ValidationResults map[string]interface{} `json:"validation_results,omitempty"`
	FinalStatus       string                 `json:"final_status,omitempty"`
}

// Logger owns the audit file for one evaluation. Every append rewrites the
// whole file; one writer per evaluation makes that acceptable.
type Logger struct {
	path         string
	evaluationID string
	modelName    string

	mu      sync.Mutex
	byTask  map[string]*Record
	ordered []*Record
}

// NewLogger writes the audit trail for one evaluation to path.
func NewLogger(path, evaluationID, modelName string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return &Logger{
		path:         path,
		evaluationID: evaluationID,
		modelName:    modelName,
		byTask:       map[string]*Record{},
	}, nil
}

func (l *Logger) record(taskID string) *Record {
	r, ok := l.byTask[taskID]
	if !ok {
		r = &Record{
			EvaluationID: l.evaluationID,
			ModelName:    l.modelName,
			Timestamp:    time.Now().Format(time.RFC3339),
			TaskID:       taskID,
		}
		l.byTask[taskID] = r
		l.ordered = append(l.ordered, r)
	}
	return r
}

// LogInput hashes the task's input (definition plus patch) into the record.
func (l *Logger) LogInput(taskID string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(taskID).InputHash = HashPayload(payload)
	return l.flushLocked()
}

// SetOrgID stamps the record with the org the task ran against.
func (l *Logger) SetOrgID(taskID, orgID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(taskID).OrgID = orgID
	return l.flushLocked()
}

// Finalize stamps the record with the task's outcome: final status, the
// validation detail map, and a hash of the result document.
func (l *Logger) Finalize(taskID, finalStatus string, validation map[string]interface{}, output []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(taskID)
	r.FinalStatus = finalStatus
	r.ValidationResults = validation
	r.OutputHash = HashPayload(output)
	return l.flushLocked()
}

// LogAPICall records a provider request. Headers are redacted before both
// storage and hashing.
func (l *Logger) LogAPICall(taskID, provider, model string, headers map[string]string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(taskID)
	r.APICalls = append(r.APICalls, APICall{
		Timestamp:   time.Now().Format(time.RFC3339),
		Provider:    provider,
		Model:       model,
		Headers:     RedactHeaders(headers),
		PayloadHash: HashPayload(payload),
	})
	return l.flushLocked()
}

// LogCommand records a subprocess invocation.
func (l *Logger) LogCommand(taskID, argv string, exitCode int, output []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(taskID)
	r.Commands = append(r.Commands, Command{
		Timestamp:  time.Now().Format(time.RFC3339),
		Argv:       argv,
		ExitCode:   exitCode,
		OutputHash: HashPayload(output),
	})
	return l.flushLocked()
}

// LogGitOp records a git operation.
func (l *Logger) LogGitOp(taskID, operation, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(taskID)
	r.GitOps = append(r.GitOps, GitOp{
		Timestamp: time.Now().Format(time.RFC3339),
		Operation: operation,
		Detail:    detail,
	})
	return l.flushLocked()
}

// Logf appends a free-form execution log line.
func (l *Logger) Logf(taskID, format string, args ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.record(taskID)
	r.ExecutionLog = append(r.ExecutionLog,
		fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...)))
	return l.flushLocked()
}

// Summary counts entries per task, for the audit report subcommand.
func (l *Logger) Summary() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.ordered))
	for _, r := range l.ordered {
		out[r.TaskID] = len(r.APICalls) + len(r.Commands) + len(r.GitOps) + len(r.ExecutionLog)
	}
	return out
}

func (l *Logger) flushLocked() error {
	data, err := json.MarshalIndent(l.ordered, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding audit log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// Load reads an audit file back, for the audit report subcommand.
func Load(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing audit log: %w", err)
	}
	return records, nil
}

// TrailSummary aggregates an audit trail: counts per final status and per
// operation class.
type TrailSummary struct {
	Tasks    int            `json:"tasks"`
	ByStatus map[string]int `json:"by_status"`
	APICalls int            `json:"api_calls"`
	Commands int            `json:"commands"`
	GitOps   int            `json:"git_operations"`
	LogLines int            `json:"log_lines"`
}

// Summarize rolls loaded records up for the audit subcommand.
func Summarize(records []*Record) TrailSummary {
	s := TrailSummary{ByStatus: map[string]int{}}
	for _, r := range records {
		s.Tasks++
		status := r.FinalStatus
		if status == "" {
			status = "UNKNOWN"
		}
		s.ByStatus[status]++
		s.APICalls += len(r.APICalls)
		s.Commands += len(r.Commands)
		s.GitOps += len(r.GitOps)
		s.LogLines += len(r.ExecutionLog)
	}
	return s
}

// RedactHeaders returns a copy of headers with secret-bearing values
// replaced. The match is on the key, case-insensitive.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") ||
			strings.Contains(lower, "token") ||
			strings.Contains(lower, "authorization") {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// HashPayload returns the hex SHA-256 of a payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
