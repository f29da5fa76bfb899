// Package checkpoint persists run progress so an interrupted evaluation can
// resume without redoing finished tasks. Integrity is enforced with a
// SHA-256 over the record; a checkpoint that fails verification is treated
// as absent.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/sfbench/sfbench/internal/types"
)

// Checkpoint is the on-disk resume record for one evaluation.
type Checkpoint struct {
	EvaluationID   string                       `json:"evaluation_id"`
	ModelName      string                       `json:"model_name"`
	Timestamp      string                       `json:"timestamp"`
	CompletedTasks []string                     `json:"completed_tasks"`
	Results        map[string]*types.TaskResult `json:"results"`
	// CheckpointHash is the SHA-256 of this record with the hash field
	// empty. Any bit flip elsewhere invalidates it.
	CheckpointHash string `json:"checkpoint_hash"`
}

// Manager reads and writes checkpoints in one directory.
type Manager struct {
	dir string
}

// NewManager creates the checkpoint directory if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &Manager{dir: dir}, nil
}

func (m *Manager) pathFor(evaluationID string) string {
	return filepath.Join(m.dir, evaluationID+"_checkpoint.json")
}

// ComputeHash hashes the record with the hash field omitted. JSON object
// keys marshal in sorted order, so the digest is deterministic.
func ComputeHash(cp *Checkpoint) (string, error) {
	clone := *cp
	clone.CheckpointHash = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("encoding checkpoint for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes the checkpoint atomically: marshal to a temp file in the same
// directory, then rename over the target.
func (m *Manager) Save(cp *Checkpoint) error {
	cp.Timestamp = time.Now().Format(time.RFC3339)
	sort.Strings(cp.CompletedTasks)

	hash, err := ComputeHash(cp)
	if err != nil {
		return err
	}
	cp.CheckpointHash = hash

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	target := m.pathFor(cp.EvaluationID)
	tmp, err := os.CreateTemp(m.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	// Sibling digest file for external consumers; the embedded hash stays
	// authoritative on load.
	if err := os.WriteFile(target+".sha256", []byte(hash+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing checkpoint digest: %w", err)
	}
	return nil
}

// Load returns the checkpoint for an evaluation, or nil when none exists or
// the stored hash does not verify. Corruption is logged at ERROR, never
// propagated: a bad checkpoint just means a fresh start.
func (m *Manager) Load(evaluationID string) *Checkpoint {
	data, err := os.ReadFile(m.pathFor(evaluationID))
	if err != nil {
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		color.Red("ERROR: checkpoint for %s is not valid JSON, ignoring it", evaluationID)
		return nil
	}

	want := cp.CheckpointHash
	got, err := ComputeHash(&cp)
	if err != nil || want == "" || got != want {
		color.Red("ERROR: checkpoint for %s failed hash verification, ignoring it", evaluationID)
		return nil
	}
	return &cp
}

// IsCompleted reports whether a task is in the completed set.
func (cp *Checkpoint) IsCompleted(taskID string) bool {
	if cp == nil {
		return false
	}
	for _, id := range cp.CompletedTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// MarkCompleted records a finished task and its result.
func (cp *Checkpoint) MarkCompleted(taskID string, result *types.TaskResult) {
	if cp.Results == nil {
		cp.Results = map[string]*types.TaskResult{}
	}
	if !cp.IsCompleted(taskID) {
		cp.CompletedTasks = append(cp.CompletedTasks, taskID)
	}
	cp.Results[taskID] = result
}

// Entry describes one stored checkpoint, for the listing subcommand.
type Entry struct {
	EvaluationID string
	ModelName    string
	Timestamp    string
	Completed    int
	Valid        bool
}

// List enumerates every checkpoint in the directory, flagging the ones that
// no longer verify.
func (m *Manager) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*_checkpoint.json"))
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	sort.Strings(matches)

	var entries []Entry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			entries = append(entries, Entry{EvaluationID: filepath.Base(path), Valid: false})
			continue
		}
		got, err := ComputeHash(&cp)
		entries = append(entries, Entry{
			EvaluationID: cp.EvaluationID,
			ModelName:    cp.ModelName,
			Timestamp:    cp.Timestamp,
			Completed:    len(cp.CompletedTasks),
			Valid:        err == nil && cp.CheckpointHash != "" && got == cp.CheckpointHash,
		})
	}
	return entries, nil
}

// EvaluationHash computes the provenance hash written into the report:
// SHA-256 over the model name, the tasks file's content hash, and the
// resolved configuration.
func EvaluationHash(modelName string, tasksFile string, cfg map[string]interface{}) (string, error) {
	tasksData, err := os.ReadFile(tasksFile)
	if err != nil {
		return "", fmt.Errorf("reading tasks file: %w", err)
	}
	tasksSum := sha256.Sum256(tasksData)

	payload := map[string]interface{}{
		"model_name":        modelName,
		"tasks_file_sha256": hex.EncodeToString(tasksSum[:]),
		"config":            cfg,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding provenance payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
