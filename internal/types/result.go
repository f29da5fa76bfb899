package types

import "time"

// TaskStatus is the outcome of a single task evaluation.
type TaskStatus string

const (
	// StatusPass means the validation criteria were met.
	StatusPass TaskStatus = "PASS"
	// StatusFail means the criteria were not met. This covers every
	// model-attributable failure: failed validation commands, unapplicable
	// patches, and platform limitations induced by the solution.
	StatusFail TaskStatus = "FAIL"
	// StatusTimeout means a step exceeded its configured budget.
	StatusTimeout TaskStatus = "TIMEOUT"
	// StatusError is reserved for unexpected tool failures. It must never be
	// used for a failure the model is responsible for.
	StatusError TaskStatus = "ERROR"
)

// TaskResult is the per-task artifact written to <results>/<task_id>.json.
// It is created once by a runner and never mutated afterwards.
type TaskResult struct {
	TaskID       string                 `json:"task_id"`
	Status       TaskStatus             `json:"status"`
	Duration     float64                `json:"duration"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ExecutionLog []string               `json:"execution_log,omitempty"`
	Timestamp    string                 `json:"timestamp"`
}

// NewTaskResult stamps a result with the current time.
func NewTaskResult(taskID string, status TaskStatus, duration time.Duration) *TaskResult {
	return &TaskResult{
		TaskID:    taskID,
		Status:    status,
		Duration:  duration.Seconds(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// RunStatistics aggregates result counts for summary.json.
type RunStatistics struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Timeout  int     `json:"timeout"`
	Error    int     `json:"error"`
	PassRate float64 `json:"pass_rate"`
}

// CalculatePassRate computes the statistics block from a result set.
func CalculatePassRate(results []*TaskResult) RunStatistics {
	stats := RunStatistics{Total: len(results)}
	if stats.Total == 0 {
		return stats
	}

	for _, r := range results {
		switch r.Status {
		case StatusPass:
			stats.Passed++
		case StatusFail:
			stats.Failed++
		case StatusTimeout:
			stats.Timeout++
		case StatusError:
			stats.Error++
		}
	}

	stats.PassRate = float64(stats.Passed) / float64(stats.Total) * 100
	// Two decimal places, matching the on-disk summary format.
	stats.PassRate = float64(int(stats.PassRate*100+0.5)) / 100

	return stats
}
