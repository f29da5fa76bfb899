package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sfbench/sfbench/internal/functional"
	"github.com/sfbench/sfbench/internal/types"
)

// V1Record is the flat, pre-schema result shape emitted by early runs.
type V1Record struct {
	InstanceID string  `json:"instance_id"`
	ModelName  string  `json:"model_name"`
	Status     string  `json:"status"`
	Resolved   bool    `json:"resolved"`
	Score      float64 `json:"score"`
	Duration   float64 `json:"duration"`
	Error      string  `json:"error,omitempty"`
}

// MigrateV1 lifts a set of v1 records into a v2 report document. Scores
// missing from v1 zero-fill; the validation breakdown is synthesized from
// the resolved flag alone, since v1 never recorded per-component results.
func MigrateV1(modelName string, records []V1Record) *EvaluationReport {
	instances := make([]InstanceResult, 0, len(records))
	for _, r := range records {
		status := types.TaskStatus(r.Status)
		if status == "" {
			if r.Resolved {
				status = types.StatusPass
			} else {
				status = types.StatusFail
			}
		}
		inst := InstanceResult{
			InstanceID:      r.InstanceID,
			Status:          status,
			Resolved:        r.Resolved,
			DurationSeconds: r.Duration,
			FunctionalScore: int(r.Score),
			ErrorMessage:    r.Error,
		}
		if r.Resolved {
			inst.Breakdown = functional.Breakdown{
				DeploymentSuccess: true,
				UnitTestsPass:     true,
				FunctionalOutcome: true,
			}
		}
		instances = append(instances, inst)
	}

	now := time.Now()
	rep := Build("migrated-v1", modelName, "unknown", map[string]interface{}{}, "", now, now, instances)
	return rep
}

// LoadV1 parses a v1 results file (a JSON array of flat records).
func LoadV1(data []byte) ([]V1Record, error) {
	var records []V1Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing v1 results: %w", err)
	}
	return records, nil
}
