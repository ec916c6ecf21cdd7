package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TypeAssessmentRun = "assessment:run"
	TypeCleanupRuns   = "cleanup:runs"
)

// AssessmentRunPayload is the payload for compliance run tasks
type AssessmentRunPayload struct {
	RunID       string   `json:"run_id"`
	TenantID    string   `json:"tenant_id"`
	Checks      []string `json:"checks"`
	RequestedBy string   `json:"requested_by"`
}

// NewAssessmentRunTask creates a new compliance run task
func NewAssessmentRunTask(payload AssessmentRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAssessmentRun, data), nil
}

// NewCleanupRunsTask creates a new cleanup task
func NewCleanupRunsTask() *asynq.Task {
	return asynq.NewTask(TypeCleanupRuns, nil)
}
