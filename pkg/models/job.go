package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultMaxAttempts is the number of whole-job attempts a new job gets
// unless the caller overrides it at creation time.
const DefaultMaxAttempts = 3

// Job tracks an async bulk-generation request. The API returns a job_id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until status
// is completed or failed. Result and ErrorMessage are mutually exclusive:
// completed jobs carry a result, failed jobs carry the last attempt's error.
type Job struct {
	ID           uuid.UUID   `db:"id"            json:"id"`
	LicenseID    uuid.UUID   `db:"license_id"    json:"license_id"`
	TaskType     TaskType    `db:"task_type"     json:"task_type"`
	TaskData     TaskData    `db:"task_data"     json:"task_data"`
	Status       string      `db:"status"        json:"status"`
	Attempts     int         `db:"attempts"      json:"attempts"`
	MaxAttempts  int         `db:"max_attempts"  json:"max_attempts"`
	Progress     *Progress   `db:"progress"      json:"progress,omitempty"`
	Result       *TaskResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	TokensUsed   int64       `db:"tokens_used"   json:"tokens_used"`
	CostUSD      float64     `db:"cost_usd"      json:"cost_usd"`
	StartedAt    *time.Time  `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"    json:"updated_at"`
}

// Progress is the live view of a processing attempt, updated before each item.
// Percent never decreases within a single attempt; a retried attempt starts
// over from zero.
type Progress struct {
	Percent        int    `json:"percent"`
	ItemsCompleted int    `json:"items_completed"`
	ItemsTotal     int    `json:"items_total"`
	CurrentItem    string `json:"current_item,omitempty"`
	ETASeconds     int    `json:"eta_seconds"`
}

// NewJob validates the task payload and returns a pending job.
func NewJob(licenseID uuid.UUID, data TaskData, maxAttempts int) (*Job, error) {
	if licenseID == uuid.Nil {
		return nil, errors.New("license id is required")
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		LicenseID:   licenseID,
		TaskType:    data.Type,
		TaskData:    data,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
