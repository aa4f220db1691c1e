// Package jobs tracks the progress of long-running background jobs so
// callers can poll them by id.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress holds cumulative counters of a job.
type Progress struct {
	Total          int `json:"total"`
	TotalProcessed int `json:"total_processed"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	Errors         int `json:"errors"`
}

// JobState is what pollers see.
type JobState struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type,omitempty"`
	MunicipalityID uuid.UUID       `json:"municipality_id,omitempty"`
	Year           int             `json:"year,omitempty"`
	Status         Status          `json:"status"`
	Progress       Progress        `json:"progress"`
	Message        string          `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

// Update is merged into the stored state. Zero fields leave the stored value
// untouched; descriptive fields only apply when the job is first seen.
type Update struct {
	Status         Status
	Progress       *Progress
	Message        string
	Error          string
	Result         json.RawMessage
	Type           string
	MunicipalityID uuid.UUID
	Year           int
}

// Tracker is the progress sink consulted by pollers.
type Tracker interface {
	Update(ctx context.Context, jobID uuid.UUID, update Update) (JobState, error)
	// Get returns nil when the job is unknown or has expired.
	Get(ctx context.Context, jobID uuid.UUID) (*JobState, error)
}

// DefaultRetention is how long terminal jobs stay visible.
const DefaultRetention = time.Hour

func apply(state *JobState, jobID uuid.UUID, update Update, now time.Time) {
	if state.ID == uuid.Nil {
		state.ID = jobID
		state.Type = update.Type
		state.MunicipalityID = update.MunicipalityID
		state.Year = update.Year
		state.Status = StatusStarting
		state.StartedAt = now
	}
	if update.Status != "" {
		state.Status = update.Status
	}
	if update.Progress != nil {
		state.Progress = *update.Progress
	}
	if update.Message != "" {
		state.Message = update.Message
	}
	if update.Error != "" {
		state.Error = update.Error
	}
	if len(update.Result) > 0 {
		state.Result = update.Result
	}
	state.UpdatedAt = now
	if state.Status.Terminal() && state.FinishedAt == nil {
		finished := now
		state.FinishedAt = &finished
	}
}

func expired(state JobState, now time.Time, retention time.Duration) bool {
	return state.FinishedAt != nil && now.Sub(*state.FinishedAt) >= retention
}
