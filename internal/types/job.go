package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the research job lifecycle state
type JobStatus string

// Job lifecycle states
const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ResearchJob is one submitted research request
type ResearchJob struct {
	ID            uuid.UUID   `json:"id"`
	Target        TargetInput `json:"target_input"`
	Status        JobStatus   `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CostUSD       float64     `json:"cost_usd"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// NewResearchJob creates a PENDING job for a normalized target
func NewResearchJob(target TargetInput, now time.Time) *ResearchJob {
	return &ResearchJob{
		ID:        uuid.New(),
		Target:    target.Normalized(),
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionError reports an illegal state change
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal job transition %s -> %s", e.From, e.To)
}

// Transition moves the job forward. Only PENDING->PROCESSING and
// PROCESSING->{COMPLETED,FAILED} are allowed, each exactly once.
func (j *ResearchJob) Transition(to JobStatus, now time.Time) error {
	allowed := false
	switch j.Status {
	case JobPending:
		allowed = to == JobProcessing
	case JobProcessing:
		allowed = to == JobCompleted || to == JobFailed
	}
	if !allowed {
		return &TransitionError{From: j.Status, To: to}
	}

	j.Status = to
	j.UpdatedAt = now
	switch to {
	case JobProcessing:
		j.StartedAt = &now
	case JobCompleted, JobFailed:
		j.CompletedAt = &now
	}
	return nil
}
