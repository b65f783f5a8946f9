package types

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrNoIdentity is returned for a target that carries nothing a connector can search for.
var ErrNoIdentity = errors.New("target needs a company name, person name, website or LEI")

// Validate checks field constraints and that the target is identifiable.
// Callers should validate the Normalized form.
func (t TargetInput) Validate() error {
	validate := validator.New()
	if err := validate.Struct(t); err != nil {
		return err
	}
	if !t.HasIdentity() {
		return ErrNoIdentity
	}
	return nil
}

// SubmitJobRequest is the body of a job submission.
type SubmitJobRequest struct {
	TargetInput
}

// Validate validates the normalized target.
func (r *SubmitJobRequest) Validate() error {
	return r.Normalized().Validate()
}

// SubmitJobResponse acknowledges an accepted job.
type SubmitJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobView is the status representation served for a job.
type JobView struct {
	ID            uuid.UUID   `json:"id"`
	Target        TargetInput `json:"target_input"`
	Status        JobStatus   `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CostUSD       float64     `json:"cost_usd"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	BriefReady    bool        `json:"brief_ready"`
}

// View projects a job into its served representation.
func (j *ResearchJob) View() JobView {
	return JobView{
		ID:            j.ID,
		Target:        j.Target,
		Status:        j.Status,
		FailureReason: j.FailureReason,
		CostUSD:       j.CostUSD,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		BriefReady:    j.Status == JobCompleted,
	}
}

// AskRequest is the body of a follow-up question on a completed job.
type AskRequest struct {
	Question string `json:"question" validate:"required,min=3,max=2000"`
}

// Validate trims the question and checks its length.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	return validator.New().Struct(r)
}
