package orchestrator

import (
	"errors"
	"fmt"
)

// Failure reasons recorded on FAILED jobs
const (
	ReasonNoPlanSteps       = "no_plan_steps"
	ReasonUnresolved        = "unresolved"
	ReasonAllSectionsFailed = "all_sections_failed"
	ReasonTimeout           = "timeout"
	ReasonCanceled          = "canceled"
	ReasonInvalidBrief      = "invalid_brief"
	ReasonStoreError        = "store_error"
	ReasonRejected          = "rejected"
	ReasonInterrupted       = "interrupted"
	ReasonInternal          = "internal"
)

// ErrTimeout is the cause of jobs that exceeded the global wall-clock budget
var ErrTimeout = errors.New("job timed out")

// ErrQueueFull is returned by Pool.Submit when every queue slot is taken
var ErrQueueFull = errors.New("job queue is full")

// ErrPoolClosed is returned by Pool.Submit after Shutdown
var ErrPoolClosed = errors.New("job pool is shut down")

// FatalError ends a job in FAILED. Reason is the stable string persisted on the job.
type FatalError struct {
	Reason  string
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Reason extracts the failure reason from err, or "" when err is not a FatalError.
func Reason(err error) string {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
