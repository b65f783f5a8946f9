// Package server provides the HTTP API for submitting research jobs and reading
// their status, trace and brief.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/qa"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// ErrValidation indicates a malformed request
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrBriefNotReady is returned for brief requests on jobs that have not completed
type ErrBriefNotReady struct {
	Status types.JobStatus
}

func (e *ErrBriefNotReady) Error() string {
	return fmt.Sprintf("brief not available: job is %s", e.Status)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		verr    *ErrValidation
		fields  validator.ValidationErrors
		invalid *validator.InvalidValidationError
		notYet  *ErrBriefNotReady
		planErr *types.PlanTransitionError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr), errors.As(err, &fields), errors.Is(err, types.ErrNoIdentity):
		return http.StatusBadRequest
	case errors.As(err, &invalid):
		return http.StatusInternalServerError
	case errors.Is(err, db.ErrNotFound), errors.As(err, &notYet):
		return http.StatusNotFound
	case errors.Is(err, qa.ErrJobNotCompleted), errors.Is(err, qa.ErrNoSources), errors.As(err, &planErr):
		return http.StatusConflict
	case errors.Is(err, qa.ErrResearchDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage renders validation failures field by field and passes other errors through.
func errorMessage(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err.Error()
	}
	msg := "invalid request"
	for i, fe := range fields {
		sep := ": "
		if i > 0 {
			sep = "; "
		}
		msg += sep + fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return msg
}
