package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server/middleware"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

const maxRequestBody = 64 << 10

// JobListResponse is the body of GET /jobs
type JobListResponse struct {
	Jobs   []types.JobView `json:"jobs"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// TraceResponse is the body of GET /jobs/{id}/trace
type TraceResponse struct {
	JobID  uuid.UUID          `json:"job_id"`
	Status types.JobStatus    `json:"status"`
	Events []types.TraceEvent `json:"events"`
}

// SourcesResponse is the body of GET /jobs/{id}/sources
type SourcesResponse struct {
	JobID   uuid.UUID      `json:"job_id"`
	Sources []types.Source `json:"sources"`
}

// handleSubmitJob validates a target, creates a PENDING job and queues it
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req types.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, HTTPStatus(err), errorMessage(err))
		return
	}

	job, err := s.submitter.Create(r.Context(), req.TargetInput)
	if err != nil {
		s.logger.Error("failed to create job", "error", err)
		s.errorResponse(w, HTTPStatus(err), errorMessage(err))
		return
	}

	if err := s.queue.Submit(job); err != nil {
		if rerr := s.submitter.Reject(r.Context(), job, err); rerr != nil {
			s.logger.Error("failed to reject job", "job_id", job.ID, "error", rerr)
		}
		s.logger.Warn("job not queued", "job_id", job.ID, "error", err)
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	subject, _ := middleware.Subject(r)
	s.logger.Info("job submitted", "job_id", job.ID, "subject", subject,
		"company", job.Target.CompanyName, "person", job.Target.PersonName)

	w.Header().Set("Location", "/jobs/"+job.ID.String())
	s.jsonResponse(w, http.StatusAccepted, types.SubmitJobResponse{JobID: job.ID, Status: job.Status})
}

// handleListJobs lists jobs newest first with optional status filter
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := db.JobFilters{Limit: 50}

	if status := q.Get("status"); status != "" {
		st := types.JobStatus(status)
		switch st {
		case types.JobPending, types.JobProcessing, types.JobCompleted, types.JobFailed:
			filters.Status = st
		default:
			s.errorResponse(w, http.StatusBadRequest, "invalid status: "+status)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filters.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filters.Offset = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filters)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	views := make([]types.JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].View())
	}
	s.jsonResponse(w, http.StatusOK, JobListResponse{Jobs: views, Limit: filters.Limit, Offset: filters.Offset})
}

// handleGetJob returns job status
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, job.View())
}

// handleGetTrace returns stored trace events, optionally after a sequence number
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	after, err := parseAfterSeq(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.jobs.ListTraceEvents(r.Context(), job.ID, after)
	if err != nil {
		s.logger.Error("failed to list trace events", "job_id", job.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load trace")
		return
	}
	if events == nil {
		events = []types.TraceEvent{}
	}
	s.jsonResponse(w, http.StatusOK, TraceResponse{JobID: job.ID, Status: job.Status, Events: events})
}

// handleGetBrief returns the brief of a completed job
func (s *Server) handleGetBrief(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != types.JobCompleted {
		err := &ErrBriefNotReady{Status: job.Status}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	brief, err := s.jobs.GetBrief(r.Context(), job.ID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Brief not found")
			return
		}
		s.logger.Error("failed to load brief", "job_id", job.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load brief")
		return
	}
	s.jsonResponse(w, http.StatusOK, brief)
}

// handleGetSources returns the job's source table
func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	sources, err := s.jobs.ListSources(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("failed to list sources", "job_id", job.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load sources")
		return
	}
	if sources == nil {
		sources = []types.Source{}
	}
	s.jsonResponse(w, http.StatusOK, SourcesResponse{JobID: job.ID, Sources: sources})
}

// loadJob parses the {id} path value and loads the job, writing the error response
// itself when it returns false.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*types.ResearchJob, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return nil, false
	}

	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Job not found")
			return nil, false
		}
		s.logger.Error("failed to load job", "job_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load job")
		return nil, false
	}
	return job, true
}

// parseAfterSeq reads the resume point from after_seq or the SSE Last-Event-ID header.
func parseAfterSeq(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("after_seq")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: "after_seq", Message: "must be a non-negative integer"}
	}
	return n, nil
}
