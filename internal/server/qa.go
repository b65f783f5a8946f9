package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/qa"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Answerer answers follow-up questions and runs micro-research plans. Implemented by qa.Service.
type Answerer interface {
	Ask(ctx context.Context, jobID uuid.UUID, question string) (*qa.Answer, error)
	List(ctx context.Context, jobID uuid.UUID) (*qa.History, error)
	RunPlan(ctx context.Context, jobID, planID uuid.UUID) (*qa.RunResult, error)
}

// handleAsk answers a question over a completed job's sources
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Invalid job ID")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req types.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, HTTPStatus(err), errorMessage(err))
		return
	}

	answer, err := s.qa.Ask(r.Context(), id, req.Question)
	if err != nil {
		s.qaError(w, id, "answer question", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, answer)
}

// handleListQA returns a job's answers and plans
func (s *Server) handleListQA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Invalid job ID")
	if !ok {
		return
	}
	history, err := s.qa.List(r.Context(), id)
	if err != nil {
		s.qaError(w, id, "list qa", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, history)
}

// handleRunPlan runs a proposed micro-research plan and returns the updated answer
func (s *Server) handleRunPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id", "Invalid job ID")
	if !ok {
		return
	}
	planID, ok := s.pathID(w, r, "plan_id", "Invalid plan ID")
	if !ok {
		return
	}
	result, err := s.qa.RunPlan(r.Context(), id, planID)
	if err != nil {
		s.qaError(w, id, "run micro plan", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) qaError(w http.ResponseWriter, jobID uuid.UUID, action string, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("failed to "+action, "job_id", jobID, "error", err)
	}
	s.errorResponse(w, status, errorMessage(err))
}

// pathID parses a uuid path value, writing the error response itself when it returns false.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name, invalidMsg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, invalidMsg)
		return uuid.Nil, false
	}
	return id, true
}
