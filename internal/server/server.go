package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server/middleware"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server/ratelimit"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// JobReader serves persisted job state. Implemented by db.DB and orchestrator.MemoryStore.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*types.ResearchJob, error)
	ListJobs(ctx context.Context, filters db.JobFilters) ([]types.ResearchJob, error)
	ListTraceEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]types.TraceEvent, error)
	GetBrief(ctx context.Context, jobID uuid.UUID) (*types.BriefDocument, error)
	ListSources(ctx context.Context, jobID uuid.UUID) ([]types.Source, error)
}

// JobSubmitter creates jobs. Implemented by orchestrator.Orchestrator.
type JobSubmitter interface {
	Create(ctx context.Context, target types.TargetInput) (*types.ResearchJob, error)
	Reject(ctx context.Context, job *types.ResearchJob, cause error) error
}

// JobQueue accepts created jobs for background execution. Implemented by orchestrator.Pool.
type JobQueue interface {
	Submit(job *types.ResearchJob) error
}

// Options configures a Server
type Options struct {
	Port      int
	Jobs      JobReader
	Submitter JobSubmitter
	Queue     JobQueue
	// Hub exposes traces of running jobs; without it streams poll the store
	Hub *tracing.Hub
	// JWT enables bearer auth on the /jobs routes when set
	JWT       *JWTService
	RateLimit *ratelimit.Config
	// QA enables the follow-up question routes when set
	QA Answerer
	// Ping reports backing store health for /health; nil means always healthy
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

// Server is the HTTP API
type Server struct {
	httpServer   *http.Server
	jobs         JobReader
	submitter    JobSubmitter
	queue        JobQueue
	hub          *tracing.Hub
	qa           Answerer
	rateLimiter  *ratelimit.Limiter
	ping         func(ctx context.Context) error
	logger       *slog.Logger
	pollInterval time.Duration
	keepAlive    time.Duration
}

// New creates a server and its routes
func New(opts Options) (*Server, error) {
	if opts.Jobs == nil || opts.Submitter == nil || opts.Queue == nil {
		return nil, errors.New("server: job reader, submitter and queue are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Port == 0 {
		opts.Port = 8080
	}

	s := &Server{
		jobs:         opts.Jobs,
		submitter:    opts.Submitter,
		queue:        opts.Queue,
		hub:          opts.Hub,
		qa:           opts.QA,
		rateLimiter:  ratelimit.NewLimiter(opts.RateLimit),
		ping:         opts.Ping,
		logger:       opts.Logger,
		pollInterval: time.Second,
		keepAlive:    15 * time.Second,
	}

	var validator middleware.TokenValidator
	if opts.JWT != nil {
		validator = opts.JWT.AsTokenValidator()
	}
	auth := middleware.AuthMiddleware(validator)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /jobs", auth(http.HandlerFunc(s.handleSubmitJob)))
	mux.Handle("GET /jobs", auth(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /jobs/{id}", auth(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("GET /jobs/{id}/trace", auth(http.HandlerFunc(s.handleGetTrace)))
	mux.Handle("GET /jobs/{id}/brief", auth(http.HandlerFunc(s.handleGetBrief)))
	mux.Handle("GET /jobs/{id}/sources", auth(http.HandlerFunc(s.handleGetSources)))
	mux.Handle("GET /jobs/{id}/stream", auth(http.HandlerFunc(s.handleStream)))
	mux.Handle("GET /jobs/{id}/ws", auth(http.HandlerFunc(s.handleWebSocket)))
	if s.qa != nil {
		mux.Handle("POST /jobs/{id}/qa", auth(http.HandlerFunc(s.handleAsk)))
		mux.Handle("GET /jobs/{id}/qa", auth(http.HandlerFunc(s.handleListQA)))
		mux.Handle("POST /jobs/{id}/qa/plans/{plan_id}/run", auth(http.HandlerFunc(s.handleRunPlan)))
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams are long-lived; handlers set their own write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer s.rateLimiter.Stop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over their per-endpoint budget
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logs. It forwards Flush and
// Hijack so SSE and websocket handlers keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	return h.Hijack()
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID returns the client IP from RemoteAddr. Forwarded headers are not
// trusted.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 with the limit state
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Warn("rate limit exceeded",
		"client", extractClientID(r), "method", r.Method, "path", r.URL.Path, "limit", info.Limit)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
