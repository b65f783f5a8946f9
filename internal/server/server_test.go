package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/config"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/server/ratelimit"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

type fakeSubmitter struct {
	store    *orchestrator.MemoryStore
	rejected []uuid.UUID
}

func (f *fakeSubmitter) Create(ctx context.Context, target types.TargetInput) (*types.ResearchJob, error) {
	job := types.NewResearchJob(target, time.Now())
	if err := f.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (f *fakeSubmitter) Reject(ctx context.Context, job *types.ResearchJob, _ error) error {
	f.rejected = append(f.rejected, job.ID)
	now := time.Now()
	if err := job.Transition(types.JobProcessing, now); err != nil {
		return err
	}
	job.FailureReason = orchestrator.ReasonRejected
	if err := job.Transition(types.JobFailed, now); err != nil {
		return err
	}
	return f.store.UpdateJob(ctx, job)
}

type fakeQueue struct {
	err  error
	jobs []*types.ResearchJob
}

func (q *fakeQueue) Submit(job *types.ResearchJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type testServer struct {
	*Server
	store     *orchestrator.MemoryStore
	submitter *fakeSubmitter
	queue     *fakeQueue
	hub       *tracing.Hub
}

func newTestServer(t *testing.T, configure ...func(*Options)) *testServer {
	t.Helper()
	store := orchestrator.NewMemoryStore()
	submitter := &fakeSubmitter{store: store}
	queue := &fakeQueue{}
	hub := tracing.NewHub()

	opts := Options{
		Jobs:      store,
		Submitter: submitter,
		Queue:     queue,
		Hub:       hub,
		RateLimit: &ratelimit.Config{Enabled: false},
	}
	for _, fn := range configure {
		fn(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	s.pollInterval = 10 * time.Millisecond
	t.Cleanup(s.rateLimiter.Stop)

	return &testServer{Server: s, store: store, submitter: submitter, queue: queue, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// seedJob stores a job that has been driven to status.
func (ts *testServer) seedJob(t *testing.T, status types.JobStatus) *types.ResearchJob {
	t.Helper()
	ctx := context.Background()
	job := types.NewResearchJob(types.TargetInput{CompanyName: "Acme Robotics"}, time.Now())
	require.NoError(t, ts.store.CreateJob(ctx, job))
	if status == types.JobPending {
		return job
	}
	require.NoError(t, job.Transition(types.JobProcessing, time.Now()))
	if status != types.JobProcessing {
		require.NoError(t, job.Transition(status, time.Now()))
	}
	require.NoError(t, ts.store.UpdateJob(ctx, job))
	return job
}

func (ts *testServer) seedEvents(t *testing.T, jobID uuid.UUID, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, ts.store.AppendTraceEvent(context.Background(), &types.TraceEvent{
			ID:    uuid.New(),
			JobID: jobID,
			Seq:   int64(i),
			Phase: types.PhasePlanning,
			Step:  "plan_research:start",
			Label: "Planning",
		}))
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	degraded := newTestServer(t, func(o *Options) {
		o.Ping = func(context.Context) error { return errors.New("db down") }
	})
	rec = degraded.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitJob(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		queueErr   error
		wantStatus int
		wantQueued bool
		wantReject bool
	}{
		{
			name:       "company target",
			body:       map[string]string{"company_name": "  Acme Robotics ", "website": "https://acme.example"},
			wantStatus: http.StatusAccepted,
			wantQueued: true,
		},
		{
			name:       "person target",
			body:       map[string]string{"target_type": "person", "person_name": "Ada Lovelace"},
			wantStatus: http.StatusAccepted,
			wantQueued: true,
		},
		{name: "malformed json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "no identity", body: map[string]string{"context": "a robotics company"}, wantStatus: http.StatusBadRequest},
		{name: "bad country code", body: map[string]string{"company_name": "Acme", "country_code": "USA"}, wantStatus: http.StatusBadRequest},
		{
			name:       "queue full",
			body:       map[string]string{"company_name": "Acme"},
			queueErr:   orchestrator.ErrQueueFull,
			wantStatus: http.StatusTooManyRequests,
			wantReject: true,
		},
		{
			name:       "shutting down",
			body:       map[string]string{"company_name": "Acme"},
			queueErr:   orchestrator.ErrPoolClosed,
			wantStatus: http.StatusServiceUnavailable,
			wantReject: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.queue.err = tt.queueErr

			rec := ts.do(t, http.MethodPost, "/jobs", tt.body, map[string]string{"Content-Type": "application/json"})
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantQueued, len(ts.queue.jobs) == 1)
			assert.Equal(t, tt.wantReject, len(ts.submitter.rejected) == 1)

			if tt.wantQueued {
				resp := decode[types.SubmitJobResponse](t, rec)
				assert.Equal(t, types.JobPending, resp.Status)
				assert.Equal(t, "/jobs/"+resp.JobID.String(), rec.Header().Get("Location"))

				stored, err := ts.store.GetJob(context.Background(), resp.JobID)
				require.NoError(t, err)
				assert.Equal(t, types.JobPending, stored.Status)
			}
			if tt.wantReject {
				stored, err := ts.store.GetJob(context.Background(), ts.submitter.rejected[0])
				require.NoError(t, err)
				assert.Equal(t, types.JobFailed, stored.Status)
				assert.Equal(t, orchestrator.ReasonRejected, stored.FailureReason)
			}
		})
	}
}

func TestSubmitJob_NormalizesTarget(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/jobs", map[string]string{"company_name": "  Acme Robotics  "}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, ts.queue.jobs, 1)
	assert.Equal(t, "Acme Robotics", ts.queue.jobs[0].Target.CompanyName)
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobCompleted)

	rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[types.JobView](t, rec)
	assert.Equal(t, job.ID, view.ID)
	assert.Equal(t, types.JobCompleted, view.Status)
	assert.True(t, view.BriefReady)

	rec = ts.do(t, http.MethodGet, "/jobs/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/jobs/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.seedJob(t, types.JobPending)
	ts.seedJob(t, types.JobCompleted)
	ts.seedJob(t, types.JobFailed)

	rec := ts.do(t, http.MethodGet, "/jobs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[JobListResponse](t, rec).Jobs, 3)

	rec = ts.do(t, http.MethodGet, "/jobs?status=COMPLETED", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[JobListResponse](t, rec)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, types.JobCompleted, list.Jobs[0].Status)

	rec = ts.do(t, http.MethodGet, "/jobs?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[JobListResponse](t, rec).Jobs, 2)

	for _, q := range []string{"?status=DONE", "?limit=0", "?limit=x", "?offset=-1"} {
		rec = ts.do(t, http.MethodGet, "/jobs"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestGetTrace(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobProcessing)
	ts.seedEvents(t, job.ID, 3)

	rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/trace", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trace := decode[TraceResponse](t, rec)
	assert.Equal(t, types.JobProcessing, trace.Status)
	assert.Len(t, trace.Events, 3)

	rec = ts.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/trace?after_seq=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trace = decode[TraceResponse](t, rec)
	require.Len(t, trace.Events, 1)
	assert.Equal(t, int64(3), trace.Events[0].Seq)

	rec = ts.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/trace?after_seq=-4", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBrief(t *testing.T) {
	ts := newTestServer(t)

	running := ts.seedJob(t, types.JobProcessing)
	rec := ts.do(t, http.MethodGet, "/jobs/"+running.ID.String()+"/brief", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROCESSING")

	failed := ts.seedJob(t, types.JobFailed)
	rec = ts.do(t, http.MethodGet, "/jobs/"+failed.ID.String()+"/brief", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	done := ts.seedJob(t, types.JobCompleted)
	require.NoError(t, ts.store.SaveBrief(context.Background(), &types.Brief{
		JobID: done.ID,
		Sections: []types.BriefSection{
			{Name: types.SectionExecutiveSummary, Markdown: "Acme builds robots [1].", CitedIDs: []int{1}, Status: types.SectionDrafted},
			{Name: types.SectionFundraising, Markdown: types.NotEnoughData, Status: types.SectionEmpty},
		},
	}))

	rec = ts.do(t, http.MethodGet, "/jobs/"+done.ID.String()+"/brief", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[types.BriefDocument](t, rec)
	assert.Equal(t, "Acme builds robots [1].", doc.Sections["executive_summary"])
	assert.Equal(t, types.NotEnoughData, doc.Sections["fundraising"])
}

func TestGetSources(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobCompleted)
	require.NoError(t, ts.store.SaveSources(context.Background(), job.ID, []types.Source{
		{ID: 1, URL: "https://acme.example/about", Title: "About Acme"},
	}))

	rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/sources", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SourcesResponse](t, rec)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "About Acme", resp.Sources[0].Title)
}

func TestAuth(t *testing.T) {
	jwtService := NewJWTService(&config.JWTConfig{Secret: testSecret, ExpirationHours: 1})
	ts := newTestServer(t, func(o *Options) { o.JWT = jwtService })
	token, err := jwtService.GenerateToken("analyst@example.com")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/jobs", nil, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/jobs", map[string]string{"company_name": "Acme"},
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Submit(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.RateLimit = &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Pattern: "/jobs", Method: http.MethodPost, Limit: 1, Window: time.Hour, Burst: 1},
			},
		}
	})

	body := map[string]string{"company_name": "Acme"}
	rec := ts.do(t, http.MethodPost, "/jobs", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = ts.do(t, http.MethodPost, "/jobs", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	assert.Len(t, ts.queue.jobs, 1)

	// Reads have their own budget.
	rec = ts.do(t, http.MethodGet, "/jobs", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodOptions, "/jobs", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestStream_ReplaysStoredTrace(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobCompleted)
	ts.seedEvents(t, job.ID, 3)

	rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID.String()+"/stream", nil, map[string]string{"Last-Event-ID": "1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\nevent: trace\n")
	assert.Contains(t, body, "id: 3\nevent: trace\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"status":"COMPLETED"`)
}

func TestStream_FollowsLiveJob(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobProcessing)

	log := tracing.NewLog(job.ID, nil, ts.store)
	ts.hub.Register(log)
	log.Emit(context.Background(), types.PhaseInit, "job:started", "Job started", "", nil)

	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		log.Emit(context.Background(), types.PhasePlanning, "plan_research:start", "Planning", "", nil)
		_ = job.Transition(types.JobCompleted, time.Now())
		_ = ts.store.UpdateJob(context.Background(), job)
		log.Close()
	}()

	resp, err := http.Get(srv.URL + "/jobs/" + job.ID.String() + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(data)
	assert.Equal(t, 1, strings.Count(body, "id: 1\n"))
	assert.Equal(t, 1, strings.Count(body, "id: 2\n"))
	assert.Contains(t, body, `"status":"COMPLETED"`)
}

func TestStream_PollsPendingJob(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobPending)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = ts.store.AppendTraceEvent(context.Background(), &types.TraceEvent{
			ID: uuid.New(), JobID: job.ID, Seq: 1, Phase: types.PhaseInit, Step: "job:started", Label: "Job started",
		})
		now := time.Now()
		_ = job.Transition(types.JobProcessing, now)
		job.FailureReason = orchestrator.ReasonUnresolved
		_ = job.Transition(types.JobFailed, now)
		_ = ts.store.UpdateJob(context.Background(), job)
	}()

	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/" + job.ID.String() + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), "id: 1\n")
	assert.Contains(t, string(data), `"status":"FAILED"`)
}

func TestWebSocket_StreamsTrace(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedJob(t, types.JobCompleted)
	ts.seedEvents(t, job.ID, 2)

	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + job.ID.String() + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var msgs []StreamMessage
	for {
		var msg StreamMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		msgs = append(msgs, msg)
		if msg.Type == MessageComplete {
			break
		}
	}

	require.Len(t, msgs, 3)
	assert.Equal(t, MessageTrace, msgs[0].Type)
	assert.Equal(t, int64(1), msgs[0].Event.Seq)
	assert.Equal(t, int64(2), msgs[1].Event.Seq)
	assert.Equal(t, types.JobCompleted, msgs[2].Status)
}

func TestWebSocket_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + uuid.NewString() + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
