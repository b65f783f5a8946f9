package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

type fakeLLM struct {
	mu       sync.Mutex
	prompts  []string
	generate func(req llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.generate != nil {
		return f.generate(req)
	}
	return reply("Acme raised a $20 million Series B [S3] led by Example Ventures [S9]."), nil
}

func (f *fakeLLM) Model(llm.ModelTier) string { return "gpt-5.1" }

func (f *fakeLLM) Close() error { return nil }

func reply(text string) *llm.Response {
	return &llm.Response{Text: text, Usage: types.Usage{Model: "gpt-5.1", InputTokens: 1000, OutputTokens: 500}}
}

type fakeExecutor struct {
	calls   int
	execute func(steps []types.PlanStep) []types.ConnectorResult
}

func (f *fakeExecutor) Execute(_ context.Context, steps []types.PlanStep, _ *tracing.Log) []types.ConnectorResult {
	f.calls++
	return f.execute(steps)
}

func okResult(snippets ...types.Snippet) []types.ConnectorResult {
	return []types.ConnectorResult{{
		StepName:    "micro_exa_funding_search_0",
		ConnectorID: types.ConnectorExa,
		Status:      types.StatusOK,
		Snippets:    snippets,
	}}
}

var storedSources = []types.Source{
	{ID: 1, URL: "https://acme.example/news", Title: "Acme news", Provider: "exa", Snippet: "Acme opened an office."},
	{ID: 2, URL: "https://pdl.example/jane", Title: "Jane Doe", Provider: "pdl", Snippet: "Jane Doe, CEO of Acme."},
	{ID: 3, URL: "https://acme.example/funding", Title: "Acme funding", Provider: "pdl_company", Snippet: "Series B of $20 million."},
}

type fixture struct {
	store    *orchestrator.MemoryStore
	client   *fakeLLM
	executor *fakeExecutor
	job      *types.ResearchJob
}

func newFixture(t *testing.T, status types.JobStatus, sources []types.Source) *fixture {
	t.Helper()
	ctx := context.Background()
	store := orchestrator.NewMemoryStore()
	job := types.NewResearchJob(types.TargetInput{CompanyName: "Acme Robotics", Website: "acme.example"}, time.Now())
	require.NoError(t, store.CreateJob(ctx, job))
	if status != types.JobPending {
		require.NoError(t, job.Transition(types.JobProcessing, time.Now()))
		if status != types.JobProcessing {
			require.NoError(t, job.Transition(status, time.Now()))
		}
		job.CostUSD = 0.5
		require.NoError(t, store.UpdateJob(ctx, job))
	}
	if len(sources) > 0 {
		require.NoError(t, store.SaveSources(ctx, job.ID, sources))
	}
	require.NoError(t, store.AppendTraceEvent(ctx, &types.TraceEvent{
		ID: uuid.New(), JobID: job.ID, Seq: 5, Phase: types.PhaseWriting, Step: "write_brief:done",
	}))
	return &fixture{
		store:  store,
		client: &fakeLLM{},
		executor: &fakeExecutor{execute: func([]types.PlanStep) []types.ConnectorResult {
			return nil
		}},
		job: job,
	}
}

func (f *fixture) service(t *testing.T, withExecutor bool) *Service {
	t.Helper()
	opts := Options{Capabilities: types.NewCapabilities(types.ConnectorExa, types.ConnectorPDLCompany)}
	if withExecutor {
		opts.Executor = f.executor
	}
	svc, err := New(f.client, f.store, opts)
	require.NoError(t, err)
	return svc
}

func (f *fixture) steps(t *testing.T) []string {
	t.Helper()
	events, err := f.store.ListTraceEvents(context.Background(), f.job.ID, 5)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Step
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, orchestrator.NewMemoryStore(), Options{})
	assert.Error(t, err)
	_, err = New(&fakeLLM{}, nil, Options{})
	assert.Error(t, err)
}

func TestAsk_AnswersFromStoredSources(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)

	ans, err := svc.Ask(context.Background(), f.job.ID, "  Who invested in the Series B funding?  ")
	require.NoError(t, err)

	qa := ans.QA
	assert.Equal(t, "Who invested in the Series B funding?", qa.Question)
	assert.Equal(t, []int{3, 1}, qa.UsedSourceIDs)
	assert.Equal(t, []int{3}, qa.CitedSourceIDs)
	assert.NotContains(t, qa.AnswerMarkdown, "[S9]")
	assert.Contains(t, qa.AnswerMarkdown, "$20 million")
	assert.False(t, qa.Unverified)
	assert.Nil(t, qa.PlanID)
	assert.Greater(t, qa.CostUSD, 0.0)
	assert.Nil(t, ans.Gap)
	assert.Nil(t, ans.Plan)

	require.Len(t, f.client.prompts, 1)
	assert.Contains(t, f.client.prompts[0], "ALLOWED SOURCE IDS: S3, S1")
	assert.NotContains(t, f.client.prompts[0], "Jane Doe")

	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5+qa.CostUSD, job.CostUSD, 1e-9)

	stored, err := f.store.ListQA(context.Background(), f.job.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, qa.ID, stored[0].ID)

	events, err := f.store.ListTraceEvents(context.Background(), f.job.ID, 5)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"qa:question", "qa:guardrail", "qa:answer"}, f.steps(t))
	for i, ev := range events {
		assert.Equal(t, int64(6+i), ev.Seq)
	}
}

func TestAsk_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   types.JobStatus
		sources  []types.Source
		question string
		wantErr  error
	}{
		{name: "job still running", status: types.JobProcessing, sources: storedSources, question: "Who founded Acme?", wantErr: ErrJobNotCompleted},
		{name: "no sources", status: types.JobCompleted, question: "Who founded Acme?", wantErr: ErrNoSources},
		{name: "question too short", status: types.JobCompleted, sources: storedSources, question: " ? "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status, tt.sources)
			_, err := f.service(t, true).Ask(context.Background(), f.job.ID, tt.question)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Empty(t, f.client.prompts)
		})
	}
}

func TestAsk_UnknownJob(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	_, err := f.service(t, true).Ask(context.Background(), uuid.New(), "Who founded Acme?")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestAsk_LLMFailure(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	f.client.generate = func(llm.Request) (*llm.Response, error) {
		return nil, errors.New("provider down")
	}

	_, err := f.service(t, true).Ask(context.Background(), f.job.ID, "Who founded Acme?")
	require.Error(t, err)
	assert.Equal(t, []string{"qa:question", "qa:failed"}, f.steps(t))
}

func TestAsk_EmptyAnswerBecomesNotEnoughData(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	f.client.generate = func(llm.Request) (*llm.Response, error) {
		return reply("   "), nil
	}

	ans, err := f.service(t, true).Ask(context.Background(), f.job.ID, "Who founded Acme?")
	require.NoError(t, err)
	assert.True(t, ans.QA.Unverified)
	assert.True(t, strings.HasSuffix(ans.QA.AnswerMarkdown, types.NotEnoughData))
}

func TestAsk_GapProposesPlan(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	f.client.generate = func(llm.Request) (*llm.Response, error) {
		return reply("The lead investor of the Series B is not disclosed in available sources."), nil
	}

	ans, err := f.service(t, true).Ask(context.Background(), f.job.ID, "Who led the Series B round?")
	require.NoError(t, err)

	require.NotNil(t, ans.Gap)
	assert.Equal(t, types.IntentFundingInvestors, ans.Gap.Intent)
	assert.Equal(t, "series b", ans.Gap.Slots.Round)

	require.NotNil(t, ans.Plan)
	plan := ans.Plan
	assert.Equal(t, types.PlanProposed, plan.Status)
	assert.Equal(t, ans.QA.ID, plan.QAID)
	assert.Equal(t, "Who led the Series B round?", plan.Question)
	require.NotEmpty(t, plan.Steps)
	assert.Equal(t, types.ConnectorExa, plan.Steps[0].ConnectorID)
	assert.Greater(t, plan.EstimatedCostUSD, 0.0)
	assert.NotEmpty(t, plan.CostLabel)
	assert.Contains(t, plan.Markdown, "**Gap:**")

	plans, err := f.store.ListMicroPlans(context.Background(), f.job.ID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, plan.ID, plans[0].ID)

	steps := f.steps(t)
	assert.Contains(t, steps, "qa_gap_detected")
	assert.Equal(t, "micro_plan:proposed", steps[len(steps)-1])
	assert.Zero(t, f.executor.calls)
}

func TestAsk_GapWithoutExecutorProposesNothing(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	f.client.generate = func(llm.Request) (*llm.Response, error) {
		return reply("The lead investor is not disclosed in available sources."), nil
	}

	ans, err := f.service(t, false).Ask(context.Background(), f.job.ID, "Who led the Series B round?")
	require.NoError(t, err)
	assert.NotNil(t, ans.Gap)
	assert.Nil(t, ans.Plan)

	plans, err := f.store.ListMicroPlans(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

// proposePlan asks a question whose answer admits a gap and returns the proposed plan
func proposePlan(t *testing.T, f *fixture, svc *Service) (*Answer, *types.MicroPlan) {
	t.Helper()
	f.client.generate = func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "[S4]") {
			return reply("Example Ventures led the $20 million Series B [S4]."), nil
		}
		return reply("The lead investor of the Series B is not disclosed in available sources."), nil
	}
	ans, err := svc.Ask(context.Background(), f.job.ID, "Who led the Series B round?")
	require.NoError(t, err)
	require.NotNil(t, ans.Plan)
	return ans, ans.Plan
}

func TestRunPlan_Completed(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)
	ans, plan := proposePlan(t, f, svc)
	f.executor.execute = func([]types.PlanStep) []types.ConnectorResult {
		return okResult(
			types.Snippet{Provider: "exa", URL: "https://news.example/acme-series-b", Title: "Acme Series B",
				Text: "Example Ventures led Acme's $20 million Series B."},
			types.Snippet{Provider: "exa", URL: "https://acme.example/news", Title: "Acme news", Text: "Acme opened an office."},
		)
	}
	before, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)

	res, err := svc.RunPlan(context.Background(), f.job.ID, plan.ID)
	require.NoError(t, err)

	assert.Equal(t, types.PlanCompleted, res.Plan.Status)
	assert.Equal(t, []int{4}, res.Plan.CreatedSourceIDs)
	require.NotNil(t, res.QA)
	assert.NotEqual(t, ans.QA.ID, res.QA.ID)
	assert.Equal(t, []int{4}, res.QA.CitedSourceIDs)
	require.NotNil(t, res.QA.PlanID)
	assert.Equal(t, plan.ID, *res.QA.PlanID)
	require.NotNil(t, res.Plan.ResultQAID)
	assert.Equal(t, res.QA.ID, *res.Plan.ResultQAID)

	sources, err := f.store.ListSources(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Len(t, sources, 4)

	stored, err := f.store.GetMicroPlan(context.Background(), f.job.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanCompleted, stored.Status)

	job, err := f.store.GetJob(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.InDelta(t, before.CostUSD+res.Plan.CostUSD, job.CostUSD, 1e-9)

	steps := f.steps(t)
	assert.Subset(t, steps, []string{
		"micro_plan_confirmed", "micro_connectors:start", "micro_connectors:done",
		"micro_sources_ingested", "micro_reanswer:start", "micro_reanswer:done",
	})
	assert.Equal(t, "micro_reanswer:done", steps[len(steps)-1])

	_, err = svc.RunPlan(context.Background(), f.job.ID, plan.ID)
	var terr *types.PlanTransitionError
	assert.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, f.executor.calls)
}

func TestRunPlan_NoChange(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)
	ans, plan := proposePlan(t, f, svc)
	f.executor.execute = func([]types.PlanStep) []types.ConnectorResult {
		return okResult(types.Snippet{Provider: "exa", URL: "https://acme.example/news", Title: "Acme news"})
	}

	res, err := svc.RunPlan(context.Background(), f.job.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanNoChange, res.Plan.Status)
	assert.Empty(t, res.Plan.CreatedSourceIDs)
	require.NotNil(t, res.QA)
	assert.Equal(t, ans.QA.ID, res.QA.ID)

	sources, err := f.store.ListSources(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
	assert.Contains(t, f.steps(t), "micro_no_change")
}

func TestRunPlan_FailedStepsAreIgnored(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)
	_, plan := proposePlan(t, f, svc)
	f.executor.execute = func([]types.PlanStep) []types.ConnectorResult {
		return []types.ConnectorResult{{
			StepName: "micro_exa_funding_search_0", ConnectorID: types.ConnectorExa, Status: types.StatusError,
			Error:    "rate limited",
			Snippets: []types.Snippet{{Provider: "exa", URL: "https://news.example/ignored", Title: "Ignored"}},
		}}
	}

	res, err := svc.RunPlan(context.Background(), f.job.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanNoChange, res.Plan.Status)
}

func TestRunPlan_PanicMarksPlanFailed(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)
	_, plan := proposePlan(t, f, svc)
	f.executor.execute = func([]types.PlanStep) []types.ConnectorResult {
		panic("connector exploded")
	}

	res, err := svc.RunPlan(context.Background(), f.job.ID, plan.ID)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "connector exploded")

	stored, err := f.store.GetMicroPlan(context.Background(), f.job.ID, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanFailed, stored.Status)
	assert.Contains(t, stored.Error, "connector exploded")
	assert.Contains(t, f.steps(t), "micro_research:failed")
}

func TestRunPlan_Rejections(t *testing.T) {
	t.Run("no executor", func(t *testing.T) {
		f := newFixture(t, types.JobCompleted, storedSources)
		_, err := f.service(t, false).RunPlan(context.Background(), f.job.ID, uuid.New())
		assert.ErrorIs(t, err, ErrResearchDisabled)
	})

	t.Run("unknown plan", func(t *testing.T) {
		f := newFixture(t, types.JobCompleted, storedSources)
		_, err := f.service(t, true).RunPlan(context.Background(), f.job.ID, uuid.New())
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestList(t *testing.T) {
	f := newFixture(t, types.JobCompleted, storedSources)
	svc := f.service(t, true)
	proposePlan(t, f, svc)

	hist, err := svc.List(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Len(t, hist.QA, 1)
	assert.Len(t, hist.Plans, 1)

	_, err = svc.List(context.Background(), uuid.New())
	assert.ErrorIs(t, err, db.ErrNotFound)
}
