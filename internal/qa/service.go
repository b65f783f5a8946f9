// Package qa answers follow-up questions over the stored sources of a completed job.
// When an answer admits missing information it proposes a small micro-research plan;
// running a confirmed plan adds sources to the job and answers the question again.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/costs"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/planner"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/prompts"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/writer"
)

// MaxAnswerTokens caps the answer completion
const MaxAnswerTokens = 3000

var (
	// ErrJobNotCompleted is returned for questions on a job that has not completed
	ErrJobNotCompleted = errors.New("job is not completed")
	// ErrNoSources is returned when a completed job has nothing to answer from
	ErrNoSources = errors.New("job has no sources")
	// ErrResearchDisabled is returned when no executor is configured for micro-research
	ErrResearchDisabled = errors.New("micro-research is not configured")
)

// Store persists answers and plans. Implemented by db.DB and orchestrator.MemoryStore.
type Store interface {
	tracing.Sink
	GetJob(ctx context.Context, id uuid.UUID) (*types.ResearchJob, error)
	UpdateJob(ctx context.Context, job *types.ResearchJob) error
	ListSources(ctx context.Context, jobID uuid.UUID) ([]types.Source, error)
	SaveSources(ctx context.Context, jobID uuid.UUID, sources []types.Source) error
	ListTraceEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]types.TraceEvent, error)
	LoadGraph(ctx context.Context, jobID uuid.UUID, targetType types.TargetType) (*resolution.KnowledgeGraph, error)

	SaveQA(ctx context.Context, qa *types.QAAnswer) error
	GetQA(ctx context.Context, jobID, id uuid.UUID) (*types.QAAnswer, error)
	ListQA(ctx context.Context, jobID uuid.UUID) ([]types.QAAnswer, error)
	SaveMicroPlan(ctx context.Context, p *types.MicroPlan) error
	UpdateMicroPlan(ctx context.Context, p *types.MicroPlan) error
	GetMicroPlan(ctx context.Context, jobID, id uuid.UUID) (*types.MicroPlan, error)
	ListMicroPlans(ctx context.Context, jobID uuid.UUID) ([]types.MicroPlan, error)
}

// StepExecutor runs plan steps. Implemented by connectors.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, steps []types.PlanStep, trace *tracing.Log) []types.ConnectorResult
}

// Options configures a Service
type Options struct {
	Capabilities types.Capabilities
	// Executor runs micro-research plans; nil answers questions without proposing plans
	Executor            StepExecutor
	Policy              *policy.Table
	Pricebook           costs.Pricebook
	WebSearchPerCallUSD float64
	// MaxContextTokens bounds the raw source context; zero uses MaxContextTokens
	MaxContextTokens int
	Logger           *slog.Logger
}

// Service answers questions and runs micro-research plans. Calls for the same job are
// serialized so trace sequence numbers and source ids stay dense.
type Service struct {
	llm          llm.Client
	store        Store
	executor     StepExecutor
	planner      *planner.Planner
	policy       *policy.Table
	caps         types.Capabilities
	prices       costs.Pricebook
	webSearchUSD float64
	maxTokens    int
	logger       *slog.Logger
	now          func() time.Time
	locks        sync.Map
}

// New creates a Q&A service
func New(client llm.Client, store Store, opts Options) (*Service, error) {
	if client == nil {
		return nil, errors.New("qa: LLM client is required")
	}
	if store == nil {
		return nil, errors.New("qa: store is required")
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = MaxContextTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Capabilities == nil {
		opts.Capabilities = types.Capabilities{}
	}
	return &Service{
		llm:          client,
		store:        store,
		executor:     opts.Executor,
		planner:      planner.New(opts.Policy),
		policy:       opts.Policy,
		caps:         opts.Capabilities,
		prices:       opts.Pricebook,
		webSearchUSD: opts.WebSearchPerCallUSD,
		maxTokens:    opts.MaxContextTokens,
		logger:       opts.Logger,
		now:          time.Now,
	}, nil
}

// Answer is the outcome of one question
type Answer struct {
	QA   types.QAAnswer   `json:"qa"`
	Gap  *types.Gap       `json:"gap,omitempty"`
	Plan *types.MicroPlan `json:"plan,omitempty"`
}

// History lists a job's answers and plans, oldest first
type History struct {
	QA    []types.QAAnswer  `json:"qa"`
	Plans []types.MicroPlan `json:"plans"`
}

// RunResult is the outcome of running a plan. QA is the new answer, or the earlier
// one when the plan found nothing new.
type RunResult struct {
	Plan types.MicroPlan `json:"plan"`
	QA   *types.QAAnswer `json:"qa,omitempty"`
}

// Ask answers a question from the job's stored sources. The answer passes the citation
// and numeric guardrails, is persisted, and its cost is added to the job.
func (s *Service) Ask(ctx context.Context, jobID uuid.UUID, question string) (*Answer, error) {
	req := types.AskRequest{Question: question}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	question = req.Question

	unlock := s.lock(jobID)
	defer unlock()

	job, sources, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	trace, err := s.resumeTrace(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer trace.Close()
	log := s.logger.With("job_id", jobID)

	trace.Emit(ctx, types.PhaseQA, "qa:question", "Q&A question received", question, nil)

	tracker := costs.NewTracker(s.prices, s.webSearchUSD, s.logger)
	qa, err := s.answer(ctx, job, sources, question, nil, tracker, trace)
	if err != nil {
		trace.Emit(context.WithoutCancel(ctx), types.PhaseQA, "qa:failed", "Q&A answer failed", err.Error(), nil)
		return nil, err
	}
	if err := s.addJobCost(ctx, job, qa.CostUSD); err != nil {
		return nil, err
	}
	log.Info("question answered", "qa_id", qa.ID, "cited", len(qa.CitedSourceIDs), "unverified", qa.Unverified)

	out := &Answer{QA: *qa}
	gap, found := DetectGap(question, qa.AnswerMarkdown, len(qa.UsedSourceIDs), job.Target)
	if !found {
		return out, nil
	}
	out.Gap = &gap
	trace.Emit(ctx, types.PhaseQA, "qa_gap_detected", "Gap detected in answer", gap.Statement,
		map[string]any{"qa_id": qa.ID, "intent": gap.Intent, "confidence": gap.Confidence, "method": gap.Method})
	if s.executor == nil {
		return out, nil
	}

	plan, err := s.propose(ctx, job, qa, gap, trace)
	if err != nil {
		// The answer stands without a plan.
		log.Warn("micro-research plan not proposed", "qa_id", qa.ID, "error", err)
		return out, nil
	}
	out.Plan = plan
	return out, nil
}

// List returns the answers and plans of a job
func (s *Service) List(ctx context.Context, jobID uuid.UUID) (*History, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	answers, err := s.store.ListQA(ctx, jobID)
	if err != nil {
		return nil, err
	}
	plans, err := s.store.ListMicroPlans(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &History{QA: answers, Plans: plans}, nil
}

// RunPlan executes a PROPOSED plan. New evidence is registered after the job's existing
// sources and the question is answered again; with nothing new the plan ends NO_CHANGE.
// A plan never stays RUNNING: any failure, including a panic, marks it FAILED.
func (s *Service) RunPlan(ctx context.Context, jobID, planID uuid.UUID) (res *RunResult, err error) {
	if s.executor == nil {
		return nil, ErrResearchDisabled
	}
	unlock := s.lock(jobID)
	defer unlock()

	job, sources, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	plan, err := s.store.GetMicroPlan(ctx, jobID, planID)
	if err != nil {
		return nil, err
	}
	if err := plan.Transition(types.PlanRunning, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMicroPlan(ctx, plan); err != nil {
		return nil, err
	}

	trace, err := s.resumeTrace(ctx, jobID)
	if err != nil {
		s.failPlan(ctx, plan, nil, err)
		return nil, err
	}
	defer trace.Close()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("micro-research panicked", "job_id", jobID, "plan_id", planID, "panic", p)
			err = fmt.Errorf("micro-research panicked: %v", p)
			s.failPlan(ctx, plan, trace, err)
			res = nil
		}
	}()

	trace.Emit(ctx, types.PhaseQAResearch, "micro_plan_confirmed", "Follow-up research confirmed", plan.Markdown,
		map[string]any{"plan_id": plan.ID, "steps": len(plan.Steps)})

	res, err = s.execute(ctx, job, sources, plan, trace)
	if err != nil {
		s.failPlan(ctx, plan, trace, err)
		return nil, err
	}
	return res, nil
}

func (s *Service) execute(ctx context.Context, job *types.ResearchJob, sources []types.Source, plan *types.MicroPlan, trace *tracing.Log) (*RunResult, error) {
	tracker := costs.NewTracker(s.prices, s.webSearchUSD, s.logger)

	trace.Emit(ctx, types.PhaseQAResearch, "micro_connectors:start", "Running follow-up research",
		fmt.Sprintf("Running %d step(s).", len(plan.Steps)), map[string]any{"plan_id": plan.ID})
	results := s.executor.Execute(ctx, plan.Steps, trace)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := types.RestoreSourceTable(sources)
	succeeded := 0
	var created []int
	for _, r := range results {
		if r.Usage != nil {
			tracker.Record("connector:"+r.StepName, *r.Usage)
		}
		if !r.OK() {
			continue
		}
		succeeded++
		for _, sn := range r.Snippets {
			if id, isNew := table.Register(sn); isNew {
				created = append(created, id)
			}
		}
	}
	trace.Emit(ctx, types.PhaseQAResearch, "micro_connectors:done", "Follow-up research finished",
		fmt.Sprintf("%d of %d step(s) succeeded.", succeeded, len(results)),
		map[string]any{"plan_id": plan.ID, "succeeded": succeeded, "new_sources": len(created)})

	if len(created) == 0 {
		plan.CostUSD = tracker.Total()
		if err := plan.Transition(types.PlanNoChange, s.now().UTC()); err != nil {
			return nil, err
		}
		if err := s.store.UpdateMicroPlan(ctx, plan); err != nil {
			return nil, err
		}
		if err := s.addJobCost(ctx, job, plan.CostUSD); err != nil {
			return nil, err
		}
		trace.Emit(ctx, types.PhaseQAResearch, "micro_no_change", "No new sources found",
			"The follow-up research returned nothing the job did not already have.", map[string]any{"plan_id": plan.ID})
		original, err := s.store.GetQA(ctx, job.ID, plan.QAID)
		if err != nil {
			return nil, err
		}
		return &RunResult{Plan: *plan, QA: original}, nil
	}

	all := table.All()
	if err := s.store.SaveSources(ctx, job.ID, all); err != nil {
		return nil, err
	}
	trace.Emit(ctx, types.PhaseQAResearch, "micro_sources_ingested", "New sources added",
		fmt.Sprintf("%d new source(s).", len(created)), map[string]any{"plan_id": plan.ID, "source_ids": created})

	trace.Emit(ctx, types.PhaseQAResearch, "micro_reanswer:start", "Answering again with new sources", "",
		map[string]any{"plan_id": plan.ID})
	qa, err := s.answer(ctx, job, all, plan.Question, &plan.ID, tracker, trace)
	if err != nil {
		return nil, err
	}

	plan.CostUSD = tracker.Total()
	plan.CreatedSourceIDs = created
	plan.ResultQAID = &qa.ID
	if err := plan.Transition(types.PlanCompleted, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMicroPlan(ctx, plan); err != nil {
		return nil, err
	}
	if err := s.addJobCost(ctx, job, plan.CostUSD); err != nil {
		return nil, err
	}
	trace.Emit(ctx, types.PhaseQAResearch, "micro_reanswer:done", "Answer updated with new sources", "",
		map[string]any{"plan_id": plan.ID, "qa_id": qa.ID, "cited_source_ids": qa.CitedSourceIDs})
	return &RunResult{Plan: *plan, QA: qa}, nil
}

// failPlan records a failed run. Bookkeeping outlives the request context.
func (s *Service) failPlan(ctx context.Context, plan *types.MicroPlan, trace *tracing.Log, cause error) {
	ctx = context.WithoutCancel(ctx)
	plan.Error = cause.Error()
	if err := plan.Transition(types.PlanFailed, s.now().UTC()); err != nil {
		s.logger.Error("micro plan not failed", "plan_id", plan.ID, "error", err)
		return
	}
	if err := s.store.UpdateMicroPlan(ctx, plan); err != nil {
		s.logger.Error("failed to persist failed micro plan", "plan_id", plan.ID, "error", err)
	}
	if trace != nil {
		trace.Emit(ctx, types.PhaseQAResearch, "micro_research:failed", "Follow-up research failed", cause.Error(),
			map[string]any{"plan_id": plan.ID})
	}
}

func (s *Service) propose(ctx context.Context, job *types.ResearchJob, qa *types.QAAnswer, gap types.Gap, trace *tracing.Log) (*types.MicroPlan, error) {
	steps, err := s.planner.MicroPlan(job.Target, s.caps, gap)
	if err != nil {
		return nil, err
	}
	estimate, label := planner.EstimateMicroPlan(steps)
	now := s.now().UTC()
	plan := &types.MicroPlan{
		ID:               uuid.New(),
		JobID:            job.ID,
		QAID:             qa.ID,
		Question:         qa.Question,
		Gap:              gap,
		Steps:            steps,
		Markdown:         planner.MicroPlanMarkdown(gap, steps),
		EstimatedCostUSD: estimate,
		CostLabel:        label,
		Status:           types.PlanProposed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveMicroPlan(ctx, plan); err != nil {
		return nil, err
	}
	trace.Emit(ctx, types.PhaseQA, "micro_plan:proposed", "Follow-up research proposed", plan.Markdown,
		map[string]any{"plan_id": plan.ID, "steps": len(steps), "estimated_cost_usd": estimate, "cost_label": label})
	return plan, nil
}

// answer drafts, guards and persists one answer. The caller adds its cost to the job.
func (s *Service) answer(ctx context.Context, job *types.ResearchJob, sources []types.Source, question string, planID *uuid.UUID, tracker *costs.Tracker, trace *tracing.Log) (*types.QAAnswer, error) {
	graph := s.graph(ctx, job)
	sections := SectionsForQuestion(question, job.Target.TargetType)
	selected := SelectSources(question, sections, sources, s.policy, graph, s.now())
	rc := BuildRawContext(selected, s.maxTokens)

	prompt, err := prompts.Render(prompts.QA, "answer", map[string]string{
		"Target":     job.Target.Subject(),
		"Question":   question,
		"AllowedIDs": formatIDs(rc.IDs),
		"Sources":    rc.Text,
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.llm.Generate(ctx, llm.Request{
		System:    prompts.MustGet(prompts.QA, "system"),
		Prompt:    prompt,
		Tier:      llm.TierAdvanced,
		MaxTokens: MaxAnswerTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}
	usage := resp.Usage
	if usage.Model == "" {
		usage.Model = s.llm.Model(llm.TierAdvanced)
	}
	before := tracker.Total()
	tracker.Record("qa:answer", usage)

	guarded := writer.Guard(resp.Text, rc.IDs, true)
	text := guarded.Text
	unverified := guarded.Unverified
	if strings.TrimSpace(text) == "" {
		text = writer.UnverifiedPrefix + types.NotEnoughData
		unverified = true
	}
	if guarded.Citations.Changed() || len(guarded.Numeric.Stripped) > 0 {
		trace.Emit(ctx, types.PhaseQA, "qa:guardrail", "Answer guardrails applied",
			fmt.Sprintf("Removed %d citation(s); stripped %d uncited numeral(s).",
				len(guarded.Citations.Removed), len(guarded.Numeric.Stripped)),
			map[string]any{"removed": guarded.Citations.Removed, "stripped": guarded.Numeric.Stripped})
	}

	qa := &types.QAAnswer{
		ID:             uuid.New(),
		JobID:          job.ID,
		Question:       question,
		AnswerMarkdown: text,
		UsedSourceIDs:  rc.IDs,
		CitedSourceIDs: guarded.Cited,
		Unverified:     unverified,
		CostUSD:        tracker.Total() - before,
		PlanID:         planID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.SaveQA(ctx, qa); err != nil {
		return nil, err
	}
	trace.Emit(ctx, types.PhaseQA, "qa:answer", "Q&A answer ready",
		fmt.Sprintf("Answered from %d source(s); %d cited.", len(rc.IDs), len(qa.CitedSourceIDs)),
		map[string]any{"qa_id": qa.ID, "used_source_ids": rc.IDs, "cited_source_ids": qa.CitedSourceIDs,
			"unverified": qa.Unverified, "cost_usd": qa.CostUSD})
	return qa, nil
}

func (s *Service) load(ctx context.Context, jobID uuid.UUID) (*types.ResearchJob, []types.Source, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != types.JobCompleted {
		return nil, nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrJobNotCompleted)
	}
	sources, err := s.store.ListSources(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("job %s: %w", jobID, ErrNoSources)
	}
	return job, sources, nil
}

// graph loads the job's knowledge graph, or a bare one built from the target when none
// was persisted. It only steers source selection.
func (s *Service) graph(ctx context.Context, job *types.ResearchJob) *resolution.KnowledgeGraph {
	g, err := s.store.LoadGraph(ctx, job.ID, job.Target.TargetType)
	if err == nil && g != nil {
		return g
	}
	s.logger.Debug("no stored graph, using target", "job_id", job.ID, "error", err)
	t := job.Target
	if t.IsPerson() {
		return &resolution.KnowledgeGraph{TargetType: t.TargetType, Person: &resolution.Person{FullName: t.PersonName, CompanyName: t.CompanyName}}
	}
	return &resolution.KnowledgeGraph{TargetType: t.TargetType, Company: &resolution.Company{Name: t.CompanyName, Domain: t.Domain()}}
}

func (s *Service) resumeTrace(ctx context.Context, jobID uuid.UUID) (*tracing.Log, error) {
	events, err := s.store.ListTraceEvents(ctx, jobID, 0)
	if err != nil {
		return nil, err
	}
	var last int64
	for _, ev := range events {
		last = max(last, ev.Seq)
	}
	return tracing.ResumeLog(jobID, last, s.logger, s.store), nil
}

func (s *Service) addJobCost(ctx context.Context, job *types.ResearchJob, usd float64) error {
	if usd == 0 {
		return nil
	}
	job.CostUSD += usd
	job.UpdatedAt = s.now().UTC()
	return s.store.UpdateJob(context.WithoutCancel(ctx), job)
}

func (s *Service) lock(jobID uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("S%d", id)
	}
	return strings.Join(parts, ", ")
}
