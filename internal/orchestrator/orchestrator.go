// Package orchestrator owns the research job lifecycle: it sequences planning, connector
// execution, entity resolution and section writing, and decides terminal success or failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/costs"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/planner"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/schemas"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/writer"
)

// TotalStages is the number of progress steps reported per job
const TotalStages = 5

// Store persists job state and artifacts. Implemented by db.DB and MemoryStore.
type Store interface {
	tracing.Sink
	CreateJob(ctx context.Context, job *types.ResearchJob) error
	UpdateJob(ctx context.Context, job *types.ResearchJob) error
	SaveSources(ctx context.Context, jobID uuid.UUID, sources []types.Source) error
	SaveGraph(ctx context.Context, jobID uuid.UUID, graph *resolution.KnowledgeGraph) error
	SaveBrief(ctx context.Context, brief *types.Brief) error
}

// StepExecutor runs plan steps. Implemented by connectors.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, steps []types.PlanStep, trace *tracing.Log) []types.ConnectorResult
}

// EntityResolver builds the knowledge graph. Implemented by resolution.Resolver.
type EntityResolver interface {
	Resolve(ctx context.Context, target types.TargetInput, results []types.ConnectorResult, sources *types.SourceTable, trace *tracing.Log) (*resolution.KnowledgeGraph, error)
}

// ProgressEvent is a coarse stage update for CLI output
type ProgressEvent struct {
	JobID   uuid.UUID        `json:"job_id"`
	Stage   int              `json:"stage"`
	Phase   types.TracePhase `json:"phase"`
	Message string           `json:"message"`
}

// ProgressCallback is called when a stage starts
type ProgressCallback func(event ProgressEvent)

// Options holds the collaborators and limits of an Orchestrator
type Options struct {
	Capabilities types.Capabilities
	Executor     StepExecutor
	// Resolver defaults to resolution.New
	Resolver EntityResolver
	LLM      llm.Client
	Writer   writer.Options
	Policy   *policy.Table
	// Store may be nil for memory-only runs
	Store Store
	// Hub, when set, exposes live traces to stream handlers
	Hub *tracing.Hub
	// Timeout is the global wall-clock budget per job; zero disables it
	Timeout             time.Duration
	Pricebook           costs.Pricebook
	WebSearchPerCallUSD float64
	Logger              *slog.Logger
	OnProgress          ProgressCallback
}

// Orchestrator runs research jobs. It holds no per-job state and is safe for concurrent Run calls.
type Orchestrator struct {
	planner      *planner.Planner
	caps         types.Capabilities
	executor     StepExecutor
	resolver     EntityResolver
	llm          llm.Client
	writerOpts   writer.Options
	store        Store
	hub          *tracing.Hub
	timeout      time.Duration
	prices       costs.Pricebook
	webSearchUSD float64
	logger       *slog.Logger
	onProgress   ProgressCallback
	now          func() time.Time
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if opts.LLM == nil {
		return nil, errors.New("orchestrator: LLM client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = resolution.New(opts.Logger)
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Writer.Policy == nil {
		opts.Writer.Policy = opts.Policy
	}
	if opts.Writer.Logger == nil {
		opts.Writer.Logger = opts.Logger
	}
	if opts.Capabilities == nil {
		opts.Capabilities = types.Capabilities{}
	}
	return &Orchestrator{
		planner:      planner.New(opts.Policy),
		caps:         opts.Capabilities,
		executor:     opts.Executor,
		resolver:     opts.Resolver,
		llm:          opts.LLM,
		writerOpts:   opts.Writer,
		store:        opts.Store,
		hub:          opts.Hub,
		timeout:      opts.Timeout,
		prices:       opts.Pricebook,
		webSearchUSD: opts.WebSearchPerCallUSD,
		logger:       opts.Logger,
		onProgress:   opts.OnProgress,
		now:          time.Now,
	}, nil
}

// Result is everything a run produced. On failure the fields after the failing stage are nil.
type Result struct {
	Job     *types.ResearchJob
	Plan    []types.PlanStep
	Results []types.ConnectorResult
	Graph   *resolution.KnowledgeGraph
	Sources *types.SourceTable
	Brief   *types.Brief
	Costs   costs.Summary
	Trace   []types.TraceEvent
}

// Create validates a target and persists a new PENDING job for it.
func (o *Orchestrator) Create(ctx context.Context, target types.TargetInput) (*types.ResearchJob, error) {
	target = target.Normalized()
	if err := target.Validate(); err != nil {
		return nil, err
	}
	job := types.NewResearchJob(target, o.now().UTC())
	if o.store != nil {
		if err := o.store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

// Reject fails a PENDING job that was created but could not be queued.
func (o *Orchestrator) Reject(ctx context.Context, job *types.ResearchJob, cause error) error {
	now := o.now().UTC()
	if err := job.Transition(types.JobProcessing, now); err != nil {
		return err
	}
	job.FailureReason = ReasonRejected
	if err := job.Transition(types.JobFailed, now); err != nil {
		return err
	}
	o.logger.Warn("research job rejected", "job_id", job.ID, "error", cause)
	if o.store == nil {
		return nil
	}
	return o.store.UpdateJob(ctx, job)
}

// run is the per-job state threaded through the stages
type run struct {
	job     *types.ResearchJob
	trace   *tracing.Log
	tracker *costs.Tracker
	log     *slog.Logger
	result  *Result
}

// Run drives a PENDING job to COMPLETED or FAILED. The returned error is a *FatalError
// for failed jobs; the Result is returned in both cases.
func (o *Orchestrator) Run(ctx context.Context, job *types.ResearchJob) (res *Result, err error) {
	var sinks []tracing.Sink
	if o.store != nil {
		sinks = append(sinks, o.store)
	}
	r := &run{
		job:     job,
		trace:   tracing.NewLog(job.ID, o.logger, sinks...),
		tracker: costs.NewTracker(o.prices, o.webSearchUSD, o.logger),
		log:     o.logger.With("job_id", job.ID),
		result:  &Result{Job: job},
	}
	if o.hub != nil {
		o.hub.Register(r.trace)
		defer o.hub.Remove(job.ID)
	}
	defer r.trace.Close()

	if err := job.Transition(types.JobProcessing, o.now().UTC()); err != nil {
		return r.result, err
	}
	o.saveJob(ctx, r)
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("research job panicked", "panic", p)
			res, err = o.fail(context.WithoutCancel(ctx), r,
				&FatalError{Reason: ReasonInternal, Message: "pipeline panicked", Cause: fmt.Errorf("panic: %v", p)})
		}
	}()
	r.trace.Emit(ctx, types.PhaseInit, "job:started", "Research job started", "",
		map[string]any{"target_type": string(job.Target.TargetType), "subject": job.Target.Subject()})
	r.log.Info("research job started", "target", job.Target.Subject())

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, o.timeout, ErrTimeout)
		defer cancel()
	}

	err = o.pipeline(runCtx, r)
	// Bookkeeping must outlive the job deadline.
	finalCtx := context.WithoutCancel(ctx)
	if err != nil {
		return o.fail(finalCtx, r, err)
	}
	return o.complete(finalCtx, r)
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run) error {
	job := r.job

	// Stage 1: plan
	o.progress(r, 1, types.PhasePlanning, "Planning research steps")
	r.trace.Emit(ctx, types.PhasePlanning, "plan_research:start", "Planning research steps", "",
		map[string]any{"capabilities": capabilityNames(o.caps)})
	steps, err := o.planner.Plan(job.Target, o.caps)
	if err != nil {
		return &FatalError{Reason: ReasonNoPlanSteps, Message: "planner failed", Cause: err}
	}
	if len(steps) == 0 {
		return &FatalError{Reason: ReasonNoPlanSteps, Message: "no enabled connector can serve this target"}
	}
	r.result.Plan = steps
	r.trace.Emit(ctx, types.PhasePlanning, "plan_research:done",
		fmt.Sprintf("Planned %d steps", len(steps)), "", map[string]any{"steps": stepNames(steps)})

	// Stage 2: execute
	o.progress(r, 2, types.PhaseCollection, fmt.Sprintf("Executing %d plan steps", len(steps)))
	r.trace.Emit(ctx, types.PhaseCollection, "collect:start",
		fmt.Sprintf("Executing %d plan steps", len(steps)), "", nil)
	results := o.executor.Execute(ctx, steps, r.trace)
	if err := stageErr(ctx); err != nil {
		r.result.Results = results
		return err
	}
	if step, ok := planner.FoundingFallback(job.Target, o.caps, results); ok {
		r.trace.Emit(ctx, types.PhasePlanning, "plan_research:fallback",
			"Scheduling agentic founding-details fallback", step.Metadata[types.MetaFallbackReason],
			map[string]any{"step": step.Name, "fallback": true})
		r.result.Plan = append(r.result.Plan, step)
		results = append(results, o.executor.Execute(ctx, []types.PlanStep{step}, r.trace)...)
		if err := stageErr(ctx); err != nil {
			r.result.Results = results
			return err
		}
	}
	r.result.Results = results
	o.recordConnectorCosts(r, results)
	r.trace.Emit(ctx, types.PhaseCollection, "collect:done", "Connector execution finished", "", statusCounts(results))

	// Stage 3: resolve
	o.progress(r, 3, types.PhaseEntityResolution, "Resolving entities")
	sources := types.NewSourceTable()
	graph, err := o.resolver.Resolve(ctx, job.Target, results, sources, r.trace)
	if cerr := stageErr(ctx); cerr != nil {
		return cerr
	}
	if err != nil {
		return &FatalError{Reason: ReasonUnresolved, Message: "no connector established the target's identity", Cause: err}
	}
	r.result.Graph = graph
	r.result.Sources = sources
	if o.store != nil {
		if err := o.store.SaveSources(ctx, job.ID, sources.All()); err != nil {
			return &FatalError{Reason: ReasonStoreError, Message: "failed to persist sources", Cause: err}
		}
		if err := o.store.SaveGraph(ctx, job.ID, graph); err != nil {
			r.log.Warn("failed to persist knowledge graph", "error", err)
		}
	}

	// Stage 4: write
	o.progress(r, 4, types.PhaseWriting, "Drafting brief sections")
	r.trace.Emit(ctx, types.PhaseWriting, "write:start", "Drafting brief sections", "", nil)
	wopts := o.writerOpts
	wopts.Costs = r.tracker
	brief, err := writer.New(o.llm, wopts).Write(ctx, job.ID, graph, sources, r.trace)
	if cerr := stageErr(ctx); cerr != nil {
		return cerr
	}
	if err != nil {
		return &FatalError{Reason: ReasonAllSectionsFailed, Message: "writer failed", Cause: err}
	}
	if brief.AllSectionsFailed() {
		return &FatalError{Reason: ReasonAllSectionsFailed, Message: "every section failed to draft"}
	}
	if err := verifyBrief(brief, sources); err != nil {
		return &FatalError{Reason: ReasonInvalidBrief, Message: "brief failed validation", Cause: err}
	}
	r.result.Brief = brief
	r.trace.Emit(ctx, types.PhaseWriting, "write:done", "Brief drafted", "", sectionCounts(brief))
	return nil
}

// stageErr converts a finished job context into the matching fatal error
func stageErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return &FatalError{Reason: ReasonTimeout, Message: "global job budget exceeded", Cause: ErrTimeout}
	}
	return &FatalError{Reason: ReasonCanceled, Message: "job canceled", Cause: ctx.Err()}
}

func (o *Orchestrator) complete(ctx context.Context, r *run) (*Result, error) {
	o.progress(r, 5, types.PhaseDone, "Saving brief")
	o.emitCosts(ctx, r)

	if o.store != nil {
		if err := o.store.SaveBrief(ctx, r.result.Brief); err != nil {
			return o.fail(ctx, r, &FatalError{Reason: ReasonStoreError, Message: "failed to persist brief", Cause: err})
		}
	}

	if err := r.job.Transition(types.JobCompleted, o.now().UTC()); err != nil {
		return r.result, err
	}
	// The terminal event is persisted before the terminal status so pollers that
	// see the status have already got every event.
	r.trace.Emit(ctx, types.PhaseDone, "job:completed", "Research job completed", "",
		map[string]any{"cost_usd": r.job.CostUSD})
	o.saveJob(ctx, r)
	r.log.Info("research job completed", "cost_usd", r.job.CostUSD)
	r.result.Trace = r.trace.Events()
	return r.result, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) (*Result, error) {
	var fe *FatalError
	if !errors.As(err, &fe) {
		fe = &FatalError{Reason: ReasonCanceled, Message: "unexpected failure", Cause: err}
	}
	// No partial brief is kept on failure.
	r.result.Brief = nil
	o.emitCosts(ctx, r)

	r.job.FailureReason = fe.Reason
	if terr := r.job.Transition(types.JobFailed, o.now().UTC()); terr != nil {
		r.log.Error("cannot mark job failed", "error", terr)
	}
	r.trace.Emit(ctx, types.PhaseFailed, "job:failed", "Research job failed: "+fe.Reason, fe.Error(),
		map[string]any{"reason": fe.Reason})
	o.saveJob(ctx, r)
	r.log.Warn("research job failed", "reason", fe.Reason, "error", fe)
	r.result.Trace = r.trace.Events()
	return r.result, fe
}

func (o *Orchestrator) emitCosts(ctx context.Context, r *run) {
	summary := r.tracker.Summary()
	r.result.Costs = summary
	r.job.CostUSD = summary.TotalUSD
	meta := map[string]any{
		"total_usd":        summary.TotalUSD,
		"input_tokens":     summary.InputTokens,
		"output_tokens":    summary.OutputTokens,
		"web_search_calls": summary.WebSearchCalls,
	}
	for _, c := range summary.Components() {
		meta["cost_"+c] = summary.ByComponent[c]
	}
	r.trace.Emit(ctx, types.PhaseCosts, "costs:summary",
		fmt.Sprintf("Job cost $%.4f", summary.TotalUSD), "", meta)
}

func (o *Orchestrator) recordConnectorCosts(r *run, results []types.ConnectorResult) {
	for _, res := range results {
		if res.Usage != nil {
			r.tracker.Record("connector:"+res.StepName, *res.Usage)
		}
	}
}

// saveJob persists the job row. A store failure here is logged, not fatal: the run
// outcome is still reported to the caller.
func (o *Orchestrator) saveJob(ctx context.Context, r *run) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateJob(ctx, r.job); err != nil {
		r.log.Error("failed to update job", "status", r.job.Status, "error", err)
	}
}

func (o *Orchestrator) progress(r *run, stage int, phase types.TracePhase, msg string) {
	if o.onProgress != nil {
		o.onProgress(ProgressEvent{JobID: r.job.ID, Stage: stage, Phase: phase, Message: msg})
	}
}

// verifyBrief checks the persisted shape and that every citation names a known source.
func verifyBrief(brief *types.Brief, sources *types.SourceTable) error {
	for _, s := range brief.Sections {
		for _, id := range writer.ExtractCitations(s.Markdown) {
			if !sources.Has(id) {
				return fmt.Errorf("section %s cites unknown source S%d", s.Name, id)
			}
		}
	}
	return schemas.ValidateBrief(brief.Document())
}

func capabilityNames(caps types.Capabilities) []string {
	ids := caps.List()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func stepNames(steps []types.PlanStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name
	}
	return out
}

func statusCounts(results []types.ConnectorResult) map[string]any {
	counts := map[string]any{"ok": 0, "error": 0, "timeout": 0}
	for _, r := range results {
		n, _ := counts[string(r.Status)].(int)
		counts[string(r.Status)] = n + 1
	}
	return counts
}

func sectionCounts(brief *types.Brief) map[string]any {
	counts := map[string]any{}
	for _, s := range brief.Sections {
		n, _ := counts[string(s.Status)].(int)
		counts[string(s.Status)] = n + 1
	}
	return counts
}
