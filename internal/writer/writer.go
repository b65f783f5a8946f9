// Package writer drafts the brief sections from the resolved knowledge graph and the
// job's sources, and enforces the citation guardrails on every draft.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/prompts"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Writer defaults
const (
	DefaultMaxRetries     = 3
	DefaultMaxConcurrency = 4
	MaxSectionTokens      = 5000
)

// SectionError is returned when a section could not be drafted
type SectionError struct {
	Section types.SectionName
	Message string
	Cause   error
}

func (e *SectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("section %s: %s: %v", e.Section, e.Message, e.Cause)
	}
	return fmt.Sprintf("section %s: %s", e.Section, e.Message)
}

func (e *SectionError) Unwrap() error {
	return e.Cause
}

// Recorder receives the usage of every model call. costs.Tracker implements it.
type Recorder interface {
	Record(component string, u types.Usage) float64
}

// Options configures a Writer
type Options struct {
	// MaxRetries is the number of draft attempts per section
	MaxRetries int
	// MaxConcurrency bounds in-flight model calls across sections and summaries
	MaxConcurrency int
	Policy         *policy.Table
	Cache          fetch.ResponseCache
	Costs          Recorder
	Logger         *slog.Logger
	// Backoff returns the wait before retry n (0-based). Nil waits 1s, 2s, 4s, ...
	Backoff func(attempt int) time.Duration
}

// Writer drafts brief sections. Sections share no mutable state; each reads the same
// graph and source snapshot.
type Writer struct {
	client     llm.Client
	policy     *policy.Table
	summarizer *Summarizer
	sem        *semaphore.Weighted
	maxRetries int
	backoff    func(attempt int) time.Duration
	costs      Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a writer around an LLM client
func New(client llm.Client, opts Options) *Writer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backoff == nil {
		opts.Backoff = exponentialBackoff
	}
	sem := semaphore.NewWeighted(int64(opts.MaxConcurrency))
	return &Writer{
		client:     client,
		policy:     opts.Policy,
		summarizer: NewSummarizer(client, opts.Cache, sem, opts.Logger),
		sem:        sem,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		costs:      opts.Costs,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// exponentialBackoff waits 1s, 2s, 4s, ... before successive retries
func exponentialBackoff(attempt int) time.Duration {
	return time.Second << attempt
}

// Write drafts every section for the graph's target type concurrently and reduces the
// results into a brief. Section failures are recorded on the section, never returned;
// the only error is the context's.
func (w *Writer) Write(ctx context.Context, jobID uuid.UUID, graph *resolution.KnowledgeGraph, sources *types.SourceTable, trace *tracing.Log) (*types.Brief, error) {
	if graph == nil {
		return nil, errors.New("writer: nil knowledge graph")
	}
	if sources == nil {
		sources = types.NewSourceTable()
	}
	all := sources.All()
	names := types.SectionsFor(graph.TargetType)

	sections := make([]types.BriefSection, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			sections[i] = w.draftSection(ctx, jobID, name, graph, all, trace)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Reduce(jobID, sections, sources, w.now()), nil
}

func (w *Writer) draftSection(ctx context.Context, jobID uuid.UUID, name types.SectionName, graph *resolution.KnowledgeGraph, all []types.Source, trace *tracing.Log) types.BriefSection {
	start := w.now()
	log := w.logger.With("job_id", jobID, "section", name)

	sec, ok := w.policy.Section(name)
	if !ok {
		log.Warn("no source policy for section")
		return emptySection(name)
	}
	selected := SelectSources(sec, all, graph, w.now())
	if len(selected) == 0 {
		w.emit(ctx, trace, "section:"+string(name)+":done", "Section skipped: "+titleCase(name), "No eligible sources for this section.",
			map[string]any{"status": types.SectionEmpty})
		return emptySection(name)
	}

	bundle := BuildBundle(ctx, w.summarizer, selected, MaxSourceTokens)
	w.record("summarizer:"+string(name), bundle.Usage)
	if bundle.Empty() {
		return emptySection(name)
	}

	w.emit(ctx, trace, "section:"+string(name)+":start", "Drafting section: "+titleCase(name),
		fmt.Sprintf("Using %d curated sources for this section.", len(bundle.IDs)),
		map[string]any{"source_ids": bundle.IDs, "summarized": bundle.Summarized, "truncated": bundle.Truncated})

	contextJSON, err := BuildContext(graph, bundle.IDs)
	if err != nil {
		return w.failSection(ctx, trace, log, name, bundle.IDs, &SectionError{Section: name, Message: "context", Cause: err})
	}

	instruction, err := prompts.Section(name)
	if err != nil {
		return w.failSection(ctx, trace, log, name, bundle.IDs, &SectionError{Section: name, Message: "prompt", Cause: err})
	}
	prompt, err := prompts.Render(prompts.Writer, "draft", map[string]string{
		"Section":     string(name),
		"Instruction": instruction,
		"Target":      describeTarget(graph),
		"AllowedIDs":  formatIDs(bundle.IDs),
		"Context":     contextJSON,
		"Sources":     bundle.Text,
	})
	if err != nil {
		return w.failSection(ctx, trace, log, name, bundle.IDs, &SectionError{Section: name, Message: "prompt", Cause: err})
	}
	tier := llm.TierStandard
	if sec.Reasoning == "medium" {
		tier = llm.TierAdvanced
	}
	req := llm.Request{
		System:    prompts.MustGet(prompts.Writer, "system"),
		Prompt:    prompt,
		Tier:      tier,
		MaxTokens: MaxSectionTokens,
	}

	resp, err := w.generate(ctx, name, req)
	if err != nil {
		return w.failSection(ctx, trace, log, name, bundle.IDs, err)
	}
	usage := resp.Usage
	if usage.Model == "" {
		usage.Model = w.client.Model(tier)
	}
	w.record("writer:"+string(name), usage)

	guarded := Guard(resp.Text, bundle.IDs, sec.NumericHeavy)
	w.traceGuardrails(ctx, trace, name, guarded)

	section := types.BriefSection{
		Name:          name,
		Markdown:      guarded.Text,
		UsedSourceIDs: bundle.IDs,
		CitedIDs:      guarded.Cited,
		Status:        types.SectionDrafted,
	}
	switch {
	case strings.TrimSpace(guarded.Text) == "":
		section.Markdown = UnverifiedPrefix + types.NotEnoughData
		section.Status = types.SectionUnverified
	case guarded.Unverified:
		section.Status = types.SectionUnverified
	}

	log.Info("section drafted",
		"status", section.Status,
		"cited", len(section.CitedIDs),
		"duration_ms", w.now().Sub(start).Milliseconds())
	w.emit(ctx, trace, "section:"+string(name)+":done", "Section complete: "+titleCase(name),
		"Section drafted and checked for citations.",
		map[string]any{"status": section.Status, "cited_source_ids": section.CitedIDs})
	return section
}

// generate calls the model with bounded retries. Context cancellation is never retried.
func (w *Writer) generate(ctx context.Context, name types.SectionName, req llm.Request) (*llm.Response, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, w.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++
		resp, err := w.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !llm.Retryable(err) || ctx.Err() != nil {
			break
		}
		w.logger.Warn("section draft failed, retrying", "section", name, "attempt", attempts, "error", err)
	}
	return nil, &SectionError{
		Section: name,
		Message: fmt.Sprintf("draft failed after %d attempt(s)", attempts),
		Cause:   lastErr,
	}
}

func (w *Writer) call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.sem.Release(1)

	resp, err := w.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, errors.New("empty completion")
	}
	return resp, nil
}

func (w *Writer) failSection(ctx context.Context, trace *tracing.Log, log *slog.Logger, name types.SectionName, ids []int, err error) types.BriefSection {
	log.Error("section failed", "error", err)
	w.emit(ctx, trace, "section:"+string(name)+":failed", "Section failed: "+titleCase(name), err.Error(),
		map[string]any{"status": types.SectionFailed})
	return types.BriefSection{
		Name:          name,
		UsedSourceIDs: ids,
		Status:        types.SectionFailed,
		Error:         err.Error(),
	}
}

func (w *Writer) traceGuardrails(ctx context.Context, trace *tracing.Log, name types.SectionName, g GuardResult) {
	if g.Citations.Changed() {
		w.emit(ctx, trace, "guardrail:citations", "Invalid citations handled: "+titleCase(name),
			fmt.Sprintf("Removed %d and repaired %d citation(s); dropped %d sentence(s).",
				len(g.Citations.Removed), len(g.Citations.Repaired), g.Citations.SentencesDropped),
			map[string]any{"section": name, "removed": g.Citations.Removed, "repaired": g.Citations.Repaired,
				"sentences_dropped": g.Citations.SentencesDropped})
	}
	if len(g.Numeric.Stripped) > 0 {
		w.emit(ctx, trace, "guardrail:numeric", "Uncited numbers stripped: "+titleCase(name),
			fmt.Sprintf("Stripped %d numeral(s); dropped %d sentence(s).", len(g.Numeric.Stripped), g.Numeric.SentencesDropped),
			map[string]any{"section": name, "stripped": g.Numeric.Stripped, "sentences_dropped": g.Numeric.SentencesDropped})
	}
	if g.Unverified {
		w.emit(ctx, trace, "guardrail:unverified", "Section flagged UNVERIFIED: "+titleCase(name),
			"No claim in the section carries a valid citation.",
			map[string]any{"section": name})
	}
}

func (w *Writer) emit(ctx context.Context, trace *tracing.Log, step, label, detail string, meta map[string]any) {
	if trace == nil {
		return
	}
	trace.Emit(ctx, types.PhaseWriting, step, label, detail, meta)
}

func (w *Writer) record(component string, u types.Usage) {
	if w.costs == nil || (u.InputTokens == 0 && u.OutputTokens == 0 && u.WebSearchCalls == 0) {
		return
	}
	w.costs.Record(component, u)
}

func emptySection(name types.SectionName) types.BriefSection {
	return types.BriefSection{Name: name, Markdown: types.NotEnoughData, Status: types.SectionEmpty}
}

func describeTarget(graph *resolution.KnowledgeGraph) string {
	if graph.Person != nil {
		if graph.Person.CompanyName != "" {
			return fmt.Sprintf("%s (%s)", graph.Person.FullName, graph.Person.CompanyName)
		}
		return graph.Person.FullName
	}
	if graph.Company != nil && graph.Company.Domain != "" {
		return fmt.Sprintf("%s (%s)", graph.Company.Name, graph.Company.Domain)
	}
	return graph.Name()
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("S%d", id)
	}
	return strings.Join(parts, ", ")
}

// titleCase turns "recent_news" into "Recent News"
func titleCase(name types.SectionName) string {
	words := strings.Split(string(name), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
