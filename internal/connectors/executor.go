package connectors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Executor defaults
const (
	DefaultMaxInFlight = 6
	DefaultStepTimeout = 45 * time.Second
)

// Executor dispatches plan steps concurrently under a bounded in-flight count.
// Each step runs under its own timeout and one step's failure never affects another.
type Executor struct {
	registry    *Registry
	maxInFlight int
	stepTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewExecutor creates an executor. Non-positive limits fall back to the defaults.
func NewExecutor(registry *Registry, maxInFlight int, stepTimeout time.Duration, logger *slog.Logger) *Executor {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Executor{
		registry:    registry,
		maxInFlight: maxInFlight,
		stepTimeout: stepTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute runs every step and returns one result per step, in step order. It blocks until
// every step has completed, failed or timed out. Steps still waiting for a slot when ctx
// ends are recorded as timeouts.
func (e *Executor) Execute(ctx context.Context, steps []types.PlanStep, trace *tracing.Log) []types.ConnectorResult {
	results := make([]types.ConnectorResult, len(steps))

	var g errgroup.Group
	g.SetLimit(e.maxInFlight)
	for i, step := range steps {
		g.Go(func() error {
			results[i] = e.runStep(ctx, step)
			e.record(ctx, trace, step, results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) runStep(ctx context.Context, step types.PlanStep) types.ConnectorResult {
	start := e.now()
	result := types.ConnectorResult{
		StepName:    step.Name,
		ConnectorID: step.ConnectorID,
		Fallback:    step.IsFallback(),
		FetchedAt:   start,
	}

	finish := func(status types.ResultStatus, err error) types.ConnectorResult {
		result.Status = status
		if err != nil {
			result.Error = err.Error()
		}
		result.DurationMs = e.now().Sub(start).Milliseconds()
		return result
	}

	if err := ctx.Err(); err != nil {
		return finish(types.StatusTimeout, fmt.Errorf("not started: %w", err))
	}

	connector, ok := e.registry.Get(step.ConnectorID)
	if !ok {
		return finish(types.StatusError, &Error{Connector: step.ConnectorID, Kind: KindAuth, Message: "connector not configured"})
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	type outcome struct {
		out *Output
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("connector panic: %v", r)}
			}
		}()
		out, err := connector.Fetch(stepCtx, step)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-stepCtx.Done():
		return finish(types.StatusTimeout, stepCtx.Err())
	}

	if res.err != nil {
		if stepCtx.Err() != nil || errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled) {
			return finish(types.StatusTimeout, res.err)
		}
		return finish(types.StatusError, res.err)
	}

	out := res.out
	if out == nil {
		out = &Output{}
	}
	stamp(out, step.ConnectorID.Provider(), start)
	result.Records = out.Records
	result.Snippets = out.Snippets
	result.Usage = out.Usage
	return finish(types.StatusOK, nil)
}

func (e *Executor) record(ctx context.Context, trace *tracing.Log, step types.PlanStep, r types.ConnectorResult) {
	attrs := []any{
		"step", step.Name,
		"connector", step.ConnectorID,
		"status", r.Status,
		"duration_ms", r.DurationMs,
	}
	switch r.Status {
	case types.StatusOK:
		e.logger.Info("connector step finished", append(attrs, "records", len(r.Records), "snippets", len(r.Snippets))...)
	default:
		e.logger.Warn("connector step failed", append(attrs, "error", r.Error)...)
	}

	if trace == nil {
		return
	}
	label := fmt.Sprintf("%s returned %d records and %d snippets", step.ConnectorID, len(r.Records), len(r.Snippets))
	switch r.Status {
	case types.StatusTimeout:
		label = fmt.Sprintf("%s timed out", step.ConnectorID)
	case types.StatusError:
		label = fmt.Sprintf("%s failed", step.ConnectorID)
	}
	meta := map[string]any{
		"connector":   string(step.ConnectorID),
		"status":      string(r.Status),
		"duration_ms": r.DurationMs,
		"records":     len(r.Records),
		"snippets":    len(r.Snippets),
	}
	if r.Fallback {
		meta["fallback"] = true
	}
	trace.Emit(ctx, types.PhaseCollection, fmt.Sprintf("connector:%s:%s", step.Name, r.Status), label, r.Error, meta)
}
