// Package tracing provides the append-only, job-scoped trace event log.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Sink persists trace events. Implemented by the database store.
type Sink interface {
	AppendTraceEvent(ctx context.Context, ev *types.TraceEvent) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(ctx context.Context, ev *types.TraceEvent) error

// AppendTraceEvent calls f
func (f SinkFunc) AppendTraceEvent(ctx context.Context, ev *types.TraceEvent) error {
	return f(ctx, ev)
}

// Log is the append-only trace for one job. Safe for concurrent Emit from
// executor steps and writer sections; order within the log is approximately causal.
type Log struct {
	jobID  uuid.UUID
	logger *slog.Logger
	sinks  []Sink
	now    func() time.Time

	mu      sync.Mutex
	seq     int64
	events  []types.TraceEvent
	subs    map[int]chan types.TraceEvent
	nextSub int
	closed  bool
}

// NewLog creates a log for a job. Sinks receive every event; a failing sink is
// logged and never fails the emitter.
func NewLog(jobID uuid.UUID, logger *slog.Logger, sinks ...Sink) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		jobID:  jobID,
		logger: logger,
		sinks:  sinks,
		now:    time.Now,
		subs:   make(map[int]chan types.TraceEvent),
	}
}

// ResumeLog creates a log that continues a persisted trace after lastSeq, for
// activity on a job whose pipeline has already finished.
func ResumeLog(jobID uuid.UUID, lastSeq int64, logger *slog.Logger, sinks ...Sink) *Log {
	l := NewLog(jobID, logger, sinks...)
	l.seq = lastSeq
	return l
}

// JobID returns the owning job id
func (l *Log) JobID() uuid.UUID {
	return l.jobID
}

// Emit appends an event and fans it out to sinks and subscribers.
func (l *Log) Emit(ctx context.Context, phase types.TracePhase, step, label, detail string, meta map[string]any) types.TraceEvent {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("trace event after close dropped", "job_id", l.jobID, "step", step)
		return types.TraceEvent{}
	}
	l.seq++
	ev := types.TraceEvent{
		ID:        uuid.New(),
		JobID:     l.jobID,
		Seq:       l.seq,
		Phase:     phase,
		Step:      step,
		Label:     label,
		Detail:    detail,
		Meta:      meta,
		CreatedAt: l.now().UTC(),
	}
	l.events = append(l.events, ev)
	for id, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			l.logger.Debug("trace subscriber lagging, event skipped", "job_id", l.jobID, "subscriber", id)
		}
	}
	l.mu.Unlock()

	l.logger.Debug("trace", "job_id", l.jobID, "phase", phase, "step", step, "label", label)

	// Trace rows must survive job cancellation, so sinks get a context without it.
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range l.sinks {
		if err := s.AppendTraceEvent(sinkCtx, &ev); err != nil {
			l.logger.Warn("failed to persist trace event", "job_id", l.jobID, "step", step, "error", err)
		}
	}
	return ev
}

// Events returns a snapshot of all events in emission order
func (l *Log) Events() []types.TraceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.TraceEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Find returns events whose step matches exactly
func (l *Log) Find(step string) []types.TraceEvent {
	var out []types.TraceEvent
	for _, ev := range l.Events() {
		if ev.Step == step {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe returns the events emitted so far and a channel receiving every later
// event. The channel is closed by cancel or when the log is closed.
func (l *Log) Subscribe(buffer int) (history []types.TraceEvent, events <-chan types.TraceEvent, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.TraceEvent, buffer)

	l.mu.Lock()
	history = make([]types.TraceEvent, len(l.events))
	copy(history, l.events)
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return history, ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if sub, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub)
			}
		})
	}
	return history, ch, cancel
}

// Close ends the log; subscribers are released and later emits are dropped.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// Closed reports whether the job has finished emitting
func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
