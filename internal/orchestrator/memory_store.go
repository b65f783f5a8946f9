package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// MemoryStore keeps jobs and their artifacts in process memory. It backs the CLI and
// a server started without DATABASE_URL. Lookups of unknown jobs wrap db.ErrNotFound.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]types.ResearchJob
	events  map[uuid.UUID][]types.TraceEvent
	sources map[uuid.UUID][]types.Source
	graphs  map[uuid.UUID]*resolution.KnowledgeGraph
	briefs  map[uuid.UUID]types.BriefDocument
	qa      map[uuid.UUID][]types.QAAnswer
	plans   map[uuid.UUID][]types.MicroPlan
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[uuid.UUID]types.ResearchJob),
		events:  make(map[uuid.UUID][]types.TraceEvent),
		sources: make(map[uuid.UUID][]types.Source),
		graphs:  make(map[uuid.UUID]*resolution.KnowledgeGraph),
		briefs:  make(map[uuid.UUID]types.BriefDocument),
		qa:      make(map[uuid.UUID][]types.QAAnswer),
		plans:   make(map[uuid.UUID][]types.MicroPlan),
	}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *types.ResearchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *types.ResearchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, db.ErrNotFound)
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*types.ResearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, db.ErrNotFound)
	}
	return &job, nil
}

// ListJobs returns jobs newest first
func (m *MemoryStore) ListJobs(_ context.Context, filters db.JobFilters) ([]types.ResearchJob, error) {
	m.mu.RLock()
	out := make([]types.ResearchJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filters.Status == "" || j.Status == filters.Status {
			out = append(out, j)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return []types.ResearchJob{}, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendTraceEvent(_ context.Context, ev *types.TraceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.JobID] = append(m.events[ev.JobID], *ev)
	return nil
}

// ListTraceEvents returns events with seq greater than afterSeq in seq order
func (m *MemoryStore) ListTraceEvents(_ context.Context, jobID uuid.UUID, afterSeq int64) ([]types.TraceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []types.TraceEvent{}
	for _, ev := range m.events[jobID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

func (m *MemoryStore) SaveSources(_ context.Context, jobID uuid.UUID, sources []types.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[jobID] = append([]types.Source(nil), sources...)
	return nil
}

func (m *MemoryStore) ListSources(_ context.Context, jobID uuid.UUID) ([]types.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Source{}, m.sources[jobID]...), nil
}

func (m *MemoryStore) SaveGraph(_ context.Context, jobID uuid.UUID, graph *resolution.KnowledgeGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[jobID] = graph
	return nil
}

// Graph returns the saved knowledge graph for a job
func (m *MemoryStore) Graph(jobID uuid.UUID) (*resolution.KnowledgeGraph, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[jobID]
	return g, ok
}

func (m *MemoryStore) SaveBrief(_ context.Context, brief *types.Brief) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.briefs[brief.JobID] = brief.Document()
	return nil
}

func (m *MemoryStore) GetBrief(_ context.Context, jobID uuid.UUID) (*types.BriefDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.briefs[jobID]
	if !ok {
		return nil, fmt.Errorf("brief for job %s: %w", jobID, db.ErrNotFound)
	}
	return &doc, nil
}

// LoadGraph returns the saved knowledge graph of a job
func (m *MemoryStore) LoadGraph(_ context.Context, jobID uuid.UUID, _ types.TargetType) (*resolution.KnowledgeGraph, error) {
	g, ok := m.Graph(jobID)
	if !ok || g == nil {
		return nil, fmt.Errorf("graph for job %s: %w", jobID, db.ErrNotFound)
	}
	return g, nil
}

func (m *MemoryStore) SaveQA(_ context.Context, qa *types.QAAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qa[qa.JobID] = append(m.qa[qa.JobID], *qa)
	return nil
}

func (m *MemoryStore) GetQA(_ context.Context, jobID, id uuid.UUID) (*types.QAAnswer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, qa := range m.qa[jobID] {
		if qa.ID == id {
			return &qa, nil
		}
	}
	return nil, fmt.Errorf("qa %s: %w", id, db.ErrNotFound)
}

// ListQA returns a job's answered questions in the order they were saved
func (m *MemoryStore) ListQA(_ context.Context, jobID uuid.UUID) ([]types.QAAnswer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.QAAnswer{}, m.qa[jobID]...), nil
}

func (m *MemoryStore) SaveMicroPlan(_ context.Context, p *types.MicroPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.JobID] = append(m.plans[p.JobID], *p)
	return nil
}

func (m *MemoryStore) UpdateMicroPlan(_ context.Context, p *types.MicroPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.plans[p.JobID] {
		if existing.ID == p.ID {
			m.plans[p.JobID][i] = *p
			return nil
		}
	}
	return fmt.Errorf("micro plan %s: %w", p.ID, db.ErrNotFound)
}

func (m *MemoryStore) GetMicroPlan(_ context.Context, jobID, id uuid.UUID) (*types.MicroPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plans[jobID] {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("micro plan %s: %w", id, db.ErrNotFound)
}

// ListMicroPlans returns a job's plans in the order they were proposed
func (m *MemoryStore) ListMicroPlans(_ context.Context, jobID uuid.UUID) ([]types.MicroPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.MicroPlan{}, m.plans[jobID]...), nil
}

// FailStaleJobs is a no-op: a fresh process has no stale in-memory jobs.
func (m *MemoryStore) FailStaleJobs(context.Context, string) (int64, error) {
	return 0, nil
}
