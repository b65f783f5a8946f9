package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// -----------------------------------------------------------------------------
// Q&A Methods
// -----------------------------------------------------------------------------

const qaColumns = `id, job_id, question, answer_markdown, used_source_ids, cited_source_ids, unverified, cost_usd, plan_id, created_at`

func scanQA(row rowScanner) (*types.QAAnswer, error) {
	var (
		qa         types.QAAnswer
		used, cite []byte
	)
	if err := row.Scan(&qa.ID, &qa.JobID, &qa.Question, &qa.AnswerMarkdown, &used, &cite,
		&qa.Unverified, &qa.CostUSD, &qa.PlanID, &qa.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(used, &qa.UsedSourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode used source ids: %w", err)
	}
	if err := json.Unmarshal(cite, &qa.CitedSourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode cited source ids: %w", err)
	}
	return &qa, nil
}

// SaveQA stores an answered question
func (db *DB) SaveQA(ctx context.Context, qa *types.QAAnswer) error {
	used, err := json.Marshal(nonNilInts(qa.UsedSourceIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal used source ids: %w", err)
	}
	cited, err := json.Marshal(nonNilInts(qa.CitedSourceIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal cited source ids: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO research_qa (`+qaColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		qa.ID, qa.JobID, qa.Question, qa.AnswerMarkdown, used, cited,
		qa.Unverified, qa.CostUSD, qa.PlanID, qa.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save qa: %w", err)
	}
	return nil
}

// GetQA returns one answered question of a job
func (db *DB) GetQA(ctx context.Context, jobID, id uuid.UUID) (*types.QAAnswer, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+qaColumns+` FROM research_qa WHERE job_id = $1 AND id = $2`, jobID, id)
	qa, err := scanQA(row)
	if err != nil {
		return nil, notFound(err, "qa")
	}
	return qa, nil
}

// ListQA returns a job's answered questions, oldest first
func (db *DB) ListQA(ctx context.Context, jobID uuid.UUID) ([]types.QAAnswer, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+qaColumns+` FROM research_qa WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qa: %w", err)
	}
	defer rows.Close()

	out := []types.QAAnswer{}
	for rows.Next() {
		qa, err := scanQA(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qa: %w", err)
		}
		out = append(out, *qa)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Micro-research Plan Methods
// -----------------------------------------------------------------------------

const planColumns = `id, job_id, qa_id, question, gap, steps, plan_markdown, estimated_cost_usd, cost_label,
	status, created_source_ids, result_qa_id, error, cost_usd, created_at, updated_at`

func scanPlan(row rowScanner) (*types.MicroPlan, error) {
	var (
		p                     types.MicroPlan
		gap, steps, createdID []byte
		errText               *string
	)
	if err := row.Scan(&p.ID, &p.JobID, &p.QAID, &p.Question, &gap, &steps, &p.Markdown,
		&p.EstimatedCostUSD, &p.CostLabel, &p.Status, &createdID, &p.ResultQAID, &errText,
		&p.CostUSD, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(gap, &p.Gap); err != nil {
		return nil, fmt.Errorf("failed to decode gap: %w", err)
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode plan steps: %w", err)
	}
	if err := json.Unmarshal(createdID, &p.CreatedSourceIDs); err != nil {
		return nil, fmt.Errorf("failed to decode created source ids: %w", err)
	}
	p.Error = derefString(errText)
	return &p, nil
}

// SaveMicroPlan inserts a proposed micro-research plan
func (db *DB) SaveMicroPlan(ctx context.Context, p *types.MicroPlan) error {
	gap, err := json.Marshal(p.Gap)
	if err != nil {
		return fmt.Errorf("failed to marshal gap: %w", err)
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal plan steps: %w", err)
	}
	created, err := json.Marshal(nonNilInts(p.CreatedSourceIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal created source ids: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO research_qa_plans (`+planColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.JobID, p.QAID, p.Question, gap, steps, p.Markdown, p.EstimatedCostUSD, p.CostLabel,
		string(p.Status), created, p.ResultQAID, nullIfEmpty(p.Error), p.CostUSD, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save micro plan: %w", err)
	}
	return nil
}

// UpdateMicroPlan persists the mutable plan fields: status, results, error and cost
func (db *DB) UpdateMicroPlan(ctx context.Context, p *types.MicroPlan) error {
	created, err := json.Marshal(nonNilInts(p.CreatedSourceIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal created source ids: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE research_qa_plans
		 SET status = $3, created_source_ids = $4, result_qa_id = $5, error = $6, cost_usd = $7, updated_at = $8
		 WHERE job_id = $1 AND id = $2`,
		p.JobID, p.ID, string(p.Status), created, p.ResultQAID, nullIfEmpty(p.Error), p.CostUSD, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update micro plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("micro plan %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// GetMicroPlan returns one micro-research plan of a job
func (db *DB) GetMicroPlan(ctx context.Context, jobID, id uuid.UUID) (*types.MicroPlan, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM research_qa_plans WHERE job_id = $1 AND id = $2`, jobID, id)
	p, err := scanPlan(row)
	if err != nil {
		return nil, notFound(err, "micro plan")
	}
	return p, nil
}

// ListMicroPlans returns a job's micro-research plans, oldest first
func (db *DB) ListMicroPlans(ctx context.Context, jobID uuid.UUID) ([]types.MicroPlan, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+planColumns+` FROM research_qa_plans WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list micro plans: %w", err)
	}
	defer rows.Close()

	out := []types.MicroPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan micro plan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// LoadGraph rebuilds the persisted knowledge graph of a job from its company and people.
// Funding and competitor nodes are not persisted and come back empty.
func (db *DB) LoadGraph(ctx context.Context, jobID uuid.UUID, targetType types.TargetType) (*resolution.KnowledgeGraph, error) {
	graph := &resolution.KnowledgeGraph{TargetType: targetType}

	company, conflicts, err := db.GetCompany(ctx, jobID)
	switch {
	case err == nil:
		graph.Company = company
		graph.Conflicts = conflicts
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	people, err := db.ListPeople(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if targetType == types.TargetPerson && len(people) > 0 {
		target := people[0]
		graph.Person = &target
		people = people[1:]
	}
	graph.People = people
	if graph.Company == nil && graph.Person == nil {
		return nil, fmt.Errorf("graph for job %s: %w", jobID, ErrNotFound)
	}
	return graph, nil
}

func nonNilInts(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}
