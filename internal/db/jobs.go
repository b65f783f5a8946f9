package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// -----------------------------------------------------------------------------
// Research Job Methods
// -----------------------------------------------------------------------------

const jobColumns = `id, target_input, status, failure_reason, cost_usd, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.ResearchJob, error) {
	var (
		job     types.ResearchJob
		target  []byte
		reason  *string
		costUSD float64
	)
	if err := row.Scan(&job.ID, &target, &job.Status, &reason, &costUSD,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(target, &job.Target); err != nil {
		return nil, fmt.Errorf("failed to decode target input: %w", err)
	}
	job.FailureReason = derefString(reason)
	job.CostUSD = costUSD
	return &job, nil
}

// CreateJob inserts a new research job
func (db *DB) CreateJob(ctx context.Context, job *types.ResearchJob) error {
	target, err := json.Marshal(job.Target)
	if err != nil {
		return fmt.Errorf("failed to marshal target input: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO research_jobs (id, target_type, target_input, status, failure_reason, cost_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, string(job.Target.TargetType), target, string(job.Status),
		nullIfEmpty(job.FailureReason), job.CostUSD, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob persists the mutable job fields: status, failure reason, cost and timestamps
func (db *DB) UpdateJob(ctx context.Context, job *types.ResearchJob) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE research_jobs
		 SET status = $2, failure_reason = $3, cost_usd = $4, updated_at = $5,
		     started_at = $6, completed_at = $7
		 WHERE id = $1`,
		job.ID, string(job.Status), nullIfEmpty(job.FailureReason), job.CostUSD,
		job.UpdatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*types.ResearchJob, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "job")
	}
	return job, nil
}

// JobFilters narrows ListJobs
type JobFilters struct {
	Status types.JobStatus
	Limit  int
	Offset int
}

// ListJobs returns jobs newest first
func (db *DB) ListJobs(ctx context.Context, filters JobFilters) ([]types.ResearchJob, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM research_jobs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(filters.Status), limit, filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.ResearchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FailStaleJobs marks jobs left PROCESSING by a previous process as FAILED. It returns
// the number of jobs updated.
func (db *DB) FailStaleJobs(ctx context.Context, reason string) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE research_jobs
		 SET status = 'FAILED', failure_reason = $1, updated_at = NOW(), completed_at = NOW()
		 WHERE status IN ('PENDING', 'PROCESSING')`,
		reason,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
