package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// SaveBrief stores the brief of a completed job: the served document plus the
// per-section records with their status and source ids.
func (db *DB) SaveBrief(ctx context.Context, brief *types.Brief) error {
	doc, err := json.Marshal(brief.Document())
	if err != nil {
		return fmt.Errorf("failed to marshal brief document: %w", err)
	}
	sections, err := json.Marshal(brief.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal brief sections: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO briefs (job_id, document, sections, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id) DO UPDATE SET document = $2, sections = $3, created_at = $4`,
		brief.JobID, doc, sections, brief.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save brief: %w", err)
	}
	return nil
}

// GetBrief returns the stored brief document of a job
func (db *DB) GetBrief(ctx context.Context, jobID uuid.UUID) (*types.BriefDocument, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT document FROM briefs WHERE job_id = $1`, jobID).Scan(&raw)
	if err != nil {
		return nil, notFound(err, "brief")
	}
	var doc types.BriefDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode brief: %w", err)
	}
	return &doc, nil
}

// GetBriefSections returns the per-section records of a job's brief
func (db *DB) GetBriefSections(ctx context.Context, jobID uuid.UUID) ([]types.BriefSection, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT sections FROM briefs WHERE job_id = $1`, jobID).Scan(&raw)
	if err != nil {
		return nil, notFound(err, "brief")
	}
	var sections []types.BriefSection
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("failed to decode brief sections: %w", err)
	}
	return sections, nil
}
