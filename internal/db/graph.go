package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// SaveGraph persists the resolved company and people of a job in one transaction.
// Saving twice replaces the earlier rows.
func (db *DB) SaveGraph(ctx context.Context, jobID uuid.UUID, graph *resolution.KnowledgeGraph) error {
	if graph == nil {
		return nil
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if graph.Company != nil {
		if err := saveCompany(ctx, tx, jobID, graph); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM people WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear people: %w", err)
	}
	batch := &pgx.Batch{}
	if graph.Person != nil {
		if err := queuePerson(batch, jobID, graph.Person, true); err != nil {
			return err
		}
	}
	for i := range graph.People {
		if err := queuePerson(batch, jobID, &graph.People[i], false); err != nil {
			return err
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save people: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	return nil
}

func saveCompany(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, graph *resolution.KnowledgeGraph) error {
	c := graph.Company
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal company attributes: %w", err)
	}
	conflicts := graph.Conflicts
	if conflicts == nil {
		conflicts = []resolution.Conflict{}
	}
	conflictJSON, err := json.Marshal(conflicts)
	if err != nil {
		return fmt.Errorf("failed to marshal conflicts: %w", err)
	}
	var confidence *float64
	if c.DomainSource != "" {
		confidence = &c.DomainConfidence
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO companies (job_id, name, name_normalized, domain, domain_source, domain_confidence, attributes, conflicts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id) DO UPDATE SET
		     name = $2, name_normalized = $3, domain = $4, domain_source = $5,
		     domain_confidence = $6, attributes = $7, conflicts = $8`,
		jobID, c.Name, types.NormalizeCompanyName(c.Name), nullIfEmpty(c.Domain),
		nullIfEmpty(c.DomainSource), confidence, attrs, conflictJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

func queuePerson(batch *pgx.Batch, jobID uuid.UUID, p *resolution.Person, isTarget bool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal person %q: %w", p.FullName, err)
	}
	normalized := p.NormalizedName
	if normalized == "" {
		normalized = types.NormalizePersonName(p.FullName)
	}
	batch.Queue(
		`INSERT INTO people (job_id, full_name, normalized_name, title, relation, linkedin_url,
		                     company_name, identity_source, is_target, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		jobID, p.FullName, normalized, nullIfEmpty(p.Title), nullIfEmpty(p.Relation),
		nullIfEmpty(p.LinkedInURL), nullIfEmpty(p.CompanyName), p.IdentitySource, isTarget, data,
	)
	return nil
}

// GetCompany returns the persisted company node of a job
func (db *DB) GetCompany(ctx context.Context, jobID uuid.UUID) (*resolution.Company, []resolution.Conflict, error) {
	var (
		c            resolution.Company
		domain       *string
		domainSource *string
		confidence   *float64
		attrs        []byte
		conflictJSON []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT name, domain, domain_source, domain_confidence, attributes, conflicts
		 FROM companies WHERE job_id = $1`, jobID,
	).Scan(&c.Name, &domain, &domainSource, &confidence, &attrs, &conflictJSON)
	if err != nil {
		return nil, nil, notFound(err, "company")
	}
	c.Domain = derefString(domain)
	c.DomainSource = derefString(domainSource)
	if confidence != nil {
		c.DomainConfidence = *confidence
	}
	if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
		return nil, nil, fmt.Errorf("failed to decode company attributes: %w", err)
	}
	var conflicts []resolution.Conflict
	if err := json.Unmarshal(conflictJSON, &conflicts); err != nil {
		return nil, nil, fmt.Errorf("failed to decode conflicts: %w", err)
	}
	return &c, conflicts, nil
}

// ListPeople returns the persisted people of a job, the target person first
func (db *DB) ListPeople(ctx context.Context, jobID uuid.UUID) ([]resolution.Person, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT data FROM people WHERE job_id = $1 ORDER BY is_target DESC, full_name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var out []resolution.Person
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		var p resolution.Person
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
