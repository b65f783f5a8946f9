package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// AppendTraceEvent persists one trace event. DB satisfies tracing.Sink.
func (db *DB) AppendTraceEvent(ctx context.Context, ev *types.TraceEvent) error {
	var meta []byte
	if len(ev.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(ev.Meta); err != nil {
			return fmt.Errorf("failed to marshal trace meta: %w", err)
		}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO trace_events (id, job_id, seq, phase, step, label, detail, meta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.JobID, ev.Seq, string(ev.Phase), ev.Step, ev.Label, nullIfEmpty(ev.Detail), meta, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append trace event %s: %w", ev.Step, err)
	}
	return nil
}

// ListTraceEvents returns a job's events in emission order. afterSeq > 0 returns only
// later events.
func (db *DB) ListTraceEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]types.TraceEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, seq, phase, step, label, detail, meta, created_at
		 FROM trace_events WHERE job_id = $1 AND seq > $2 ORDER BY seq`,
		jobID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trace events: %w", err)
	}
	defer rows.Close()

	var out []types.TraceEvent
	for rows.Next() {
		var (
			ev     types.TraceEvent
			phase  string
			detail *string
			meta   []byte
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Seq, &phase, &ev.Step, &ev.Label, &detail, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace event: %w", err)
		}
		ev.Phase = types.TracePhase(phase)
		ev.Detail = derefString(detail)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode trace meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
