package types

import (
	"time"

	"github.com/google/uuid"
)

// TracePhase groups trace events by pipeline stage
type TracePhase string

// Trace phases
const (
	PhaseInit             TracePhase = "INIT"
	PhasePlanning         TracePhase = "PLANNING"
	PhaseCollection       TracePhase = "COLLECTION"
	PhaseEntityResolution TracePhase = "ENTITY_RESOLUTION"
	PhaseWriting          TracePhase = "WRITING"
	PhaseCosts            TracePhase = "COSTS"
	PhaseDone             TracePhase = "DONE"
	PhaseFailed           TracePhase = "FAILED"
	PhaseQA               TracePhase = "QA"
	PhaseQAResearch       TracePhase = "QA_RESEARCH"
)

// TraceEvent is an append-only, human-readable progress record
type TraceEvent struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Seq       int64          `json:"seq"`
	Phase     TracePhase     `json:"phase"`
	Step      string         `json:"step"`
	Label     string         `json:"label"`
	Detail    string         `json:"detail,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
