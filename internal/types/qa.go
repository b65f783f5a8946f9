package types

import (
	"time"

	"github.com/google/uuid"
)

// QAAnswer is one answered follow-up question about a completed job.
type QAAnswer struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	Question       string     `json:"question"`
	AnswerMarkdown string     `json:"answer_markdown"`
	UsedSourceIDs  []int      `json:"used_source_ids"`
	CitedSourceIDs []int      `json:"cited_source_ids"`
	Unverified     bool       `json:"unverified"`
	CostUSD        float64    `json:"cost_usd"`
	PlanID         *uuid.UUID `json:"plan_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// GapIntent is the topic a question is about, used to pick follow-up research.
type GapIntent string

// Gap intents
const (
	IntentGeneral           GapIntent = "general"
	IntentFundingInvestors  GapIntent = "funding_investors"
	IntentRevenue           GapIntent = "revenue_arr"
	IntentResearchPapers    GapIntent = "research_papers"
	IntentPatents           GapIntent = "patents"
	IntentLitigation        GapIntent = "litigation"
	IntentFounderBackground GapIntent = "founder_background"
	IntentCompetitors       GapIntent = "competitors"
	IntentTechnology        GapIntent = "technology"
	IntentRegulatory        GapIntent = "regulatory"
	IntentAcquisitions      GapIntent = "acquisitions"
	IntentProgramsContracts GapIntent = "programs_contracts"
	IntentCustomers         GapIntent = "customers"
	IntentLegalEntity       GapIntent = "legal_entity"
)

// Gap detection methods
const (
	GapExplicitRequest = "explicit_request"
	GapPhraseMatch     = "phrase_match"
)

// GapSlots narrows follow-up research to what the question mentions.
type GapSlots struct {
	Years        []string `json:"years,omitempty"`
	Round        string   `json:"round,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	PersonName   string   `json:"person_name,omitempty"`
	MustInclude  []string `json:"must_include_terms,omitempty"`
}

// Gap is a detected hole in an answer that more research could fill.
type Gap struct {
	Statement  string    `json:"statement"`
	Intent     GapIntent `json:"intent"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Phrases    []string  `json:"matched_phrases,omitempty"`
	Slots      GapSlots  `json:"slots"`
}

// MicroPlanStatus is the micro-research plan lifecycle state
type MicroPlanStatus string

// Micro-research plan states. PROPOSED -> RUNNING -> {COMPLETED, NO_CHANGE, FAILED}.
const (
	PlanProposed  MicroPlanStatus = "PROPOSED"
	PlanRunning   MicroPlanStatus = "RUNNING"
	PlanCompleted MicroPlanStatus = "COMPLETED"
	PlanNoChange  MicroPlanStatus = "NO_CHANGE"
	PlanFailed    MicroPlanStatus = "FAILED"
)

// IsTerminal reports whether the plan can no longer run
func (s MicroPlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanNoChange || s == PlanFailed
}

// MicroPlan is a small, user-confirmed research plan proposed for a gap in an answer.
type MicroPlan struct {
	ID               uuid.UUID       `json:"id"`
	JobID            uuid.UUID       `json:"job_id"`
	QAID             uuid.UUID       `json:"qa_id"`
	Question         string          `json:"question"`
	Gap              Gap             `json:"gap"`
	Steps            []PlanStep      `json:"steps"`
	Markdown         string          `json:"plan_markdown"`
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`
	CostLabel        string          `json:"cost_label"`
	Status           MicroPlanStatus `json:"status"`
	CreatedSourceIDs []int           `json:"created_source_ids,omitempty"`
	ResultQAID       *uuid.UUID      `json:"result_qa_id,omitempty"`
	Error            string          `json:"error,omitempty"`
	CostUSD          float64         `json:"cost_usd"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PlanTransitionError reports an illegal micro-plan state change
type PlanTransitionError struct {
	From MicroPlanStatus
	To   MicroPlanStatus
}

func (e *PlanTransitionError) Error() string {
	return "illegal micro-plan transition " + string(e.From) + " -> " + string(e.To)
}

// Transition moves the plan forward. Only PROPOSED->RUNNING and RUNNING->terminal are allowed.
func (p *MicroPlan) Transition(to MicroPlanStatus, now time.Time) error {
	allowed := false
	switch p.Status {
	case PlanProposed:
		allowed = to == PlanRunning
	case PlanRunning:
		allowed = to.IsTerminal()
	}
	if !allowed {
		return &PlanTransitionError{From: p.Status, To: to}
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}
