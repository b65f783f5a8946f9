// Package planner turns a research target into an ordered, deterministic list of plan steps.
package planner

import (
	"fmt"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Planning limits
const (
	MaxPlannerSteps = 10
	MaxExaQueries   = 8

	// FundingLookbackDays bounds fundraising news to roughly ten years
	FundingLookbackDays = 3650
	// NewsLookbackDays bounds recent news to roughly eighteen months
	NewsLookbackDays = 540
	// PersonNewsLookbackDays bounds person news to roughly two years
	PersonNewsLookbackDays = 730

	// FoundingFallbackStep is the name of the agentic founding-details step
	FoundingFallbackStep = "openai_founding"
)

// PlanError is returned when no step can be built for the target
type PlanError struct {
	Message string
	Cause   error
}

func (e *PlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Planner builds plans against a section policy table
type Planner struct {
	policy *policy.Table
}

// New creates a planner. A nil table uses the embedded default policy.
func New(table *policy.Table) *Planner {
	if table == nil {
		table = policy.Default()
	}
	return &Planner{policy: table}
}

// Plan builds the plan with the default policy table
func Plan(target types.TargetInput, caps types.Capabilities) ([]types.PlanStep, error) {
	return New(nil).Plan(target, caps)
}

// Plan returns the ordered steps for a target. It performs no I/O and reads no clock:
// identical inputs always produce identical plans. Relative time windows are carried
// as lookback_days and resolved by the connector at fetch time.
func (p *Planner) Plan(target types.TargetInput, caps types.Capabilities) ([]types.PlanStep, error) {
	target = target.Normalized()
	if !target.HasIdentity() {
		return nil, &PlanError{Message: "target has no company name, person name, website or LEI to search for"}
	}

	var candidates []types.PlanStep
	if target.IsPerson() {
		candidates = personSteps(target, caps)
	} else {
		candidates = companySteps(target, caps)
	}

	sections := types.SectionsFor(target.TargetType)
	steps := make([]types.PlanStep, 0, len(candidates))
	for _, step := range candidates {
		if !caps.Enabled(step.ConnectorID) {
			continue
		}
		affinity, ok := p.eligibleAffinity(step, sections)
		if !ok {
			continue
		}
		step.SectionAffinity = affinity
		steps = append(steps, step)
	}

	if len(steps) > MaxPlannerSteps {
		steps = steps[:MaxPlannerSteps]
	}

	// The fallback never counts toward the step cap.
	if !target.IsPerson() && caps.Enabled(types.ConnectorOpenAIWeb) && !caps.Enabled(types.ConnectorGLEIF) {
		if fb, ok := foundingFallbackStep(target, "legal-entity registry lookup (GLEIF) is not configured"); ok {
			steps = append(steps, fb)
		}
	}

	if len(steps) == 0 {
		return nil, &PlanError{Message: fmt.Sprintf("no enabled connector can serve target %q", target.Subject())}
	}
	return steps, nil
}

// eligibleAffinity narrows a step's affinity to sections whose whitelist admits
// the step's provider. A step is also eligible when the brief carries a section
// that admits every provider.
func (p *Planner) eligibleAffinity(step types.PlanStep, sections []types.SectionName) ([]types.SectionName, bool) {
	inBrief := make(map[types.SectionName]bool, len(sections))
	for _, s := range sections {
		inBrief[s] = true
	}

	var candidates []types.SectionName
	for _, s := range step.SectionAffinity {
		if inBrief[s] {
			candidates = append(candidates, s)
		}
	}
	affinity := p.policy.SectionsServedBy(step.ConnectorID, candidates)
	if len(affinity) > 0 {
		return affinity, true
	}

	for _, s := range sections {
		if sec, ok := p.policy.Section(s); ok && sec.AllowsAll() {
			return []types.SectionName{s}, true
		}
	}
	return nil, false
}

// FoundingFallback decides, after execution, whether the agentic founding-details
// step should run: OpenAI is enabled, the target is a company, the fallback has not
// already run, and the GLEIF lookup produced no legal entity.
func FoundingFallback(target types.TargetInput, caps types.Capabilities, results []types.ConnectorResult) (types.PlanStep, bool) {
	target = target.Normalized()
	if target.IsPerson() || !caps.Enabled(types.ConnectorOpenAIWeb) {
		return types.PlanStep{}, false
	}

	reason := "legal-entity registry lookup (GLEIF) was not run"
	for _, r := range results {
		if r.StepName == FoundingFallbackStep || r.Fallback {
			return types.PlanStep{}, false
		}
		if r.ConnectorID != types.ConnectorGLEIF {
			continue
		}
		if r.OK() && r.HasRecordKind(types.RecordLegalEntity) {
			return types.PlanStep{}, false
		}
		switch r.Status {
		case types.StatusTimeout:
			reason = "legal-entity registry lookup (GLEIF) timed out"
		case types.StatusError:
			reason = "legal-entity registry lookup (GLEIF) failed"
		default:
			reason = "legal-entity registry lookup (GLEIF) returned no match"
		}
	}
	return foundingFallbackStep(target, reason)
}

func foundingFallbackStep(target types.TargetInput, reason string) (types.PlanStep, bool) {
	if target.CompanyName == "" && target.Domain() == "" {
		return types.PlanStep{}, false
	}
	return types.PlanStep{
		Name:        FoundingFallbackStep,
		ConnectorID: types.ConnectorOpenAIWeb,
		Operation:   "founding",
		Parameters: types.StepParams{
			"mode":         "founding",
			"company_name": target.CompanyName,
			"website":      target.Website,
			"context":      target.Context,
		},
		SectionAffinity: []types.SectionName{types.SectionFoundingDetails},
		Metadata: map[string]string{
			types.MetaFallback:       "true",
			types.MetaFallbackReason: reason,
		},
	}, true
}

// contextHint is the first twenty words of the user context, space-prefixed.
func contextHint(ctx string) string {
	words := strings.Fields(ctx)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 20 {
		words = words[:20]
	}
	return " " + strings.Join(words, " ")
}
