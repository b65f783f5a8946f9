package types

import (
	"fmt"
	"strconv"
)

// Metadata keys set on plan steps
const (
	MetaFallback       = "fallback"
	MetaFallbackReason = "fallback_reason"
	MetaMicroTask      = "micro_task"
	MetaQueryHint      = "query_hint"
)

// PlanStep is one unit of work assigning a connector and parameters to brief sections.
// Steps are produced once per job and never modified afterwards.
type PlanStep struct {
	Name            string            `json:"name"`
	ConnectorID     ConnectorID       `json:"connector_id"`
	Operation       string            `json:"operation"`
	Parameters      StepParams        `json:"parameters"`
	SectionAffinity []SectionName     `json:"section_affinity"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsFallback reports whether the step is the agentic fallback rather than a deterministic step.
func (s PlanStep) IsFallback() bool {
	return s.Metadata[MetaFallback] == "true"
}

// ServesSection reports whether the step's data may feed the named section.
func (s PlanStep) ServesSection(name SectionName) bool {
	for _, sec := range s.SectionAffinity {
		if sec == name {
			return true
		}
	}
	return false
}

// StepParams holds connector parameters. Values are strings, ints, bools or string slices.
type StepParams map[string]any

// String returns a string parameter or "".
func (p StepParams) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns a string-slice parameter. JSON-decoded []any values are accepted.
func (p StepParams) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Int returns an integer parameter, or def when absent or malformed.
func (p StepParams) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
