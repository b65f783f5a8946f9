// Package resolution merges normalized connector results into one canonical knowledge graph.
package resolution

import (
	"fmt"
	"sort"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Person relations to the target company
const (
	RelationFounderOf = "founder_of"
	RelationLeads     = "leads"
)

// UnresolvedError is returned when no connector yielded identity-establishing data
type UnresolvedError struct {
	Message string
	Cause   error
}

func (e *UnresolvedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UnresolvedError) Unwrap() error {
	return e.Cause
}

// Attribute is one resolved company fact with its provenance.
type Attribute struct {
	Value     string    `json:"value"`
	Provider  string    `json:"provider"`
	Priority  int       `json:"provider_priority"`
	SourceIDs []int     `json:"source_ids"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Company is the canonical company node.
type Company struct {
	Name             string               `json:"name"`
	Domain           string               `json:"domain,omitempty"`
	DomainSource     string               `json:"domain_source,omitempty"`
	DomainConfidence float64              `json:"domain_confidence,omitempty"`
	Attributes       map[string]Attribute `json:"attributes"`
}

// Attr returns the resolved value for key or ""
func (c *Company) Attr(key string) string {
	if c == nil {
		return ""
	}
	return c.Attributes[key].Value
}

// AttributeKeys returns the resolved attribute keys in sorted order
func (c *Company) AttributeKeys() []string {
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Person is a deduplicated person node.
type Person struct {
	FullName       string                       `json:"full_name"`
	NormalizedName string                       `json:"normalized_name"`
	Title          string                       `json:"title,omitempty"`
	Roles          []string                     `json:"roles,omitempty"`
	Relation       string                       `json:"relation,omitempty"`
	LinkedInURL    string                       `json:"linkedin_url,omitempty"`
	PhotoURL       string                       `json:"photo_url,omitempty"`
	CompanyName    string                       `json:"company_name,omitempty"`
	CompanyDomain  string                       `json:"company_domain,omitempty"`
	ApolloID       string                       `json:"apollo_id,omitempty"`
	IdentitySource string                       `json:"identity_source"`
	Experience     []string                     `json:"experience,omitempty"`
	Education      []string                     `json:"education,omitempty"`
	Enrichment     map[string]map[string]string `json:"enrichment,omitempty"`
	SourceIDs      []int                        `json:"source_ids,omitempty"`
}

// FundingRound is a deduplicated financing event.
type FundingRound struct {
	types.FundingRound
	Providers []string `json:"providers"`
	SourceIDs []int    `json:"source_ids,omitempty"`
}

// Competitor is a deduplicated competitor node.
type Competitor struct {
	types.CompetitorRecord
	Provider  string `json:"provider"`
	SourceIDs []int  `json:"source_ids,omitempty"`
}

// Candidate is one provider's value for an attribute.
type Candidate struct {
	Value     string    `json:"value"`
	Provider  string    `json:"provider"`
	Priority  int       `json:"provider_priority"`
	SourceIDs []int     `json:"source_ids"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Conflict records disagreeing provider values for one attribute.
type Conflict struct {
	Attribute string      `json:"attribute"`
	Winner    Candidate   `json:"winner"`
	Losers    []Candidate `json:"losers"`
	// Tie is set when a loser had the winner's priority and lost on recency only.
	Tie bool `json:"tie,omitempty"`
}

// KnowledgeGraph is the canonical entity plus its attached nodes.
// It is written once by the resolver and read-only afterwards.
type KnowledgeGraph struct {
	TargetType  types.TargetType `json:"target_type"`
	Company     *Company         `json:"company,omitempty"`
	Person      *Person          `json:"person,omitempty"`
	People      []Person         `json:"people"`
	Funding     []FundingRound   `json:"funding_rounds"`
	Competitors []Competitor     `json:"competitors"`
	Conflicts   []Conflict       `json:"conflicts,omitempty"`
}

// Name returns the display name of the canonical entity
func (g *KnowledgeGraph) Name() string {
	if g.Person != nil {
		return g.Person.FullName
	}
	if g.Company != nil {
		return g.Company.Name
	}
	return ""
}

// EvidenceIDs returns every source id that justifies a committed fact, ascending.
func (g *KnowledgeGraph) EvidenceIDs() []int {
	seen := make(map[int]bool)
	add := func(ids []int) {
		for _, id := range ids {
			seen[id] = true
		}
	}
	if g.Company != nil {
		for _, a := range g.Company.Attributes {
			add(a.SourceIDs)
		}
	}
	if g.Person != nil {
		add(g.Person.SourceIDs)
	}
	for _, p := range g.People {
		add(p.SourceIDs)
	}
	for _, f := range g.Funding {
		add(f.SourceIDs)
	}
	for _, c := range g.Competitors {
		add(c.SourceIDs)
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func mergeIDs(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	seen := make(map[int]bool, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, ids := range [][]int{a, b} {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Ints(out)
	return out
}
