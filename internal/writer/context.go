package writer

import (
	"encoding/json"
	"fmt"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// The structured context shows the model only graph facts backed by a source in the
// section's bundle, with their source ids cut down to that bundle.

type attributeView struct {
	Value     string `json:"value"`
	Provider  string `json:"provider"`
	SourceIDs []int  `json:"source_ids"`
}

type companyView struct {
	Name             string                   `json:"name"`
	Domain           string                   `json:"domain,omitempty"`
	DomainSource     string                   `json:"domain_source,omitempty"`
	DomainConfidence float64                  `json:"domain_confidence,omitempty"`
	Attributes       map[string]attributeView `json:"attributes,omitempty"`
}

type personView struct {
	FullName       string                       `json:"full_name"`
	Roles          []string                     `json:"roles,omitempty"`
	Relation       string                       `json:"relation,omitempty"`
	LinkedInURL    string                       `json:"linkedin_url,omitempty"`
	Company        string                       `json:"company,omitempty"`
	IdentitySource string                       `json:"identity_source"`
	Experience     []string                     `json:"experience,omitempty"`
	Education      []string                     `json:"education,omitempty"`
	Enrichment     map[string]map[string]string `json:"enrichment,omitempty"`
	SourceIDs      []int                        `json:"source_ids"`
}

type fundingView struct {
	Date      string   `json:"date,omitempty"`
	Type      string   `json:"type,omitempty"`
	Amount    string   `json:"amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Investors []string `json:"investors,omitempty"`
	Providers []string `json:"providers"`
	SourceIDs []int    `json:"source_ids"`
}

type competitorView struct {
	Name      string `json:"name"`
	Website   string `json:"website,omitempty"`
	Type      string `json:"type,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	SourceIDs []int  `json:"source_ids"`
}

type conflictView struct {
	Attribute string          `json:"attribute"`
	Chosen    attributeView   `json:"chosen"`
	Rejected  []attributeView `json:"rejected"`
}

type sectionContext struct {
	TargetType  types.TargetType `json:"target_type"`
	Company     *companyView     `json:"company,omitempty"`
	Person      *personView      `json:"person,omitempty"`
	People      []personView     `json:"people,omitempty"`
	Funding     []fundingView    `json:"funding_rounds,omitempty"`
	Competitors []competitorView `json:"competitors,omitempty"`
	Conflicts   []conflictView   `json:"conflicts,omitempty"`
}

// BuildContext renders the graph facts citable from the given bundle ids as indented JSON.
func BuildContext(graph *resolution.KnowledgeGraph, bundleIDs []int) (string, error) {
	if graph == nil {
		return "{}", nil
	}
	allowed := make(map[int]bool, len(bundleIDs))
	for _, id := range bundleIDs {
		allowed[id] = true
	}

	ctx := sectionContext{TargetType: graph.TargetType}
	if c := graph.Company; c != nil {
		cv := &companyView{
			Name:             c.Name,
			Domain:           c.Domain,
			DomainSource:     c.DomainSource,
			DomainConfidence: c.DomainConfidence,
		}
		for _, key := range c.AttributeKeys() {
			a := c.Attributes[key]
			ids := restrict(a.SourceIDs, allowed)
			if len(ids) == 0 {
				continue
			}
			if cv.Attributes == nil {
				cv.Attributes = make(map[string]attributeView)
			}
			cv.Attributes[key] = attributeView{Value: a.Value, Provider: a.Provider, SourceIDs: ids}
		}
		ctx.Company = cv
	}
	if p := graph.Person; p != nil {
		if v, ok := viewPerson(*p, allowed); ok {
			ctx.Person = &v
		}
	}
	for _, p := range graph.People {
		if v, ok := viewPerson(p, allowed); ok {
			ctx.People = append(ctx.People, v)
		}
	}
	for _, f := range graph.Funding {
		ids := restrict(f.SourceIDs, allowed)
		if len(ids) == 0 {
			continue
		}
		ctx.Funding = append(ctx.Funding, fundingView{
			Date: f.Date, Type: f.Type, Amount: f.Amount, Currency: f.Currency,
			Investors: f.Investors, Providers: f.Providers, SourceIDs: ids,
		})
	}
	for _, c := range graph.Competitors {
		ids := restrict(c.SourceIDs, allowed)
		if len(ids) == 0 {
			continue
		}
		ctx.Competitors = append(ctx.Competitors, competitorView{
			Name: c.Name, Website: c.Website, Type: c.Type, Rationale: c.Rationale, SourceIDs: ids,
		})
	}
	for _, c := range graph.Conflicts {
		cv := conflictView{Attribute: c.Attribute}
		if ids := restrict(c.Winner.SourceIDs, allowed); len(ids) > 0 {
			cv.Chosen = attributeView{Value: c.Winner.Value, Provider: c.Winner.Provider, SourceIDs: ids}
		}
		for _, l := range c.Losers {
			if ids := restrict(l.SourceIDs, allowed); len(ids) > 0 {
				cv.Rejected = append(cv.Rejected, attributeView{Value: l.Value, Provider: l.Provider, SourceIDs: ids})
			}
		}
		if cv.Chosen.Value != "" && len(cv.Rejected) > 0 {
			ctx.Conflicts = append(ctx.Conflicts, cv)
		}
	}

	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal section context: %w", err)
	}
	return string(data), nil
}

func viewPerson(p resolution.Person, allowed map[int]bool) (personView, bool) {
	ids := restrict(p.SourceIDs, allowed)
	if len(ids) == 0 {
		return personView{}, false
	}
	company := p.CompanyName
	if company == "" {
		company = p.CompanyDomain
	}
	return personView{
		FullName:       p.FullName,
		Roles:          p.Roles,
		Relation:       p.Relation,
		LinkedInURL:    p.LinkedInURL,
		Company:        company,
		IdentitySource: p.IdentitySource,
		Experience:     p.Experience,
		Education:      p.Education,
		Enrichment:     p.Enrichment,
		SourceIDs:      ids,
	}, true
}

func restrict(ids []int, allowed map[int]bool) []int {
	var out []int
	for _, id := range ids {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out
}
