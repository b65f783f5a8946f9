package resolution

import (
	"sort"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var (
	registryOrder = []string{
		types.ProviderGLEIF, types.ProviderCompaniesHouse, types.ProviderOpenCorporates,
		types.ProviderOpenAIWeb, types.ProviderPDLCompany, types.ProviderApollo, types.ProviderExa,
	}
	foundedOrder = []string{
		types.ProviderCompaniesHouse, types.ProviderOpenCorporates, types.ProviderGLEIF,
		types.ProviderPDLCompany, types.ProviderApollo, types.ProviderOpenAIWeb, types.ProviderExa,
	}
	hqOrder = []string{
		types.ProviderGLEIF, types.ProviderCompaniesHouse, types.ProviderPDLCompany,
		types.ProviderApollo, types.ProviderOpenAIWeb,
	}
	firmographicOrder = []string{
		types.ProviderPDLCompany, types.ProviderApollo, types.ProviderOpenAIWeb, types.ProviderExa,
	}
	fundingOrder = []string{
		types.ProviderPitchBook, types.ProviderPDLCompany, types.ProviderExa,
	}
	defaultOrder = []string{
		types.ProviderGLEIF, types.ProviderCompaniesHouse, types.ProviderOpenCorporates,
		types.ProviderPDLCompany, types.ProviderApollo, types.ProviderPitchBook,
		types.ProviderOpenAIWeb, types.ProviderExa, types.ProviderWebsite,
	}
)

// attributePriority lists providers per attribute, highest first.
var attributePriority = map[string][]string{
	types.AttrLegalName:         registryOrder,
	types.AttrJurisdiction:      registryOrder,
	types.AttrLEI:               registryOrder,
	types.AttrRegisteredAddress: registryOrder,
	types.AttrFoundedYear:       foundedOrder,
	types.AttrHQ:                hqOrder,
	types.AttrEmployeeCount:     firmographicOrder,
	types.AttrIndustry:          firmographicOrder,
	types.AttrDescription:       firmographicOrder,
	types.AttrTotalFunding:      fundingOrder,
}

// ProviderPriority scores a provider for an attribute. Higher wins; providers
// absent from the attribute's order score 0 and only win when nothing else is known.
func ProviderPriority(attribute, provider string) int {
	order, ok := attributePriority[attribute]
	if !ok {
		order = defaultOrder
	}
	for i, p := range order {
		if p == provider {
			return len(order) - i
		}
	}
	return 0
}

// merged is the outcome of resolving one attribute
type merged struct {
	attr     Attribute
	conflict *Conflict
}

// mergeAttribute picks the winning candidate. Higher provider priority wins; among
// equal priorities the most recently fetched record wins. That tie rule is a policy
// choice, not a correctness guarantee: two registries of equal rank can both be right
// about different legal entities. Losers with the same value corroborate the winner
// and contribute their source ids; differing losers are reported as a conflict.
func mergeAttribute(key string, cands []Candidate) merged {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.FetchedAt.Equal(b.FetchedAt) {
			return a.FetchedAt.After(b.FetchedAt)
		}
		return a.Provider < b.Provider
	})

	win := sorted[0]
	out := merged{attr: Attribute{
		Value:     win.Value,
		Provider:  win.Provider,
		Priority:  win.Priority,
		SourceIDs: mergeIDs(nil, win.SourceIDs),
		FetchedAt: win.FetchedAt,
	}}

	winKey := valueKey(key, win.Value)
	var losers []Candidate
	tie := false
	seenLoser := make(map[string]bool)
	for _, c := range sorted[1:] {
		if valueKey(key, c.Value) == winKey {
			out.attr.SourceIDs = mergeIDs(out.attr.SourceIDs, c.SourceIDs)
			continue
		}
		if c.Priority == win.Priority {
			tie = true
		}
		lk := c.Provider + "\x00" + valueKey(key, c.Value)
		if seenLoser[lk] {
			continue
		}
		seenLoser[lk] = true
		losers = append(losers, c)
	}
	if len(losers) > 0 {
		out.conflict = &Conflict{Attribute: key, Winner: win, Losers: losers, Tie: tie}
	}
	return out
}

// valueKey is the comparison form of an attribute value
func valueKey(key, value string) string {
	switch key {
	case types.AttrLegalName, types.AttrName:
		return types.NormalizeCompanyName(value)
	case types.AttrFoundedYear:
		v := strings.TrimSpace(value)
		if len(v) >= 4 {
			return v[:4]
		}
		return v
	}
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

// attributeCollector gathers candidates per attribute in ingestion order
type attributeCollector struct {
	order []string
	cands map[string][]Candidate
}

func newAttributeCollector() *attributeCollector {
	return &attributeCollector{cands: make(map[string][]Candidate)}
}

// add records a candidate. Values without evidence are not committed facts and are skipped.
func (c *attributeCollector) add(key, value, provider string, sourceIDs []int, fetchedAt time.Time) {
	value = strings.TrimSpace(value)
	if value == "" || len(sourceIDs) == 0 {
		return
	}
	if _, ok := c.cands[key]; !ok {
		c.order = append(c.order, key)
	}
	c.cands[key] = append(c.cands[key], Candidate{
		Value:     value,
		Provider:  provider,
		Priority:  ProviderPriority(key, provider),
		SourceIDs: sourceIDs,
		FetchedAt: fetchedAt,
	})
}

// resolve merges every collected attribute. Conflicts come back in first-seen attribute order.
func (c *attributeCollector) resolve() (map[string]Attribute, []Conflict) {
	attrs := make(map[string]Attribute, len(c.order))
	var conflicts []Conflict
	for _, key := range c.order {
		m := mergeAttribute(key, c.cands[key])
		attrs[key] = m.attr
		if m.conflict != nil {
			conflicts = append(conflicts, *m.conflict)
		}
	}
	return attrs, conflicts
}
