package writer

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// RecentNewsMaxAge bounds published dates admitted into recent_news
const RecentNewsMaxAge = 730 * 24 * time.Hour

// recentUndatedFallback is how many undated sources recent_news uses when nothing is dated in range
const recentUndatedFallback = 3

var sortPriority = map[string]int{
	types.ProviderGLEIF:          98,
	types.ProviderCompaniesHouse: 95,
	types.ProviderOpenCorporates: 92,
	types.ProviderPDLCompany:     87,
	types.ProviderPDL:            85,
	types.ProviderOpenAIWeb:      80,
	types.ProviderApollo:         75,
	types.ProviderExa:            70,
	types.ProviderWebsite:        65,
}

var registryProviders = map[string]bool{
	types.ProviderGLEIF:          true,
	types.ProviderCompaniesHouse: true,
	types.ProviderOpenCorporates: true,
}

// SourcePriority ranks a provider for bundle ordering; unknown providers get 50.
func SourcePriority(provider string) int {
	if p, ok := sortPriority[policy.NormalizeProvider(provider)]; ok {
		return p
	}
	return 50
}

// SortSources orders sources by provider priority, shorter snippet first on ties, then id.
func SortSources(sources []types.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		pi, pj := SourcePriority(sources[i].Provider), SourcePriority(sources[j].Provider)
		if pi != pj {
			return pi > pj
		}
		if li, lj := len(sources[i].Snippet), len(sources[j].Snippet); li != lj {
			return li < lj
		}
		return sources[i].ID < sources[j].ID
	})
}

// SelectSources filters the job's sources down to what a section may cite, in bundle order.
func SelectSources(sec policy.Section, all []types.Source, graph *resolution.KnowledgeGraph, now time.Time) []types.Source {
	var out []types.Source
	for _, s := range all {
		if sec.Allows(s.Provider) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if sec.PatentFilter {
		out = filterPatentSources(out, legalNameVariants(graph))
	}
	if sec.RecentOnly {
		out = filterRecent(out, now)
	}
	SortSources(out)
	if sec.PreferRegistry {
		out = registryFirst(out)
	}
	return out
}

// filterRecent keeps sources published within RecentNewsMaxAge. With nothing dated in
// range it falls back to the top undated sources, and failing that to everything.
func filterRecent(sources []types.Source, now time.Time) []types.Source {
	cutoff := now.Add(-RecentNewsMaxAge)
	var recent, undated []types.Source
	for _, s := range sources {
		switch {
		case s.PublishedDate == nil || s.PublishedDate.IsZero():
			undated = append(undated, s)
		case !s.PublishedDate.Before(cutoff):
			recent = append(recent, s)
		}
	}
	if len(recent) > 0 {
		return recent
	}
	if len(undated) > 0 {
		SortSources(undated)
		return undated[:min(recentUndatedFallback, len(undated))]
	}
	return sources
}

func registryFirst(sources []types.Source) []types.Source {
	out := make([]types.Source, 0, len(sources))
	for _, s := range sources {
		if registryProviders[policy.NormalizeProvider(s.Provider)] {
			out = append(out, s)
		}
	}
	for _, s := range sources {
		if !registryProviders[policy.NormalizeProvider(s.Provider)] {
			out = append(out, s)
		}
	}
	return out
}

var patentDomains = map[string]bool{
	"patents.google.com":      true,
	"worldwide.espacenet.com": true,
	"patentscope.wipo.int":    true,
	"patents.justia.com":      true,
	"patft.uspto.gov":         true,
	"appft.uspto.gov":         true,
	"ppubs.uspto.gov":         true,
	"uspto.report":            true,
	"register.epo.org":        true,
	"lens.org":                true,
}

var patentMetadataTokens = []string{
	"assignee", "applicant", "owner", "inventor", "publication number",
	"application number", "priority date", "pct/", "cpc", "ipc",
}

var (
	patentIDRe = regexp.MustCompile(`(?i)\b(?:US|EP|WO|CN|JP)[A-Z]?\d{4,}(?:[A-Z]\d?)?\b`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

func isPatentSource(s types.Source) bool {
	if patentDomains[s.Host()] {
		return true
	}
	text := strings.ToLower(strings.TrimSpace(s.Title + " " + s.Snippet))
	if text == "" {
		return false
	}
	if patentIDRe.MatchString(text) {
		return true
	}
	if !strings.Contains(text, "patent") {
		return false
	}
	for _, tok := range patentMetadataTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// filterPatentSources keeps a patent record only when it names one of the target's
// legal names. Non-patent sources pass through.
func filterPatentSources(sources []types.Source, variants []string) []types.Source {
	if len(variants) == 0 {
		return sources
	}
	out := make([]types.Source, 0, len(sources))
	for _, s := range sources {
		if !isPatentSource(s) {
			out = append(out, s)
			continue
		}
		text := normalizeForMatch(s.Title + " " + s.Snippet)
		for _, v := range variants {
			if strings.Contains(" "+text+" ", " "+v+" ") {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// legalNameVariants collects the normalized names that look like a legal entity name.
func legalNameVariants(graph *resolution.KnowledgeGraph) []string {
	if graph == nil || graph.Company == nil {
		return nil
	}
	c := graph.Company
	candidates := []string{c.Name, c.Attr(types.AttrLegalName)}
	for _, conflict := range graph.Conflicts {
		if conflict.Attribute != types.AttrLegalName {
			continue
		}
		for _, l := range conflict.Losers {
			candidates = append(candidates, l.Value)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, cand := range candidates {
		if !looksLikeLegalName(cand) {
			continue
		}
		n := normalizeForMatch(cand)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// looksLikeLegalName accepts multi-word names. A bare brand such as "Stripe" matches
// too many unrelated patent assignees.
func looksLikeLegalName(v string) bool {
	return len(strings.Fields(v)) >= 2
}

func normalizeForMatch(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(s), " "))
}
