package resolution

import (
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Domain inference sources
const (
	DomainFromUser       = "user"
	DomainFromPDLCompany = "pdl_company"
	DomainFromApollo     = "apollo"
	DomainFromSnippets   = "exa"
	DomainMajorityGuess  = "majority_guess"
)

const (
	minDomainScore     = 5.0
	minDomainScoreGap  = 3.0
	maxInferredDomConf = 0.85
)

// nonCanonicalDomains host profiles about companies, never the company itself
var nonCanonicalDomains = []string{
	"linkedin.com", "crunchbase.com", "pitchbook.com", "bloomberg.com", "wikipedia.org",
	"twitter.com", "x.com", "facebook.com", "instagram.com", "youtube.com",
	"glassdoor.com", "ycombinator.com", "github.com", "medium.com",
}

var homepagePaths = map[string]bool{"": true, "/": true, "/home": true, "/index": true, "/en": true, "/en/": true}

// DomainGuess is the inferred primary domain of the target
type DomainGuess struct {
	Domain     string
	Source     string
	Confidence float64
}

type domainEvidence struct {
	count        int
	homepageHits int
	nameInDomain float64
	nameInTitle  int
	nameInText   int
}

func (d domainEvidence) score() float64 {
	return 2*float64(d.count) +
		3*float64(d.homepageHits) +
		4*d.nameInDomain +
		1.5*float64(d.nameInTitle) +
		1*float64(d.nameInText)
}

// InferDomain picks the target's domain. The first hit wins: the user's website,
// then PDL company, then Apollo, then a scored vote over search-result hosts.
func InferDomain(companyName, website, pdlDomain, apolloDomain string, snippets []types.Snippet) DomainGuess {
	if d := types.ExtractDomain(website); d != "" {
		return DomainGuess{Domain: d, Source: DomainFromUser, Confidence: 0.99}
	}
	if d := types.ExtractDomain(pdlDomain); d != "" {
		return DomainGuess{Domain: d, Source: DomainFromPDLCompany, Confidence: 0.90}
	}
	if d := types.ExtractDomain(apolloDomain); d != "" {
		return DomainGuess{Domain: d, Source: DomainFromApollo, Confidence: 0.90}
	}
	return inferFromSnippets(companyName, snippets)
}

func inferFromSnippets(companyName string, snippets []types.Snippet) DomainGuess {
	norm := types.NormalizeCompanyName(companyName)
	if norm == "" {
		return majorityDomain(snippets)
	}

	candidates := make(map[string]*domainEvidence)
	for _, sn := range snippets {
		d := types.ExtractDomain(sn.URL)
		if d == "" || isNonCanonical(d) {
			continue
		}
		ev, ok := candidates[d]
		if !ok {
			ev = &domainEvidence{}
			candidates[d] = ev
		}
		ev.count++
		if u, err := url.Parse(sn.URL); err == nil && homepagePaths[u.Path] {
			ev.homepageHits++
		}
		ev.nameInDomain = math.Max(ev.nameInDomain, nameDomainSimilarity(norm, d))
		if strings.Contains(strings.ToLower(sn.Title), norm) {
			ev.nameInTitle++
		}
		if strings.Contains(strings.ToLower(sn.Text), norm) {
			ev.nameInText++
		}
	}
	if len(candidates) == 0 {
		return DomainGuess{}
	}

	type scored struct {
		domain string
		score  float64
	}
	ranked := make([]scored, 0, len(candidates))
	for d, ev := range candidates {
		ranked = append(ranked, scored{domain: d, score: ev.score()})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].domain < ranked[j].domain
	})

	best := ranked[0]
	if best.score < minDomainScore {
		return DomainGuess{}
	}
	conf := math.Min(maxInferredDomConf, best.score/10)
	if len(ranked) > 1 {
		second := ranked[1].score
		if best.score-second < minDomainScoreGap {
			return DomainGuess{}
		}
		conf = math.Min(maxInferredDomConf, best.score/(best.score+second+1))
	}
	return DomainGuess{Domain: best.domain, Source: DomainFromSnippets, Confidence: math.Round(conf*1000) / 1000}
}

// majorityDomain is the low-confidence guess used when no name is known
func majorityDomain(snippets []types.Snippet) DomainGuess {
	counts := make(map[string]int)
	for _, sn := range snippets {
		if d := types.ExtractDomain(sn.URL); d != "" && !isNonCanonical(d) {
			counts[d]++
		}
	}
	best, bestN := "", 0
	for d, n := range counts {
		if n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	if best == "" {
		return DomainGuess{}
	}
	return DomainGuess{Domain: best, Source: DomainMajorityGuess, Confidence: 0.3}
}

func isNonCanonical(domain string) bool {
	for _, nc := range nonCanonicalDomains {
		if domain == nc || strings.HasSuffix(domain, "."+nc) {
			return true
		}
	}
	return false
}

// domainTokens drops the TLD: "acme-robotics.co" → ["acme-robotics"]
func domainTokens(domain string) []string {
	parts := strings.Split(strings.ToLower(domain), ".")
	if len(parts) > 1 {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// nameDomainSimilarity is 1 when every name word appears in the domain,
// 0.5-1 for partial overlap and 0 otherwise.
func nameDomainSimilarity(normName, domain string) float64 {
	words := strings.Fields(normName)
	if len(words) == 0 {
		return 0
	}
	tokens := domainTokens(domain)
	matched := 0
	for _, w := range words {
		for _, t := range tokens {
			if strings.Contains(t, w) || strings.Contains(w, t) {
				matched++
				break
			}
		}
	}
	switch {
	case matched == len(words):
		return 1
	case matched > 0:
		return 0.5 + 0.5*float64(matched)/float64(len(words))
	}
	return 0
}
