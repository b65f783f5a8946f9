package resolution

import (
	"sort"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// PersonNameThreshold is the Jaro-Winkler similarity above which two normalized
// names are considered the same person, given a shared affiliation.
const PersonNameThreshold = 0.92

// peopleIndex deduplicates person records into nodes
type peopleIndex struct {
	nodes []*Person
}

// personInput is one provider's person record with resolved evidence
type personInput struct {
	rec       types.PersonRecord
	provider  string
	sourceIDs []int
}

func (ix *peopleIndex) ingest(in personInput) *Person {
	name := strings.TrimSpace(in.rec.FullName)
	if name == "" {
		return nil
	}
	cand := newPersonNode(in)
	if match := ix.find(cand); match != nil {
		mergePerson(match, cand, in)
		return match
	}
	ix.nodes = append(ix.nodes, cand)
	return cand
}

// find tries the merge keys in order: apollo id, LinkedIn URL, then a fuzzy
// name match with a shared affiliation.
func (ix *peopleIndex) find(p *Person) *Person {
	if p.ApolloID != "" {
		for _, n := range ix.nodes {
			if n.ApolloID == p.ApolloID {
				return n
			}
		}
	}
	if li := normalizeLinkedIn(p.LinkedInURL); li != "" {
		for _, n := range ix.nodes {
			if normalizeLinkedIn(n.LinkedInURL) == li {
				return n
			}
		}
	}
	for _, n := range ix.nodes {
		if n.LinkedInURL != "" && p.LinkedInURL != "" {
			// two distinct profiles are two people, however close the names
			continue
		}
		if JaroWinkler(n.NormalizedName, p.NormalizedName) < PersonNameThreshold {
			continue
		}
		if sharesAffiliation(n, p) {
			return n
		}
	}
	return nil
}

func sharesAffiliation(a, b *Person) bool {
	if a.CompanyDomain != "" && strings.EqualFold(a.CompanyDomain, b.CompanyDomain) {
		return true
	}
	an, bn := types.NormalizeCompanyName(a.CompanyName), types.NormalizeCompanyName(b.CompanyName)
	return an != "" && an == bn
}

func newPersonNode(in personInput) *Person {
	r := in.rec
	p := &Person{
		FullName:       strings.TrimSpace(r.FullName),
		NormalizedName: types.NormalizePersonName(r.FullName),
		Title:          r.Title,
		LinkedInURL:    r.LinkedInURL,
		PhotoURL:       r.PhotoURL,
		CompanyName:    r.CompanyName,
		CompanyDomain:  types.ExtractDomain(r.CompanyDomain),
		ApolloID:       r.ApolloID,
		IdentitySource: in.provider,
		Experience:     r.Experience,
		Education:      r.Education,
		SourceIDs:      mergeIDs(nil, in.sourceIDs),
	}
	p.Roles = unionRoles(nil, append(append([]string(nil), r.Roles...), r.Title))
	if len(r.Extra) > 0 {
		p.Enrichment = map[string]map[string]string{in.provider: r.Extra}
	}
	p.Relation = relationFor(p.Roles)
	return p
}

// mergePerson folds a duplicate into an existing node. Identity stays with the
// first provider; enrichment is kept per provider, first payload wins.
func mergePerson(dst, src *Person, in personInput) {
	dst.Roles = unionRoles(dst.Roles, src.Roles)
	dst.Relation = relationFor(dst.Roles)
	if dst.ApolloID == "" {
		dst.ApolloID = src.ApolloID
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.LinkedInURL == "" {
		dst.LinkedInURL = src.LinkedInURL
	}
	if dst.PhotoURL == "" {
		dst.PhotoURL = src.PhotoURL
	}
	if dst.CompanyName == "" {
		dst.CompanyName = src.CompanyName
	}
	if dst.CompanyDomain == "" {
		dst.CompanyDomain = src.CompanyDomain
	}
	if len(dst.Experience) == 0 {
		dst.Experience = src.Experience
	}
	if len(dst.Education) == 0 {
		dst.Education = src.Education
	}
	if len(in.rec.Extra) > 0 {
		if dst.Enrichment == nil {
			dst.Enrichment = make(map[string]map[string]string)
		}
		if _, ok := dst.Enrichment[in.provider]; !ok {
			dst.Enrichment[in.provider] = in.rec.Extra
		}
	}
	dst.SourceIDs = mergeIDs(dst.SourceIDs, src.SourceIDs)
}

func unionRoles(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{a, b} {
		for _, r := range list {
			r = strings.TrimSpace(r)
			k := strings.ToLower(r)
			if r == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

func relationFor(roles []string) string {
	for _, r := range roles {
		if strings.Contains(strings.ToLower(r), "founder") {
			return RelationFounderOf
		}
	}
	return RelationLeads
}

func normalizeLinkedIn(raw string) string {
	u := types.NormalizeURL(raw)
	return strings.TrimSuffix(u, "/")
}

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	window := max(len(ra), len(rb))/2 - 1
	if window < 0 {
		window = 0
	}
	matchA := make([]bool, len(ra))
	matchB := make([]bool, len(rb))
	matches := 0
	for i := range ra {
		lo := max(0, i-window)
		hi := min(len(rb), i+window+1)
		for j := lo; j < hi; j++ {
			if matchB[j] || ra[i] != rb[j] {
				continue
			}
			matchA[i], matchB[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := range ra {
		if !matchA[i] {
			continue
		}
		for !matchB[j] {
			j++
		}
		if ra[i] != rb[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	jaro := (m/float64(len(ra)) + m/float64(len(rb)) + (m-float64(transpositions)/2)/m) / 3

	prefix := 0
	for prefix < min(4, len(ra), len(rb)) && ra[prefix] == rb[prefix] {
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}
