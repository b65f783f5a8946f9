package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/tracing"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Resolver builds the knowledge graph for one job
type Resolver struct {
	logger *slog.Logger
}

// New creates a resolver
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve runs a resolver with the default logger
func Resolve(ctx context.Context, target types.TargetInput, results []types.ConnectorResult, sources *types.SourceTable, trace *tracing.Log) (*KnowledgeGraph, error) {
	return New(nil).Resolve(ctx, target, results, sources, trace)
}

// resultEvidence maps a result's snippet indices to registered source ids
type resultEvidence struct {
	result types.ConnectorResult
	ids    []int
}

func (re resultEvidence) sourceIDs(rec types.Record) []int {
	var out []int
	for _, i := range rec.Evidence {
		if i >= 0 && i < len(re.ids) {
			out = append(out, re.ids[i])
		}
	}
	return mergeIDs(nil, out)
}

// Resolve registers every snippet of the successful results in sources, then merges
// their records into one canonical entity. It fails with *UnresolvedError when nothing
// identifies the target.
func (r *Resolver) Resolve(ctx context.Context, target types.TargetInput, results []types.ConnectorResult, sources *types.SourceTable, trace *tracing.Log) (*KnowledgeGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target = target.Normalized()
	if sources == nil {
		sources = types.NewSourceTable()
	}

	evidence := registerSources(results, sources)

	attrs := newAttributeCollector()
	identified := false
	var pdlDomain, apolloDomain string
	names := make(map[string]string)
	var searchSnippets []types.Snippet

	for _, re := range evidence {
		for _, sn := range re.result.Snippets {
			if sn.Provider == types.ProviderExa {
				searchSnippets = append(searchSnippets, sn)
			}
		}
		for _, rec := range re.result.Records {
			switch rec.Kind {
			case types.RecordLegalEntity, types.RecordCompany, types.RecordFoundingFacts:
				identified = true
			case types.RecordFundingRollup:
			default:
				continue
			}
			ids := re.sourceIDs(rec)
			for _, key := range sortedKeys(rec.Attributes) {
				value := rec.Attributes[key]
				switch key {
				case types.AttrName, types.AttrWebsite:
					continue
				case types.AttrDomain:
					if rec.Provider == types.ProviderPDLCompany && pdlDomain == "" {
						pdlDomain = value
					}
					if rec.Provider == types.ProviderApollo && apolloDomain == "" {
						apolloDomain = value
					}
					continue
				}
				attrs.add(key, value, rec.Provider, ids, recordTime(rec, re.result))
			}
			if n := rec.Attr(types.AttrName); n != "" && names[rec.Provider] == "" {
				names[rec.Provider] = n
			}
		}
	}

	companyName := firstNonEmpty(target.CompanyName, names[types.ProviderPDLCompany], names[types.ProviderApollo])
	guess := InferDomain(firstNonEmpty(companyName, target.PersonName), target.Website, pdlDomain, apolloDomain, searchSnippets)

	graph := &KnowledgeGraph{TargetType: target.TargetType}

	// People, funding and competitors need the inferred affiliation first.
	people := &peopleIndex{}
	funding := &fundingIndex{}
	competitors := &competitorIndex{exclude: types.NormalizeCompanyName(companyName)}
	for _, re := range evidence {
		for _, rec := range re.result.Records {
			ids := re.sourceIDs(rec)
			switch rec.Kind {
			case types.RecordPerson:
				if rec.Person == nil {
					continue
				}
				p := *rec.Person
				if !target.IsPerson() && p.CompanyDomain == "" && p.CompanyName == "" {
					p.CompanyDomain, p.CompanyName = guess.Domain, companyName
				}
				people.ingest(personInput{rec: p, provider: rec.Provider, sourceIDs: ids})
				if target.IsPerson() {
					identified = true
				}
			case types.RecordFundingRound:
				if rec.Funding != nil {
					funding.add(*rec.Funding, rec.Provider, ids, recordTime(rec, re.result))
				}
			case types.RecordCompetitor:
				if rec.Competitor != nil {
					competitors.add(*rec.Competitor, rec.Provider, ids)
				}
			}
		}
	}

	if total, ids, at, ok := funding.pitchBookTotal(); ok {
		attrs.add(types.AttrTotalFunding, total, types.ProviderPitchBook, ids, at)
	}

	subject := companyName
	if target.IsPerson() {
		subject = target.PersonName
	}
	mentions := mentioningSources(sources, subject, guess.Domain)
	if len(mentions) > 0 {
		identified = true
	}
	if !identified {
		return nil, &UnresolvedError{Message: fmt.Sprintf("no connector returned identity-establishing data for %q", target.Subject())}
	}

	resolved, conflicts := attrs.resolve()
	graph.Conflicts = conflicts
	for _, c := range conflicts {
		r.traceConflict(ctx, trace, c)
	}

	for _, n := range people.nodes {
		graph.People = append(graph.People, *n)
	}
	graph.Funding = funding.sorted()
	graph.Competitors = competitors.list()

	if target.IsPerson() {
		graph.Person = pickTargetPerson(target.PersonName, people.nodes, mentions)
	} else {
		graph.Company = &Company{
			Name:             firstNonEmpty(companyName, resolved[types.AttrLegalName].Value, guess.Domain, target.Subject()),
			Domain:           guess.Domain,
			DomainSource:     guess.Source,
			DomainConfidence: guess.Confidence,
			Attributes:       resolved,
		}
	}

	r.logger.Info("entity resolved",
		"target", graph.Name(),
		"sources", sources.Len(),
		"people", len(graph.People),
		"funding_rounds", len(graph.Funding),
		"competitors", len(graph.Competitors),
		"conflicts", len(graph.Conflicts),
		"domain", guess.Domain)
	return graph, nil
}

// Stats summarizes the graph for trace metadata
func (g *KnowledgeGraph) Stats() map[string]any {
	stats := map[string]any{
		"target":         g.Name(),
		"people":         len(g.People),
		"funding_rounds": len(g.Funding),
		"competitors":    len(g.Competitors),
		"conflicts":      len(g.Conflicts),
	}
	if g.Company != nil {
		stats["domain"] = g.Company.Domain
		stats["domain_source"] = g.Company.DomainSource
		stats["attributes"] = len(g.Company.Attributes)
	}
	return stats
}

func (r *Resolver) traceConflict(ctx context.Context, trace *tracing.Log, c Conflict) {
	losers := make([]string, len(c.Losers))
	providers := make([]string, len(c.Losers))
	for i, l := range c.Losers {
		losers[i] = l.Value
		providers[i] = l.Provider
	}
	r.logger.Debug("attribute conflict", "attribute", c.Attribute, "winner", c.Winner.Value, "winner_provider", c.Winner.Provider, "losers", losers)
	if trace == nil {
		return
	}
	trace.Emit(ctx, types.PhaseEntityResolution, "conflict:"+c.Attribute,
		"Conflicting "+c.Attribute+" values",
		fmt.Sprintf("kept %q from %s over %s", c.Winner.Value, c.Winner.Provider, strings.Join(losers, ", ")),
		map[string]any{
			"winner":          c.Winner.Value,
			"winner_provider": c.Winner.Provider,
			"loser_values":    losers,
			"loser_providers": providers,
			"confidence":      "low",
			"tie":             c.Tie,
		})
}

// registerSources allocates a source for every snippet of every successful result,
// in result order so ids are stable for a given plan.
func registerSources(results []types.ConnectorResult, sources *types.SourceTable) []resultEvidence {
	out := make([]resultEvidence, 0, len(results))
	for _, res := range results {
		if !res.OK() {
			continue
		}
		ids := make([]int, len(res.Snippets))
		for i, sn := range res.Snippets {
			ids[i], _ = sources.Register(sn)
		}
		out = append(out, resultEvidence{result: res, ids: ids})
	}
	return out
}

func recordTime(rec types.Record, res types.ConnectorResult) time.Time {
	if !rec.FetchedAt.IsZero() {
		return rec.FetchedAt
	}
	return res.FetchedAt
}

// mentioningSources returns sources hosted on the target domain or naming the target
func mentioningSources(sources *types.SourceTable, name, domain string) []int {
	norm := strings.ToLower(strings.TrimSpace(name))
	if n := types.NormalizeCompanyName(name); n != "" {
		norm = n
	}
	var ids []int
	for _, s := range sources.All() {
		switch {
		case domain != "" && (s.Host() == domain || strings.HasSuffix(s.Host(), "."+domain)):
			ids = append(ids, s.ID)
		case norm != "" && (strings.Contains(strings.ToLower(s.Title), norm) || strings.Contains(strings.ToLower(s.Snippet), norm)):
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// pickTargetPerson chooses the node matching the requested name. A wrong profile
// is worse than a sparse one, so unmatched candidates are never promoted.
func pickTargetPerson(name string, nodes []*Person, mentions []int) *Person {
	norm := types.NormalizePersonName(name)
	var best *Person
	bestScore := 0.0
	for _, n := range nodes {
		score := JaroWinkler(norm, n.NormalizedName)
		if score >= PersonNameThreshold && score > bestScore {
			best, bestScore = n, score
		}
	}
	if best != nil {
		p := *best
		return &p
	}
	return &Person{
		FullName:       name,
		NormalizedName: norm,
		IdentitySource: "web",
		SourceIDs:      mergeIDs(nil, mentions),
	}
}

// fundingIndex deduplicates rounds by (date, type, amount)
type fundingIndex struct {
	rounds []*FundingRound
	keys   map[string]*FundingRound
	times  []time.Time
}

func fundingKey(f types.FundingRound) string {
	typ := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(f.Type, "_", " "))), " ")
	return strings.TrimSpace(f.Date) + "|" + typ + "|" + normalizeAmount(f.Amount)
}

func (ix *fundingIndex) add(f types.FundingRound, provider string, ids []int, at time.Time) {
	if ix.keys == nil {
		ix.keys = make(map[string]*FundingRound)
	}
	key := fundingKey(f)
	if existing, ok := ix.keys[key]; ok {
		existing.Providers = appendUnique(existing.Providers, provider)
		existing.SourceIDs = mergeIDs(existing.SourceIDs, ids)
		existing.Investors = unionRoles(existing.Investors, f.Investors)
		return
	}
	node := &FundingRound{FundingRound: f, Providers: []string{provider}, SourceIDs: mergeIDs(nil, ids)}
	ix.keys[key] = node
	ix.rounds = append(ix.rounds, node)
	ix.times = append(ix.times, at)
}

// sorted returns rounds newest first; undated rounds go last
func (ix *fundingIndex) sorted() []FundingRound {
	out := make([]FundingRound, len(ix.rounds))
	for i, r := range ix.rounds {
		out[i] = *r
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Date, out[j].Date
		if (a == "") != (b == "") {
			return a != ""
		}
		return a > b
	})
	return out
}

// pitchBookTotal sums PitchBook round sizes as a total_funding candidate
func (ix *fundingIndex) pitchBookTotal() (string, []int, time.Time, bool) {
	var sum float64
	var ids []int
	var at time.Time
	found := false
	for i, r := range ix.rounds {
		if !contains(r.Providers, types.ProviderPitchBook) {
			continue
		}
		v, err := strconv.ParseFloat(normalizeAmount(r.Amount), 64)
		if err != nil || v <= 0 {
			continue
		}
		sum += v
		ids = mergeIDs(ids, r.SourceIDs)
		if ix.times[i].After(at) {
			at = ix.times[i]
		}
		found = true
	}
	if !found {
		return "", nil, time.Time{}, false
	}
	return strconv.FormatFloat(sum, 'f', 0, 64), ids, at, true
}

func normalizeAmount(a string) string {
	a = strings.TrimSpace(strings.ReplaceAll(a, ",", ""))
	if v, err := strconv.ParseFloat(a, 64); err == nil {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return a
}

// competitorIndex deduplicates competitors by normalized name
type competitorIndex struct {
	exclude string
	nodes   []*Competitor
	keys    map[string]*Competitor
}

func (ix *competitorIndex) add(c types.CompetitorRecord, provider string, ids []int) {
	key := types.NormalizeCompanyName(c.Name)
	if key == "" || key == ix.exclude {
		return
	}
	if ix.keys == nil {
		ix.keys = make(map[string]*Competitor)
	}
	if existing, ok := ix.keys[key]; ok {
		existing.SourceIDs = mergeIDs(existing.SourceIDs, ids)
		if existing.Website == "" {
			existing.Website = c.Website
		}
		if existing.Rationale == "" {
			existing.Rationale = c.Rationale
		}
		return
	}
	node := &Competitor{CompetitorRecord: c, Provider: provider, SourceIDs: mergeIDs(nil, ids)}
	ix.keys[key] = node
	ix.nodes = append(ix.nodes, node)
}

func (ix *competitorIndex) list() []Competitor {
	out := make([]Competitor, len(ix.nodes))
	for i, c := range ix.nodes {
		out[i] = *c
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
