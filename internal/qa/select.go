package qa

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/writer"
)

// Context limits
const (
	MaxContextTokens = 24000
	MaxSnippetChars  = 4000
)

type sectionKeywords struct {
	section types.SectionName
	re      *regexp.Regexp
}

func keywordRe(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)(?:s|es)?\b`)
}

var questionSections = []sectionKeywords{
	{types.SectionTechnology, keywordRe("patent", "ip", "intellectual property", "technology", "tech stack", "architecture")},
	{types.SectionFoundersAndLeadership, keywordRe("founder", "co-founder", "ceo", "team", "leadership", "management", "executive", "officer")},
	{types.SectionFundraising, keywordRe("funding", "raised", "investor", "investment", "round", "series", "valuation", "capital")},
	{types.SectionProduct, keywordRe("product", "offering", "service", "platform", "solution", "feature")},
	{types.SectionCompetitors, keywordRe("competitor", "alternative", "rival", "compete", "market share", "vs")},
	{types.SectionRecentNews, keywordRe("news", "recent", "announcement", "press", "update", "event")},
	{types.SectionFoundingDetails, keywordRe("founding", "founded", "incorporated", "registered", "abn", "acn", "lei", "jurisdiction", "headquarters", "hq")},
	{types.SectionPersonOverview, keywordRe("biography", "bio", "background", "education", "degree", "university")},
	{types.SectionCareerHistory, keywordRe("career", "experience", "previous", "prior", "worked", "role", "position")},
}

// SectionsForQuestion maps a question to the brief sections whose sources can answer
// it. Sections outside the target type's brief are ignored; with no match every
// section of the brief applies.
func SectionsForQuestion(question string, targetType types.TargetType) []types.SectionName {
	brief := types.SectionsFor(targetType)
	inBrief := make(map[types.SectionName]bool, len(brief))
	for _, s := range brief {
		inBrief[s] = true
	}
	var out []types.SectionName
	for _, sk := range questionSections {
		if inBrief[sk.section] && sk.re.MatchString(question) {
			out = append(out, sk.section)
		}
	}
	if len(out) == 0 {
		return brief
	}
	return out
}

// SelectSources picks the sources a question may be answered from: the union of what
// each matching section's policy admits, most relevant first. When the policies admit
// nothing every source is eligible.
func SelectSources(question string, sections []types.SectionName, all []types.Source, table *policy.Table, graph *resolution.KnowledgeGraph, now time.Time) []types.Source {
	seen := make(map[int]bool)
	var out []types.Source
	for _, name := range sections {
		sec, ok := table.Section(name)
		if !ok {
			continue
		}
		for _, s := range writer.SelectSources(sec, all, graph, now) {
			if !seen[s.ID] {
				seen[s.ID] = true
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, all...)
		writer.SortSources(out)
	}

	scores := make(map[int]float64, len(out))
	for _, s := range out {
		scores[s.ID] = ScoreRelevance(question, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ID] > scores[out[j].ID]
	})
	return out
}

var (
	wordRe       = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)
	patentNumRe  = regexp.MustCompile(`(?i)\b(?:US|EP|WO|CN|JP)[A-Z]?\d{4,}`)
	currencyRe   = regexp.MustCompile(`(?i)[$£€]\s*[\d,.]+\s*(?:million|billion|[MBK])?`)
	dateRe       = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`)
	emailRe      = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	registryIDRe = regexp.MustCompile(`(?i)\b(?:ABN|ACN|EIN|VAT|CRN|LEI)[\s:]*[\d\s-]+`)
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"what": true, "who": true, "where": true, "when": true, "how": true, "does": true,
	"do": true, "did": true, "have": true, "has": true, "their": true, "they": true,
	"this": true, "that": true, "for": true, "with": true, "and": true, "or": true,
}

// questionTerms returns the distinct content words of a question
func questionTerms(question string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordRe.FindAllString(strings.ToLower(question), -1) {
		if len(w) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// ScoreRelevance rates a source for a question. Title term hits weigh three times a
// snippet hit; patent numbers, amounts, dates, emails and registry ids add a bonus.
func ScoreRelevance(question string, s types.Source) float64 {
	title := strings.ToLower(s.Title)
	snippet := strings.ToLower(s.Snippet)

	score := 0.0
	for _, term := range questionTerms(question) {
		if strings.Contains(title, term) {
			score += 3
		}
		if strings.Contains(snippet, term) {
			score++
		}
	}
	if patentNumRe.MatchString(s.Snippet) {
		score += 2
	}
	if currencyRe.MatchString(s.Snippet) {
		score += 1.5
	}
	if dateRe.MatchString(s.Snippet) {
		score++
	}
	if emailRe.MatchString(s.Snippet) {
		score += 0.5
	}
	if registryIDRe.MatchString(s.Snippet) {
		score += 1.5
	}
	return score
}

// RawContext is the source text an answer is drafted from
type RawContext struct {
	Text      string
	IDs       []int
	Truncated bool
}

// BuildRawContext packs whole source excerpts, not summaries, until maxTokens is spent.
// The first source is always admitted.
func BuildRawContext(sources []types.Source, maxTokens int) RawContext {
	var rc RawContext
	var blocks []string
	used := 0
	for _, s := range sources {
		block := writer.SourceBlock(s, writer.Redact(clipSnippet(s.Snippet, MaxSnippetChars)))
		cost := writer.EstimateTokens(block)
		if used+cost > maxTokens && len(rc.IDs) > 0 {
			rc.Truncated = true
			break
		}
		used += cost
		rc.IDs = append(rc.IDs, s.ID)
		blocks = append(blocks, block)
	}
	rc.Text = strings.Join(blocks, "\n\n")
	return rc
}

func clipSnippet(s string, limit int) string {
	cut := types.TruncateUTF8(s, limit)
	if len(cut) == len(s) {
		return s
	}
	return cut + fmt.Sprintf("\n... [truncated, %d more chars in original]", len(s)-len(cut))
}
