package qa

import (
	"regexp"
	"sort"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// explicitTriggers mark a question that itself asks for more research
var explicitTriggers = []string{
	"look this up", "search for", "dig deeper", "find more", "can you research", "look up",
	"search the web", "find information", "get more details", "investigate",
	"do additional research", "more research", "structured sources", "from pdl",
	"leadership roster", "consolidated roster", "compile a roster", "compile a list", "list all",
	"can you search", "can you find", "can you look", "please search", "please find",
	"please look up", "could you search", "could you find",
}

// gapPhrases are answer phrasings that admit the sources lacked something
var gapPhrases = []string{
	"not disclosed in available sources", "not disclosed in the available sources",
	"not found in available sources", "not found in the available sources",
	"not present in available sources", "not present in the available sources",
	"not identifiable in available sources", "not identifiable in the available sources",
	"not available in the sources", "not in the provided sources",
	"no information available", "not mentioned in the sources", "sources do not contain",
	"unable to find", "no data available", "information not available", "could not be determined",
	"not specified in", "no evidence of", "not identifiable", "cannot reliably identify",
	"cannot be identified", "unable to identify", "no explicit mention", "no explicit",
}

var gapPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bcannot\s+be\s+\w+\s*(?:analyzed|determined|verified|confirmed|identified)`),
	regexp.MustCompile(`\bcould\s+not\s+(?:find|locate|identify|determine|verify)\b`),
	regexp.MustCompile(`\bunable\s+to\s+(?:find|locate|identify|determine|verify)\b`),
	regexp.MustCompile(`\bno\s+(?:specific|detailed|explicit|clear)\s+(?:information|data|evidence|mention)`),
	regexp.MustCompile(`\bnot\s+(?:explicitly\s+)?(?:stated|mentioned|specified|disclosed|provided)\s+in`),
	regexp.MustCompile(`\b(?:lacks|missing)\s+(?:information|data|details)\s+(?:about|on|regarding)`),
}

// registryPatterns mark questions only a registry or structured source can settle, so
// a long answer does not suppress the gap.
var registryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bpatent\s+(?:database|registry|search|lookup)`),
	regexp.MustCompile(`\bconference\s+(?:program|schedule|session)`),
	regexp.MustCompile(`\b(?:annual\s+report|annual\s+account|investor\s+report)`),
	regexp.MustCompile(`\b(?:\d+\s+most\s+recent|list\s+all|compile\s+a)`),
	regexp.MustCompile(`\bstructured\s+sources`),
	regexp.MustCompile(`\bfrom\s+pdl\b`),
	regexp.MustCompile(`\bpatent\s+databases?\b`),
	regexp.MustCompile(`\b(?:aps|ieee|acm)\s+(?:meeting|conference|program)`),
}

type intentKeywords struct {
	intent types.GapIntent
	topic  string
	re     *regexp.Regexp
}

// intents in tie-break order
var intents = []intentKeywords{
	{types.IntentFundingInvestors, "Investor and funding details", keywordRe(
		"investor", "funding", "raised", "round", "series", "seed", "venture", "capital", "vc", "angel",
		"lead investor", "participated", "backed by", "who invested", "funding round")},
	{types.IntentRevenue, "Revenue and financial metrics", keywordRe(
		"revenue", "arr", "mrr", "sales", "income", "earnings", "profitable", "profitability",
		"financial", "growth rate")},
	{types.IntentResearchPapers, "Academic papers and publications", keywordRe(
		"peer-reviewed", "paper", "publication", "doi", "journal", "arxiv", "academic", "preprint",
		"conference", "proceedings", "citation", "study")},
	{types.IntentPatents, "Patent and intellectual property information", keywordRe(
		"patent", "ip", "intellectual property", "invention", "filing", "uspto", "epo",
		"patent number", "patent portfolio")},
	{types.IntentLitigation, "Legal and litigation information", keywordRe(
		"lawsuit", "litigation", "legal", "court", "sue", "sued", "settlement", "dispute",
		"injunction", "infringement")},
	{types.IntentFounderBackground, "Founder background and career history", keywordRe(
		"founder", "co-founder", "background", "previous", "prior", "experience", "education",
		"degree", "university", "career", "work history", "biography", "bio")},
	{types.IntentCompetitors, "Competitor information", keywordRe(
		"competitor", "competing", "alternative", "rival", "market share", "competitive", "vs", "versus")},
	{types.IntentTechnology, "Technical architecture details", keywordRe(
		"technology", "tech stack", "architecture", "platform", "how it works", "technical",
		"infrastructure", "api")},
	{types.IntentRegulatory, "Regulatory and compliance information", keywordRe(
		"regulatory", "regulation", "compliance", "fda", "sec", "approval", "license",
		"certification", "audit")},
	{types.IntentAcquisitions, "M&A and acquisition information", keywordRe(
		"acquisition", "acquired", "merger", "m&a", "bought", "purchase", "takeover", "exit", "ipo")},
	{types.IntentProgramsContracts, "Government programs, grants, and contracts", keywordRe(
		"program", "project", "grant", "award", "consortium", "doe", "darpa", "nsf", "nih", "arpa",
		"government contract", "federal", "defense", "sbir", "horizon europe")},
	{types.IntentCustomers, "Commercial customers, deployments, and partnerships", keywordRe(
		"customer", "client", "commercial", "case study", "deployment", "contract", "partner",
		"partnership", "pilot", "poc", "proof of concept", "user")},
	{types.IntentLegalEntity, "Legal entity and registration details", keywordRe(
		"legal entity", "lei", "incorporated", "incorporation", "registration number", "registered",
		"jurisdiction", "company number")},
}

// Gap detection thresholds
const (
	comprehensiveChars        = 2000
	comprehensiveSources      = 8
	veryComprehensiveChars    = 4000
	veryComprehensiveSources  = 5
	explicitConfidence        = 0.95
	maxPhraseMatchConfidence  = 0.9
	explicitStatementMaxBytes = 100
)

// DetectGap decides whether an answer leaves part of the question unanswered. An
// explicit request for research always yields a gap; otherwise the answer must admit
// missing information and must not already be comprehensive. The target's own name is
// never taken for a person name.
func DetectGap(question, answer string, usedSources int, target types.TargetInput) (types.Gap, bool) {
	q := strings.ToLower(question)
	slots := extractSlots(question, target)
	intent := detectIntent(question)

	for _, trig := range explicitTriggers {
		if strings.Contains(q, trig) {
			short := types.TruncateUTF8(strings.TrimSpace(question), explicitStatementMaxBytes)
			if len(short) < len(strings.TrimSpace(question)) {
				short += "..."
			}
			return types.Gap{
				Statement:  `User requested additional research: "` + short + `"`,
				Intent:     intent,
				Confidence: explicitConfidence,
				Method:     types.GapExplicitRequest,
				Phrases:    []string{trig},
				Slots:      slots,
			}, true
		}
	}

	phrases := matchGapPhrases(answer)
	if len(phrases) == 0 {
		return types.Gap{}, false
	}
	if comprehensive(answer, usedSources) && !impliesRegistry(q) {
		return types.Gap{}, false
	}
	return types.Gap{
		Statement:  gapStatement(intent),
		Intent:     intent,
		Confidence: min(maxPhraseMatchConfidence, 0.5+0.1*float64(len(phrases))),
		Method:     types.GapPhraseMatch,
		Phrases:    phrases,
		Slots:      slots,
	}, true
}

func matchGapPhrases(answer string) []string {
	a := strings.ToLower(answer)
	var out []string
	for _, p := range gapPhrases {
		if strings.Contains(a, p) {
			out = append(out, p)
		}
	}
	for _, re := range gapPatterns {
		if m := re.FindString(a); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func comprehensive(answer string, usedSources int) bool {
	return (len(answer) > comprehensiveChars && usedSources >= comprehensiveSources) ||
		(len(answer) > veryComprehensiveChars && usedSources >= veryComprehensiveSources)
}

func impliesRegistry(lowerQuestion string) bool {
	for _, re := range registryPatterns {
		if re.MatchString(lowerQuestion) {
			return true
		}
	}
	return false
}

// detectIntent returns the intent with the most keyword hits; ties go to the earlier intent.
func detectIntent(question string) types.GapIntent {
	best, bestHits := types.IntentGeneral, 0
	for _, ik := range intents {
		if hits := len(ik.re.FindAllStringIndex(question, -1)); hits > bestHits {
			best, bestHits = ik.intent, hits
		}
	}
	return best
}

func gapStatement(intent types.GapIntent) string {
	for _, ik := range intents {
		if ik.intent == intent {
			return ik.topic + " not fully covered in available sources."
		}
	}
	return "Some requested information is not present in available sources."
}

var (
	yearRe         = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	roundRe        = regexp.MustCompile(`(?i)\b(pre-seed|seed|series\s+[a-f]|bridge)\b`)
	upperJurisRe   = regexp.MustCompile(`\b(US|UK|EU)\b`)
	namedJurisRe   = regexp.MustCompile(`(?i)\b(australia|canada|germany|france)\b`)
	doubleQuotedRe = regexp.MustCompile(`"([^"]+)"`)
	singleQuotedRe = regexp.MustCompile(`(?:^|\s)'([^']+)'`)
	acronymRe      = regexp.MustCompile(`\b[A-Z]{2,6}\b`)
	titleSpanRe    = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){2,}\b`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:[Rr]esearch|[Ll]ook up|[Aa]bout)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3})`),
		regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3})'s\b`),
		regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,3})\s*\(`),
		regexp.MustCompile(`\b([A-Z][a-z]+\s+[A-Z][a-z]+)\b`),
	}
)

var genericAcronyms = map[string]bool{
	"US": true, "UK": true, "EU": true, "CEO": true, "CFO": true, "CTO": true, "COO": true,
	"VP": true, "HR": true, "LLC": true, "INC": true, "LTD": true, "PTY": true, "CO": true,
	"OR": true, "AND": true, "THE": true, "FOR": true,
}

// nonNameWords never start a person name
var nonNameWords = map[string]bool{
	"What": true, "Who": true, "Where": true, "When": true, "How": true, "Why": true,
	"Which": true, "Does": true, "Did": true, "Is": true, "Are": true, "Can": true,
	"Could": true, "Please": true, "The": true, "Tell": true, "Find": true, "Search": true,
	"Look": true, "List": true, "Compile": true, "Give": true, "Show": true, "Series": true,
	"Seed": true, "Research": true, "About": true, "Dig": true, "Get": true,
}

func extractSlots(question string, target types.TargetInput) types.GapSlots {
	var slots types.GapSlots

	seenYear := make(map[string]bool)
	for _, m := range yearRe.FindAllStringSubmatch(question, -1) {
		if !seenYear[m[1]] {
			seenYear[m[1]] = true
			slots.Years = append(slots.Years, m[1])
		}
	}
	sort.Strings(slots.Years)

	if m := roundRe.FindStringSubmatch(question); m != nil {
		slots.Round = strings.Join(strings.Fields(strings.ToLower(m[1])), " ")
	}
	if m := upperJurisRe.FindStringSubmatch(question); m != nil {
		slots.Jurisdiction = strings.ToLower(m[1])
	} else if m := namedJurisRe.FindStringSubmatch(question); m != nil {
		slots.Jurisdiction = strings.ToLower(m[1])
	}

	slots.PersonName = personName(question, target)
	slots.MustInclude = mustIncludeTerms(question)
	return slots
}

func personName(question string, target types.TargetInput) string {
	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(question, -1) {
			name := m[1]
			words := strings.Fields(name)
			if nonNameWords[words[0]] {
				// "Who Is Jane Doe": drop the leading non-name words.
				for len(words) > 0 && nonNameWords[words[0]] {
					words = words[1:]
				}
				if len(words) < 2 {
					continue
				}
				name = strings.Join(words, " ")
			}
			if strings.EqualFold(name, target.CompanyName) {
				continue
			}
			return name
		}
	}
	return ""
}

func mustIncludeTerms(question string) []string {
	var terms []string
	for _, m := range doubleQuotedRe.FindAllStringSubmatch(question, -1) {
		terms = append(terms, m[1])
	}
	for _, m := range singleQuotedRe.FindAllStringSubmatch(question, -1) {
		terms = append(terms, m[1])
	}
	for _, m := range acronymRe.FindAllString(question, -1) {
		if !genericAcronyms[m] {
			terms = append(terms, m)
		}
	}
	terms = append(terms, titleSpanRe.FindAllString(question, -1)...)

	seen := make(map[string]bool)
	var out []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
