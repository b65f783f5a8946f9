package writer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// UnverifiedMarker starts the markdown of a section whose claims have no surviving citation.
const UnverifiedMarker = "⚠️ UNVERIFIED"

// UnverifiedPrefix is prepended to unverifiable sections
const UnverifiedPrefix = UnverifiedMarker + " (no supporting citations)\n\n"

// NumericCitationWindow is the maximum distance in characters between a numeral and
// a citation token in the same sentence.
const NumericCitationWindow = 80

var (
	citationRe = regexp.MustCompile(`\[S(\d+)\]`)
	// [S 12], [s12], [S12, S14], [S12; 14], [S012]
	looseCitationRe = regexp.MustCompile(`(?i)\[\s*s\s*\d+(?:\s*[,;]\s*s?\s*\d+)*\s*\]`)
	digitsRe        = regexp.MustCompile(`\d+`)
	numericRe       = regexp.MustCompile(`(?:[A-Z]{0,3}[$€£¥])?\d+(?:[.,:/-]\d+)*(?:\s?(?:%|bn\b|[kKmMbB]\b|million\b|billion\b|trillion\b|thousand\b))?`)
	listMarkerRe    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	multiSpaceRe    = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforeRe   = regexp.MustCompile(`\s+([,.;:!?)])`)
	emptyParensRe   = regexp.MustCompile(`\(\s*[,;]?\s*\)`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// CitationReport describes what the citation guardrail changed
type CitationReport struct {
	Removed          []int `json:"removed,omitempty"`
	Repaired         []int `json:"repaired,omitempty"`
	Normalized       int   `json:"normalized,omitempty"`
	SentencesDropped int   `json:"sentences_dropped,omitempty"`
}

// Changed reports whether the text was modified for anything but formatting
func (r CitationReport) Changed() bool {
	return len(r.Removed) > 0 || len(r.Repaired) > 0 || r.SentencesDropped > 0
}

// NumericReport describes what the numeric guardrail stripped
type NumericReport struct {
	Stripped         []string `json:"stripped,omitempty"`
	SentencesDropped int      `json:"sentences_dropped,omitempty"`
}

// GuardResult is the outcome of the full guardrail pipeline for one section
type GuardResult struct {
	Text       string
	Cited      []int
	Citations  CitationReport
	Numeric    NumericReport
	Unverified bool
}

// Guard runs the output guardrails in order: citation validity, numeric coverage for
// numeric-heavy sections, then the UNVERIFIED flag.
func Guard(text string, allowed []int, numericHeavy bool) GuardResult {
	var res GuardResult
	text, res.Citations = CheckCitations(text, allowed)
	if numericHeavy {
		text, res.Numeric = EnforceNumericCitations(text, NumericCitationWindow)
	}
	res.Cited = ExtractCitations(text)
	if len(res.Cited) == 0 && AssertsFacts(text) {
		res.Unverified = true
		text = UnverifiedPrefix + text
	}
	res.Text = text
	return res
}

// ExtractCitations returns the distinct cited ids in ascending order
func ExtractCitations(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// NormalizeCitations rewrites malformed citation tokens into canonical [S<id>] form.
func NormalizeCitations(text string) (string, int) {
	n := 0
	out := looseCitationRe.ReplaceAllStringFunc(text, func(tok string) string {
		var b strings.Builder
		for _, d := range digitsRe.FindAllString(tok, -1) {
			id, err := strconv.Atoi(d)
			if err != nil {
				continue
			}
			b.WriteString("[S" + strconv.Itoa(id) + "]")
		}
		if b.String() != tok {
			n++
		}
		return b.String()
	})
	return out, n
}

// CheckCitations removes citation tokens whose id is not in allowed. When the section
// was given exactly one source, an invalid id can only have meant that source and is
// repaired instead. A sentence whose every citation was removed is dropped.
func CheckCitations(text string, allowed []int) (string, CitationReport) {
	var report CitationReport
	text, report.Normalized = NormalizeCitations(text)

	valid := make(map[int]bool, len(allowed))
	for _, id := range allowed {
		valid[id] = true
	}
	repairTo := 0
	if len(allowed) == 1 {
		repairTo = allowed[0]
	}

	out := mapSentences(text, func(sentence string) (string, bool) {
		hadCitation := false
		kept := 0
		s := citationRe.ReplaceAllStringFunc(sentence, func(tok string) string {
			hadCitation = true
			id, _ := strconv.Atoi(citationRe.FindStringSubmatch(tok)[1])
			switch {
			case valid[id]:
				kept++
				return tok
			case repairTo != 0:
				kept++
				report.Repaired = append(report.Repaired, id)
				return "[S" + strconv.Itoa(repairTo) + "]"
			default:
				report.Removed = append(report.Removed, id)
				return ""
			}
		})
		if hadCitation && kept == 0 {
			report.SentencesDropped++
			return "", false
		}
		return tidy(s), true
	})
	return out, report
}

// EnforceNumericCitations strips every standalone numeral with no citation token within
// window characters in the same sentence. A sentence that loses a numeral and carries no
// citation is dropped: its facts were the numbers.
func EnforceNumericCitations(text string, window int) (string, NumericReport) {
	var report NumericReport
	out := mapSentences(text, func(sentence string) (string, bool) {
		cites := citationRe.FindAllStringIndex(sentence, -1)
		var b strings.Builder
		last := 0
		stripped := 0
		for _, loc := range numericRe.FindAllStringIndex(sentence, -1) {
			if !standalone(sentence, loc[0], loc[1]) || inSpans(loc, cites) {
				continue
			}
			if citedWithin(loc, cites, window) {
				continue
			}
			b.WriteString(sentence[last:loc[0]])
			last = loc[1]
			stripped++
			report.Stripped = append(report.Stripped, sentence[loc[0]:loc[1]])
		}
		if stripped == 0 {
			return sentence, true
		}
		b.WriteString(sentence[last:])
		if len(cites) == 0 {
			report.SentencesDropped++
			return "", false
		}
		return tidy(b.String()), true
	})
	return out, report
}

// AssertsFacts reports whether the text contains any line that states something,
// ignoring headings and explicit "not disclosed" placeholders.
func AssertsFacts(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(listMarkerRe.ReplaceAllString(line, ""))
		if strings.Contains(lower, "not disclosed") || strings.Contains(lower, strings.ToLower(types.NotEnoughData)) {
			continue
		}
		if strings.IndexFunc(lower, unicode.IsLetter) >= 0 {
			return true
		}
	}
	return false
}

// mapSentences applies fn to each sentence of each line. Headings pass through
// untouched. List markers are kept apart from the sentence text; a line whose
// sentences are all dropped is removed.
func mapSentences(text string, fn func(string) (string, bool)) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			out = append(out, "")
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			out = append(out, line)
			continue
		}
		marker := listMarkerRe.FindString(line)
		body := line[len(marker):]

		var kept []string
		for _, s := range splitSentences(body) {
			if r, ok := fn(s); ok && strings.TrimSpace(r) != "" {
				kept = append(kept, strings.TrimSpace(r))
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, marker+strings.Join(kept, " "))
	}
	joined := blankRunRe.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(joined)
}

// splitSentences splits after sentence punctuation followed by whitespace. Citation
// tokens directly after the punctuation stay with the sentence they close. The pieces
// concatenate back to the input.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if c := s[i]; c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for {
			k := j
			for k < len(s) && s[k] == ' ' {
				k++
			}
			loc := citationRe.FindStringIndex(s[k:])
			if loc == nil || loc[0] != 0 {
				break
			}
			j = k + loc[1]
		}
		if j >= len(s) {
			break
		}
		if s[j] != ' ' && s[j] != '\t' {
			i = j - 1
			continue
		}
		for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
			j++
		}
		out = append(out, s[start:j])
		start = j
		i = j - 1
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func standalone(s string, start, end int) bool {
	if start > 0 {
		r := rune(s[start-1])
		if s[start-1] < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	if end < len(s) {
		r := rune(s[end])
		if s[end] < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func inSpans(loc []int, spans [][]int) bool {
	for _, sp := range spans {
		if loc[0] >= sp[0] && loc[1] <= sp[1] {
			return true
		}
	}
	return false
}

func citedWithin(loc []int, cites [][]int, window int) bool {
	for _, c := range cites {
		var gap int
		if c[0] >= loc[1] {
			gap = c[0] - loc[1]
		} else {
			gap = loc[0] - c[1]
		}
		if gap <= window {
			return true
		}
	}
	return false
}

// tidy repairs spacing and punctuation left behind by removed tokens
func tidy(s string) string {
	s = emptyParensRe.ReplaceAllString(s, "")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = spaceBeforeRe.ReplaceAllString(s, "$1")
	return s
}
