package writer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/prompts"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Bundle limits
const (
	MaxSourceTokens             = 6000
	SnippetSummaryCharThreshold = 1500
	MaxSnippetSummaries         = 20
	MaxSnippetCharsForSummary   = 8000
)

const (
	summaryMaxTokens   = 1500
	summaryCacheTTL    = 30 * 24 * time.Hour
	summaryCachePrefix = "summary:"
)

var injectionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)system\s+prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+chatgpt`),
	regexp.MustCompile(`(?i)you\s+are\s+an\s+ai\s+assistant`),
}

// factRe matches the numbers, dates and identifiers a summary must carry over verbatim
var factRe = regexp.MustCompile(`\[S\d+\]|\d+(?:[.,:/-]\d+)*`)

// Redact lightly neutralizes known prompt-injection phrasing in source text.
func Redact(text string) string {
	for _, re := range injectionPhrases {
		text = re.ReplaceAllString(text, "[redacted]")
	}
	return text
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// Bundle is the size-bounded source context for one section
type Bundle struct {
	Text       string
	IDs        []int
	Summarized int
	Truncated  bool
	Usage      types.Usage
}

// Empty reports whether no source made it into the bundle
func (b *Bundle) Empty() bool {
	return len(b.IDs) == 0 || strings.TrimSpace(b.Text) == ""
}

// SourceBlock renders one source for a prompt. The label prefers the page domain over the provider.
func SourceBlock(s types.Source, snippet string) string {
	label := s.Host()
	if label == "" {
		label = s.Provider
	}
	if label == "" {
		label = "unknown"
	}
	url := s.URL
	if url == "" {
		url = "N/A"
	}
	return fmt.Sprintf("[S%d] %s – %s\n%s\nURL: %s", s.ID, s.Title, label, snippet, url)
}

// assemble packs sources in order until the token budget is spent. The first source is
// always admitted.
func assemble(sources []types.Source, texts map[int]string, maxTokens int) Bundle {
	var b Bundle
	var blocks []string
	used := 0
	for _, s := range sources {
		block := SourceBlock(s, texts[s.ID])
		cost := EstimateTokens(block)
		if used+cost > maxTokens && len(b.IDs) > 0 {
			b.Truncated = true
			break
		}
		used += cost
		b.IDs = append(b.IDs, s.ID)
		blocks = append(blocks, block)
	}
	b.Text = strings.Join(blocks, "\n\n")
	return b
}

// Summarizer compresses long snippets with a lite-tier model
type Summarizer struct {
	client llm.Client
	cache  fetch.ResponseCache
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewSummarizer creates a summarizer. cache and sem may be nil.
func NewSummarizer(client llm.Client, cache fetch.ResponseCache, sem *semaphore.Weighted, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, cache: cache, sem: sem, logger: logger}
}

// Summarize returns a compressed version of text. The reply is accepted only if every
// number, date and citation token of the input survives it verbatim.
func (s *Summarizer) Summarize(ctx context.Context, src types.Source, text string) (string, types.Usage, error) {
	var usage types.Usage
	text = truncateRunes(strings.TrimSpace(text), MaxSnippetCharsForSummary)
	if text == "" {
		return "", usage, fmt.Errorf("empty snippet")
	}

	key := summaryCacheKey(text)
	if s.cache != nil {
		if body, ok, err := s.cache.GetCachedResponse(ctx, key); err == nil && ok {
			return string(body), usage, nil
		}
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return "", usage, err
		}
		defer s.sem.Release(1)
	}

	prompt, err := prompts.Render(prompts.Summarizer, "summarize", map[string]string{
		"Provider": src.Provider,
		"Title":    src.Title,
		"Text":     text,
	})
	if err != nil {
		return "", usage, err
	}
	resp, err := s.client.Generate(ctx, llm.Request{
		System:    prompts.MustGet(prompts.Summarizer, "system"),
		Prompt:    prompt,
		Tier:      llm.TierLite,
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", usage, err
	}
	usage = resp.Usage
	if usage.Model == "" {
		usage.Model = s.client.Model(llm.TierLite)
	}

	summary := strings.TrimSpace(resp.Text)
	if missing := MissingFacts(text, summary); len(missing) > 0 {
		return "", usage, fmt.Errorf("summary dropped %d facts (first: %q)", len(missing), missing[0])
	}

	if s.cache != nil {
		if err := s.cache.PutCachedResponse(ctx, key, "summary", []byte(summary), summaryCacheTTL); err != nil {
			s.logger.Warn("failed to cache snippet summary", "source_id", src.ID, "error", err)
		}
	}
	return summary, usage, nil
}

// MissingFacts lists the numbers, dates and citation tokens of original that summary lacks.
// Thousands separators are ignored when comparing numbers.
func MissingFacts(original, summary string) []string {
	if summary == "" {
		return []string{"(empty summary)"}
	}
	have := strings.ReplaceAll(summary, ",", "")
	seen := make(map[string]bool)
	var missing []string
	for _, f := range factRe.FindAllString(original, -1) {
		norm := strings.ReplaceAll(f, ",", "")
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if !strings.Contains(have, norm) {
			missing = append(missing, f)
		}
	}
	return missing
}

func looksLikeJSON(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[")
}

// BuildBundle assembles the section's sources within MaxSourceTokens. When the raw
// snippets do not fit, up to MaxSnippetSummaries long or structured snippets are
// summarized concurrently; a failed or lossy summary falls back to truncation.
func BuildBundle(ctx context.Context, sum *Summarizer, sources []types.Source, maxTokens int) Bundle {
	if maxTokens <= 0 {
		maxTokens = MaxSourceTokens
	}
	texts := make(map[int]string, len(sources))
	for _, s := range sources {
		texts[s.ID] = Redact(s.Snippet)
	}

	b := assemble(sources, texts, maxTokens)
	if !b.Truncated {
		return b
	}

	var targets []types.Source
	for _, s := range sources {
		if len(targets) >= MaxSnippetSummaries {
			break
		}
		if len(texts[s.ID]) > SnippetSummaryCharThreshold || looksLikeJSON(texts[s.ID]) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return b
	}

	type outcome struct {
		text  string
		usage types.Usage
		err   error
	}
	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	for i, s := range targets {
		g.Go(func() error {
			if sum == nil {
				outcomes[i].err = fmt.Errorf("no summarizer configured")
				return nil
			}
			outcomes[i].text, outcomes[i].usage, outcomes[i].err = sum.Summarize(ctx, s, texts[s.ID])
			return nil
		})
	}
	_ = g.Wait()

	var usage types.Usage
	summarized := 0
	for i, s := range targets {
		usage.Add(outcomes[i].usage)
		if outcomes[i].err != nil {
			if sum != nil {
				sum.logger.Debug("snippet summary rejected, truncating", "source_id", s.ID, "error", outcomes[i].err)
			}
			texts[s.ID] = truncateRunes(texts[s.ID], SnippetSummaryCharThreshold)
			continue
		}
		texts[s.ID] = outcomes[i].text
		summarized++
	}

	b = assemble(sources, texts, maxTokens)
	b.Summarized = summarized
	b.Usage = usage
	return b
}

func summaryCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return summaryCachePrefix + hex.EncodeToString(sum[:])
}

func truncateRunes(s string, n int) string {
	return types.TruncateUTF8(s, n)
}
