// Package costs accumulates the LLM and paid-tool spend of a research job.
package costs

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultWebSearchPerCallUSD is charged for each hosted web search call
const DefaultWebSearchPerCallUSD = 0.01

// ModelPricing holds USD prices per million tokens
type ModelPricing struct {
	Input       float64 `json:"input"`
	Output      float64 `json:"output"`
	CachedInput float64 `json:"cached_input"`
}

// Pricebook maps a model name to its pricing
type Pricebook map[string]ModelPricing

// DefaultPricebook returns the built-in model prices
func DefaultPricebook() Pricebook {
	return Pricebook{
		"gpt-5.1":          {Input: 1.25, Output: 10.0, CachedInput: 0.125},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.60, CachedInput: 0.075},
		"gemini-2.5-flash": {Input: 0.30, Output: 2.50, CachedInput: 0.075},
		"gemini-2.5-pro":   {Input: 1.25, Output: 10.0, CachedInput: 0.31},
	}
}

// Lookup finds pricing for a model. Dated or suffixed variants such as
// "gpt-4o-mini-2024-07-18" fall back to the longest matching prefix.
func (p Pricebook) Lookup(model string) (ModelPricing, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if price, ok := p[model]; ok {
		return price, true
	}
	best := ""
	for name := range p {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return p[best], true
}

// Cost computes the USD cost of one usage report. Cached tokens are billed at the
// cached rate and excluded from the regular input count.
func (price ModelPricing) Cost(u types.Usage) float64 {
	uncached := u.InputTokens - u.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	return (float64(uncached)*price.Input +
		float64(u.CachedTokens)*price.CachedInput +
		float64(u.OutputTokens)*price.Output) / 1_000_000
}

// Entry is one line item recorded by the tracker
type Entry struct {
	Component string      `json:"component"`
	Usage     types.Usage `json:"usage"`
	CostUSD   float64     `json:"cost_usd"`
}

// Summary is the per-job cost rollup
type Summary struct {
	TotalUSD       float64            `json:"total_usd"`
	ByComponent    map[string]float64 `json:"by_component"`
	InputTokens    int                `json:"input_tokens"`
	OutputTokens   int                `json:"output_tokens"`
	CachedTokens   int                `json:"cached_tokens"`
	WebSearchCalls int                `json:"web_search_calls"`
}

// Tracker accumulates cost for one job. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	prices       Pricebook
	webSearchUSD float64
	entries      []Entry
	logger       *slog.Logger
}

// NewTracker creates a tracker. A nil pricebook uses DefaultPricebook.
func NewTracker(prices Pricebook, webSearchPerCallUSD float64, logger *slog.Logger) *Tracker {
	if prices == nil {
		prices = DefaultPricebook()
	}
	if webSearchPerCallUSD < 0 {
		webSearchPerCallUSD = DefaultWebSearchPerCallUSD
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{prices: prices, webSearchUSD: webSearchPerCallUSD, logger: logger}
}

// Record prices a usage report for a component (e.g. "writer:product",
// "connector:openai_competitors") and returns the cost added.
func (t *Tracker) Record(component string, u types.Usage) float64 {
	cost := float64(u.WebSearchCalls) * t.webSearchUSD
	if u.InputTokens > 0 || u.OutputTokens > 0 {
		price, ok := t.prices.Lookup(u.Model)
		if !ok {
			t.logger.Warn("no pricing for model, recording zero token cost",
				"model", u.Model, "component", component)
		} else {
			cost += price.Cost(u)
		}
	}

	t.mu.Lock()
	t.entries = append(t.entries, Entry{Component: component, Usage: u, CostUSD: cost})
	t.mu.Unlock()
	return cost
}

// Total returns the accumulated USD cost
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, e := range t.entries {
		total += e.CostUSD
	}
	return total
}

// Entries returns a copy of the recorded line items
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Summary aggregates the recorded entries
func (t *Tracker) Summary() Summary {
	entries := t.Entries()
	s := Summary{ByComponent: make(map[string]float64)}
	for _, e := range entries {
		s.TotalUSD += e.CostUSD
		s.ByComponent[componentGroup(e.Component)] += e.CostUSD
		s.InputTokens += e.Usage.InputTokens
		s.OutputTokens += e.Usage.OutputTokens
		s.CachedTokens += e.Usage.CachedTokens
		s.WebSearchCalls += e.Usage.WebSearchCalls
	}
	return s
}

// Components returns the distinct component groups in sorted order
func (s Summary) Components() []string {
	out := make([]string, 0, len(s.ByComponent))
	for k := range s.ByComponent {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// componentGroup reduces "writer:product" to "writer".
func componentGroup(component string) string {
	if i := strings.IndexByte(component, ':'); i > 0 {
		return component[:i]
	}
	return component
}
