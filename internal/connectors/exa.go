package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultExaBaseURL is the Exa API root
const DefaultExaBaseURL = "https://api.exa.ai"

const (
	exaResultsPerQuery  = 10
	exaSnippetMaxChars  = 4000
	exaQueryConcurrency = 4
)

// Exa runs Exa /search queries and returns one snippet per result URL.
type Exa struct {
	client  *fetch.Client
	apiKey  string
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewExa creates the Exa connector
func NewExa(client *fetch.Client, apiKey, baseURL string, logger *slog.Logger) *Exa {
	if baseURL == "" {
		baseURL = DefaultExaBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exa{
		client:  client,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// ID implements Connector
func (e *Exa) ID() types.ConnectorID {
	return types.ConnectorExa
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	Text          string            `json:"text"`
	Highlights    []json.RawMessage `json:"highlights"`
	PublishedDate string            `json:"publishedDate"`
}

func (r exaResult) highlightText() []string {
	var out []string
	for _, raw := range r.Highlights {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil && obj.Text != "" {
			out = append(out, obj.Text)
		}
	}
	return out
}

// Fetch implements Connector
func (e *Exa) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	if mode := step.Parameters.String("mode"); mode != "" && mode != "search" {
		return &Output{}, nil
	}

	var queries []string
	for _, q := range step.Parameters.Strings("queries") {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return &Output{}, nil
	}

	payloadFor := e.payloadBuilder(step.Parameters)

	perQuery := make([][]types.Snippet, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	g.SetLimit(exaQueryConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			perQuery[i], errs[i] = e.search(ctx, payloadFor(q))
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	out := &Output{}
	var failures []error
	for i := range queries {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		for _, sn := range perQuery[i] {
			key := types.NormalizeURL(sn.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Snippets = append(out.Snippets, sn)
		}
	}

	if len(failures) == len(queries) {
		return nil, failures[0]
	}
	if len(failures) > 0 {
		e.logger.Warn("some exa queries failed", "step", step.Name, "failed", len(failures), "total", len(queries), "error", failures[0])
	}
	return out, nil
}

func (e *Exa) payloadBuilder(params types.StepParams) func(query string) map[string]any {
	contents := map[string]any{
		"text":      true,
		"livecrawl": "fallback",
	}
	if subpages := params.Int("subpages", 0); subpages > 0 {
		contents["subpages"] = subpages
		if targets := params.Strings("subpage_targets"); len(targets) > 0 {
			contents["subpageTarget"] = targets
		}
	}
	if hq := params.String("highlights_query"); hq != "" {
		contents["highlights"] = map[string]any{"numSentences": 6, "query": hq}
	}

	var start string
	if days := params.Int("lookback_days", 0); days > 0 {
		start = e.now().UTC().AddDate(0, 0, -days).Format("2006-01-02") + "T00:00:00.000Z"
	}

	numResults := params.Int("num_results", exaResultsPerQuery)
	includeDomains := params.Strings("include_domains")
	excludeDomains := append([]string{"exa.ai"}, params.Strings("exclude_domains")...)
	category := params.String("category")

	return func(query string) map[string]any {
		payload := map[string]any{
			"query":          query,
			"numResults":     numResults,
			"type":           "deep",
			"contents":       contents,
			"excludeDomains": excludeDomains,
		}
		if category != "" {
			payload["category"] = category
		}
		if len(includeDomains) > 0 {
			payload["includeDomains"] = includeDomains
		}
		if start != "" {
			payload["startPublishedDate"] = start
		}
		return payload
	}
}

func (e *Exa) search(ctx context.Context, payload map[string]any) ([]types.Snippet, error) {
	var resp exaSearchResponse
	_, err := e.client.JSON(ctx, &fetch.Request{
		Method:         http.MethodPost,
		URL:            e.baseURL + "/search",
		Headers:        map[string]string{"x-api-key": e.apiKey},
		JSONBody:       payload,
		CacheNamespace: "exa",
		CacheTTL:       fetch.ExaCacheTTL,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, wrapError(types.ConnectorExa, fmt.Sprintf("search %q", truncate(fmt.Sprint(payload["query"]), 60)), err)
	}

	fetchedAt := e.now().UTC()
	var snippets []types.Snippet
	for _, r := range resp.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		parts := r.highlightText()
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
		text := fetch.StripMarkup(strings.Join(parts, " "))
		title := firstNonEmpty(r.Title, r.URL)
		snippets = append(snippets, types.Snippet{
			Provider:      types.ProviderExa,
			Title:         title,
			URL:           r.URL,
			Text:          truncate(text, exaSnippetMaxChars),
			PublishedDate: parseDate(r.PublishedDate),
			FetchedAt:     fetchedAt,
		})
	}
	return snippets, nil
}

var _ Connector = (*Exa)(nil)
