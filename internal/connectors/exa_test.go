package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// testClient never retries so failure paths stay fast.
func testClient() *fetch.Client {
	return fetch.NewClient(fetch.WithRetry(fetch.RetryPolicy{Attempts: 1}))
}

func TestExa_SearchBuildsPayloadAndDedupes(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		payloads = append(payloads, body)
		mu.Unlock()

		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://stripe.com/newsroom/news/series-i","title":"Stripe raises","text":"<p>Stripe raised $6.5B</p>","publishedDate":"2023-03-15T00:00:00.000Z","highlights":["Series I round"]},
			{"url":"https://www.stripe.com/newsroom/news/series-i/","title":"dup","text":"dup"}
		]}`))
	}))
	defer server.Close()

	exa := NewExa(testClient(), "test-key", server.URL, nil)
	exa.now = func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }

	out, err := exa.Fetch(context.Background(), types.PlanStep{
		Name:        "search_exa_fundraising",
		ConnectorID: types.ConnectorExa,
		Parameters: types.StepParams{
			"mode":             "search",
			"queries":          []string{"Stripe funding round", "Stripe Series I"},
			"lookback_days":    10,
			"include_domains":  []string{"stripe.com"},
			"highlights_query": "funding amount",
		},
	})
	require.NoError(t, err)

	require.Len(t, out.Snippets, 1, "same URL across results and queries collapses")
	sn := out.Snippets[0]
	assert.Equal(t, "Stripe raises", sn.Title)
	assert.Contains(t, sn.Text, "Series I round")
	assert.Contains(t, sn.Text, "Stripe raised $6.5B")
	assert.NotContains(t, sn.Text, "<p>")
	require.NotNil(t, sn.PublishedDate)
	assert.Equal(t, 2023, sn.PublishedDate.Year())

	require.Len(t, payloads, 2)
	p := payloads[0]
	assert.Equal(t, "deep", p["type"])
	assert.Equal(t, "2024-12-31T00:00:00.000Z", p["startPublishedDate"])
	assert.Equal(t, []any{"stripe.com"}, p["includeDomains"])
	assert.Equal(t, []any{"exa.ai"}, p["excludeDomains"])
	contents := p["contents"].(map[string]any)
	assert.Equal(t, "fallback", contents["livecrawl"])
	assert.NotNil(t, contents["highlights"])
}

func TestExa_NoQueriesOrOtherMode(t *testing.T) {
	exa := NewExa(testClient(), "k", "http://127.0.0.1:1", nil)

	out, err := exa.Fetch(context.Background(), types.PlanStep{Parameters: types.StepParams{"mode": "search"}})
	require.NoError(t, err)
	assert.Empty(t, out.Snippets)

	out, err = exa.Fetch(context.Background(), types.PlanStep{Parameters: types.StepParams{"mode": "answer", "queries": []string{"q"}}})
	require.NoError(t, err)
	assert.Empty(t, out.Snippets)
}

func TestExa_ClientErrorIsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	out, err := NewExa(testClient(), "k", server.URL, nil).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"queries": []string{"q"}},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Snippets)
}

func TestExa_AuthFailureIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewExa(testClient(), "bad", server.URL, nil).Fetch(context.Background(), types.PlanStep{
		Parameters: types.StepParams{"queries": []string{"q"}},
	})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindAuth, ce.Kind)
}

func TestExa_ExcludeDomainsExtendDefault(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	exa := NewExa(testClient(), "k", server.URL, nil)
	_, err := exa.Fetch(context.Background(), types.PlanStep{
		Name: "micro_exa_general_search_0",
		Parameters: types.StepParams{
			"mode":            "search",
			"queries":         []string{"Stripe customers"},
			"exclude_domains": []string{"crunchbase.com", "linkedin.com"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"exa.ai", "crunchbase.com", "linkedin.com"}, payload["excludeDomains"])
}
