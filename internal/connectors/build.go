package connectors

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Settings carries provider credentials and endpoints for Build.
type Settings struct {
	ExaAPIKey              string
	ExaBaseURL             string
	GLEIFEnabled           bool
	GLEIFBaseURL           string
	GLEIFTimeout           time.Duration
	GLEIFMaxResults        int
	PDLAPIKey              string
	PDLBaseURL             string
	ApolloAPIKey           string
	ApolloBaseURL          string
	CompaniesHouseAPIKey   string
	CompaniesHouseBaseURL  string
	OpenCorporatesAPIToken string
	OpenCorporatesBaseURL  string
	PitchBookAPIKey        string
	PitchBookBaseURL       string
	SiteFetchEnabled       bool
	SiteFetchUseBrowser    bool
	HTTPTimeout            time.Duration
}

// Capabilities derives which connectors are usable from credential presence.
// The OpenAI web agent additionally needs an LLM client, so hasLLM gates it.
func (s Settings) Capabilities(hasLLM bool) types.Capabilities {
	caps := types.Capabilities{}
	set := func(id types.ConnectorID, ok bool) {
		if ok {
			caps[id] = true
		}
	}
	set(types.ConnectorExa, s.ExaAPIKey != "")
	set(types.ConnectorGLEIF, s.GLEIFEnabled)
	set(types.ConnectorPDL, s.PDLAPIKey != "")
	set(types.ConnectorPDLCompany, s.PDLAPIKey != "")
	set(types.ConnectorApollo, s.ApolloAPIKey != "")
	set(types.ConnectorCompaniesHouse, s.CompaniesHouseAPIKey != "")
	set(types.ConnectorOpenCorporates, s.OpenCorporatesAPIToken != "")
	set(types.ConnectorPitchBook, s.PitchBookAPIKey != "")
	set(types.ConnectorOpenAIWeb, hasLLM)
	set(types.ConnectorWebsite, s.SiteFetchEnabled)
	return caps
}

// Build constructs a registry holding every connector enabled by settings.
// cache may be nil; webAgent may be nil when no LLM is configured.
func Build(s Settings, cache fetch.ResponseCache, webAgent llm.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []fetch.ClientOption{fetch.WithLogger(logger)}
	if cache != nil {
		opts = append(opts, fetch.WithCache(cache))
	}
	if s.HTTPTimeout > 0 {
		opts = append(opts, fetch.WithHTTPClient(&http.Client{Timeout: s.HTTPTimeout}))
	}
	client := fetch.NewClient(opts...)

	caps := s.Capabilities(webAgent != nil)
	reg := NewRegistry()
	if caps.Enabled(types.ConnectorExa) {
		// Exa gets a single retry on rate limiting, honoring Retry-After.
		exaClient := fetch.NewClient(append(opts, fetch.WithRetry(fetch.RetryPolicy{Attempts: 2, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}))...)
		reg.Register(NewExa(exaClient, s.ExaAPIKey, s.ExaBaseURL, logger))
	}
	if caps.Enabled(types.ConnectorGLEIF) {
		gleifClient := client
		if s.GLEIFTimeout > 0 {
			gleifClient = fetch.NewClient(append(opts, fetch.WithHTTPClient(&http.Client{Timeout: s.GLEIFTimeout}))...)
		}
		reg.Register(NewGLEIF(gleifClient, s.GLEIFBaseURL, s.GLEIFMaxResults))
	}
	if caps.Enabled(types.ConnectorPDL) {
		reg.Register(NewPDL(client, s.PDLAPIKey, s.PDLBaseURL))
		reg.Register(NewPDLCompany(client, s.PDLAPIKey, s.PDLBaseURL))
	}
	if caps.Enabled(types.ConnectorApollo) {
		reg.Register(NewApollo(client, s.ApolloAPIKey, s.ApolloBaseURL, logger))
	}
	if caps.Enabled(types.ConnectorCompaniesHouse) {
		reg.Register(NewCompaniesHouse(client, s.CompaniesHouseAPIKey, s.CompaniesHouseBaseURL))
	}
	if caps.Enabled(types.ConnectorOpenCorporates) {
		reg.Register(NewOpenCorporates(client, s.OpenCorporatesAPIToken, s.OpenCorporatesBaseURL, 0))
	}
	if caps.Enabled(types.ConnectorPitchBook) {
		reg.Register(NewPitchBook(client, s.PitchBookAPIKey, s.PitchBookBaseURL, 0))
	}
	if caps.Enabled(types.ConnectorOpenAIWeb) {
		reg.Register(NewOpenAIWeb(webAgent))
	}
	if caps.Enabled(types.ConnectorWebsite) {
		var renderer fetch.Renderer
		if s.SiteFetchUseBrowser {
			renderer = &fetch.BrowserRenderer{Logger: logger}
		}
		reg.Register(NewWebsite(nil, renderer, logger))
	}
	return reg
}
