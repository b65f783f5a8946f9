package connectors

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultGLEIFBaseURL is the public GLEIF API root
const DefaultGLEIFBaseURL = "https://api.gleif.org/api/v1"

// GLEIF looks up legal entities in the Global LEI index.
type GLEIF struct {
	client     *fetch.Client
	baseURL    string
	maxResults int
}

// NewGLEIF creates the GLEIF connector
func NewGLEIF(client *fetch.Client, baseURL string, maxResults int) *GLEIF {
	if baseURL == "" {
		baseURL = DefaultGLEIFBaseURL
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	return &GLEIF{client: client, baseURL: strings.TrimRight(baseURL, "/"), maxResults: maxResults}
}

// ID implements Connector
func (g *GLEIF) ID() types.ConnectorID {
	return types.ConnectorGLEIF
}

type gleifResponse struct {
	Data []gleifRecord `json:"data"`
}

type gleifRecord struct {
	Attributes struct {
		LEI    string `json:"lei"`
		Entity struct {
			LegalName struct {
				Name string `json:"name"`
			} `json:"legalName"`
			LegalJurisdiction     string       `json:"legalJurisdiction"`
			Category              string       `json:"category"`
			Status                string       `json:"status"`
			LegalAddress          gleifAddress `json:"legalAddress"`
			HeadquartersAddress   gleifAddress `json:"headquartersAddress"`
			RegistrationAuthority struct {
				ID       string `json:"registrationAuthorityID"`
				EntityID string `json:"registrationAuthorityEntityID"`
			} `json:"registrationAuthority"`
		} `json:"entity"`
		Registration struct {
			Status                  string `json:"status"`
			InitialRegistrationDate string `json:"initialRegistrationDate"`
		} `json:"registration"`
	} `json:"attributes"`
}

type gleifAddress struct {
	AddressLines []string `json:"addressLines"`
	City         string   `json:"city"`
	Region       string   `json:"region"`
	Country      string   `json:"country"`
	PostalCode   string   `json:"postalCode"`
}

// String renders "city, region, country postal" skipping empty parts.
func (a gleifAddress) String() string {
	var parts []string
	for _, p := range []string{a.City, a.Region} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(strings.TrimSpace(a.Country) + " " + strings.TrimSpace(a.PostalCode))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Fetch implements Connector
func (g *GLEIF) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	name := strings.TrimSpace(step.Parameters.String("company_name"))
	lei := strings.TrimSpace(step.Parameters.String("lei"))
	bic := strings.TrimSpace(step.Parameters.String("bic"))
	country := strings.ToUpper(strings.TrimSpace(step.Parameters.String("country_code")))
	domain := step.Parameters.String("company_domain")

	if name == "" && lei == "" && bic == "" {
		return &Output{}, nil
	}

	query := url.Values{}
	query.Set("page[size]", strconv.Itoa(g.maxResults))
	query.Set("page[number]", "1")
	switch {
	case lei != "":
		query.Set("filter[lei]", lei)
	case bic != "":
		query.Set("filter[bic]", bic)
	default:
		query.Set("filter[entity.legalName]", name)
		query.Set("filter[registration.status]", "ISSUED")
	}
	if country != "" {
		query.Set("filter[entity.legalAddress.country]", country)
	}

	var resp gleifResponse
	_, err := g.client.JSON(ctx, &fetch.Request{
		URL:            g.baseURL + "/lei-records",
		Query:          query,
		Headers:        map[string]string{"Accept": "application/vnd.api+json"},
		CacheNamespace: "gleif",
		CacheTTL:       fetch.GLEIFCacheTTL,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorGLEIF, "lei-records search", err)
	}
	if len(resp.Data) == 0 {
		return &Output{}, nil
	}

	best := rankGLEIF(resp.Data, name, country, domain)[0]
	return gleifOutput(best), nil
}

// rankGLEIF orders candidates by exact normalized-name match, then country match, then
// whether a domain token appears in the legal name. The API order breaks ties.
func rankGLEIF(records []gleifRecord, name, country, domain string) []gleifRecord {
	want := types.NormalizeCompanyName(name)
	domainToken := ""
	if domain != "" {
		domainToken = strings.SplitN(types.ExtractDomain(domain), ".", 2)[0]
	}

	score := func(r gleifRecord) int {
		s := 0
		legal := types.NormalizeCompanyName(r.Attributes.Entity.LegalName.Name)
		if want != "" && legal == want {
			s += 4
		}
		if country != "" && strings.EqualFold(r.Attributes.Entity.LegalAddress.Country, country) {
			s += 2
		}
		if domainToken != "" && strings.Contains(strings.ReplaceAll(legal, " ", ""), domainToken) {
			s++
		}
		return s
	}

	ranked := append([]gleifRecord(nil), records...)
	sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i]) > score(ranked[j]) })
	return ranked
}

func gleifOutput(r gleifRecord) *Output {
	a := r.Attributes
	e := a.Entity
	legalName := strings.TrimSpace(e.LegalName.Name)

	attrs := map[string]string{
		types.AttrLegalName:    legalName,
		types.AttrLEI:          a.LEI,
		types.AttrJurisdiction: e.LegalJurisdiction,
		types.AttrCountry:      e.LegalAddress.Country,
	}
	if addr := e.LegalAddress.String(); addr != "" {
		attrs[types.AttrRegisteredAddress] = addr
	}
	if hq := e.HeadquartersAddress.String(); hq != "" {
		attrs[types.AttrHQ] = hq
	}
	if e.RegistrationAuthority.EntityID != "" {
		attrs[types.AttrCompanyNumber] = e.RegistrationAuthority.EntityID
	}

	var lines []string
	if legalName != "" {
		lines = append(lines, "Legal name: "+legalName)
	}
	if a.LEI != "" {
		lines = append(lines, "LEI: "+a.LEI)
	}
	if e.LegalJurisdiction != "" {
		lines = append(lines, "Legal jurisdiction: "+e.LegalJurisdiction)
	}
	if ra := e.RegistrationAuthority; ra.ID != "" || ra.EntityID != "" {
		lines = append(lines, fmt.Sprintf("Registration authority: %s (local ID: %s)",
			firstNonEmpty(ra.ID, "N/A"), firstNonEmpty(ra.EntityID, "N/A")))
	}
	if addr := e.LegalAddress.String(); addr != "" {
		lines = append(lines, "Registered address: "+addr)
	}
	if a.Registration.Status != "" {
		lines = append(lines, "LEI registration status: "+a.Registration.Status)
	}
	if a.Registration.InitialRegistrationDate != "" {
		lines = append(lines, "LEI first issued: "+a.Registration.InitialRegistrationDate)
	}

	snippet := types.Snippet{
		Provider: types.ProviderGLEIF,
		Title:    "GLEIF LEI record for " + firstNonEmpty(legalName, "entity"),
		Text:     strings.Join(lines, "\n"),
	}
	if a.LEI != "" {
		snippet.URL = "https://search.gleif.org/#/record/" + a.LEI
	}

	return &Output{
		Records: []types.Record{{
			Kind:       types.RecordLegalEntity,
			Provider:   types.ProviderGLEIF,
			Attributes: compactAttrs(attrs),
			Evidence:   []int{0},
		}},
		Snippets: []types.Snippet{snippet},
	}
}

// compactAttrs drops empty values
func compactAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

var _ Connector = (*GLEIF)(nil)
