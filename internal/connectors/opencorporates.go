package connectors

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultOpenCorporatesBaseURL is the OpenCorporates API root
const DefaultOpenCorporatesBaseURL = "https://api.opencorporates.com/v0.4"

// OpenCorporates searches the OpenCorporates registry aggregate.
type OpenCorporates struct {
	client     *fetch.Client
	apiToken   string
	baseURL    string
	maxResults int
}

// NewOpenCorporates creates the OpenCorporates connector
func NewOpenCorporates(client *fetch.Client, apiToken, baseURL string, maxResults int) *OpenCorporates {
	if baseURL == "" {
		baseURL = DefaultOpenCorporatesBaseURL
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &OpenCorporates{client: client, apiToken: apiToken, baseURL: strings.TrimRight(baseURL, "/"), maxResults: maxResults}
}

// ID implements Connector
func (o *OpenCorporates) ID() types.ConnectorID {
	return types.ConnectorOpenCorporates
}

type ocCompany struct {
	Name                    string `json:"name"`
	CompanyNumber           string `json:"company_number"`
	JurisdictionCode        string `json:"jurisdiction_code"`
	CompanyType             string `json:"company_type"`
	CurrentStatus           string `json:"current_status"`
	IncorporationDate       string `json:"incorporation_date"`
	DissolutionDate         string `json:"dissolution_date"`
	RegisteredAddressInFull string `json:"registered_address_in_full"`
	RegistryURL             string `json:"registry_url"`
	OpenCorporatesURL       string `json:"opencorporates_url"`
	Inactive                bool   `json:"inactive"`
}

// Fetch implements Connector
func (o *OpenCorporates) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	name := strings.TrimSpace(step.Parameters.String("company_name"))
	jurisdiction := strings.ToLower(strings.TrimSpace(step.Parameters.String("jurisdiction_code")))
	number := strings.TrimSpace(step.Parameters.String("company_number"))

	var company *ocCompany
	var err error
	switch {
	case number != "" && jurisdiction != "":
		company, err = o.lookup(ctx, jurisdiction, number)
	case name != "":
		var hit *ocCompany
		hit, err = o.search(ctx, name, jurisdiction, step.Parameters.String("country_code"))
		if err == nil && hit != nil {
			company, err = o.lookup(ctx, hit.JurisdictionCode, hit.CompanyNumber)
			if company == nil && err == nil {
				company = hit
			}
		}
	default:
		return &Output{}, nil
	}
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorOpenCorporates, "companies", err)
	}
	if company == nil {
		return &Output{}, nil
	}
	return openCorporatesOutput(*company), nil
}

func (o *OpenCorporates) request(path string, query url.Values) *fetch.Request {
	if query == nil {
		query = url.Values{}
	}
	if o.apiToken != "" {
		query.Set("api_token", o.apiToken)
	}
	return &fetch.Request{
		URL:            o.baseURL + path,
		Query:          query,
		Headers:        map[string]string{"Accept": "application/json"},
		CacheNamespace: "open_corporates",
		CacheTTL:       fetch.RegistryCacheTTL,
	}
}

// search returns the exact-name match among active results, else the first active one.
func (o *OpenCorporates) search(ctx context.Context, name, jurisdiction, country string) (*ocCompany, error) {
	query := url.Values{
		"q":        {name},
		"order":    {"score"},
		"per_page": {strconv.Itoa(o.maxResults)},
	}
	if jurisdiction != "" {
		query.Set("jurisdiction_code", jurisdiction)
	} else if country != "" {
		query.Set("country_code", strings.ToLower(country))
	}

	var resp struct {
		Results struct {
			Companies []struct {
				Company ocCompany `json:"company"`
			} `json:"companies"`
		} `json:"results"`
	}
	if _, err := o.client.JSON(ctx, o.request("/companies/search", query), &resp); err != nil {
		return nil, err
	}

	want := types.NormalizeCompanyName(name)
	var best *ocCompany
	for i := range resp.Results.Companies {
		c := &resp.Results.Companies[i].Company
		if c.Inactive || c.CompanyNumber == "" {
			continue
		}
		if types.NormalizeCompanyName(c.Name) == want {
			return c, nil
		}
		if best == nil {
			best = c
		}
	}
	return best, nil
}

func (o *OpenCorporates) lookup(ctx context.Context, jurisdiction, number string) (*ocCompany, error) {
	var resp struct {
		Results struct {
			Company *ocCompany `json:"company"`
		} `json:"results"`
	}
	path := "/companies/" + url.PathEscape(jurisdiction) + "/" + url.PathEscape(number)
	if _, err := o.client.JSON(ctx, o.request(path, nil), &resp); err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Results.Company, nil
}

func openCorporatesOutput(c ocCompany) *Output {
	var founded string
	if t := parseDate(c.IncorporationDate); t != nil {
		founded = strconv.Itoa(t.Year())
	}
	jurisdiction := strings.ToUpper(c.JurisdictionCode)
	country, _, _ := strings.Cut(jurisdiction, "_")

	lines := nonEmpty(
		prefixed("Legal name: ", c.Name),
		prefixed("Company number: ", c.CompanyNumber),
		prefixed("Jurisdiction: ", jurisdiction),
		prefixed("Company type: ", c.CompanyType),
		prefixed("Status: ", c.CurrentStatus),
		prefixed("Incorporation date: ", c.IncorporationDate),
		prefixed("Dissolution date: ", c.DissolutionDate),
		prefixed("Registered address: ", c.RegisteredAddressInFull),
	)
	return &Output{
		Snippets: []types.Snippet{{
			Provider: types.ProviderOpenCorporates,
			Title:    "OpenCorporates record for " + firstNonEmpty(c.Name, c.CompanyNumber),
			URL:      firstNonEmpty(c.OpenCorporatesURL, c.RegistryURL),
			Text:     strings.Join(lines, "\n"),
		}},
		Records: []types.Record{{
			Kind:     types.RecordLegalEntity,
			Provider: types.ProviderOpenCorporates,
			Attributes: compactAttrs(map[string]string{
				types.AttrLegalName:         c.Name,
				types.AttrCompanyNumber:     c.CompanyNumber,
				types.AttrJurisdiction:      jurisdiction,
				types.AttrCountry:           country,
				types.AttrFoundedYear:       founded,
				types.AttrRegisteredAddress: c.RegisteredAddressInFull,
			}),
			Evidence: []int{0},
		}},
	}
}

var _ Connector = (*OpenCorporates)(nil)
