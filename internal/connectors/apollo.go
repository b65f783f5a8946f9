package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultApolloBaseURL is the Apollo.io API root
const DefaultApolloBaseURL = "https://api.apollo.io/api/v1"

const apolloPeoplePerPage = 25

var (
	apolloTitles = []string{
		"founder", "co-founder", "ceo", "chief executive officer", "cto",
		"chief technology officer", "president", "board", "vp", "vice president", "head",
	}
	apolloSeniorities = []string{"owner", "founder", "c_suite", "vp", "head"}
)

// Apollo resolves organization firmographics and leadership by domain, and matches
// individual people for person targets.
type Apollo struct {
	client  *fetch.Client
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewApollo creates the Apollo connector
func NewApollo(client *fetch.Client, apiKey, baseURL string, logger *slog.Logger) *Apollo {
	if baseURL == "" {
		baseURL = DefaultApolloBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Apollo{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// ID implements Connector
func (a *Apollo) ID() types.ConnectorID {
	return types.ConnectorApollo
}

type apolloOrganization struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	PrimaryDomain         string      `json:"primary_domain"`
	WebsiteURL            string      `json:"website_url"`
	EstimatedNumEmployees json.Number `json:"estimated_num_employees"`
	FoundedYear           json.Number `json:"founded_year"`
	Industry              string      `json:"industry"`
	ShortDescription      string      `json:"short_description"`
	City                  string      `json:"city"`
	State                 string      `json:"state"`
	Country               string      `json:"country"`
	AnnualRevenuePrinted  string      `json:"annual_revenue_printed"`
}

type apolloPerson struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	FirstName    string              `json:"first_name"`
	LastName     string              `json:"last_name"`
	Title        string              `json:"title"`
	Headline     string              `json:"headline"`
	LinkedInURL  string              `json:"linkedin_url"`
	PhotoURL     string              `json:"photo_url"`
	Organization *apolloOrganization `json:"organization"`
}

// Fetch implements Connector
func (a *Apollo) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	if step.Operation == "person_match" {
		return a.match(ctx, step.Parameters)
	}

	domain := types.ExtractDomain(firstNonEmpty(step.Parameters.String("company_domain"), step.Parameters.String("website")))
	if domain == "" {
		return &Output{}, nil
	}

	out := &Output{}
	org, err := a.enrichOrganization(ctx, domain)
	if err != nil {
		// Lower Apollo plans do not expose organization enrich; people search still works.
		a.logger.Warn("apollo organization enrich failed", "domain", domain, "error", err)
	}

	people, err := a.searchPeople(ctx, domain)
	if err != nil {
		if org == nil {
			return nil, err
		}
		a.logger.Warn("apollo people search failed", "domain", domain, "error", err)
	}
	if org == nil {
		for _, p := range people {
			if p.Organization != nil && p.Organization.Name != "" {
				org = p.Organization
				break
			}
		}
	}
	if org != nil {
		appendApolloOrganization(out, *org, domain)
	}
	for _, p := range people {
		appendApolloPerson(out, p, domain)
	}
	return out, nil
}

func (a *Apollo) headers() map[string]string {
	return map[string]string{
		"X-Api-Key":     a.apiKey,
		"Authorization": "Bearer " + a.apiKey,
		"Accept":        "application/json",
	}
}

func (a *Apollo) enrichOrganization(ctx context.Context, domain string) (*apolloOrganization, error) {
	var resp struct {
		Organization *apolloOrganization `json:"organization"`
	}
	_, err := a.client.JSON(ctx, &fetch.Request{
		URL:            a.baseURL + "/organizations/enrich",
		Query:          url.Values{"domain": {domain}},
		Headers:        a.headers(),
		CacheNamespace: "apollo",
		CacheTTL:       fetch.ApolloCacheTTL,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, wrapError(types.ConnectorApollo, "organization enrich", err)
	}
	return resp.Organization, nil
}

func (a *Apollo) searchPeople(ctx context.Context, domain string) ([]apolloPerson, error) {
	payload := map[string]any{
		"page":                        1,
		"per_page":                    apolloPeoplePerPage,
		"person_titles":               apolloTitles,
		"person_seniorities":          apolloSeniorities,
		"q_organization_domains_list": []string{domain},
	}
	var resp struct {
		People []apolloPerson `json:"people"`
	}
	_, err := a.client.JSON(ctx, &fetch.Request{
		Method:   http.MethodPost,
		URL:      a.baseURL + "/mixed_people/api_search",
		Headers:  a.headers(),
		JSONBody: payload,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, wrapError(types.ConnectorApollo, "people search", err)
	}
	return resp.People, nil
}

func (a *Apollo) match(ctx context.Context, params types.StepParams) (*Output, error) {
	name := strings.TrimSpace(params.String("person_name"))
	if name == "" {
		return &Output{}, nil
	}
	payload := map[string]any{"name": name}
	if org := params.String("company_name"); org != "" {
		payload["organization_name"] = org
	}
	domain := types.ExtractDomain(params.String("company_domain"))
	if domain != "" {
		payload["domain"] = domain
	}
	if li := params.String("linkedin_url"); li != "" {
		payload["linkedin_url"] = li
	}

	var resp struct {
		Person *apolloPerson `json:"person"`
	}
	_, err := a.client.JSON(ctx, &fetch.Request{
		Method:   http.MethodPost,
		URL:      a.baseURL + "/people/match",
		Headers:  a.headers(),
		JSONBody: payload,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorApollo, "people match", err)
	}
	out := &Output{}
	if resp.Person != nil {
		appendApolloPerson(out, *resp.Person, domain)
	}
	return out, nil
}

func appendApolloOrganization(out *Output, org apolloOrganization, domain string) {
	name := strings.TrimSpace(org.Name)
	hq := strings.Join(nonEmpty(org.City, org.State, org.Country), ", ")
	attrs := compactAttrs(map[string]string{
		types.AttrName:          name,
		types.AttrDomain:        firstNonEmpty(types.ExtractDomain(org.PrimaryDomain), domain),
		types.AttrWebsite:       org.WebsiteURL,
		types.AttrFoundedYear:   nonZero(org.FoundedYear),
		types.AttrEmployeeCount: nonZero(org.EstimatedNumEmployees),
		types.AttrIndustry:      titleCase(org.Industry),
		types.AttrDescription:   truncate(org.ShortDescription, 1200),
		types.AttrHQ:            hq,
		types.AttrCountry:       org.Country,
	})
	if len(attrs) == 0 {
		return
	}

	var parts []string
	for _, kv := range [][2]string{
		{"Founded", nonZero(org.FoundedYear)},
		{"HQ", hq},
		{"Employees (estimate)", nonZero(org.EstimatedNumEmployees)},
		{"Industry", titleCase(org.Industry)},
		{"Annual revenue", org.AnnualRevenuePrinted},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+": "+kv[1])
		}
	}
	var evidence []int
	if len(parts) > 0 {
		evidence = []int{len(out.Snippets)}
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider: types.ProviderApollo,
			Title:    "Apollo organization profile for " + firstNonEmpty(name, domain),
			URL:      org.WebsiteURL,
			Text:     strings.Join(parts, "; ") + ".",
		})
	}
	out.Records = append(out.Records, types.Record{
		Kind:       types.RecordCompany,
		Provider:   types.ProviderApollo,
		Attributes: attrs,
		Evidence:   evidence,
	})
}

func appendApolloPerson(out *Output, p apolloPerson, domain string) {
	fullName := firstNonEmpty(p.Name, strings.TrimSpace(p.FirstName+" "+p.LastName))
	if fullName == "" {
		return
	}
	title := firstNonEmpty(p.Title, p.Headline)
	var company, companyDomain string
	if p.Organization != nil {
		company = p.Organization.Name
		companyDomain = types.ExtractDomain(p.Organization.PrimaryDomain)
	}
	companyDomain = firstNonEmpty(companyDomain, domain)
	linkedin := normalizeLinkedIn(p.LinkedInURL)

	text := fullName
	if title != "" {
		text += ", " + title
	}
	if company != "" {
		text += " at " + company
	}
	idx := len(out.Snippets)
	out.Snippets = append(out.Snippets, types.Snippet{
		Provider: types.ProviderApollo,
		Title:    fmt.Sprintf("Apollo profile: %s", fullName),
		URL:      linkedin,
		Text:     text + ".",
	})
	out.Records = append(out.Records, types.Record{
		Kind:     types.RecordPerson,
		Provider: types.ProviderApollo,
		Person: &types.PersonRecord{
			FullName:      fullName,
			Title:         title,
			Roles:         nonEmpty(title),
			LinkedInURL:   linkedin,
			PhotoURL:      p.PhotoURL,
			CompanyName:   company,
			CompanyDomain: companyDomain,
			ApolloID:      p.ID,
		},
		Evidence: []int{idx},
	})
}

var _ Connector = (*Apollo)(nil)
