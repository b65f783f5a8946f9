package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultCompaniesHouseBaseURL is the UK Companies House public data API root
const DefaultCompaniesHouseBaseURL = "https://api.company-information.service.gov.uk"

const (
	chSearchPerPage   = 20
	chOfficersPerPage = 50
	chMaxCandidates   = 5
)

// CompaniesHouse looks up UK registered companies and their officers.
type CompaniesHouse struct {
	client  *fetch.Client
	apiKey  string
	baseURL string
}

// NewCompaniesHouse creates the Companies House connector
func NewCompaniesHouse(client *fetch.Client, apiKey, baseURL string) *CompaniesHouse {
	if baseURL == "" {
		baseURL = DefaultCompaniesHouseBaseURL
	}
	return &CompaniesHouse{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

// ID implements Connector
func (c *CompaniesHouse) ID() types.ConnectorID {
	return types.ConnectorCompaniesHouse
}

type chSearchItem struct {
	CompanyNumber string `json:"company_number"`
	Title         string `json:"title"`
	CompanyStatus string `json:"company_status"`
}

type chProfile struct {
	CompanyName             string    `json:"company_name"`
	CompanyNumber           string    `json:"company_number"`
	CompanyStatus           string    `json:"company_status"`
	Type                    string    `json:"type"`
	DateOfCreation          string    `json:"date_of_creation"`
	Jurisdiction            string    `json:"jurisdiction"`
	RegisteredOfficeAddress chAddress `json:"registered_office_address"`
	SICCodes                []string  `json:"sic_codes"`
}

type chAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

func (a chAddress) String() string {
	return strings.Join(nonEmpty(a.AddressLine1, a.AddressLine2, a.Locality, a.Region, a.PostalCode, a.Country), ", ")
}

type chOfficer struct {
	Name        string `json:"name"`
	OfficerRole string `json:"officer_role"`
	AppointedOn string `json:"appointed_on"`
	ResignedOn  string `json:"resigned_on"`
	Occupation  string `json:"occupation"`
	Nationality string `json:"nationality"`
}

// Fetch implements Connector
func (c *CompaniesHouse) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	query := strings.TrimSpace(firstNonEmpty(step.Parameters.String("query"), step.Parameters.String("company_name")))
	if query == "" {
		return &Output{}, nil
	}

	var search struct {
		Items []chSearchItem `json:"items"`
	}
	err := c.get(ctx, "/search/companies", url.Values{
		"q":              {query},
		"items_per_page": {strconv.Itoa(chSearchPerPage)},
		"restrictions":   {"active-companies"},
	}, &search)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorCompaniesHouse, "company search", err)
	}

	// Prefer an exact normalized-name match, then the first active profile.
	want := types.NormalizeCompanyName(query)
	candidates := make([]chSearchItem, 0, len(search.Items))
	for _, item := range search.Items {
		if item.CompanyNumber == "" {
			continue
		}
		if types.NormalizeCompanyName(item.Title) == want {
			candidates = append([]chSearchItem{item}, candidates...)
		} else {
			candidates = append(candidates, item)
		}
	}

	var chosen *chProfile
	for i, item := range candidates {
		if i >= chMaxCandidates {
			break
		}
		var profile chProfile
		if err := c.get(ctx, "/company/"+url.PathEscape(item.CompanyNumber), nil, &profile); err != nil {
			if isNoData(err) {
				continue
			}
			return nil, wrapError(types.ConnectorCompaniesHouse, "company profile", err)
		}
		if chosen == nil || profile.CompanyStatus == "active" {
			chosen = &profile
		}
		if profile.CompanyStatus == "active" {
			break
		}
	}
	if chosen == nil {
		return &Output{}, nil
	}

	var officers struct {
		Items []chOfficer `json:"items"`
	}
	err = c.get(ctx, "/company/"+url.PathEscape(chosen.CompanyNumber)+"/officers",
		url.Values{"items_per_page": {strconv.Itoa(chOfficersPerPage)}}, &officers)
	if err != nil && !isNoData(err) {
		return nil, wrapError(types.ConnectorCompaniesHouse, "officers", err)
	}
	return companiesHouseOutput(*chosen, officers.Items), nil
}

func (c *CompaniesHouse) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.client.JSON(ctx, &fetch.Request{
		URL:            c.baseURL + path,
		Query:          query,
		BasicAuthUser:  c.apiKey,
		CacheNamespace: "companies_house",
		CacheTTL:       fetch.RegistryCacheTTL,
	}, out)
	return err
}

func companiesHouseOutput(p chProfile, officers []chOfficer) *Output {
	profileURL := "https://find-and-update.company-information.service.gov.uk/company/" + p.CompanyNumber
	addr := p.RegisteredOfficeAddress.String()
	var founded string
	if t := parseDate(p.DateOfCreation); t != nil {
		founded = strconv.Itoa(t.Year())
	}

	lines := nonEmpty(
		prefixed("Company name: ", p.CompanyName),
		prefixed("Company number: ", p.CompanyNumber),
		prefixed("Status: ", p.CompanyStatus),
		prefixed("Company type: ", p.Type),
		prefixed("Incorporated on: ", p.DateOfCreation),
		prefixed("Jurisdiction: ", p.Jurisdiction),
		prefixed("Registered office: ", addr),
		prefixed("SIC codes: ", strings.Join(p.SICCodes, ", ")),
	)

	out := &Output{
		Snippets: []types.Snippet{{
			Provider: types.ProviderCompaniesHouse,
			Title:    "Companies House record for " + firstNonEmpty(p.CompanyName, p.CompanyNumber),
			URL:      profileURL,
			Text:     strings.Join(lines, "\n"),
		}},
		Records: []types.Record{{
			Kind:     types.RecordLegalEntity,
			Provider: types.ProviderCompaniesHouse,
			Attributes: compactAttrs(map[string]string{
				types.AttrLegalName:         p.CompanyName,
				types.AttrCompanyNumber:     p.CompanyNumber,
				types.AttrFoundedYear:       founded,
				types.AttrRegisteredAddress: addr,
				types.AttrJurisdiction:      "GB",
				types.AttrCountry:           "GB",
			}),
			Evidence: []int{0},
		}},
	}

	var active []chOfficer
	for _, o := range officers {
		if o.ResignedOn == "" && strings.TrimSpace(o.Name) != "" {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return out
	}

	officerIdx := len(out.Snippets)
	var officerLines []string
	for _, o := range active {
		line := fmt.Sprintf("%s, %s", chOfficerName(o.Name), strings.ReplaceAll(o.OfficerRole, "-", " "))
		if o.AppointedOn != "" {
			line += " (appointed " + o.AppointedOn + ")"
		}
		officerLines = append(officerLines, line)
	}
	out.Snippets = append(out.Snippets, types.Snippet{
		Provider: types.ProviderCompaniesHouse,
		Title:    "Companies House officers for " + firstNonEmpty(p.CompanyName, p.CompanyNumber),
		URL:      profileURL + "/officers",
		Text:     "Current officers: " + strings.Join(officerLines, "; ") + ".",
	})
	for _, o := range active {
		role := strings.ReplaceAll(o.OfficerRole, "-", " ")
		out.Records = append(out.Records, types.Record{
			Kind:     types.RecordPerson,
			Provider: types.ProviderCompaniesHouse,
			Person: &types.PersonRecord{
				FullName:    chOfficerName(o.Name),
				Title:       titleCase(role),
				Roles:       nonEmpty(titleCase(role), titleCase(strings.ToLower(o.Occupation))),
				CompanyName: p.CompanyName,
				Extra:       compactAttrs(map[string]string{"appointed_on": o.AppointedOn, "nationality": o.Nationality}),
			},
			Evidence: []int{officerIdx},
		})
	}
	return out
}

// chOfficerName turns the register's "DOE, Jane Mary" into "Jane Mary Doe".
func chOfficerName(raw string) string {
	last, first, ok := strings.Cut(raw, ",")
	if !ok {
		return titleCase(strings.ToLower(strings.TrimSpace(raw)))
	}
	first = strings.TrimSpace(first)
	last = titleCase(strings.ToLower(strings.TrimSpace(last)))
	return strings.TrimSpace(first + " " + last)
}

func prefixed(prefix, v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return prefix + v
}

var _ Connector = (*CompaniesHouse)(nil)
