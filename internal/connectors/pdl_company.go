package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// PDLCompany enriches a company's firmographics and funding roll-up.
type PDLCompany struct {
	client  *fetch.Client
	apiKey  string
	baseURL string
}

// NewPDLCompany creates the PDL company connector
func NewPDLCompany(client *fetch.Client, apiKey, baseURL string) *PDLCompany {
	if baseURL == "" {
		baseURL = DefaultPDLBaseURL
	}
	return &PDLCompany{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

// ID implements Connector
func (p *PDLCompany) ID() types.ConnectorID {
	return types.ConnectorPDLCompany
}

type pdlCompany struct {
	Name                string             `json:"name"`
	DisplayName         string             `json:"display_name"`
	Website             string             `json:"website"`
	Founded             json.Number        `json:"founded"`
	LocationName        string             `json:"location_name"`
	Location            *pdlLocation       `json:"location"`
	EmployeeCount       json.Number        `json:"employee_count"`
	Size                string             `json:"size"`
	Industry            string             `json:"industry"`
	Summary             string             `json:"summary"`
	TotalFundingRaised  json.Number        `json:"total_funding_raised"`
	NumberFundingRounds json.Number        `json:"number_funding_rounds"`
	LatestFundingStage  string             `json:"latest_funding_stage"`
	LastFundingDate     string             `json:"last_funding_date"`
	FundingDetails      []pdlFundingDetail `json:"funding_details"`
}

type pdlLocation struct {
	Name     string `json:"name"`
	Locality string `json:"locality"`
	Region   string `json:"region"`
	Country  string `json:"country"`
}

type pdlFundingDetail struct {
	FundingRoundDate     string      `json:"funding_round_date"`
	FundingType          string      `json:"funding_type"`
	FundingRaised        json.Number `json:"funding_raised"`
	FundingCurrency      string      `json:"funding_currency"`
	InvestingCompanies   []string    `json:"investing_companies_names"`
	InvestingIndividuals []string    `json:"investing_individuals_names"`
}

func (c pdlCompany) locationName() string {
	if c.LocationName != "" {
		return titleCase(c.LocationName)
	}
	if c.Location == nil {
		return ""
	}
	if c.Location.Name != "" {
		return titleCase(c.Location.Name)
	}
	return titleCase(strings.Join(nonEmpty(c.Location.Locality, c.Location.Region, c.Location.Country), ", "))
}

// Fetch implements Connector
func (p *PDLCompany) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	website := firstNonEmpty(step.Parameters.String("website"), step.Parameters.String("company_domain"))
	name := step.Parameters.String("company_name")

	query := url.Values{}
	switch {
	case website != "":
		query.Set("website", website)
	case name != "":
		query.Set("name", name)
	default:
		return &Output{}, nil
	}

	var data pdlCompany
	_, err := p.client.JSON(ctx, &fetch.Request{
		URL:            p.baseURL + "/company/enrich",
		Query:          query,
		Headers:        map[string]string{"X-Api-Key": p.apiKey},
		CacheNamespace: "pdl_company",
		CacheTTL:       fetch.PDLCompanyCacheTTL,
	}, &data)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorPDLCompany, "company enrich", err)
	}
	return pdlCompanyOutput(data, name), nil
}

func pdlCompanyOutput(data pdlCompany, fallbackName string) *Output {
	name := firstNonEmpty(data.DisplayName, titleCase(data.Name), fallbackName, "Target Company")
	out := &Output{}

	// Snippet 0: founding/HQ profile
	var parts []string
	if data.Founded != "" {
		parts = append(parts, "Founded: "+data.Founded.String())
	}
	if loc := data.locationName(); loc != "" {
		parts = append(parts, fmt.Sprintf("HQ: %s (vendor aggregate)", loc))
	}
	if data.Website != "" {
		parts = append(parts, "Website: "+data.Website)
	}
	switch {
	case data.EmployeeCount != "" && data.EmployeeCount != "0":
		parts = append(parts, "Employee Count: "+data.EmployeeCount.String())
	case data.Size != "":
		parts = append(parts, "Size Range: "+data.Size)
	}
	profileIdx := -1
	if len(parts) > 0 {
		profileIdx = len(out.Snippets)
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider: types.ProviderPDLCompany,
			Title:    "PDL company profile (founding/HQ) for " + name,
			Text:     strings.Join(parts, "; ") + ".",
		})
	}

	company := compactAttrs(map[string]string{
		types.AttrName:          name,
		types.AttrWebsite:       data.Website,
		types.AttrDomain:        types.ExtractDomain(data.Website),
		types.AttrFoundedYear:   data.Founded.String(),
		types.AttrHQ:            data.locationName(),
		types.AttrEmployeeCount: nonZero(data.EmployeeCount),
		types.AttrIndustry:      titleCase(data.Industry),
		types.AttrDescription:   truncate(data.Summary, 1200),
	})
	if len(company) > 0 {
		out.Records = append(out.Records, types.Record{
			Kind:       types.RecordCompany,
			Provider:   types.ProviderPDLCompany,
			Attributes: company,
			Evidence:   indexIf(profileIdx),
		})
	}

	// Snippet 1: funding roll-up
	var fparts []string
	if total := nonZero(data.TotalFundingRaised); total != "" {
		fparts = append(fparts, "total_funding_raised=$"+formatUSD(total))
	}
	if rounds := nonZero(data.NumberFundingRounds); rounds != "" {
		fparts = append(fparts, "rounds="+rounds)
	}
	if data.LatestFundingStage != "" {
		fparts = append(fparts, "latest_stage="+data.LatestFundingStage)
	}
	if data.LastFundingDate != "" {
		fparts = append(fparts, "last_funding_date="+data.LastFundingDate)
	}
	rollupIdx := -1
	if len(fparts) > 0 {
		rollupIdx = len(out.Snippets)
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider: types.ProviderPDLCompany,
			Title:    "PDL company funding roll-up for " + name,
			Text:     "PDL aggregated: " + strings.Join(fparts, ", ") + ".",
		})
		out.Records = append(out.Records, types.Record{
			Kind:     types.RecordFundingRollup,
			Provider: types.ProviderPDLCompany,
			Attributes: compactAttrs(map[string]string{
				types.AttrTotalFunding:    nonZero(data.TotalFundingRaised),
				types.AttrFundingRounds:   nonZero(data.NumberFundingRounds),
				types.AttrLatestStage:     data.LatestFundingStage,
				types.AttrLastFundingDate: data.LastFundingDate,
			}),
			Evidence: []int{rollupIdx},
		})
	}

	for _, d := range data.FundingDetails {
		if d.FundingRoundDate == "" && d.FundingType == "" {
			continue
		}
		out.Records = append(out.Records, types.Record{
			Kind:     types.RecordFundingRound,
			Provider: types.ProviderPDLCompany,
			Funding: &types.FundingRound{
				Date:      d.FundingRoundDate,
				Type:      d.FundingType,
				Amount:    nonZero(d.FundingRaised),
				Currency:  firstNonEmpty(d.FundingCurrency, "USD"),
				Investors: append(nonEmpty(d.InvestingCompanies...), nonEmpty(d.InvestingIndividuals...)...),
			},
			Evidence: indexIf(rollupIdx),
		})
	}
	return out
}

func nonZero(n json.Number) string {
	s := strings.TrimSpace(n.String())
	if s == "" || s == "0" || s == "0.0" {
		return ""
	}
	return s
}

func indexIf(i int) []int {
	if i < 0 {
		return nil
	}
	return []int{i}
}

// formatUSD renders a raw amount as "1,234,567.00"; unparseable values pass through.
func formatUSD(raw string) string {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	whole := strconv.FormatFloat(f, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(whole, ".")
	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	s := b.String() + "." + frac
	if neg {
		s = "-" + s
	}
	return s
}

var _ Connector = (*PDLCompany)(nil)
