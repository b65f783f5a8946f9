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

// DefaultPitchBookBaseURL is the PitchBook API root
const DefaultPitchBookBaseURL = "https://api.pitchbook.com"

// PitchBook resolves a company in PitchBook and returns its deal history.
type PitchBook struct {
	client     *fetch.Client
	apiKey     string
	baseURL    string
	maxResults int
}

// NewPitchBook creates the PitchBook connector
func NewPitchBook(client *fetch.Client, apiKey, baseURL string, maxResults int) *PitchBook {
	if baseURL == "" {
		baseURL = DefaultPitchBookBaseURL
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	return &PitchBook{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), maxResults: maxResults}
}

// ID implements Connector
func (p *PitchBook) ID() types.ConnectorID {
	return types.ConnectorPitchBook
}

type pbCompany struct {
	PBID    string `json:"pbId"`
	Name    string `json:"companyName"`
	Website string `json:"website"`
}

type pbDeal struct {
	DealID    string  `json:"dealId"`
	DealDate  string  `json:"dealDate"`
	DealType  string  `json:"dealType"`
	DealSize  float64 `json:"dealSize"`
	Currency  string  `json:"currency"`
	Investors []struct {
		Name string `json:"investorName"`
	} `json:"investors"`
}

// Fetch implements Connector
func (p *PitchBook) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	name := strings.TrimSpace(step.Parameters.String("company_name"))
	domain := types.ExtractDomain(step.Parameters.String("company_domain"))
	if name == "" && domain == "" {
		return &Output{}, nil
	}

	query := url.Values{"limit": {"5"}}
	if name != "" {
		query.Set("name", name)
	}
	if domain != "" {
		query.Set("website", domain)
	}
	var search struct {
		Items []pbCompany `json:"items"`
	}
	if _, err := p.client.JSON(ctx, p.request("/companies/search", query), &search); err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorPitchBook, "company search", err)
	}
	company := pickPitchBookCompany(search.Items, name, domain)
	if company == nil {
		return &Output{}, nil
	}

	var deals struct {
		Items []pbDeal `json:"items"`
	}
	path := "/companies/" + url.PathEscape(company.PBID) + "/deals"
	if _, err := p.client.JSON(ctx, p.request(path, url.Values{"limit": {strconv.Itoa(p.maxResults)}}), &deals); err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorPitchBook, "deals", err)
	}
	return pitchBookOutput(*company, deals.Items), nil
}

func (p *PitchBook) request(path string, query url.Values) *fetch.Request {
	return &fetch.Request{
		URL:            p.baseURL + path,
		Query:          query,
		Headers:        map[string]string{"Authorization": "PB-Token " + p.apiKey, "Accept": "application/json"},
		CacheNamespace: "pitchbook",
		CacheTTL:       fetch.PitchBookCacheTTL,
	}
}

func pickPitchBookCompany(items []pbCompany, name, domain string) *pbCompany {
	want := types.NormalizeCompanyName(name)
	var first *pbCompany
	for i := range items {
		c := &items[i]
		if c.PBID == "" {
			continue
		}
		if domain != "" && types.ExtractDomain(c.Website) == domain {
			return c
		}
		if want != "" && types.NormalizeCompanyName(c.Name) == want {
			return c
		}
		if first == nil {
			first = c
		}
	}
	return first
}

func pitchBookOutput(company pbCompany, deals []pbDeal) *Output {
	out := &Output{}
	profileURL := "https://my.pitchbook.com/profile/" + company.PBID + "/company/profile"
	for _, d := range deals {
		if d.DealDate == "" && d.DealType == "" {
			continue
		}
		var investors []string
		for _, inv := range d.Investors {
			if inv.Name != "" {
				investors = append(investors, inv.Name)
			}
		}
		var amount string
		if d.DealSize > 0 {
			// PitchBook reports deal size in millions
			amount = strconv.FormatFloat(d.DealSize*1_000_000, 'f', 0, 64)
		}
		currency := firstNonEmpty(d.Currency, "USD")

		text := fmt.Sprintf("%s: %s", firstNonEmpty(d.DealDate, "undated"), firstNonEmpty(d.DealType, "deal"))
		if amount != "" {
			text += fmt.Sprintf(", %s %s", currency, formatUSD(amount))
		}
		if len(investors) > 0 {
			text += ", investors: " + strings.Join(investors, ", ")
		}

		dealURL := profileURL
		if d.DealID != "" {
			dealURL += "?deal=" + url.QueryEscape(d.DealID)
		}
		idx := len(out.Snippets)
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider:      types.ProviderPitchBook,
			Title:         fmt.Sprintf("PitchBook deal for %s (%s)", firstNonEmpty(company.Name, company.PBID), firstNonEmpty(d.DealType, d.DealDate)),
			URL:           dealURL,
			Text:          text + ".",
			PublishedDate: parseDate(d.DealDate),
		})
		out.Records = append(out.Records, types.Record{
			Kind:     types.RecordFundingRound,
			Provider: types.ProviderPitchBook,
			Funding: &types.FundingRound{
				Date:      d.DealDate,
				Type:      d.DealType,
				Amount:    amount,
				Currency:  currency,
				Investors: investors,
			},
			Evidence: []int{idx},
		})
	}
	return out
}

var _ Connector = (*PitchBook)(nil)
