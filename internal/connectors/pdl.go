package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/fetch"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// DefaultPDLBaseURL is the People Data Labs API root
const DefaultPDLBaseURL = "https://api.peopledatalabs.com/v5"

const (
	pdlSearchSize    = 3
	pdlMinLikelihood = 3
)

var (
	pdlLeadershipLevels = []string{"cxo", "vp", "director", "owner", "partner"}
	pdlLeadershipRoles  = []string{
		"founder", "co-founder", "cofounder", "ceo", "chief executive officer",
		"cto", "chief technology officer", "president",
	}
)

// PDL discovers company leadership and enriches individual people.
type PDL struct {
	client  *fetch.Client
	apiKey  string
	baseURL string
}

// NewPDL creates the PDL people connector
func NewPDL(client *fetch.Client, apiKey, baseURL string) *PDL {
	if baseURL == "" {
		baseURL = DefaultPDLBaseURL
	}
	return &PDL{client: client, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

// ID implements Connector
func (p *PDL) ID() types.ConnectorID {
	return types.ConnectorPDL
}

type pdlPerson struct {
	ID                string          `json:"id"`
	FullName          string          `json:"full_name"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	LinkedInURL       string          `json:"linkedin_url"`
	JobTitle          string          `json:"job_title"`
	JobTitleRole      string          `json:"job_title_role"`
	JobCompanyName    string          `json:"job_company_name"`
	JobCompanyWebsite string          `json:"job_company_website"`
	LocationName      string          `json:"location_name"`
	Summary           string          `json:"summary"`
	Experience        []pdlExperience `json:"experience"`
	Education         []pdlEducation  `json:"education"`
}

type pdlExperience struct {
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
	Title struct {
		Name string `json:"name"`
	} `json:"title"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsPrimary bool   `json:"is_primary"`
}

type pdlEducation struct {
	School struct {
		Name string `json:"name"`
	} `json:"school"`
	Degrees []string `json:"degrees"`
	EndDate string   `json:"end_date"`
}

// Fetch implements Connector
func (p *PDL) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	if step.Operation == "person_enrich" || step.Parameters.String("person_name") != "" {
		return p.enrich(ctx, step.Parameters)
	}
	return p.search(ctx, step.Parameters)
}

func (p *PDL) headers() map[string]string {
	return map[string]string{"X-Api-Key": p.apiKey}
}

func (p *PDL) search(ctx context.Context, params types.StepParams) (*Output, error) {
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(params.String("company_domain"))), "www.")
	name := strings.TrimSpace(params.String("company_name"))
	if domain == "" && name == "" {
		return &Output{}, nil
	}

	var companyFilters []map[string]any
	if domain != "" {
		companyFilters = append(companyFilters, map[string]any{"term": map[string]any{"job_company_website": domain}})
	}
	if name != "" {
		companyFilters = append(companyFilters, map[string]any{"match_phrase": map[string]any{"job_company_name": name}})
	}

	payload := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"bool": map[string]any{"should": companyFilters}},
					map[string]any{"bool": map[string]any{"should": []any{
						map[string]any{"terms": map[string]any{"job_title_levels": pdlLeadershipLevels}},
						map[string]any{"terms": map[string]any{"job_title_role": pdlLeadershipRoles}},
					}}},
				},
			},
		},
		"size":   pdlSearchSize,
		"pretty": false,
	}

	var resp struct {
		Data []pdlPerson `json:"data"`
	}
	_, err := p.client.JSON(ctx, &fetch.Request{
		Method:   http.MethodPost,
		URL:      p.baseURL + "/person/search",
		Headers:  p.headers(),
		JSONBody: payload,
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorPDL, "person search", err)
	}

	out := &Output{}
	for _, person := range resp.Data {
		p.appendPerson(out, person, "")
	}
	return out, nil
}

func (p *PDL) enrich(ctx context.Context, params types.StepParams) (*Output, error) {
	name := strings.TrimSpace(params.String("person_name"))
	company := firstNonEmpty(params.String("company_name"), params.String("company_domain"))
	linkedin := strings.TrimSpace(params.String("linkedin_url"))

	query := url.Values{}
	query.Set("min_likelihood", strconv.Itoa(pdlMinLikelihood))
	switch {
	case linkedin != "":
		query.Set("profile", linkedin)
		if name != "" {
			query.Set("name", name)
		}
		if company != "" {
			query.Set("company", company)
		}
	case name != "" && company != "":
		query.Set("name", name)
		query.Set("company", company)
	case name != "":
		// Name alone is below PDL's minimum input rules; a location hint makes it valid.
		if loc := params.String("location"); loc != "" {
			query.Set("name", name)
			query.Set("location", loc)
		} else {
			return &Output{}, nil
		}
	default:
		return &Output{}, nil
	}

	var resp struct {
		Status     int       `json:"status"`
		Likelihood float64   `json:"likelihood"`
		Data       pdlPerson `json:"data"`
	}
	_, err := p.client.JSON(ctx, &fetch.Request{
		URL:     p.baseURL + "/person/enrich",
		Query:   query,
		Headers: p.headers(),
	}, &resp)
	if err != nil {
		if isNoData(err) {
			return &Output{}, nil
		}
		return nil, wrapError(types.ConnectorPDL, "person enrich", err)
	}
	if resp.Status != 0 && resp.Status != http.StatusOK {
		return &Output{}, nil
	}
	if resp.Likelihood > 0 && resp.Likelihood < pdlMinLikelihood {
		return &Output{}, nil
	}

	out := &Output{}
	p.appendPerson(out, resp.Data, name)
	return out, nil
}

func (p *PDL) appendPerson(out *Output, person pdlPerson, fallbackName string) {
	fullName := firstNonEmpty(person.FullName, strings.TrimSpace(person.FirstName+" "+person.LastName), fallbackName)
	if fullName == "" {
		return
	}
	fullName = titleCase(fullName)
	title := firstNonEmpty(person.JobTitle, person.JobTitleRole)

	var experience []string
	for _, exp := range person.Experience {
		line := strings.TrimSpace(strings.Join(nonEmpty(titleCase(exp.Title.Name), titleCase(exp.Company.Name)), " at "))
		if line == "" {
			continue
		}
		if span := dateSpan(exp.StartDate, exp.EndDate); span != "" {
			line += " (" + span + ")"
		}
		experience = append(experience, line)
	}
	var education []string
	for _, edu := range person.Education {
		line := titleCase(edu.School.Name)
		if line == "" {
			continue
		}
		if len(edu.Degrees) > 0 {
			line += ", " + strings.Join(edu.Degrees, "/")
		}
		education = append(education, line)
	}

	linkedin := normalizeLinkedIn(person.LinkedInURL)
	idx := len(out.Snippets)

	var text strings.Builder
	fmt.Fprintf(&text, "%s", fullName)
	if title != "" {
		fmt.Fprintf(&text, ", %s", titleCase(title))
	}
	if person.JobCompanyName != "" {
		fmt.Fprintf(&text, " at %s", titleCase(person.JobCompanyName))
	}
	text.WriteString(".")
	if person.LocationName != "" {
		fmt.Fprintf(&text, " Location: %s.", titleCase(person.LocationName))
	}
	if len(experience) > 0 {
		fmt.Fprintf(&text, " Experience: %s.", strings.Join(limit(experience, 6), "; "))
	}
	if len(education) > 0 {
		fmt.Fprintf(&text, " Education: %s.", strings.Join(limit(education, 3), "; "))
	}
	if person.Summary != "" {
		fmt.Fprintf(&text, " Summary: %s", truncate(person.Summary, 600))
	}

	out.Snippets = append(out.Snippets, types.Snippet{
		Provider: types.ProviderPDL,
		Title:    fmt.Sprintf("PDL profile: %s", fullName),
		URL:      linkedin,
		Text:     text.String(),
	})
	out.Records = append(out.Records, types.Record{
		Kind:     types.RecordPerson,
		Provider: types.ProviderPDL,
		Person: &types.PersonRecord{
			FullName:      fullName,
			Title:         titleCase(title),
			Roles:         nonEmpty(titleCase(title)),
			LinkedInURL:   linkedin,
			CompanyName:   titleCase(person.JobCompanyName),
			CompanyDomain: types.ExtractDomain(person.JobCompanyWebsite),
			Experience:    experience,
			Education:     education,
			Extra:         compactAttrs(map[string]string{"pdl_id": person.ID}),
		},
		Evidence: []int{idx},
	})
}

// normalizeLinkedIn makes PDL's scheme-less "linkedin.com/in/x" absolute.
func normalizeLinkedIn(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// titleCase capitalizes lower-cased provider values like "stripe" or "chief executive officer".
// Values that already contain upper-case letters are returned unchanged.
func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.ToLower(s) != s {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func dateSpan(start, end string) string {
	switch {
	case start != "" && end != "":
		return start + " to " + end
	case start != "":
		return start + " to present"
	default:
		return ""
	}
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func limit(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}

var _ Connector = (*PDL)(nil)
