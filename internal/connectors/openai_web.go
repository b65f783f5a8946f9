package connectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/llm"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/prompts"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

const openAIWebMaxTokens = 4096

// OpenAIWeb runs a search-capable LLM as a research agent for tasks that need
// judgment rather than recall: competitor discovery, founding facts when registries
// come back empty, and person profiles.
type OpenAIWeb struct {
	client llm.Client
}

// NewOpenAIWeb creates the web agent connector
func NewOpenAIWeb(client llm.Client) *OpenAIWeb {
	return &OpenAIWeb{client: client}
}

// ID implements Connector
func (o *OpenAIWeb) ID() types.ConnectorID {
	return types.ConnectorOpenAIWeb
}

type webCompetitor struct {
	Name        string `json:"name"`
	Website     string `json:"website"`
	Category    string `json:"category"`
	Summary     string `json:"summary"`
	WhyRelevant string `json:"why_relevant"`
	TechAndMoat string `json:"tech_and_moat"`
	GeoFocus    string `json:"geo_focus"`
}

type webEvidence struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type webFoundingFacts struct {
	LegalName           string `json:"legal_name"`
	IncorporationDate   string `json:"incorporation_date"`
	FoundedYear         string `json:"founded_year"`
	Jurisdiction        string `json:"jurisdiction"`
	RegisteredAddress   string `json:"registered_address"`
	HQ                  string `json:"hq"`
	OriginContext       string `json:"origin_context"`
	RegistrationNumbers []struct {
		System string `json:"system"`
		ID     string `json:"id"`
	} `json:"registration_numbers"`
}

type webPerson struct {
	FullName    string   `json:"full_name"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	LinkedInURL string   `json:"linkedin_url"`
	Experience  []string `json:"experience"`
	Education   []string `json:"education"`
	Summary     string   `json:"summary"`
}

// Fetch implements Connector
func (o *OpenAIWeb) Fetch(ctx context.Context, step types.PlanStep) (*Output, error) {
	mode := step.Parameters.String("mode")
	switch mode {
	case "competitors", "founding", "person_profile":
	default:
		return nil, &Error{Connector: types.ConnectorOpenAIWeb, Kind: KindStatus, Message: fmt.Sprintf("unknown mode %q", mode)}
	}

	prompt, err := prompts.Render(prompts.OpenAIWeb, mode, map[string]string{
		"Target": describeTarget(step.Parameters),
	})
	if err != nil {
		return nil, &Error{Connector: types.ConnectorOpenAIWeb, Kind: KindStatus, Message: "prompt", Cause: err}
	}
	resp, err := o.client.Generate(ctx, llm.Request{
		System:    prompts.MustGet(prompts.OpenAIWeb, "system"),
		Prompt:    prompt,
		Tier:      llm.TierAdvanced,
		JSON:      true,
		MaxTokens: openAIWebMaxTokens,
	})
	if err != nil {
		return nil, wrapError(types.ConnectorOpenAIWeb, mode, err)
	}

	usage := resp.Usage
	usage.WebSearchCalls++
	if usage.Model == "" {
		usage.Model = o.client.Model(llm.TierAdvanced)
	}

	var out *Output
	switch mode {
	case "competitors":
		out, err = parseCompetitors(resp.Text)
	case "founding":
		out, err = parseFounding(resp.Text)
	default:
		out, err = parsePersonProfile(resp.Text, step.Parameters.String("person_name"))
	}
	if err != nil {
		return nil, &Error{Connector: types.ConnectorOpenAIWeb, Kind: KindDecode, Message: mode + " response", Cause: err}
	}
	out.Usage = &usage
	return out, nil
}

func describeTarget(params types.StepParams) string {
	lines := nonEmpty(
		prefixed("- Name: ", firstNonEmpty(params.String("person_name"), params.String("company_name"))),
		prefixed("- Company: ", personCompany(params)),
		prefixed("- Website: ", params.String("website")),
		prefixed("- Additional context: ", params.String("context")),
	)
	if len(lines) == 0 {
		return "N/A"
	}
	return strings.Join(lines, "\n")
}

func personCompany(params types.StepParams) string {
	if params.String("person_name") == "" {
		return ""
	}
	return params.String("company_name")
}

func parseCompetitors(text string) (*Output, error) {
	var data struct {
		Competitors []webCompetitor `json:"competitors"`
	}
	if err := llm.DecodeJSON(text, &data); err != nil {
		return nil, err
	}

	out := &Output{}
	for _, c := range data.Competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(c.Category))
		switch category {
		case "direct", "adjacent", "substitute":
		default:
			category = "direct"
		}
		website := strings.TrimSpace(c.Website)
		if website != "" && !strings.Contains(website, "://") {
			website = "https://" + website
		}

		parts := nonEmpty(
			strings.TrimSpace(c.Summary),
			prefixed("Relevance vs target: ", strings.TrimSpace(c.WhyRelevant)),
			prefixed("Tech & moat: ", strings.TrimSpace(c.TechAndMoat)),
			prefixed("Geo focus: ", strings.TrimSpace(c.GeoFocus)),
		)
		idx := len(out.Snippets)
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider: types.ProviderOpenAIWeb,
			Title:    name,
			URL:      website,
			Text:     strings.Join(parts, " "),
		})
		out.Records = append(out.Records, types.Record{
			Kind:     types.RecordCompetitor,
			Provider: types.ProviderOpenAIWeb,
			Competitor: &types.CompetitorRecord{
				Name:      name,
				Website:   website,
				Type:      category,
				Rationale: firstNonEmpty(c.WhyRelevant, c.Summary),
			},
			Evidence: []int{idx},
		})
	}
	return out, nil
}

func appendEvidence(out *Output, evidence []webEvidence, defaultTitle string) []int {
	var idx []int
	for _, e := range evidence {
		if strings.TrimSpace(e.URL) == "" || strings.TrimSpace(e.Snippet) == "" {
			continue
		}
		idx = append(idx, len(out.Snippets))
		out.Snippets = append(out.Snippets, types.Snippet{
			Provider: types.ProviderOpenAIWeb,
			Title:    firstNonEmpty(e.Title, defaultTitle),
			URL:      strings.TrimSpace(e.URL),
			Text:     strings.TrimSpace(e.Snippet),
		})
	}
	return idx
}

func parseFounding(text string) (*Output, error) {
	var data struct {
		FoundingFacts webFoundingFacts `json:"founding_facts"`
		Evidence      []webEvidence    `json:"evidence"`
	}
	if err := llm.DecodeJSON(text, &data); err != nil {
		return nil, err
	}

	out := &Output{}
	evidence := appendEvidence(out, data.Evidence, "Founding evidence")
	f := data.FoundingFacts

	founded := f.FoundedYear
	if t := parseDate(f.IncorporationDate); t != nil {
		founded = fmt.Sprint(t.Year())
	}
	var number string
	if len(f.RegistrationNumbers) > 0 {
		number = f.RegistrationNumbers[0].ID
	}
	attrs := compactAttrs(map[string]string{
		types.AttrLegalName:         nullString(f.LegalName),
		types.AttrFoundedYear:       nullString(founded),
		types.AttrJurisdiction:      nullString(f.Jurisdiction),
		types.AttrHQ:                nullString(f.HQ),
		types.AttrRegisteredAddress: nullString(f.RegisteredAddress),
		types.AttrCompanyNumber:     nullString(number),
	})
	// Facts without a citation are not kept.
	if len(attrs) > 0 && len(evidence) > 0 {
		out.Records = append(out.Records, types.Record{
			Kind:       types.RecordFoundingFacts,
			Provider:   types.ProviderOpenAIWeb,
			Attributes: attrs,
			Evidence:   evidence,
		})
	}
	return out, nil
}

func parsePersonProfile(text, fallbackName string) (*Output, error) {
	var data struct {
		Person   webPerson     `json:"person"`
		Evidence []webEvidence `json:"evidence"`
	}
	if err := llm.DecodeJSON(text, &data); err != nil {
		return nil, err
	}

	out := &Output{}
	evidence := appendEvidence(out, data.Evidence, "Profile evidence")
	p := data.Person
	name := firstNonEmpty(nullString(p.FullName), fallbackName)
	if name == "" || len(evidence) == 0 {
		return out, nil
	}
	out.Records = append(out.Records, types.Record{
		Kind:     types.RecordPerson,
		Provider: types.ProviderOpenAIWeb,
		Person: &types.PersonRecord{
			FullName:    name,
			Title:       nullString(p.Title),
			Roles:       nonEmpty(nullString(p.Title)),
			LinkedInURL: normalizeLinkedIn(nullString(p.LinkedInURL)),
			CompanyName: nullString(p.Company),
			Experience:  nonEmpty(p.Experience...),
			Education:   nonEmpty(p.Education...),
			Extra:       compactAttrs(map[string]string{"summary": p.Summary}),
		},
		Evidence: evidence,
	})
	return out, nil
}

// nullString treats the literal strings models emit for missing values as empty.
func nullString(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "unknown":
		return ""
	}
	return s
}

var _ Connector = (*OpenAIWeb)(nil)
