package types

import "time"

// ResultStatus is the terminal state of one executed plan step
type ResultStatus string

const (
	// StatusOK means the fetch completed; records may still be empty
	StatusOK ResultStatus = "ok"
	// StatusError means a genuine fetch failure (auth, network, rate limit)
	StatusError ResultStatus = "error"
	// StatusTimeout means the step exceeded its deadline or was canceled
	StatusTimeout ResultStatus = "timeout"
)

// RecordKind classifies a normalized connector record
type RecordKind string

// Record kinds produced by connectors
const (
	RecordLegalEntity   RecordKind = "legal_entity"
	RecordCompany       RecordKind = "company"
	RecordPerson        RecordKind = "person"
	RecordFundingRound  RecordKind = "funding_round"
	RecordFundingRollup RecordKind = "funding_rollup"
	RecordCompetitor    RecordKind = "competitor"
	RecordFoundingFacts RecordKind = "founding_facts"
)

// Canonical attribute keys carried in Record.Attributes
const (
	AttrLegalName         = "legal_name"
	AttrName              = "name"
	AttrJurisdiction      = "jurisdiction"
	AttrLEI               = "lei"
	AttrRegisteredAddress = "registered_address"
	AttrCompanyNumber     = "company_number"
	AttrFoundedYear       = "founded_year"
	AttrHQ                = "hq"
	AttrEmployeeCount     = "employee_count"
	AttrIndustry          = "industry"
	AttrDescription       = "description"
	AttrDomain            = "domain"
	AttrWebsite           = "website"
	AttrTotalFunding      = "total_funding"
	AttrFundingRounds     = "number_funding_rounds"
	AttrLatestStage       = "latest_funding_stage"
	AttrLastFundingDate   = "last_funding_date"
	AttrCountry           = "country"
)

// ConnectorResult is the normalized output of one executed plan step.
// It is created once by the executor and never mutated afterwards.
type ConnectorResult struct {
	StepName    string       `json:"step_name"`
	ConnectorID ConnectorID  `json:"connector_id"`
	Status      ResultStatus `json:"status"`
	Records     []Record     `json:"records"`
	Snippets    []Snippet    `json:"snippets"`
	FetchedAt   time.Time    `json:"fetched_at"`
	DurationMs  int64        `json:"duration_ms"`
	Error       string       `json:"error,omitempty"`
	Fallback    bool         `json:"fallback,omitempty"`
	Usage       *Usage       `json:"usage,omitempty"`
}

// OK reports whether the step completed successfully
func (r ConnectorResult) OK() bool {
	return r.Status == StatusOK
}

// HasRecordKind reports whether any record of the kind was returned
func (r ConnectorResult) HasRecordKind(kind RecordKind) bool {
	for _, rec := range r.Records {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

// Record is a structured fact set from a provider. Evidence holds indices into the
// owning result's Snippets that justify the record.
type Record struct {
	Kind       RecordKind        `json:"kind"`
	Provider   string            `json:"provider"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Person     *PersonRecord     `json:"person,omitempty"`
	Funding    *FundingRound     `json:"funding,omitempty"`
	Competitor *CompetitorRecord `json:"competitor,omitempty"`
	Evidence   []int             `json:"evidence,omitempty"`
}

// Attr returns an attribute value or ""
func (r Record) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// PersonRecord is a person as reported by one provider
type PersonRecord struct {
	FullName      string            `json:"full_name"`
	Title         string            `json:"title,omitempty"`
	Roles         []string          `json:"roles,omitempty"`
	LinkedInURL   string            `json:"linkedin_url,omitempty"`
	PhotoURL      string            `json:"photo_url,omitempty"`
	CompanyName   string            `json:"company_name,omitempty"`
	CompanyDomain string            `json:"company_domain,omitempty"`
	ApolloID      string            `json:"apollo_id,omitempty"`
	Experience    []string          `json:"experience,omitempty"`
	Education     []string          `json:"education,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// FundingRound is one equity or non-dilutive financing event
type FundingRound struct {
	Date      string   `json:"date,omitempty"`
	Type      string   `json:"type,omitempty"`
	Amount    string   `json:"amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Investors []string `json:"investors,omitempty"`
}

// CompetitorRecord is a candidate competitor proposed by a provider
type CompetitorRecord struct {
	Name      string `json:"name"`
	Website   string `json:"website,omitempty"`
	Type      string `json:"type,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Snippet is citable text returned by a connector, with provenance.
type Snippet struct {
	Provider      string     `json:"provider"`
	Title         string     `json:"title"`
	URL           string     `json:"url,omitempty"`
	Text          string     `json:"text"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Usage reports LLM tokens and paid tool calls consumed by a collaborator.
type Usage struct {
	Model          string `json:"model,omitempty"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	CachedTokens   int    `json:"cached_tokens"`
	WebSearchCalls int    `json:"web_search_calls,omitempty"`
}

// Add accumulates another usage into u. The model name is kept if already set.
func (u *Usage) Add(other Usage) {
	if u.Model == "" {
		u.Model = other.Model
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
	u.WebSearchCalls += other.WebSearchCalls
}
