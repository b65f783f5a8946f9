package planner

import (
	"fmt"
	"strings"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// Micro-research limits
const (
	MaxMicroSteps      = 4
	MaxMicroExaQueries = 3

	MicroNewsLookbackDays    = 365
	MicroFundingLookbackDays = 1825
)

// Micro-research cost estimates in USD
const (
	costExaQuery   = 0.02
	costOpenAIWeb  = 0.05
	costPDLPerson  = 0.10
	costPDLCompany = 0.05
	costOther      = 0.01
	costReanswer   = 0.02

	costSmallBelow    = 0.10
	costModerateBelow = 0.30
)

// aggregatorDomains are excluded from open web searches so follow-ups reach primary sources.
var aggregatorDomains = []string{
	"crunchbase.com", "pitchbook.com", "linkedin.com", "bloomberg.com", "wikipedia.org",
	"glassdoor.com", "zoominfo.com", "apollo.io", "golden.com", "tracxn.com", "owler.com",
}

// Micro task kinds
const (
	taskExaNews        = "exa_news_search"
	taskExaSite        = "exa_site_search"
	taskExaFunding     = "exa_funding_search"
	taskExaPatent      = "exa_patent_search"
	taskExaGeneral     = "exa_general_search"
	taskExaPaper       = "exa_research_paper"
	taskOpenAIWeb      = "openai_web_search"
	taskPDLPerson      = "pdl_person_enrich"
	taskPDLLeadership  = "pdl_company_leadership"
	taskPDLCompany     = "pdl_company_search"
	taskGLEIF          = "gleif_lei_lookup"
	taskOpenAIFounding = "openai_founding"
)

var taskDescriptions = map[string]string{
	taskExaNews:        "Search recent news and press releases",
	taskExaSite:        "Crawl the company website and its subpages",
	taskExaFunding:     "Search funding announcements and investors",
	taskExaPatent:      "Search patent filings and IP records",
	taskExaGeneral:     "Search primary web sources, excluding aggregators",
	taskExaPaper:       "Search academic and technical papers",
	taskOpenAIWeb:      "Web research agent",
	taskPDLPerson:      "Look up the person's background and work history",
	taskPDLLeadership:  "Discover company leadership and executives",
	taskPDLCompany:     "Look up company firmographics",
	taskGLEIF:          "Look up the Legal Entity Identifier in the GLEIF registry",
	taskOpenAIFounding: "Web research agent for legal identity and founding facts",
}

type microTask struct {
	kind string
	hint string
	// mode selects the web agent mode for taskOpenAIWeb
	mode     string
	subpages []string
	// lookback overrides the news window in days
	lookback int
}

var intentTasks = map[types.GapIntent][]microTask{
	types.IntentFundingInvestors: {
		{kind: taskExaFunding},
		{kind: taskPDLCompany},
		{kind: taskExaNews, hint: "funding round investors lead"},
	},
	types.IntentResearchPapers: {
		{kind: taskExaPaper, hint: "paper publication DOI journal"},
		{kind: taskExaGeneral, hint: "research paper academic publication"},
	},
	types.IntentPatents: {
		{kind: taskExaPatent},
		{kind: taskExaPaper, hint: "patent technology innovation"},
	},
	types.IntentFounderBackground: {
		{kind: taskPDLLeadership},
		{kind: taskExaSite, hint: "team founders leadership bio", subpages: []string{"about", "team", "leadership", "founders", "people"}},
	},
	types.IntentCompetitors: {
		{kind: taskOpenAIWeb, mode: "competitors", hint: "competitors alternatives market"},
		{kind: taskExaGeneral, hint: "competitors alternatives versus comparison"},
	},
	types.IntentTechnology: {
		{kind: taskExaSite, hint: "technology platform architecture API", subpages: []string{"technology", "api", "docs", "developers", "platform", "solutions"}},
		{kind: taskExaPaper},
	},
	types.IntentRegulatory: {
		{kind: taskExaNews, hint: "regulatory compliance approval FDA SEC"},
		{kind: taskExaGeneral, hint: "filing certification license"},
	},
	types.IntentRevenue: {
		{kind: taskExaNews, hint: "revenue growth ARR financials earnings"},
		{kind: taskPDLCompany},
	},
	types.IntentLitigation: {
		{kind: taskExaNews, hint: "lawsuit litigation legal dispute court"},
		{kind: taskExaGeneral, hint: "settlement judgment ruling"},
	},
	types.IntentAcquisitions: {
		{kind: taskExaNews, hint: "acquisition merger M&A deal"},
		{kind: taskExaGeneral, hint: "acquired merged"},
	},
	types.IntentLegalEntity: {
		{kind: taskGLEIF},
		{kind: taskOpenAIFounding, hint: "legal entity registration incorporation"},
	},
	types.IntentProgramsContracts: {
		{kind: taskExaGeneral, hint: "program project initiative consortium grant award"},
		{kind: taskExaNews, hint: "government contract award announcement grant program"},
	},
	types.IntentCustomers: {
		{kind: taskExaSite, hint: "customers clients commercial partners case study", subpages: []string{"customers", "case-studies", "success-stories", "partners", "news", "press"}},
		{kind: taskExaNews, hint: "commercial customer client partner deployment contract pilot", lookback: MicroFundingLookbackDays},
		{kind: taskExaGeneral, hint: "commercial customers clients partners case study deployment"},
	},
}

var intentSections = map[types.GapIntent][]types.SectionName{
	types.IntentFundingInvestors:  {types.SectionFundraising},
	types.IntentRevenue:           {types.SectionFundraising, types.SectionExecutiveSummary},
	types.IntentResearchPapers:    {types.SectionTechnology},
	types.IntentPatents:           {types.SectionTechnology},
	types.IntentLitigation:        {types.SectionRecentNews},
	types.IntentFounderBackground: {types.SectionFoundersAndLeadership, types.SectionPersonOverview, types.SectionCareerHistory},
	types.IntentCompetitors:       {types.SectionCompetitors},
	types.IntentTechnology:        {types.SectionTechnology, types.SectionProduct},
	types.IntentRegulatory:        {types.SectionRecentNews, types.SectionTechnology},
	types.IntentAcquisitions:      {types.SectionRecentNews},
	types.IntentProgramsContracts: {types.SectionFundraising, types.SectionRecentNews},
	types.IntentCustomers:         {types.SectionProduct, types.SectionRecentNews},
	types.IntentLegalEntity:       {types.SectionFoundingDetails},
}

// MicroPlan builds at most MaxMicroSteps follow-up steps for a gap in an answer.
// Like Plan it is deterministic and performs no I/O. Steps whose connector is disabled
// or whose provider no section admits are dropped.
func (p *Planner) MicroPlan(target types.TargetInput, caps types.Capabilities, gap types.Gap) ([]types.PlanStep, error) {
	target = target.Normalized()
	if !target.HasIdentity() {
		return nil, &PlanError{Message: "target has no identity to research"}
	}

	tasks := microTasks(gap)
	sections := types.SectionsFor(target.TargetType)
	affinity := intentSections[gap.Intent]

	var steps []types.PlanStep
	exaQueries := 0
	for _, task := range tasks {
		if len(steps) == MaxMicroSteps {
			break
		}
		step, ok := microStep(task, target, gap.Slots, len(steps))
		if !ok || !caps.Enabled(step.ConnectorID) {
			continue
		}
		n := 0
		if step.ConnectorID == types.ConnectorExa {
			n = len(step.Parameters.Strings("queries"))
		}
		if exaQueries+n > MaxMicroExaQueries {
			continue
		}
		step.SectionAffinity = affinity
		served, ok := p.eligibleAffinity(step, sections)
		if !ok {
			continue
		}
		step.SectionAffinity = served
		exaQueries += n
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, &PlanError{Message: fmt.Sprintf("no enabled connector can research %s", gap.Intent)}
	}
	return steps, nil
}

func microTasks(gap types.Gap) []microTask {
	if gap.Intent == types.IntentFounderBackground && gap.Slots.PersonName != "" {
		return []microTask{
			{kind: taskPDLPerson},
			{kind: taskOpenAIWeb, mode: "person_profile", hint: "biography career history education"},
			{kind: taskExaGeneral, hint: "biography career background"},
		}
	}
	if tasks, ok := intentTasks[gap.Intent]; ok {
		return tasks
	}
	return []microTask{{kind: taskExaGeneral}}
}

func microStep(task microTask, target types.TargetInput, slots types.GapSlots, index int) (types.PlanStep, bool) {
	domain := target.Domain()
	subject := target.Subject()
	must := strings.Join(slots.MustInclude[:min(3, len(slots.MustInclude))], " ")
	query := func(parts ...string) []string {
		return []string{joinNonEmpty(append([]string{subject}, append(parts, must)...)...)}
	}
	highlights := firstNonEmptyString(must, task.hint, subject)

	step := types.PlanStep{
		Name:     fmt.Sprintf("micro_%s_%d", task.kind, index),
		Metadata: map[string]string{types.MetaMicroTask: task.kind},
	}
	if task.hint != "" {
		step.Metadata[types.MetaQueryHint] = task.hint
	}

	switch task.kind {
	case taskExaNews:
		lookback := MicroNewsLookbackDays
		if task.lookback > 0 {
			lookback = task.lookback
		}
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query(firstNonEmptyString(task.hint, "news announcement")),
			"category":         "news",
			"lookback_days":    lookback,
			"num_results":      10,
			"highlights_query": highlights,
			"exclude_domains":  aggregatorDomains,
		}
	case taskExaSite:
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query(firstNonEmptyString(task.hint, "about team company")),
			"category":         "company",
			"num_results":      10,
			"subpages":         3,
			"subpage_targets":  firstNonEmptySlice(task.subpages, siteSubpageTargets),
			"highlights_query": highlights,
		}
		if domain != "" {
			step.Parameters["include_domains"] = []string{domain}
		}
	case taskExaFunding:
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query("funding", slots.Round, "investors raised"),
			"category":         "news",
			"lookback_days":    MicroFundingLookbackDays,
			"num_results":      12,
			"highlights_query": "funding round investors lead investor amount raised valuation post-money",
			"exclude_domains":  aggregatorDomains,
		}
	case taskExaPatent:
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query("patent filing IP intellectual property", task.hint),
			"category":         "company",
			"num_results":      10,
			"highlights_query": firstNonEmptyString(must, "patent number US EP WO filing date inventor assignee claims granted"),
		}
	case taskExaGeneral:
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query(task.hint),
			"num_results":      10,
			"highlights_query": highlights,
			"exclude_domains":  aggregatorDomains,
		}
	case taskExaPaper:
		step.ConnectorID, step.Operation = types.ConnectorExa, "search"
		step.Parameters = types.StepParams{
			"mode":             "search",
			"queries":          query(firstNonEmptyString(task.hint, "research paper study")),
			"category":         "research paper",
			"num_results":      8,
			"highlights_query": firstNonEmptyString(task.hint, "methodology results findings conclusions data"),
		}
	case taskOpenAIWeb, taskOpenAIFounding:
		mode := task.mode
		if task.kind == taskOpenAIFounding {
			mode = "founding"
		}
		if mode == "person_profile" && slots.PersonName == "" {
			return types.PlanStep{}, false
		}
		if mode != "person_profile" && target.CompanyName == "" && domain == "" {
			return types.PlanStep{}, false
		}
		step.ConnectorID, step.Operation = types.ConnectorOpenAIWeb, mode
		step.Parameters = types.StepParams{
			"mode":         mode,
			"company_name": target.CompanyName,
			"website":      target.Website,
			"context":      joinNonEmpty(target.Context, task.hint),
		}
		if mode == "person_profile" {
			step.Parameters["person_name"] = slots.PersonName
		}
	case taskPDLPerson:
		if slots.PersonName == "" {
			return types.PlanStep{}, false
		}
		step.ConnectorID, step.Operation = types.ConnectorPDL, "person_enrich"
		step.Parameters = types.StepParams{"person_name": slots.PersonName}
		if target.CompanyName != "" {
			step.Parameters["company_name"] = target.CompanyName
		}
		if domain != "" {
			step.Parameters["company_domain"] = domain
		}
	case taskPDLLeadership, taskPDLCompany:
		identity := types.StepParams{}
		if domain != "" {
			identity["company_domain"] = domain
		}
		if target.CompanyName != "" {
			identity["company_name"] = target.CompanyName
		}
		if len(identity) == 0 {
			return types.PlanStep{}, false
		}
		step.Parameters = identity
		if task.kind == taskPDLLeadership {
			step.ConnectorID, step.Operation = types.ConnectorPDL, "people_search"
		} else {
			step.ConnectorID, step.Operation = types.ConnectorPDLCompany, "enrich"
		}
	case taskGLEIF:
		if target.CompanyName == "" && target.LEI == "" {
			return types.PlanStep{}, false
		}
		step.ConnectorID, step.Operation = types.ConnectorGLEIF, "lookup"
		step.Parameters = types.StepParams{"company_name": target.CompanyName}
		if target.LEI != "" {
			step.Parameters["lei"] = target.LEI
		}
		if target.CountryCode != "" {
			step.Parameters["country_code"] = target.CountryCode
		}
		if domain != "" {
			step.Parameters["company_domain"] = domain
		}
	default:
		return types.PlanStep{}, false
	}
	return step, true
}

// EstimateMicroPlan returns the expected cost of running steps and re-answering,
// with a label of small, moderate or large.
func EstimateMicroPlan(steps []types.PlanStep) (float64, string) {
	total := costReanswer
	for _, s := range steps {
		switch s.ConnectorID {
		case types.ConnectorExa:
			total += costExaQuery * float64(max(1, len(s.Parameters.Strings("queries"))))
		case types.ConnectorOpenAIWeb:
			total += costOpenAIWeb
		case types.ConnectorPDL:
			total += costPDLPerson
		case types.ConnectorPDLCompany:
			total += costPDLCompany
		case types.ConnectorGLEIF:
		default:
			total += costOther
		}
	}
	switch {
	case total < costSmallBelow:
		return total, "small"
	case total < costModerateBelow:
		return total, "moderate"
	default:
		return total, "large"
	}
}

// MicroPlanMarkdown renders the gap and the proposed steps for user confirmation.
func MicroPlanMarkdown(gap types.Gap, steps []types.PlanStep) string {
	if len(steps) == 0 {
		return "No additional research tasks proposed."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Gap:** %s\n\n**Proposed research:**\n", gap.Statement)
	for i, s := range steps {
		task := s.Metadata[types.MetaMicroTask]
		desc := taskDescriptions[task]
		if desc == "" {
			desc = s.Name
		}
		fmt.Fprintf(&b, "%d. %s", i+1, desc)
		if hint := s.Metadata[types.MetaQueryHint]; hint != "" {
			fmt.Fprintf(&b, " - _%s_", hint)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func firstNonEmptyString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptySlice(vals ...[]string) []string {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}
