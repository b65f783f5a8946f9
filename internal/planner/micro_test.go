package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

func TestMicroPlan(t *testing.T) {
	tests := []struct {
		name      string
		caps      types.Capabilities
		gap       types.Gap
		wantSteps []string
	}{
		{
			name: "funding",
			caps: allCapabilities(),
			gap:  types.Gap{Intent: types.IntentFundingInvestors, Slots: types.GapSlots{Round: "series b"}},
			wantSteps: []string{
				"micro_exa_funding_search_0",
				"micro_pdl_company_search_1",
				"micro_exa_news_search_2",
			},
		},
		{
			name: "named founder",
			caps: allCapabilities(),
			gap:  types.Gap{Intent: types.IntentFounderBackground, Slots: types.GapSlots{PersonName: "Patrick Collison"}},
			wantSteps: []string{
				"micro_pdl_person_enrich_0",
				"micro_openai_web_search_1",
				"micro_exa_general_search_2",
			},
		},
		{
			name: "disabled connectors are skipped",
			caps: types.NewCapabilities(types.ConnectorExa),
			gap:  types.Gap{Intent: types.IntentFounderBackground, Slots: types.GapSlots{PersonName: "Patrick Collison"}},
			wantSteps: []string{
				"micro_exa_general_search_0",
			},
		},
		{
			name: "legal entity",
			caps: allCapabilities(),
			gap:  types.Gap{Intent: types.IntentLegalEntity},
			wantSteps: []string{
				"micro_gleif_lei_lookup_0",
				"micro_openai_founding_1",
			},
		},
		{
			name: "general falls back to web search",
			caps: allCapabilities(),
			gap:  types.Gap{Intent: types.IntentGeneral},
			wantSteps: []string{
				"micro_exa_general_search_0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := New(nil).MicroPlan(stripe, tt.caps, tt.gap)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSteps, stepNames(steps))
			assert.LessOrEqual(t, len(steps), MaxMicroSteps)

			exa := 0
			for _, s := range steps {
				assert.NotEmpty(t, s.SectionAffinity, s.Name)
				assert.NotEmpty(t, s.Metadata[types.MetaMicroTask], s.Name)
				if s.ConnectorID == types.ConnectorExa {
					exa += len(s.Parameters.Strings("queries"))
				}
			}
			assert.LessOrEqual(t, exa, MaxMicroExaQueries)
		})
	}
}

func TestMicroPlan_Parameters(t *testing.T) {
	gap := types.Gap{
		Intent: types.IntentFundingInvestors,
		Slots:  types.GapSlots{Round: "series b", MustInclude: []string{"Sequoia"}},
	}
	steps, err := New(nil).MicroPlan(stripe, allCapabilities(), gap)
	require.NoError(t, err)

	funding := steps[0]
	assert.Equal(t, types.ConnectorExa, funding.ConnectorID)
	assert.Equal(t, []string{"Stripe stripe.com funding series b investors raised Sequoia"}, funding.Parameters.Strings("queries"))
	assert.Equal(t, MicroFundingLookbackDays, funding.Parameters.Int("lookback_days", 0))
	assert.Contains(t, funding.Parameters.Strings("exclude_domains"), "crunchbase.com")

	company := steps[1]
	assert.Equal(t, types.ConnectorPDLCompany, company.ConnectorID)
	assert.Equal(t, "stripe.com", company.Parameters.String("company_domain"))
	assert.Equal(t, []types.SectionName{types.SectionFundraising}, company.SectionAffinity)

	news := steps[2]
	assert.Equal(t, MicroNewsLookbackDays, news.Parameters.Int("lookback_days", 0))
	assert.Equal(t, "funding round investors lead", news.Metadata[types.MetaQueryHint])
}

func TestMicroPlan_NoEligibleConnector(t *testing.T) {
	_, err := New(nil).MicroPlan(stripe, types.NewCapabilities(types.ConnectorApollo), types.Gap{Intent: types.IntentLegalEntity})
	var perr *PlanError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "legal_entity")
}

func TestMicroPlan_NoIdentity(t *testing.T) {
	_, err := New(nil).MicroPlan(types.TargetInput{}, allCapabilities(), types.Gap{Intent: types.IntentGeneral})
	var perr *PlanError
	assert.ErrorAs(t, err, &perr)
}

func TestEstimateMicroPlan(t *testing.T) {
	tests := []struct {
		name      string
		steps     []types.PlanStep
		wantUSD   float64
		wantLabel string
	}{
		{
			name:      "empty plan still re-answers",
			wantUSD:   costReanswer,
			wantLabel: "small",
		},
		{
			name: "one exa query and one company lookup",
			steps: []types.PlanStep{
				{ConnectorID: types.ConnectorExa, Parameters: types.StepParams{"queries": []string{"q"}}},
				{ConnectorID: types.ConnectorPDLCompany},
			},
			wantUSD:   0.09,
			wantLabel: "small",
		},
		{
			name: "person enrich and web agent",
			steps: []types.PlanStep{
				{ConnectorID: types.ConnectorPDL},
				{ConnectorID: types.ConnectorOpenAIWeb},
			},
			wantUSD:   0.17,
			wantLabel: "moderate",
		},
		{
			name: "large",
			steps: []types.PlanStep{
				{ConnectorID: types.ConnectorPDL},
				{ConnectorID: types.ConnectorPDL},
				{ConnectorID: types.ConnectorOpenAIWeb},
				{ConnectorID: types.ConnectorOpenAIWeb},
			},
			wantUSD:   0.32,
			wantLabel: "large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usd, label := EstimateMicroPlan(tt.steps)
			assert.InDelta(t, tt.wantUSD, usd, 1e-9)
			assert.Equal(t, tt.wantLabel, label)
		})
	}
}

func TestMicroPlanMarkdown(t *testing.T) {
	gap := types.Gap{Statement: "Investor and funding details not fully covered in available sources."}
	steps := []types.PlanStep{
		{Name: "micro_exa_news_search_0", Metadata: map[string]string{types.MetaMicroTask: taskExaNews, types.MetaQueryHint: "funding round"}},
		{Name: "custom", Metadata: map[string]string{}},
	}

	md := MicroPlanMarkdown(gap, steps)
	assert.Equal(t, "**Gap:** Investor and funding details not fully covered in available sources.\n\n"+
		"**Proposed research:**\n"+
		"1. Search recent news and press releases - _funding round_\n"+
		"2. custom", md)

	assert.Equal(t, "No additional research tasks proposed.", MicroPlanMarkdown(gap, nil))
}
