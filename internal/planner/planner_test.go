package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var stripe = types.TargetInput{CompanyName: "Stripe", Website: "stripe.com"}

func allCapabilities() types.Capabilities {
	return types.NewCapabilities(types.AllConnectors()...)
}

func stepNames(steps []types.PlanStep) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestPlan_ScenarioA(t *testing.T) {
	caps := types.NewCapabilities(types.ConnectorExa, types.ConnectorGLEIF, types.ConnectorPDL)

	steps, err := Plan(stripe, caps)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"search_exa_site",
		"search_exa_fundraising",
		"search_exa_deep_evidence",
		"search_exa_news",
		"gleif_lookup",
		"pdl_people_discovery",
	}, stepNames(steps))

	for _, s := range steps {
		assert.NotContains(t, []types.ConnectorID{
			types.ConnectorPitchBook, types.ConnectorApollo,
			types.ConnectorCompaniesHouse, types.ConnectorOpenCorporates,
		}, s.ConnectorID)
		assert.False(t, s.IsFallback())
	}

	site := steps[0]
	assert.Equal(t, []string{"stripe.com"}, site.Parameters.Strings("include_domains"))
	assert.Len(t, site.Parameters.Strings("queries"), 3)
	assert.Contains(t, site.Parameters.Strings("queries")[0], "Stripe stripe.com company overview")

	people := steps[5]
	assert.Equal(t, []types.SectionName{types.SectionFoundersAndLeadership}, people.SectionAffinity)
}

func TestPlan_Deterministic(t *testing.T) {
	target := types.TargetInput{CompanyName: "Acme Robotics", Website: "https://www.acme.io", Context: "industrial arms for warehouses", CountryCode: "us"}
	caps := allCapabilities()

	first, err := Plan(target, caps)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Plan(target, caps)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPlan_NoDatesInParameters(t *testing.T) {
	steps, err := Plan(stripe, allCapabilities())
	require.NoError(t, err)

	news := findStep(steps, "search_exa_news")
	require.NotNil(t, news)
	assert.Equal(t, NewsLookbackDays, news.Parameters.Int("lookback_days", 0))
	_, hasDate := news.Parameters["start_published_date"]
	assert.False(t, hasDate)

	funding := findStep(steps, "search_exa_fundraising")
	require.NotNil(t, funding)
	assert.Equal(t, FundingLookbackDays, funding.Parameters.Int("lookback_days", 0))
}

func TestPlan_TruncatesToMaxSteps(t *testing.T) {
	steps, err := Plan(stripe, allCapabilities())
	require.NoError(t, err)
	assert.Len(t, steps, MaxPlannerSteps)
	assert.Equal(t, "search_exa_site", steps[0].Name)
	assert.Equal(t, "pitchbook_fundraising", steps[MaxPlannerSteps-1].Name)
}

func TestPlan_FallbackWhenGLEIFDisabled(t *testing.T) {
	caps := allCapabilities()
	caps[types.ConnectorGLEIF] = false

	steps, err := Plan(stripe, caps)
	require.NoError(t, err)

	regular := 0
	for _, s := range steps {
		if !s.IsFallback() {
			regular++
		}
	}
	assert.Equal(t, MaxPlannerSteps, regular)

	last := steps[len(steps)-1]
	assert.Equal(t, FoundingFallbackStep, last.Name)
	assert.True(t, last.IsFallback())
	assert.NotEmpty(t, last.Metadata[types.MetaFallbackReason])
	assert.Equal(t, []types.SectionName{types.SectionFoundingDetails}, last.SectionAffinity)
}

func TestPlan_NoFallbackWithoutOpenAI(t *testing.T) {
	caps := types.NewCapabilities(types.ConnectorExa)
	steps, err := Plan(stripe, caps)
	require.NoError(t, err)
	for _, s := range steps {
		assert.False(t, s.IsFallback())
	}
}

func TestPlan_ApolloOnlyWhenPDLDisabled(t *testing.T) {
	caps := types.NewCapabilities(types.ConnectorExa, types.ConnectorApollo)
	steps, err := Plan(stripe, caps)
	require.NoError(t, err)
	assert.NotNil(t, findStep(steps, "apollo_people"))
	assert.Nil(t, findStep(steps, "pdl_people_discovery"))

	caps[types.ConnectorPDL] = true
	steps, err = Plan(stripe, caps)
	require.NoError(t, err)
	assert.Nil(t, findStep(steps, "apollo_people"))
	assert.NotNil(t, findStep(steps, "pdl_people_discovery"))
}

func TestPlan_ExaSiteWithoutDomain(t *testing.T) {
	steps, err := Plan(types.TargetInput{CompanyName: "Obscure Ltd"}, types.NewCapabilities(types.ConnectorExa, types.ConnectorWebsite))
	require.NoError(t, err)
	site := findStep(steps, "search_exa_site")
	require.NotNil(t, site)
	_, ok := site.Parameters["include_domains"]
	assert.False(t, ok)
	assert.Nil(t, findStep(steps, "website_fetch"))
}

func TestPlan_PersonTarget(t *testing.T) {
	target := types.TargetInput{PersonName: "Patrick Collison", CompanyName: "Stripe", TargetType: types.TargetPerson}
	caps := types.NewCapabilities(types.ConnectorExa, types.ConnectorPDL, types.ConnectorOpenAIWeb, types.ConnectorGLEIF)

	steps, err := Plan(target, caps)
	require.NoError(t, err)
	assert.Equal(t, []string{"pdl_person_enrich", "search_exa_person", "openai_person_profile"}, stepNames(steps))
	assert.Equal(t, []types.SectionName{types.SectionPersonOverview, types.SectionRecentNews}, steps[1].SectionAffinity)
}

func TestPlan_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target types.TargetInput
		caps   types.Capabilities
	}{
		{"no identity", types.TargetInput{Context: "something"}, allCapabilities()},
		{"nothing enabled", stripe, types.NewCapabilities()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := Plan(tt.target, tt.caps)
			require.Error(t, err)
			assert.Empty(t, steps)
			var pe *PlanError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestExaQueriesCapped(t *testing.T) {
	q := buildExaQueries("X", "")
	capped := q.capped(4)
	assert.Len(t, capped.site, 3)
	assert.Len(t, capped.funding, 1)
	assert.Empty(t, capped.deep)
	assert.Empty(t, capped.news)

	full := q.capped(MaxExaQueries)
	assert.Len(t, full.news, 2)
}

func TestContextHint(t *testing.T) {
	assert.Equal(t, "", contextHint("   "))
	assert.Equal(t, " a b", contextHint(" a\n b "))
	long := ""
	for i := 0; i < 30; i++ {
		long += "w "
	}
	assert.Len(t, contextHint(long), 40)
}

func TestFoundingFallback(t *testing.T) {
	caps := types.NewCapabilities(types.ConnectorExa, types.ConnectorGLEIF, types.ConnectorOpenAIWeb)

	tests := []struct {
		name    string
		caps    types.Capabilities
		results []types.ConnectorResult
		want    bool
		reason  string
	}{
		{
			name: "gleif found entity",
			caps: caps,
			results: []types.ConnectorResult{{
				StepName: "gleif_lookup", ConnectorID: types.ConnectorGLEIF, Status: types.StatusOK,
				Records: []types.Record{{Kind: types.RecordLegalEntity}},
			}},
			want: false,
		},
		{
			name: "gleif empty",
			caps: caps,
			results: []types.ConnectorResult{{
				StepName: "gleif_lookup", ConnectorID: types.ConnectorGLEIF, Status: types.StatusOK,
			}},
			want:   true,
			reason: "no match",
		},
		{
			name: "gleif timeout",
			caps: caps,
			results: []types.ConnectorResult{{
				StepName: "gleif_lookup", ConnectorID: types.ConnectorGLEIF, Status: types.StatusTimeout,
			}},
			want:   true,
			reason: "timed out",
		},
		{
			name: "already ran",
			caps: caps,
			results: []types.ConnectorResult{
				{StepName: "gleif_lookup", ConnectorID: types.ConnectorGLEIF, Status: types.StatusOK},
				{StepName: FoundingFallbackStep, ConnectorID: types.ConnectorOpenAIWeb, Status: types.StatusOK, Fallback: true},
			},
			want: false,
		},
		{
			name:    "openai disabled",
			caps:    types.NewCapabilities(types.ConnectorGLEIF),
			results: []types.ConnectorResult{{StepName: "gleif_lookup", ConnectorID: types.ConnectorGLEIF, Status: types.StatusError}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, ok := FoundingFallback(stripe, tt.caps, tt.results)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.True(t, step.IsFallback())
				assert.Contains(t, step.Metadata[types.MetaFallbackReason], tt.reason)
				assert.Equal(t, "founding", step.Parameters.String("mode"))
			}
		})
	}
}

func findStep(steps []types.PlanStep, name string) *types.PlanStep {
	for i := range steps {
		if steps[i].Name == name {
			return &steps[i]
		}
	}
	return nil
}
