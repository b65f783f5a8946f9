package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

func TestDefault_CoversAllSections(t *testing.T) {
	table := Default()
	for _, name := range append(types.CompanySections(), types.PersonSections()...) {
		_, ok := table.Section(name)
		assert.True(t, ok, "missing policy for %s", name)
	}
}

func TestDefault_Whitelist(t *testing.T) {
	table := Default()

	tests := []struct {
		section  types.SectionName
		provider string
		want     bool
	}{
		{types.SectionExecutiveSummary, "anything", true},
		{types.SectionFoundersAndLeadership, "pdl", true},
		{types.SectionFoundersAndLeadership, "exa", false},
		{types.SectionFoundersAndLeadership, "openai-web", false},
		{types.SectionFoundingDetails, "gleif", true},
		{types.SectionFoundingDetails, "OpenAI_Web", true},
		{types.SectionFundraising, "pitchbook", true},
		{types.SectionFundraising, "openai-web", false},
		{types.SectionRecentNews, "exa", true},
		{types.SectionRecentNews, "pdl", false},
		{"unknown_section", "exa", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.section)+"/"+tt.provider, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Allows(tt.section, tt.provider))
		})
	}
}

func TestDefault_Flags(t *testing.T) {
	table := Default()

	news, _ := table.Section(types.SectionRecentNews)
	assert.True(t, news.RecentOnly)
	assert.True(t, news.NumericHeavy)

	tech, _ := table.Section(types.SectionTechnology)
	assert.True(t, tech.PatentFilter)

	product, _ := table.Section(types.SectionProduct)
	assert.False(t, product.NumericHeavy)

	exec, _ := table.Section(types.SectionExecutiveSummary)
	assert.True(t, exec.AllowsAll())
}

func TestSectionsServedBy(t *testing.T) {
	table := Default()
	got := table.SectionsServedBy(types.ConnectorPDLCompany, []types.SectionName{
		types.SectionFoundingDetails, types.SectionFundraising, types.SectionProduct,
	})
	assert.Equal(t, []types.SectionName{types.SectionFoundingDetails, types.SectionFundraising}, got)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("sections: [this is: not valid"))
	require.Error(t, err)
	var le *LoadError
	assert.ErrorAs(t, err, &le)

	_, err = Parse([]byte("sections:\n  - name: a\n    providers: [exa]\n  - name: a\n    providers: [exa]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("sections:\n  - name: a\n"))
	assert.Error(t, err)
}
