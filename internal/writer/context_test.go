package writer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/resolution"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

func contextGraph() *resolution.KnowledgeGraph {
	return &resolution.KnowledgeGraph{
		TargetType: types.TargetCompany,
		Company: &resolution.Company{
			Name:   "Acme",
			Domain: "acme.com",
			Attributes: map[string]resolution.Attribute{
				types.AttrHQ:          {Value: "London", Provider: types.ProviderGLEIF, SourceIDs: []int{1, 5}},
				types.AttrFoundedYear: {Value: "2015", Provider: types.ProviderPDLCompany, SourceIDs: []int{5}},
			},
		},
		People: []resolution.Person{
			{FullName: "Jane Doe", Roles: []string{"CEO"}, IdentitySource: types.ProviderPDL, SourceIDs: []int{2}},
			{FullName: "John Roe", Roles: []string{"CTO"}, IdentitySource: types.ProviderPDL, SourceIDs: []int{1, 2}},
		},
		Funding: []resolution.FundingRound{
			{FundingRound: types.FundingRound{Type: "Series A", Amount: "20000000"}, Providers: []string{types.ProviderExa}, SourceIDs: []int{1}},
		},
		Conflicts: []resolution.Conflict{{
			Attribute: types.AttrHQ,
			Winner:    resolution.Candidate{Value: "London", Provider: types.ProviderGLEIF, SourceIDs: []int{1}},
			Losers:    []resolution.Candidate{{Value: "Berlin", Provider: types.ProviderExa, SourceIDs: []int{7}}},
		}},
	}
}

func TestBuildContext_RestrictsToBundle(t *testing.T) {
	out, err := BuildContext(contextGraph(), []int{1})
	require.NoError(t, err)

	var got sectionContext
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	require.NotNil(t, got.Company)
	assert.Equal(t, "acme.com", got.Company.Domain)
	require.Contains(t, got.Company.Attributes, types.AttrHQ)
	assert.Equal(t, []int{1}, got.Company.Attributes[types.AttrHQ].SourceIDs)
	assert.NotContains(t, got.Company.Attributes, types.AttrFoundedYear)

	require.Len(t, got.People, 1)
	assert.Equal(t, "John Roe", got.People[0].FullName)
	assert.Equal(t, []int{1}, got.People[0].SourceIDs)

	require.Len(t, got.Funding, 1)
	assert.Equal(t, "Series A", got.Funding[0].Type)

	assert.Empty(t, got.Conflicts, "a conflict whose loser is outside the bundle is not shown")
}

func TestBuildContext_ConflictWithinBundle(t *testing.T) {
	out, err := BuildContext(contextGraph(), []int{1, 7})
	require.NoError(t, err)

	var got sectionContext
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, "London", got.Conflicts[0].Chosen.Value)
	assert.Equal(t, "Berlin", got.Conflicts[0].Rejected[0].Value)
}

func TestBuildContext_NilGraph(t *testing.T) {
	out, err := BuildContext(nil, []int{1})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}
