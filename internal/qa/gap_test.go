package qa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var acme = types.TargetInput{CompanyName: "Acme Robotics", TargetType: types.TargetCompany}

func TestDetectGap(t *testing.T) {
	longAnswer := strings.Repeat("Acme ships robot arms to warehouses [S1]. ", 60) +
		"The lead investor is not disclosed in available sources."

	tests := []struct {
		name           string
		question       string
		answer         string
		usedSources    int
		wantFound      bool
		wantMethod     string
		wantIntent     types.GapIntent
		wantConfidence float64
		wantStatement  string
	}{
		{
			name:           "explicit request",
			question:       "Can you search for their Series B investors?",
			answer:         "Acme raised a Series B [S1].",
			usedSources:    1,
			wantFound:      true,
			wantMethod:     types.GapExplicitRequest,
			wantIntent:     types.IntentFundingInvestors,
			wantConfidence: 0.95,
			wantStatement:  `User requested additional research: "Can you search for their Series B investors?"`,
		},
		{
			name:           "answer admits a gap",
			question:       "Who led the seed round?",
			answer:         "The lead investor is not disclosed in available sources.",
			usedSources:    2,
			wantFound:      true,
			wantMethod:     types.GapPhraseMatch,
			wantIntent:     types.IntentFundingInvestors,
			wantConfidence: 0.7,
			wantStatement:  "Investor and funding details not fully covered in available sources.",
		},
		{
			name:        "complete answer",
			question:    "Who led the seed round?",
			answer:      "The seed round was led by Example Ventures [S2].",
			usedSources: 2,
		},
		{
			name:        "comprehensive answer suppresses the gap",
			question:    "Who led the seed round?",
			answer:      longAnswer,
			usedSources: 8,
		},
		{
			name:           "registry question overrides comprehensiveness",
			question:       "What does the patent database show for Acme?",
			answer:         longAnswer,
			usedSources:    8,
			wantFound:      true,
			wantMethod:     types.GapPhraseMatch,
			wantIntent:     types.IntentPatents,
			wantConfidence: 0.7,
			wantStatement:  "Patent and intellectual property information not fully covered in available sources.",
		},
		{
			name:           "legal entity",
			question:       "Where is Acme incorporated and what is its LEI?",
			answer:         "The LEI is not found in available sources.",
			usedSources:    3,
			wantFound:      true,
			wantMethod:     types.GapPhraseMatch,
			wantIntent:     types.IntentLegalEntity,
			wantConfidence: 0.6,
			wantStatement:  "Legal entity and registration details not fully covered in available sources.",
		},
		{
			name:           "no intent keywords",
			question:       "Anything else worth knowing?",
			answer:         "No information available beyond the brief.",
			usedSources:    1,
			wantFound:      true,
			wantMethod:     types.GapPhraseMatch,
			wantIntent:     types.IntentGeneral,
			wantConfidence: 0.6,
			wantStatement:  "Some requested information is not present in available sources.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gap, found := DetectGap(tt.question, tt.answer, tt.usedSources, acme)
			require.Equal(t, tt.wantFound, found)
			if !found {
				return
			}
			assert.Equal(t, tt.wantMethod, gap.Method)
			assert.Equal(t, tt.wantIntent, gap.Intent)
			assert.InDelta(t, tt.wantConfidence, gap.Confidence, 1e-9)
			assert.Equal(t, tt.wantStatement, gap.Statement)
			assert.NotEmpty(t, gap.Phrases)
		})
	}
}

func TestDetectGap_ExplicitStatementShortened(t *testing.T) {
	question := "Please search " + strings.Repeat("background ", 20)
	gap, found := DetectGap(question, "", 0, acme)
	require.True(t, found)
	assert.True(t, strings.HasSuffix(gap.Statement, `..."`))
	assert.Less(t, len(gap.Statement), 160)
}

func TestDetectGap_ConfidenceCapped(t *testing.T) {
	answer := "Not disclosed in available sources. No data available. Unable to find a filing. " +
		"No explicit mention of the round. Could not be determined."
	gap, found := DetectGap("Who invested?", answer, 1, acme)
	require.True(t, found)
	assert.InDelta(t, maxPhraseMatchConfidence, gap.Confidence, 1e-9)
}

func TestExtractSlots(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     types.GapSlots
	}{
		{
			name:     "possessive person name and years",
			question: "What was Jane Doe's role at Acme in 2021 and 2019?",
			want:     types.GapSlots{Years: []string{"2019", "2021"}, PersonName: "Jane Doe"},
		},
		{
			name:     "round normalized",
			question: "Who led the Series  A?",
			want:     types.GapSlots{Round: "series a"},
		},
		{
			name:     "upper-case jurisdiction",
			question: "Is it registered in the UK?",
			want:     types.GapSlots{Jurisdiction: "uk"},
		},
		{
			name:     "named jurisdiction",
			question: "Is it registered in australia?",
			want:     types.GapSlots{Jurisdiction: "australia"},
		},
		{
			name:     "target name is not a person",
			question: "What did Acme Robotics announce?",
			want:     types.GapSlots{},
		},
		{
			name:     "quoted terms and acronyms",
			question: `did "atlas arm" get funded by DARPA or the CEO?`,
			want:     types.GapSlots{MustInclude: []string{"atlas arm", "DARPA"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSlots(tt.question, acme))
		})
	}
}

func TestPersonName_SkipsQuestionWords(t *testing.T) {
	assert.Equal(t, "Jane Doe", personName("Who Is Jane Doe at Acme?", acme))
	assert.Equal(t, "", personName("Who Is the founder?", acme))
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		question string
		want     types.GapIntent
	}{
		{"How much revenue and ARR do they have?", types.IntentRevenue},
		{"Were they sued for patent infringement in court?", types.IntentLitigation},
		{"Which competitors have more market share?", types.IntentCompetitors},
		{"Did they win a DARPA grant?", types.IntentProgramsContracts},
		{"What is the weather like?", types.IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, detectIntent(tt.question))
		})
	}
}
