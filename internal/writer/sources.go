package writer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// NoSourcesText is the sources section of a brief with no sources
const NoSourcesText = "No sources were captured for this brief."

// SourcesSection renders the citation list shown at the end of the brief.
func SourcesSection(citations []types.Citation) string {
	if len(citations) == 0 {
		return NoSourcesText
	}
	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		host := types.ExtractDomain(c.URL)
		if host == "" {
			host = c.Provider
		}
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = "Untitled source"
		}
		line := fmt.Sprintf("- **[S%d] %s – %s:** See cited passages in the brief.", c.ID, title, host)
		if c.URL != "" {
			line += " " + c.URL
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Reduce assembles the drafted sections into a brief. UsedCitations and the sources
// text cover the sources cited by surviving text; AllCitations covers every source.
func Reduce(jobID uuid.UUID, sections []types.BriefSection, sources *types.SourceTable, now time.Time) *types.Brief {
	seen := make(map[int]bool)
	cited := []int{}
	for _, s := range sections {
		for _, id := range s.CitedIDs {
			if !seen[id] && sources.Has(id) {
				seen[id] = true
				cited = append(cited, id)
			}
		}
	}
	sort.Ints(cited)

	used := sources.Citations(cited)
	if used == nil {
		used = []types.Citation{}
	}
	all := sources.Citations(nil)
	return &types.Brief{
		JobID:         jobID,
		Sections:      sections,
		UsedCitations: used,
		AllCitations:  all,
		SourcesText:   SourcesSection(used),
		CreatedAt:     now.UTC(),
	}
}
