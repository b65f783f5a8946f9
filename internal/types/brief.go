package types

import (
	"time"

	"github.com/google/uuid"
)

// SectionStatus records how a section was produced
type SectionStatus string

// Section outcomes
const (
	SectionDrafted    SectionStatus = "drafted"
	SectionUnverified SectionStatus = "unverified"
	SectionEmpty      SectionStatus = "empty"
	SectionFailed     SectionStatus = "failed"
)

// NotEnoughData is the placeholder body for sections with no eligible sources.
const NotEnoughData = "Not enough data found."

// BriefSection is one drafted section of the brief
type BriefSection struct {
	Name          SectionName   `json:"name"`
	Markdown      string        `json:"markdown_text"`
	UsedSourceIDs []int         `json:"used_source_ids"`
	CitedIDs      []int         `json:"cited_source_ids"`
	Status        SectionStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
}

// Brief is the final research artifact for a COMPLETED job
type Brief struct {
	JobID         uuid.UUID      `json:"job_id"`
	Sections      []BriefSection `json:"sections"`
	UsedCitations []Citation     `json:"used_citations"`
	AllCitations  []Citation     `json:"all_citations"`
	SourcesText   string         `json:"sources_markdown"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AllSectionsFailed reports whether every section that had sources to draft from failed.
// A brief whose sections were all empty has not failed.
func (b *Brief) AllSectionsFailed() bool {
	attempted := 0
	for _, s := range b.Sections {
		switch s.Status {
		case SectionEmpty:
		case SectionFailed:
			attempted++
		default:
			return false
		}
	}
	return attempted > 0
}

// Section returns the named section
func (b *Brief) Section(name SectionName) (BriefSection, bool) {
	for _, s := range b.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return BriefSection{}, false
}

// BriefDocument is the persisted and served shape: section name to markdown plus citation lists.
type BriefDocument struct {
	Sections      map[string]string `json:"sections"`
	UsedCitations []Citation        `json:"used_citations"`
	AllCitations  []Citation        `json:"all_citations"`
}

// Document projects the brief into its persisted shape
func (b *Brief) Document() BriefDocument {
	doc := BriefDocument{
		Sections:      make(map[string]string, len(b.Sections)+1),
		UsedCitations: b.UsedCitations,
		AllCitations:  b.AllCitations,
	}
	for _, s := range b.Sections {
		if s.Status == SectionFailed {
			continue
		}
		doc.Sections[string(s.Name)] = s.Markdown
	}
	if b.SourcesText != "" {
		doc.Sections["sources"] = b.SourcesText
	}
	if doc.UsedCitations == nil {
		doc.UsedCitations = []Citation{}
	}
	if doc.AllCitations == nil {
		doc.AllCitations = []Citation{}
	}
	return doc
}
