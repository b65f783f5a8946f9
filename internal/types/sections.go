package types

// SectionName identifies a brief section
type SectionName string

// Company brief sections
const (
	SectionExecutiveSummary      SectionName = "executive_summary"
	SectionFoundingDetails       SectionName = "founding_details"
	SectionFoundersAndLeadership SectionName = "founders_and_leadership"
	SectionFundraising           SectionName = "fundraising"
	SectionProduct               SectionName = "product"
	SectionTechnology            SectionName = "technology"
	SectionCompetitors           SectionName = "competitors"
	SectionRecentNews            SectionName = "recent_news"
)

// Person brief sections
const (
	SectionPersonOverview SectionName = "person_overview"
	SectionCareerHistory  SectionName = "career_history"
)

// CompanySections is the brief order for company targets.
func CompanySections() []SectionName {
	return []SectionName{
		SectionExecutiveSummary,
		SectionFoundingDetails,
		SectionFoundersAndLeadership,
		SectionFundraising,
		SectionProduct,
		SectionTechnology,
		SectionCompetitors,
		SectionRecentNews,
	}
}

// PersonSections is the brief order for person targets.
func PersonSections() []SectionName {
	return []SectionName{
		SectionPersonOverview,
		SectionCareerHistory,
		SectionRecentNews,
	}
}

// SectionsFor returns the section order for a target type.
func SectionsFor(t TargetType) []SectionName {
	if t == TargetPerson {
		return PersonSections()
	}
	return CompanySections()
}
