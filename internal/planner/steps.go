package planner

import (
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// siteSubpageTargets are the subpages Exa should prioritise when crawling the company site.
var siteSubpageTargets = []string{
	"about", "company", "team", "leadership", "management", "people", "founders", "board",
	"partners", "portfolio", "investments", "companies", "product", "products", "solutions",
	"platform", "technology", "engineering", "tech", "docs", "documentation", "developers",
	"api", "blog", "news", "press", "careers",
}

type exaQueries struct {
	site, funding, deep, news []string
}

func buildExaQueries(subject, hint string) exaQueries {
	return exaQueries{
		site: []string{
			subject + " company overview legal entity name incorporation date registration number ABN ACN EIN VAT company number headquarters jurisdiction spin-out origin founding story corporate history" + hint,
			subject + " founders leadership team executives board of directors biographies backgrounds prior companies track record" + hint,
			subject + " products services solutions platform technology architecture technical specifications performance benchmarks pricing model target customers industries use cases integrations roadmap" + hint,
		},
		funding: []string{
			subject + " funding history funding rounds seed series A series B venture capital equity financing grants government programs non-dilutive capital revenue ARR MRR headcount valuation" + hint,
		},
		deep: []string{
			subject + " patent filings patents EP US WO PCT regulatory filings SEC filing 10-K S-1 prospectus clinical trial phase manufacturing capacity throughput technical benchmark performance paper standard specification" + hint,
		},
		news: []string{
			subject + " recent news announcements product launches partnerships major customers strategic deals layoffs acquisitions IPO regulatory actions investigations" + hint,
			subject + " press release funding round grant contract government program clinical trial milestone manufacturing plant opening capacity expansion" + hint,
		},
	}
}

// capped enforces MaxExaQueries in priority order: site, funding, deep evidence, news.
func (q exaQueries) capped(limit int) exaQueries {
	take := func(in []string) []string {
		if limit <= 0 {
			return nil
		}
		if len(in) > limit {
			in = in[:limit]
		}
		limit -= len(in)
		return in
	}
	return exaQueries{
		site:    take(q.site),
		funding: take(q.funding),
		deep:    take(q.deep),
		news:    take(q.news),
	}
}

func companySteps(target types.TargetInput, caps types.Capabilities) []types.PlanStep {
	domain := target.Domain()
	name := target.CompanyName
	queries := buildExaQueries(target.Subject(), contextHint(target.Context)).capped(MaxExaQueries)

	var steps []types.PlanStep

	if len(queries.site) > 0 {
		params := types.StepParams{
			"mode":            "search",
			"queries":         queries.site,
			"category":        "company",
			"subpages":        3,
			"subpage_targets": siteSubpageTargets,
			"highlights_query": "Legal entity name, incorporation/registration date, jurisdiction, headquarters address, " +
				"registration numbers and identifiers, founding story or spin-out origin, leadership team and board, " +
				"products and services, target customers, pricing model, and technology stack or platform.",
		}
		if domain != "" {
			params["include_domains"] = []string{domain}
		}
		steps = append(steps, types.PlanStep{
			Name:        "search_exa_site",
			ConnectorID: types.ConnectorExa,
			Operation:   "search",
			Parameters:  params,
			SectionAffinity: []types.SectionName{
				types.SectionFoundingDetails, types.SectionFoundersAndLeadership,
				types.SectionProduct, types.SectionTechnology,
			},
		})
	}

	if len(queries.funding) > 0 {
		steps = append(steps, types.PlanStep{
			Name:        "search_exa_fundraising",
			ConnectorID: types.ConnectorExa,
			Operation:   "search",
			Parameters: types.StepParams{
				"mode":          "search",
				"queries":       queries.funding,
				"category":      "news",
				"lookback_days": FundingLookbackDays,
				"highlights_query": "Funding rounds, dates, amounts raised, lead and notable investors, valuation signals, " +
					"grants and non-dilutive funding, and any disclosed revenue, ARR, growth or headcount metrics.",
			},
			SectionAffinity: []types.SectionName{types.SectionFundraising},
		})
	}

	if len(queries.deep) > 0 {
		steps = append(steps, types.PlanStep{
			Name:        "search_exa_deep_evidence",
			ConnectorID: types.ConnectorExa,
			Operation:   "search",
			Parameters: types.StepParams{
				"mode":     "search",
				"queries":  queries.deep,
				"category": "company",
				"highlights_query": "Patent identifiers, regulatory filings, clinical trial IDs, technical specifications, " +
					"architectures, benchmarks, capacity or throughput figures.",
			},
			SectionAffinity: []types.SectionName{types.SectionTechnology, types.SectionProduct},
		})
	}

	if len(queries.news) > 0 {
		steps = append(steps, types.PlanStep{
			Name:        "search_exa_news",
			ConnectorID: types.ConnectorExa,
			Operation:   "search",
			Parameters: types.StepParams{
				"mode":          "search",
				"queries":       queries.news,
				"category":      "news",
				"lookback_days": NewsLookbackDays,
				"highlights_query": "Recent product launches, partnerships, major customer wins, regulatory events, " +
					"funding announcements, grants or contracts, layoffs, and M&A.",
			},
			SectionAffinity: []types.SectionName{types.SectionRecentNews},
		})
	}

	if name != "" || target.Website != "" {
		steps = append(steps, types.PlanStep{
			Name:        "openai_competitors",
			ConnectorID: types.ConnectorOpenAIWeb,
			Operation:   "competitors",
			Parameters: types.StepParams{
				"mode":         "competitors",
				"company_name": name,
				"website":      target.Website,
				"context":      target.Context,
			},
			SectionAffinity: []types.SectionName{types.SectionCompetitors},
		})
	}

	if name != "" {
		steps = append(steps, types.PlanStep{
			Name:            "companies_house_lookup",
			ConnectorID:     types.ConnectorCompaniesHouse,
			Operation:       "lookup",
			Parameters:      types.StepParams{"query": name},
			SectionAffinity: []types.SectionName{types.SectionFoundingDetails, types.SectionFoundersAndLeadership},
		})

		oc := types.StepParams{"company_name": name}
		if target.JurisdictionCode != "" {
			oc["jurisdiction_code"] = target.JurisdictionCode
		}
		if target.CountryCode != "" {
			oc["country_code"] = target.CountryCode
		}
		steps = append(steps, types.PlanStep{
			Name:            "open_corporates_lookup",
			ConnectorID:     types.ConnectorOpenCorporates,
			Operation:       "lookup",
			Parameters:      oc,
			SectionAffinity: []types.SectionName{types.SectionFoundingDetails},
		})
	}

	if name != "" || target.LEI != "" {
		gleif := types.StepParams{"company_name": name}
		if target.CountryCode != "" {
			gleif["country_code"] = target.CountryCode
		}
		if target.LEI != "" {
			gleif["lei"] = target.LEI
		}
		if domain != "" {
			gleif["company_domain"] = domain
		}
		steps = append(steps, types.PlanStep{
			Name:            "gleif_lookup",
			ConnectorID:     types.ConnectorGLEIF,
			Operation:       "lookup",
			Parameters:      gleif,
			SectionAffinity: []types.SectionName{types.SectionFoundingDetails},
		})
	}

	identity := types.StepParams{}
	if domain != "" {
		identity["company_domain"] = domain
	}
	if name != "" {
		identity["company_name"] = name
	}

	if len(identity) > 0 {
		steps = append(steps,
			types.PlanStep{
				Name:            "pdl_company_enrich",
				ConnectorID:     types.ConnectorPDLCompany,
				Operation:       "enrich",
				Parameters:      copyParams(identity),
				SectionAffinity: []types.SectionName{types.SectionFoundingDetails, types.SectionFundraising},
			},
			types.PlanStep{
				Name:            "pitchbook_fundraising",
				ConnectorID:     types.ConnectorPitchBook,
				Operation:       "deals",
				Parameters:      copyParams(identity),
				SectionAffinity: []types.SectionName{types.SectionFundraising},
			},
			peopleStep(identity, caps),
		)
	}

	if domain != "" {
		steps = append(steps, types.PlanStep{
			Name:        "website_fetch",
			ConnectorID: types.ConnectorWebsite,
			Operation:   "fetch",
			Parameters: types.StepParams{
				"url":   "https://" + domain,
				"pages": []string{"/", "/about"},
			},
			SectionAffinity: []types.SectionName{types.SectionProduct, types.SectionFoundingDetails},
		})
	}

	return steps
}

// peopleStep prefers PDL; Apollo is planned only when PDL is disabled.
func peopleStep(identity types.StepParams, caps types.Capabilities) types.PlanStep {
	if !caps.Enabled(types.ConnectorPDL) && caps.Enabled(types.ConnectorApollo) {
		return apolloPeopleStep(identity)
	}
	return types.PlanStep{
		Name:            "pdl_people_discovery",
		ConnectorID:     types.ConnectorPDL,
		Operation:       "people_search",
		Parameters:      copyParams(identity),
		SectionAffinity: []types.SectionName{types.SectionFoundersAndLeadership},
	}
}

func apolloPeopleStep(identity types.StepParams) types.PlanStep {
	return types.PlanStep{
		Name:            "apollo_people",
		ConnectorID:     types.ConnectorApollo,
		Operation:       "people_search",
		Parameters:      copyParams(identity),
		SectionAffinity: []types.SectionName{types.SectionFoundersAndLeadership},
	}
}

func personSteps(target types.TargetInput, caps types.Capabilities) []types.PlanStep {
	person := target.PersonName
	domain := target.Domain()
	company := target.CompanyName

	enrich := types.StepParams{"person_name": person}
	if company != "" {
		enrich["company_name"] = company
	}
	if domain != "" {
		enrich["company_domain"] = domain
	}

	subject := person
	if company != "" {
		subject += " " + company
	} else if domain != "" {
		subject += " " + domain
	}
	hint := contextHint(target.Context)

	identity := types.PlanStep{
		Name:            "pdl_person_enrich",
		ConnectorID:     types.ConnectorPDL,
		Operation:       "person_enrich",
		Parameters:      enrich,
		SectionAffinity: []types.SectionName{types.SectionPersonOverview, types.SectionCareerHistory},
	}
	if !caps.Enabled(types.ConnectorPDL) && caps.Enabled(types.ConnectorApollo) {
		identity.Name = "apollo_person_match"
		identity.ConnectorID = types.ConnectorApollo
		identity.Operation = "person_match"
	}

	return []types.PlanStep{
		identity,
		{
			Name:        "search_exa_person",
			ConnectorID: types.ConnectorExa,
			Operation:   "search",
			Parameters: types.StepParams{
				"mode": "search",
				"queries": []string{
					subject + " biography career background roles education" + hint,
					subject + " interview announcement news appointment" + hint,
				},
				"lookback_days": PersonNewsLookbackDays,
			},
			SectionAffinity: []types.SectionName{types.SectionPersonOverview, types.SectionRecentNews},
		},
		{
			Name:        "openai_person_profile",
			ConnectorID: types.ConnectorOpenAIWeb,
			Operation:   "person_profile",
			Parameters: types.StepParams{
				"mode":         "person_profile",
				"person_name":  person,
				"company_name": company,
				"website":      target.Website,
				"context":      target.Context,
			},
			SectionAffinity: []types.SectionName{types.SectionPersonOverview, types.SectionCareerHistory},
		},
	}
}

func copyParams(in types.StepParams) types.StepParams {
	out := make(types.StepParams, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
