package types

import (
	"sort"
)

// ConnectorID identifies a data provider integration
type ConnectorID string

// Connector identifiers
const (
	ConnectorExa            ConnectorID = "exa"
	ConnectorGLEIF          ConnectorID = "gleif"
	ConnectorPDL            ConnectorID = "pdl"
	ConnectorPDLCompany     ConnectorID = "pdl_company"
	ConnectorApollo         ConnectorID = "apollo"
	ConnectorCompaniesHouse ConnectorID = "companies_house"
	ConnectorOpenCorporates ConnectorID = "open_corporates"
	ConnectorPitchBook      ConnectorID = "pitchbook"
	ConnectorOpenAIWeb      ConnectorID = "openai_web"
	ConnectorWebsite        ConnectorID = "website"
)

// Provider labels as they appear on Sources. They match the connector id except
// for the OpenAI web agent.
const (
	ProviderExa            = "exa"
	ProviderGLEIF          = "gleif"
	ProviderPDL            = "pdl"
	ProviderPDLCompany     = "pdl_company"
	ProviderApollo         = "apollo"
	ProviderCompaniesHouse = "companies_house"
	ProviderOpenCorporates = "open_corporates"
	ProviderPitchBook      = "pitchbook"
	ProviderOpenAIWeb      = "openai-web"
	ProviderWebsite        = "website"
)

// AllConnectors lists every known connector in a stable order.
func AllConnectors() []ConnectorID {
	return []ConnectorID{
		ConnectorExa,
		ConnectorGLEIF,
		ConnectorPDL,
		ConnectorPDLCompany,
		ConnectorApollo,
		ConnectorCompaniesHouse,
		ConnectorOpenCorporates,
		ConnectorPitchBook,
		ConnectorOpenAIWeb,
		ConnectorWebsite,
	}
}

// Provider returns the Source provider label for this connector.
func (c ConnectorID) Provider() string {
	if c == ConnectorOpenAIWeb {
		return ProviderOpenAIWeb
	}
	return string(c)
}

// IsRegistry reports whether the connector reads an authoritative legal-entity register.
func (c ConnectorID) IsRegistry() bool {
	switch c {
	case ConnectorGLEIF, ConnectorCompaniesHouse, ConnectorOpenCorporates:
		return true
	}
	return false
}

// Capabilities maps a connector to whether it is configured for use.
type Capabilities map[ConnectorID]bool

// NewCapabilities enables exactly the given connectors.
func NewCapabilities(ids ...ConnectorID) Capabilities {
	caps := make(Capabilities, len(ids))
	for _, id := range ids {
		caps[id] = true
	}
	return caps
}

// Enabled reports whether a connector may be planned.
func (c Capabilities) Enabled(id ConnectorID) bool {
	return c[id]
}

// List returns the enabled connectors sorted by id.
func (c Capabilities) List() []ConnectorID {
	out := make([]ConnectorID, 0, len(c))
	for id, ok := range c {
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
