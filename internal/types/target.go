// Package types provides type definitions for structured data used throughout the research pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"net/url"
	"strings"
)

// TargetType distinguishes company research from person research
type TargetType string

const (
	// TargetCompany researches an organization
	TargetCompany TargetType = "company"
	// TargetPerson researches an individual
	TargetPerson TargetType = "person"
)

// TargetInput is the user-supplied identifier for a research job
type TargetInput struct {
	TargetType       TargetType `json:"target_type" validate:"omitempty,oneof=company person"`
	CompanyName      string     `json:"company_name,omitempty" validate:"required_without_all=PersonName Website,max=200"`
	PersonName       string     `json:"person_name,omitempty" validate:"max=200"`
	Website          string     `json:"website,omitempty" validate:"omitempty,url|fqdn"`
	Context          string     `json:"context,omitempty" validate:"max=2000"`
	CountryCode      string     `json:"country_code,omitempty" validate:"omitempty,len=2"`
	JurisdictionCode string     `json:"jurisdiction_code,omitempty" validate:"omitempty,max=10"`
	LEI              string     `json:"lei,omitempty" validate:"omitempty,len=20,alphanum"`
}

// Normalized returns a copy with whitespace trimmed and the target type defaulted.
func (t TargetInput) Normalized() TargetInput {
	out := TargetInput{
		TargetType:       t.TargetType,
		CompanyName:      strings.TrimSpace(t.CompanyName),
		PersonName:       strings.TrimSpace(t.PersonName),
		Website:          strings.TrimSpace(t.Website),
		Context:          strings.Join(strings.Fields(t.Context), " "),
		CountryCode:      strings.ToUpper(strings.TrimSpace(t.CountryCode)),
		JurisdictionCode: strings.ToLower(strings.TrimSpace(t.JurisdictionCode)),
		LEI:              strings.ToUpper(strings.TrimSpace(t.LEI)),
	}
	if out.TargetType == "" {
		if out.PersonName != "" && out.CompanyName == "" {
			out.TargetType = TargetPerson
		} else {
			out.TargetType = TargetCompany
		}
	}
	return out
}

// IsPerson reports whether the job targets an individual
func (t TargetInput) IsPerson() bool {
	return t.TargetType == TargetPerson
}

// Domain returns the bare host of the website, without scheme, port or "www.".
func (t TargetInput) Domain() string {
	return ExtractDomain(t.Website)
}

// Subject is the phrase used to describe the target in search queries.
func (t TargetInput) Subject() string {
	name := t.CompanyName
	if t.IsPerson() {
		name = t.PersonName
	}
	domain := t.Domain()
	switch {
	case name != "" && domain != "" && !strings.EqualFold(name, domain):
		return name + " " + domain
	case name != "":
		return name
	case domain != "":
		return domain
	default:
		return "target company"
	}
}

// HasIdentity reports whether the input carries anything a connector can search for.
func (t TargetInput) HasIdentity() bool {
	return t.CompanyName != "" || t.PersonName != "" || t.Domain() != "" || t.LEI != ""
}

// ExtractDomain returns the lower-cased host of a URL or bare domain string.
func ExtractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
