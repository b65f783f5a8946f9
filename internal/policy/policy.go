// Package policy holds the per-section provider whitelist shared by the planner and the writer.
package policy

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

//go:embed sections.yaml
var defaultYAML []byte

// AnyProvider admits every provider
const AnyProvider = "*"

// Section is the source policy of one brief section
type Section struct {
	Name           types.SectionName `yaml:"name"`
	Providers      []string          `yaml:"providers"`
	NumericHeavy   bool              `yaml:"numeric_heavy"`
	RecentOnly     bool              `yaml:"recent_only"`
	PatentFilter   bool              `yaml:"patent_filter"`
	PreferRegistry bool              `yaml:"prefer_registry"`
	Reasoning      string            `yaml:"reasoning"`
}

// AllowsAll reports whether the section admits every provider
func (s Section) AllowsAll() bool {
	for _, p := range s.Providers {
		if p == AnyProvider {
			return true
		}
	}
	return false
}

// Allows reports whether a provider label may feed the section
func (s Section) Allows(provider string) bool {
	provider = NormalizeProvider(provider)
	for _, p := range s.Providers {
		if p == AnyProvider || p == provider {
			return true
		}
	}
	return false
}

// Table is the parsed policy, indexed by section name
type Table struct {
	order    []types.SectionName
	sections map[types.SectionName]Section
}

// LoadError is returned when a policy document cannot be parsed
type LoadError struct {
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

type document struct {
	Sections []Section `yaml:"sections"`
}

// Parse builds a table from YAML
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Message: "failed to parse section policy", Cause: err}
	}
	t := &Table{sections: make(map[types.SectionName]Section, len(doc.Sections))}
	for _, s := range doc.Sections {
		if s.Name == "" {
			return nil, &LoadError{Message: "section policy entry without name"}
		}
		if _, dup := t.sections[s.Name]; dup {
			return nil, &LoadError{Message: fmt.Sprintf("duplicate section policy %q", s.Name)}
		}
		if len(s.Providers) == 0 {
			return nil, &LoadError{Message: fmt.Sprintf("section %q lists no providers", s.Name)}
		}
		for i, p := range s.Providers {
			s.Providers[i] = NormalizeProvider(p)
		}
		t.order = append(t.order, s.Name)
		t.sections[s.Name] = s
	}
	return t, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded policy table. It panics if the embedded file is invalid.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(defaultYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// Section returns the policy for a section. Unknown sections admit nothing.
func (t *Table) Section(name types.SectionName) (Section, bool) {
	s, ok := t.sections[name]
	return s, ok
}

// Names returns section names in file order
func (t *Table) Names() []types.SectionName {
	return append([]types.SectionName(nil), t.order...)
}

// Allows reports whether a provider may feed a section
func (t *Table) Allows(section types.SectionName, provider string) bool {
	s, ok := t.sections[section]
	if !ok {
		return false
	}
	return s.Allows(provider)
}

// SectionsServedBy filters candidate sections to those that admit the connector's provider.
func (t *Table) SectionsServedBy(id types.ConnectorID, candidates []types.SectionName) []types.SectionName {
	var out []types.SectionName
	for _, sec := range candidates {
		if t.Allows(sec, id.Provider()) {
			out = append(out, sec)
		}
	}
	return out
}

// NormalizeProvider maps provider spellings to canonical labels.
func NormalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "companies house":
		return types.ProviderCompaniesHouse
	case "people data labs":
		return types.ProviderPDL
	case "open corporates", "opencorporates":
		return types.ProviderOpenCorporates
	case "pitch book":
		return types.ProviderPitchBook
	case "global legal entity identifier foundation":
		return types.ProviderGLEIF
	case "openai_web", "openai web":
		return types.ProviderOpenAIWeb
	case "pdl company":
		return types.ProviderPDLCompany
	}
	return p
}
