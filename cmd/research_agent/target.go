package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

// targetFlags are the identity flags shared by run and plan
type targetFlags struct {
	targetType   string
	company      string
	person       string
	website      string
	context      string
	country      string
	jurisdiction string
	lei          string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.targetType, "type", "", "Target type: company or person (default inferred)")
	cmd.Flags().StringVarP(&f.company, "company", "c", "", "Company name")
	cmd.Flags().StringVarP(&f.person, "person", "p", "", "Person name")
	cmd.Flags().StringVarP(&f.website, "website", "w", "", "Company website or domain")
	cmd.Flags().StringVar(&f.context, "context", "", "Free-text context used to disambiguate the target")
	cmd.Flags().StringVar(&f.country, "country", "", "ISO 3166-1 alpha-2 country code")
	cmd.Flags().StringVar(&f.jurisdiction, "jurisdiction", "", "Registry jurisdiction code (e.g. gb, us_de)")
	cmd.Flags().StringVar(&f.lei, "lei", "", "Legal Entity Identifier")
}

// target returns the normalized, validated target input.
func (f *targetFlags) target() (types.TargetInput, error) {
	t := types.TargetInput{
		TargetType:       types.TargetType(f.targetType),
		CompanyName:      f.company,
		PersonName:       f.person,
		Website:          f.website,
		Context:          f.context,
		CountryCode:      f.country,
		JurisdictionCode: f.jurisdiction,
		LEI:              f.lei,
	}.Normalized()
	if err := t.Validate(); err != nil {
		return types.TargetInput{}, fmt.Errorf("invalid target: %w", err)
	}
	return t, nil
}
